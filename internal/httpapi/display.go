package httpapi

import (
	"net/http"

	"clinicqueue/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const clientBuffer = 16

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	board, err := h.queue.Display(r.Context(), r.URL.Query().Get("service_id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// displayStream pushes queue events to waiting room screens. Clients start
// with every service and narrow the feed with a subscribe message.
func (h *Handler) displayStream() http.Handler {
	return sockjs.NewHandler("/display/stream", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, clientBuffer)}
		h.hub.Register(client)
		defer h.hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.hub.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.hub.UpdateSubscription(client, hub.Subscription{ServiceID: parsed.ServiceID})
		}
	})
}
