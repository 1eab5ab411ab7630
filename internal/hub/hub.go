// Package hub fans queue events out to connected display clients.
package hub

import (
	"encoding/json"
	"expvar"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var droppedMessages = expvar.NewInt("hub_dropped_messages")

// Subscription narrows the events a client receives. The zero value receives
// everything.
type Subscription struct {
	ServiceID string
}

// Event is the envelope sent to display clients and carried over Redis and
// Kafka between instances.
type Event struct {
	Type      string          `json:"type"`
	ServiceID string          `json:"service_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	ServiceID string `json:"service_id"`
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish encodes the event once and hands it to every matching client. A
// client whose buffer is full misses the event rather than blocking the
// others.
func (h *Hub) Publish(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(payload, Subscription{ServiceID: event.ServiceID})
	return nil
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			droppedMessages.Add(1)
			h.logger.Warn().Str("client_id", client.ID).Msg("drop message for slow client")
		}
	}
}

func match(sub Subscription, meta Subscription) bool {
	if sub.ServiceID != "" && meta.ServiceID != sub.ServiceID {
		return false
	}
	return true
}

// ParseSubscribe accepts subscribe and unsubscribe control messages and
// ignores anything else a client sends.
func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
