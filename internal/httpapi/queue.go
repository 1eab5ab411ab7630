package httpapi

import (
	"context"
	"net/http"
	"strings"

	"clinicqueue/internal/models"
	"clinicqueue/internal/queue"
)

type enqueueRequest struct {
	RequestID string `json:"request_id"`
	PatientID string `json:"patient_id"`
	ServiceID string `json:"service_id"`
	Priority  *int   `json:"priority"`
}

// handleEnqueue answers 201 for a new entry and 200 when request_id replays an
// earlier enqueue.
func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}
	entry, created, err := h.queue.Enqueue(r.Context(), queue.EnqueueInput{
		RequestID: strings.TrimSpace(req.RequestID),
		PatientID: req.PatientID,
		ServiceID: req.ServiceID,
		Priority:  req.Priority,
		CreatedBy: actorID(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, entry)
}

func (h *Handler) handleListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.ListActive(r.Context(), r.URL.Query().Get("service_id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleScreening(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.ListScreening(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handlePeek(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queue.Peek(r.Context(), r.URL.Query().Get("service_id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type callNextRequest struct {
	ServiceID string `json:"service_id"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	var req callNextRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	if req.ServiceID == "" {
		req.ServiceID = r.URL.Query().Get("service_id")
	}
	entry, err := h.queue.CallNext(r.Context(), req.ServiceID, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.queue.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type transitionFunc func(ctx context.Context, entryID, actorID string) (models.QueueEntry, error)

func (h *Handler) transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := fn(r.Context(), r.PathValue("id"), actorID(r))
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}
