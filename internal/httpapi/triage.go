package httpapi

import (
	"net/http"
	"strconv"

	"clinicqueue/internal/store"
	"clinicqueue/internal/triage"
)

type triageRequest struct {
	PatientID  string `json:"patient_id"`
	Score      int    `json:"score"`
	Notes      string `json:"notes"`
	ServiceID  string `json:"service_id"`
	AddToQueue bool   `json:"add_to_queue"`
}

func (h *Handler) handleRecordTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	result, err := h.triage.Record(r.Context(), triage.RecordInput{
		PatientID:  req.PatientID,
		TriagistID: actorID(r),
		Score:      req.Score,
		Notes:      req.Notes,
		ServiceID:  req.ServiceID,
		AddToQueue: req.AddToQueue,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListTriages(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 10)
	if !ok {
		return
	}
	input := triage.ListInput{PatientID: r.URL.Query().Get("patient_id"), Limit: limit}
	if raw := r.URL.Query().Get("score"); raw != "" {
		score, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, r, store.ValidationError{Fields: map[string]string{"score": "must be an integer"}})
			return
		}
		input.Score = score
	}
	triages, err := h.triage.List(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, triages)
}

func (h *Handler) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	detail, err := h.triage.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleDeleteTriage(w http.ResponseWriter, r *http.Request) {
	if err := h.triage.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
