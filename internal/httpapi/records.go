package httpapi

import (
	"net/http"
	"strconv"

	"clinicqueue/internal/store"
)

const maxListLimit = 500

func (h *Handler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 100)
	if !ok {
		return
	}
	patients, err := h.store.ListPatients(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

func (h *Handler) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	input, err := req.validate(h.now())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	input.CreatedBy = actorID(r)
	patient, err := h.store.CreatePatient(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, patient)
}

func (h *Handler) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	patient, found, err := h.store.GetPatient(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !found {
		h.respondError(w, r, store.NotFoundError{Resource: "patient", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patientRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	input, err := req.validate(h.now())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	patient, found, err := h.store.UpdatePatient(r.Context(), id, input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !found {
		h.respondError(w, r, store.NotFoundError{Resource: "patient", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.store.DeletePatient(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !deleted {
		h.respondError(w, r, store.NotFoundError{Resource: "patient", ID: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePatientTriages(w http.ResponseWriter, r *http.Request) {
	triages, err := h.triage.ListByPatient(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, triages)
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	input, err := req.validate()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	service, err := h.store.CreateService(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, service)
}

func (h *Handler) handleGetService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	service, found, err := h.store.GetService(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !found {
		h.respondError(w, r, store.NotFoundError{Resource: "service", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, service)
}

func (h *Handler) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req serviceRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	input, err := req.validate()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	service, found, err := h.store.UpdateService(r.Context(), id, input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !found {
		h.respondError(w, r, store.NotFoundError{Resource: "service", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, service)
}

func (h *Handler) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.store.DeleteService(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !deleted {
		h.respondError(w, r, store.NotFoundError{Resource: "service", ID: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	input, err := req.validate()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	user, err := h.store.CreateUser(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeErrorBody(w, r, http.StatusUnprocessableEntity, responseError{
			Code: "validation_error", Message: "the given data was invalid",
			Fields: map[string]string{"limit": "must be between 1 and 500"},
		})
		return 0, false
	}
	return limit, true
}
