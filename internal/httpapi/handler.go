package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"net/http"
	"reflect"
	"time"

	"clinicqueue/internal/auth"
	"clinicqueue/internal/hub"
	"clinicqueue/internal/models"
	"clinicqueue/internal/queue"
	"clinicqueue/internal/store"
	"clinicqueue/internal/triage"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Store is the record-keeping surface the handlers need beyond the queue and
// triage services.
type Store interface {
	store.PatientStore
	store.ServiceStore
	store.UserStore
	store.StatsStore
	CountTriages(ctx context.Context) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	queue   *queue.Service
	triage  *triage.Service
	store   Store
	issuer  *auth.Issuer
	revoker auth.Revoker
	hub     *hub.Hub
	pinger  Pinger
	limiter *RateLimiter
	logger  zerolog.Logger
	now     func() time.Time
}

type Options struct {
	Queue   *queue.Service
	Triage  *triage.Service
	Store   Store
	Issuer  *auth.Issuer
	Revoker auth.Revoker
	Hub     *hub.Hub
	Pinger  Pinger
	Limiter *RateLimiter
	Logger  zerolog.Logger
	Now     func() time.Time
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		queue:   opts.Queue,
		triage:  opts.Triage,
		store:   opts.Store,
		issuer:  opts.Issuer,
		revoker: opts.Revoker,
		hub:     opts.Hub,
		pinger:  opts.Pinger,
		limiter: opts.Limiter,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.revoker == nil {
		h.revoker = auth.NewMemoryRevoker()
	}
	if h.limiter == nil {
		h.limiter = NewRateLimiter(RateLimitConfig{})
	}
	return h
}

var (
	anyone   []models.Function
	triagist = []models.Function{models.FunctionTriagist}
	doctor   = []models.Function{models.FunctionDoctor}
	admin    = []models.Function{models.FunctionAdmin}
)

// Routes returns the full API wrapped in request id, logging and rate limit
// middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", expvar.Handler())
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /display", h.handleDisplay)
	if h.hub != nil {
		mux.Handle("/display/stream/", h.displayStream())
	}

	mux.Handle("POST /auth/logout", h.protect(anyone, h.handleLogout))
	mux.Handle("GET /auth/me", h.protect(anyone, h.handleMe))

	mux.Handle("POST /queue", h.protect(triagist, h.handleEnqueue))
	mux.Handle("GET /queue", h.protect(anyone, h.handleListQueue))
	mux.Handle("GET /queue/screening", h.protect(triagist, h.handleScreening))
	mux.Handle("GET /queue/next", h.protect(doctor, h.handlePeek))
	mux.Handle("POST /queue/call-next", h.protect(doctor, h.handleCallNext))
	mux.Handle("GET /queue/{id}", h.protect(anyone, h.handleGetEntry))
	mux.Handle("GET /queue/{id}/history", h.protect(anyone, h.handleHistory))
	mux.Handle("POST /queue/{id}/call", h.protect(doctor, h.transitionHandler(h.queue.Call)))
	mux.Handle("POST /queue/{id}/start", h.protect(doctor, h.transitionHandler(h.queue.Start)))
	mux.Handle("POST /queue/{id}/finish", h.protect(doctor, h.transitionHandler(h.queue.Finish)))
	mux.Handle("POST /queue/{id}/cancel", h.protect(triagist, h.transitionHandler(h.queue.Cancel)))

	mux.Handle("GET /patients", h.protect(anyone, h.handleListPatients))
	mux.Handle("POST /patients", h.protect(triagist, h.handleCreatePatient))
	mux.Handle("GET /patients/{id}", h.protect(anyone, h.handleGetPatient))
	mux.Handle("PUT /patients/{id}", h.protect(triagist, h.handleUpdatePatient))
	mux.Handle("DELETE /patients/{id}", h.protect(admin, h.handleDeletePatient))
	mux.Handle("GET /patients/{id}/triages", h.protect(anyone, h.handlePatientTriages))

	mux.Handle("GET /services", h.protect(anyone, h.handleListServices))
	mux.Handle("POST /services", h.protect(admin, h.handleCreateService))
	mux.Handle("GET /services/{id}", h.protect(anyone, h.handleGetService))
	mux.Handle("PUT /services/{id}", h.protect(admin, h.handleUpdateService))
	mux.Handle("DELETE /services/{id}", h.protect(admin, h.handleDeleteService))

	mux.Handle("POST /triages", h.protect(triagist, h.handleRecordTriage))
	mux.Handle("GET /triages", h.protect(anyone, h.handleListTriages))
	mux.Handle("GET /triages/{id}", h.protect(anyone, h.handleGetTriage))
	mux.Handle("DELETE /triages/{id}", h.protect(admin, h.handleDeleteTriage))

	mux.Handle("GET /dashboard", h.protect(anyone, h.handleRoleDashboard))
	mux.Handle("GET /dashboard/summary", h.protect(anyone, h.handleSummary))
	mux.Handle("GET /dashboard/status", h.protect(anyone, h.handleStatusCounts))
	mux.Handle("GET /dashboard/daily", h.protect(anyone, h.handleDailyStats))
	mux.Handle("GET /dashboard/services", h.protect(anyone, h.handleServiceStats))
	mux.Handle("GET /dashboard/export", h.protect(anyone, h.handleExport))

	mux.Handle("GET /users", h.protect(admin, h.handleListUsers))
	mux.Handle("POST /users", h.protect(admin, h.handleCreateUser))

	return RequestIDMiddleware(LoggingMiddleware(h.logger, h.limiter.Middleware(mux)))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.Error().Err(err).Msg("health check")
			writeError(w, r, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  models.Status     `json:"status,omitempty"`
}

// decodeRequest reads a JSON body into target, rejecting unknown fields. An
// empty body is accepted when allowEmpty is set.
func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}, allowEmpty bool) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			writeErrorBody(w, r, http.StatusUnprocessableEntity, responseError{
				Code:    "validation_error",
				Message: "the given data was invalid",
				Fields:  map[string]string{typeErr.Field: "must be " + jsonKind(typeErr.Type)},
			})
			return false
		}
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func jsonKind(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "an array"
	default:
		return "an object"
	}
}

// respondError maps domain errors onto the HTTP error body. Anything it does
// not recognise is logged and reported as an internal error.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr store.ValidationError
	var stateErr store.InvalidStateError
	switch {
	case errors.As(err, &verr):
		writeErrorBody(w, r, http.StatusUnprocessableEntity, responseError{
			Code: "validation_error", Message: "the given data was invalid", Fields: verr.Fields,
		})
	case errors.As(err, &stateErr):
		writeErrorBody(w, r, http.StatusConflict, responseError{
			Code: "invalid_state", Message: stateErr.Error(), Status: stateErr.Status,
		})
	case errors.Is(err, store.ErrEmptyQueue):
		writeError(w, r, http.StatusNotFound, "queue_empty", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, "canceled", "request canceled")
	default:
		h.logger.Error().Err(err).Str("request_id", requestIDFromContext(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorBody(w, r, status, responseError{Code: code, Message: message})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, body responseError) {
	writeJSON(w, status, errorResponse{RequestID: requestIDFromContext(r.Context()), Error: body})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
