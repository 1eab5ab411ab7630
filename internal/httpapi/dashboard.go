package httpapi

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicqueue/internal/models"
	"clinicqueue/internal/store"
)

const (
	dashboardRecentLimit = 10
	defaultExportWindow  = 7 * 24 * time.Hour
)

// handleRoleDashboard returns the dashboard matching the caller's function.
func (h *Handler) handleRoleDashboard(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	var (
		payload interface{}
		err     error
	)
	switch claims.Function {
	case models.FunctionAdmin:
		payload, err = h.adminDashboard(r)
	case models.FunctionTriagist:
		payload, err = h.triagistDashboard(r)
	case models.FunctionDoctor:
		payload, err = h.doctorDashboard(r)
	default:
		writeError(w, r, http.StatusForbidden, "forbidden", "unknown function")
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) adminDashboard(r *http.Request) (models.AdminDashboard, error) {
	ctx := r.Context()
	summary, err := h.store.Summary(ctx, h.now())
	if err != nil {
		return models.AdminDashboard{}, err
	}
	counts, err := h.store.StatusCounts(ctx)
	if err != nil {
		return models.AdminDashboard{}, err
	}
	services, err := h.store.ServiceStats(ctx)
	if err != nil {
		return models.AdminDashboard{}, err
	}
	recent, err := h.store.RecentPatients(ctx, dashboardRecentLimit)
	if err != nil {
		return models.AdminDashboard{}, err
	}
	return models.AdminDashboard{Summary: summary, QueueStatus: counts, Services: services, RecentPatients: recent}, nil
}

func (h *Handler) triagistDashboard(r *http.Request) (models.TriagistDashboard, error) {
	ctx := r.Context()
	screening, err := h.queue.ListScreening(ctx)
	if err != nil {
		return models.TriagistDashboard{}, err
	}
	recent, err := h.triage.ListRecent(ctx, dashboardRecentLimit)
	if err != nil {
		return models.TriagistDashboard{}, err
	}
	total, err := h.store.CountTriages(ctx)
	if err != nil {
		return models.TriagistDashboard{}, err
	}
	return models.TriagistDashboard{Screening: screening, RecentTriages: recent, TotalTriages: total}, nil
}

func (h *Handler) doctorDashboard(r *http.Request) (models.DoctorDashboard, error) {
	ctx := r.Context()
	current, err := h.queue.ListInProgress(ctx)
	if err != nil {
		return models.DoctorDashboard{}, err
	}
	recent, err := h.store.RecentPatients(ctx, dashboardRecentLimit)
	if err != nil {
		return models.DoctorDashboard{}, err
	}
	counts, err := h.store.StatusCounts(ctx)
	if err != nil {
		return models.DoctorDashboard{}, err
	}
	return models.DoctorDashboard{CurrentQueue: current, RecentPatients: recent, Counts: counts}, nil
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Summary(r.Context(), h.now())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.StatusCounts(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	day := h.now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			h.respondError(w, r, store.ValidationError{Fields: map[string]string{"date": "must be a YYYY-MM-DD date"}})
			return
		}
		day = parsed
	}
	stats, err := h.store.DailyStats(r.Context(), day)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleServiceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ServiceStats(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleExport writes queue entries that arrived within [from, to] as CSV.
// Both bounds accept RFC 3339 or a plain date; the default is the last seven
// days.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	var verr store.ValidationError
	to, ok := parseBound(r.URL.Query().Get("to"), now, true)
	if !ok {
		verr.Add("to", "must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	from, ok := parseBound(r.URL.Query().Get("from"), to.Add(-defaultExportWindow), false)
	if !ok {
		verr.Add("from", "must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	if len(verr.Fields) == 0 && from.After(to) {
		verr.Add("from", "must not be after to")
	}
	if err := verr.Err(); err != nil {
		h.respondError(w, r, err)
		return
	}

	rows, err := h.store.ExportEntries(r.Context(), from, to)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=queue-report.csv")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"entry_id", "patient_name", "service_name", "priority", "status", "arrived_at", "called_at", "started_at", "finished_at"})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.EntryID,
			row.PatientName,
			row.ServiceName,
			strconv.Itoa(row.Priority),
			string(row.Status),
			row.ArrivedAt.Format(time.RFC3339),
			formatTime(row.CalledAt),
			formatTime(row.StartedAt),
			formatTime(row.FinishedAt),
		})
	}
	writer.Flush()
}

// parseBound parses an export bound. A bare date used as the upper bound
// covers the whole day.
func parseBound(raw string, fallback time.Time, upper bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	if upper {
		return day.Add(24*time.Hour - time.Nanosecond), true
	}
	return day, true
}

func formatTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
