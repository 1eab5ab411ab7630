package postgres

import (
	"context"
	"database/sql"
	"time"

	"clinicqueue/internal/models"

	"github.com/pkg/errors"
)

func (s *Store) Summary(ctx context.Context, now time.Time) (models.Summary, error) {
	start, end := dayBounds(now)
	var summary models.Summary
	var avgWait, avgService sql.NullFloat64
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM patients),
			(SELECT COUNT(*) FROM queue_entries WHERE status = ANY($1)),
			(SELECT COUNT(*) FROM queue_entries WHERE finished_at >= $2 AND finished_at < $3),
			(SELECT (AVG(EXTRACT(EPOCH FROM (called_at - arrived_at))) / 60)::float8
				FROM queue_entries WHERE called_at IS NOT NULL),
			(SELECT (AVG(EXTRACT(EPOCH FROM (finished_at - started_at))) / 60)::float8
				FROM queue_entries WHERE finished_at IS NOT NULL AND started_at IS NOT NULL)
	`, statusStrings(models.ActiveStatuses), start, end).Scan(
		&summary.TotalPatients, &summary.ActiveQueue, &summary.PatientsServedToday, &avgWait, &avgService)
	if err != nil {
		return models.Summary{}, errors.Wrap(err, "summary")
	}
	summary.AverageWaitMinutes = nullFloatPtr(avgWait)
	summary.AverageServiceMinutes = nullFloatPtr(avgService)
	return summary, nil
}

func (s *Store) StatusCounts(ctx context.Context) (models.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM queue_entries GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "status counts")
	}
	defer rows.Close()

	counts := models.StatusCounts{}
	for _, status := range models.AllStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var status models.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "scan status count")
		}
		counts[status] = count
	}
	return counts, errors.Wrap(rows.Err(), "iterate status counts")
}

func (s *Store) DailyStats(ctx context.Context, day time.Time) (models.DailyStats, error) {
	start, end := dayBounds(day)
	stats := models.DailyStats{Date: start.Format("2006-01-02")}
	var avgWait, avgService sql.NullFloat64
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM patients WHERE created_at >= $1 AND created_at < $2),
			(SELECT COUNT(*) FROM triages WHERE created_at >= $1 AND created_at < $2),
			(SELECT COUNT(*) FROM queue_entries WHERE finished_at >= $1 AND finished_at < $2),
			(SELECT COUNT(*) FROM queue_entries WHERE status = ANY($3)),
			(SELECT (AVG(EXTRACT(EPOCH FROM (called_at - arrived_at))) / 60)::float8
				FROM queue_entries WHERE called_at >= $1 AND called_at < $2),
			(SELECT (AVG(EXTRACT(EPOCH FROM (finished_at - started_at))) / 60)::float8
				FROM queue_entries WHERE finished_at >= $1 AND finished_at < $2 AND started_at IS NOT NULL)
	`, start, end, statusStrings(models.ActiveStatuses)).Scan(
		&stats.PatientsRegistered, &stats.TriagesPerformed, &stats.PatientsServed, &stats.PatientsInQueue, &avgWait, &avgService)
	if err != nil {
		return models.DailyStats{}, errors.Wrap(err, "daily stats")
	}
	stats.AverageWaitMinutes = nullFloatPtr(avgWait)
	stats.AverageServiceMinutes = nullFloatPtr(avgService)
	return stats, nil
}

func (s *Store) ServiceStats(ctx context.Context) ([]models.ServiceStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.name,
			COUNT(q.id),
			COUNT(q.id) FILTER (WHERE q.status = ANY($1)),
			COUNT(q.id) FILTER (WHERE q.status = 'finished'),
			((AVG(EXTRACT(EPOCH FROM (q.called_at - q.arrived_at))) FILTER (WHERE q.called_at IS NOT NULL)) / 60)::float8
		FROM services s
		LEFT JOIN queue_entries q ON q.service_id = s.id
		GROUP BY s.id, s.name
		ORDER BY s.name ASC
	`, statusStrings(models.ActiveStatuses))
	if err != nil {
		return nil, errors.Wrap(err, "service stats")
	}
	defer rows.Close()

	stats := []models.ServiceStats{}
	for rows.Next() {
		var row models.ServiceStats
		var avgWait sql.NullFloat64
		if err := rows.Scan(&row.ServiceID, &row.ServiceName, &row.TotalEntries, &row.ActiveEntries, &row.FinishedEntries, &avgWait); err != nil {
			return nil, errors.Wrap(err, "scan service stats")
		}
		row.AverageWaitMinutes = nullFloatPtr(avgWait)
		stats = append(stats, row)
	}
	return stats, errors.Wrap(rows.Err(), "iterate service stats")
}

func (s *Store) ExportEntries(ctx context.Context, from, to time.Time) ([]models.ExportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.id, p.name, s.name, q.priority, q.status, q.arrived_at, q.called_at, q.started_at, q.finished_at
		FROM queue_entries q
		JOIN patients p ON p.id = q.patient_id
		JOIN services s ON s.id = q.service_id
		WHERE q.arrived_at >= $1 AND q.arrived_at <= $2
		ORDER BY q.arrived_at ASC
	`, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "export entries")
	}
	defer rows.Close()

	var out []models.ExportRow
	for rows.Next() {
		var row models.ExportRow
		var calledAt, startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&row.EntryID, &row.PatientName, &row.ServiceName, &row.Priority, &row.Status,
			&row.ArrivedAt, &calledAt, &startedAt, &finishedAt); err != nil {
			return nil, errors.Wrap(err, "scan export row")
		}
		row.ArrivedAt = row.ArrivedAt.UTC()
		row.CalledAt = nullTimePtr(calledAt)
		row.StartedAt = nullTimePtr(startedAt)
		row.FinishedAt = nullTimePtr(finishedAt)
		out = append(out, row)
	}
	return out, errors.Wrap(rows.Err(), "iterate export rows")
}
