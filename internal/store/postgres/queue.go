package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"clinicqueue/internal/models"
	"clinicqueue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var (
	_ store.Store       = (*Store)(nil)
	_ store.OutboxStore = (*Store)(nil)
)

// patientLockSpace keeps per-patient advisory locks apart from the per-entry
// locks taken when chaining events.
const patientLockSpace = 1

const entryColumns = `id, request_id, patient_id, service_id, priority, status, arrived_at, called_at, started_at, finished_at, created_by, updated_at`

func scanEntry(row rowScanner) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var requestID sql.NullString
	var calledAt, startedAt, finishedAt sql.NullTime
	var createdBy sql.NullString
	if err := row.Scan(&entry.ID, &requestID, &entry.PatientID, &entry.ServiceID, &entry.Priority, &entry.Status,
		&entry.ArrivedAt, &calledAt, &startedAt, &finishedAt, &createdBy, &entry.UpdatedAt); err != nil {
		return models.QueueEntry{}, err
	}
	entry.RequestID = requestID.String
	entry.ArrivedAt = entry.ArrivedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	entry.CalledAt = nullTimePtr(calledAt)
	entry.StartedAt = nullTimePtr(startedAt)
	entry.FinishedAt = nullTimePtr(finishedAt)
	entry.CreatedBy = nullStringPtr(createdBy)
	return entry, nil
}

func (s *Store) PatientExists(ctx context.Context, patientID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, patientID).Scan(&exists)
	return exists, errors.Wrap(err, "check patient")
}

func (s *Store) ServiceExists(ctx context.Context, serviceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM services WHERE id = $1)`, serviceID).Scan(&exists)
	return exists, errors.Wrap(err, "check service")
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry, created, err := insertEntry(ctx, tx, input)
	if err != nil || !created {
		return entry, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "commit")
	}
	return entry, true, nil
}

// CreateEntryUnlessActive serializes on the patient with a transaction-scoped
// advisory lock, so the active lookup and the insert cannot interleave with
// another caller for the same patient.
func (s *Store) CreateEntryUnlessActive(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1::int, hashtext($2))`, patientLockSpace, input.PatientID); err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "lock patient")
	}
	existing, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE patient_id = $1 AND status = ANY($2)
		ORDER BY arrived_at ASC
		LIMIT 1
	`, input.PatientID, statusStrings(models.ActiveStatuses)))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.QueueEntry{}, false, errors.Wrap(err, "find active entry")
	}

	entry, created, err := insertEntry(ctx, tx, input)
	if err != nil || !created {
		return entry, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "commit")
	}
	return entry, true, nil
}

// insertEntry writes the waiting row and its enqueued event. A replayed
// request id returns the stored entry with created false.
func insertEntry(ctx context.Context, tx pgx.Tx, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (id, request_id, patient_id, service_id, priority, status, arrived_at, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $7)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+entryColumns,
		uuid.NewString(), nullIfEmpty(input.RequestID), input.PatientID, input.ServiceID, input.Priority,
		models.StatusWaiting, input.ArrivedAt, nullIfEmpty(input.CreatedBy))
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE request_id = $1`, input.RequestID))
		if err != nil {
			return models.QueueEntry{}, false, errors.Wrap(err, "load replayed entry")
		}
		return existing, false, nil
	}
	if err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "insert entry")
	}
	if err := recordEntryEvent(ctx, tx, entry, store.EventEnqueued, input.CreatedBy, input.ArrivedAt); err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, bool, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = $1`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QueueEntry{}, false, nil
	}
	if err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "get entry")
	}
	return entry, true, nil
}

// TransitionEntry applies the action with a conditional update on the
// expected source statuses. When no row changes, the current row is read to
// tell a missing entry from one in the wrong state.
func (s *Store) TransitionEntry(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	if !input.Action.Valid() {
		return models.QueueEntry{}, store.ValidationError{Fields: map[string]string{"action": "unknown action"}}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `UPDATE queue_entries SET status = $1, updated_at = $2`
	if column := store.TimestampColumn(input.Action); column != "" {
		query += fmt.Sprintf(", %s = $2", column)
	}
	query += ` WHERE id = $3 AND status = ANY($4) RETURNING ` + entryColumns

	entry, err := scanEntry(tx.QueryRow(ctx, query,
		store.TargetStatus(input.Action), input.OccurredAt, input.EntryID, statusStrings(store.SourceStatuses(input.Action))))
	if errors.Is(err, pgx.ErrNoRows) {
		status, exists, err := loadEntryStatus(ctx, tx, input.EntryID)
		if err != nil {
			return models.QueueEntry{}, err
		}
		if !exists {
			return models.QueueEntry{}, store.NotFoundError{Resource: "queue entry", ID: input.EntryID}
		}
		return models.QueueEntry{}, store.InvalidStateError{EntryID: input.EntryID, Action: input.Action, Status: status}
	}
	if err != nil {
		return models.QueueEntry{}, errors.Wrapf(err, "%s entry", input.Action)
	}

	if err := recordEntryEvent(ctx, tx, entry, store.EventTypeFor(input.Action), input.ActorID, input.OccurredAt); err != nil {
		return models.QueueEntry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "commit")
	}
	return entry, nil
}

// ClaimNext locks the best waiting row, skipping rows another transaction
// already holds, and marks it called in the same statement.
func (s *Store) ClaimNext(ctx context.Context, input store.ClaimNextInput) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		WITH next_entry AS (
			SELECT id
			FROM queue_entries
			WHERE status = $1 AND ($2::text = '' OR service_id = $2::text)
			ORDER BY priority ASC, arrived_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_entries q
		SET status = $3, called_at = $4, updated_at = $4
		FROM next_entry
		WHERE q.id = next_entry.id AND q.status = $1
		RETURNING q.id, q.request_id, q.patient_id, q.service_id, q.priority, q.status, q.arrived_at,
			q.called_at, q.started_at, q.finished_at, q.created_by, q.updated_at
	`, models.StatusWaiting, input.ServiceID, models.StatusCalled, input.CalledAt)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QueueEntry{}, false, nil
	}
	if err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "claim next entry")
	}

	if err := recordEntryEvent(ctx, tx, entry, store.EventCalled, input.ActorID, input.CalledAt); err != nil {
		return models.QueueEntry{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, errors.Wrap(err, "commit")
	}
	return entry, true, nil
}

func (s *Store) ListActive(ctx context.Context, filter store.ActiveFilter) ([]models.ActiveEntry, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = models.ActiveStatuses
	}
	rows, err := s.pool.Query(ctx, `
		SELECT q.id, q.request_id, q.patient_id, q.service_id, q.priority, q.status, q.arrived_at,
			q.called_at, q.started_at, q.finished_at, q.created_by, q.updated_at,
			p.name, p.document, s.name
		FROM queue_entries q
		JOIN patients p ON p.id = q.patient_id
		JOIN services s ON s.id = q.service_id
		WHERE q.status = ANY($1) AND ($2::text = '' OR q.service_id = $2::text)
		ORDER BY q.priority ASC, q.arrived_at ASC
	`, statusStrings(statuses), filter.ServiceID)
	if err != nil {
		return nil, errors.Wrap(err, "list active entries")
	}
	defer rows.Close()

	var entries []models.ActiveEntry
	for rows.Next() {
		var item models.ActiveEntry
		var requestID, createdBy, document sql.NullString
		var calledAt, startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&item.ID, &requestID, &item.PatientID, &item.ServiceID, &item.Priority, &item.Status,
			&item.ArrivedAt, &calledAt, &startedAt, &finishedAt, &createdBy, &item.UpdatedAt,
			&item.Patient.Name, &document, &item.Service.Name); err != nil {
			return nil, errors.Wrap(err, "scan active entry")
		}
		item.RequestID = requestID.String
		item.ArrivedAt = item.ArrivedAt.UTC()
		item.UpdatedAt = item.UpdatedAt.UTC()
		item.CalledAt = nullTimePtr(calledAt)
		item.StartedAt = nullTimePtr(startedAt)
		item.FinishedAt = nullTimePtr(finishedAt)
		item.CreatedBy = nullStringPtr(createdBy)
		item.Patient.ID = item.PatientID
		item.Patient.Document = nullStringPtr(document)
		item.Service.ID = item.ServiceID
		entries = append(entries, item)
	}
	return entries, errors.Wrap(rows.Err(), "iterate active entries")
}

func loadEntryStatus(ctx context.Context, q querier, entryID string) (models.Status, bool, error) {
	var status models.Status
	err := q.QueryRow(ctx, `SELECT status FROM queue_entries WHERE id = $1`, entryID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "load entry status")
	}
	return status, true, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
