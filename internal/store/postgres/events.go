package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"clinicqueue/internal/models"
	"clinicqueue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// recordEntryEvent appends to the entry's hash chain and queues the same
// change for the relay, inside the caller's transaction.
func recordEntryEvent(ctx context.Context, tx pgx.Tx, entry models.QueueEntry, eventType, actorID string, at time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.ID); err != nil {
		return errors.Wrap(err, "lock entry events")
	}

	var prev store.EntryEvent
	var prevHash sql.NullString
	err := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM queue_entry_events
		WHERE entry_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, entry.ID).Scan(&prev.Seq, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, "load last entry event")
	}
	prev.Hash = prevHash.String

	event, err := store.NewEntryEvent(prev, entry, eventType, actorID, at)
	if err != nil {
		return errors.Wrap(err, "build entry event")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_entry_events (entry_id, seq, type, actor_id, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.EntryID, event.Seq, event.Type, nullIfEmpty(actorID), string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash); err != nil {
		return errors.Wrap(err, "insert entry event")
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode outbox payload")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, service_id, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), eventType, entry.ServiceID, string(payload), at); err != nil {
		return errors.Wrap(err, "insert outbox event")
	}
	return nil
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, seq, type, actor_id, payload::text, created_at, prev_hash, hash
		FROM queue_entry_events
		WHERE entry_id = $1
		ORDER BY seq ASC
	`, entryID)
	if err != nil {
		return nil, errors.Wrap(err, "list entry events")
	}
	defer rows.Close()

	var events []store.EntryEvent
	for rows.Next() {
		var event store.EntryEvent
		var actorID sql.NullString
		var payload string
		if err := rows.Scan(&event.EntryID, &event.Seq, &event.Type, &actorID, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, errors.Wrap(err, "scan entry event")
		}
		event.ActorID = actorID.String
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	return events, errors.Wrap(rows.Err(), "iterate entry events")
}

// ClaimOutbox locks a batch of unpublished events, passes them to fn and
// marks them published when fn succeeds. Rows locked by another relay are
// skipped.
func (s *Store) ClaimOutbox(ctx context.Context, limit int, fn func([]store.OutboxEvent) error) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT event_id, type, service_id, payload_json::text, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY seq ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, errors.Wrap(err, "select outbox")
	}
	var events []store.OutboxEvent
	var ids []string
	for rows.Next() {
		var event store.OutboxEvent
		var payload string
		if err := rows.Scan(&event.EventID, &event.Type, &event.ServiceID, &payload, &event.CreatedAt); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan outbox event")
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
		ids = append(ids, event.EventID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "iterate outbox")
	}
	if len(events) == 0 {
		return 0, nil
	}

	if err := fn(events); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE event_id = ANY($1)`, ids); err != nil {
		return 0, errors.Wrap(err, "mark outbox published")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return len(events), nil
}

func (s *Store) PurgeOutbox(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`, before)
	if err != nil {
		return 0, errors.Wrap(err, "purge outbox")
	}
	return tag.RowsAffected(), nil
}
