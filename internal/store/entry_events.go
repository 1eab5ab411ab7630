package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"clinicqueue/internal/models"

	"github.com/pkg/errors"
)

const (
	EventEnqueued = "queue.enqueued"
	EventCalled   = "queue.called"
	EventStarted  = "queue.started"
	EventFinished = "queue.finished"
	EventCanceled = "queue.canceled"
)

type EntryEvent struct {
	EntryID   string          `json:"entry_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	ServiceID string          `json:"service_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func ComputeEntryEventHash(prevHash, entryID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entryID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NewEntryEvent builds the next link of an entry's event chain from the
// previous link (zero value for the first event). CreatedAt is truncated to
// microseconds so the hash survives a Postgres timestamptz round trip.
func NewEntryEvent(prev EntryEvent, entry models.QueueEntry, eventType, actorID string, at time.Time) (EntryEvent, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return EntryEvent{}, err
	}
	event := EntryEvent{
		EntryID:   entry.ID,
		Seq:       prev.Seq + 1,
		Type:      eventType,
		ActorID:   actorID,
		Payload:   payload,
		CreatedAt: at.UTC().Truncate(time.Microsecond),
		PrevHash:  prev.Hash,
	}
	event.Hash = ComputeEntryEventHash(event.PrevHash, event.EntryID, event.Type, event.Payload, event.CreatedAt, event.Seq)
	return event, nil
}

// VerifyChain checks sequence numbers and hash links of one entry's events.
func VerifyChain(events []EntryEvent) error {
	prevHash := ""
	for i, event := range events {
		if event.Seq != i+1 {
			return errors.Errorf("event %d: expected seq %d, got %d", i, i+1, event.Seq)
		}
		if event.PrevHash != prevHash {
			return errors.Errorf("event %d: broken link", event.Seq)
		}
		want := ComputeEntryEventHash(event.PrevHash, event.EntryID, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if want != event.Hash {
			return errors.Errorf("event %d: hash mismatch", event.Seq)
		}
		prevHash = event.Hash
	}
	return nil
}

func ReplayEntry(events []EntryEvent) (models.QueueEntry, error) {
	var entry models.QueueEntry
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var snapshot models.QueueEntry
		if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
			return models.QueueEntry{}, err
		}
		if snapshot.ID != "" {
			entry.ID = snapshot.ID
		}
		if snapshot.PatientID != "" {
			entry.PatientID = snapshot.PatientID
		}
		if snapshot.ServiceID != "" {
			entry.ServiceID = snapshot.ServiceID
		}
		if snapshot.Priority != 0 {
			entry.Priority = snapshot.Priority
		}
		if snapshot.Status != "" {
			entry.Status = snapshot.Status
		}
		if !snapshot.ArrivedAt.IsZero() {
			entry.ArrivedAt = snapshot.ArrivedAt
		}
		if snapshot.CalledAt != nil {
			entry.CalledAt = snapshot.CalledAt
		}
		if snapshot.StartedAt != nil {
			entry.StartedAt = snapshot.StartedAt
		}
		if snapshot.FinishedAt != nil {
			entry.FinishedAt = snapshot.FinishedAt
		}
		if snapshot.CreatedBy != nil {
			entry.CreatedBy = snapshot.CreatedBy
		}
		entry.UpdatedAt = snapshot.UpdatedAt
	}
	return entry, nil
}
