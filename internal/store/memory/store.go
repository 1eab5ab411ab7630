// Package memory keeps queue state in process. A single mutex serializes every
// operation, which gives the same compare-and-swap guarantees as the
// conditional updates of the postgres store.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"clinicqueue/internal/models"
	"clinicqueue/internal/store"

	"github.com/google/uuid"
)

var (
	_ store.QueueStore  = (*Store)(nil)
	_ store.OutboxStore = (*Store)(nil)
)

type Store struct {
	mu        sync.Mutex
	patients  map[string]models.PatientRef
	services  map[string]models.ServiceRef
	entries   map[string]models.QueueEntry
	insertion []string
	requests  map[string]string
	events    map[string][]store.EntryEvent
	outbox    []outboxRow
}

type outboxRow struct {
	event       store.OutboxEvent
	publishedAt *time.Time
}

func New() *Store {
	return &Store{
		patients: make(map[string]models.PatientRef),
		services: make(map[string]models.ServiceRef),
		entries:  make(map[string]models.QueueEntry),
		requests: make(map[string]string),
		events:   make(map[string][]store.EntryEvent),
	}
}

func (s *Store) AddPatient(patient models.PatientRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[patient.ID] = patient
}

func (s *Store) AddService(service models.ServiceRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[service.ID] = service
}

func (s *Store) PatientExists(ctx context.Context, patientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.patients[patientID]
	return ok, nil
}

func (s *Store) ServiceExists(ctx context.Context, serviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.services[serviceID]
	return ok, nil
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(input)
}

func (s *Store) CreateEntryUnlessActive(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.insertion {
		entry := s.entries[id]
		if entry.PatientID == input.PatientID && entry.Status.Active() {
			return entry, false, nil
		}
	}
	return s.createLocked(input)
}

// createLocked inserts the entry unless RequestID replays an earlier one.
// Callers hold s.mu.
func (s *Store) createLocked(input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	if input.RequestID != "" {
		if id, ok := s.requests[input.RequestID]; ok {
			return s.entries[id], false, nil
		}
	}

	entry := models.QueueEntry{
		ID:        uuid.NewString(),
		RequestID: input.RequestID,
		PatientID: input.PatientID,
		ServiceID: input.ServiceID,
		Priority:  input.Priority,
		Status:    models.StatusWaiting,
		ArrivedAt: input.ArrivedAt,
		UpdatedAt: input.ArrivedAt,
	}
	if input.CreatedBy != "" {
		createdBy := input.CreatedBy
		entry.CreatedBy = &createdBy
	}
	if err := s.record(entry, store.EventEnqueued, input.CreatedBy, input.ArrivedAt); err != nil {
		return models.QueueEntry{}, false, err
	}
	s.entries[entry.ID] = entry
	s.insertion = append(s.insertion, entry.ID)
	if input.RequestID != "" {
		s.requests[input.RequestID] = entry.ID
	}
	return entry, true, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	return entry, ok, nil
}

func (s *Store) TransitionEntry(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[input.EntryID]
	if !ok {
		return models.QueueEntry{}, store.NotFoundError{Resource: "queue entry", ID: input.EntryID}
	}
	if err := store.ApplyTransition(&entry, input.Action, input.OccurredAt); err != nil {
		return models.QueueEntry{}, err
	}
	if err := s.record(entry, store.EventTypeFor(input.Action), input.ActorID, input.OccurredAt); err != nil {
		return models.QueueEntry{}, err
	}
	s.entries[entry.ID] = entry
	return entry, nil
}

func (s *Store) ClaimNext(ctx context.Context, input store.ClaimNextInput) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.filter(store.ActiveFilter{ServiceID: input.ServiceID, Statuses: []models.Status{models.StatusWaiting}})
	if len(candidates) == 0 {
		return models.QueueEntry{}, false, nil
	}
	store.SortEntries(candidates)
	entry := candidates[0]
	if err := store.ApplyTransition(&entry, store.ActionCall, input.CalledAt); err != nil {
		return models.QueueEntry{}, false, err
	}
	if err := s.record(entry, store.EventCalled, input.ActorID, input.CalledAt); err != nil {
		return models.QueueEntry{}, false, err
	}
	s.entries[entry.ID] = entry
	return entry, true, nil
}

func (s *Store) ListActive(ctx context.Context, filter store.ActiveFilter) ([]models.ActiveEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(filter.Statuses) == 0 {
		filter.Statuses = models.ActiveStatuses
	}
	entries := s.filter(filter)
	store.SortEntries(entries)
	out := make([]models.ActiveEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, models.ActiveEntry{
			QueueEntry: entry,
			Patient:    s.patients[entry.PatientID],
			Service:    s.services[entry.ServiceID],
		})
	}
	return out, nil
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[entryID]
	out := make([]store.EntryEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) ClaimOutbox(ctx context.Context, limit int, fn func([]store.OutboxEvent) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []store.OutboxEvent
	var indexes []int
	for i, row := range s.outbox {
		if row.publishedAt != nil {
			continue
		}
		batch = append(batch, row.event)
		indexes = append(indexes, i)
		if limit > 0 && len(batch) == limit {
			break
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := fn(batch); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, i := range indexes {
		s.outbox[i].publishedAt = &now
	}
	return len(batch), nil
}

func (s *Store) PurgeOutbox(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	var purged int64
	for _, row := range s.outbox {
		if row.publishedAt != nil && row.publishedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, row)
	}
	s.outbox = kept
	return purged, nil
}

// filter returns matching entries in insertion order. Callers hold s.mu.
func (s *Store) filter(filter store.ActiveFilter) []models.QueueEntry {
	var out []models.QueueEntry
	for _, id := range s.insertion {
		entry := s.entries[id]
		if filter.ServiceID != "" && entry.ServiceID != filter.ServiceID {
			continue
		}
		if !hasStatus(filter.Statuses, entry.Status) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// record appends the entry event and its outbox row. Callers hold s.mu.
func (s *Store) record(entry models.QueueEntry, eventType, actorID string, at time.Time) error {
	chain := s.events[entry.ID]
	var prev store.EntryEvent
	if len(chain) > 0 {
		prev = chain[len(chain)-1]
	}
	event, err := store.NewEntryEvent(prev, entry, eventType, actorID, at)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.events[entry.ID] = append(chain, event)
	s.outbox = append(s.outbox, outboxRow{event: store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		ServiceID: entry.ServiceID,
		Payload:   payload,
		CreatedAt: at,
	}})
	return nil
}

func hasStatus(statuses []models.Status, status models.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
