// Package queue holds the patient queue core: enqueueing, the ordered
// active listing and the waiting -> called -> in_service -> finished
// lifecycle. It has no knowledge of HTTP or of who is calling; callers pass
// an already authorized actor id which is recorded, never inspected.
package queue

import (
	"context"
	"strings"
	"time"

	"clinicqueue/internal/models"
	"clinicqueue/internal/store"
)

type Service struct {
	store store.QueueStore
	now   func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(queueStore store.QueueStore, opts ...Option) *Service {
	s := &Service{store: queueStore, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type EnqueueInput struct {
	RequestID string
	PatientID string
	ServiceID string
	// Priority defaults to models.DefaultPriority when nil.
	Priority  *int
	CreatedBy string
}

// Enqueue adds a waiting entry. The bool is false when RequestID matched an
// earlier enqueue and that entry was returned instead.
func (s *Service) Enqueue(ctx context.Context, input EnqueueInput) (models.QueueEntry, bool, error) {
	create, err := s.prepareEnqueue(ctx, input)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	return s.store.CreateEntry(ctx, create)
}

// EnqueueOnce returns the patient's active entry untouched when one exists,
// otherwise it enqueues. The lookup and the insert are one atomic store call,
// so concurrent callers for the same patient end up with a single entry.
func (s *Service) EnqueueOnce(ctx context.Context, input EnqueueInput) (models.QueueEntry, bool, error) {
	create, err := s.prepareEnqueue(ctx, input)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	return s.store.CreateEntryUnlessActive(ctx, create)
}

func (s *Service) prepareEnqueue(ctx context.Context, input EnqueueInput) (store.CreateEntryInput, error) {
	input.PatientID = strings.TrimSpace(input.PatientID)
	input.ServiceID = strings.TrimSpace(input.ServiceID)

	priority := models.DefaultPriority
	if input.Priority != nil {
		priority = *input.Priority
	}
	if err := s.validateEnqueue(ctx, input.PatientID, input.ServiceID, priority); err != nil {
		return store.CreateEntryInput{}, err
	}
	return store.CreateEntryInput{
		RequestID: strings.TrimSpace(input.RequestID),
		PatientID: input.PatientID,
		ServiceID: input.ServiceID,
		Priority:  priority,
		CreatedBy: input.CreatedBy,
		ArrivedAt: s.clock(),
	}, nil
}

func (s *Service) validateEnqueue(ctx context.Context, patientID, serviceID string, priority int) error {
	var verr store.ValidationError
	if patientID == "" {
		verr.Add("patient_id", "is required")
	} else {
		ok, err := s.store.PatientExists(ctx, patientID)
		if err != nil {
			return err
		}
		if !ok {
			verr.Add("patient_id", "does not reference an existing patient")
		}
	}
	if serviceID == "" {
		verr.Add("service_id", "is required")
	} else {
		ok, err := s.store.ServiceExists(ctx, serviceID)
		if err != nil {
			return err
		}
		if !ok {
			verr.Add("service_id", "does not reference an existing service")
		}
	}
	if priority < models.MinPriority || priority > models.MaxPriority {
		verr.Add("priority", "must be between 1 and 5")
	}
	return verr.Err()
}

func (s *Service) Call(ctx context.Context, entryID, actorID string) (models.QueueEntry, error) {
	return s.transition(ctx, entryID, store.ActionCall, actorID)
}

// CallNext claims the best waiting entry, optionally limited to one service.
// Concurrent callers never receive the same entry.
func (s *Service) CallNext(ctx context.Context, serviceID, actorID string) (models.QueueEntry, error) {
	serviceID = strings.TrimSpace(serviceID)
	entry, found, err := s.store.ClaimNext(ctx, store.ClaimNextInput{
		ServiceID: serviceID,
		ActorID:   actorID,
		CalledAt:  s.clock(),
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !found {
		return models.QueueEntry{}, store.EmptyQueueError{ServiceID: serviceID}
	}
	return entry, nil
}

func (s *Service) Start(ctx context.Context, entryID, actorID string) (models.QueueEntry, error) {
	return s.transition(ctx, entryID, store.ActionStart, actorID)
}

func (s *Service) Finish(ctx context.Context, entryID, actorID string) (models.QueueEntry, error) {
	return s.transition(ctx, entryID, store.ActionFinish, actorID)
}

// Cancel is allowed from any active status. Terminal entries are rejected
// with store.InvalidStateError.
func (s *Service) Cancel(ctx context.Context, entryID, actorID string) (models.QueueEntry, error) {
	return s.transition(ctx, entryID, store.ActionCancel, actorID)
}

func (s *Service) transition(ctx context.Context, entryID string, action store.Action, actorID string) (models.QueueEntry, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return models.QueueEntry{}, store.NotFoundError{Resource: "queue entry", ID: entryID}
	}
	return s.store.TransitionEntry(ctx, store.TransitionInput{
		EntryID:    entryID,
		Action:     action,
		ActorID:    actorID,
		OccurredAt: s.clock(),
	})
}

func (s *Service) Get(ctx context.Context, entryID string) (models.QueueEntry, error) {
	entry, found, err := s.store.GetEntry(ctx, strings.TrimSpace(entryID))
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !found {
		return models.QueueEntry{}, store.NotFoundError{Resource: "queue entry", ID: entryID}
	}
	return entry, nil
}

// Peek returns the entry CallNext would claim, without claiming it.
func (s *Service) Peek(ctx context.Context, serviceID string) (models.ActiveEntry, error) {
	serviceID = strings.TrimSpace(serviceID)
	entries, err := s.store.ListActive(ctx, store.ActiveFilter{
		ServiceID: serviceID,
		Statuses:  []models.Status{models.StatusWaiting},
	})
	if err != nil {
		return models.ActiveEntry{}, err
	}
	if len(entries) == 0 {
		return models.ActiveEntry{}, store.EmptyQueueError{ServiceID: serviceID}
	}
	store.SortActive(entries)
	return entries[0], nil
}

// ListActive returns waiting, called and in_service entries in queue order.
func (s *Service) ListActive(ctx context.Context, serviceID string) ([]models.ActiveEntry, error) {
	return s.list(ctx, strings.TrimSpace(serviceID), models.ActiveStatuses)
}

func (s *Service) ListScreening(ctx context.Context) ([]models.ActiveEntry, error) {
	return s.list(ctx, "", []models.Status{models.StatusWaiting, models.StatusCalled})
}

func (s *Service) ListInProgress(ctx context.Context) ([]models.ActiveEntry, error) {
	return s.list(ctx, "", []models.Status{models.StatusCalled, models.StatusInService})
}

func (s *Service) list(ctx context.Context, serviceID string, statuses []models.Status) ([]models.ActiveEntry, error) {
	entries, err := s.store.ListActive(ctx, store.ActiveFilter{ServiceID: serviceID, Statuses: statuses})
	if err != nil {
		return nil, err
	}
	store.SortActive(entries)
	if entries == nil {
		entries = []models.ActiveEntry{}
	}
	return entries, nil
}

func (s *Service) Display(ctx context.Context, serviceID string) (models.DisplayBoard, error) {
	entries, err := s.ListActive(ctx, serviceID)
	if err != nil {
		return models.DisplayBoard{}, err
	}
	return store.GroupDisplay(entries), nil
}

type History struct {
	Entry    models.QueueEntry  `json:"entry"`
	Events   []store.EntryEvent `json:"events"`
	Verified bool               `json:"verified"`
}

func (s *Service) History(ctx context.Context, entryID string) (History, error) {
	entry, err := s.Get(ctx, entryID)
	if err != nil {
		return History{}, err
	}
	events, err := s.store.ListEntryEvents(ctx, entry.ID)
	if err != nil {
		return History{}, err
	}
	if events == nil {
		events = []store.EntryEvent{}
	}
	return History{
		Entry:    entry,
		Events:   events,
		Verified: store.VerifyChain(events) == nil,
	}, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
