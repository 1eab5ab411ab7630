package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"clinicqueue/internal/models"
	"clinicqueue/internal/store"
	"clinicqueue/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeClock) {
	t.Helper()
	mem := memory.New()
	mem.AddPatient(models.PatientRef{ID: "p1", Name: "Ana"})
	mem.AddPatient(models.PatientRef{ID: "p2", Name: "Bruno"})
	mem.AddPatient(models.PatientRef{ID: "p3", Name: "Carla"})
	mem.AddService(models.ServiceRef{ID: "s1", Name: "Clinic"})
	mem.AddService(models.ServiceRef{ID: "s2", Name: "Dental"})
	clock := &fakeClock{now: time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)}
	return NewService(mem, WithClock(clock.Now)), mem, clock
}

func intPtr(v int) *int { return &v }

func enqueue(t *testing.T, svc *Service, patientID, serviceID string, priority *int) models.QueueEntry {
	t.Helper()
	entry, created, err := svc.Enqueue(context.Background(), EnqueueInput{PatientID: patientID, ServiceID: serviceID, Priority: priority})
	if err != nil {
		t.Fatalf("enqueue %s: %v", patientID, err)
	}
	if !created {
		t.Fatalf("expected new entry for %s", patientID)
	}
	return entry
}

func TestEnqueueDefaults(t *testing.T) {
	svc, _, clock := newTestService(t)
	entry := enqueue(t, svc, "p1", "s1", nil)

	if entry.Priority != models.DefaultPriority {
		t.Fatalf("expected default priority 5, got %d", entry.Priority)
	}
	if entry.Status != models.StatusWaiting {
		t.Fatalf("expected waiting, got %s", entry.Status)
	}
	if !entry.ArrivedAt.Equal(clock.Now()) {
		t.Fatalf("expected arrived_at %v, got %v", clock.Now(), entry.ArrivedAt)
	}
	if entry.CalledAt != nil || entry.StartedAt != nil || entry.FinishedAt != nil {
		t.Fatalf("waiting entry has timestamps: %+v", entry)
	}

	clock.Advance(time.Minute)
	called, err := svc.Call(context.Background(), entry.ID, "doc")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !called.ArrivedAt.Equal(entry.ArrivedAt) {
		t.Fatalf("arrived_at changed on call")
	}
}

func TestEnqueueValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	cases := []struct {
		name  string
		input EnqueueInput
		field string
	}{
		{"missing patient", EnqueueInput{ServiceID: "s1"}, "patient_id"},
		{"unknown patient", EnqueueInput{PatientID: "nobody", ServiceID: "s1"}, "patient_id"},
		{"missing service", EnqueueInput{PatientID: "p1"}, "service_id"},
		{"unknown service", EnqueueInput{PatientID: "p1", ServiceID: "nope"}, "service_id"},
		{"priority too low", EnqueueInput{PatientID: "p1", ServiceID: "s1", Priority: intPtr(0)}, "priority"},
		{"priority too high", EnqueueInput{PatientID: "p1", ServiceID: "s1", Priority: intPtr(6)}, "priority"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Enqueue(context.Background(), tt.input)
			var verr store.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Fatalf("expected field %s in %v", tt.field, verr.Fields)
			}
		})
	}
}

func TestEnqueueIdempotentRequestID(t *testing.T) {
	svc, _, _ := newTestService(t)
	input := EnqueueInput{RequestID: "req-1", PatientID: "p1", ServiceID: "s1"}
	first, created, err := svc.Enqueue(context.Background(), input)
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	second, created, err := svc.Enqueue(context.Background(), input)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected replay of %s, got %s created=%v", first.ID, second.ID, created)
	}
}

func TestListActiveOrdering(t *testing.T) {
	svc, _, clock := newTestService(t)
	a := enqueue(t, svc, "p1", "s1", intPtr(3))
	clock.Advance(time.Minute)
	c := enqueue(t, svc, "p3", "s1", intPtr(1))
	clock.Advance(4 * time.Minute)
	b := enqueue(t, svc, "p2", "s1", intPtr(1))

	entries, err := svc.ListActive(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{c.ID, b.ID, a.ID}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, entries[i].ID)
		}
	}
	if entries[0].Patient.Name != "Carla" || entries[0].Service.Name != "Clinic" {
		t.Fatalf("entry not enriched: %+v", entries[0])
	}
}

func TestListActiveFiltersServiceAndTerminal(t *testing.T) {
	svc, _, clock := newTestService(t)
	keep := enqueue(t, svc, "p1", "s1", nil)
	clock.Advance(time.Second)
	enqueue(t, svc, "p2", "s2", nil)
	clock.Advance(time.Second)
	gone := enqueue(t, svc, "p3", "s1", nil)
	if _, err := svc.Cancel(context.Background(), gone.ID, "tri"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	entries, err := svc.ListActive(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != keep.ID {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLifecycleScenario(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	entry := enqueue(t, svc, "p1", "s1", intPtr(2))

	clock.Advance(time.Minute)
	called, err := svc.CallNext(ctx, "", "doc")
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.ID != entry.ID || called.Status != models.StatusCalled || called.CalledAt == nil {
		t.Fatalf("unexpected called entry: %+v", called)
	}

	clock.Advance(time.Minute)
	started, err := svc.Start(ctx, entry.ID, "doc")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != models.StatusInService || started.StartedAt == nil {
		t.Fatalf("unexpected started entry: %+v", started)
	}

	clock.Advance(time.Minute)
	finished, err := svc.Finish(ctx, entry.ID, "doc")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != models.StatusFinished || finished.FinishedAt == nil {
		t.Fatalf("unexpected finished entry: %+v", finished)
	}

	_, err = svc.Cancel(ctx, entry.ID, "tri")
	var stateErr store.InvalidStateError
	if !errors.As(err, &stateErr) || stateErr.Status != models.StatusFinished {
		t.Fatalf("expected InvalidStateError with finished, got %v", err)
	}

	after, err := svc.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Status != models.StatusFinished || !after.UpdatedAt.Equal(finished.UpdatedAt) {
		t.Fatalf("terminal entry changed: %+v", after)
	}
}

func TestCallNextPrefersPriorityOverArrival(t *testing.T) {
	svc, _, clock := newTestService(t)
	enqueue(t, svc, "p1", "s1", intPtr(5))
	clock.Advance(time.Second)
	urgent := enqueue(t, svc, "p2", "s1", intPtr(1))

	called, err := svc.CallNext(context.Background(), "", "doc")
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.ID != urgent.ID {
		t.Fatalf("expected urgent entry %s, got %s", urgent.ID, called.ID)
	}
}

func TestCallNextServiceFilterAndEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	enqueue(t, svc, "p1", "s1", nil)

	_, err := svc.CallNext(context.Background(), "s2", "doc")
	var emptyErr store.EmptyQueueError
	if !errors.As(err, &emptyErr) || emptyErr.ServiceID != "s2" {
		t.Fatalf("expected EmptyQueueError for s2, got %v", err)
	}
	if _, err := svc.CallNext(context.Background(), "s1", "doc"); err != nil {
		t.Fatalf("call next s1: %v", err)
	}
	if _, err := svc.CallNext(context.Background(), "", "doc"); !errors.Is(err, store.ErrEmptyQueue) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestStartRequiresCalled(t *testing.T) {
	svc, _, _ := newTestService(t)
	entry := enqueue(t, svc, "p1", "s1", nil)

	_, err := svc.Start(context.Background(), entry.ID, "doc")
	var stateErr store.InvalidStateError
	if !errors.As(err, &stateErr) || stateErr.Status != models.StatusWaiting {
		t.Fatalf("expected InvalidStateError with waiting, got %v", err)
	}
	current, _ := svc.Get(context.Background(), entry.ID)
	if current.Status != models.StatusWaiting || current.StartedAt != nil {
		t.Fatalf("entry changed: %+v", current)
	}
}

func TestTransitionUnknownEntry(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, call := range []func(context.Context, string, string) (models.QueueEntry, error){svc.Call, svc.Start, svc.Finish, svc.Cancel} {
		if _, err := call(context.Background(), "missing", "u"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
}

func TestCancelFromEveryActiveStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	waiting := enqueue(t, svc, "p1", "s1", nil)
	called := enqueue(t, svc, "p2", "s1", nil)
	inService := enqueue(t, svc, "p3", "s1", nil)
	if _, err := svc.Call(ctx, called.ID, "doc"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := svc.Call(ctx, inService.ID, "doc"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := svc.Start(ctx, inService.ID, "doc"); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, id := range []string{waiting.ID, called.ID, inService.ID} {
		entry, err := svc.Cancel(ctx, id, "tri")
		if err != nil {
			t.Fatalf("cancel %s: %v", id, err)
		}
		if entry.Status != models.StatusCanceled {
			t.Fatalf("expected canceled, got %s", entry.Status)
		}
	}
	if _, err := svc.Cancel(ctx, waiting.ID, "tri"); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected second cancel rejected, got %v", err)
	}
}

func TestConcurrentCallNextClaimsOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	enqueue(t, svc, "p1", "s1", nil)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CallNext(context.Background(), "s1", "doc")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var success, empty int
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, store.ErrEmptyQueue):
			empty++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 || empty != 1 {
		t.Fatalf("expected one success and one empty, got success=%d empty=%d", success, empty)
	}
}

func TestConcurrentCallNextDistinctEntries(t *testing.T) {
	svc, _, clock := newTestService(t)
	const total = 20
	for i := 0; i < total; i++ {
		clock.Advance(time.Second)
		enqueue(t, svc, []string{"p1", "p2", "p3"}[i%3], "s1", intPtr(i%5+1))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := svc.CallNext(context.Background(), "", "doc")
			if err != nil {
				t.Errorf("call next: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[entry.ID] {
				t.Errorf("entry %s claimed twice", entry.ID)
			}
			seen[entry.ID] = true
		}()
	}
	wg.Wait()
	if len(seen) != total {
		t.Fatalf("expected %d distinct entries, got %d", total, len(seen))
	}
}

func TestPeekDoesNotClaim(t *testing.T) {
	svc, _, _ := newTestService(t)
	entry := enqueue(t, svc, "p1", "s1", nil)

	next, err := svc.Peek(context.Background(), "")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if next.ID != entry.ID || next.Status != models.StatusWaiting {
		t.Fatalf("unexpected peek result: %+v", next)
	}
	if _, err := svc.Peek(context.Background(), "s2"); !errors.Is(err, store.ErrEmptyQueue) {
		t.Fatalf("expected empty queue for s2, got %v", err)
	}
}

func TestDisplayAndScreening(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	first := enqueue(t, svc, "p1", "s1", intPtr(1))
	clock.Advance(time.Second)
	second := enqueue(t, svc, "p2", "s1", intPtr(2))
	clock.Advance(time.Second)
	third := enqueue(t, svc, "p3", "s1", intPtr(3))

	if _, err := svc.Call(ctx, first.ID, "doc"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := svc.Call(ctx, second.ID, "doc"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := svc.Start(ctx, second.ID, "doc"); err != nil {
		t.Fatalf("start: %v", err)
	}

	board, err := svc.Display(ctx, "")
	if err != nil {
		t.Fatalf("display: %v", err)
	}
	if len(board.Waiting) != 1 || board.Waiting[0].ID != third.ID {
		t.Fatalf("unexpected waiting: %+v", board.Waiting)
	}
	if len(board.Called) != 1 || board.Called[0].ID != first.ID {
		t.Fatalf("unexpected called: %+v", board.Called)
	}
	if len(board.InService) != 1 || board.InService[0].ID != second.ID {
		t.Fatalf("unexpected in service: %+v", board.InService)
	}

	screening, err := svc.ListScreening(ctx)
	if err != nil {
		t.Fatalf("screening: %v", err)
	}
	if len(screening) != 2 || screening[0].ID != first.ID || screening[1].ID != third.ID {
		t.Fatalf("unexpected screening list: %+v", screening)
	}

	progress, err := svc.ListInProgress(ctx)
	if err != nil {
		t.Fatalf("in progress: %v", err)
	}
	if len(progress) != 2 {
		t.Fatalf("expected 2 in progress, got %d", len(progress))
	}
}

func TestEnqueueOnceReusesActiveEntry(t *testing.T) {
	svc, _, _ := newTestService(t)
	first := enqueue(t, svc, "p1", "s1", intPtr(4))

	again, created, err := svc.EnqueueOnce(context.Background(), EnqueueInput{PatientID: "p1", ServiceID: "s1", Priority: intPtr(1)})
	if err != nil {
		t.Fatalf("enqueue once: %v", err)
	}
	if created || again.ID != first.ID || again.Priority != 4 {
		t.Fatalf("expected existing entry untouched, got %+v created=%v", again, created)
	}
}

// slowStore widens the window between validation and insert.
type slowStore struct {
	*memory.Store
	delay time.Duration
}

func (s slowStore) PatientExists(ctx context.Context, patientID string) (bool, error) {
	time.Sleep(s.delay)
	return s.Store.PatientExists(ctx, patientID)
}

func TestConcurrentEnqueueOnceCreatesSingleEntry(t *testing.T) {
	mem := memory.New()
	mem.AddPatient(models.PatientRef{ID: "p1", Name: "Ana"})
	mem.AddService(models.ServiceRef{ID: "s1", Name: "Clinic"})
	svc := NewService(slowStore{Store: mem, delay: 2 * time.Millisecond})

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	ids := map[string]bool{}
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, isNew, err := svc.EnqueueOnce(context.Background(), EnqueueInput{
				RequestID: fmt.Sprintf("triage:%d", i),
				PatientID: "p1",
				ServiceID: "s1",
				Priority:  intPtr(i%5 + 1),
			})
			if err != nil {
				t.Errorf("enqueue once: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if isNew {
				created++
			}
			ids[entry.ID] = true
		}(i)
	}
	wg.Wait()

	active, err := svc.ListActive(context.Background(), "")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if created != 1 || len(ids) != 1 || len(active) != 1 {
		t.Fatalf("expected one active entry for p1, got created=%d distinct=%d active=%d", created, len(ids), len(active))
	}
}

func TestHistoryVerifiesChain(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	entry := enqueue(t, svc, "p1", "s1", nil)
	clock.Advance(time.Minute)
	if _, err := svc.Call(ctx, entry.ID, "doc"); err != nil {
		t.Fatalf("call: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := svc.Cancel(ctx, entry.ID, "tri"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	history, err := svc.History(ctx, entry.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !history.Verified {
		t.Fatalf("expected verified chain")
	}
	types := []string{store.EventEnqueued, store.EventCalled, store.EventCanceled}
	if len(history.Events) != len(types) {
		t.Fatalf("expected %d events, got %d", len(types), len(history.Events))
	}
	for i, eventType := range types {
		if history.Events[i].Type != eventType {
			t.Fatalf("event %d: expected %s, got %s", i, eventType, history.Events[i].Type)
		}
	}
	replayed, err := store.ReplayEntry(history.Events)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Status != models.StatusCanceled {
		t.Fatalf("expected replayed canceled, got %s", replayed.Status)
	}
}
