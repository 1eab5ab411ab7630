package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"clinicqueue/internal/hub"
	"clinicqueue/internal/models"
	"clinicqueue/internal/queue"
	"clinicqueue/internal/store/memory"

	"github.com/rs/zerolog"
)

type recordingSink struct {
	mu     sync.Mutex
	events []hub.Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(ctx context.Context, events []hub.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func seededQueue(t *testing.T) (*queue.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.AddPatient(models.PatientRef{ID: "p1", Name: "Ana"})
	st.AddPatient(models.PatientRef{ID: "p2", Name: "Bruno"})
	st.AddService(models.ServiceRef{ID: "s1", Name: "General"})
	return queue.NewService(st), st
}

func TestRunOnceDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	svc, st := seededQueue(t)

	entry, _, err := svc.Enqueue(ctx, queue.EnqueueInput{PatientID: "p1", ServiceID: "s1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := svc.Call(ctx, entry.ID, ""); err != nil {
		t.Fatalf("call: %v", err)
	}

	sink := &recordingSink{}
	r := New(st, []Sink{sink}, Config{BatchSize: 1}, zerolog.Nop())
	n, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 2 || len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got n=%d events=%d", n, len(sink.events))
	}
	if sink.events[0].Type != "queue.enqueued" || sink.events[1].Type != "queue.called" {
		t.Fatalf("unexpected order %s, %s", sink.events[0].Type, sink.events[1].Type)
	}
	if sink.events[1].ServiceID != "s1" {
		t.Fatalf("expected service id on event, got %q", sink.events[1].ServiceID)
	}
	var payload models.QueueEntry
	if err := json.Unmarshal(sink.events[1].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Status != models.StatusCalled {
		t.Fatalf("expected called payload, got %s", payload.Status)
	}

	n, err = r.RunOnce(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected drained outbox, got n=%d err=%v", n, err)
	}
}

func TestRunOnceRetriesAfterSinkFailure(t *testing.T) {
	ctx := context.Background()
	svc, st := seededQueue(t)
	if _, _, err := svc.Enqueue(ctx, queue.EnqueueInput{PatientID: "p1", ServiceID: "s1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	failing := &recordingSink{err: errors.New("broker down")}
	r := New(st, []Sink{failing}, Config{}, zerolog.Nop())
	if _, err := r.RunOnce(ctx); err == nil {
		t.Fatalf("expected sink error")
	}

	failing.err = nil
	n, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 || len(failing.events) != 1 {
		t.Fatalf("expected the event to be retried, got n=%d", n)
	}
}

func TestHubSinkReachesSubscribers(t *testing.T) {
	ctx := context.Background()
	svc, st := seededQueue(t)
	h := hub.New(zerolog.Nop())
	client := &hub.Client{ID: "display", Send: make(chan []byte, 4), Subscription: hub.Subscription{ServiceID: "s1"}}
	h.Register(client)

	if _, _, err := svc.Enqueue(ctx, queue.EnqueueInput{PatientID: "p2", ServiceID: "s1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	r := New(st, []Sink{NewHubSink(h)}, Config{}, zerolog.Nop())
	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	select {
	case msg := <-client.Send:
		var event hub.Event
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if event.Type != "queue.enqueued" {
			t.Fatalf("unexpected event type %s", event.Type)
		}
	default:
		t.Fatalf("expected display client to receive the event")
	}
}

func TestPurgeHonoursRetention(t *testing.T) {
	ctx := context.Background()
	svc, st := seededQueue(t)
	if _, _, err := svc.Enqueue(ctx, queue.EnqueueInput{PatientID: "p1", ServiceID: "s1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	r := New(st, []Sink{&recordingSink{}}, Config{Retention: time.Hour}, zerolog.Nop())
	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if n, err := r.Purge(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing old enough to purge, got n=%d err=%v", n, err)
	}
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if n, err := r.Purge(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 purged row, got n=%d err=%v", n, err)
	}
}
