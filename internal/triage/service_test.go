package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinicqueue/internal/models"
	"clinicqueue/internal/queue"
	"clinicqueue/internal/store"
	"clinicqueue/internal/store/memory"

	"github.com/google/uuid"
)

// fakeStore serves triage rows from memory and delegates existence checks to
// the same memory store the queue uses.
type fakeStore struct {
	*memory.Store
	defaultServiceID string
	triages          []models.Triage
	lastFilter       store.TriageFilter
}

func (f *fakeStore) CreateTriage(ctx context.Context, input store.TriageInput) (models.Triage, error) {
	triage := models.Triage{
		ID:         uuid.NewString(),
		PatientID:  input.PatientID,
		TriagistID: input.TriagistID,
		Score:      input.Score,
		Notes:      input.Notes,
		CreatedAt:  time.Now().UTC(),
	}
	f.triages = append(f.triages, triage)
	return triage, nil
}

func (f *fakeStore) ListTriagesByPatient(ctx context.Context, patientID string) ([]models.Triage, error) {
	var out []models.Triage
	for i := len(f.triages) - 1; i >= 0; i-- {
		if f.triages[i].PatientID == patientID {
			out = append(out, f.triages[i])
		}
	}
	return out, nil
}

func (f *fakeStore) ListTriages(ctx context.Context, filter store.TriageFilter) ([]models.Triage, error) {
	f.lastFilter = filter
	var out []models.Triage
	for i := len(f.triages) - 1; i >= 0; i-- {
		row := f.triages[i]
		if (filter.PatientID == "" || row.PatientID == filter.PatientID) && (filter.Score == 0 || row.Score == filter.Score) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTriage(ctx context.Context, triageID string) (models.TriageDetail, bool, error) {
	for _, row := range f.triages {
		if row.ID == triageID {
			return models.TriageDetail{Triage: row, Patient: models.PatientRef{ID: row.PatientID}}, true, nil
		}
	}
	return models.TriageDetail{}, false, nil
}

func (f *fakeStore) DeleteTriage(ctx context.Context, triageID string) (bool, error) {
	for i, row := range f.triages {
		if row.ID == triageID {
			f.triages = append(f.triages[:i], f.triages[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountTriages(ctx context.Context) (int, error) {
	return len(f.triages), nil
}

func (f *fakeStore) DefaultServiceID(ctx context.Context) (string, bool, error) {
	return f.defaultServiceID, f.defaultServiceID != "", nil
}

func newTriageService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	mem := memory.New()
	mem.AddPatient(models.PatientRef{ID: "p1", Name: "Ana"})
	mem.AddService(models.ServiceRef{ID: "s-cardio", Name: "Cardiology"})
	mem.AddService(models.ServiceRef{ID: "s-general", Name: "General"})
	fake := &fakeStore{Store: mem, defaultServiceID: "s-cardio"}
	return NewService(fake, queue.NewService(mem)), fake
}

func TestRecordWithoutQueue(t *testing.T) {
	svc, fake := newTriageService(t)
	result, err := svc.Record(context.Background(), RecordInput{PatientID: "p1", TriagistID: "u1", Score: 2, Notes: "  fever  "})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if result.Entry != nil || result.Enqueued {
		t.Fatalf("expected no queue entry, got %+v", result)
	}
	if result.Triage.Notes != "fever" || len(fake.triages) != 1 {
		t.Fatalf("unexpected triage %+v", result.Triage)
	}
}

func TestRecordAddsToDefaultService(t *testing.T) {
	svc, _ := newTriageService(t)
	result, err := svc.Record(context.Background(), RecordInput{PatientID: "p1", Score: 1, AddToQueue: true})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if result.Entry == nil || !result.Enqueued {
		t.Fatalf("expected a new entry, got %+v", result)
	}
	if result.Entry.ServiceID != "s-cardio" || result.Entry.Priority != 1 || result.Entry.Status != models.StatusWaiting {
		t.Fatalf("unexpected entry %+v", result.Entry)
	}
}

func TestRecordKeepsExistingEntry(t *testing.T) {
	svc, _ := newTriageService(t)
	ctx := context.Background()
	first, err := svc.Record(ctx, RecordInput{PatientID: "p1", Score: 4, ServiceID: "s-general", AddToQueue: true})
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	second, err := svc.Record(ctx, RecordInput{PatientID: "p1", Score: 1, ServiceID: "s-general", AddToQueue: true})
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if second.Enqueued {
		t.Fatalf("expected existing entry to be reused")
	}
	if second.Entry.ID != first.Entry.ID || second.Entry.Priority != 4 {
		t.Fatalf("expected unchanged entry %s with priority 4, got %+v", first.Entry.ID, second.Entry)
	}
}

func TestRecordValidation(t *testing.T) {
	tests := []struct {
		name   string
		input  RecordInput
		noDef  bool
		fields []string
	}{
		{"missing patient", RecordInput{Score: 3}, false, []string{"patient_id"}},
		{"unknown patient", RecordInput{PatientID: "nope", Score: 3}, false, []string{"patient_id"}},
		{"score too low", RecordInput{PatientID: "p1", Score: 0}, false, []string{"score"}},
		{"score too high", RecordInput{PatientID: "p1", Score: 6}, false, []string{"score"}},
		{"unknown service", RecordInput{PatientID: "p1", Score: 3, ServiceID: "nope", AddToQueue: true}, false, []string{"service_id"}},
		{"no default service", RecordInput{PatientID: "p1", Score: 3, AddToQueue: true}, true, []string{"service_id"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, fake := newTriageService(t)
			if tc.noDef {
				fake.defaultServiceID = ""
			}
			_, err := svc.Record(context.Background(), tc.input)
			var verr store.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			for _, field := range tc.fields {
				if _, ok := verr.Fields[field]; !ok {
					t.Fatalf("expected field %s in %v", field, verr.Fields)
				}
			}
			if len(fake.triages) != 0 {
				t.Fatalf("expected nothing stored on validation failure")
			}
		})
	}
}

func TestListByPatientUnknown(t *testing.T) {
	svc, _ := newTriageService(t)
	if _, err := svc.ListByPatient(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListFiltersAndLimit(t *testing.T) {
	svc, fake := newTriageService(t)
	ctx := context.Background()
	for _, score := range []int{2, 4, 4} {
		if _, err := svc.Record(ctx, RecordInput{PatientID: "p1", Score: score}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rows, err := svc.List(ctx, ListInput{PatientID: " p1 ", Score: 4, Limit: 500})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 triages with score 4, got %d", len(rows))
	}
	if fake.lastFilter.PatientID != "p1" || fake.lastFilter.Limit != defaultListLimit {
		t.Fatalf("unexpected filter %+v", fake.lastFilter)
	}

	var verr store.ValidationError
	if _, err := svc.List(ctx, ListInput{Score: 7}); !errors.As(err, &verr) || verr.Fields["score"] == "" {
		t.Fatalf("expected score validation error, got %v", err)
	}
}

func TestGetAndDelete(t *testing.T) {
	svc, _ := newTriageService(t)
	ctx := context.Background()
	result, err := svc.Record(ctx, RecordInput{PatientID: "p1", Score: 3, AddToQueue: true})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	detail, err := svc.Get(ctx, result.Triage.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Patient.ID != "p1" || detail.Score != 3 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	if err := svc.Delete(ctx, result.Triage.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, result.Triage.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := svc.Delete(ctx, result.Triage.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	entry, err := svc.queue.Get(ctx, result.Entry.ID)
	if err != nil || entry.Status != models.StatusWaiting {
		t.Fatalf("expected queue entry to survive triage delete, got %+v, %v", entry, err)
	}
}
