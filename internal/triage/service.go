// Package triage records screening scores and, on request, puts the patient
// in the queue with the score as priority.
package triage

import (
	"context"
	"strings"

	"clinicqueue/internal/models"
	"clinicqueue/internal/queue"
	"clinicqueue/internal/store"
)

const (
	maxNotesLength   = 1000
	defaultListLimit = 10
	maxListLimit     = 100
)

type Store interface {
	store.TriageStore
	PatientExists(ctx context.Context, patientID string) (bool, error)
	ServiceExists(ctx context.Context, serviceID string) (bool, error)
	DefaultServiceID(ctx context.Context) (string, bool, error)
}

type Service struct {
	store Store
	queue *queue.Service
}

func NewService(triageStore Store, queueService *queue.Service) *Service {
	return &Service{store: triageStore, queue: queueService}
}

type RecordInput struct {
	PatientID  string
	TriagistID string
	Score      int
	Notes      string
	ServiceID  string
	AddToQueue bool
}

type Result struct {
	Triage models.Triage      `json:"triage"`
	Entry  *models.QueueEntry `json:"queue_entry,omitempty"`
	// Enqueued is false when the patient already had an active entry.
	Enqueued bool `json:"enqueued"`
}

// Record stores the triage and, when AddToQueue is set, enqueues the patient
// with priority equal to the score. An existing active entry is returned as
// is, its priority untouched.
func (s *Service) Record(ctx context.Context, input RecordInput) (Result, error) {
	input.PatientID = strings.TrimSpace(input.PatientID)
	input.ServiceID = strings.TrimSpace(input.ServiceID)
	input.Notes = strings.TrimSpace(input.Notes)

	serviceID, err := s.validate(ctx, &input)
	if err != nil {
		return Result{}, err
	}

	triage, err := s.store.CreateTriage(ctx, store.TriageInput{
		PatientID:  input.PatientID,
		TriagistID: input.TriagistID,
		Score:      input.Score,
		Notes:      input.Notes,
	})
	if err != nil {
		return Result{}, err
	}
	result := Result{Triage: triage}
	if !input.AddToQueue {
		return result, nil
	}

	priority := input.Score
	entry, created, err := s.queue.EnqueueOnce(ctx, queue.EnqueueInput{
		RequestID: "triage:" + triage.ID,
		PatientID: input.PatientID,
		ServiceID: serviceID,
		Priority:  &priority,
		CreatedBy: input.TriagistID,
	})
	if err != nil {
		return Result{}, err
	}
	result.Entry = &entry
	result.Enqueued = created
	return result, nil
}

func (s *Service) validate(ctx context.Context, input *RecordInput) (string, error) {
	var verr store.ValidationError
	if input.PatientID == "" {
		verr.Add("patient_id", "is required")
	} else {
		ok, err := s.store.PatientExists(ctx, input.PatientID)
		if err != nil {
			return "", err
		}
		if !ok {
			verr.Add("patient_id", "does not reference an existing patient")
		}
	}
	if input.Score < models.MinPriority || input.Score > models.MaxPriority {
		verr.Add("score", "must be between 1 and 5")
	}
	if len(input.Notes) > maxNotesLength {
		verr.Add("notes", "must be at most 1000 characters")
	}

	serviceID := input.ServiceID
	if input.AddToQueue {
		if serviceID == "" {
			id, found, err := s.store.DefaultServiceID(ctx)
			if err != nil {
				return "", err
			}
			if !found {
				verr.Add("service_id", "no service is configured")
			}
			serviceID = id
		} else {
			ok, err := s.store.ServiceExists(ctx, serviceID)
			if err != nil {
				return "", err
			}
			if !ok {
				verr.Add("service_id", "does not reference an existing service")
			}
		}
	}
	return serviceID, verr.Err()
}

func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]models.Triage, error) {
	patientID = strings.TrimSpace(patientID)
	ok, err := s.store.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.NotFoundError{Resource: "patient", ID: patientID}
	}
	return s.store.ListTriagesByPatient(ctx, patientID)
}

func (s *Service) ListRecent(ctx context.Context, limit int) ([]models.Triage, error) {
	return s.List(ctx, ListInput{Limit: limit})
}

type ListInput struct {
	PatientID string
	// Score zero means any score.
	Score int
	Limit int
}

// List returns the newest triages first, narrowed by patient and score.
func (s *Service) List(ctx context.Context, input ListInput) ([]models.Triage, error) {
	if input.Score != 0 && (input.Score < models.MinPriority || input.Score > models.MaxPriority) {
		return nil, store.ValidationError{Fields: map[string]string{"score": "must be between 1 and 5"}}
	}
	if input.Limit <= 0 || input.Limit > maxListLimit {
		input.Limit = defaultListLimit
	}
	return s.store.ListTriages(ctx, store.TriageFilter{
		PatientID: strings.TrimSpace(input.PatientID),
		Score:     input.Score,
		Limit:     input.Limit,
	})
}

func (s *Service) Get(ctx context.Context, triageID string) (models.TriageDetail, error) {
	triageID = strings.TrimSpace(triageID)
	detail, found, err := s.store.GetTriage(ctx, triageID)
	if err != nil {
		return models.TriageDetail{}, err
	}
	if !found {
		return models.TriageDetail{}, store.NotFoundError{Resource: "triage", ID: triageID}
	}
	return detail, nil
}

// Delete removes the triage record. Queue entries created from it stay.
func (s *Service) Delete(ctx context.Context, triageID string) error {
	triageID = strings.TrimSpace(triageID)
	deleted, err := s.store.DeleteTriage(ctx, triageID)
	if err != nil {
		return err
	}
	if !deleted {
		return store.NotFoundError{Resource: "triage", ID: triageID}
	}
	return nil
}
