package store

import (
	"context"
	"time"

	"clinicqueue/internal/models"
)

type CreateEntryInput struct {
	RequestID string
	PatientID string
	ServiceID string
	Priority  int
	CreatedBy string
	ArrivedAt time.Time
}

type TransitionInput struct {
	EntryID    string
	Action     Action
	ActorID    string
	OccurredAt time.Time
}

type ClaimNextInput struct {
	ServiceID string
	ActorID   string
	CalledAt  time.Time
}

// ActiveFilter narrows active listings. Empty fields match everything.
type ActiveFilter struct {
	ServiceID string
	Statuses  []models.Status
}

type QueueStore interface {
	PatientExists(ctx context.Context, patientID string) (bool, error)
	ServiceExists(ctx context.Context, serviceID string) (bool, error)
	CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, bool, error)
	GetEntry(ctx context.Context, entryID string) (models.QueueEntry, bool, error)
	TransitionEntry(ctx context.Context, input TransitionInput) (models.QueueEntry, error)
	ClaimNext(ctx context.Context, input ClaimNextInput) (models.QueueEntry, bool, error)
	ListActive(ctx context.Context, filter ActiveFilter) ([]models.ActiveEntry, error)
	// CreateEntryUnlessActive returns the patient's active entry with false
	// when one exists, otherwise it creates one. Lookup and insert are atomic
	// per patient.
	CreateEntryUnlessActive(ctx context.Context, input CreateEntryInput) (models.QueueEntry, bool, error)
	ListEntryEvents(ctx context.Context, entryID string) ([]EntryEvent, error)
}

type PatientInput struct {
	Name      string
	Document  *string
	BirthDate string
	Phone     *string
	CreatedBy string
}

type PatientStore interface {
	ListPatients(ctx context.Context, query string, limit int) ([]models.Patient, error)
	GetPatient(ctx context.Context, patientID string) (models.Patient, bool, error)
	CreatePatient(ctx context.Context, input PatientInput) (models.Patient, error)
	UpdatePatient(ctx context.Context, patientID string, input PatientInput) (models.Patient, bool, error)
	DeletePatient(ctx context.Context, patientID string) (bool, error)
}

type ServiceInput struct {
	Name                  string
	AvgServiceTimeMinutes int
}

type ServiceStore interface {
	ListServices(ctx context.Context) ([]models.Service, error)
	GetService(ctx context.Context, serviceID string) (models.Service, bool, error)
	CreateService(ctx context.Context, input ServiceInput) (models.Service, error)
	UpdateService(ctx context.Context, serviceID string, input ServiceInput) (models.Service, bool, error)
	DeleteService(ctx context.Context, serviceID string) (bool, error)
	DefaultServiceID(ctx context.Context) (string, bool, error)
}

type TriageInput struct {
	PatientID  string
	TriagistID string
	Score      int
	Notes      string
}

// TriageFilter narrows ListTriages. Zero values match everything.
type TriageFilter struct {
	PatientID string
	Score     int
	Limit     int
}

type TriageStore interface {
	CreateTriage(ctx context.Context, input TriageInput) (models.Triage, error)
	GetTriage(ctx context.Context, triageID string) (models.TriageDetail, bool, error)
	DeleteTriage(ctx context.Context, triageID string) (bool, error)
	ListTriagesByPatient(ctx context.Context, patientID string) ([]models.Triage, error)
	// ListTriages returns the newest triages first.
	ListTriages(ctx context.Context, filter TriageFilter) ([]models.Triage, error)
	CountTriages(ctx context.Context) (int, error)
}

type UserInput struct {
	Name         string
	Email        string
	Function     models.Function
	PasswordHash string
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, bool, error)
	GetUser(ctx context.Context, userID string) (models.User, bool, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, input UserInput) (models.User, error)
	CountUsers(ctx context.Context) (int, error)
}

type StatsStore interface {
	Summary(ctx context.Context, now time.Time) (models.Summary, error)
	StatusCounts(ctx context.Context) (models.StatusCounts, error)
	DailyStats(ctx context.Context, day time.Time) (models.DailyStats, error)
	ServiceStats(ctx context.Context) ([]models.ServiceStats, error)
	RecentPatients(ctx context.Context, limit int) ([]models.Patient, error)
	ExportEntries(ctx context.Context, from, to time.Time) ([]models.ExportRow, error)
}

// OutboxStore hands unpublished events to fn inside a transaction; rows are
// marked published only when fn returns nil.
type OutboxStore interface {
	ClaimOutbox(ctx context.Context, limit int, fn func([]OutboxEvent) error) (int, error)
	PurgeOutbox(ctx context.Context, before time.Time) (int64, error)
}

type Store interface {
	QueueStore
	PatientStore
	ServiceStore
	TriageStore
	UserStore
	StatsStore
}
