package models

import "time"

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalled    Status = "called"
	StatusInService Status = "in_service"
	StatusFinished  Status = "finished"
	StatusCanceled  Status = "canceled"
)

var AllStatuses = []Status{StatusWaiting, StatusCalled, StatusInService, StatusFinished, StatusCanceled}

var ActiveStatuses = []Status{StatusWaiting, StatusCalled, StatusInService}

func (s Status) Valid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusCalled || s == StatusInService
}

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled
}

const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 5
)

type QueueEntry struct {
	ID         string     `json:"id"`
	RequestID  string     `json:"request_id,omitempty"`
	PatientID  string     `json:"patient_id"`
	ServiceID  string     `json:"service_id"`
	Priority   int        `json:"priority"`
	Status     Status     `json:"status"`
	ArrivedAt  time.Time  `json:"arrived_at"`
	CalledAt   *time.Time `json:"called_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedBy  *string    `json:"created_by,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ActiveEntry is a queue entry joined with the patient and service it references.
type ActiveEntry struct {
	QueueEntry
	Patient PatientRef `json:"patient"`
	Service ServiceRef `json:"service"`
}

type PatientRef struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Document *string `json:"document,omitempty"`
}

type ServiceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DisplayBoard struct {
	Waiting   []ActiveEntry `json:"waiting"`
	Called    []ActiveEntry `json:"called"`
	InService []ActiveEntry `json:"in_service"`
}
