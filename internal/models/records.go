package models

import "time"

type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Document  *string   `json:"document,omitempty"`
	BirthDate string    `json:"birth_date"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedBy *string   `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	AvgServiceTimeMinutes int       `json:"avg_service_time_minutes"`
	CreatedAt             time.Time `json:"created_at"`
}

type Triage struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	TriagistID string    `json:"triagist_id"`
	Score      int       `json:"score"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TriageDetail is a triage with the names of the patient and of the
// triagist. Triagist is nil once the user has been removed.
type TriageDetail struct {
	Triage
	Patient  PatientRef `json:"patient"`
	Triagist *UserRef   `json:"triagist,omitempty"`
}

type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Function string

const (
	FunctionAdmin    Function = "admin"
	FunctionTriagist Function = "triagist"
	FunctionDoctor   Function = "doctor"
)

func (f Function) Valid() bool {
	return f == FunctionAdmin || f == FunctionTriagist || f == FunctionDoctor
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Function     Function  `json:"function"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
