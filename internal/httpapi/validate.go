package httpapi

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"clinicqueue/internal/auth"
	"clinicqueue/internal/models"
	"clinicqueue/internal/store"
)

const (
	maxNameLength     = 255
	maxDocumentLength = 20
	maxPhoneLength    = 15
	dateLayout        = "2006-01-02"
)

type patientRequest struct {
	Name      string  `json:"name"`
	Document  *string `json:"document"`
	BirthDate string  `json:"birth_date"`
	Phone     *string `json:"phone"`
}

func (req patientRequest) validate(today time.Time) (store.PatientInput, error) {
	var verr store.ValidationError
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		verr.Add("name", "is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		verr.Add("name", "must be at most 255 characters")
	}
	if req.Document != nil && utf8.RuneCountInString(strings.TrimSpace(*req.Document)) > maxDocumentLength {
		verr.Add("document", "must be at most 20 characters")
	}
	if req.Phone != nil && utf8.RuneCountInString(strings.TrimSpace(*req.Phone)) > maxPhoneLength {
		verr.Add("phone", "must be at most 15 characters")
	}
	birthDate, err := time.Parse(dateLayout, strings.TrimSpace(req.BirthDate))
	switch {
	case strings.TrimSpace(req.BirthDate) == "":
		verr.Add("birth_date", "is required")
	case err != nil:
		verr.Add("birth_date", "must be a YYYY-MM-DD date")
	case !birthDate.Before(truncateDay(today)):
		verr.Add("birth_date", "must be before today")
	}
	if err := verr.Err(); err != nil {
		return store.PatientInput{}, err
	}
	return store.PatientInput{
		Name:      name,
		Document:  req.Document,
		BirthDate: birthDate.Format(dateLayout),
		Phone:     req.Phone,
	}, nil
}

type serviceRequest struct {
	Name                  string `json:"name"`
	AvgServiceTimeMinutes *int   `json:"avg_service_time_minutes"`
}

func (req serviceRequest) validate() (store.ServiceInput, error) {
	var verr store.ValidationError
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		verr.Add("name", "is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		verr.Add("name", "must be at most 255 characters")
	}
	avg := 15
	if req.AvgServiceTimeMinutes != nil {
		avg = *req.AvgServiceTimeMinutes
	}
	if avg < 1 {
		verr.Add("avg_service_time_minutes", "must be at least 1")
	}
	if err := verr.Err(); err != nil {
		return store.ServiceInput{}, err
	}
	return store.ServiceInput{Name: name, AvgServiceTimeMinutes: avg}, nil
}

type userRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Function models.Function `json:"function"`
	Password string          `json:"password"`
}

// validate checks the request and hashes the password.
func (req userRequest) validate() (store.UserInput, error) {
	var verr store.ValidationError
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		verr.Add("name", "is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		verr.Add("name", "must be at most 255 characters")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if address, err := mail.ParseAddress(email); err != nil || address.Address != email {
		verr.Add("email", "must be a valid email address")
	}
	if !req.Function.Valid() {
		verr.Add("function", "must be one of admin, triagist, doctor")
	}
	if len(req.Password) < auth.MinPasswordLength {
		verr.Add("password", "must be at least 8 characters")
	}
	if err := verr.Err(); err != nil {
		return store.UserInput{}, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return store.UserInput{}, err
	}
	return store.UserInput{Name: name, Email: email, Function: req.Function, PasswordHash: hash}, nil
}

func truncateDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
