package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"clinicqueue/internal/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid entry state")
	ErrEmptyQueue         = errors.New("no waiting entry")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError maps each rejected field to a human readable reason.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = message
}

// Err returns nil when no field was rejected.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return *e
}

func (e ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidStateError reports the status the entry was actually in when the
// requested action was rejected.
type InvalidStateError struct {
	EntryID string
	Action  Action
	Status  models.Status
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s entry %s: status is %s", e.Action, e.EntryID, e.Status)
}

func (e InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

type EmptyQueueError struct {
	ServiceID string
}

func (e EmptyQueueError) Error() string {
	if e.ServiceID == "" {
		return "no waiting entry in queue"
	}
	return fmt.Sprintf("no waiting entry for service %s", e.ServiceID)
}

func (e EmptyQueueError) Is(target error) bool {
	return target == ErrEmptyQueue
}

type ConflictError struct {
	Resource string
	Message  string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Resource, e.Message)
}

func (e ConflictError) Is(target error) bool {
	return target == ErrConflict
}
