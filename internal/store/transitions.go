package store

import (
	"time"

	"clinicqueue/internal/models"
)

type Action string

const (
	ActionCall   Action = "call"
	ActionStart  Action = "start"
	ActionFinish Action = "finish"
	ActionCancel Action = "cancel"
)

type transition struct {
	from      []models.Status
	to        models.Status
	column    string
	eventType string
}

var transitionTable = map[Action]transition{
	ActionCall: {
		from:      []models.Status{models.StatusWaiting},
		to:        models.StatusCalled,
		column:    "called_at",
		eventType: EventCalled,
	},
	ActionStart: {
		from:      []models.Status{models.StatusCalled},
		to:        models.StatusInService,
		column:    "started_at",
		eventType: EventStarted,
	},
	ActionFinish: {
		from:      []models.Status{models.StatusInService},
		to:        models.StatusFinished,
		column:    "finished_at",
		eventType: EventFinished,
	},
	ActionCancel: {
		from:      []models.Status{models.StatusWaiting, models.StatusCalled, models.StatusInService},
		to:        models.StatusCanceled,
		eventType: EventCanceled,
	},
}

func (a Action) Valid() bool {
	_, ok := transitionTable[a]
	return ok
}

func ValidTransition(action Action, fromStatus models.Status) bool {
	t, ok := transitionTable[action]
	if !ok {
		return false
	}
	for _, status := range t.from {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// SourceStatuses lists the statuses an entry may be in for action to apply.
func SourceStatuses(action Action) []models.Status {
	t := transitionTable[action]
	out := make([]models.Status, len(t.from))
	copy(out, t.from)
	return out
}

func TargetStatus(action Action) models.Status {
	return transitionTable[action].to
}

// TimestampColumn is the entry column stamped by action, empty for cancel.
func TimestampColumn(action Action) string {
	return transitionTable[action].column
}

func EventTypeFor(action Action) string {
	return transitionTable[action].eventType
}

// ApplyTransition moves entry through action at the given time. The entry is
// left untouched when the transition is not allowed.
func ApplyTransition(entry *models.QueueEntry, action Action, at time.Time) error {
	if !action.Valid() {
		return ValidationError{Fields: map[string]string{"action": "unknown action"}}
	}
	if !ValidTransition(action, entry.Status) {
		return InvalidStateError{EntryID: entry.ID, Action: action, Status: entry.Status}
	}
	stamp := at
	switch action {
	case ActionCall:
		entry.CalledAt = &stamp
	case ActionStart:
		entry.StartedAt = &stamp
	case ActionFinish:
		entry.FinishedAt = &stamp
	}
	entry.Status = TargetStatus(action)
	entry.UpdatedAt = at
	return nil
}
