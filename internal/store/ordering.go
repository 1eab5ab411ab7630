package store

import (
	"slices"

	"clinicqueue/internal/models"
)

// CompareEntries orders entries by priority (1 first) then arrival time.
func CompareEntries(a, b models.QueueEntry) int {
	if a.Priority != b.Priority {
		if a.Priority < b.Priority {
			return -1
		}
		return 1
	}
	return a.ArrivedAt.Compare(b.ArrivedAt)
}

func SortEntries(entries []models.QueueEntry) {
	slices.SortStableFunc(entries, CompareEntries)
}

func SortActive(entries []models.ActiveEntry) {
	slices.SortStableFunc(entries, func(a, b models.ActiveEntry) int {
		return CompareEntries(a.QueueEntry, b.QueueEntry)
	})
}

// GroupDisplay splits an ordered active list into display columns, keeping order.
func GroupDisplay(entries []models.ActiveEntry) models.DisplayBoard {
	board := models.DisplayBoard{
		Waiting:   []models.ActiveEntry{},
		Called:    []models.ActiveEntry{},
		InService: []models.ActiveEntry{},
	}
	for _, entry := range entries {
		switch entry.Status {
		case models.StatusWaiting:
			board.Waiting = append(board.Waiting, entry)
		case models.StatusCalled:
			board.Called = append(board.Called, entry)
		case models.StatusInService:
			board.InService = append(board.InService, entry)
		}
	}
	return board
}
