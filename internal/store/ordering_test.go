package store

import (
	"testing"
	"time"

	"clinicqueue/internal/models"
)

func TestSortEntriesPriorityThenArrival(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	entries := []models.QueueEntry{
		{ID: "A", Priority: 3, ArrivedAt: base},
		{ID: "B", Priority: 1, ArrivedAt: base.Add(5 * time.Minute)},
		{ID: "C", Priority: 1, ArrivedAt: base.Add(1 * time.Minute)},
	}
	SortEntries(entries)

	want := []string{"C", "B", "A"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, entries[i].ID)
		}
	}
}

func TestSortEntriesStableOnTies(t *testing.T) {
	at := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	entries := []models.QueueEntry{
		{ID: "first", Priority: 2, ArrivedAt: at},
		{ID: "second", Priority: 2, ArrivedAt: at},
		{ID: "third", Priority: 2, ArrivedAt: at},
	}
	SortEntries(entries)
	if entries[0].ID != "first" || entries[1].ID != "second" || entries[2].ID != "third" {
		t.Fatalf("tie order changed: %v %v %v", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestGroupDisplay(t *testing.T) {
	entries := []models.ActiveEntry{
		{QueueEntry: models.QueueEntry{ID: "1", Status: models.StatusCalled}},
		{QueueEntry: models.QueueEntry{ID: "2", Status: models.StatusWaiting}},
		{QueueEntry: models.QueueEntry{ID: "3", Status: models.StatusInService}},
		{QueueEntry: models.QueueEntry{ID: "4", Status: models.StatusWaiting}},
	}
	board := GroupDisplay(entries)
	if len(board.Waiting) != 2 || board.Waiting[0].ID != "2" || board.Waiting[1].ID != "4" {
		t.Fatalf("unexpected waiting column: %+v", board.Waiting)
	}
	if len(board.Called) != 1 || len(board.InService) != 1 {
		t.Fatalf("unexpected board: %+v", board)
	}
}

func TestGroupDisplayEmptyColumnsNotNil(t *testing.T) {
	board := GroupDisplay(nil)
	if board.Waiting == nil || board.Called == nil || board.InService == nil {
		t.Fatalf("expected empty slices, got %+v", board)
	}
}
