package sync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hearthkeep/famsync/internal/db"
	"github.com/hearthkeep/famsync/internal/tasks"
)

func setupSweeper(t *testing.T) (*Sweeper, *db.DB, func()) {
	t.Helper()

	store, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	queue := tasks.NewQueue(store)
	sweeper := NewSweeper(store, queue, time.Minute, 24*time.Hour)

	return sweeper, store, func() { store.Close() }
}

func TestSweepQueuesPendingEvents(t *testing.T) {
	sweeper, store, cleanup := setupSweeper(t)
	defer cleanup()

	family := &db.Family{Name: "Sweep Family"}
	if err := store.CreateFamily(family); err != nil {
		t.Fatalf("failed to create family: %v", err)
	}

	for i := 0; i < 3; i++ {
		confirmedEvent(t, store, family.ID)
	}
	// Unconfirmed event stays out of the pipeline.
	unconfirmed := &db.Event{FamilyID: family.ID, Title: "Draft", EventDate: "2026-09-20"}
	if err := store.CreateEvent(unconfirmed); err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	sweeper.Sweep()

	if n, _ := store.PendingJobCount(); n != 3 {
		t.Errorf("expected 3 queued jobs, got %d", n)
	}
}

func TestSweepDue(t *testing.T) {
	sweeper, _, cleanup := setupSweeper(t)
	defer cleanup()

	now := time.Now().UTC()
	recent := now.Add(-30 * time.Second)
	old := now.Add(-2 * time.Minute)

	cases := []struct {
		name  string
		event *db.Event
		want  bool
	}{
		{
			name:  "fresh pending event is due",
			event: &db.Event{SyncRetryCount: 0},
			want:  true,
		},
		{
			name:  "failed event inside backoff window is skipped",
			event: &db.Event{SyncRetryCount: 1, LastSyncAttempt: &recent},
			want:  false,
		},
		{
			name:  "failed event past backoff window is due",
			event: &db.Event{SyncRetryCount: 1, LastSyncAttempt: &old},
			want:  true,
		},
		{
			name:  "exhausted event is left for manual retry",
			event: &db.Event{SyncRetryCount: MaxRetries, LastSyncAttempt: &old},
			want:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sweeper.due(tc.event, now); got != tc.want {
				t.Errorf("due() = %v, expected %v", got, tc.want)
			}
		})
	}
}

func TestSweepSkipsExhaustedEvents(t *testing.T) {
	sweeper, store, cleanup := setupSweeper(t)
	defer cleanup()

	family := &db.Family{Name: "Exhausted Family"}
	if err := store.CreateFamily(family); err != nil {
		t.Fatalf("failed to create family: %v", err)
	}

	event := confirmedEvent(t, store, family.ID)
	for i := 0; i < MaxRetries; i++ {
		if _, err := store.MarkEventSyncFailed(event.ID, "broken"); err != nil {
			t.Fatalf("failed to mark failed: %v", err)
		}
	}

	sweeper.Sweep()

	if n, _ := store.PendingJobCount(); n != 0 {
		t.Errorf("expected exhausted event to stay parked, got %d jobs", n)
	}
}
