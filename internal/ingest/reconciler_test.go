package ingest

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hearthkeep/famsync/internal/db"
)

func setupReconciler(t *testing.T) (*Reconciler, *db.DB, string, func()) {
	t.Helper()

	store, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	family := &db.Family{Name: "Test Family"}
	if err := store.CreateFamily(family); err != nil {
		t.Fatalf("failed to create family: %v", err)
	}

	return NewReconciler(store, time.UTC), store, family.ID, func() { store.Close() }
}

func futureDate() string {
	return time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
}

func TestIngest(t *testing.T) {
	t.Run("new candidate creates an event", func(t *testing.T) {
		reconciler, store, familyID, cleanup := setupReconciler(t)
		defer cleanup()

		eventID, created, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Soccer Practice",
			EventDate:   futureDate(),
			EventTime:   "16:00",
			MemberNames: []string{"Emma"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
		if !created {
			t.Error("expected new event")
		}

		event, err := store.GetEventByID(eventID)
		if err != nil {
			t.Fatalf("failed to load event: %v", err)
		}
		if event.IsConfirmed {
			t.Error("ingested events must await confirmation")
		}
		if event.MemberNames != "Emma" {
			t.Errorf("expected member names joined, got %q", event.MemberNames)
		}
	})

	t.Run("exact title and member match is a duplicate regardless of time", func(t *testing.T) {
		reconciler, _, familyID, cleanup := setupReconciler(t)
		defer cleanup()

		date := futureDate()
		first, _, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Soccer Practice",
			EventDate:   date,
			EventTime:   "16:00",
			MemberNames: []string{"Emma"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}

		// Identical raw title, same member, hours apart: still a duplicate.
		second, created, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Soccer Practice",
			EventDate:   date,
			EventTime:   "19:00",
			MemberNames: []string{"emma"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
		if created {
			t.Error("expected duplicate, got new event")
		}
		if second != first {
			t.Errorf("expected existing id %s, got %s", first, second)
		}
	})

	t.Run("punctuation variant within the window is a duplicate", func(t *testing.T) {
		reconciler, _, familyID, cleanup := setupReconciler(t)
		defer cleanup()

		date := futureDate()
		first, _, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Soccer Practice",
			EventDate:   date,
			EventTime:   "16:00",
			MemberNames: []string{"Emma"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}

		// Differs only in case and punctuation, 30 minutes apart: the
		// normalized titles match and the window agrees.
		second, created, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "SOCCER practice!",
			EventDate:   date,
			EventTime:   "16:30",
			MemberNames: []string{"emma"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
		if created {
			t.Error("expected duplicate, got new event")
		}
		if second != first {
			t.Errorf("expected existing id %s, got %s", first, second)
		}
	})

	t.Run("punctuation variant hours apart is distinct", func(t *testing.T) {
		reconciler, _, familyID, cleanup := setupReconciler(t)
		defer cleanup()

		date := futureDate()
		if _, _, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Soccer Practice",
			EventDate:   date,
			EventTime:   "08:00",
			MemberNames: []string{"Emma"},
		}); err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}

		// Titles only match after normalization, so the time window
		// applies; seven hours apart means a second event.
		_, created, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "soccer practice!!",
			EventDate:   date,
			EventTime:   "15:00",
			MemberNames: []string{"Emma"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
		if !created {
			t.Error("expected distinct event outside the time window")
		}
	})

	t.Run("fuzzy match needs close start times", func(t *testing.T) {
		reconciler, _, familyID, cleanup := setupReconciler(t)
		defer cleanup()

		date := futureDate()
		if _, _, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Soccer Practice at the Park",
			EventDate:   date,
			EventTime:   "16:00",
			MemberNames: []string{"Emma"},
		}); err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}

		// Similar title, same member, 30 minutes apart: duplicate.
		_, created, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Soccer Practice",
			EventDate:   date,
			EventTime:   "16:30",
			MemberNames: []string{"Emma"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
		if created {
			t.Error("expected fuzzy duplicate")
		}

		// Same title but three hours apart: distinct event.
		_, created, err = reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Soccer Practice",
			EventDate:   date,
			EventTime:   "19:30",
			MemberNames: []string{"Emma"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
		if !created {
			t.Error("expected distinct event outside the time window")
		}
	})

	t.Run("different members are distinct events", func(t *testing.T) {
		reconciler, _, familyID, cleanup := setupReconciler(t)
		defer cleanup()

		date := futureDate()
		if _, _, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Dentist",
			EventDate:   date,
			EventTime:   "09:00",
			MemberNames: []string{"Emma"},
		}); err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}

		_, created, err := reconciler.Ingest(Candidate{
			FamilyID:    familyID,
			Title:       "Dentist",
			EventDate:   date,
			EventTime:   "09:00",
			MemberNames: []string{"Jake"},
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
		if !created {
			t.Error("expected distinct event for a different member")
		}
	})

	t.Run("past dates are dropped", func(t *testing.T) {
		reconciler, _, familyID, cleanup := setupReconciler(t)
		defer cleanup()

		_, _, err := reconciler.Ingest(Candidate{
			FamilyID:  familyID,
			Title:     "Old News",
			EventDate: time.Now().UTC().AddDate(0, 0, -3).Format("2006-01-02"),
		})
		if !errors.Is(err, ErrPastDate) {
			t.Errorf("expected ErrPastDate, got %v", err)
		}
	})

	t.Run("yesterday is still accepted", func(t *testing.T) {
		reconciler, _, familyID, cleanup := setupReconciler(t)
		defer cleanup()

		_, created, err := reconciler.Ingest(Candidate{
			FamilyID:  familyID,
			Title:     "Yesterday's Game",
			EventDate: time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"),
		})
		if err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
		if !created {
			t.Error("expected event created")
		}
	})
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Soccer Practice", "soccerpractice"},
		{"SOCCER practice!", "soccerpractice"},
		{"Emma's Recital (Spring)", "emmasrecitalspring"},
	}

	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q) = %q, expected %q", tc.in, got, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	t.Run("identical strings score one", func(t *testing.T) {
		if got := similarity("soccerpractice", "soccerpractice"); got != 1 {
			t.Errorf("expected 1, got %f", got)
		}
	})

	t.Run("containment scores at least 0.85", func(t *testing.T) {
		got := similarity("soccer", "soccerpractice")
		if got < 0.85 {
			t.Errorf("expected at least 0.85, got %f", got)
		}
	})

	t.Run("unrelated strings score low", func(t *testing.T) {
		got := similarity("dentistappointment", "soccerpractice")
		if got > 0.8 {
			t.Errorf("expected below threshold, got %f", got)
		}
	})
}

func TestTimesWithin(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"16:00", "16:30", true},
		{"16:00", "17:00", true},
		{"16:00", "17:01", false},
		{"", "", true},
		{"16:00", "", false},
	}

	for _, tc := range cases {
		if got := timesWithin(tc.a, tc.b, 60*time.Minute); got != tc.want {
			t.Errorf("timesWithin(%q, %q) = %v, expected %v", tc.a, tc.b, got, tc.want)
		}
	}
}
