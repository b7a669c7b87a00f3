package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthkeep/famsync/internal/config"
	"github.com/hearthkeep/famsync/internal/db"
	"github.com/hearthkeep/famsync/internal/google"
	"github.com/hearthkeep/famsync/internal/ingest"
	syncengine "github.com/hearthkeep/famsync/internal/sync"
	"github.com/hearthkeep/famsync/internal/tasks"
)

func setupServer(t *testing.T) (*gin.Engine, *db.DB, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/token" {
			w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
			return
		}
		w.Write([]byte(`{"id":"gcal-1"}`))
	}))

	tokens := google.NewTokenRefresher("id", "secret", fake.URL+"/token")
	calendar := google.NewCalendarClient(fake.URL, 100, 100)
	queue := tasks.NewQueue(store)
	engine := syncengine.NewEngine(store, calendar, tokens, queue, time.UTC)
	reconciler := ingest.NewReconciler(store, time.UTC)
	handlers := NewHandlers(store, engine, queue, reconciler, time.UTC)

	cfg := &config.Config{
		Environment:    "test",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	router := NewRouter(cfg, handlers)

	cleanup := func() {
		fake.Close()
		store.Close()
	}
	return router, store, cleanup
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTestFamily(t *testing.T, store *db.DB) *db.Family {
	t.Helper()

	family := &db.Family{Name: "API Family"}
	if err := store.CreateFamily(family); err != nil {
		t.Fatalf("failed to create family: %v", err)
	}
	return family
}

func futureDate() string {
	return time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
}

func TestFamilyEndpoints(t *testing.T) {
	router, store, cleanup := setupServer(t)
	defer cleanup()

	t.Run("create family", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/families", `{"name":"The Parkers"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}

		var family db.Family
		if err := json.Unmarshal(w.Body.Bytes(), &family); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if family.ID == "" || family.Name != "The Parkers" {
			t.Errorf("unexpected family %+v", family)
		}
	})

	t.Run("missing name is rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/families", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("bind calendar", func(t *testing.T) {
		family := createTestFamily(t, store)

		w := doJSON(t, router, http.MethodPost, "/api/families/"+family.ID+"/calendar",
			`{"calendar_id":"cal-1","calendar_name":"Family"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		got, _ := store.GetFamilyByID(family.ID)
		if got.GoogleCalendarID != "cal-1" {
			t.Errorf("expected calendar bound, got %q", got.GoogleCalendarID)
		}
	})

	t.Run("binding a calendar revives vacuously synced events", func(t *testing.T) {
		family := createTestFamily(t, store)

		event := &db.Event{FamilyID: family.ID, Title: "Waiting", EventDate: futureDate(), IsConfirmed: true}
		if err := store.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		// Settled as synced with no external id while the family had no
		// calendar.
		if err := store.MarkEventSynced(event.ID, ""); err != nil {
			t.Fatalf("failed to mark synced: %v", err)
		}
		before, _ := store.PendingJobCount()

		w := doJSON(t, router, http.MethodPost, "/api/families/"+family.ID+"/calendar",
			`{"calendar_id":"cal-2","calendar_name":"Family"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		got, _ := store.GetEventByID(event.ID)
		if got.SyncStatus != db.SyncPending {
			t.Errorf("expected event revived to pending, got %q", got.SyncStatus)
		}
		after, _ := store.PendingJobCount()
		if after != before+1 {
			t.Errorf("expected one queued sync, got %d -> %d", before, after)
		}
	})

	t.Run("connect account hides tokens", func(t *testing.T) {
		family := createTestFamily(t, store)

		w := doJSON(t, router, http.MethodPost, "/api/families/"+family.ID+"/accounts",
			`{"email":"mom@example.com","refresh_token":"secret-token"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		if strings.Contains(w.Body.String(), "secret-token") {
			t.Error("refresh token leaked into response")
		}
	})
}

func TestEventEndpoints(t *testing.T) {
	router, store, cleanup := setupServer(t)
	defer cleanup()

	family := createTestFamily(t, store)

	t.Run("confirmed event enters the pipeline", func(t *testing.T) {
		body := fmt.Sprintf(`{"family_id":%q,"title":"Dentist","event_date":%q,"event_time":"10:00","is_confirmed":true}`,
			family.ID, futureDate())
		w := doJSON(t, router, http.MethodPost, "/api/events", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}

		if n, _ := store.PendingJobCount(); n != 1 {
			t.Errorf("expected 1 queued sync job, got %d", n)
		}
	})

	t.Run("unconfirmed event does not sync", func(t *testing.T) {
		before, _ := store.PendingJobCount()

		body := fmt.Sprintf(`{"family_id":%q,"title":"Maybe","event_date":%q}`, family.ID, futureDate())
		w := doJSON(t, router, http.MethodPost, "/api/events", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}

		after, _ := store.PendingJobCount()
		if after != before {
			t.Errorf("expected no new job, got %d -> %d", before, after)
		}
	})

	t.Run("confirm queues sync", func(t *testing.T) {
		event := &db.Event{FamilyID: family.ID, Title: "Recital", EventDate: futureDate()}
		if err := store.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		before, _ := store.PendingJobCount()

		w := doJSON(t, router, http.MethodPost, "/api/events/"+event.ID+"/confirm", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		after, _ := store.PendingJobCount()
		if after != before+1 {
			t.Errorf("expected one new job, got %d -> %d", before, after)
		}
	})

	t.Run("confirming a recurring parent materializes instances", func(t *testing.T) {
		event := &db.Event{
			FamilyID:           family.ID,
			Title:              "Piano Lesson",
			EventDate:          futureDate(),
			EventTime:          "15:00",
			IsRecurring:        true,
			RecurrencePattern:  db.RecurWeekly,
			RecurrenceEndType:  db.RecurEndCount,
			RecurrenceEndCount: 4,
		}
		if err := store.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}

		w := doJSON(t, router, http.MethodPost, "/api/events/"+event.ID+"/confirm", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		instances, err := store.InstancesOfEvent(event.ID)
		if err != nil {
			t.Fatalf("failed to load instances: %v", err)
		}
		if len(instances) != 3 {
			t.Errorf("expected 3 instances, got %d", len(instances))
		}
		for _, instance := range instances {
			if !instance.IsRecurringInstance {
				t.Error("expected instance flag set")
			}
		}
	})

	t.Run("update confirmed event queues push", func(t *testing.T) {
		event := &db.Event{FamilyID: family.ID, Title: "Checkup", EventDate: futureDate(), IsConfirmed: true}
		if err := store.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		before, _ := store.PendingJobCount()

		w := doJSON(t, router, http.MethodPut, "/api/events/"+event.ID, `{"location":"Clinic B"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		got, _ := store.GetEventByID(event.ID)
		if got.Location != "Clinic B" {
			t.Errorf("expected location updated, got %q", got.Location)
		}
		after, _ := store.PendingJobCount()
		if after != before+1 {
			t.Errorf("expected one queued update, got %d -> %d", before, after)
		}
	})

	t.Run("unknown event is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/events/nope", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("delete queues remote removal for synced events", func(t *testing.T) {
		event := &db.Event{FamilyID: family.ID, Title: "Gone Soon", EventDate: futureDate(), IsConfirmed: true}
		if err := store.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		if err := store.MarkEventSynced(event.ID, "gcal-55"); err != nil {
			t.Fatalf("failed to mark synced: %v", err)
		}
		before, _ := store.PendingJobCount()

		w := doJSON(t, router, http.MethodDelete, "/api/events/"+event.ID, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		if _, err := store.GetEventByID(event.ID); err == nil {
			t.Error("expected local row deleted")
		}
		after, _ := store.PendingJobCount()
		if after != before+1 {
			t.Errorf("expected queued remote delete, got %d -> %d", before, after)
		}
	})

	t.Run("delete of unsynced event stays local", func(t *testing.T) {
		event := &db.Event{FamilyID: family.ID, Title: "Local Only", EventDate: futureDate()}
		if err := store.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		before, _ := store.PendingJobCount()

		w := doJSON(t, router, http.MethodDelete, "/api/events/"+event.ID, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		after, _ := store.PendingJobCount()
		if after != before {
			t.Errorf("expected no remote delete queued, got %d -> %d", before, after)
		}
	})
}

func TestIngestEndpoint(t *testing.T) {
	router, store, cleanup := setupServer(t)
	defer cleanup()

	family := createTestFamily(t, store)

	t.Run("new candidate", func(t *testing.T) {
		body := fmt.Sprintf(`{"family_id":%q,"title":"Soccer Practice","event_date":%q,"event_time":"16:00","member_names":["Emma"]}`,
			family.ID, futureDate())
		w := doJSON(t, router, http.MethodPost, "/api/events/ingest", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), `"created":true`) {
			t.Errorf("expected created:true, got %s", w.Body.String())
		}
	})

	t.Run("duplicate candidate", func(t *testing.T) {
		body := fmt.Sprintf(`{"family_id":%q,"title":"soccer practice!","event_date":%q,"event_time":"16:00","member_names":["emma"]}`,
			family.ID, futureDate())
		w := doJSON(t, router, http.MethodPost, "/api/events/ingest", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), `"created":false`) {
			t.Errorf("expected created:false, got %s", w.Body.String())
		}
	})

	t.Run("past date is skipped", func(t *testing.T) {
		past := time.Now().UTC().AddDate(0, 0, -5).Format("2006-01-02")
		body := fmt.Sprintf(`{"family_id":%q,"title":"Old","event_date":%q}`, family.ID, past)
		w := doJSON(t, router, http.MethodPost, "/api/events/ingest", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "past_date") {
			t.Errorf("expected past_date skip, got %s", w.Body.String())
		}
	})
}

func TestSyncEndpoints(t *testing.T) {
	router, store, cleanup := setupServer(t)
	defer cleanup()

	family := createTestFamily(t, store)
	if err := store.SetFamilyCalendar(family.ID, "cal-1", "Family"); err != nil {
		t.Fatalf("failed to bind calendar: %v", err)
	}

	t.Run("sync status roll-up", func(t *testing.T) {
		event := &db.Event{FamilyID: family.ID, Title: "Pending", EventDate: futureDate(), IsConfirmed: true}
		if err := store.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}

		w := doJSON(t, router, http.MethodGet, "/api/families/"+family.ID+"/sync-status", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		var status struct {
			CalendarConnected bool                  `json:"calendar_connected"`
			Counts            map[db.SyncStatus]int `json:"counts"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if !status.CalendarConnected {
			t.Error("expected calendar connected")
		}
		if status.Counts[db.SyncPending] < 1 {
			t.Errorf("expected pending count, got %v", status.Counts)
		}
	})

	t.Run("event retry resets and queues", func(t *testing.T) {
		event := &db.Event{FamilyID: family.ID, Title: "Stuck", EventDate: futureDate(), IsConfirmed: true}
		if err := store.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		for i := 0; i < 5; i++ {
			if _, err := store.MarkEventSyncFailed(event.ID, "broken"); err != nil {
				t.Fatalf("failed to mark failed: %v", err)
			}
		}

		w := doJSON(t, router, http.MethodPost, "/api/events/"+event.ID+"/retry-sync", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		got, _ := store.GetEventByID(event.ID)
		if got.SyncStatus != db.SyncPending || got.SyncRetryCount != 0 {
			t.Errorf("expected reset, got %q count %d", got.SyncStatus, got.SyncRetryCount)
		}
	})

	t.Run("family retry reports queued count", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/families/"+family.ID+"/retry-sync", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "queued") {
			t.Errorf("expected queued count, got %s", w.Body.String())
		}
	})
}

func TestICalFeed(t *testing.T) {
	router, store, cleanup := setupServer(t)
	defer cleanup()

	family := createTestFamily(t, store)
	event := &db.Event{FamilyID: family.ID, Title: "Recital", EventDate: futureDate(), EventTime: "18:00", IsConfirmed: true}
	if err := store.CreateEvent(event); err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	w := doJSON(t, router, http.MethodGet, "/ical/"+family.ID+".ics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("expected text/calendar, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "SUMMARY:Recital") {
		t.Errorf("expected event in feed, got %s", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	router, _, cleanup := setupServer(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
