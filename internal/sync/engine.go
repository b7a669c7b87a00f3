// Package sync implements the calendar sync engine: pushing local events to
// the external calendar with durable, bounded retry.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hearthkeep/famsync/internal/db"
	"github.com/hearthkeep/famsync/internal/google"
	"github.com/hearthkeep/famsync/internal/tasks"
)

// Result is the outcome of one sync operation. Failures are values, not
// errors: every failure has already been persisted to the event's sync state
// before the Result is returned.
type Result struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	GoogleEventID string `json:"google_event_id,omitempty"`
}

// Engine drives create, update, and delete pushes to the external calendar.
type Engine struct {
	store    *db.DB
	calendar *google.CalendarClient
	tokens   *google.TokenRefresher
	queue    *tasks.Queue
	loc      *time.Location
}

// NewEngine creates a sync engine. loc is the zone used for timed events.
func NewEngine(store *db.DB, calendar *google.CalendarClient, tokens *google.TokenRefresher, queue *tasks.Queue, loc *time.Location) *Engine {
	return &Engine{
		store:    store,
		calendar: calendar,
		tokens:   tokens,
		queue:    queue,
		loc:      loc,
	}
}

// CreateSync pushes one event to the external calendar for the first time.
// isRetry marks attempts that came through the retry path; it is recorded
// for diagnostics only. The retry budget is enforced by the retry count
// alone, so a manual retry takes effect through the count reset and a
// redelivered job can never buy an extra attempt.
//
// Every exit persists a consistent sync state first. The precondition ladder
// runs cheapest-first so no API call is spent on an event that cannot sync.
func (e *Engine) CreateSync(ctx context.Context, eventID string, isRetry bool) *Result {
	event, err := e.store.GetEventByID(eventID)
	if errors.Is(err, db.ErrNotFound) {
		log.Printf("[sync] create: event %s no longer exists, dropping", eventID)
		return &Result{Success: false, Error: "event not found"}
	}
	if err != nil {
		log.Printf("[sync] create: failed to load event %s: %v", eventID, err)
		return &Result{Success: false, Error: err.Error()}
	}

	// Idempotent: an event that already holds an external id is synced.
	// Persist that too; a manual retry may have reset the status to pending,
	// and leaving it there would re-queue the event on every sweep.
	if event.GoogleEventID != "" {
		if event.SyncStatus != db.SyncSynced {
			if err := e.store.MarkEventSynced(eventID, ""); err != nil {
				log.Printf("[sync] create: failed to settle event %s as synced: %v", eventID, err)
			}
		}
		return &Result{Success: true, Message: "already synced", GoogleEventID: event.GoogleEventID}
	}

	if event.SyncRetryCount >= MaxRetries {
		msg := fmt.Sprintf("retry budget exhausted after %d attempts", event.SyncRetryCount)
		if err := e.store.MarkEventSyncExhausted(eventID, msg); err != nil {
			log.Printf("[sync] create: failed to mark event %s exhausted: %v", eventID, err)
		}
		e.logOutcome(event.FamilyID, eventID, db.OpCreate, false, msg)
		return &Result{Success: false, Error: msg}
	}

	if isRetry {
		log.Printf("[sync] create: retry attempt %d for event %s", event.SyncRetryCount+1, eventID)
	}

	if err := e.store.MarkEventSyncing(eventID); err != nil {
		log.Printf("[sync] create: failed to mark event %s syncing: %v", eventID, err)
		return &Result{Success: false, Error: err.Error()}
	}

	family, err := e.store.GetFamilyByID(event.FamilyID)
	if err != nil || family.GoogleCalendarID == "" {
		// No destination calendar: syncing is a vacuous success. The event
		// is settled as synced with no external id so the sweep leaves it
		// alone; binding a calendar later resets these rows into the
		// pipeline (see BindCalendar).
		if markErr := e.store.MarkEventSynced(eventID, ""); markErr != nil {
			log.Printf("[sync] create: failed to settle event %s as synced: %v", eventID, markErr)
		}
		return &Result{Success: true, Message: "no calendar configured"}
	}

	account, err := e.store.ActiveAccount(event.FamilyID)
	if errors.Is(err, db.ErrNotFound) {
		return e.failCreate(event, "no active Google account connected")
	}
	if err != nil {
		return e.failCreate(event, err.Error())
	}

	accessToken, err := e.tokens.Refresh(ctx, account.RefreshToken)
	if err != nil {
		return e.failCreate(event, err.Error())
	}

	body, err := e.calendarEvent(event)
	if err != nil {
		return e.failCreate(event, err.Error())
	}

	googleID, err := e.calendar.InsertEvent(ctx, accessToken, family.GoogleCalendarID, body)
	if err != nil {
		return e.failCreate(event, err.Error())
	}

	if err := e.store.MarkEventSynced(eventID, googleID); err != nil {
		log.Printf("[sync] create: event %s synced as %s but state write failed: %v", eventID, googleID, err)
		return &Result{Success: false, Error: err.Error()}
	}
	if err := e.store.TouchFamilyCalendarSync(event.FamilyID); err != nil {
		log.Printf("[sync] create: failed to stamp family %s sync time: %v", event.FamilyID, err)
	}

	log.Printf("[sync] create: event %s synced as %s", eventID, googleID)
	e.logOutcome(event.FamilyID, eventID, db.OpCreate, true, "created "+googleID)

	return &Result{Success: true, Message: "event created", GoogleEventID: googleID}
}

// failCreate persists a failed attempt and schedules the next one while the
// retry budget allows. The incremented count decides: an event never gets a
// sixth automatic attempt.
func (e *Engine) failCreate(event *db.Event, msg string) *Result {
	newCount, err := e.store.MarkEventSyncFailed(event.ID, msg)
	if err != nil {
		log.Printf("[sync] create: failed to record failure for event %s: %v", event.ID, err)
		return &Result{Success: false, Error: msg}
	}

	if newCount < MaxRetries {
		if delay, ok := RetryDelay(newCount); ok {
			if err := e.queue.EnqueueCreate(event.ID, true, delay); err != nil {
				log.Printf("[sync] create: failed to schedule retry for event %s: %v", event.ID, err)
			} else {
				log.Printf("[sync] create: event %s attempt %d failed, retry in %s: %s",
					event.ID, newCount, delay, msg)
			}
		}
	} else {
		log.Printf("[sync] create: event %s failed permanently after %d attempts: %s",
			event.ID, newCount, msg)
	}

	e.logOutcome(event.FamilyID, event.ID, db.OpCreate, false, msg)

	return &Result{Success: false, Error: msg}
}

// UpdateSync pushes the current local state of an already-synced event. An
// event with no external id yet falls back to the create path. Update
// failures are logged but never mutate the event's sync state; the local
// store stays the source of truth and the next user edit pushes again.
func (e *Engine) UpdateSync(ctx context.Context, eventID string) *Result {
	event, err := e.store.GetEventByID(eventID)
	if errors.Is(err, db.ErrNotFound) {
		return &Result{Success: false, Error: "event not found"}
	}
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	if event.GoogleEventID == "" {
		return e.CreateSync(ctx, eventID, false)
	}

	family, err := e.store.GetFamilyByID(event.FamilyID)
	if err != nil || family.GoogleCalendarID == "" {
		return &Result{Success: true, Message: "no calendar configured"}
	}

	account, err := e.store.ActiveAccount(event.FamilyID)
	if err != nil {
		return e.failUpdate(event, "no active Google account connected")
	}

	accessToken, err := e.tokens.Refresh(ctx, account.RefreshToken)
	if err != nil {
		return e.failUpdate(event, err.Error())
	}

	body, err := e.calendarEvent(event)
	if err != nil {
		return e.failUpdate(event, err.Error())
	}

	if err := e.calendar.UpdateEvent(ctx, accessToken, family.GoogleCalendarID, event.GoogleEventID, body); err != nil {
		return e.failUpdate(event, err.Error())
	}

	if err := e.store.TouchEventSynced(eventID); err != nil {
		log.Printf("[sync] update: failed to stamp event %s: %v", eventID, err)
	}

	log.Printf("[sync] update: event %s pushed to %s", eventID, event.GoogleEventID)
	e.logOutcome(event.FamilyID, eventID, db.OpUpdate, true, "updated "+event.GoogleEventID)

	return &Result{Success: true, Message: "event updated", GoogleEventID: event.GoogleEventID}
}

func (e *Engine) failUpdate(event *db.Event, msg string) *Result {
	log.Printf("[sync] update: event %s push failed: %s", event.ID, msg)
	e.logOutcome(event.FamilyID, event.ID, db.OpUpdate, false, msg)
	return &Result{Success: false, Error: msg}
}

// DeleteSync removes an event from the external calendar. The local row is
// already gone; only the family and the external id remain. A 404 from the
// provider counts as success.
func (e *Engine) DeleteSync(ctx context.Context, familyID, googleEventID string) *Result {
	family, err := e.store.GetFamilyByID(familyID)
	if err != nil || family.GoogleCalendarID == "" {
		return &Result{Success: true, Message: "no calendar configured"}
	}

	account, err := e.store.ActiveAccount(familyID)
	if err != nil {
		return e.failDelete(familyID, googleEventID, "no active Google account connected")
	}

	accessToken, err := e.tokens.Refresh(ctx, account.RefreshToken)
	if err != nil {
		return e.failDelete(familyID, googleEventID, err.Error())
	}

	if err := e.calendar.DeleteEvent(ctx, accessToken, family.GoogleCalendarID, googleEventID); err != nil {
		return e.failDelete(familyID, googleEventID, err.Error())
	}

	log.Printf("[sync] delete: removed %s from calendar", googleEventID)
	e.logOutcome(familyID, "", db.OpDelete, true, "deleted "+googleEventID)

	return &Result{Success: true, Message: "event deleted"}
}

func (e *Engine) failDelete(familyID, googleEventID, msg string) *Result {
	log.Printf("[sync] delete: failed to remove %s: %s", googleEventID, msg)
	e.logOutcome(familyID, "", db.OpDelete, false, msg)
	return &Result{Success: false, Error: msg}
}

// RetryEvent resets one event's retry budget and queues an immediate attempt.
func (e *Engine) RetryEvent(eventID string) error {
	if err := e.store.ResetEventSync(eventID); err != nil {
		return err
	}
	return e.queue.EnqueueCreate(eventID, true, 0)
}

// RetryFamily resets and re-queues every unsynced confirmed event of a
// family. Returns the number of events queued.
func (e *Engine) RetryFamily(familyID string) (int, error) {
	events, err := e.store.UnsyncedEventsByFamily(familyID)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, event := range events {
		if err := e.RetryEvent(event.ID); err != nil {
			log.Printf("[sync] retry: failed to queue event %s: %v", event.ID, err)
			continue
		}
		queued++
	}

	return queued, nil
}

// calendarEvent converts a local event into the provider's event body. Timed
// events carry a zoned start and end; the end defaults to the start when the
// event has no explicit end time. All-day events use date values with the
// provider's exclusive end date.
func (e *Engine) calendarEvent(event *db.Event) (*google.CalendarEvent, error) {
	body := &google.CalendarEvent{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
	}

	if event.EventTime == "" {
		day, err := time.ParseInLocation("2006-01-02", event.EventDate, e.loc)
		if err != nil {
			return nil, fmt.Errorf("invalid event date %q: %w", event.EventDate, err)
		}
		body.Start = google.EventDateTime{Date: event.EventDate}
		body.End = google.EventDateTime{Date: day.AddDate(0, 0, 1).Format("2006-01-02")}
		return body, nil
	}

	endTime := event.EndTime
	if endTime == "" {
		endTime = event.EventTime
	}

	start, err := time.ParseInLocation("2006-01-02 15:04", event.EventDate+" "+event.EventTime, e.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid event time %q %q: %w", event.EventDate, event.EventTime, err)
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", event.EventDate+" "+endTime, e.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid end time %q: %w", endTime, err)
	}

	zone := e.loc.String()
	body.Start = google.EventDateTime{DateTime: start.Format("2006-01-02T15:04:05"), TimeZone: zone}
	body.End = google.EventDateTime{DateTime: end.Format("2006-01-02T15:04:05"), TimeZone: zone}

	return body, nil
}

// logOutcome records a sync-log row; log write failures are never allowed to
// affect the operation outcome.
func (e *Engine) logOutcome(familyID, eventID string, op db.SyncOperation, success bool, message string) {
	entry := &db.SyncLogEntry{
		FamilyID:  familyID,
		EventID:   eventID,
		Operation: op,
		Success:   success,
		Message:   message,
	}
	if err := e.store.InsertSyncLog(entry); err != nil {
		log.Printf("[sync] failed to write sync log: %v", err)
	}
}
