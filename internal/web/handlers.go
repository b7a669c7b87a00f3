// Package web exposes the HTTP API: family and account management, event
// CRUD and confirmation, ingestion, sync status, manual retry, and the iCal
// feed.
package web

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthkeep/famsync/internal/db"
	"github.com/hearthkeep/famsync/internal/feed"
	"github.com/hearthkeep/famsync/internal/ingest"
	"github.com/hearthkeep/famsync/internal/recurrence"
	syncengine "github.com/hearthkeep/famsync/internal/sync"
	"github.com/hearthkeep/famsync/internal/tasks"
)

// Handlers holds the dependencies behind the HTTP surface.
type Handlers struct {
	store      *db.DB
	engine     *syncengine.Engine
	queue      *tasks.Queue
	reconciler *ingest.Reconciler
	loc        *time.Location
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(store *db.DB, engine *syncengine.Engine, queue *tasks.Queue, reconciler *ingest.Reconciler, loc *time.Location) *Handlers {
	return &Handlers{
		store:      store,
		engine:     engine,
		queue:      queue,
		reconciler: reconciler,
		loc:        loc,
	}
}

// Healthz reports liveness, including database reachability.
func (h *Handlers) Healthz(c *gin.Context) {
	if err := h.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateFamily creates a family.
func (h *Handlers) CreateFamily(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	family := &db.Family{Name: req.Name}
	if err := h.store.CreateFamily(family); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create family"})
		return
	}

	c.JSON(http.StatusCreated, family)
}

// BindCalendar binds a family to its destination Google calendar. Events
// stuck waiting on a calendar are swept into the pipeline afterwards.
func (h *Handlers) BindCalendar(c *gin.Context) {
	var req struct {
		CalendarID   string `json:"calendar_id" binding:"required"`
		CalendarName string `json:"calendar_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	familyID := c.Param("id")
	if err := h.store.SetFamilyCalendar(familyID, req.CalendarID, req.CalendarName); err != nil {
		h.writeStoreError(c, err, "failed to bind calendar")
		return
	}

	// Events that synced vacuously while no calendar was bound come back
	// into the pipeline now that there is a destination.
	if _, err := h.store.ResetUnboundSyncedEvents(familyID); err != nil {
		log.Printf("[web] failed to revive unbound events for family %s: %v", familyID, err)
	}

	queued, err := h.engine.RetryFamily(familyID)
	if err != nil {
		log.Printf("[web] failed to queue pending events for family %s: %v", familyID, err)
	}

	c.JSON(http.StatusOK, gin.H{"bound": true, "queued": queued})
}

// ConnectAccount stores a provider account for a family.
func (h *Handlers) ConnectAccount(c *gin.Context) {
	var req struct {
		Email        string `json:"email" binding:"required"`
		DisplayName  string `json:"display_name"`
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account := &db.Account{
		FamilyID:     c.Param("id"),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		RefreshToken: req.RefreshToken,
		IsActive:     true,
	}
	if err := h.store.CreateAccount(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to connect account"})
		return
	}

	c.JSON(http.StatusCreated, account)
}

// ListAccounts returns a family's connected accounts. Tokens never appear in
// the response.
func (h *Handlers) ListAccounts(c *gin.Context) {
	accounts, err := h.store.AccountsByFamily(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// DeactivateAccount disables an account.
func (h *Handlers) DeactivateAccount(c *gin.Context) {
	if err := h.store.DeactivateAccount(c.Param("id")); err != nil {
		h.writeStoreError(c, err, "failed to deactivate account")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

// ListEvents returns a family's events; ?unconfirmed=1 narrows to events
// awaiting review, ?upcoming=1 to confirmed events from today onward.
func (h *Handlers) ListEvents(c *gin.Context) {
	familyID := c.Param("id")

	var events []*db.Event
	var err error
	switch {
	case c.Query("unconfirmed") == "1":
		events, err = h.store.UnconfirmedEventsByFamily(familyID)
	case c.Query("upcoming") == "1":
		today := time.Now().In(h.loc).Format("2006-01-02")
		horizon := time.Now().In(h.loc).AddDate(1, 0, 0).Format("2006-01-02")
		events, err = h.store.ConfirmedEventsInRange(familyID, today, horizon)
	default:
		events, err = h.store.EventsByFamily(familyID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

type eventRequest struct {
	FamilyID    string   `json:"family_id" binding:"required"`
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	EventDate   string   `json:"event_date" binding:"required"`
	EventTime   string   `json:"event_time"`
	EndTime     string   `json:"end_time"`
	Location    string   `json:"location"`
	Category    string   `json:"category"`
	MemberNames []string `json:"member_names"`

	RequiresAction    bool   `json:"requires_action"`
	ActionDeadline    string `json:"action_deadline"`
	ActionDescription string `json:"action_description"`

	IsConfirmed bool `json:"is_confirmed"`

	IsRecurring          bool   `json:"is_recurring"`
	RecurrencePattern    string `json:"recurrence_pattern"`
	RecurrenceInterval   int    `json:"recurrence_interval"`
	RecurrenceDaysOfWeek string `json:"recurrence_days_of_week"`
	RecurrenceEndType    string `json:"recurrence_end_type"`
	RecurrenceEndDate    string `json:"recurrence_end_date"`
	RecurrenceEndCount   int    `json:"recurrence_end_count"`
}

// CreateEvent stores an event. A confirmed event (and, for recurring events,
// its materialized instances) immediately enters the sync pipeline.
func (h *Handlers) CreateEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.IsRecurring && !db.RecurrencePattern(req.RecurrencePattern).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recurrence pattern"})
		return
	}

	event := &db.Event{
		FamilyID:             req.FamilyID,
		Title:                req.Title,
		Description:          req.Description,
		EventDate:            req.EventDate,
		EventTime:            req.EventTime,
		EndTime:              req.EndTime,
		Location:             req.Location,
		Category:             req.Category,
		MemberNames:          strings.Join(req.MemberNames, ", "),
		RequiresAction:       req.RequiresAction,
		ActionDeadline:       req.ActionDeadline,
		ActionDescription:    req.ActionDescription,
		IsConfirmed:          req.IsConfirmed,
		IsRecurring:          req.IsRecurring,
		RecurrencePattern:    db.RecurrencePattern(req.RecurrencePattern),
		RecurrenceInterval:   req.RecurrenceInterval,
		RecurrenceDaysOfWeek: req.RecurrenceDaysOfWeek,
		RecurrenceEndType:    db.RecurrenceEnd(req.RecurrenceEndType),
		RecurrenceEndDate:    req.RecurrenceEndDate,
		RecurrenceEndCount:   req.RecurrenceEndCount,
	}
	if err := h.store.CreateEvent(event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create event"})
		return
	}

	if event.IsConfirmed {
		h.enterPipeline(event)
	}

	c.JSON(http.StatusCreated, event)
}

// GetEvent returns one event by id.
func (h *Handlers) GetEvent(c *gin.Context) {
	event, err := h.store.GetEventByID(c.Param("id"))
	if err != nil {
		h.writeStoreError(c, err, "failed to load event")
		return
	}
	c.JSON(http.StatusOK, event)
}

type updateEventRequest struct {
	Title             *string `json:"title"`
	Description       *string `json:"description"`
	EventDate         *string `json:"event_date"`
	EventTime         *string `json:"event_time"`
	EndTime           *string `json:"end_time"`
	Location          *string `json:"location"`
	Category          *string `json:"category"`
	MemberNames       *string `json:"member_names"`
	RequiresAction    *bool   `json:"requires_action"`
	ActionDeadline    *string `json:"action_deadline"`
	ActionDescription *string `json:"action_description"`
	ActionCompleted   *bool   `json:"action_completed"`
}

// UpdateEvent patches an event's user-visible fields. Edits to a confirmed
// event push to the calendar; sync metadata cannot be touched through this
// surface, so metadata writes never re-trigger a sync.
func (h *Handlers) UpdateEvent(c *gin.Context) {
	var req updateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eventID := c.Param("id")
	params := db.UpdateEventParams{
		Title:             req.Title,
		Description:       req.Description,
		EventDate:         req.EventDate,
		EventTime:         req.EventTime,
		EndTime:           req.EndTime,
		Location:          req.Location,
		Category:          req.Category,
		MemberNames:       req.MemberNames,
		RequiresAction:    req.RequiresAction,
		ActionDeadline:    req.ActionDeadline,
		ActionDescription: req.ActionDescription,
		ActionCompleted:   req.ActionCompleted,
	}
	if err := h.store.UpdateEventFields(eventID, params); err != nil {
		h.writeStoreError(c, err, "failed to update event")
		return
	}

	event, err := h.store.GetEventByID(eventID)
	if err != nil {
		h.writeStoreError(c, err, "failed to load event")
		return
	}

	if event.IsConfirmed {
		if err := h.queue.EnqueueUpdate(event.ID, 0); err != nil {
			log.Printf("[web] failed to queue update for event %s: %v", event.ID, err)
		}
	}

	c.JSON(http.StatusOK, event)
}

// ConfirmEvent confirms an event, making it sync-eligible. Confirming a
// recurring parent materializes its instances, each syncing independently.
func (h *Handlers) ConfirmEvent(c *gin.Context) {
	eventID := c.Param("id")
	if err := h.store.ConfirmEvent(eventID); err != nil {
		h.writeStoreError(c, err, "failed to confirm event")
		return
	}

	event, err := h.store.GetEventByID(eventID)
	if err != nil {
		h.writeStoreError(c, err, "failed to load event")
		return
	}

	h.enterPipeline(event)

	c.JSON(http.StatusOK, event)
}

// DeleteEvent removes the local row and queues a fire-and-forget remote
// delete when the event had reached the calendar. Local deletion never waits
// on the provider.
func (h *Handlers) DeleteEvent(c *gin.Context) {
	event, err := h.store.GetEventByID(c.Param("id"))
	if err != nil {
		h.writeStoreError(c, err, "failed to load event")
		return
	}

	if err := h.store.DeleteEvent(event.ID); err != nil {
		h.writeStoreError(c, err, "failed to delete event")
		return
	}

	if event.GoogleEventID != "" {
		if err := h.queue.EnqueueDelete(event.FamilyID, event.GoogleEventID, 0); err != nil {
			log.Printf("[web] failed to queue remote delete for %s: %v", event.GoogleEventID, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// IngestEvent runs a candidate through the duplicate reconciler. Duplicates
// and past-dated candidates are non-errors.
func (h *Handlers) IngestEvent(c *gin.Context) {
	var candidate ingest.Candidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if candidate.FamilyID == "" || candidate.Title == "" || candidate.EventDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "family_id, title, and event_date are required"})
		return
	}

	eventID, created, err := h.reconciler.Ingest(candidate)
	if errors.Is(err, ingest.ErrPastDate) {
		c.JSON(http.StatusOK, gin.H{"skipped": "past_date"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest event"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"event_id": eventID, "created": created})
}

// SyncStatus returns a family's sync roll-up: calendar binding, per-status
// counts, and recent failures.
func (h *Handlers) SyncStatus(c *gin.Context) {
	familyID := c.Param("id")

	family, err := h.store.GetFamilyByID(familyID)
	if err != nil {
		h.writeStoreError(c, err, "failed to load family")
		return
	}

	counts, err := h.store.SyncStatusCounts(familyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync status"})
		return
	}

	failures, err := h.store.RecentSyncFailures(familyID, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync failures"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"calendar_connected":    family.GoogleCalendarID != "",
		"calendar_name":         family.CalendarName,
		"last_calendar_sync_at": family.LastCalendarSyncAt,
		"counts":                counts,
		"recent_failures":       failures,
	})
}

// RetryEventSync manually retries one event, overriding an exhausted budget.
func (h *Handlers) RetryEventSync(c *gin.Context) {
	if err := h.engine.RetryEvent(c.Param("id")); err != nil {
		h.writeStoreError(c, err, "failed to queue retry")
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": true})
}

// RetryFamilySync manually retries every unsynced event of a family.
func (h *Handlers) RetryFamilySync(c *gin.Context) {
	queued, err := h.engine.RetryFamily(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue retries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": queued})
}

// ICalFeed serves a family's confirmed events as an iCalendar document.
func (h *Handlers) ICalFeed(c *gin.Context) {
	familyID := strings.TrimSuffix(c.Param("familyID"), ".ics")

	family, err := h.store.GetFamilyByID(familyID)
	if err != nil {
		h.writeStoreError(c, err, "failed to load family")
		return
	}

	events, err := h.store.ConfirmedEventsByFamily(familyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}

	body, err := feed.Encode(family, events, h.loc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render feed"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+family.Name+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

// enterPipeline queues a confirmed event for calendar sync, materializing
// recurring instances first.
func (h *Handlers) enterPipeline(event *db.Event) {
	if event.IsRecurring && !event.IsRecurringInstance {
		instances, err := recurrence.Instances(event, h.loc, recurrence.DefaultCap)
		if err != nil {
			log.Printf("[web] failed to expand recurring event %s: %v", event.ID, err)
		}
		for _, instance := range instances {
			if err := h.store.CreateEvent(instance); err != nil {
				log.Printf("[web] failed to store instance of %s: %v", event.ID, err)
				continue
			}
			if err := h.queue.EnqueueCreate(instance.ID, false, 0); err != nil {
				log.Printf("[web] failed to queue instance %s: %v", instance.ID, err)
			}
		}
	}

	if err := h.queue.EnqueueCreate(event.ID, false, 0); err != nil {
		log.Printf("[web] failed to queue event %s: %v", event.ID, err)
	}
}

func (h *Handlers) writeStoreError(c *gin.Context, err error, msg string) {
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
