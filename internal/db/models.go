package db

import (
	"strings"
	"time"
)

// SyncStatus tracks where an event is in the calendar sync pipeline.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending" // Not yet synced, waiting to sync
	SyncSyncing SyncStatus = "syncing" // A sync attempt is in flight
	SyncSynced  SyncStatus = "synced"  // Present on the external calendar
	SyncFailed  SyncStatus = "failed"  // Last attempt failed, eligible for retry
)

// ValidSyncStatuses contains all valid sync status values.
var ValidSyncStatuses = map[SyncStatus]bool{
	SyncPending: true,
	SyncSyncing: true,
	SyncSynced:  true,
	SyncFailed:  true,
}

// IsValid returns true if the sync status is a known valid value.
func (s SyncStatus) IsValid() bool {
	return ValidSyncStatuses[s]
}

// RecurrencePattern represents how a recurring event repeats.
type RecurrencePattern string

const (
	RecurDaily   RecurrencePattern = "daily"
	RecurWeekly  RecurrencePattern = "weekly"
	RecurMonthly RecurrencePattern = "monthly"
	RecurYearly  RecurrencePattern = "yearly"
)

// ValidRecurrencePatterns contains all valid recurrence pattern values.
var ValidRecurrencePatterns = map[RecurrencePattern]bool{
	RecurDaily:   true,
	RecurWeekly:  true,
	RecurMonthly: true,
	RecurYearly:  true,
}

// IsValid returns true if the recurrence pattern is a known valid value.
func (p RecurrencePattern) IsValid() bool {
	return ValidRecurrencePatterns[p]
}

// RecurrenceEnd represents how a recurring event stops repeating.
type RecurrenceEnd string

const (
	RecurEndNever RecurrenceEnd = "never"
	RecurEndDate  RecurrenceEnd = "date"
	RecurEndCount RecurrenceEnd = "count"
)

// SyncOperation names the sync engine operation a log entry belongs to.
type SyncOperation string

const (
	OpCreate SyncOperation = "create"
	OpUpdate SyncOperation = "update"
	OpDelete SyncOperation = "delete"
)

// Family owns a shared calendar binding. An empty GoogleCalendarID means
// calendar sync is a no-op for every event in the family.
type Family struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	GoogleCalendarID   string     `json:"google_calendar_id"`
	CalendarName       string     `json:"calendar_name"`
	LastCalendarSyncAt *time.Time `json:"last_calendar_sync_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Account is a connected provider account holding the credential pair used
// for outbound calendar API calls on behalf of a family.
type Account struct {
	ID           string     `json:"id"`
	FamilyID     string     `json:"family_id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	AccessToken  string     `json:"-"` // Never include in JSON
	RefreshToken string     `json:"-"` // Never include in JSON
	IsActive     bool       `json:"is_active"`
	ConnectedAt  time.Time  `json:"connected_at"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
}

// Event is the central entity: a family calendar event plus the sync-state
// sub-record driving the retry machinery.
type Event struct {
	ID              string `json:"id"`
	FamilyID        string `json:"family_id"`
	SourceAccountID string `json:"source_account_id,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	EventDate   string `json:"event_date"`           // YYYY-MM-DD
	EventTime   string `json:"event_time,omitempty"` // HH:MM, empty for all-day
	EndTime     string `json:"end_time,omitempty"`
	Location    string `json:"location,omitempty"`
	Category    string `json:"category,omitempty"`
	MemberNames string `json:"member_names,omitempty"` // comma-joined display names

	SourceEmailID      string `json:"source_email_id,omitempty"`
	SourceEmailSubject string `json:"source_email_subject,omitempty"`

	RequiresAction    bool   `json:"requires_action"`
	ActionDeadline    string `json:"action_deadline,omitempty"`
	ActionDescription string `json:"action_description,omitempty"`
	ActionCompleted   bool   `json:"action_completed"`

	IsConfirmed bool `json:"is_confirmed"`

	IsRecurring          bool              `json:"is_recurring"`
	RecurrencePattern    RecurrencePattern `json:"recurrence_pattern,omitempty"`
	RecurrenceInterval   int               `json:"recurrence_interval,omitempty"`
	RecurrenceDaysOfWeek string            `json:"recurrence_days_of_week,omitempty"` // comma-joined weekday names
	RecurrenceEndType    RecurrenceEnd     `json:"recurrence_end_type,omitempty"`
	RecurrenceEndDate    string            `json:"recurrence_end_date,omitempty"`
	RecurrenceEndCount   int               `json:"recurrence_end_count,omitempty"`
	ParentEventID        string            `json:"parent_event_id,omitempty"`
	IsRecurringInstance  bool              `json:"is_recurring_instance"`

	// Sync-state sub-record. GoogleEventID is set at most once, by a
	// successful create, and is never cleared afterwards.
	GoogleEventID   string     `json:"google_calendar_event_id,omitempty"`
	SyncStatus      SyncStatus `json:"sync_status"`
	SyncError       string     `json:"sync_error,omitempty"`
	SyncRetryCount  int        `json:"sync_retry_count"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Members splits the comma-joined member-name field into display names.
func (e *Event) Members() []string {
	if e.MemberNames == "" {
		return nil
	}
	parts := strings.Split(e.MemberNames, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// HasMember reports whether the named family member is associated with the
// event. Matching is a membership test, not full-string equality.
func (e *Event) HasMember(name string) bool {
	for _, m := range e.Members() {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// JobStatus tracks a deferred task through the queue.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
)

// Job is a durable deferred task: a named operation with a JSON payload that
// becomes due at RunAt. Jobs survive process restarts.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Payload   []byte    `json:"payload"`
	RunAt     time.Time `json:"run_at"`
	Attempts  int       `json:"attempts"`
	Status    JobStatus `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncLogEntry records the outcome of one sync engine operation.
type SyncLogEntry struct {
	ID        string        `json:"id"`
	FamilyID  string        `json:"family_id"`
	EventID   string        `json:"event_id,omitempty"`
	Operation SyncOperation `json:"operation"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}
