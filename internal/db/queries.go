package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateFamily creates a new family.
func (db *DB) CreateFamily(family *Family) error {
	if family.ID == "" {
		family.ID = uuid.New().String()
	}
	family.CreatedAt = time.Now().UTC()
	family.UpdatedAt = family.CreatedAt

	query := `INSERT INTO families (id, name, google_calendar_id, calendar_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, family.ID, family.Name, family.GoogleCalendarID,
		family.CalendarName, family.CreatedAt, family.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create family: %w", err)
	}

	return nil
}

// GetFamilyByID returns a family by its ID.
func (db *DB) GetFamilyByID(id string) (*Family, error) {
	query := `SELECT id, name, google_calendar_id, calendar_name, last_calendar_sync_at, created_at, updated_at
		FROM families WHERE id = ?`

	row := db.conn.QueryRow(query, id)

	family := &Family{}
	var lastSync sql.NullTime
	err := row.Scan(&family.ID, &family.Name, &family.GoogleCalendarID,
		&family.CalendarName, &lastSync, &family.CreatedAt, &family.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}

	if lastSync.Valid {
		family.LastCalendarSyncAt = &lastSync.Time
	}

	return family, nil
}

// SetFamilyCalendar binds a family to its destination calendar.
func (db *DB) SetFamilyCalendar(familyID, calendarID, calendarName string) error {
	now := time.Now().UTC()
	query := `UPDATE families SET google_calendar_id = ?, calendar_name = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, calendarID, calendarName, now, familyID)
	if err != nil {
		return fmt.Errorf("failed to set family calendar: %w", err)
	}

	return requireAffected(result)
}

// TouchFamilyCalendarSync stamps the family's last successful calendar sync.
func (db *DB) TouchFamilyCalendarSync(familyID string) error {
	now := time.Now().UTC()
	query := `UPDATE families SET last_calendar_sync_at = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, now, now, familyID)
	if err != nil {
		return fmt.Errorf("failed to touch family calendar sync: %w", err)
	}

	return requireAffected(result)
}

// CreateAccount connects a provider account to a family.
func (db *DB) CreateAccount(account *Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.ConnectedAt = time.Now().UTC()

	query := `INSERT INTO accounts (id, family_id, email, display_name, access_token, refresh_token, is_active, connected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, account.ID, account.FamilyID, account.Email,
		account.DisplayName, account.AccessToken, account.RefreshToken,
		account.IsActive, account.ConnectedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// ActiveAccount resolves a usable provider account for a family's outbound
// calendar writes. When multiple active accounts exist the choice is
// non-deterministic across calls beyond "oldest connection first"; callers
// must not rely on per-event account pinning.
func (db *DB) ActiveAccount(familyID string) (*Account, error) {
	query := `SELECT id, family_id, email, display_name, access_token, refresh_token, is_active, connected_at, last_sync_at
		FROM accounts WHERE family_id = ? AND is_active = 1 ORDER BY connected_at LIMIT 1`

	row := db.conn.QueryRow(query, familyID)

	account := &Account{}
	var lastSync sql.NullTime
	err := row.Scan(&account.ID, &account.FamilyID, &account.Email, &account.DisplayName,
		&account.AccessToken, &account.RefreshToken, &account.IsActive,
		&account.ConnectedAt, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active account: %w", err)
	}

	if lastSync.Valid {
		account.LastSyncAt = &lastSync.Time
	}

	return account, nil
}

// AccountsByFamily returns all accounts connected to a family.
func (db *DB) AccountsByFamily(familyID string) ([]*Account, error) {
	query := `SELECT id, family_id, email, display_name, access_token, refresh_token, is_active, connected_at, last_sync_at
		FROM accounts WHERE family_id = ? ORDER BY connected_at`

	rows, err := db.conn.Query(query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account := &Account{}
		var lastSync sql.NullTime
		err := rows.Scan(&account.ID, &account.FamilyID, &account.Email, &account.DisplayName,
			&account.AccessToken, &account.RefreshToken, &account.IsActive,
			&account.ConnectedAt, &lastSync)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		if lastSync.Valid {
			account.LastSyncAt = &lastSync.Time
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// DeactivateAccount disables an account without deleting it.
func (db *DB) DeactivateAccount(id string) error {
	result, err := db.conn.Exec(`UPDATE accounts SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	return requireAffected(result)
}

const eventColumns = `id, family_id, source_account_id, title, description,
	event_date, event_time, end_time, location, category, member_names,
	source_email_id, source_email_subject,
	requires_action, action_deadline, action_description, action_completed,
	is_confirmed,
	is_recurring, recurrence_pattern, recurrence_interval, recurrence_days_of_week,
	recurrence_end_type, recurrence_end_date, recurrence_end_count,
	parent_event_id, is_recurring_instance,
	google_event_id, sync_status, sync_error, sync_retry_count,
	last_sync_attempt, last_synced_at,
	created_at, updated_at`

// CreateEvent inserts a new event row. New events always enter the pipeline
// in the pending sync state.
func (db *DB) CreateEvent(event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.SyncStatus == "" {
		event.SyncStatus = SyncPending
	}
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt

	query := `INSERT INTO events (` + eventColumns + `) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		event.ID, event.FamilyID, nullString(event.SourceAccountID),
		event.Title, event.Description,
		event.EventDate, event.EventTime, event.EndTime, event.Location, event.Category, event.MemberNames,
		event.SourceEmailID, event.SourceEmailSubject,
		event.RequiresAction, event.ActionDeadline, event.ActionDescription, event.ActionCompleted,
		event.IsConfirmed,
		event.IsRecurring, string(event.RecurrencePattern), event.RecurrenceInterval, event.RecurrenceDaysOfWeek,
		string(event.RecurrenceEndType), event.RecurrenceEndDate, event.RecurrenceEndCount,
		nullString(event.ParentEventID), event.IsRecurringInstance,
		event.GoogleEventID, string(event.SyncStatus), event.SyncError, event.SyncRetryCount,
		nullTime(event.LastSyncAttempt), nullTime(event.LastSyncedAt),
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// GetEventByID returns an event by its ID.
func (db *DB) GetEventByID(id string) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	return scanEvent(db.conn.QueryRow(query, id))
}

// EventsByFamily returns all events for a family.
func (db *DB) EventsByFamily(familyID string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE family_id = ? ORDER BY event_date, event_time`
	return db.queryEvents(query, familyID)
}

// EventsByFamilyAndDate returns all events stored for a family on one date.
func (db *DB) EventsByFamilyAndDate(familyID, eventDate string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE family_id = ? AND event_date = ?`
	return db.queryEvents(query, familyID, eventDate)
}

// UnconfirmedEventsByFamily returns candidate events awaiting review.
func (db *DB) UnconfirmedEventsByFamily(familyID string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE family_id = ? AND is_confirmed = 0 ORDER BY event_date, event_time`
	return db.queryEvents(query, familyID)
}

// ConfirmedEventsInRange returns confirmed events within [startDate, endDate].
func (db *DB) ConfirmedEventsInRange(familyID, startDate, endDate string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE family_id = ? AND is_confirmed = 1 AND event_date >= ? AND event_date <= ?
		ORDER BY event_date, event_time`
	return db.queryEvents(query, familyID, startDate, endDate)
}

// ConfirmedEventsByFamily returns all confirmed events for a family.
func (db *DB) ConfirmedEventsByFamily(familyID string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE family_id = ? AND is_confirmed = 1 ORDER BY event_date, event_time`
	return db.queryEvents(query, familyID)
}

// EventsNeedingSync returns confirmed events across all families whose sync
// state is pending or failed. Used by the background sweep.
func (db *DB) EventsNeedingSync() ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE is_confirmed = 1 AND sync_status IN (?, ?)
		ORDER BY last_sync_attempt`
	return db.queryEvents(query, string(SyncPending), string(SyncFailed))
}

// UnsyncedEventsByFamily returns one family's confirmed events still in
// pending or failed state. Used by the family-wide manual retry.
func (db *DB) UnsyncedEventsByFamily(familyID string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE family_id = ? AND is_confirmed = 1 AND sync_status IN (?, ?)`
	return db.queryEvents(query, familyID, string(SyncPending), string(SyncFailed))
}

// InstancesOfEvent returns the materialized instances of a recurring event.
func (db *DB) InstancesOfEvent(parentID string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE parent_event_id = ? ORDER BY event_date`
	return db.queryEvents(query, parentID)
}

// UpdateEventParams carries the user-visible fields of an event. Nil fields
// are left untouched. Sync metadata is deliberately absent: writing it goes
// through the Mark* mutators so that metadata writes can never re-trigger a
// sync.
type UpdateEventParams struct {
	Title             *string
	Description       *string
	EventDate         *string
	EventTime         *string
	EndTime           *string
	Location          *string
	Category          *string
	MemberNames       *string
	RequiresAction    *bool
	ActionDeadline    *string
	ActionDescription *string
	ActionCompleted   *bool
}

// UpdateEventFields patches the user-visible fields of an event.
func (db *DB) UpdateEventFields(id string, params UpdateEventParams) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if params.Title != nil {
		add("title", *params.Title)
	}
	if params.Description != nil {
		add("description", *params.Description)
	}
	if params.EventDate != nil {
		add("event_date", *params.EventDate)
	}
	if params.EventTime != nil {
		add("event_time", *params.EventTime)
	}
	if params.EndTime != nil {
		add("end_time", *params.EndTime)
	}
	if params.Location != nil {
		add("location", *params.Location)
	}
	if params.Category != nil {
		add("category", *params.Category)
	}
	if params.MemberNames != nil {
		add("member_names", *params.MemberNames)
	}
	if params.RequiresAction != nil {
		add("requires_action", *params.RequiresAction)
	}
	if params.ActionDeadline != nil {
		add("action_deadline", *params.ActionDeadline)
	}
	if params.ActionDescription != nil {
		add("action_description", *params.ActionDescription)
	}
	if params.ActionCompleted != nil {
		add("action_completed", *params.ActionCompleted)
	}

	query := "UPDATE events SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = ?"
	args = append(args, id)

	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	return requireAffected(result)
}

// ConfirmEvent marks an event as confirmed, making it sync-eligible.
func (db *DB) ConfirmEvent(id string) error {
	now := time.Now().UTC()
	result, err := db.conn.Exec(`UPDATE events SET is_confirmed = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("failed to confirm event: %w", err)
	}
	return requireAffected(result)
}

// DeleteEvent removes the local event row. Remote deletion, if needed, is the
// caller's responsibility and is never allowed to block this.
func (db *DB) DeleteEvent(id string) error {
	result, err := db.conn.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return requireAffected(result)
}

// MarkEventSyncing transitions an event into the syncing state and stamps the
// attempt time. Always called before the remote API is touched.
func (db *DB) MarkEventSyncing(id string) error {
	now := time.Now().UTC()
	query := `UPDATE events SET sync_status = ?, last_sync_attempt = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, string(SyncSyncing), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark event syncing: %w", err)
	}

	return requireAffected(result)
}

// MarkEventSynced records a successful sync: status synced, retry count back
// to zero, error cleared, success timestamp stamped. googleEventID is only
// written when non-empty so an already-set external id is never cleared.
func (db *DB) MarkEventSynced(id, googleEventID string) error {
	now := time.Now().UTC()

	var result sql.Result
	var err error
	if googleEventID != "" {
		query := `UPDATE events SET sync_status = ?, sync_error = '', sync_retry_count = 0,
			last_synced_at = ?, google_event_id = ?, updated_at = ? WHERE id = ?`
		result, err = db.conn.Exec(query, string(SyncSynced), now, googleEventID, now, id)
	} else {
		query := `UPDATE events SET sync_status = ?, sync_error = '', sync_retry_count = 0,
			last_synced_at = ?, updated_at = ? WHERE id = ?`
		result, err = db.conn.Exec(query, string(SyncSynced), now, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark event synced: %w", err)
	}

	return requireAffected(result)
}

// MarkEventSyncFailed records a failed attempt: status failed, error message
// stored, retry count incremented by exactly one. Returns the new retry count.
func (db *DB) MarkEventSyncFailed(id, syncError string) (int, error) {
	now := time.Now().UTC()
	query := `UPDATE events SET sync_status = ?, sync_error = ?,
		sync_retry_count = sync_retry_count + 1, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, string(SyncFailed), syncError, now, id)
	if err != nil {
		return 0, fmt.Errorf("failed to mark event sync failed: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return 0, err
	}

	var count int
	row := db.conn.QueryRow(`SELECT sync_retry_count FROM events WHERE id = ?`, id)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}

	return count, nil
}

// MarkEventSyncExhausted records a terminal failure without incrementing the
// retry count. Only a manual retry can revive the event afterwards.
func (db *DB) MarkEventSyncExhausted(id, syncError string) error {
	now := time.Now().UTC()
	query := `UPDATE events SET sync_status = ?, sync_error = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, string(SyncFailed), syncError, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark event sync exhausted: %w", err)
	}

	return requireAffected(result)
}

// TouchEventSynced stamps the last successful sync time without touching any
// other sync state. Used by the update path, where status is already synced.
func (db *DB) TouchEventSynced(id string) error {
	now := time.Now().UTC()
	query := `UPDATE events SET last_synced_at = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to touch event synced: %w", err)
	}

	return requireAffected(result)
}

// ResetUnboundSyncedEvents returns a family's confirmed events that were
// vacuously settled as synced while no calendar was bound (synced without an
// external id) to the pending state. Called when a calendar is bound so the
// events enter the pipeline for real. Returns the number of rows revived.
func (db *DB) ResetUnboundSyncedEvents(familyID string) (int, error) {
	now := time.Now().UTC()
	query := `UPDATE events SET sync_status = ?, sync_retry_count = 0, updated_at = ?
		WHERE family_id = ? AND is_confirmed = 1 AND sync_status = ? AND google_event_id = ''`

	result, err := db.conn.Exec(query, string(SyncPending), now, familyID, string(SyncSynced))
	if err != nil {
		return 0, fmt.Errorf("failed to reset unbound synced events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}

// ResetEventSync returns an event to the pending state with a zero retry
// count. This is the manual-retry override of the exhaustion policy.
func (db *DB) ResetEventSync(id string) error {
	now := time.Now().UTC()
	query := `UPDATE events SET sync_status = ?, sync_error = '', sync_retry_count = 0, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, string(SyncPending), now, id)
	if err != nil {
		return fmt.Errorf("failed to reset event sync: %w", err)
	}

	return requireAffected(result)
}

// SyncStatusCounts returns the number of a family's confirmed events in each
// sync state.
func (db *DB) SyncStatusCounts(familyID string) (map[SyncStatus]int, error) {
	query := `SELECT sync_status, COUNT(*) FROM events
		WHERE family_id = ? AND is_confirmed = 1 GROUP BY sync_status`

	rows, err := db.conn.Query(query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[SyncStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sync status count: %w", err)
		}
		counts[SyncStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync status counts: %w", err)
	}

	return counts, nil
}

// queryEvents runs a multi-row event query.
func (db *DB) queryEvents(query string, args ...any) ([]*Event, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into an Event struct.
func scanEvent(row rowScanner) (*Event, error) {
	event := &Event{}
	var sourceAccountID, parentEventID sql.NullString
	var recurrencePattern, recurrenceEndType string
	var syncStatus string
	var lastSyncAttempt, lastSyncedAt sql.NullTime

	err := row.Scan(
		&event.ID, &event.FamilyID, &sourceAccountID, &event.Title, &event.Description,
		&event.EventDate, &event.EventTime, &event.EndTime, &event.Location, &event.Category, &event.MemberNames,
		&event.SourceEmailID, &event.SourceEmailSubject,
		&event.RequiresAction, &event.ActionDeadline, &event.ActionDescription, &event.ActionCompleted,
		&event.IsConfirmed,
		&event.IsRecurring, &recurrencePattern, &event.RecurrenceInterval, &event.RecurrenceDaysOfWeek,
		&recurrenceEndType, &event.RecurrenceEndDate, &event.RecurrenceEndCount,
		&parentEventID, &event.IsRecurringInstance,
		&event.GoogleEventID, &syncStatus, &event.SyncError, &event.SyncRetryCount,
		&lastSyncAttempt, &lastSyncedAt,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.SourceAccountID = sourceAccountID.String
	event.ParentEventID = parentEventID.String
	event.RecurrencePattern = RecurrencePattern(recurrencePattern)
	event.RecurrenceEndType = RecurrenceEnd(recurrenceEndType)
	event.SyncStatus = SyncStatus(syncStatus)
	if lastSyncAttempt.Valid {
		event.LastSyncAttempt = &lastSyncAttempt.Time
	}
	if lastSyncedAt.Valid {
		event.LastSyncedAt = &lastSyncedAt.Time
	}

	return event, nil
}

// requireAffected converts a zero-row update into ErrNotFound.
func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// nullString maps an empty string to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime maps a nil time pointer to NULL.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
