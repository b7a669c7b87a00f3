// Package ingest deduplicates candidate events arriving from upstream
// extraction before they enter the store.
package ingest

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hearthkeep/famsync/internal/db"
)

var ErrPastDate = errors.New("event date is in the past")

// similarityThreshold is the fuzzy-match cutoff for near-duplicate titles.
const similarityThreshold = 0.8

// timeWindow is how far apart two start times may be and still describe the
// same event.
const timeWindow = 60 * time.Minute

// Candidate is an extracted event proposed for ingestion.
type Candidate struct {
	FamilyID    string   `json:"family_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	EventDate   string   `json:"event_date"` // YYYY-MM-DD
	EventTime   string   `json:"event_time"` // HH:MM, empty for all-day
	EndTime     string   `json:"end_time"`
	Location    string   `json:"location"`
	Category    string   `json:"category"`
	MemberNames []string `json:"member_names"`

	SourceEmailID      string `json:"source_email_id"`
	SourceEmailSubject string `json:"source_email_subject"`

	RequiresAction    bool   `json:"requires_action"`
	ActionDeadline    string `json:"action_deadline"`
	ActionDescription string `json:"action_description"`
}

// Reconciler decides whether a candidate is new or a duplicate of a stored
// event on the same date.
type Reconciler struct {
	store *db.DB
	loc   *time.Location
}

// NewReconciler creates a reconciler. loc defines "today" for the past-date
// check.
func NewReconciler(store *db.DB, loc *time.Location) *Reconciler {
	return &Reconciler{store: store, loc: loc}
}

// Ingest stores the candidate unless it is stale or a duplicate. Returns the
// id of the stored event (new or existing) and whether a new row was created.
// Candidates dated before yesterday return ErrPastDate and store nothing.
func (r *Reconciler) Ingest(c Candidate) (string, bool, error) {
	day, err := time.ParseInLocation("2006-01-02", c.EventDate, r.loc)
	if err != nil {
		return "", false, fmt.Errorf("invalid event date %q: %w", c.EventDate, err)
	}

	now := time.Now().In(r.loc)
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc).AddDate(0, 0, -1)
	if day.Before(yesterday) {
		return "", false, ErrPastDate
	}

	existing, err := r.store.EventsByFamilyAndDate(c.FamilyID, c.EventDate)
	if err != nil {
		return "", false, err
	}

	members := strings.Join(c.MemberNames, ", ")
	for _, event := range existing {
		if r.isDuplicate(c, members, event) {
			log.Printf("[ingest] candidate %q matches existing event %s, skipping", c.Title, event.ID)
			return event.ID, false, nil
		}
	}

	event := &db.Event{
		FamilyID:           c.FamilyID,
		Title:              c.Title,
		Description:        c.Description,
		EventDate:          c.EventDate,
		EventTime:          c.EventTime,
		EndTime:            c.EndTime,
		Location:           c.Location,
		Category:           c.Category,
		MemberNames:        members,
		SourceEmailID:      c.SourceEmailID,
		SourceEmailSubject: c.SourceEmailSubject,
		RequiresAction:     c.RequiresAction,
		ActionDeadline:     c.ActionDeadline,
		ActionDescription:  c.ActionDescription,
	}
	if err := r.store.CreateEvent(event); err != nil {
		return "", false, err
	}

	return event.ID, true, nil
}

// isDuplicate applies the match rules: an exact raw-title match for the same
// members is always a duplicate regardless of time; a fuzzy match on the
// normalized titles (equal normalized titles included) only counts when the
// members agree and the start times fall inside the window.
func (r *Reconciler) isDuplicate(c Candidate, members string, event *db.Event) bool {
	if c.Title == event.Title && sameMembers(members, event.MemberNames) {
		return true
	}

	if similarity(normalize(c.Title), normalize(event.Title)) > similarityThreshold &&
		sameMembers(members, event.MemberNames) &&
		timesWithin(c.EventTime, event.EventTime, timeWindow) {
		return true
	}

	return false
}

// normalize lowercases and strips everything but letters and digits, so
// "Soccer Practice!" and "soccer practice" compare equal.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// similarity scores two normalized titles in [0, 1]. Identical strings score
// 1; a containment relation scores at least 0.85, scaled by relative length;
// otherwise the score is the fraction of positions that agree.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}

	if strings.Contains(longer, shorter) {
		ratio := float64(len(shorter)) / float64(len(longer))
		if ratio < 0.85 {
			return 0.85
		}
		return ratio
	}

	mismatches := len(longer) - len(shorter)
	for i := 0; i < len(shorter); i++ {
		if shorter[i] != longer[i] {
			mismatches++
		}
	}

	return 1 - float64(mismatches)/float64(len(longer))
}

// timesWithin reports whether two start times are close enough to be the
// same event. Two all-day events match; an all-day event never matches a
// timed one.
func timesWithin(a, b string, window time.Duration) bool {
	if a == "" && b == "" {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	ta, errA := time.Parse("15:04", a)
	tb, errB := time.Parse("15:04", b)
	if errA != nil || errB != nil {
		return false
	}

	diff := ta.Sub(tb)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

// sameMembers compares two comma-joined member lists as case-insensitive
// sets.
func sameMembers(a, b string) bool {
	setA := memberSet(a)
	setB := memberSet(b)

	if len(setA) != len(setB) {
		return false
	}
	for name := range setA {
		if !setB[name] {
			return false
		}
	}
	return true
}

func memberSet(joined string) map[string]bool {
	set := make(map[string]bool)
	for _, part := range strings.Split(joined, ",") {
		if name := strings.TrimSpace(strings.ToLower(part)); name != "" {
			set[name] = true
		}
	}
	return set
}
