// Package tasks wraps the durable job table with typed enqueue and claim
// operations. It knows nothing about the sync engine; the worker that
// executes jobs lives with the engine to keep the dependency one-way.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearthkeep/famsync/internal/db"
)

// Job kinds understood by the sync worker.
const (
	KindSyncCreate = "sync_create"
	KindSyncUpdate = "sync_update"
	KindSyncDelete = "sync_delete"
)

// SyncCreatePayload schedules a create (or retry-of-create) for one event.
type SyncCreatePayload struct {
	EventID string `json:"eventId"`
	IsRetry bool   `json:"isRetry"`
}

// SyncUpdatePayload schedules an update push for one event.
type SyncUpdatePayload struct {
	EventID string `json:"eventId"`
}

// SyncDeletePayload schedules a remote delete. It carries no local event id:
// the local row is already gone when the job runs.
type SyncDeletePayload struct {
	FamilyID      string `json:"familyId"`
	GoogleEventID string `json:"googleEventId"`
}

// Queue enqueues and claims durable deferred tasks.
type Queue struct {
	store *db.DB
}

// NewQueue creates a queue backed by the given database.
func NewQueue(store *db.DB) *Queue {
	return &Queue{store: store}
}

// EnqueueCreate schedules a calendar create for the event after the delay.
func (q *Queue) EnqueueCreate(eventID string, isRetry bool, delay time.Duration) error {
	return q.enqueue(KindSyncCreate, SyncCreatePayload{EventID: eventID, IsRetry: isRetry}, delay)
}

// EnqueueUpdate schedules a calendar update for the event after the delay.
func (q *Queue) EnqueueUpdate(eventID string, delay time.Duration) error {
	return q.enqueue(KindSyncUpdate, SyncUpdatePayload{EventID: eventID}, delay)
}

// EnqueueDelete schedules removal of an external calendar event.
func (q *Queue) EnqueueDelete(familyID, googleEventID string, delay time.Duration) error {
	return q.enqueue(KindSyncDelete, SyncDeletePayload{
		FamilyID:      familyID,
		GoogleEventID: googleEventID,
	}, delay)
}

func (q *Queue) enqueue(kind string, payload any, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	runAt := time.Now().UTC().Add(delay)
	if _, err := q.store.EnqueueJob(kind, data, runAt); err != nil {
		return err
	}

	return nil
}

// Claim returns the oldest due job, marked running, or db.ErrNotFound.
func (q *Queue) Claim() (*db.Job, error) {
	return q.store.ClaimDueJob()
}

// Done completes a claimed job.
func (q *Queue) Done(jobID, lastError string) error {
	return q.store.MarkJobDone(jobID, lastError)
}

// RequeueStuck returns crashed-mid-run jobs to the pending state.
func (q *Queue) RequeueStuck(olderThan time.Duration) (int, error) {
	return q.store.RequeueStuckJobs(olderThan)
}
