package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueJob inserts a deferred task due at runAt.
func (db *DB) EnqueueJob(kind string, payload []byte, runAt time.Time) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	query := `INSERT INTO jobs (id, kind, payload, run_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, id, kind, string(payload), runAt.UTC(),
		string(JobPending), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return id, nil
}

// ClaimDueJob atomically claims the oldest due pending job, marking it
// running. Returns ErrNotFound when nothing is due.
func (db *DB) ClaimDueJob() (*Job, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `SELECT id, kind, payload, run_at, attempts, status, last_error, created_at, updated_at
		FROM jobs WHERE status = ? AND run_at <= ? ORDER BY run_at LIMIT 1`

	row := tx.QueryRow(query, string(JobPending), now)

	job := &Job{}
	var payload, status string
	err = row.Scan(&job.ID, &job.Kind, &payload, &job.RunAt, &job.Attempts,
		&status, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Payload = []byte(payload)
	job.Status = JobStatus(status)

	_, err = tx.Exec(`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		string(JobRunning), now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = JobRunning
	job.Attempts++

	return job, nil
}

// MarkJobDone completes a claimed job, recording the last error if any.
func (db *DB) MarkJobDone(id, lastError string) error {
	now := time.Now().UTC()
	query := `UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, string(JobDone), lastError, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}

	return requireAffected(result)
}

// RequeueStuckJobs returns running jobs older than the cutoff to pending.
// Covers process crashes between claim and completion.
func (db *DB) RequeueStuckJobs(olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	query := `UPDATE jobs SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`

	result, err := db.conn.Exec(query, string(JobPending), now, string(JobRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}

// PendingJobCount returns the number of jobs awaiting execution.
func (db *DB) PendingJobCount() (int, error) {
	var count int
	row := db.conn.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(JobPending))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

// DeleteOldJobs removes completed jobs older than the cutoff.
func (db *DB) DeleteOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := db.conn.Exec(`DELETE FROM jobs WHERE status = ? AND updated_at < ?`,
		string(JobDone), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}
