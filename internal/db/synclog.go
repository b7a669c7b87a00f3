package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertSyncLog records the outcome of one sync engine operation.
func (db *DB) InsertSyncLog(entry *SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	query := `INSERT INTO sync_logs (id, family_id, event_id, operation, success, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, entry.ID, entry.FamilyID, entry.EventID,
		string(entry.Operation), entry.Success, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sync log: %w", err)
	}

	return nil
}

// RecentSyncFailures returns a family's latest failed operations, newest first.
func (db *DB) RecentSyncFailures(familyID string, limit int) ([]*SyncLogEntry, error) {
	query := `SELECT id, family_id, event_id, operation, success, message, created_at
		FROM sync_logs WHERE family_id = ? AND success = 0
		ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, familyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var entries []*SyncLogEntry
	for rows.Next() {
		entry := &SyncLogEntry{}
		var operation string
		err := rows.Scan(&entry.ID, &entry.FamilyID, &entry.EventID, &operation,
			&entry.Success, &entry.Message, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		entry.Operation = SyncOperation(operation)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return entries, nil
}

// CleanOldSyncLogs deletes log rows older than the retention window.
func (db *DB) CleanOldSyncLogs(retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)

	result, err := db.conn.Exec(`DELETE FROM sync_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean sync logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}
