// Package history records submission outcomes so operators can see what was
// sent where. Entries live in PostgreSQL when a database is configured and in
// a bounded in-memory ring otherwise.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one submission attempt.
type Entry struct {
	ID           string    `db:"id" json:"id"`
	BatchID      string    `db:"batch_id" json:"batch_id"`
	Source       string    `db:"source" json:"source"`
	TargetTable  string    `db:"target_table" json:"target_table"`
	Records      int       `db:"records" json:"records"`
	Inserted     int       `db:"inserted" json:"inserted"`
	Failed       int       `db:"failed" json:"failed"`
	Kind         string    `db:"kind" json:"kind,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	SchemaHash   string    `db:"schema_hash" json:"schema_hash,omitempty"`
	Attempts     int       `db:"attempts" json:"attempts"`
	DurationMS   int64     `db:"duration_ms" json:"duration_ms"`
	IPAddress    string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent    string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Succeeded reports whether every record was inserted.
func (e Entry) Succeeded() bool {
	return e.Kind == "" && e.Failed == 0
}

// Store persists entries.
type Store interface {
	// Record saves e, assigning ID and CreatedAt when they are empty.
	Record(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Purge deletes entries created before cutoff and returns how many.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
	Close()
}

// DefaultRecentLimit applies when Recent is called with a non-positive limit.
const DefaultRecentLimit = 50

func prepare(e Entry, now time.Time) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return e
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}
