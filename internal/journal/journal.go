package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/linklight/internal/lifecycle"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500

	// timeLayout is fixed-width UTC so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one stored transition.
type Entry struct {
	ID int64 `json:"id"`

	lifecycle.Transition
}

// SQLiteRepository stores transitions in the lifecycle_transitions table.
//
// The table is created by the embedded migrations; the repository does
// not touch the schema.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal over an open, migrated connection.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts one transition.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - tr: Committed transition; Cause and At are required
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Record(ctx context.Context, tr lifecycle.Transition) error {
	if tr.Cause == "" || tr.At.IsZero() {
		return ErrInvalidTransition
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lifecycle_transitions (from_state, to_state, cause, attempt, error, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tr.From.String(),
		tr.To.String(),
		tr.Cause,
		tr.Attempt,
		tr.Err,
		tr.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// WriteTransition lets the repository serve as a Recorder sink.
func (r *SQLiteRepository) WriteTransition(ctx context.Context, tr lifecycle.Transition) error {
	return r.Record(ctx, tr)
}

// Recent returns the newest transitions first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []Entry: Entries ordered newest first (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	// id breaks ties between transitions committed within one clock tick
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, from_state, to_state, cause, attempt, error, occurred_at
		 FROM lifecycle_transitions
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                  Entry
			from, to, occurred string
		)
		if err := rows.Scan(&e.ID, &from, &to, &e.Cause, &e.Attempt, &e.Err, &occurred); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		if e.From, err = lifecycle.ParseState(from); err != nil {
			return nil, fmt.Errorf("row %d: %w", e.ID, err)
		}
		if e.To, err = lifecycle.ParseState(to); err != nil {
			return nil, fmt.Errorf("row %d: %w", e.ID, err)
		}
		if e.At, err = time.Parse(timeLayout, occurred); err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return entries, nil
}

// Prune deletes transitions older than olderThan.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: ErrInvalidRetention for a non-positive age, otherwise the database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM lifecycle_transitions WHERE occurred_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting transitions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
