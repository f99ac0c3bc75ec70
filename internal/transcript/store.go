// Package transcript archives the raw chat exchange in PostgreSQL. The
// archive is write-mostly; the dialogue never reads it back.
package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicware/turnero/pkg/logging"
)

type db interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one archived message.
type Entry struct {
	ID        uuid.UUID
	UserID    string
	ChatID    int64
	Direction string
	Body      string
	CreatedAt time.Time
}

// Store persists transcript entries. A nil Store (no database configured)
// is valid and drops everything silently.
type Store struct {
	db     db
	logger *logging.Logger
}

// NewStore creates a transcript store. Returns nil when db is nil so the
// caller can wire it unconditionally.
func NewStore(db db, logger *logging.Logger) *Store {
	if db == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger}
}

// Record archives one message. direction is "in" for user messages and
// "out" for bot replies.
func (s *Store) Record(ctx context.Context, userID string, chatID int64, direction, text string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if direction != "in" && direction != "out" {
		return fmt.Errorf("transcript: invalid direction %q", direction)
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO transcript_messages (id, user_id, chat_id, direction, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.New(), userID, chatID, direction, text)
	if err != nil {
		return fmt.Errorf("transcript: insert failed: %w", err)
	}
	return nil
}

// Recent returns the user's last messages, newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, chat_id, direction, body, created_at
		 FROM transcript_messages
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: query failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ChatID, &e.Direction, &e.Body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcript: scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: rows failed: %w", err)
	}
	return entries, nil
}
