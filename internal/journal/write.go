package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/splithost/internal/timer"
)

// IDGenerator produces session ids.
// Implemented by UUIDv7Generator (production) and
// testutil.FixedIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-ordered UUIDv7 session ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// BeginSession inserts a new session row and returns its id.
func (s *Store) BeginSession(ctx context.Context, ids IDGenerator, startedAt time.Time, modulePath string) (string, error) {
	id := ids.Generate()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, module_path)
		VALUES (?, ?, ?)
	`, id, startedAt.UnixNano(), modulePath)
	if err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}
	return id, nil
}

// WriteEntry appends a session log entry.
func (s *Store) WriteEntry(ctx context.Context, sessionID string, e timer.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_entries (session_id, at, kind, level, message)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, e.Time.UnixNano(), e.Kind.String(), int(e.Level), e.Message)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// WriteEvent appends a timer transition. Log events are rejected; they
// belong in WriteEntry.
func (s *Store) WriteEvent(ctx context.Context, sessionID string, ev timer.Event) error {
	if ev.Action == timer.ActionLog {
		return fmt.Errorf("write event: log events are stored as entries")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timer_events (session_id, at, action, phase, split_index)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, ev.Time.UnixNano(), string(ev.Action), ev.Phase.String(), ev.SplitIndex)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
