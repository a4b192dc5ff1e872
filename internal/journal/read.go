package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/splithost/internal/timer"
)

// Session is one journal session with its row counts.
type Session struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	ModulePath string    `json:"module_path"`
	Entries    int       `json:"entries"`
	Events     int       `json:"events"`
}

// EventRecord is a stored timer transition.
type EventRecord struct {
	Seq        int64        `json:"seq"`
	Time       time.Time    `json:"time"`
	Action     timer.Action `json:"action"`
	Phase      timer.Phase  `json:"phase"`
	SplitIndex int          `json:"split_index"`
}

// Sessions lists sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.started_at, s.module_path,
		       (SELECT COUNT(*) FROM log_entries e WHERE e.session_id = s.id),
		       (SELECT COUNT(*) FROM timer_events t WHERE t.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC, s.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started int64
		if err := rows.Scan(&sess.ID, &started, &sess.ModulePath, &sess.Entries, &sess.Events); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.Unix(0, started)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Entries returns a session's log entries in insertion order.
func (s *Store) Entries(ctx context.Context, sessionID string) ([]timer.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, kind, level, message
		FROM log_entries
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []timer.Entry
	for rows.Next() {
		var at int64
		var kind string
		var level int
		var e timer.Entry
		if err := rows.Scan(&at, &kind, &level, &e.Message); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Time = time.Unix(0, at)
		e.Level = slog.Level(level)
		if kind == timer.KindModule.String() {
			e.Kind = timer.KindModule
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Events returns a session's timer transitions in insertion order.
func (s *Store) Events(ctx context.Context, sessionID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, at, action, phase, split_index
		FROM timer_events
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		var at int64
		var action, phase string
		if err := rows.Scan(&r.Seq, &at, &action, &phase, &r.SplitIndex); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		p, err := timer.ParsePhase(phase)
		if err != nil {
			return nil, fmt.Errorf("scan event %d: %w", r.Seq, err)
		}
		r.Time = time.Unix(0, at)
		r.Action = timer.Action(action)
		r.Phase = p
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
