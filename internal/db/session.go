package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/wigglebot/internal/pose"
	"github.com/banshee-data/wigglebot/internal/waveform"
)

// ErrNoSession is returned when a session lookup finds nothing.
var ErrNoSession = errors.New("db: no such session")

// Session is one run of the robot.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time // zero while running
	Note      string
}

// SessionLog writes poses and programs for one session.
type SessionLog struct {
	db  *DB
	id  string
	now func() time.Time
}

// StartSession creates a session and returns a log bound to it.
func (db *DB) StartSession(ctx context.Context, note string) (*SessionLog, error) {
	id := uuid.New().String()
	started := time.Now()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at, note) VALUES (?, ?, ?)`,
		id, started.UnixNano(), note,
	); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	diagf("session %s started", id)
	return &SessionLog{db: db, id: id, now: time.Now}, nil
}

// ID is the session's UUID.
func (s *SessionLog) ID() string { return s.id }

// End stamps the session's end time.
func (s *SessionLog) End(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session_id = ?`,
		s.now().UnixNano(), s.id,
	)
	return err
}

// RecordPose stores one published pose.
func (s *SessionLog) RecordPose(ctx context.Context, at time.Time, e pose.Estimate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poses (session_id, captured_at, x, y, a, b, residual, markers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.id, at.UnixNano(), e.X, e.Y, e.A, e.B, e.Residual, e.Markers,
	)
	if err != nil {
		return fmt.Errorf("recording pose: %w", err)
	}
	return nil
}

// RecordProgram stores the phases behind a motor program. It satisfies
// actuator.ProgramRecorder.
func (s *SessionLog) RecordProgram(ctx context.Context, phases []float64, pulses []waveform.Pulse) error {
	encoded, err := json.Marshal(phases)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO programs (session_id, loaded_at, phases, pulses, period_us)
		 VALUES (?, ?, ?, ?, ?)`,
		s.id, s.now().UnixNano(), string(encoded), len(pulses), waveform.TotalDelay(pulses),
	)
	if err != nil {
		return fmt.Errorf("recording program: %w", err)
	}
	return nil
}

// PoseRecord is a stored pose.
type PoseRecord struct {
	CapturedAt time.Time
	Estimate   pose.Estimate
}

// ProgramRecord is a stored motor program.
type ProgramRecord struct {
	LoadedAt time.Time
	Phases   []float64
	Pulses   int
	PeriodUS uint64
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, started_at, ended_at, note FROM sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.Note); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			s.EndedAt = time.Unix(0, ended.Int64)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSession returns the most recently started session.
func (db *DB) LatestSession(ctx context.Context) (Session, error) {
	sessions, err := db.Sessions(ctx, 1)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrNoSession
	}
	return sessions[0], nil
}

// SessionPoses returns up to limit poses of a session in capture order.
// A limit of zero or less returns them all.
func (db *DB) SessionPoses(ctx context.Context, sessionID string, limit int) ([]PoseRecord, error) {
	query := `SELECT captured_at, x, y, a, b, residual, markers FROM poses
		WHERE session_id = ? ORDER BY captured_at, pose_id`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoseRecord
	for rows.Next() {
		var (
			r  PoseRecord
			at int64
		)
		e := &r.Estimate
		if err := rows.Scan(&at, &e.X, &e.Y, &e.A, &e.B, &e.Residual, &e.Markers); err != nil {
			return nil, err
		}
		r.CapturedAt = time.Unix(0, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionPrograms returns the programs loaded during a session in order.
func (db *DB) SessionPrograms(ctx context.Context, sessionID string) ([]ProgramRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT loaded_at, phases, pulses, period_us FROM programs
		 WHERE session_id = ? ORDER BY loaded_at, program_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProgramRecord
	for rows.Next() {
		var (
			r      ProgramRecord
			at     int64
			phases string
		)
		if err := rows.Scan(&at, &phases, &r.Pulses, &r.PeriodUS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(phases), &r.Phases); err != nil {
			return nil, fmt.Errorf("program phases %q: %w", phases, err)
		}
		r.LoadedAt = time.Unix(0, at)
		out = append(out, r)
	}
	return out, rows.Err()
}
