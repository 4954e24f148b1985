// Package wearable emulates the companion device: it receives workouts
// launched from the phone, keeps them in a local SQLite file, and reports rep
// times back.
package wearable

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNoWorkout is returned when no workout has been received yet.
var ErrNoWorkout = errors.New("no workout received")

// Workout is the companion's view of one session.
type Workout struct {
	SessionID  string                       `json:"session_id"`
	Config     *models.SessionConfiguration `json:"config,omitempty"`
	Phase      models.Phase                 `json:"phase"`
	CurrentRep int                          `json:"current_rep"`
	RepTimes   []float64                    `json:"rep_times"`
	Status     string                       `json:"status,omitempty"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

// StateDB stores workouts the companion has seen.
type StateDB struct {
	db *sql.DB
}

// OpenStateDB opens (or creates) the SQLite state database at dir/state.db.
func OpenStateDB(dir string) (*StateDB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "state.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS workouts (
		session_id  TEXT PRIMARY KEY,
		config      TEXT,
		phase       TEXT NOT NULL,
		current_rep INTEGER NOT NULL DEFAULT 0,
		rep_times   TEXT NOT NULL DEFAULT '[]',
		status      TEXT NOT NULL DEFAULT '',
		updated_at  INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state table: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Record applies an inbound message. Messages without a session ID are
// ignored; a launch replaces any earlier copy of the session.
func (s *StateDB) Record(msg companion.Message) error {
	if msg.SessionID == "" {
		return nil
	}
	at := msg.Time()
	if msg.Timestamp == 0 {
		at = time.Now()
	}

	switch msg.Type {
	case companion.MsgLaunchWorkout:
		cfg, err := json.Marshal(msg.SessionConfig)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		phase := msg.Phase
		if phase == "" {
			phase = models.PhaseIdle
		}
		_, err = s.db.Exec(
			`INSERT OR REPLACE INTO workouts (session_id, config, phase, current_rep, rep_times, status, updated_at)
			 VALUES (?, ?, ?, ?, '[]', ?, ?)`,
			msg.SessionID, string(cfg), string(phase), msg.CurrentRep, msg.Status, at.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("recording launch: %w", err)
		}
		return nil

	case companion.MsgPhaseUpdate, companion.MsgWorkoutCompleted, companion.MsgStatusUpdate:
		times, err := json.Marshal(nonNil(msg.RepTimes))
		if err != nil {
			return fmt.Errorf("encoding rep times: %w", err)
		}
		_, err = s.db.Exec(
			`INSERT INTO workouts (session_id, phase, current_rep, rep_times, status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (session_id) DO UPDATE SET
				phase = excluded.phase,
				current_rep = excluded.current_rep,
				rep_times = excluded.rep_times,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			msg.SessionID, string(msg.Phase), msg.CurrentRep, string(times), msg.Status, at.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("recording %s: %w", msg.Type, err)
		}
	}
	return nil
}

// SetRepTimes replaces the locally measured rep times of a session.
func (s *StateDB) SetRepTimes(sessionID string, times []float64) error {
	data, err := json.Marshal(nonNil(times))
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE workouts SET rep_times = ?, updated_at = ? WHERE session_id = ?`,
		string(data), time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("updating rep times: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoWorkout
	}
	return nil
}

// Latest returns the most recently updated workout.
func (s *StateDB) Latest() (Workout, error) {
	return s.scan(s.db.QueryRow(
		`SELECT session_id, config, phase, current_rep, rep_times, status, updated_at
		 FROM workouts ORDER BY updated_at DESC LIMIT 1`))
}

// Workout returns one workout by session ID.
func (s *StateDB) Workout(sessionID string) (Workout, error) {
	return s.scan(s.db.QueryRow(
		`SELECT session_id, config, phase, current_rep, rep_times, status, updated_at
		 FROM workouts WHERE session_id = ?`, sessionID))
}

func (s *StateDB) scan(row *sql.Row) (Workout, error) {
	var (
		w       Workout
		cfg     sql.NullString
		phase   string
		times   string
		updated int64
	)
	err := row.Scan(&w.SessionID, &cfg, &phase, &w.CurrentRep, &times, &w.Status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Workout{}, ErrNoWorkout
	}
	if err != nil {
		return Workout{}, fmt.Errorf("reading workout: %w", err)
	}
	w.Phase = models.Phase(phase)
	w.UpdatedAt = time.UnixMilli(updated)
	if cfg.Valid && cfg.String != "" && cfg.String != "null" {
		var c models.SessionConfiguration
		if err := json.Unmarshal([]byte(cfg.String), &c); err != nil {
			return Workout{}, fmt.Errorf("decoding config: %w", err)
		}
		w.Config = &c
	}
	if err := json.Unmarshal([]byte(times), &w.RepTimes); err != nil {
		return Workout{}, fmt.Errorf("decoding rep times: %w", err)
	}
	return w, nil
}

// Close closes the state database.
func (s *StateDB) Close() error {
	return s.db.Close()
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
