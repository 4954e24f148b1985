package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/claude/sprintcoach/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// LocalDB is the single-device history kept in a SQLite file. Timestamps are
// stored as unix milliseconds.
type LocalDB struct {
	db *sql.DB
}

var _ Store = (*LocalDB)(nil)

const localSchema = `
CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	login        TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	last_seen    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sprint_sessions (
	id             TEXT PRIMARY KEY,
	user_id        INTEGER NOT NULL,
	name           TEXT NOT NULL,
	distance_units INTEGER NOT NULL,
	rep_count      INTEGER NOT NULL,
	rest_seconds   INTEGER NOT NULL,
	variation      TEXT NOT NULL,
	phases         TEXT NOT NULL,
	source         TEXT NOT NULL,
	started_at     INTEGER NOT NULL,
	completed_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sprint_sessions_user_completed ON sprint_sessions (user_id, completed_at);
CREATE TABLE IF NOT EXISTS sprint_reps (
	session_id TEXT NOT NULL REFERENCES sprint_sessions(id) ON DELETE CASCADE,
	user_id    INTEGER NOT NULL,
	rep_number INTEGER NOT NULL,
	seconds    REAL NOT NULL,
	PRIMARY KEY (session_id, rep_number)
);`

// OpenLocal opens (or creates) the SQLite history at path.
func OpenLocal(path string) (*LocalDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history tables: %w", err)
	}
	return &LocalDB{db: db}, nil
}

// Close closes the database.
func (l *LocalDB) Close() error {
	return l.db.Close()
}

// SaveSession inserts the session and its reps in one transaction. A
// duplicate session ID is a no-op.
func (l *LocalDB) SaveSession(ctx context.Context, rec models.SessionRecord) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning session tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cfg := rec.Config
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sprint_sessions (id, user_id, name, distance_units, rep_count,
		 rest_seconds, variation, phases, source, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserID, cfg.Name, cfg.DistanceUnits, cfg.RepCount, cfg.RestSeconds,
		string(cfg.Variation), cfg.PhasesEnabled.String(), rec.Source,
		rec.StartedAt.UnixMilli(), rec.CompletedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("inserting sprint session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO sprint_reps (session_id, user_id, rep_number, seconds) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return false, fmt.Errorf("preparing rep insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rec.RepRows() {
		if _, err := stmt.ExecContext(ctx, r.SessionID.String(), r.UserID, r.RepNumber, r.Seconds); err != nil {
			return false, fmt.Errorf("inserting sprint rep %d: %w", r.RepNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing session: %w", err)
	}
	return true, nil
}

// ListSessions returns matching sessions, newest first, with their reps.
func (l *LocalDB) ListSessions(ctx context.Context, f SessionFilter) ([]models.SessionRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_id, name, distance_units, rep_count, rest_seconds, variation, phases,
		 source, started_at, completed_at
		 FROM sprint_sessions
		 WHERE user_id = ? AND completed_at >= ? AND completed_at < ?
		   AND (? = '' OR variation = ?)
		 ORDER BY completed_at DESC`,
		f.UserID, f.Start.UnixMilli(), f.End.UnixMilli(), string(f.Variation), string(f.Variation))
	if err != nil {
		return nil, fmt.Errorf("querying sprint sessions: %w", err)
	}
	defer rows.Close()

	var result []models.SessionRecord
	for rows.Next() {
		rec, err := scanLocalSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sprint sessions: %w", err)
	}
	rows.Close()

	for i := range result {
		reps, err := l.reps(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].RepResults = reps
	}
	return result, nil
}

// GetSession returns one session with its reps.
func (l *LocalDB) GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, distance_units, rep_count, rest_seconds, variation, phases,
		 source, started_at, completed_at
		 FROM sprint_sessions WHERE id = ? AND user_id = ?`, id.String(), userID)
	rec, err := scanLocalSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.RepResults, err = l.reps(ctx, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PersonalBests returns the leaderboard: one entry per sprint distance.
func (l *LocalDB) PersonalBests(ctx context.Context, userID int) ([]models.PersonalBest, error) {
	// SQLite takes bare columns from the row that produced MIN().
	rows, err := l.db.QueryContext(ctx,
		`SELECT s.distance_units, MIN(r.seconds), s.completed_at, AVG(r.seconds), COUNT(*),
		 COUNT(DISTINCT s.id)
		 FROM sprint_reps r
		 JOIN sprint_sessions s ON s.id = r.session_id
		 WHERE s.user_id = ?
		 GROUP BY s.distance_units
		 ORDER BY s.distance_units`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying personal bests: %w", err)
	}
	defer rows.Close()

	var result []models.PersonalBest
	for rows.Next() {
		var pb models.PersonalBest
		var achieved int64
		if err := rows.Scan(&pb.DistanceUnits, &pb.BestSeconds, &achieved, &pb.AvgSeconds,
			&pb.Reps, &pb.Sessions); err != nil {
			return nil, fmt.Errorf("scanning personal best: %w", err)
		}
		pb.AchievedAt = time.UnixMilli(achieved).UTC()
		result = append(result, pb)
	}
	return result, rows.Err()
}

// GetOrCreateUser finds or creates a user by login and returns its ID.
func (l *LocalDB) GetOrCreateUser(ctx context.Context, login, displayName string) (int, error) {
	now := time.Now().UnixMilli()
	var id int
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO users (login, display_name, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT (login) DO UPDATE
			SET last_seen = excluded.last_seen,
			    display_name = COALESCE(NULLIF(excluded.display_name, ''), users.display_name)
		RETURNING id
	`, login, displayName, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting user %s: %w", login, err)
	}
	return id, nil
}

func (l *LocalDB) reps(ctx context.Context, id uuid.UUID) ([]float64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT seconds FROM sprint_reps WHERE session_id = ? ORDER BY rep_number`, id.String())
	if err != nil {
		return nil, fmt.Errorf("querying sprint reps: %w", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning sprint rep: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanLocalSession(s scanner) (models.SessionRecord, error) {
	var r sessionRow
	var id string
	var started, completed int64
	dest := r.dest(&started, &completed)
	dest[0] = &id
	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SessionRecord{}, err
		}
		return models.SessionRecord{}, fmt.Errorf("scanning sprint session: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("session id %q: %w", id, err)
	}
	r.rec.ID = parsed
	r.rec.StartedAt = time.UnixMilli(started).UTC()
	r.rec.CompletedAt = time.UnixMilli(completed).UTC()
	return r.finish()
}
