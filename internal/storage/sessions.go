package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/claude/sprintcoach/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SaveSession inserts the session row and batch-inserts its reps in one
// transaction. A duplicate session ID is a no-op.
func (db *DB) SaveSession(ctx context.Context, rec models.SessionRecord) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning session tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cfg := rec.Config
	tag, err := tx.Exec(ctx,
		`INSERT INTO sprint_sessions (id, user_id, name, distance_units, rep_count, rest_seconds,
		 variation, phases, source, started_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT DO NOTHING`,
		rec.ID, rec.UserID, cfg.Name, cfg.DistanceUnits, cfg.RepCount, cfg.RestSeconds,
		string(cfg.Variation), cfg.PhasesEnabled.String(), rec.Source, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("inserting sprint session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if rows := rec.RepRows(); len(rows) > 0 {
		query := `INSERT INTO sprint_reps (session_id, user_id, rep_number, seconds) VALUES `
		args := make([]any, 0, len(rows)*4)
		valueStrings := make([]string, 0, len(rows))
		for i, r := range rows {
			base := i * 4
			valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
			args = append(args, r.SessionID, r.UserID, r.RepNumber, r.Seconds)
		}
		query += strings.Join(valueStrings, ",") + " ON CONFLICT DO NOTHING"
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return false, fmt.Errorf("inserting sprint reps: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing session: %w", err)
	}
	return true, nil
}

// ListSessions returns matching sessions, newest first, with their reps.
func (db *DB) ListSessions(ctx context.Context, f SessionFilter) ([]models.SessionRecord, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, name, distance_units, rep_count, rest_seconds, variation, phases,
		 source, started_at, completed_at
		 FROM sprint_sessions
		 WHERE user_id = $1 AND completed_at >= $2 AND completed_at < $3
		   AND ($4 = '' OR variation = $4)
		 ORDER BY completed_at DESC`,
		f.UserID, f.Start, f.End, string(f.Variation))
	if err != nil {
		return nil, fmt.Errorf("querying sprint sessions: %w", err)
	}
	defer rows.Close()

	var result []models.SessionRecord
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		index[rec.ID] = len(result)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sprint sessions: %w", err)
	}
	if len(result) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(result))
	for _, r := range result {
		ids = append(ids, r.ID.String())
	}
	repRows, err := db.Pool.Query(ctx,
		`SELECT session_id, seconds FROM sprint_reps
		 WHERE session_id = ANY($1::uuid[])
		 ORDER BY session_id, rep_number`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying sprint reps: %w", err)
	}
	defer repRows.Close()
	for repRows.Next() {
		var id uuid.UUID
		var seconds float64
		if err := repRows.Scan(&id, &seconds); err != nil {
			return nil, fmt.Errorf("scanning sprint rep: %w", err)
		}
		if i, ok := index[id]; ok {
			result[i].RepResults = append(result[i].RepResults, seconds)
		}
	}
	return result, repRows.Err()
}

// GetSession returns one session with its reps.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionRecord, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT id, user_id, name, distance_units, rep_count, rest_seconds, variation, phases,
		 source, started_at, completed_at
		 FROM sprint_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT seconds FROM sprint_reps WHERE session_id = $1 ORDER BY rep_number`, id)
	if err != nil {
		return nil, fmt.Errorf("querying sprint reps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var seconds float64
		if err := rows.Scan(&seconds); err != nil {
			return nil, fmt.Errorf("scanning sprint rep: %w", err)
		}
		rec.RepResults = append(rec.RepResults, seconds)
	}
	return &rec, rows.Err()
}

// PersonalBests returns the leaderboard: one entry per sprint distance.
func (db *DB) PersonalBests(ctx context.Context, userID int) ([]models.PersonalBest, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT s.distance_units, MIN(r.seconds), AVG(r.seconds), COUNT(*), COUNT(DISTINCT s.id),
		 (ARRAY_AGG(s.completed_at ORDER BY r.seconds ASC, s.completed_at ASC))[1]
		 FROM sprint_reps r
		 JOIN sprint_sessions s ON s.id = r.session_id
		 WHERE s.user_id = $1
		 GROUP BY s.distance_units
		 ORDER BY s.distance_units`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying personal bests: %w", err)
	}
	defer rows.Close()

	var result []models.PersonalBest
	for rows.Next() {
		var pb models.PersonalBest
		if err := rows.Scan(&pb.DistanceUnits, &pb.BestSeconds, &pb.AvgSeconds,
			&pb.Reps, &pb.Sessions, &pb.AchievedAt); err != nil {
			return nil, fmt.Errorf("scanning personal best: %w", err)
		}
		result = append(result, pb)
	}
	return result, rows.Err()
}

// GetOrCreateUser finds or creates a user by Tailscale login name and returns
// its ID. last_seen and display_name are refreshed on each call.
func (db *DB) GetOrCreateUser(ctx context.Context, login, displayName string) (int, error) {
	var id int
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO users (login, display_name)
		VALUES ($1, $2)
		ON CONFLICT (login) DO UPDATE
			SET last_seen = NOW(), display_name = COALESCE(NULLIF($2, ''), users.display_name)
		RETURNING id
	`, login, displayName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting user %s: %w", login, err)
	}
	return id, nil
}

// scanner is satisfied by pgx.Row, pgx.Rows and *sql.Row/*sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

type sessionRow struct {
	rec       models.SessionRecord
	variation string
	phases    string
}

func (r *sessionRow) dest(started, completed any) []any {
	c := &r.rec.Config
	return []any{&r.rec.ID, &r.rec.UserID, &c.Name, &c.DistanceUnits, &c.RepCount, &c.RestSeconds,
		&r.variation, &r.phases, &r.rec.Source, started, completed}
}

func (r *sessionRow) finish() (models.SessionRecord, error) {
	phases, err := models.ParsePhaseSet(r.phases)
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("session %s: %w", r.rec.ID, err)
	}
	r.rec.Config.Variation = models.Variation(r.variation)
	r.rec.Config.PhasesEnabled = phases
	return r.rec, nil
}

func scanSession(s scanner) (models.SessionRecord, error) {
	var r sessionRow
	var started, completed time.Time
	if err := s.Scan(r.dest(&started, &completed)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SessionRecord{}, err
		}
		return models.SessionRecord{}, fmt.Errorf("scanning sprint session: %w", err)
	}
	r.rec.StartedAt = started
	r.rec.CompletedAt = completed
	return r.finish()
}
