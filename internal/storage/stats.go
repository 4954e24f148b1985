package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/claude/sprintcoach/internal/models"
)

// HistoryStats holds aggregate statistics about a user's sprint history.
type HistoryStats struct {
	TotalSessions   int64           `json:"total_sessions"`
	TotalReps       int64           `json:"total_reps"`
	TotalDistance   int64           `json:"total_distance_units"`
	EarliestSession *time.Time      `json:"earliest_session"`
	LatestSession   *time.Time      `json:"latest_session"`
	ByVariation     []VariationStat `json:"by_variation"`
}

// VariationStat holds summary stats for a single workout variation.
type VariationStat struct {
	Variation   models.Variation `json:"variation"`
	Sessions    int64            `json:"sessions"`
	Reps        int64            `json:"reps"`
	BestSeconds *float64         `json:"best_seconds,omitempty"`
}

const variationStatsQuery = `SELECT s.variation, COUNT(DISTINCT s.id), COUNT(r.rep_number), MIN(r.seconds)
	FROM sprint_sessions s
	LEFT JOIN sprint_reps r ON r.session_id = s.id
	WHERE s.user_id = %s
	GROUP BY s.variation
	ORDER BY COUNT(DISTINCT s.id) DESC, s.variation`

// Stats returns aggregate statistics for a user's stored sessions.
func (db *DB) Stats(ctx context.Context, userID int) (*HistoryStats, error) {
	stats := &HistoryStats{}

	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(completed_at), MAX(completed_at) FROM sprint_sessions WHERE user_id = $1`, userID,
	).Scan(&stats.TotalSessions, &stats.EarliestSession, &stats.LatestSession)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	err = db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(s.distance_units), 0)
		 FROM sprint_reps r JOIN sprint_sessions s ON s.id = r.session_id
		 WHERE r.user_id = $1`, userID,
	).Scan(&stats.TotalReps, &stats.TotalDistance)
	if err != nil {
		return nil, fmt.Errorf("counting reps: %w", err)
	}

	rows, err := db.Pool.Query(ctx, fmt.Sprintf(variationStatsQuery, "$1"), userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions by variation: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s VariationStat
		var v string
		if err := rows.Scan(&v, &s.Sessions, &s.Reps, &s.BestSeconds); err != nil {
			return nil, fmt.Errorf("scanning variation stat: %w", err)
		}
		s.Variation = models.Variation(v)
		stats.ByVariation = append(stats.ByVariation, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// Stats returns aggregate statistics for a user's stored sessions.
func (l *LocalDB) Stats(ctx context.Context, userID int) (*HistoryStats, error) {
	stats := &HistoryStats{}

	var earliest, latest sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(completed_at), MAX(completed_at) FROM sprint_sessions WHERE user_id = ?`, userID,
	).Scan(&stats.TotalSessions, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	stats.EarliestSession = unixMilliPtr(earliest)
	stats.LatestSession = unixMilliPtr(latest)

	err = l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(s.distance_units), 0)
		 FROM sprint_reps r JOIN sprint_sessions s ON s.id = r.session_id
		 WHERE r.user_id = ?`, userID,
	).Scan(&stats.TotalReps, &stats.TotalDistance)
	if err != nil {
		return nil, fmt.Errorf("counting reps: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(variationStatsQuery, "?"), userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions by variation: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s VariationStat
		var v string
		var best sql.NullFloat64
		if err := rows.Scan(&v, &s.Sessions, &s.Reps, &best); err != nil {
			return nil, fmt.Errorf("scanning variation stat: %w", err)
		}
		s.Variation = models.Variation(v)
		if best.Valid {
			s.BestSeconds = &best.Float64
		}
		stats.ByVariation = append(stats.ByVariation, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

func unixMilliPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
