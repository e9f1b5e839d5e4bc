package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRow is one presence session.
type SessionRow struct {
	UserID          string
	StartedAt       time.Time
	EndedAt         *time.Time
	LastSeenAt      *time.Time
	DurationSeconds *int64
}

// Duration returns the session length in seconds: the recorded
// duration when present, otherwise from start to the end (or
// last-seen time, or now), with the end clamped to now. Never
// negative.
func (s SessionRow) Duration(now time.Time) int64 {
	if s.DurationSeconds != nil {
		return max(*s.DurationSeconds, 0)
	}
	end := now
	switch {
	case s.EndedAt != nil:
		end = *s.EndedAt
	case s.LastSeenAt != nil:
		end = *s.LastSeenAt
	}
	if end.After(now) {
		end = now
	}
	secs := int64(end.Sub(s.StartedAt) / time.Second)
	return max(secs, 0)
}

// ListSessions returns the sessions of userIDs started within
// [from, to). Nil bounds are open. Callers must check HasPresence
// first; on a store without the table the query fails.
func (db *DB) ListSessions(
	ctx context.Context, userIDs []string, from, to *time.Time,
) ([]SessionRow, error) {
	var out []SessionRow
	err := queryChunked(userIDs, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := `SELECT user_id, started_at, ended_at, last_seen_at,
			duration_seconds
			FROM user_sessions
			WHERE user_id IN ` + ph
		if from != nil {
			query += " AND started_at >= ?"
			args = append(args, db.bindTime(*from))
		}
		if to != nil {
			query += " AND started_at < ?"
			args = append(args, db.bindTime(*to))
		}
		query += " ORDER BY started_at"

		rows, err := db.query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying sessions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var s SessionRow
			var started, ended, lastSeen nullTime
			var dur sql.NullInt64
			if err := rows.Scan(
				&s.UserID, &started, &ended, &lastSeen, &dur,
			); err != nil {
				return fmt.Errorf("scanning session: %w", err)
			}
			s.StartedAt = started.Time
			s.EndedAt = ended.Ptr()
			s.LastSeenAt = lastSeen.Ptr()
			if dur.Valid {
				s.DurationSeconds = &dur.Int64
			}
			out = append(out, s)
		}
		return classify(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
