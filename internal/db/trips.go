package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tripboard/tripstats/internal/timeutil"
)

// TripRow is a completed board with its decoded trip metadata.
// Every metadata field is optional.
type TripRow struct {
	BoardID     string
	Title       string
	CompletedAt time.Time
	Location    string
	Budget      *float64
	StartDate   *time.Time
	EndDate     *time.Time
}

// Days is the inclusive length of the trip, or 0 when either date
// is missing or the dates are inverted.
func (t TripRow) Days() int {
	if t.StartDate == nil || t.EndDate == nil {
		return 0
	}
	d := int(t.EndDate.Sub(*t.StartDate).Hours()/24) + 1
	return max(d, 0)
}

// tripWhere selects completed boards in f's boards whose
// completion falls in the window. f.AuthorID, when set, limits
// trips to boards that user belongs to.
func (db *DB) tripWhere(f ContentFilter) (string, []any) {
	ph, args := inPlaceholders(f.BoardIDs)
	preds := []string{
		"b.id IN " + ph,
		"b.completed",
		"b.completed_at IS NOT NULL",
	}
	if f.From != nil {
		preds = append(preds, "b.completed_at >= ?")
		args = append(args, db.bindTime(*f.From))
	}
	if f.To != nil {
		preds = append(preds, "b.completed_at < ?")
		args = append(args, db.bindTime(*f.To))
	}
	if f.AuthorID != "" {
		preds = append(preds, `EXISTS (SELECT 1 FROM board_members m
			WHERE m.board_id = b.id AND m.user_id = ?)`)
		args = append(args, f.AuthorID)
	}
	return strings.Join(preds, " AND "), args
}

// CountCompletedTrips counts boards completed in the window.
func (db *DB) CountCompletedTrips(
	ctx context.Context, f ContentFilter,
) (int, error) {
	if f.Empty() {
		return 0, nil
	}
	total := 0
	err := f.chunks(func(f ContentFilter) error {
		where, args := db.tripWhere(f)
		var n int
		if err := db.queryRow(ctx,
			"SELECT count(*) FROM boards b WHERE "+where, args...,
		).Scan(&n); err != nil {
			return fmt.Errorf("counting completed trips: %w", classify(err))
		}
		total += n
		return nil
	})
	return total, err
}

// ListCompletedTrips returns boards completed in the window
// ordered by completion time.
func (db *DB) ListCompletedTrips(
	ctx context.Context, f ContentFilter,
) ([]TripRow, error) {
	if f.Empty() {
		return nil, nil
	}
	var trips []TripRow
	err := f.chunks(func(f ContentFilter) error {
		where, args := db.tripWhere(f)
		rows, err := db.query(ctx,
			`SELECT b.id, b.title, b.completed_at, b.trip_meta
			FROM boards b WHERE `+where+`
			ORDER BY b.completed_at, b.id`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("querying completed trips: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t TripRow
			var completed nullTime
			var meta sql.NullString
			if err := rows.Scan(
				&t.BoardID, &t.Title, &completed, &meta,
			); err != nil {
				return fmt.Errorf("scanning trip: %w", err)
			}
			t.CompletedAt = completed.Time
			decodeTripMeta(&t, meta.String)
			trips = append(trips, t)
		}
		return classify(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return trips, nil
}

// decodeTripMeta fills the optional fields of t from the
// trip_meta JSON document. Malformed fields are left unset.
func decodeTripMeta(t *TripRow, meta string) {
	if meta == "" || !gjson.Valid(meta) {
		return
	}
	r := gjson.Parse(meta)
	t.Location = strings.TrimSpace(r.Get("location").String())

	switch b := r.Get("budget"); b.Type {
	case gjson.Number:
		v := b.Float()
		t.Budget = &v
	case gjson.String:
		if v, err := strconv.ParseFloat(
			strings.TrimSpace(b.Str), 64,
		); err == nil {
			t.Budget = &v
		}
	}

	t.StartDate = tripDate(r.Get("startDate"))
	t.EndDate = tripDate(r.Get("endDate"))
}

func tripDate(v gjson.Result) *time.Time {
	if v.Type != gjson.String {
		return nil
	}
	if d, ok := timeutil.ParseDate(v.Str); ok {
		return &d
	}
	if ts, ok := timeutil.Parse(v.Str); ok {
		d := timeutil.Day(ts)
		return &d
	}
	return nil
}

// TripParticipation counts, per member, the completed trips in
// the window whose boards they belong to.
func (db *DB) TripParticipation(
	ctx context.Context, f ContentFilter,
) (map[string]int, error) {
	out := map[string]int{}
	if f.Empty() {
		return out, nil
	}
	err := f.chunks(func(f ContentFilter) error {
		where, args := db.tripWhere(f)
		rows, err := db.query(ctx,
			`SELECT bm.user_id, count(*)
			FROM boards b
			JOIN board_members bm ON bm.board_id = b.id
			WHERE `+where+`
			GROUP BY bm.user_id`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("querying trip participation: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				return fmt.Errorf("scanning trip participation: %w", err)
			}
			out[id] += n
		}
		return classify(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
