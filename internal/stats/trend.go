package stats

import (
	"sort"
	"time"

	"github.com/tripboard/tripstats/internal/db"
	"github.com/tripboard/tripstats/internal/timeutil"
)

// TrendPoint is one day of activity.
type TrendPoint struct {
	Date          string `json:"date"`
	Posts         int    `json:"posts"`
	Comments      int    `json:"comments"`
	OnlineSeconds int64  `json:"onlineSeconds"`
}

// BuildTrend merges per-day series keyed by YYYY-MM-DD into one
// ascending sequence. A day appears when any series has it;
// missing components are zero. Days absent from every series are
// not filled in.
func BuildTrend(
	posts, comments map[string]int, online map[string]int64,
) []TrendPoint {
	byDate := make(map[string]*TrendPoint)
	get := func(date string) *TrendPoint {
		p, ok := byDate[date]
		if !ok {
			p = &TrendPoint{Date: date}
			byDate[date] = p
		}
		return p
	}
	for d, n := range posts {
		get(d).Posts += n
	}
	for d, n := range comments {
		get(d).Comments += n
	}
	for d, s := range online {
		get(d).OnlineSeconds += s
	}

	out := make([]TrendPoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})
	return out
}

// countByDay buckets content rows by UTC calendar day.
func countByDay(rows []db.ContentRow) map[string]int {
	out := make(map[string]int)
	for _, r := range rows {
		out[timeutil.FormatDate(r.CreatedAt)]++
	}
	return out
}

// secondsByDay sums session durations by the UTC day the session
// started.
func secondsByDay(sessions []db.SessionRow, now time.Time) map[string]int64 {
	out := make(map[string]int64)
	for _, s := range sessions {
		out[timeutil.FormatDate(s.StartedAt)] += s.Duration(now)
	}
	return out
}
