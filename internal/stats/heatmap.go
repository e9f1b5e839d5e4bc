package stats

import (
	"time"

	"github.com/tripboard/tripstats/internal/db"
)

// HeatmapCell is the event count for one weekday and hour.
// DayOfWeek 0 is Sunday, matching the store's DOW convention.
type HeatmapCell struct {
	DayOfWeek int `json:"dayOfWeek"`
	Hour      int `json:"hour"`
	Value     int `json:"value"`
}

// Heatmap sums events from every stream into (weekday, hour)
// cells in UTC. Only non-zero cells are returned, ordered by
// weekday then hour.
func Heatmap(streams ...[]time.Time) []HeatmapCell {
	var grid [7][24]int
	for _, stream := range streams {
		for _, ts := range stream {
			t := ts.UTC()
			grid[t.Weekday()][t.Hour()]++
		}
	}

	cells := []HeatmapCell{}
	for d := range 7 {
		for h := range 24 {
			if grid[d][h] == 0 {
				continue
			}
			cells = append(cells, HeatmapCell{
				DayOfWeek: d,
				Hour:      h,
				Value:     grid[d][h],
			})
		}
	}
	return cells
}

func contentTimes(rows []db.ContentRow) []time.Time {
	out := make([]time.Time, len(rows))
	for i, r := range rows {
		out[i] = r.CreatedAt
	}
	return out
}

func sessionStarts(sessions []db.SessionRow) []time.Time {
	out := make([]time.Time, len(sessions))
	for i, s := range sessions {
		out[i] = s.StartedAt
	}
	return out
}
