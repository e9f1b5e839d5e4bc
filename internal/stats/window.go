// Package stats computes the engagement dashboard: solo and
// group reports over a time window and a board/member scope.
package stats

import (
	"time"

	"github.com/tripboard/tripstats/internal/timeutil"
)

// Range selectors.
const (
	Range7      = "7"
	Range30     = "30"
	Range90     = "90"
	RangeAll    = "all"
	RangeCustom = "custom"

	DefaultRange = Range30
)

var presetDays = map[string]int{
	Range7:  7,
	Range30: 30,
	Range90: 90,
}

// Window is a half-open interval [From, To) of UTC midnights.
// Nil bounds are unbounded.
type Window struct {
	From *time.Time
	To   *time.Time
}

// Unbounded reports whether the window covers all time.
func (w Window) Unbounded() bool {
	return w.From == nil || w.To == nil
}

// Previous returns the equal-length window ending where w begins.
// An unbounded window has an unbounded predecessor.
func (w Window) Previous() Window {
	if w.Unbounded() {
		return Window{}
	}
	length := w.To.Sub(*w.From)
	from := w.From.Add(-length)
	to := *w.From
	return Window{From: &from, To: &to}
}

// ResolvedRange is a window together with the selector values
// that produced it, for echoing back to the client.
type ResolvedRange struct {
	Window
	Range     string
	StartDate *string
	EndDate   *string
}

// ResolveWindow turns a range selector into a window relative to
// now. Unknown selectors use DefaultRange. A custom range with a
// missing, malformed or inverted date pair resolves to all time.
func ResolveWindow(selector, startDate, endDate string, now time.Time) ResolvedRange {
	today := timeutil.Day(now)

	if selector == RangeAll {
		return ResolvedRange{Range: RangeAll}
	}

	if selector == RangeCustom {
		from, okFrom := timeutil.ParseDate(startDate)
		to, okTo := timeutil.ParseDate(endDate)
		if !okFrom || !okTo || from.After(to) {
			return ResolvedRange{Range: RangeAll}
		}
		to = to.AddDate(0, 0, 1)
		return ResolvedRange{
			Window:    Window{From: &from, To: &to},
			Range:     RangeCustom,
			StartDate: &startDate,
			EndDate:   &endDate,
		}
	}

	n, ok := presetDays[selector]
	if !ok {
		selector = DefaultRange
		n = presetDays[DefaultRange]
	}
	from := today.AddDate(0, 0, -(n - 1))
	to := today.AddDate(0, 0, 1)
	return ResolvedRange{
		Window: Window{From: &from, To: &to},
		Range:  selector,
	}
}
