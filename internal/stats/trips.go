package stats

import "github.com/tripboard/tripstats/internal/db"

func summarizeSoloTrips(trips []db.TripRow) SoloTrips {
	out := SoloTrips{CompletedTrips: len(trips)}
	var budget float64
	var budgets int
	locations := make([]string, 0, len(trips))
	for _, t := range trips {
		days := t.Days()
		out.TotalTripDays += days
		out.LongestTripDays = max(out.LongestTripDays, days)
		if t.Budget != nil {
			budget += *t.Budget
			budgets++
		}
		locations = append(locations, t.Location)
	}
	out.MostFrequentDirection = topPlace(locations)
	out.AverageBudget = ratio(budget, float64(budgets), 2)
	return out
}

func summarizeGroupTrips(
	trips []db.TripRow, participation map[string]int, scope Scope,
) GroupTrips {
	out := GroupTrips{TotalTrips: len(trips)}
	var dated int
	locations := make([]string, 0, len(trips))
	for _, t := range trips {
		if days := t.Days(); days > 0 {
			out.TotalTripDays += days
			dated++
		}
		locations = append(locations, t.Location)
	}
	out.MostVisitedPlace = topPlace(locations)
	out.AverageTripDays = ratio(float64(out.TotalTripDays), float64(dated), 1)

	// Members are in display-name order, so ties go to the first.
	best, bestCount := "", 0
	for _, m := range scope.Members {
		if scope.UserID != "" && m.ID != scope.UserID {
			continue
		}
		if n := participation[m.ID]; n > bestCount {
			best, bestCount = m.DisplayName, n
		}
	}
	if bestCount > 0 {
		out.MostActiveTraveler = &best
	}
	return out
}
