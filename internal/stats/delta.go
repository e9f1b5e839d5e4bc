package stats

import "math"

// Delta is the signed percentage change from previous to current,
// rounded to one decimal. Growth from zero is reported as +100.
func Delta(previous, current float64) float64 {
	switch {
	case previous == 0 && current == 0:
		return 0
	case previous == 0:
		return 100
	}
	return round(((current-previous)/previous)*100, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// ratio divides, returning 0 for a zero denominator.
func ratio(num, den float64, places int) float64 {
	if den == 0 {
		return 0
	}
	return round(num/den, places)
}
