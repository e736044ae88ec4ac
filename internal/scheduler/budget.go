package scheduler

import (
	"math"
	"time"
)

// RemainingActive returns how much of the current active window is left at
// now. The window covers whole hours [start, end] and wraps midnight when
// start > end. Outside the window it returns zero.
func RemainingActive(now time.Time, start, end int,
	loc *time.Location) time.Duration {

	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	hour := local.Hour()

	midnight := time.Date(
		local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc,
	)

	var closes time.Time
	switch {
	case start <= end && hour >= start && hour <= end:
		closes = midnight.Add(time.Duration(end+1) * time.Hour)

	// Wrapped window, evening part: it closes tomorrow.
	case start > end && hour >= start:
		closes = midnight.AddDate(0, 0, 1).Add(
			time.Duration(end+1) * time.Hour,
		)

	// Wrapped window, morning part.
	case start > end && hour <= end:
		closes = midnight.Add(time.Duration(end+1) * time.Hour)

	default:
		return 0
	}

	return max(0, closes.Sub(local))
}

// ExpectedCycles estimates the cycles left today: the remaining active time
// over the mean interval, rounded up, and never below one.
func ExpectedCycles(remaining, minInterval, maxInterval time.Duration) int {
	mean := (minInterval + maxInterval) / 2
	if mean <= 0 || remaining <= 0 {
		return 1
	}

	n := int(math.Ceil(float64(remaining) / float64(mean)))

	return max(1, n)
}

// KindBudget returns the number of dispatches one cycle may grant a kind:
// floor(cap × remaining_fraction × multiplier / expected), where the
// remaining fraction is 1 − sentToday/cap. A kind that has not been granted
// anything today gets at least one unit while cap and multiplier are
// positive.
func KindBudget(dailyCap, sentToday, grantedToday int, multiplier float64,
	expected int) int {

	if dailyCap <= 0 || multiplier <= 0 {
		return 0
	}
	expected = max(1, expected)

	fraction := 1 - float64(sentToday)/float64(dailyCap)
	if fraction < 0 {
		fraction = 0
	}

	budget := int(math.Floor(
		float64(dailyCap) * fraction * multiplier / float64(expected),
	))

	if budget < 1 && grantedToday == 0 {
		budget = 1
	}

	return max(0, budget)
}
