package scope

import (
	"strconv"
	"time"
)

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 0, 64) + "%"
}

func formatRate(r float64) string {
	s := strconv.FormatFloat(r, 'f', 1, 64)
	if r > 0 {
		s = "+" + s
	}
	return s + " %/h"
}

func formatInches(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "\""
}

// formatClock renders t as a wall clock time, dropping seconds for spans
// longer than an hour.
func formatClock(t time.Time, span time.Duration) string {
	if span > time.Hour {
		return t.Format("15:04")
	}
	return t.Format("15:04:05")
}
