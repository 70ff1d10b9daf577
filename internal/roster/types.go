package roster

import (
	"context"
	"errors"
	"strings"
)

// EligibleWorker is one applicant and the days they can work.
type EligibleWorker struct {
	Name string   `json:"name" yaml:"name"`
	Days []string `json:"days" yaml:"days"`
}

// AvailableOn reports whether day is one of the worker's days. Matching is
// exact and case-sensitive.
func (w EligibleWorker) AvailableOn(day string) bool {
	for _, d := range w.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Provider supplies the ordered list of workers eligible on a day.
type Provider interface {
	Eligible(ctx context.Context, day string) ([]EligibleWorker, error)
}

var (
	ErrEmptyName = errors.New("worker name is empty")
	ErrNoDays    = errors.New("worker has no days")
)

// ParseDays splits a comma-separated day list, dropping blanks.
func ParseDays(s string) []string {
	var days []string
	for _, part := range strings.Split(s, ",") {
		if d := strings.TrimSpace(part); d != "" {
			days = append(days, d)
		}
	}
	return days
}

// FormatDays is the inverse of ParseDays.
func FormatDays(days []string) string {
	return strings.Join(days, ",")
}

// FilterByDay returns the workers available on day, preserving order.
func FilterByDay(workers []EligibleWorker, day string) []EligibleWorker {
	out := make([]EligibleWorker, 0, len(workers))
	for _, w := range workers {
		if w.AvailableOn(day) {
			out = append(out, w)
		}
	}
	return out
}
