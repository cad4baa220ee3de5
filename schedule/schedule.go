// Package schedule evaluates 5-field cron expressions for mirror scheduling.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule reports a malformed cron expression. Expressions are
// validated when a schedule is set, never at dispatch time.
var ErrInvalidSchedule = errors.New("invalid cron schedule")

// Strict minute/hour/dom/month/dow syntax. No seconds field, no @descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Base time for mirrors that have never run. Any far-past instant works; the
// first occurrence after it is always <= now.
var neverRan = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Parse validates expr and returns its evaluator.
func Parse(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return s, nil
}

// Validate reports whether expr is a well-formed 5-field cron expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextOccurrence returns the earliest time matching expr that is strictly
// after the given time.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after), nil
}

// IsDue reports whether a mirror with the given schedule and last run time is
// due at now. Due-ness is recomputed from the schedule and lastRun on every
// call; a cached next-run value is never consulted, so a missed tick is
// caught on the next poll rather than lost.
func IsDue(expr string, lastRun *time.Time, now time.Time) (bool, error) {
	base := neverRan
	if lastRun != nil {
		base = *lastRun
	}
	next, err := NextOccurrence(expr, base)
	if err != nil {
		return false, err
	}
	return !next.After(now), nil
}
