// Package schedule runs cron-timed prompts into chats.
//
// cron.go - Cron expression parsing

package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedules use standard 5-field cron expressions
// (minute hour day-of-month month day-of-week).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a schedule's cron expression, wrapping failures in
// ErrInvalidCron so callers can classify them.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCron, err)
	}
	return sched, nil
}

// NextRun reports the first firing strictly after the given time
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// ValidateCron rejects a malformed expression without computing a time
func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}
