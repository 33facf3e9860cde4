package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parse accepts the five-field expressions and @descriptors understood by
// cron.New().
func Parse(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NextRun returns the first activation of expr strictly after ref.
func NextRun(expr string, ref time.Time) (time.Time, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(ref), nil
}
