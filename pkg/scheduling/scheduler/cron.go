package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression with an optional leading seconds field.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.NewValidationError("scheduler", "cron", expr, err.Error()).
			WithHint("use \"min hour dom month dow\", an optional leading seconds field, or @every <duration>")
	}
	return schedule, nil
}

// intervalSchedule fires at a fixed interval. Unlike cron.Every it keeps
// sub-second intervals.
type intervalSchedule struct {
	interval time.Duration
}

// Every returns a schedule firing every interval.
func Every(interval time.Duration) cron.Schedule {
	return intervalSchedule{interval: interval}
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}
