package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/opsdeck/errors"
)

// minLeadTime keeps a restarted interval schedule from firing immediately
const minLeadTime = 10 * time.Second

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DailySpec parses "HH:MM" into a cron schedule firing once a day.
func DailySpec(value string) (cron.Schedule, error) {
	hh, mm, ok := strings.Cut(value, ":")
	if !ok {
		return nil, errors.NewInvalidRequestError(msgInvalidTime)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return nil, errors.NewInvalidRequestError(msgInvalidTime)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return nil, errors.NewInvalidRequestError(msgInvalidTime)
	}
	spec, err := dailyParser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid daily time %q", value)
	}
	return spec, nil
}

// NextDaily returns the next occurrence of value in loc strictly after now.
func NextDaily(value string, now time.Time, loc *time.Location) (time.Time, error) {
	spec, err := DailySpec(value)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(now.In(loc)), nil
}

// IntervalPlan is the outcome of placing an interval schedule on the clock
type IntervalPlan struct {
	Next          time.Time
	Anchor        time.Time
	AnchorDerived bool // Anchor was not stored and must be persisted
}

// NextInterval places an interval schedule relative to now.
//
// With an anchor the schedule keeps its phase: the next fire is the next
// anchor + k*interval, pushed one more period out when it is less than ten
// seconds away. Without an anchor a stored next run in the future is kept
// and the anchor is placed one period before it; otherwise the schedule starts now.
func NextInterval(now time.Time, interval time.Duration, anchor, storedNext *time.Time) IntervalPlan {
	if anchor != nil {
		elapsed := now.Sub(*anchor) % interval
		if elapsed < 0 {
			elapsed += interval
		}
		remaining := interval - elapsed
		if remaining < minLeadTime {
			remaining += interval
		}
		return IntervalPlan{Next: now.Add(remaining), Anchor: *anchor}
	}

	if storedNext != nil && storedNext.After(now) {
		return IntervalPlan{Next: *storedNext, Anchor: storedNext.Add(-interval), AnchorDerived: true}
	}

	return IntervalPlan{Next: now.Add(interval), Anchor: now, AnchorDerived: true}
}

// InitialNextRun is the next_run recorded when a schedule is created or its
// recurrence changes, before the trigger is placed on the clock.
func InitialNextRun(typ Type, value string, now time.Time, loc *time.Location) (time.Time, error) {
	switch typ {
	case TypeDaily:
		return NextDaily(value, now, loc)
	case TypeInterval:
		hours, err := strconv.Atoi(value)
		if err != nil || hours <= 0 {
			return time.Time{}, errors.NewInvalidRequestError(msgInvalidInterval)
		}
		return now.Add(time.Duration(hours) * time.Hour), nil
	}
	return time.Time{}, errors.NewInvalidRequestError(msgInvalidType)
}
