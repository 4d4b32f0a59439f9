package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run time after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

type every struct {
	interval time.Duration
}

// Every runs at a fixed interval. Non-positive intervals are raised to one
// second so a misconfigured schedule cannot spin.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Second
	}
	return every{interval: d}
}

func (s every) Next(from time.Time) time.Time { return from.Add(s.interval) }

func (s every) String() string { return "every " + s.interval.String() }

type daily struct {
	hour, minute int
	loc          *time.Location
}

// Daily runs once a day at hour:minute UTC.
func Daily(hour, minute int) Schedule {
	return DailyIn(hour, minute, time.UTC)
}

// DailyIn runs once a day at hour:minute in loc.
func DailyIn(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return daily{hour: hour, minute: minute, loc: loc}
}

func (s daily) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", s.hour, s.minute, s.loc)
}

type weekly struct {
	day          time.Weekday
	hour, minute int
	loc          *time.Location
}

// Weekly runs once a week on day at hour:minute UTC.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return weekly{day: day, hour: hour, minute: minute, loc: time.UTC}
}

func (s weekly) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	days := int(s.day - from.Weekday())
	if days < 0 {
		days += 7
	}
	next := time.Date(from.Year(), from.Month(), from.Day()+days, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (s weekly) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d %s", s.day, s.hour, s.minute, s.loc)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type cronExpr struct {
	expr  string
	sched cron.Schedule
}

// ParseCron parses a five-field cron expression or a descriptor such as
// "@hourly".
func ParseCron(expr string) (Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return cronExpr{expr: expr, sched: sched}, nil
}

// Cron is ParseCron for expressions known to be valid. It panics otherwise.
func Cron(expr string) Schedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s cronExpr) Next(from time.Time) time.Time { return s.sched.Next(from) }

func (s cronExpr) String() string { return "cron " + s.expr }
