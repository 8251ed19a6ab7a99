package report

import (
	"errors"
	"time"

	"posledger/internal/domain"
)

var ErrInvalidPeriod = errors.New("invalid period")

// Window is a half-open time range [From, To). A zero bound is unbounded.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

func (w Window) Bounded() bool {
	return !w.From.IsZero() && !w.To.IsZero()
}

func ParsePeriod(raw string) (domain.Period, error) {
	switch p := domain.Period(raw); p {
	case "":
		return domain.PeriodDaily, nil
	case domain.PeriodDaily, domain.PeriodWeekly, domain.PeriodMonthly, domain.PeriodAll:
		return p, nil
	default:
		return "", ErrInvalidPeriod
	}
}

func ParseGranularity(raw string) (domain.Granularity, error) {
	switch g := domain.Granularity(raw); g {
	case "":
		return domain.GranularityDaily, nil
	case domain.GranularityDaily, domain.GranularityWeekly, domain.GranularityMonthly:
		return g, nil
	default:
		return "", ErrInvalidPeriod
	}
}

// CurrentWindow returns the calendar period containing now, and the period
// right before it. PeriodAll has no bounds and no previous period.
func CurrentWindow(period domain.Period, now time.Time, loc *time.Location) (Window, Window, bool) {
	now = now.In(loc)
	switch period {
	case domain.PeriodDaily:
		from := startOfDay(now)
		return Window{From: from, To: from.AddDate(0, 0, 1)}, Window{From: from.AddDate(0, 0, -1), To: from}, true
	case domain.PeriodWeekly:
		from := startOfWeek(now)
		return Window{From: from, To: from.AddDate(0, 0, 7)}, Window{From: from.AddDate(0, 0, -7), To: from}, true
	case domain.PeriodMonthly:
		from := startOfMonth(now)
		return Window{From: from, To: from.AddDate(0, 1, 0)}, Window{From: from.AddDate(0, -1, 0), To: from}, true
	default:
		return Window{}, Window{}, false
	}
}

// PreviousWindow returns the window of equal length ending where w starts.
func PreviousWindow(w Window) Window {
	return Window{From: w.From.Add(-w.To.Sub(w.From)), To: w.From}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfWeek truncates to Monday 00:00.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func bucketStart(t time.Time, granularity domain.Granularity, loc *time.Location) time.Time {
	t = t.In(loc)
	switch granularity {
	case domain.GranularityWeekly:
		return startOfWeek(t)
	case domain.GranularityMonthly:
		return startOfMonth(t)
	default:
		return startOfDay(t)
	}
}

func bucketLabel(start time.Time, granularity domain.Granularity) string {
	switch granularity {
	case domain.GranularityMonthly:
		return start.Format("2006-01")
	case domain.GranularityWeekly:
		return "week of " + start.Format("2006-01-02")
	default:
		return start.Format("2006-01-02")
	}
}
