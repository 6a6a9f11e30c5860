package entitlements

import (
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
)

// WindowFor returns the [start, end) quota window containing now. All
// alignment happens in UTC; weeks start on Monday.
func WindowFor(period string, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	y, m, d := now.Date()

	switch period {
	case models.PeriodMinute:
		start := now.Truncate(time.Minute)
		return start, start.Add(time.Minute), nil
	case models.PeriodHour:
		start := time.Date(y, m, d, now.Hour(), 0, 0, 0, time.UTC)
		return start, start.Add(time.Hour), nil
	case models.PeriodDay:
		start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1), nil
	case models.PeriodWeek:
		sinceMonday := (int(now.Weekday()) + 6) % 7
		start := time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 7), nil
	case models.PeriodMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		ny, nm := y, m+1
		if m == time.December {
			ny, nm = y+1, time.January
		}
		return start, time.Date(ny, nm, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, time.Time{}, apperrors.Validation("period", "unknown period %q", period)
	}
}
