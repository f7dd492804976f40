package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Day-granularity dates (bank statements carry dates, not times)
// =============================================================================

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func Today() TimePoint {
	now := time.Now()
	return NewTimePoint(now.Year(), now.Month(), now.Day())
}

// ParseDay parses a "2006-01-02" or "02/01/2006" date cell.
// A date that parses as neither is a hard error: dates are mandatory
// accounting fields and must never be silently defaulted.
func ParseDay(s string) (TimePoint, error) {
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimePoint(t.Year(), t.Month(), t.Day()), nil
		}
	}
	return TimePoint{}, fmt.Errorf("%w: %q", ErrUnparsableDate, s)
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string { return tp.Time.Format("2006-01-02") }

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween is signed: positive when to is after from.
func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// DayDistance is the absolute day count between two dates.
func DayDistance(a, b TimePoint) int {
	d := DaysBetween(a, b)
	if d < 0 {
		return -d
	}
	return d
}
