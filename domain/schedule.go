package domain

import (
	"errors"
	"fmt"
	"time"
)

const dayKeyLayout = "2006-01-02"

var (
	ErrInvalidDayKey    = errors.New("invalid calendar day, expected YYYY-MM-DD")
	ErrInvalidTimeOfDay = errors.New("invalid time of day, expected HH:mm")
)

// DayKey identifies one local calendar day, formatted 2006-01-02. Zero-padded
// keys compare lexically in chronological order.
type DayKey string

// ParseDayKey validates raw text as a calendar day.
func ParseDayKey(raw string) (DayKey, error) {
	t, err := time.Parse(dayKeyLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDayKey, raw)
	}
	return DayKey(t.Format(dayKeyLayout)), nil
}

// DayOf returns the calendar day the instant falls on in loc.
func DayOf(at time.Time, loc *time.Location) DayKey {
	return DayKey(at.In(loc).Format(dayKeyLayout))
}

// Time returns midnight of the day in loc.
func (d DayKey) Time(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(dayKeyLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays shifts the day by n calendar days.
func (d DayKey) AddDays(n int) DayKey {
	return DayKey(d.Time(time.UTC).AddDate(0, 0, n).Format(dayKeyLayout))
}

func (d DayKey) String() string { return string(d) }

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay validates raw text in HH:mm form, 00:00 through 23:59.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(raw, "%2d:%2d", &h, &m); err != nil || len(raw) != 5 || raw[2] != ':' {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// TimeOfDayOf extracts the wall-clock component of the instant in loc.
func TimeOfDayOf(at time.Time, loc *time.Location) TimeOfDay {
	local := at.In(loc)
	return TimeOfDay{Hour: local.Hour(), Minute: local.Minute()}
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Combine anchors a wall-clock time onto a calendar day in loc. A task's
// scheduled instant is always produced through Combine so its day and
// time-of-day decompose back without loss.
func Combine(day DayKey, tod TimeOfDay, loc *time.Location) time.Time {
	midnight := day.Time(loc)
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), tod.Hour, tod.Minute, 0, 0, loc)
}

// DayRange is an inclusive span of calendar days.
type DayRange struct {
	From DayKey `json:"from"`
	To   DayKey `json:"to"`
}

// NewDayRange builds a range from two bounds in either order. Inverted bounds
// are swapped, never treated as a caller error.
func NewDayRange(a, b DayKey) DayRange {
	if b < a {
		a, b = b, a
	}
	return DayRange{From: a, To: b}
}

// Contains reports whether the day falls inside the range.
func (r DayRange) Contains(d DayKey) bool {
	return r.From <= d && d <= r.To
}

// Len is the number of days in the range, inclusive of both ends.
func (r DayRange) Len() int {
	from := r.From.Time(time.UTC)
	to := r.To.Time(time.UTC)
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return int(to.Sub(from)/(24*time.Hour)) + 1
}

// Days lists every day of the range in ascending order.
func (r DayRange) Days() []DayKey {
	n := r.Len()
	if n <= 0 {
		return nil
	}
	days := make([]DayKey, 0, n)
	day := r.From
	for i := 0; i < n; i++ {
		days = append(days, day)
		day = day.AddDays(1)
	}
	return days
}
