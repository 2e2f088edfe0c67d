package scheduler

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// ErrUnsupportedSchedule is returned by ParseRecurrence for cron strings outside
// the supported subset. Such jobs still run, once an hour.
var ErrUnsupportedSchedule = errors.New("unsupported schedule")

// FallbackInterval is used for schedules outside the supported subset.
const FallbackInterval = time.Hour

// cron sets this bit on fields written as "*" (or "?").
const starBit = 1 << 63

type RecurrenceKind int

const (
	RecurrenceFallback RecurrenceKind = iota
	RecurrenceEveryNHours
	RecurrenceDailyAt
)

// Recurrence is the classified form of a cron string.
//
// Supported subset (minute must be 0, day-of-month, month and day-of-week must be "*"):
//
//	| cron          | meaning           | next run                                              |
//	|---------------|-------------------|-------------------------------------------------------|
//	| 0 */N * * *   | every N hours     | next hour h > now with h%N == 0, else tomorrow 00:00  |
//	| 0 * * * *     | every hour        | same with N=1                                         |
//	| 0 H * * *     | daily at H:00     | today H:00 if still ahead, else tomorrow H:00         |
//	| anything else | fallback          | now + 1h (logged)                                     |
type Recurrence struct {
	Kind  RecurrenceKind
	Every int // hours, RecurrenceEveryNHours
	Hour  int // RecurrenceDailyAt
}

// ParseRecurrence classifies schedule. It uses the standard 5-field cron parser
// and inspects the resulting bit sets; it never evaluates general cron.
func ParseRecurrence(schedule string) (Recurrence, error) {
	s := strings.TrimSpace(schedule)
	if s == "" {
		return Recurrence{}, errors.Wrap(ErrUnsupportedSchedule, "empty schedule")
	}
	parsed, err := cron.ParseStandard(s)
	if err != nil {
		return Recurrence{}, errors.Wrapf(ErrUnsupportedSchedule, "%q: %v", s, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return Recurrence{}, errors.Wrapf(ErrUnsupportedSchedule, "%q: not a field schedule", s)
	}
	if spec.Minute != 1 || spec.Dom&starBit == 0 || spec.Month&starBit == 0 || spec.Dow&starBit == 0 {
		return Recurrence{}, errors.Wrapf(ErrUnsupportedSchedule, "%q", s)
	}

	hours := spec.Hour &^ starBit
	if bits.OnesCount64(hours) == 1 {
		return Recurrence{Kind: RecurrenceDailyAt, Hour: bits.TrailingZeros64(hours)}, nil
	}
	if hours&1 == 0 {
		return Recurrence{}, errors.Wrapf(ErrUnsupportedSchedule, "%q: hour steps must start at 0", s)
	}
	step := bits.TrailingZeros64(hours &^ 1)
	var want uint64
	for h := 0; h < 24; h += step {
		want |= 1 << uint(h)
	}
	if hours != want {
		return Recurrence{}, errors.Wrapf(ErrUnsupportedSchedule, "%q: irregular hour list", s)
	}
	return Recurrence{Kind: RecurrenceEveryNHours, Every: step}, nil
}

// Next returns the first run time strictly after now, in now's location.
func (r Recurrence) Next(now time.Time) time.Time {
	y, m, d := now.Date()
	loc := now.Location()
	switch r.Kind {
	case RecurrenceEveryNHours:
		n := r.Every
		if n <= 0 {
			n = 1
		}
		for h := (now.Hour() / n) * n; h < 24; h += n {
			if t := time.Date(y, m, d, h, 0, 0, 0, loc); t.After(now) {
				return t
			}
		}
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	case RecurrenceDailyAt:
		if t := time.Date(y, m, d, r.Hour, 0, 0, 0, loc); t.After(now) {
			return t
		}
		return time.Date(y, m, d+1, r.Hour, 0, 0, 0, loc)
	default:
		return now.Add(FallbackInterval)
	}
}

func (r Recurrence) String() string {
	switch r.Kind {
	case RecurrenceEveryNHours:
		if r.Every == 1 {
			return "every hour"
		}
		return fmt.Sprintf("every %d hours", r.Every)
	case RecurrenceDailyAt:
		return fmt.Sprintf("daily at %02d:00", r.Hour)
	default:
		return "every hour (fallback)"
	}
}

// NextRun computes the next run of schedule after now. ok is false when the
// fallback was used.
func NextRun(schedule string, now time.Time) (next time.Time, ok bool) {
	r, err := ParseRecurrence(schedule)
	if err != nil {
		return now.Add(FallbackInterval), false
	}
	return r.Next(now), true
}
