package scheduler

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day, hour, min int) time.Time {
	return time.Date(2024, time.March, day, hour, min, 0, 0, time.UTC)
}

func TestParseRecurrence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Recurrence
	}{
		{"0 */6 * * *", Recurrence{Kind: RecurrenceEveryNHours, Every: 6}},
		{"0 */4 * * *", Recurrence{Kind: RecurrenceEveryNHours, Every: 4}},
		{"0 0,12 * * *", Recurrence{Kind: RecurrenceEveryNHours, Every: 12}},
		{"0 * * * *", Recurrence{Kind: RecurrenceEveryNHours, Every: 1}},
		{"@hourly", Recurrence{Kind: RecurrenceEveryNHours, Every: 1}},
		{"0 2 * * *", Recurrence{Kind: RecurrenceDailyAt, Hour: 2}},
		{" 0 23 * * * ", Recurrence{Kind: RecurrenceDailyAt, Hour: 23}},
		{"@daily", Recurrence{Kind: RecurrenceDailyAt, Hour: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRecurrence(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRecurrenceUnsupported(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"garbage",
		"*/15 * * * *",
		"30 2 * * *",
		"0 9 * * 1",
		"0 9 1 * *",
		"0 0,6,12 * * *",
		"0 3-23/6 * * *",
		"@every 1h",
		"@weekly",
	} {
		_, err := ParseRecurrence(in)
		assert.Truef(t, errors.Is(err, ErrUnsupportedSchedule), "%q: %v", in, err)
	}
}

func TestNextRun(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		schedule string
		now      time.Time
		want     time.Time
		ok       bool
	}{
		{"every 6h mid afternoon", "0 */6 * * *", at(10, 13, 5), at(10, 18, 0), true},
		{"every 6h on boundary", "0 */6 * * *", at(10, 12, 0), at(10, 18, 0), true},
		{"every 6h just after midnight", "0 */6 * * *", at(10, 0, 1), at(10, 6, 0), true},
		{"every 6h rolls to next day", "0 */6 * * *", at(10, 23, 30), at(11, 0, 0), true},
		{"every 5h last slot", "0 */5 * * *", at(10, 21, 0), at(11, 0, 0), true},
		{"hourly", "0 * * * *", at(10, 7, 59), at(10, 8, 0), true},
		{"daily before hour", "0 2 * * *", at(10, 1, 0), at(10, 2, 0), true},
		{"daily after hour", "0 2 * * *", at(10, 3, 0), at(11, 2, 0), true},
		{"daily exactly at hour", "0 2 * * *", at(10, 2, 0), at(11, 2, 0), true},
		{"daily end of month", "0 2 * * *", at(31, 5, 0), time.Date(2024, time.April, 1, 2, 0, 0, 0, time.UTC), true},
		{"fallback", "*/15 * * * *", at(10, 13, 5), at(10, 14, 5), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextRun(tc.schedule, tc.now)
			assert.Equal(t, tc.ok, ok)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
			assert.True(t, got.After(tc.now))
		})
	}
}

func TestNextRunKeepsLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+7", 7*3600)
	now := time.Date(2024, time.March, 10, 1, 0, 0, 0, loc)
	got, ok := NextRun("0 2 * * *", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.March, 10, 2, 0, 0, 0, loc), got)
}

func TestRecurrenceString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "every 6 hours", Recurrence{Kind: RecurrenceEveryNHours, Every: 6}.String())
	assert.Equal(t, "every hour", Recurrence{Kind: RecurrenceEveryNHours, Every: 1}.String())
	assert.Equal(t, "daily at 02:00", Recurrence{Kind: RecurrenceDailyAt, Hour: 2}.String())
}
