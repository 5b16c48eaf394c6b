package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/sits-bridge/pkg/config"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := NewConfig(config.ScheduleConfig{
		Timezone:                 "Europe/London",
		SubmissionHour:           16,
		CutoffWeeks:              2,
		CutoffWeeksReattempt:     1,
		GradingDueWeeks:          3,
		GradingDueWeeksReattempt: 2,
	})
	require.NoError(t, err)
	return cfg
}

func localDate(t *testing.T, cfg Config, year int, month time.Month, day, hour int) int64 {
	t.Helper()
	return time.Date(year, month, day, hour, 0, 0, 0, cfg.Location).Unix()
}

func TestNewConfigRejectsBadTimezone(t *testing.T) {
	_, err := NewConfig(config.ScheduleConfig{Timezone: "No/Such_Zone"})
	assert.Error(t, err)
}

func TestNormalizePinsSubmissionHour(t *testing.T) {
	cfg := testConfig(t)

	// Midday input ends up at 16:00 the same local day.
	in := localDate(t, cfg, 2026, time.February, 10, 12)
	assert.Equal(t, localDate(t, cfg, 2026, time.February, 10, 16), Normalize(in, cfg))

	// Early-morning input is pinned forward, never to the previous day.
	in = localDate(t, cfg, 2026, time.February, 10, 1)
	assert.Equal(t, localDate(t, cfg, 2026, time.February, 10, 16), Normalize(in, cfg))
}

func TestDeriveStandardAttempt(t *testing.T) {
	cfg := testConfig(t)
	due := localDate(t, cfg, 2026, time.February, 10, 9)

	d := Derive(due, 0, false, false, cfg)

	assert.Equal(t, localDate(t, cfg, 2026, time.February, 10, 16), d.DueDate)
	assert.Equal(t, localDate(t, cfg, 2026, time.February, 24, 16), d.CutoffDate)
	assert.Equal(t, localDate(t, cfg, 2026, time.March, 3, 16), d.GradingDueDate)
	assert.Zero(t, d.AllowFrom)
}

func TestDeriveReattemptUsesShorterIntervals(t *testing.T) {
	cfg := testConfig(t)
	due := localDate(t, cfg, 2026, time.February, 10, 9)

	d := Derive(due, 0, true, false, cfg)

	assert.Equal(t, localDate(t, cfg, 2026, time.February, 17, 16), d.CutoffDate)
	assert.Equal(t, localDate(t, cfg, 2026, time.February, 24, 16), d.GradingDueDate)
}

func TestDeriveExamCutsOffAtDueDate(t *testing.T) {
	cfg := testConfig(t)
	due := localDate(t, cfg, 2026, time.May, 20, 9)

	d := Derive(due, 0, false, true, cfg)

	assert.Equal(t, d.DueDate, d.CutoffDate)
	assert.Greater(t, d.GradingDueDate, d.DueDate)
}

func TestDeriveZeroDueDateYieldsNothing(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, Derivation{}, Derive(0, localDate(t, cfg, 2026, time.January, 5, 9), false, false, cfg))
}

func TestDeriveNormalizesAvailableFrom(t *testing.T) {
	cfg := testConfig(t)
	due := localDate(t, cfg, 2026, time.March, 2, 9)
	from := localDate(t, cfg, 2026, time.January, 5, 8)

	d := Derive(due, from, false, false, cfg)
	assert.Equal(t, localDate(t, cfg, 2026, time.January, 5, 16), d.AllowFrom)
}

func TestDeriveKeepsWallClockAcrossDSTStart(t *testing.T) {
	cfg := testConfig(t)

	// UK clocks go forward on 29 March 2026. A due date shortly before the
	// switch must produce derived dates still at 16:00 local, not 17:00.
	due := localDate(t, cfg, 2026, time.March, 25, 10)
	d := Derive(due, 0, false, false, cfg)

	cutoff := time.Unix(d.CutoffDate, 0).In(cfg.Location)
	assert.Equal(t, 16, cutoff.Hour())
	assert.Equal(t, time.April, cutoff.Month())
	assert.Equal(t, 8, cutoff.Day())

	grading := time.Unix(d.GradingDueDate, 0).In(cfg.Location)
	assert.Equal(t, 16, grading.Hour())
	assert.Equal(t, 15, grading.Day())
}

func TestDeriveKeepsWallClockAcrossDSTEnd(t *testing.T) {
	cfg := testConfig(t)

	// Clocks go back on 25 October 2026.
	due := localDate(t, cfg, 2026, time.October, 20, 10)
	d := Derive(due, 0, false, false, cfg)

	cutoff := time.Unix(d.CutoffDate, 0).In(cfg.Location)
	assert.Equal(t, 16, cutoff.Hour())
	assert.Equal(t, time.November, cutoff.Month())
	assert.Equal(t, 3, cutoff.Day())
}
