package schedule

import (
	"fmt"
	"time"

	"github.com/campusops/sits-bridge/pkg/config"
)

// Config carries the resolved institutional date settings. Interval values
// are calendar weeks so derived dates keep the same wall-clock time across
// DST transitions.
type Config struct {
	Location                 *time.Location
	SubmissionHour           int
	CutoffWeeks              int
	CutoffWeeksReattempt     int
	GradingDueWeeks          int
	GradingDueWeeksReattempt int
}

// NewConfig resolves the configured timezone into a usable Config.
func NewConfig(cfg config.ScheduleConfig) (Config, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("load schedule timezone %q: %w", cfg.Timezone, err)
	}
	return Config{
		Location:                 loc,
		SubmissionHour:           cfg.SubmissionHour,
		CutoffWeeks:              cfg.CutoffWeeks,
		CutoffWeeksReattempt:     cfg.CutoffWeeksReattempt,
		GradingDueWeeks:          cfg.GradingDueWeeks,
		GradingDueWeeksReattempt: cfg.GradingDueWeeksReattempt,
	}, nil
}

// Derivation holds the scheduling timestamps computed from one due date.
// All fields are epoch seconds; a zero Derivation means "do not schedule".
type Derivation struct {
	DueDate        int64
	CutoffDate     int64
	GradingDueDate int64
	AllowFrom      int64
}

// Derive computes the schedule for a due date. SITS due dates carry only a
// calendar date, so the due date and a non-zero available-from date are both
// pinned to the institutional submission hour in the configured timezone.
// Exams cut off at the due date exactly; everything else gets the configured
// grace interval. A zero due date yields a zero Derivation; callers must not
// materialize in that case.
func Derive(dueDate, availableFrom int64, reattempt, exam bool, cfg Config) Derivation {
	if dueDate == 0 {
		return Derivation{}
	}

	due := Normalize(dueDate, cfg)

	cutoffWeeks := cfg.CutoffWeeks
	gradingWeeks := cfg.GradingDueWeeks
	if reattempt {
		cutoffWeeks = cfg.CutoffWeeksReattempt
		gradingWeeks = cfg.GradingDueWeeksReattempt
	}

	cutoff := addWeeks(due, cutoffWeeks, cfg)
	if exam {
		cutoff = due
	}

	d := Derivation{
		DueDate:        due,
		CutoffDate:     cutoff,
		GradingDueDate: addWeeks(due, gradingWeeks, cfg),
	}
	if availableFrom != 0 {
		d.AllowFrom = Normalize(availableFrom, cfg)
	}
	return d
}

// Normalize pins a timestamp to the submission hour of its local calendar
// day. Building the result with time.Date keeps the wall-clock hour correct
// on either side of a DST switch.
func Normalize(ts int64, cfg Config) int64 {
	t := time.Unix(ts, 0).In(cfg.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), cfg.SubmissionHour, 0, 0, 0, cfg.Location).Unix()
}

func addWeeks(ts int64, weeks int, cfg Config) int64 {
	t := time.Unix(ts, 0).In(cfg.Location)
	shifted := t.AddDate(0, 0, 7*weeks)
	return time.Date(shifted.Year(), shifted.Month(), shifted.Day(), cfg.SubmissionHour, 0, 0, 0, cfg.Location).Unix()
}
