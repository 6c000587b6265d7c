/*
Package attendance enriches attendance records with shift-derived durations
and defines the auto-attendance producer the batch triggers.

BREAKDOWN:
  Given an attendance day and the shift the employee worked on that day:

    EntryGap             = in  - shift start     (only when LateEntry)
    ExitGap              = shift end - out       (only when EarlyExit)
    PlannedWorkingHours  = end - start, or (24h - start) + end overnight
    WorkingHours         = out - in              (next-day checkout wraps)

  Gaps are measured against the shift's start and end on the attendance
  date. For overnight shifts the end falls on the next day and gaps are
  wrapped into (-12h, 12h], so a 22:00 shift with a 00:30 check-in yields a
  2h30m entry gap whichever day the check-in was stamped on. A negative gap
  contradicts the late/early flag; it is clamped to zero and reported.

SEE ALSO:
  - shift.go: Shift validation and the Producer interface
  - penalty/resolver.go: Consumes the gaps
*/
package attendance

import (
	"fmt"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

const day = 24 * time.Hour

// PlannedHours returns the scheduled length of a shift.
func PlannedHours(shift payroll.ShiftType) time.Duration {
	if shift.Overnight() {
		return (day - shift.Start) + shift.End
	}
	return shift.End - shift.Start
}

// Breakdown returns the attendance with its durations filled in. Negative
// gaps come back as warnings wrapping payroll.ErrNegativeGap.
func Breakdown(a payroll.Attendance, shift payroll.ShiftType) (payroll.Attendance, []error) {
	var warnings []error

	a.PlannedWorkingHours = PlannedHours(shift)

	if a.LateEntry && !a.InTime.IsZero() {
		gap := a.InTime.Sub(a.Date.At(shift.Start))
		if shift.Overnight() {
			gap = wrap(gap)
		}
		a.EntryGap, warnings = clamp(gap, "entry", a, warnings)
	}
	if a.EarlyExit && !a.OutTime.IsZero() {
		end := a.Date.At(shift.End)
		if shift.Overnight() {
			end = a.Date.At(day + shift.End)
		}
		gap := end.Sub(a.OutTime)
		if shift.Overnight() {
			gap = wrap(gap)
		}
		a.ExitGap, warnings = clamp(gap, "exit", a, warnings)
	}

	if !a.InTime.IsZero() && !a.OutTime.IsZero() {
		worked := a.OutTime.Sub(a.InTime)
		if worked < 0 {
			worked += day
		}
		a.WorkingHours = worked
	}
	return a, warnings
}

// wrap maps a clock difference into (-12h, 12h].
func wrap(d time.Duration) time.Duration {
	for d <= -day/2 {
		d += day
	}
	for d > day/2 {
		d -= day
	}
	return d
}

func clamp(gap time.Duration, kind string, a payroll.Attendance, warnings []error) (time.Duration, []error) {
	if gap >= 0 {
		return gap, warnings
	}
	warnings = append(warnings, fmt.Errorf("%s gap of %s on %s is %s: %w",
		kind, a.Employee, a.Date, gap, payroll.ErrNegativeGap))
	return 0, warnings
}
