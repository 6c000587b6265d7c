package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/payroll"
)

func dayShift() payroll.ShiftType {
	return payroll.ShiftType{Name: "Day", Start: 9 * time.Hour, End: 17 * time.Hour}
}

func nightShift() payroll.ShiftType {
	return payroll.ShiftType{Name: "Night", Start: 22 * time.Hour, End: 6 * time.Hour}
}

func at(date string, offset time.Duration) time.Time {
	return payroll.MustParseDate(date).At(offset)
}

func TestPlannedHours(t *testing.T) {
	assert.Equal(t, 8*time.Hour, attendance.PlannedHours(dayShift()))
	assert.Equal(t, 8*time.Hour, attendance.PlannedHours(nightShift()))

	// Start == End is a full-day overnight shift
	assert.Equal(t, 24*time.Hour, attendance.PlannedHours(payroll.ShiftType{Start: 8 * time.Hour, End: 8 * time.Hour}))
}

func TestBreakdown_DayShiftLateAndEarly(t *testing.T) {
	a := payroll.Attendance{
		Employee: "E-1", Date: payroll.MustParseDate("2022-10-03"), Status: payroll.AttendancePresent,
		InTime: at("2022-10-03", 9*time.Hour+25*time.Minute), OutTime: at("2022-10-03", 16*time.Hour+30*time.Minute),
		LateEntry: true, EarlyExit: true,
	}

	got, warnings := attendance.Breakdown(a, dayShift())
	assert.Empty(t, warnings)
	assert.Equal(t, 25*time.Minute, got.EntryGap)
	assert.Equal(t, 30*time.Minute, got.ExitGap)
	assert.Equal(t, 8*time.Hour, got.PlannedWorkingHours)
	assert.Equal(t, 7*time.Hour+5*time.Minute, got.WorkingHours)
}

func TestBreakdown_OvernightShift(t *testing.T) {
	// GIVEN: A 22:00-06:00 shift, check-in at 00:30 and check-out at 05:00 next day
	// THEN: Gaps wrap across midnight
	a := payroll.Attendance{
		Employee: "E-1", Date: payroll.MustParseDate("2022-10-03"), Status: payroll.AttendancePresent,
		InTime: at("2022-10-04", 30*time.Minute), OutTime: at("2022-10-04", 5*time.Hour),
		LateEntry: true, EarlyExit: true,
	}

	got, warnings := attendance.Breakdown(a, nightShift())
	assert.Empty(t, warnings)
	assert.Equal(t, 2*time.Hour+30*time.Minute, got.EntryGap)
	assert.Equal(t, time.Hour, got.ExitGap)
	assert.Equal(t, 4*time.Hour+30*time.Minute, got.WorkingHours)
}

func TestBreakdown_DayShiftGapsBeyondHalfADay(t *testing.T) {
	// GIVEN: A 09:00-17:00 shift, check-in at 21:30 and check-out at 03:00
	// THEN: The gaps are the full distance from the shift bounds
	tests := []struct {
		name      string
		a         payroll.Attendance
		wantEntry time.Duration
		wantExit  time.Duration
	}{
		{
			name: "late check-in",
			a: payroll.Attendance{
				Employee: "E-1", Date: payroll.MustParseDate("2022-10-03"), Status: payroll.AttendancePresent,
				InTime: at("2022-10-03", 21*time.Hour+30*time.Minute), LateEntry: true,
			},
			wantEntry: 12*time.Hour + 30*time.Minute,
		},
		{
			name: "early check-out",
			a: payroll.Attendance{
				Employee: "E-1", Date: payroll.MustParseDate("2022-10-03"), Status: payroll.AttendancePresent,
				OutTime: at("2022-10-03", 3*time.Hour), EarlyExit: true,
			},
			wantExit: 14 * time.Hour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings := attendance.Breakdown(tt.a, dayShift())
			assert.Empty(t, warnings)
			assert.Equal(t, tt.wantEntry, got.EntryGap)
			assert.Equal(t, tt.wantExit, got.ExitGap)
		})
	}
}

func TestBreakdown_OvernightCheckInStampedOnShiftDate(t *testing.T) {
	a := payroll.Attendance{
		Employee: "E-1", Date: payroll.MustParseDate("2022-10-03"), Status: payroll.AttendancePresent,
		InTime: at("2022-10-03", 30*time.Minute), LateEntry: true,
	}

	got, warnings := attendance.Breakdown(a, nightShift())
	assert.Empty(t, warnings)
	assert.Equal(t, 2*time.Hour+30*time.Minute, got.EntryGap)
}

func TestBreakdown_NegativeGapClampedWithWarning(t *testing.T) {
	// Flagged late but checked in before the shift start
	a := payroll.Attendance{
		Employee: "E-1", Date: payroll.MustParseDate("2022-10-03"), Status: payroll.AttendancePresent,
		InTime: at("2022-10-03", 8*time.Hour+50*time.Minute), LateEntry: true,
	}

	got, warnings := attendance.Breakdown(a, dayShift())
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], payroll.ErrNegativeGap)
	assert.Zero(t, got.EntryGap)
}

func TestBreakdown_NoFlagsLeavesGapsAlone(t *testing.T) {
	a := payroll.Attendance{Employee: "E-1", Date: payroll.MustParseDate("2022-10-03"), Status: payroll.AttendanceAbsent}

	got, warnings := attendance.Breakdown(a, dayShift())
	assert.Empty(t, warnings)
	assert.Zero(t, got.EntryGap)
	assert.Zero(t, got.ExitGap)
	assert.Zero(t, got.WorkingHours)
	assert.Equal(t, 8*time.Hour, got.PlannedWorkingHours)
}

func TestValidateShiftTypes(t *testing.T) {
	valid := payroll.ShiftType{
		Name: "Day", EnableAutoAttendance: true,
		ProcessAttendanceAfter: payroll.MustParseDate("2022-01-01"),
		LastSyncOfCheckin:      time.Date(2022, 10, 31, 23, 0, 0, 0, time.UTC),
	}
	noSync := valid
	noSync.Name = "Night"
	noSync.LastSyncOfCheckin = time.Time{}
	disabled := valid
	disabled.Name = "Weekend"
	disabled.EnableAutoAttendance = false

	require.NoError(t, attendance.ValidateShiftTypes([]payroll.ShiftType{valid}))

	err := attendance.ValidateShiftTypes([]payroll.ShiftType{valid, noSync, disabled})
	require.ErrorIs(t, err, payroll.ErrInvalidShiftConfig)
	var invalid *payroll.InvalidShiftTypesError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"Night", "Weekend"}, invalid.ShiftTypes)
}

func TestShifts_LookupUnknownIsFatal(t *testing.T) {
	shifts := attendance.IndexShifts([]payroll.ShiftType{dayShift()})

	got, err := shifts.Lookup("Day")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour, got.Start)

	_, err = shifts.Lookup("Graveyard")
	assert.ErrorIs(t, err, payroll.ErrInvalidShiftConfig)
}

func TestProducerFunc(t *testing.T) {
	var seen []string
	producer := attendance.ProducerFunc(func(_ context.Context, shifts []payroll.ShiftType) error {
		for _, s := range shifts {
			seen = append(seen, s.Name)
		}
		return nil
	})

	require.NoError(t, producer.Generate(context.Background(), []payroll.ShiftType{dayShift(), nightShift()}))
	assert.Equal(t, []string{"Day", "Night"}, seen)
	assert.NoError(t, attendance.NoopProducer{}.Generate(context.Background(), nil))
}
