package attendance

import (
	"context"
	"fmt"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SHIFT VALIDATION
// =============================================================================

// ValidateShiftTypes checks that every shift type is ready for auto-attendance.
// All offending shift types are reported together.
func ValidateShiftTypes(shifts []payroll.ShiftType) error {
	var invalid []string
	for _, s := range shifts {
		if !s.EnableAutoAttendance || s.ProcessAttendanceAfter.IsZero() || s.LastSyncOfCheckin.IsZero() {
			invalid = append(invalid, s.Name)
		}
	}
	if len(invalid) > 0 {
		return &payroll.InvalidShiftTypesError{ShiftTypes: invalid}
	}
	return nil
}

// Shifts indexes shift types by name.
type Shifts map[string]payroll.ShiftType

func IndexShifts(shifts []payroll.ShiftType) Shifts {
	index := make(Shifts, len(shifts))
	for _, s := range shifts {
		index[s.Name] = s
	}
	return index
}

// Lookup returns the named shift type. An unknown name is a configuration
// error, fatal for the run.
func (s Shifts) Lookup(name string) (payroll.ShiftType, error) {
	shift, ok := s[name]
	if !ok {
		return payroll.ShiftType{}, fmt.Errorf("shift type %q: %w", name, payroll.ErrInvalidShiftConfig)
	}
	return shift, nil
}

// =============================================================================
// PRODUCER - External auto-attendance
// =============================================================================

// Producer materializes Attendance rows for the given shift types. The batch
// triggers it once before processing employees.
type Producer interface {
	Generate(ctx context.Context, shifts []payroll.ShiftType) error
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, shifts []payroll.ShiftType) error

func (f ProducerFunc) Generate(ctx context.Context, shifts []payroll.ShiftType) error {
	return f(ctx, shifts)
}

// NoopProducer is used when attendance is loaded by other means.
type NoopProducer struct{}

func (NoopProducer) Generate(context.Context, []payroll.ShiftType) error { return nil }
