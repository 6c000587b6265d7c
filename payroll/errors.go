/*
errors.go - Centralized error types for the batch engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Components wrap these errors with additional context.

ERROR CATEGORIES:
  1. Admission errors - The batch cannot start or resume (fatal)
  2. Data errors - Configuration or payroll data is incomplete (fatal)
  3. Local errors - One anomaly or record is skipped, the run continues
  4. Store errors - Lookup misses and boundary validation failures

USAGE:
    if errors.Is(err, payroll.ErrBatchRangeMismatch) {
        var mismatch *payroll.BatchRangeMismatchError
        errors.As(err, &mismatch)
        ...
    }

SEE ALSO:
  - batch/orchestrator.go: Raises the admission and data errors
  - penalty/deduction.go: Raises ErrUnknownDeductionRule as a warning
*/
package payroll

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMultipleBatchesInProgress means the company has more than one batch
	// in progress. An operator must reconcile before any run can proceed.
	ErrMultipleBatchesInProgress = errors.New("company has more than one batch in progress")

	// ErrBatchRangeMismatch means the in-progress batch covers a different
	// date range than the one requested.
	ErrBatchRangeMismatch = errors.New("batch in progress has a different date range")

	// ErrBatchLocked is returned when another run holds the company lock.
	ErrBatchLocked = errors.New("another batch run holds the company lock")

	// ErrLockLost is the cause a run stops with when its company lock expired
	// or could not be refreshed.
	ErrLockLost = errors.New("company lock lost during batch run")

	// ErrBatchCompleted is returned when a completed batch would be modified.
	ErrBatchCompleted = errors.New("batch already completed")

	// ErrInvalidShiftConfig is returned when shift types lack the settings
	// auto-attendance needs, or an employee references an unknown shift.
	ErrInvalidShiftConfig = errors.New("invalid shift type configuration")

	// ErrMissingPayrollAttributes is returned when an employee has no
	// designation or salary structure assignment.
	ErrMissingPayrollAttributes = errors.New("employee is missing payroll attributes")

	// ErrChangelogNotFound means no changelog entry is effective at the date.
	ErrChangelogNotFound = errors.New("no changelog entry effective at date")

	// ErrPolicyGroupNotFound means a policy references a group that does not exist.
	ErrPolicyGroupNotFound = errors.New("penalty policy group not found")

	// ErrUnknownDeductionRule is reported as a warning; the deduction is zero.
	ErrUnknownDeductionRule = errors.New("unknown deduction rule")

	// ErrNegativeGap is reported as a warning; the gap is clamped to zero.
	ErrNegativeGap = errors.New("negative attendance gap")

	// ErrNotFound is returned by stores when a keyed lookup misses.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord is returned by stores when a record fails validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidPeriod is returned when a date range is malformed.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BatchRangeMismatchError describes the in-progress batch that blocked a run.
type BatchRangeMismatchError struct {
	Company   CompanyID
	BatchID   BatchID
	Existing  Period
	Requested Period
}

func (e *BatchRangeMismatchError) Error() string {
	return fmt.Sprintf("company %s has batch %s in progress for %s, requested %s",
		e.Company, e.BatchID, e.Existing, e.Requested)
}

func (e *BatchRangeMismatchError) Unwrap() error { return ErrBatchRangeMismatch }

// InvalidShiftTypesError lists the shift types that failed validation.
type InvalidShiftTypesError struct {
	ShiftTypes []string
}

func (e *InvalidShiftTypesError) Error() string {
	return fmt.Sprintf("shift types %s are missing data", strings.Join(e.ShiftTypes, ", "))
}

func (e *InvalidShiftTypesError) Unwrap() error { return ErrInvalidShiftConfig }

// MissingAttributesError names the employee and the attributes it lacks.
type MissingAttributesError struct {
	Employee EmployeeID
	Missing  []string
}

func (e *MissingAttributesError) Error() string {
	return fmt.Sprintf("employee %s doesn't have %s", e.Employee, strings.Join(e.Missing, " and "))
}

func (e *MissingAttributesError) Unwrap() error { return ErrMissingPayrollAttributes }

// ValidationError wraps boundary validation failures of a record.
type ValidationError struct {
	Record string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Record, e.Err)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrInvalidRecord, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the run was refused because of batch state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrMultipleBatchesInProgress) ||
		errors.Is(err, ErrBatchRangeMismatch) ||
		errors.Is(err, ErrBatchLocked) ||
		errors.Is(err, ErrLockLost) ||
		errors.Is(err, ErrBatchCompleted)
}

// IsDataError returns true if the run was refused because of configuration
// or payroll data that an operator has to fix.
func IsDataError(err error) bool {
	return errors.Is(err, ErrInvalidShiftConfig) ||
		errors.Is(err, ErrMissingPayrollAttributes) ||
		errors.Is(err, ErrPolicyGroupNotFound) ||
		errors.Is(err, ErrInvalidRecord)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrChangelogNotFound)
}
