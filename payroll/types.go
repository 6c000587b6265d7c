/*
Package payroll provides the core records of the penalty batch engine.

PURPOSE:
  This package holds the typed records every other package exchanges:
  batches and their checkpoints, employee payroll changelog entries,
  penalty policies and groups, attendance, timesheets, penalty records and
  the deductions that are driven into payroll. It has no knowledge of how
  policies are matched or how a batch is run.

KEY CONCEPTS IN THIS FILE (types.go):
  - Batch: one run over all employees of a company for a date range
  - Checkpoint: durable marker of one finished unit of work inside a batch
  - ChangelogEntry: snapshot of payroll attributes effective from a day
  - PolicyGroup / PenaltyPolicy: escalation tiers and deduction rules
  - Attendance / Timesheet / PenaltyRecord / Deduction: batch outputs

DESIGN PRINCIPLES:
  1. Explicit records: fixed typed fields, validated at the store boundary
  2. Precision: money uses decimal.Decimal
  3. Type Safety: distinct ID types for companies, employees, batches, policies

SEE ALSO:
  - store.go: Record Store interfaces
  - errors.go: Sentinel and structured errors
  - time.go: TimePoint and Period
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type EmployeeID string
type BatchID string
type PolicyID string
type GroupID string

// =============================================================================
// BATCH - Lifecycle: (absent) -> In Progress -> Completed
// =============================================================================

type BatchStatus string

const (
	BatchInProgress BatchStatus = "In Progress"
	BatchCompleted  BatchStatus = "Completed"
)

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchInProgress, BatchCompleted:
		return true
	}
	return false
}

type Batch struct {
	ID        BatchID
	Company   CompanyID   `validate:"required"`
	StartDate TimePoint   `validate:"required"`
	EndDate   TimePoint   `validate:"required"`
	Status    BatchStatus `validate:"required,oneof='In Progress' Completed"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period returns the batch date range.
func (b Batch) Period() Period { return Period{Start: b.StartDate, End: b.EndDate} }

// =============================================================================
// CHECKPOINT - Batch object; the resume marker
// =============================================================================

type ObjectType string

const (
	ObjectEmployee      ObjectType = "Employee"
	ObjectTimesheet     ObjectType = "Timesheet"
	ObjectPenaltyRecord ObjectType = "Penalty Record"
	ObjectDeduction     ObjectType = "Deduction"
)

const (
	CheckpointInProgress = "In Progress"
	CheckpointCreated    = "Created"
	CheckpointCompleted  = "Completed"
)

// Checkpoint records one unit of work completed inside a batch.
// Seq is assigned by the store and increases with every write; it is the only
// reliable order of checkpoints since CreatedAt may collide.
type Checkpoint struct {
	ID         string
	Seq        int64
	BatchID    BatchID    `validate:"required"`
	ObjectType ObjectType `validate:"required,oneof=Employee Timesheet 'Penalty Record' Deduction"`
	ObjectID   string     `validate:"required"`
	EmployeeID EmployeeID `validate:"required"`
	Status     string
	Notes      string
	CreatedAt  time.Time
}

// =============================================================================
// EMPLOYEE + CHANGELOG - Point-in-time payroll attributes
// =============================================================================

// Employee carries the CURRENT payroll attributes. Historical values live in
// the changelog.
type Employee struct {
	ID                        EmployeeID `validate:"required"`
	Company                   CompanyID  `validate:"required"`
	Name                      string
	Designation               string
	ShiftType                 string
	SalaryStructureAssignment string
	HourlyRate                decimal.Decimal `validate:"gte=0"`
	JoiningDate               TimePoint
	ModifiedAt                time.Time
}

// ChangelogEntry is an immutable snapshot of an employee's payroll attributes
// effective from ChangeDate. Seq orders entries written for the same day.
type ChangelogEntry struct {
	ID                        string
	Seq                       int64
	Employee                  EmployeeID `validate:"required"`
	Company                   CompanyID  `validate:"required"`
	ChangeDate                TimePoint  `validate:"required"`
	Designation               string     `validate:"required"`
	ShiftType                 string
	SalaryStructureAssignment string          `validate:"required"`
	HourlyRate                decimal.Decimal `validate:"gte=0"`
}

// =============================================================================
// PENALTY POLICIES
// =============================================================================

type DeductionRule string

const (
	RuleBiggest         DeductionRule = "Biggest"
	RuleSmallest        DeductionRule = "Smallest"
	RuleAbsoluteAmount  DeductionRule = "Absolute Amount"
	RuleDeductionInDays DeductionRule = "Deduction In Days"
)

// Subgroup is the category of attendance anomaly a policy punishes.
type Subgroup string

const (
	SubgroupAbsence  Subgroup = "attendance absence"
	SubgroupCheckIn  Subgroup = "attendance check-in"
	SubgroupCheckOut Subgroup = "attendance check-out"
)

type PolicyGroup struct {
	ID                GroupID `validate:"required"`
	Title             string
	DeductionRule     DeductionRule `validate:"required"`
	ResetDurationDays int           `validate:"gte=0"`
}

type PenaltyPolicy struct {
	ID                PolicyID  `validate:"required"`
	Title             string
	Company           CompanyID `validate:"required"`
	GroupID           GroupID   `validate:"required"`
	Subgroup          Subgroup  `validate:"required"`
	OccurrenceNumber  int       `validate:"gte=1"`
	ToleranceDuration time.Duration
	DeductionInDays   decimal.Decimal `validate:"gte=0"`
	DeductionAmount   decimal.Decimal `validate:"gte=0"`
	Designations      map[string]struct{}
	Enabled           bool
	ActivationDate    TimePoint
}

// AppliesTo reports whether employees holding the designation are subject to
// the policy.
func (p PenaltyPolicy) AppliesTo(designation string) bool {
	_, ok := p.Designations[designation]
	return ok
}

// DesignationSet builds the designation set of a policy.
func DesignationSet(designations ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(designations))
	for _, d := range designations {
		set[d] = struct{}{}
	}
	return set
}

// =============================================================================
// SHIFT TYPES
// =============================================================================

// ShiftType is a working shift. Start and End are offsets from midnight;
// End <= Start means the shift crosses midnight.
type ShiftType struct {
	Name                   string `validate:"required"`
	Start                  time.Duration
	End                    time.Duration
	EnableAutoAttendance   bool
	ProcessAttendanceAfter TimePoint
	LastSyncOfCheckin      time.Time
}

// Overnight reports whether the shift ends on the following day.
func (s ShiftType) Overnight() bool { return s.End <= s.Start }

// =============================================================================
// ATTENDANCE
// =============================================================================

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "Present"
	AttendanceAbsent  AttendanceStatus = "Absent"
	AttendanceHalfDay AttendanceStatus = "Half Day"
	AttendanceOnLeave AttendanceStatus = "On Leave"
)

// Attendance is produced by the shift auto-attendance process. The batch
// enriches EntryGap, ExitGap, WorkingHours and PlannedWorkingHours.
type Attendance struct {
	ID                  string
	Employee            EmployeeID       `validate:"required"`
	Company             CompanyID        `validate:"required"`
	Date                TimePoint        `validate:"required"`
	Status              AttendanceStatus `validate:"required"`
	InTime              time.Time
	OutTime             time.Time
	LateEntry           bool
	EarlyExit           bool
	EntryGap            time.Duration `validate:"gte=0"`
	ExitGap             time.Duration `validate:"gte=0"`
	WorkingHours        time.Duration
	PlannedWorkingHours time.Duration
}

// =============================================================================
// BATCH OUTPUTS - Timesheets, penalty records, deductions
// =============================================================================

type Timesheet struct {
	ID       string
	Employee EmployeeID `validate:"required"`
	Company  CompanyID  `validate:"required"`
	BatchID  BatchID    `validate:"required"`
	Logs     []TimeLog
}

type TimeLog struct {
	Date         TimePoint `validate:"required"`
	Hours        decimal.Decimal
	ActivityType string
}

// TotalHours sums the hours of every log.
func (t Timesheet) TotalHours() decimal.Decimal {
	total := decimal.Zero
	for _, l := range t.Logs {
		total = total.Add(l.Hours)
	}
	return total
}

// PenaltyRecord is one matched policy occurrence for an attendance day.
// GroupID and Subgroup are copied from the policy so occurrence counting does
// not depend on the policy still existing.
type PenaltyRecord struct {
	ID               string
	Employee         EmployeeID `validate:"required"`
	PolicyID         PolicyID   `validate:"required"`
	GroupID          GroupID    `validate:"required"`
	Subgroup         Subgroup   `validate:"required"`
	Date             TimePoint  `validate:"required"`
	OccurrenceNumber int        `validate:"gte=1"`
	Amount           decimal.Decimal
	BatchID          BatchID
	CreatedAt        time.Time
}

// Deduction is an additional-salary line that payroll subtracts.
type Deduction struct {
	ID              string
	Employee        EmployeeID      `validate:"required"`
	Company         CompanyID       `validate:"required"`
	Date            TimePoint       `validate:"required"`
	Amount          decimal.Decimal `validate:"gt=0"`
	Reason          string
	PenaltyRecordID string
	BatchID         BatchID
}
