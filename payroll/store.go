/*
store.go - Record Store interfaces

PURPOSE:
  Defines the interface between the batch engine and durable storage.
  Every entity gets create / find / update / delete operations with typed
  filters instead of loosely-typed rows.

KEY INTERFACES:
  BatchStore, CheckpointStore:  Batch lifecycle and resume markers
  EmployeeStore, ChangelogStore: Current and historical payroll attributes
  PolicyStore, ShiftStore:       Penalty catalog and shift configuration
  AttendanceStore:               Attendance produced by auto-attendance
  TimesheetStore, PenaltyStore,
  DeductionStore:                Batch outputs
  ActionLogStore:                Audit sink

DURABILITY CONTRACT:
  Each create/update/delete is its own durable point. Callers never assume
  multi-row atomicity; that is why the batch checkpoints every record it
  creates individually.

VALIDATION:
  Create operations validate the record (see validate.go) and assign an ID
  when none is given.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, schema managed by goose migrations
  - payroll/store/memory.go: In-memory for testing

SEE ALSO:
  - batch/orchestrator.go: The main consumer
*/
package payroll

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Composite Record Store
// =============================================================================

type Store interface {
	BatchStore
	CheckpointStore
	EmployeeStore
	ChangelogStore
	PolicyStore
	ShiftStore
	AttendanceStore
	TimesheetStore
	PenaltyStore
	DeductionStore
	ActionLogStore
}

// =============================================================================
// BATCHES
// =============================================================================

type BatchFilter struct {
	Company CompanyID
	Status  BatchStatus // empty = any
}

type BatchStore interface {
	// CreateBatch persists a new batch and assigns its ID.
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)
	// ListBatches returns batches ordered by CreatedAt, oldest first.
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	UpdateBatchStatus(ctx context.Context, id BatchID, status BatchStatus) error
}

type CheckpointFilter struct {
	BatchID    BatchID
	ObjectType ObjectType // empty = any
	EmployeeID EmployeeID // empty = any
}

type CheckpointStore interface {
	// CreateCheckpoint persists a checkpoint and assigns ID and Seq.
	CreateCheckpoint(ctx context.Context, c *Checkpoint) error
	// ListCheckpoints returns checkpoints ordered by Seq.
	ListCheckpoints(ctx context.Context, filter CheckpointFilter) ([]Checkpoint, error)
	// LastCheckpoint returns the checkpoint with the highest Seq, or ErrNotFound.
	LastCheckpoint(ctx context.Context, batchID BatchID, objectType ObjectType) (*Checkpoint, error)
	UpdateCheckpointStatus(ctx context.Context, id string, status, notes string) error
	DeleteCheckpoint(ctx context.Context, id string) error
}

// =============================================================================
// EMPLOYEES + CHANGELOG
// =============================================================================

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	// ListEmployees returns the company's employees ordered by ID.
	ListEmployees(ctx context.Context, company CompanyID) ([]Employee, error)
}

type ChangelogStore interface {
	// AppendChangelog persists an entry and assigns ID and Seq. Entries are
	// never updated or deleted.
	AppendChangelog(ctx context.Context, e *ChangelogEntry) error
	// ListChangelog returns the employee's entries with ChangeDate <= maxDate,
	// ordered by ChangeDate then Seq.
	ListChangelog(ctx context.Context, employee EmployeeID, maxDate TimePoint) ([]ChangelogEntry, error)
	// EmployeesWithoutChangelog returns company employees that have no entry.
	EmployeesWithoutChangelog(ctx context.Context, company CompanyID) ([]Employee, error)
}

// =============================================================================
// POLICIES + SHIFTS
// =============================================================================

type PolicyStore interface {
	SavePolicyGroup(ctx context.Context, g PolicyGroup) error
	SavePolicy(ctx context.Context, p PenaltyPolicy) error
	ListPolicyGroups(ctx context.Context) ([]PolicyGroup, error)
	// ListEnabledPolicies returns the company's enabled policies in no
	// particular order; the catalog imposes its own.
	ListEnabledPolicies(ctx context.Context, company CompanyID) ([]PenaltyPolicy, error)
}

type ShiftStore interface {
	SaveShiftType(ctx context.Context, s ShiftType) error
	ListShiftTypes(ctx context.Context) ([]ShiftType, error)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type AttendanceStore interface {
	SaveAttendance(ctx context.Context, a *Attendance) error
	// ListAttendance returns the employee's attendance within the period,
	// ordered by Date.
	ListAttendance(ctx context.Context, employee EmployeeID, period Period) ([]Attendance, error)
	UpdateAttendance(ctx context.Context, a Attendance) error
}

// =============================================================================
// BATCH OUTPUTS
// =============================================================================

type TimesheetStore interface {
	CreateTimesheet(ctx context.Context, t *Timesheet) error
	AppendTimeLog(ctx context.Context, timesheetID string, log TimeLog) error
	GetTimesheet(ctx context.Context, id string) (*Timesheet, error)
	ListTimesheets(ctx context.Context, batchID BatchID) ([]Timesheet, error)
	DeleteTimesheet(ctx context.Context, id string) error
}

type PenaltyFilter struct {
	Employee EmployeeID
	Subgroup Subgroup // empty = any
	BatchID  BatchID  // empty = any
	// Date range; zero bounds are open.
	From TimePoint
	To   TimePoint
	// ToExclusive makes To an exclusive bound.
	ToExclusive bool
}

type PenaltyStore interface {
	CreatePenaltyRecord(ctx context.Context, r *PenaltyRecord) error
	UpdatePenaltyRecord(ctx context.Context, r PenaltyRecord) error
	// ListPenaltyRecords returns matches ordered by Date then CreatedAt.
	ListPenaltyRecords(ctx context.Context, filter PenaltyFilter) ([]PenaltyRecord, error)
	CountPenaltyRecords(ctx context.Context, filter PenaltyFilter) (int, error)
	DeletePenaltyRecord(ctx context.Context, id string) error
}

type DeductionFilter struct {
	BatchID         BatchID
	PenaltyRecordID string
}

type DeductionStore interface {
	CreateDeduction(ctx context.Context, d *Deduction) error
	UpdateDeduction(ctx context.Context, d Deduction) error
	ListDeductions(ctx context.Context, filter DeductionFilter) ([]Deduction, error)
	DeleteDeduction(ctx context.Context, id string) error
}

// =============================================================================
// ACTION LOG - Audit sink, never read back by the engine
// =============================================================================

type ActionLog struct {
	ID         string
	Timestamp  time.Time
	Action     string `validate:"required"`
	ActionType string
	Notes      string
}

// AuditSink receives action-log entries.
type AuditSink interface {
	Record(ctx context.Context, entry ActionLog) error
}

type ActionLogStore interface {
	AppendActionLog(ctx context.Context, entry *ActionLog) error
	// ListActionLogs returns the newest entries first.
	ListActionLogs(ctx context.Context, limit int) ([]ActionLog, error)
}
