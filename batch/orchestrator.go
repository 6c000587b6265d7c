/*
orchestrator.go - Resumable payroll penalty batch

PURPOSE:
  Run processes every employee of a company over a date range exactly once,
  producing timesheets, penalty records and deductions. A run that dies
  half-way is finished by calling Run again with the same company and range.

STATE MACHINE:
  (absent) --Run--> In Progress --all employees done--> Completed

  Completed batches are terminal; a later Run over the same range creates a
  new batch.

RUN SEQUENCE:
  1. Acquire the company lock (ErrBatchLocked when busy)
  2. Load the policy catalog, validate shift types, bootstrap the changelog
  3. Admission: create a batch, or resume the one in progress
  4. Recovery (resume only): roll back the employee that was interrupted
  5. Trigger auto-attendance
  6. Employees in ID order, skipping those already checkpointed
  7. Mark the batch Completed

CHECKPOINTS:
  Every object is checkpointed BEFORE it is written, with an ID assigned up
  front. An interruption between the two leaves a checkpoint pointing at
  nothing, which recovery deletes harmlessly; it never leaves an object the
  batch does not know about.

  Employee checkpoint:  In Progress when the employee starts, Completed when
                        its attendance list is exhausted.
  Object checkpoints:   Created, one per Timesheet / PenaltyRecord / Deduction.

RECOVERY:
  Only the employee of the last Employee checkpoint can be partial. If that
  checkpoint is not Completed, every checkpoint of that employee in the batch
  is deleted along with the objects it references, newest first, the
  Employee checkpoint last. Other employees are untouched. A run whose
  company lock is lost stops between employees and is resumed the same way.

SEE ALSO:
  - recovery.go: Admission and rollback
  - lock.go: Company lock implementations
  - penalty/resolver.go: Penalty matching
*/
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/changelog"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/penalty"
)

// DefaultActivityType is the activity of time logs written by the batch.
const DefaultActivityType = "Attendance"

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	Store    payroll.Store
	Locker   Locker
	Producer attendance.Producer
	Audit    payroll.AuditSink
	Log      logrus.FieldLogger
}

// NewOrchestrator wires an orchestrator with an in-process lock, no
// auto-attendance producer and the store as audit sink. Replace the fields
// to change any of them.
func NewOrchestrator(store payroll.Store, log logrus.FieldLogger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		Store:    store,
		Locker:   NewLocalLocker(),
		Producer: attendance.NoopProducer{},
		Audit:    StoreAuditSink{Store: store},
		Log:      log,
	}
}

// run carries the state of one Run call.
type run struct {
	batch    *payroll.Batch
	catalog  *penalty.Catalog
	shifts   attendance.Shifts
	resolver *penalty.Resolver
	timeline *changelog.Resolver
	log      logrus.FieldLogger
}

// Run creates or resumes the company's batch for [start, end] and processes
// it to completion.
func (o *Orchestrator) Run(ctx context.Context, company payroll.CompanyID, start, end payroll.TimePoint) (*payroll.Batch, error) {
	period := payroll.Period{Start: start, End: end}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	log := o.Log.WithFields(logrus.Fields{
		"company": company,
		"start":   start.String(),
		"end":     end.String(),
	})

	lease, err := o.Locker.Acquire(ctx, company)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.WithError(err).Warn("failed to release batch lock")
		}
	}()
	ctx = lease.Context()

	catalog, err := penalty.LoadCatalog(ctx, o.Store, company)
	if err != nil {
		return nil, err
	}

	o.audit(ctx, log, actionConfig, "Start validating shift types.")
	shiftTypes, err := o.Store.ListShiftTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load shift types: %w", err)
	}
	if err := attendance.ValidateShiftTypes(shiftTypes); err != nil {
		o.audit(ctx, log, actionConfig, fmt.Sprintf(
			"Due to the shift types validation issue, exit the batch process for company %s, %s", company, period))
		return nil, err
	}

	resolver := changelog.NewResolver(o.Store)
	seeded, err := resolver.Bootstrap(ctx, company)
	if err != nil {
		return nil, err
	}
	o.audit(ctx, log, actionConfig, fmt.Sprintf(
		"Created %d first employee changelog records for company %s", len(seeded), company))

	o.audit(ctx, log, actionBatch, fmt.Sprintf(
		"Decide to resume or create a new batch for company %s, %s", company, period))
	batch, resumed, err := o.admit(ctx, company, period)
	if err != nil {
		return nil, err
	}
	log = log.WithField("batch", batch.ID)

	if resumed {
		o.audit(ctx, log, actionBatch, fmt.Sprintf("Resume batch %s for company %s", batch.ID, company))
		if err := o.recover(ctx, log, batch); err != nil {
			return nil, err
		}
	} else {
		o.audit(ctx, log, actionBatch, fmt.Sprintf("Batch %s for company %s created", batch.ID, company))
	}

	o.audit(ctx, log, actionBatch, fmt.Sprintf("Batch %s starting auto attendance", batch.ID))
	if err := o.Producer.Generate(ctx, shiftTypes); err != nil {
		return nil, fmt.Errorf("auto attendance failed: %w", err)
	}

	r := &run{
		batch:    batch,
		catalog:  catalog,
		shifts:   attendance.IndexShifts(shiftTypes),
		resolver: penalty.NewResolver(o.Store, log),
		timeline: resolver,
		log:      log,
	}
	if err := o.processEmployees(ctx, r); err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			return nil, fmt.Errorf("%w: %w", cause, err)
		}
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	o.audit(ctx, log, actionBatch, fmt.Sprintf("Batch %s completed and will update the status", batch.ID))
	if err := o.Store.UpdateBatchStatus(ctx, batch.ID, payroll.BatchCompleted); err != nil {
		return nil, fmt.Errorf("failed to complete batch %s: %w", batch.ID, err)
	}
	batch.Status = payroll.BatchCompleted
	return batch, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (o *Orchestrator) processEmployees(ctx context.Context, r *run) error {
	employees, err := o.Store.ListEmployees(ctx, r.batch.Company)
	if err != nil {
		return fmt.Errorf("failed to list employees: %w", err)
	}
	done, err := o.checkpointedEmployees(ctx, r.batch.ID)
	if err != nil {
		return err
	}

	for _, e := range employees {
		if done[e.ID] {
			continue
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err := o.processEmployee(ctx, r, e); err != nil {
			return fmt.Errorf("employee %s: %w", e.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) checkpointedEmployees(ctx context.Context, batchID payroll.BatchID) (map[payroll.EmployeeID]bool, error) {
	checkpoints, err := o.Store.ListCheckpoints(ctx, payroll.CheckpointFilter{
		BatchID:    batchID,
		ObjectType: payroll.ObjectEmployee,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list employee checkpoints: %w", err)
	}
	done := make(map[payroll.EmployeeID]bool, len(checkpoints))
	for _, c := range checkpoints {
		done[c.EmployeeID] = true
	}
	return done, nil
}

// employeeRun tracks one employee inside a run.
type employeeRun struct {
	*run
	employee  payroll.Employee
	timesheet string
	log       logrus.FieldLogger
}

func (o *Orchestrator) processEmployee(ctx context.Context, r *run, e payroll.Employee) error {
	er := &employeeRun{run: r, employee: e, log: r.log.WithField("employee", e.ID)}

	start, err := o.checkpoint(ctx, er, payroll.ObjectEmployee, string(e.ID), payroll.CheckpointInProgress)
	if err != nil {
		return err
	}
	o.audit(ctx, er.log, actionEmployee, fmt.Sprintf(
		"Start process employee %s for company %s into batch %s", e.ID, r.batch.Company, r.batch.ID))

	records, err := o.Store.ListAttendance(ctx, e.ID, r.batch.Period())
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}
	timeline, err := r.timeline.Timeline(ctx, e.ID, r.batch.EndDate)
	if err != nil {
		return fmt.Errorf("failed to load changelog: %w", err)
	}

	for _, a := range records {
		if err := o.processAttendance(ctx, er, timeline, a); err != nil {
			return err
		}
	}

	if err := o.Store.UpdateCheckpointStatus(ctx, start.ID, payroll.CheckpointCompleted, ""); err != nil {
		return fmt.Errorf("failed to complete employee checkpoint: %w", err)
	}
	o.audit(ctx, er.log, actionEmployee, fmt.Sprintf(
		"End process employee %s for company %s into batch %s", e.ID, r.batch.Company, r.batch.ID))
	return nil
}

func (o *Orchestrator) processAttendance(ctx context.Context, er *employeeRun, timeline *changelog.Timeline, a payroll.Attendance) error {
	log := er.log.WithField("date", a.Date.String())

	attrs, err := timeline.At(a.Date)
	if errors.Is(err, payroll.ErrChangelogNotFound) {
		log.WithError(err).Warn("no payroll attributes effective on attendance date, skipped")
		return nil
	}
	if err != nil {
		return err
	}

	shift, err := er.shifts.Lookup(attrs.ShiftType)
	if err != nil {
		return err
	}
	enriched, warnings := attendance.Breakdown(a, shift)
	for _, w := range warnings {
		log.WithError(w).Warn("attendance breakdown clamped a gap")
	}
	if err := o.Store.UpdateAttendance(ctx, enriched); err != nil {
		return fmt.Errorf("failed to update attendance %s: %w", a.ID, err)
	}

	if err := o.appendTimeLog(ctx, er, enriched); err != nil {
		return err
	}

	outcomes, err := er.resolver.Resolve(ctx, attrs, enriched, er.catalog)
	if err != nil {
		return err
	}
	for _, outcome := range outcomes {
		if outcome.Warning != nil {
			log.WithError(outcome.Warning).Warn("deduction amount defaulted to zero")
		}
		if err := o.applyOutcome(ctx, er, enriched.Date, outcome); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) appendTimeLog(ctx context.Context, er *employeeRun, a payroll.Attendance) error {
	if er.timesheet == "" {
		id := uuid.NewString()
		if _, err := o.checkpoint(ctx, er, payroll.ObjectTimesheet, id, payroll.CheckpointCreated); err != nil {
			return err
		}
		if err := o.Store.CreateTimesheet(ctx, &payroll.Timesheet{
			ID:       id,
			Employee: er.employee.ID,
			Company:  er.employee.Company,
			BatchID:  er.batch.ID,
		}); err != nil {
			return fmt.Errorf("failed to create timesheet: %w", err)
		}
		er.timesheet = id
	}

	return o.Store.AppendTimeLog(ctx, er.timesheet, payroll.TimeLog{
		Date:         a.Date,
		Hours:        decimal.NewFromFloat(a.WorkingHours.Hours()).Round(2),
		ActivityType: DefaultActivityType,
	})
}

// =============================================================================
// PENALTIES + DEDUCTIONS
// =============================================================================

func (o *Orchestrator) applyOutcome(ctx context.Context, er *employeeRun, date payroll.TimePoint, outcome penalty.Outcome) error {
	record := outcome.Record(er.employee.ID, date, er.batch.ID)

	if outcome.Void {
		return o.voidRecord(ctx, er, record, outcome)
	}
	if outcome.IsReplay() {
		if err := o.Store.UpdatePenaltyRecord(ctx, record); err != nil {
			return fmt.Errorf("failed to update penalty record %s: %w", record.ID, err)
		}
		return o.upsertDeduction(ctx, er, record, outcome)
	}

	record.ID = uuid.NewString()
	if _, err := o.checkpoint(ctx, er, payroll.ObjectPenaltyRecord, record.ID, payroll.CheckpointCreated); err != nil {
		return err
	}
	if err := o.Store.CreatePenaltyRecord(ctx, &record); err != nil {
		return fmt.Errorf("failed to create penalty record: %w", err)
	}
	if !record.Amount.IsPositive() {
		return nil
	}
	return o.createDeduction(ctx, er, record, outcome)
}

// upsertDeduction brings the deductions of a replayed record in line with its
// recomputed amount.
func (o *Orchestrator) upsertDeduction(ctx context.Context, er *employeeRun, record payroll.PenaltyRecord, outcome penalty.Outcome) error {
	existing, err := o.Store.ListDeductions(ctx, payroll.DeductionFilter{PenaltyRecordID: record.ID})
	if err != nil {
		return fmt.Errorf("failed to list deductions of %s: %w", record.ID, err)
	}

	if !record.Amount.IsPositive() {
		for _, d := range existing {
			if err := o.Store.DeleteDeduction(ctx, d.ID); err != nil {
				return fmt.Errorf("failed to delete deduction %s: %w", d.ID, err)
			}
		}
		return nil
	}
	if len(existing) == 0 {
		return o.createDeduction(ctx, er, record, outcome)
	}

	d := existing[0]
	d.Amount = record.Amount
	d.Date = record.Date
	d.Reason = deductionReason(outcome)
	if err := o.Store.UpdateDeduction(ctx, d); err != nil {
		return fmt.Errorf("failed to update deduction %s: %w", d.ID, err)
	}
	for _, extra := range existing[1:] {
		if err := o.Store.DeleteDeduction(ctx, extra.ID); err != nil {
			return fmt.Errorf("failed to delete deduction %s: %w", extra.ID, err)
		}
	}
	return nil
}

// voidRecord removes a replayed record that no longer earns a penalty,
// deductions first.
func (o *Orchestrator) voidRecord(ctx context.Context, er *employeeRun, record payroll.PenaltyRecord, outcome penalty.Outcome) error {
	if err := o.upsertDeduction(ctx, er, record, outcome); err != nil {
		return err
	}
	if err := o.Store.DeletePenaltyRecord(ctx, record.ID); err != nil && !payroll.IsNotFound(err) {
		return fmt.Errorf("failed to delete penalty record %s: %w", record.ID, err)
	}
	er.log.WithFields(logrus.Fields{
		"penalty_record": record.ID,
		"policy":         record.PolicyID,
	}).Info("penalty record no longer applies, removed")
	return nil
}

func (o *Orchestrator) createDeduction(ctx context.Context, er *employeeRun, record payroll.PenaltyRecord, outcome penalty.Outcome) error {
	d := payroll.Deduction{
		ID:              uuid.NewString(),
		Employee:        er.employee.ID,
		Company:         er.employee.Company,
		Date:            record.Date,
		Amount:          record.Amount,
		Reason:          deductionReason(outcome),
		PenaltyRecordID: record.ID,
		BatchID:         er.batch.ID,
	}
	if _, err := o.checkpoint(ctx, er, payroll.ObjectDeduction, d.ID, payroll.CheckpointCreated); err != nil {
		return err
	}
	if err := o.Store.CreateDeduction(ctx, &d); err != nil {
		return fmt.Errorf("failed to create deduction: %w", err)
	}
	return nil
}

func deductionReason(outcome penalty.Outcome) string {
	title := outcome.Policy.Title
	if title == "" {
		title = string(outcome.Policy.ID)
	}
	return fmt.Sprintf("%s: %s, occurrence %d", title, outcome.Policy.Subgroup, outcome.OccurrenceNumber)
}

func (o *Orchestrator) checkpoint(ctx context.Context, er *employeeRun, objectType payroll.ObjectType, objectID, status string) (*payroll.Checkpoint, error) {
	c := &payroll.Checkpoint{
		BatchID:    er.batch.ID,
		ObjectType: objectType,
		ObjectID:   objectID,
		EmployeeID: er.employee.ID,
		Status:     status,
	}
	if err := o.Store.CreateCheckpoint(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to checkpoint %s %s: %w", objectType, objectID, err)
	}
	return c, nil
}
