package batch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// ADMISSION
// =============================================================================

// admit returns the batch to work on and whether it is being resumed.
//
//	> 1 in progress              -> ErrMultipleBatchesInProgress
//	1 in progress, other range   -> *BatchRangeMismatchError
//	1 in progress, same range    -> resume
//	none                         -> create
func (o *Orchestrator) admit(ctx context.Context, company payroll.CompanyID, period payroll.Period) (*payroll.Batch, bool, error) {
	inProgress, err := o.Store.ListBatches(ctx, payroll.BatchFilter{
		Company: company,
		Status:  payroll.BatchInProgress,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to list batches: %w", err)
	}

	switch len(inProgress) {
	case 0:
		b := &payroll.Batch{
			Company:   company,
			StartDate: period.Start,
			EndDate:   period.End,
			Status:    payroll.BatchInProgress,
		}
		if err := o.Store.CreateBatch(ctx, b); err != nil {
			return nil, false, fmt.Errorf("failed to create batch: %w", err)
		}
		return b, false, nil

	case 1:
		b := inProgress[0]
		if !b.Period().Equal(period) {
			return nil, false, &payroll.BatchRangeMismatchError{
				Company:   company,
				BatchID:   b.ID,
				Existing:  b.Period(),
				Requested: period,
			}
		}
		return &b, true, nil
	}

	return nil, false, fmt.Errorf("company %s has %d batches in progress: %w",
		company, len(inProgress), payroll.ErrMultipleBatchesInProgress)
}

// =============================================================================
// RECOVERY
// =============================================================================

// recover rolls back the employee whose processing was interrupted. Earlier
// employees finished and are kept; later ones never started.
func (o *Orchestrator) recover(ctx context.Context, log logrus.FieldLogger, b *payroll.Batch) error {
	last, err := o.Store.LastCheckpoint(ctx, b.ID, payroll.ObjectEmployee)
	if payroll.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load last employee checkpoint: %w", err)
	}
	if last.Status == payroll.CheckpointCompleted {
		return nil
	}

	o.audit(ctx, log, actionRecovery, fmt.Sprintf(
		"Rolling back partial work of employee %s in batch %s", last.EmployeeID, b.ID))

	checkpoints, err := o.Store.ListCheckpoints(ctx, payroll.CheckpointFilter{
		BatchID:    b.ID,
		EmployeeID: last.EmployeeID,
	})
	if err != nil {
		return fmt.Errorf("failed to list checkpoints of %s: %w", last.EmployeeID, err)
	}

	var employeeCheckpoints []payroll.Checkpoint
	for i := len(checkpoints) - 1; i >= 0; i-- {
		c := checkpoints[i]
		if c.ObjectType == payroll.ObjectEmployee {
			employeeCheckpoints = append(employeeCheckpoints, c)
			continue
		}
		if err := o.rollback(ctx, c); err != nil {
			return err
		}
	}
	for _, c := range employeeCheckpoints {
		if err := o.deleteCheckpoint(ctx, c); err != nil {
			return err
		}
	}

	o.audit(ctx, log, actionRecovery, fmt.Sprintf(
		"Rolled back %d checkpoints of employee %s", len(checkpoints), last.EmployeeID))
	return nil
}

// rollback deletes the object a checkpoint references, then the checkpoint.
// Objects that were never written are skipped.
func (o *Orchestrator) rollback(ctx context.Context, c payroll.Checkpoint) error {
	var err error
	switch c.ObjectType {
	case payroll.ObjectTimesheet:
		err = o.Store.DeleteTimesheet(ctx, c.ObjectID)
	case payroll.ObjectPenaltyRecord:
		err = o.Store.DeletePenaltyRecord(ctx, c.ObjectID)
	case payroll.ObjectDeduction:
		err = o.Store.DeleteDeduction(ctx, c.ObjectID)
	}
	if err != nil && !payroll.IsNotFound(err) {
		return fmt.Errorf("failed to roll back %s %s: %w", c.ObjectType, c.ObjectID, err)
	}
	return o.deleteCheckpoint(ctx, c)
}

func (o *Orchestrator) deleteCheckpoint(ctx context.Context, c payroll.Checkpoint) error {
	if err := o.Store.DeleteCheckpoint(ctx, c.ID); err != nil && !payroll.IsNotFound(err) {
		return fmt.Errorf("failed to delete checkpoint %s: %w", c.ID, err)
	}
	return nil
}
