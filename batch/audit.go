package batch

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/payroll"
)

// StoreAuditSink writes action-log entries to the Record Store.
type StoreAuditSink struct {
	Store payroll.ActionLogStore
}

func (s StoreAuditSink) Record(ctx context.Context, entry payroll.ActionLog) error {
	return s.Store.AppendActionLog(ctx, &entry)
}

// audit mirrors an action-log entry to the logger and the sink. Sink failures
// are logged only; the audit trail never stops a run.
func (o *Orchestrator) audit(ctx context.Context, log logrus.FieldLogger, actionType, action string) {
	log.WithField("action_type", actionType).Info(action)
	if err := o.Audit.Record(ctx, payroll.ActionLog{Action: action, ActionType: actionType}); err != nil {
		log.WithError(err).Warn("failed to write action log")
	}
}

const (
	actionBatch    = "Batch"
	actionEmployee = "Employee"
	actionRecovery = "Recovery"
	actionConfig   = "Configuration"
)
