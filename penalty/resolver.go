/*
resolver.go - Matching attendance anomalies to penalty policies

PURPOSE:
  For one attendance day, decide which penalties apply and how much they
  cost. Each anomaly is evaluated independently:

    Absent       -> "attendance absence"   (gap 0, matches any tolerance)
    LateEntry    -> "attendance check-in"  (gap = EntryGap)
    EarlyExit    -> "attendance check-out" (gap = ExitGap)

MATCHING:
  For each group (catalog order) that has policies of the anomaly's subgroup
  applicable to the employee's designation:
    occurrence = prior records in the group's reset window + 1
    pick the FIRST policy with OccurrenceNumber <= occurrence and
    ToleranceDuration < gap
  The first group that yields a policy wins; no match means no penalty.

REPLAY:
  Records already written for the same employee and day (a previous partial
  run, or an earlier batch over the same dates) are re-evaluated within their
  original group and subgroup and updated in place, never duplicated. The
  occurrence number is recomputed. A replay whose anomaly is gone, or that no
  tier matches any more, is void: the record and its deductions are removed.
  A detected anomaly whose subgroup is covered by a live replay produces
  nothing new. A record whose policy is no longer in the catalog is skipped
  with a warning.

SEE ALSO:
  - catalog.go: Policy order
  - occurrence.go: Rolling window count
  - deduction.go: Amount by group rule
*/
package penalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// ANOMALIES
// =============================================================================

type Anomaly struct {
	Subgroup payroll.Subgroup
	Gap      time.Duration
}

// DetectAnomalies lists the anomalies of an attendance day.
func DetectAnomalies(a payroll.Attendance) []Anomaly {
	var anomalies []Anomaly
	if a.Status == payroll.AttendanceAbsent {
		anomalies = append(anomalies, Anomaly{Subgroup: payroll.SubgroupAbsence})
	}
	if a.LateEntry {
		anomalies = append(anomalies, Anomaly{Subgroup: payroll.SubgroupCheckIn, Gap: a.EntryGap})
	}
	if a.EarlyExit {
		anomalies = append(anomalies, Anomaly{Subgroup: payroll.SubgroupCheckOut, Gap: a.ExitGap})
	}
	return anomalies
}

func gapOf(a payroll.Attendance, subgroup payroll.Subgroup) time.Duration {
	switch subgroup {
	case payroll.SubgroupCheckIn:
		return a.EntryGap
	case payroll.SubgroupCheckOut:
		return a.ExitGap
	}
	return 0
}

func hasAnomaly(a payroll.Attendance, subgroup payroll.Subgroup) bool {
	for _, anomaly := range DetectAnomalies(a) {
		if anomaly.Subgroup == subgroup {
			return true
		}
	}
	return false
}

// exceeds reports whether the gap is beyond the policy tolerance.
func exceeds(subgroup payroll.Subgroup, gap, tolerance time.Duration) bool {
	if subgroup == payroll.SubgroupAbsence {
		return true
	}
	return tolerance < gap
}

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome is one penalty to persist for an attendance day.
type Outcome struct {
	Anomaly          Anomaly
	Policy           payroll.PenaltyPolicy
	Group            payroll.PolicyGroup
	OccurrenceNumber int
	Amount           decimal.Decimal

	// Existing is set when the outcome replays a stored record.
	Existing *payroll.PenaltyRecord

	// Void marks a replay that no longer matches any tier. The stored record
	// and its deductions are to be removed.
	Void bool

	// Warning is a non-fatal problem met while computing Amount.
	Warning error
}

func (o Outcome) IsReplay() bool { return o.Existing != nil }

// Record builds the penalty record of the outcome. Replays keep the stored
// record's ID, creation time and batch.
func (o Outcome) Record(employee payroll.EmployeeID, date payroll.TimePoint, batchID payroll.BatchID) payroll.PenaltyRecord {
	r := payroll.PenaltyRecord{
		Employee:         employee,
		PolicyID:         o.Policy.ID,
		GroupID:          o.Group.ID,
		Subgroup:         o.Policy.Subgroup,
		Date:             date,
		OccurrenceNumber: o.OccurrenceNumber,
		Amount:           o.Amount,
		BatchID:          batchID,
	}
	if o.Existing != nil {
		r.ID = o.Existing.ID
		r.CreatedAt = o.Existing.CreatedAt
		r.BatchID = o.Existing.BatchID
	}
	return r
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Store   payroll.PenaltyStore
	Counter *OccurrenceCounter
	Log     logrus.FieldLogger
}

func NewResolver(store payroll.PenaltyStore, log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{Store: store, Counter: NewOccurrenceCounter(store), Log: log}
}

// Resolve returns the penalties of one attendance day, replays first.
func (r *Resolver) Resolve(ctx context.Context, attrs payroll.ChangelogEntry, attendance payroll.Attendance, catalog *Catalog) ([]Outcome, error) {
	log := r.Log.WithFields(logrus.Fields{
		"employee": attendance.Employee,
		"date":     attendance.Date.String(),
	})

	existing, err := r.Store.ListPenaltyRecords(ctx, payroll.PenaltyFilter{
		Employee: attendance.Employee,
		From:     attendance.Date,
		To:       attendance.Date,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load existing penalty records: %w", err)
	}

	var outcomes []Outcome
	covered := make(map[payroll.Subgroup]bool)

	for i := range existing {
		record := existing[i]
		original, ok := catalog.Policy(record.PolicyID)
		if !ok {
			log.WithField("penalty_record", record.ID).
				Warnf("penalty record references policy %s that is not in the catalog, skipped", record.PolicyID)
			continue
		}
		outcome, err := r.replay(ctx, attrs, attendance, catalog, original, &record)
		if err != nil {
			return nil, err
		}
		if !outcome.Void {
			covered[original.Policy.Subgroup] = true
		}
		outcomes = append(outcomes, outcome)
	}

	for _, anomaly := range DetectAnomalies(attendance) {
		if covered[anomaly.Subgroup] {
			continue
		}
		outcome, ok, err := r.match(ctx, attrs, attendance, catalog, anomaly)
		if err != nil {
			return nil, err
		}
		if ok {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, nil
}

// match finds the policy for a new anomaly.
func (r *Resolver) match(ctx context.Context, attrs payroll.ChangelogEntry, attendance payroll.Attendance, catalog *Catalog, anomaly Anomaly) (Outcome, bool, error) {
	candidates := candidatesByGroup(catalog.Applicable(attrs.Designation), anomaly.Subgroup)
	for _, group := range candidates {
		outcome, ok, err := r.selectInGroup(ctx, attrs, attendance, anomaly, group)
		if err != nil || ok {
			return outcome, ok, err
		}
	}
	return Outcome{}, false, nil
}

// replay re-evaluates a stored record within its original group and
// subgroup. When no tier matches any more the outcome is void.
func (r *Resolver) replay(ctx context.Context, attrs payroll.ChangelogEntry, attendance payroll.Attendance, catalog *Catalog, original Entry, record *payroll.PenaltyRecord) (Outcome, error) {
	anomaly := Anomaly{Subgroup: original.Policy.Subgroup, Gap: gapOf(attendance, original.Policy.Subgroup)}

	var group []Entry
	for _, e := range catalog.Applicable(attrs.Designation) {
		if e.Policy.GroupID == original.Group.ID && e.Policy.Subgroup == anomaly.Subgroup {
			group = append(group, e)
		}
	}

	var (
		outcome Outcome
		ok      bool
	)
	if hasAnomaly(attendance, anomaly.Subgroup) {
		var err error
		outcome, ok, err = r.selectInGroup(ctx, attrs, attendance, anomaly, group)
		if err != nil {
			return Outcome{}, err
		}
	}
	if !ok {
		outcome = Outcome{
			Anomaly:          anomaly,
			Policy:           original.Policy,
			Group:            original.Group,
			OccurrenceNumber: record.OccurrenceNumber,
			Amount:           decimal.Zero,
			Void:             true,
		}
	}
	outcome.Existing = record
	return outcome, nil
}

// selectInGroup applies the tier rule to one group's policies, which are in
// catalog order.
func (r *Resolver) selectInGroup(ctx context.Context, attrs payroll.ChangelogEntry, attendance payroll.Attendance, anomaly Anomaly, group []Entry) (Outcome, bool, error) {
	if len(group) == 0 {
		return Outcome{}, false, nil
	}
	occurrence, err := r.Counter.Next(ctx, attendance.Employee, anomaly.Subgroup, attendance.Date, group[0].Group.ResetDurationDays)
	if err != nil {
		return Outcome{}, false, err
	}
	for _, e := range group {
		if e.Policy.OccurrenceNumber <= occurrence && exceeds(anomaly.Subgroup, anomaly.Gap, e.Policy.ToleranceDuration) {
			return newOutcome(anomaly, e, occurrence, attrs.HourlyRate), true, nil
		}
	}
	return Outcome{}, false, nil
}

func newOutcome(anomaly Anomaly, e Entry, occurrence int, hourlyRate decimal.Decimal) Outcome {
	amount, warning := DeductionAmount(e.Group.DeductionRule, hourlyRate, e.Policy)
	return Outcome{
		Anomaly:          anomaly,
		Policy:           e.Policy,
		Group:            e.Group,
		OccurrenceNumber: occurrence,
		Amount:           amount,
		Warning:          warning,
	}
}

// candidatesByGroup splits the subgroup's entries per group, keeping catalog
// order both across and within groups.
func candidatesByGroup(entries []Entry, subgroup payroll.Subgroup) [][]Entry {
	var groups [][]Entry
	index := make(map[payroll.GroupID]int)
	for _, e := range entries {
		if e.Policy.Subgroup != subgroup {
			continue
		}
		i, ok := index[e.Policy.GroupID]
		if !ok {
			i = len(groups)
			index[e.Policy.GroupID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}
