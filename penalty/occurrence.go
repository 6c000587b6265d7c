package penalty

import (
	"context"
	"fmt"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// OCCURRENCE COUNTER - Rolling reset window
// =============================================================================

// OccurrenceCounter counts prior infractions of an employee in a subgroup.
// Only records dated in [asOf - windowDays, asOf) count, so an employee's Nth
// infraction is treated as the 1st again once older ones leave the window.
type OccurrenceCounter struct {
	Store payroll.PenaltyStore
}

func NewOccurrenceCounter(store payroll.PenaltyStore) *OccurrenceCounter {
	return &OccurrenceCounter{Store: store}
}

// Count returns the number of penalty records inside the window.
func (c *OccurrenceCounter) Count(ctx context.Context, employee payroll.EmployeeID, subgroup payroll.Subgroup, asOf payroll.TimePoint, windowDays int) (int, error) {
	if windowDays < 0 {
		windowDays = 0
	}
	n, err := c.Store.CountPenaltyRecords(ctx, payroll.PenaltyFilter{
		Employee:    employee,
		Subgroup:    subgroup,
		From:        asOf.AddDays(-windowDays),
		To:          asOf,
		ToExclusive: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s occurrences of %s: %w", subgroup, employee, err)
	}
	return n, nil
}

// Next returns the occurrence number a new infraction on asOf would get.
func (c *OccurrenceCounter) Next(ctx context.Context, employee payroll.EmployeeID, subgroup payroll.Subgroup, asOf payroll.TimePoint, windowDays int) (int, error) {
	n, err := c.Count(ctx, employee, subgroup, asOf, windowDays)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}
