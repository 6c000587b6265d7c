/*
changelog.go - Point-in-time payroll attributes of an employee

PURPOSE:
  Payroll attributes (designation, shift, salary structure, hourly rate)
  change over time. A penalty for an attendance day must be computed with the
  attributes that were effective ON THAT DAY, not today's. The changelog is
  an append-only list of snapshots; this file answers "which snapshot was in
  effect on date D".

KEY CONCEPTS:
  Timeline:
    All entries of one employee loaded once, sorted by (ChangeDate, Seq).
    At(asOf) is a binary search for the last entry with ChangeDate <= asOf.
    Same-day ties resolve to the most recent write.

  Resolver:
    Store-backed lookups and the bootstrap step that seeds an initial entry
    for employees that never had one.

BOOTSTRAP:
  Employees created before the changelog existed have no entries. Bootstrap
  synthesizes one from the employee's current attributes, dated at the
  joining date (or the last modification when no joining date is known).
  An employee without designation or salary structure assignment cannot
  have deductions computed and fails the whole run.

SEE ALSO:
  - batch/orchestrator.go: Loads one Timeline per employee
  - penalty/resolver.go: Consumes the resolved entry
*/
package changelog

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// TIMELINE - Preloaded entries of one employee
// =============================================================================

type Timeline struct {
	Employee payroll.EmployeeID
	entries  []payroll.ChangelogEntry
}

// NewTimeline sorts a copy of the entries by (ChangeDate, Seq).
func NewTimeline(employee payroll.EmployeeID, entries []payroll.ChangelogEntry) *Timeline {
	sorted := append([]payroll.ChangelogEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ChangeDate.Equal(sorted[j].ChangeDate) {
			return sorted[i].ChangeDate.Before(sorted[j].ChangeDate)
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return &Timeline{Employee: employee, entries: sorted}
}

// At returns the entry effective on asOf.
func (t *Timeline) At(asOf payroll.TimePoint) (payroll.ChangelogEntry, error) {
	return ResolveFrom(t.entries, asOf)
}

func (t *Timeline) Len() int { return len(t.entries) }

// ResolveFrom finds the entry effective on asOf in entries sorted by
// (ChangeDate, Seq).
func ResolveFrom(entries []payroll.ChangelogEntry, asOf payroll.TimePoint) (payroll.ChangelogEntry, error) {
	// First index whose ChangeDate is after asOf; the entry before it wins.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].ChangeDate.After(asOf)
	})
	if i == 0 {
		return payroll.ChangelogEntry{}, fmt.Errorf("as of %s: %w", asOf, payroll.ErrChangelogNotFound)
	}
	return entries[i-1], nil
}

// =============================================================================
// RESOLVER - Store-backed lookups and bootstrap
// =============================================================================

type Store interface {
	payroll.EmployeeStore
	payroll.ChangelogStore
}

type Resolver struct {
	Store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{Store: store}
}

// Resolve returns the entry effective on asOf for the employee.
func (r *Resolver) Resolve(ctx context.Context, employee payroll.EmployeeID, asOf payroll.TimePoint) (payroll.ChangelogEntry, error) {
	entries, err := r.Store.ListChangelog(ctx, employee, asOf)
	if err != nil {
		return payroll.ChangelogEntry{}, err
	}
	entry, err := ResolveFrom(entries, asOf)
	if err != nil {
		return payroll.ChangelogEntry{}, fmt.Errorf("employee %s: %w", employee, err)
	}
	return entry, nil
}

// Timeline loads every entry of the employee up to maxDate.
func (r *Resolver) Timeline(ctx context.Context, employee payroll.EmployeeID, maxDate payroll.TimePoint) (*Timeline, error) {
	entries, err := r.Store.ListChangelog(ctx, employee, maxDate)
	if err != nil {
		return nil, err
	}
	return NewTimeline(employee, entries), nil
}

// Bootstrap seeds an initial entry for every employee of the company that has
// none. All employees are checked before anything is written, so a missing
// attribute leaves the changelog untouched.
func (r *Resolver) Bootstrap(ctx context.Context, company payroll.CompanyID) ([]payroll.ChangelogEntry, error) {
	employees, err := r.Store.EmployeesWithoutChangelog(ctx, company)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees without changelog: %w", err)
	}

	for _, e := range employees {
		if err := checkPayrollAttributes(e); err != nil {
			return nil, err
		}
	}

	created := make([]payroll.ChangelogEntry, 0, len(employees))
	for _, e := range employees {
		entry := InitialEntry(e)
		if err := r.Store.AppendChangelog(ctx, &entry); err != nil {
			return created, fmt.Errorf("failed to bootstrap changelog of %s: %w", e.ID, err)
		}
		created = append(created, entry)
	}
	return created, nil
}

// InitialEntry builds the first changelog entry from current attributes.
func InitialEntry(e payroll.Employee) payroll.ChangelogEntry {
	changeDate := e.JoiningDate
	if changeDate.IsZero() {
		changeDate = payroll.DateOf(e.ModifiedAt)
	}
	return payroll.ChangelogEntry{
		Employee:                  e.ID,
		Company:                   e.Company,
		ChangeDate:                changeDate,
		Designation:               e.Designation,
		ShiftType:                 e.ShiftType,
		SalaryStructureAssignment: e.SalaryStructureAssignment,
		HourlyRate:                e.HourlyRate,
	}
}

func checkPayrollAttributes(e payroll.Employee) error {
	var missing []string
	if e.Designation == "" {
		missing = append(missing, "designation")
	}
	if e.SalaryStructureAssignment == "" {
		missing = append(missing, "salary structure assignment")
	}
	if len(missing) > 0 {
		return &payroll.MissingAttributesError{Employee: e.ID, Missing: missing}
	}
	return nil
}
