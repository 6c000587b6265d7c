/*
catalog.go - Enabled penalty policies of a company, joined with their groups

PURPOSE:
  The resolver walks policies in a fixed order and takes the FIRST match.
  The catalog owns that order so matching stays deterministic:

    group ID, subgroup, tolerance DESC, occurrence number DESC, policy ID

  Within a group+subgroup the policy with the largest tolerance and the
  highest occurrence tier comes first, which makes "first match" equal to
  "tightest applicable escalation tier".

LIFECYCLE:
  A Catalog is built once per batch run and passed down explicitly. Reload
  replaces its contents; it never appends to what was loaded before.

SEE ALSO:
  - resolver.go: Consumes the catalog order
*/
package penalty

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/payroll-engine/payroll"
)

// Entry is a policy joined with its group.
type Entry struct {
	Policy payroll.PenaltyPolicy
	Group  payroll.PolicyGroup
}

type Catalog struct {
	company payroll.CompanyID
	store   payroll.PolicyStore

	entries []Entry
	groups  map[payroll.GroupID]payroll.PolicyGroup
	byID    map[payroll.PolicyID]Entry
}

// LoadCatalog loads the enabled policies of the company.
func LoadCatalog(ctx context.Context, store payroll.PolicyStore, company payroll.CompanyID) (*Catalog, error) {
	c := &Catalog{company: company, store: store}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCatalog builds a catalog from already-loaded groups and policies.
// Disabled policies and policies of other companies are ignored.
func NewCatalog(company payroll.CompanyID, groups []payroll.PolicyGroup, policies []payroll.PenaltyPolicy) (*Catalog, error) {
	c := &Catalog{company: company}
	if err := c.build(groups, policies); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the catalog contents with the current store state.
func (c *Catalog) Reload(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("catalog of %s has no store to reload from", c.company)
	}
	groups, err := c.store.ListPolicyGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to load penalty groups: %w", err)
	}
	policies, err := c.store.ListEnabledPolicies(ctx, c.company)
	if err != nil {
		return fmt.Errorf("failed to load penalty policies: %w", err)
	}
	return c.build(groups, policies)
}

func (c *Catalog) build(groups []payroll.PolicyGroup, policies []payroll.PenaltyPolicy) error {
	groupIndex := make(map[payroll.GroupID]payroll.PolicyGroup, len(groups))
	for _, g := range groups {
		groupIndex[g.ID] = g
	}

	entries := make([]Entry, 0, len(policies))
	byID := make(map[payroll.PolicyID]Entry, len(policies))
	for _, p := range policies {
		if !p.Enabled || p.Company != c.company {
			continue
		}
		g, ok := groupIndex[p.GroupID]
		if !ok {
			return fmt.Errorf("policy %s references group %s: %w", p.ID, p.GroupID, payroll.ErrPolicyGroupNotFound)
		}
		e := Entry{Policy: p, Group: g}
		entries = append(entries, e)
		byID[p.ID] = e
	}

	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i].Policy, entries[j].Policy) })

	c.entries = entries
	c.groups = groupIndex
	c.byID = byID
	return nil
}

func less(a, b payroll.PenaltyPolicy) bool {
	if a.GroupID != b.GroupID {
		return a.GroupID < b.GroupID
	}
	if a.Subgroup != b.Subgroup {
		return a.Subgroup < b.Subgroup
	}
	if a.ToleranceDuration != b.ToleranceDuration {
		return a.ToleranceDuration > b.ToleranceDuration
	}
	if a.OccurrenceNumber != b.OccurrenceNumber {
		return a.OccurrenceNumber > b.OccurrenceNumber
	}
	return a.ID < b.ID
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (c *Catalog) Company() payroll.CompanyID { return c.company }

// Entries returns every policy in catalog order.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

func (c *Catalog) Len() int { return len(c.entries) }

func (c *Catalog) Group(id payroll.GroupID) (payroll.PolicyGroup, bool) {
	g, ok := c.groups[id]
	return g, ok
}

func (c *Catalog) Policy(id payroll.PolicyID) (Entry, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// Applicable returns, in catalog order, the policies that apply to employees
// holding the designation.
func (c *Catalog) Applicable(designation string) []Entry {
	var result []Entry
	for _, e := range c.entries {
		if e.Policy.AppliesTo(designation) {
			result = append(result, e)
		}
	}
	return result
}
