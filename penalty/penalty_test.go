package penalty_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
	"github.com/warp/payroll-engine/penalty"
)

// =============================================================================
// HELPERS
// =============================================================================

const company payroll.CompanyID = "ACME"

func lateGroup(rule payroll.DeductionRule, resetDays int) payroll.PolicyGroup {
	return payroll.PolicyGroup{ID: "late", Title: "Late arrival", DeductionRule: rule, ResetDurationDays: resetDays}
}

func policy(id string, group payroll.GroupID, subgroup payroll.Subgroup, occurrence int, tolerance time.Duration) payroll.PenaltyPolicy {
	return payroll.PenaltyPolicy{
		ID:                payroll.PolicyID(id),
		Title:             id,
		Company:           company,
		GroupID:           group,
		Subgroup:          subgroup,
		OccurrenceNumber:  occurrence,
		ToleranceDuration: tolerance,
		DeductionInDays:   decimal.NewFromInt(1),
		DeductionAmount:   decimal.NewFromInt(5),
		Designations:      payroll.DesignationSet("Clerk"),
		Enabled:           true,
	}
}

func attrs() payroll.ChangelogEntry {
	return payroll.ChangelogEntry{
		Employee: "E-1", Company: company, ChangeDate: payroll.MustParseDate("2020-01-01"),
		Designation: "Clerk", SalaryStructureAssignment: "SSA-1", HourlyRate: decimal.NewFromInt(10),
	}
}

func lateAttendance(date string, gap time.Duration) payroll.Attendance {
	return payroll.Attendance{
		ID: "ATT-" + date, Employee: "E-1", Company: company, Date: payroll.MustParseDate(date),
		Status: payroll.AttendancePresent, LateEntry: true, EntryGap: gap,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func record(date string, subgroup payroll.Subgroup, policyID string) *payroll.PenaltyRecord {
	return &payroll.PenaltyRecord{
		Employee: "E-1", PolicyID: payroll.PolicyID(policyID), GroupID: "late", Subgroup: subgroup,
		Date: payroll.MustParseDate(date), OccurrenceNumber: 1,
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_Ordering(t *testing.T) {
	groups := []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30), {ID: "absence", DeductionRule: payroll.RuleSmallest}}
	policies := []payroll.PenaltyPolicy{
		policy("late-t10-o1", "late", payroll.SubgroupCheckIn, 1, 10*time.Minute),
		policy("late-t20-o1", "late", payroll.SubgroupCheckIn, 1, 20*time.Minute),
		policy("late-t20-o3", "late", payroll.SubgroupCheckIn, 3, 20*time.Minute),
		policy("late-out", "late", payroll.SubgroupCheckOut, 1, 0),
		policy("abs-1", "absence", payroll.SubgroupAbsence, 1, 0),
	}

	catalog, err := penalty.NewCatalog(company, groups, policies)
	require.NoError(t, err)

	var ids []payroll.PolicyID
	for _, e := range catalog.Entries() {
		ids = append(ids, e.Policy.ID)
	}
	assert.Equal(t, []payroll.PolicyID{"abs-1", "late-t20-o3", "late-t20-o1", "late-t10-o1", "late-out"}, ids)
}

func TestCatalog_IgnoresDisabledAndForeignPolicies(t *testing.T) {
	disabled := policy("off", "late", payroll.SubgroupCheckIn, 1, 0)
	disabled.Enabled = false
	foreign := policy("other", "late", payroll.SubgroupCheckIn, 1, 0)
	foreign.Company = "OTHER"

	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30)},
		[]payroll.PenaltyPolicy{disabled, foreign, policy("on", "late", payroll.SubgroupCheckIn, 1, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
}

func TestCatalog_MissingGroupIsDataError(t *testing.T) {
	_, err := penalty.NewCatalog(company, nil, []payroll.PenaltyPolicy{policy("p", "ghost", payroll.SubgroupCheckIn, 1, 0)})
	assert.ErrorIs(t, err, payroll.ErrPolicyGroupNotFound)
	assert.True(t, payroll.IsDataError(err))
}

func TestCatalog_ReloadReplacesContents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.SavePolicyGroup(ctx, lateGroup(payroll.RuleBiggest, 30)))
	require.NoError(t, s.SavePolicy(ctx, policy("p1", "late", payroll.SubgroupCheckIn, 1, 0)))

	catalog, err := penalty.LoadCatalog(ctx, s, company)
	require.NoError(t, err)
	require.Equal(t, 1, catalog.Len())

	require.NoError(t, s.SavePolicy(ctx, policy("p2", "late", payroll.SubgroupCheckIn, 2, 0)))
	require.NoError(t, catalog.Reload(ctx))
	require.NoError(t, catalog.Reload(ctx))
	assert.Equal(t, 2, catalog.Len())

	_, ok := catalog.Policy("p2")
	assert.True(t, ok)
	assert.Len(t, catalog.Applicable("Clerk"), 2)
	assert.Empty(t, catalog.Applicable("Manager"))
}

// =============================================================================
// OCCURRENCE COUNTER
// =============================================================================

func TestOccurrenceCounter_WindowReset(t *testing.T) {
	// GIVEN: Prior absences at days 1, 10 and 40
	// WHEN: Counting as of day 41 with a 30 day window
	// THEN: Only day 40 counts, the next occurrence is 2
	ctx := context.Background()
	s := store.NewMemory()
	day := func(n int) payroll.TimePoint { return payroll.MustParseDate("2022-01-01").AddDays(n - 1) }

	for _, n := range []int{1, 10, 40} {
		require.NoError(t, s.CreatePenaltyRecord(ctx, &payroll.PenaltyRecord{
			Employee: "E-1", PolicyID: "abs-1", GroupID: "absence", Subgroup: payroll.SubgroupAbsence,
			Date: day(n), OccurrenceNumber: 1,
		}))
	}

	counter := penalty.NewOccurrenceCounter(s)
	count, err := counter.Count(ctx, "E-1", payroll.SubgroupAbsence, day(41), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	next, err := counter.Next(ctx, "E-1", payroll.SubgroupAbsence, day(41), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	// Other subgroups and employees are not counted
	count, err = counter.Count(ctx, "E-1", payroll.SubgroupCheckIn, day(41), 30)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = counter.Count(ctx, "E-2", payroll.SubgroupAbsence, day(41), 30)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOccurrenceCounter_SameDayRecordNotCounted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.CreatePenaltyRecord(ctx, record("2022-10-05", payroll.SubgroupCheckIn, "p")))

	count, err := penalty.NewOccurrenceCounter(s).Count(ctx, "E-1", payroll.SubgroupCheckIn, payroll.MustParseDate("2022-10-05"), 30)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// =============================================================================
// DEDUCTION AMOUNT
// =============================================================================

func TestDeductionAmount_Rules(t *testing.T) {
	p := payroll.PenaltyPolicy{
		ID:              "p",
		DeductionInDays: decimal.NewFromInt(2),
		DeductionAmount: decimal.NewFromInt(15),
	}
	rate := decimal.NewFromInt(10)

	tests := []struct {
		rule payroll.DeductionRule
		want int64
	}{
		{payroll.RuleBiggest, 20},
		{payroll.RuleSmallest, 15},
		{payroll.RuleAbsoluteAmount, 15},
		{payroll.RuleDeductionInDays, 20},
	}
	for _, tt := range tests {
		t.Run(string(tt.rule), func(t *testing.T) {
			got, err := penalty.DeductionAmount(tt.rule, rate, p)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.NewFromInt(tt.want)), "got %s", got)
		})
	}
}

func TestDeductionAmount_UnknownRuleIsZeroWithWarning(t *testing.T) {
	got, err := penalty.DeductionAmount("Random", decimal.NewFromInt(10), payroll.PenaltyPolicy{
		DeductionInDays: decimal.NewFromInt(2), DeductionAmount: decimal.NewFromInt(15),
	})
	assert.ErrorIs(t, err, payroll.ErrUnknownDeductionRule)
	assert.True(t, got.IsZero())
}

// =============================================================================
// RESOLVER
// =============================================================================

func TestDetectAnomalies(t *testing.T) {
	a := payroll.Attendance{Status: payroll.AttendanceAbsent, LateEntry: true, EntryGap: 5 * time.Minute,
		EarlyExit: true, ExitGap: 7 * time.Minute}

	anomalies := penalty.DetectAnomalies(a)
	require.Len(t, anomalies, 3)
	assert.Equal(t, payroll.SubgroupAbsence, anomalies[0].Subgroup)
	assert.Equal(t, 5*time.Minute, anomalies[1].Gap)
	assert.Equal(t, 7*time.Minute, anomalies[2].Gap)

	assert.Empty(t, penalty.DetectAnomalies(payroll.Attendance{Status: payroll.AttendancePresent}))
}

func TestResolve_ToleranceTieBreak(t *testing.T) {
	// GIVEN: Two check-in policies, tolerance 10 and 20 minutes, both first tier
	// WHEN: The employee is 25 minutes late
	// THEN: The tolerance-20 policy is selected
	ctx := context.Background()
	s := store.NewMemory()
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30)},
		[]payroll.PenaltyPolicy{
			policy("tol-10", "late", payroll.SubgroupCheckIn, 1, 10*time.Minute),
			policy("tol-20", "late", payroll.SubgroupCheckIn, 1, 20*time.Minute),
		})
	require.NoError(t, err)

	outcomes, err := penalty.NewResolver(s, quietLogger()).Resolve(ctx, attrs(), lateAttendance("2022-10-03", 25*time.Minute), catalog)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, payroll.PolicyID("tol-20"), outcomes[0].Policy.ID)
	assert.Equal(t, 1, outcomes[0].OccurrenceNumber)
	assert.False(t, outcomes[0].IsReplay())

	// Biggest of 10*1=10 and 5
	assert.True(t, outcomes[0].Amount.Equal(decimal.NewFromInt(10)))
}

func TestResolve_WithinToleranceNoPenalty(t *testing.T) {
	ctx := context.Background()
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30)},
		[]payroll.PenaltyPolicy{policy("tol-10", "late", payroll.SubgroupCheckIn, 1, 10*time.Minute)})
	require.NoError(t, err)

	outcomes, err := penalty.NewResolver(store.NewMemory(), quietLogger()).
		Resolve(ctx, attrs(), lateAttendance("2022-10-03", 10*time.Minute), catalog)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestResolve_EscalatesWithOccurrence(t *testing.T) {
	// GIVEN: Tier 1 and tier 3 policies and two prior late arrivals in the window
	// WHEN: A third late arrival happens
	// THEN: The tier 3 policy applies
	ctx := context.Background()
	s := store.NewMemory()
	tier1 := policy("tier-1", "late", payroll.SubgroupCheckIn, 1, 0)
	tier3 := policy("tier-3", "late", payroll.SubgroupCheckIn, 3, 0)
	tier3.DeductionAmount = decimal.NewFromInt(50)
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleAbsoluteAmount, 30)},
		[]payroll.PenaltyPolicy{tier1, tier3})
	require.NoError(t, err)

	resolver := penalty.NewResolver(s, quietLogger())

	outcomes, err := resolver.Resolve(ctx, attrs(), lateAttendance("2022-10-03", time.Minute), catalog)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, payroll.PolicyID("tier-1"), outcomes[0].Policy.ID)

	require.NoError(t, s.CreatePenaltyRecord(ctx, record("2022-10-01", payroll.SubgroupCheckIn, "tier-1")))
	require.NoError(t, s.CreatePenaltyRecord(ctx, record("2022-10-02", payroll.SubgroupCheckIn, "tier-1")))

	outcomes, err = resolver.Resolve(ctx, attrs(), lateAttendance("2022-10-03", time.Minute), catalog)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, payroll.PolicyID("tier-3"), outcomes[0].Policy.ID)
	assert.Equal(t, 3, outcomes[0].OccurrenceNumber)
	assert.True(t, outcomes[0].Amount.Equal(decimal.NewFromInt(50)))
}

func TestResolve_AbsenceMatchesAnyTolerance(t *testing.T) {
	ctx := context.Background()
	absence := policy("abs-1", "absence", payroll.SubgroupAbsence, 1, 8*time.Hour)
	catalog, err := penalty.NewCatalog(company,
		[]payroll.PolicyGroup{{ID: "absence", DeductionRule: payroll.RuleDeductionInDays, ResetDurationDays: 30}},
		[]payroll.PenaltyPolicy{absence})
	require.NoError(t, err)

	a := payroll.Attendance{Employee: "E-1", Company: company, Date: payroll.MustParseDate("2022-10-03"), Status: payroll.AttendanceAbsent}
	outcomes, err := penalty.NewResolver(store.NewMemory(), quietLogger()).Resolve(ctx, attrs(), a, catalog)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, payroll.PolicyID("abs-1"), outcomes[0].Policy.ID)
}

func TestResolve_DesignationFilter(t *testing.T) {
	ctx := context.Background()
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30)},
		[]payroll.PenaltyPolicy{policy("tol-0", "late", payroll.SubgroupCheckIn, 1, 0)})
	require.NoError(t, err)

	manager := attrs()
	manager.Designation = "Manager"
	outcomes, err := penalty.NewResolver(store.NewMemory(), quietLogger()).
		Resolve(ctx, manager, lateAttendance("2022-10-03", time.Hour), catalog)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestResolve_ReplaysExistingRecordInsteadOfDuplicating(t *testing.T) {
	// GIVEN: A check-in penalty already stored for the day
	// WHEN: Resolving the same late attendance again
	// THEN: One outcome replays the stored record, nothing new is proposed
	ctx := context.Background()
	s := store.NewMemory()
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30)},
		[]payroll.PenaltyPolicy{
			policy("tol-10", "late", payroll.SubgroupCheckIn, 1, 10*time.Minute),
			policy("tol-20", "late", payroll.SubgroupCheckIn, 1, 20*time.Minute),
		})
	require.NoError(t, err)

	stored := record("2022-10-03", payroll.SubgroupCheckIn, "tol-10")
	stored.BatchID = "B-0"
	require.NoError(t, s.CreatePenaltyRecord(ctx, stored))

	outcomes, err := penalty.NewResolver(s, quietLogger()).Resolve(ctx, attrs(), lateAttendance("2022-10-03", 25*time.Minute), catalog)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].IsReplay())
	assert.Equal(t, payroll.PolicyID("tol-20"), outcomes[0].Policy.ID)

	r := outcomes[0].Record("E-1", payroll.MustParseDate("2022-10-03"), "B-1")
	assert.Equal(t, stored.ID, r.ID)
	assert.Equal(t, payroll.BatchID("B-0"), r.BatchID)
	assert.Equal(t, payroll.PolicyID("tol-20"), r.PolicyID)
}

func TestResolve_ReplayWithoutAnomalyIsVoid(t *testing.T) {
	// GIVEN: A check-in penalty stored for the day
	// WHEN: The attendance is corrected to an on-time arrival
	// THEN: The replay is void with a zero amount and nothing new is proposed
	ctx := context.Background()
	s := store.NewMemory()
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30)},
		[]payroll.PenaltyPolicy{policy("tol-10", "late", payroll.SubgroupCheckIn, 1, 10*time.Minute)})
	require.NoError(t, err)

	stored := record("2022-10-03", payroll.SubgroupCheckIn, "tol-10")
	require.NoError(t, s.CreatePenaltyRecord(ctx, stored))

	onTime := lateAttendance("2022-10-03", 0)
	onTime.LateEntry = false
	outcomes, err := penalty.NewResolver(s, quietLogger()).Resolve(ctx, attrs(), onTime, catalog)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].IsReplay())
	assert.True(t, outcomes[0].Void)
	assert.True(t, outcomes[0].Amount.IsZero())
	assert.Equal(t, stored.ID, outcomes[0].Existing.ID)
}

func TestResolve_ReplayWithinToleranceIsVoid(t *testing.T) {
	// GIVEN: A check-in penalty stored for the day
	// WHEN: The recorded lateness drops inside the tolerance
	// THEN: No tier matches and the replay is void
	ctx := context.Background()
	s := store.NewMemory()
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30)},
		[]payroll.PenaltyPolicy{policy("tol-10", "late", payroll.SubgroupCheckIn, 1, 10*time.Minute)})
	require.NoError(t, err)
	require.NoError(t, s.CreatePenaltyRecord(ctx, record("2022-10-03", payroll.SubgroupCheckIn, "tol-10")))

	outcomes, err := penalty.NewResolver(s, quietLogger()).
		Resolve(ctx, attrs(), lateAttendance("2022-10-03", 5*time.Minute), catalog)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Void)
	assert.True(t, outcomes[0].Amount.IsZero())
}

func TestResolve_UnknownPolicyRecordSkippedWithWarning(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup(payroll.RuleBiggest, 30)},
		[]payroll.PenaltyPolicy{policy("tol-0", "late", payroll.SubgroupCheckIn, 1, 0)})
	require.NoError(t, err)
	require.NoError(t, s.CreatePenaltyRecord(ctx, record("2022-10-03", payroll.SubgroupCheckIn, "retired")))

	log, hook := test.NewNullLogger()
	outcomes, err := penalty.NewResolver(s, log).Resolve(ctx, attrs(), lateAttendance("2022-10-03", time.Hour), catalog)
	require.NoError(t, err)

	// The anomaly itself is still matched as a new record
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].IsReplay())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestResolve_UnknownRuleStillProducesZeroOutcome(t *testing.T) {
	ctx := context.Background()
	catalog, err := penalty.NewCatalog(company, []payroll.PolicyGroup{lateGroup("Mystery", 30)},
		[]payroll.PenaltyPolicy{policy("tol-0", "late", payroll.SubgroupCheckIn, 1, 0)})
	require.NoError(t, err)

	outcomes, err := penalty.NewResolver(store.NewMemory(), quietLogger()).
		Resolve(ctx, attrs(), lateAttendance("2022-10-03", time.Hour), catalog)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Warning, payroll.ErrUnknownDeductionRule)
	assert.True(t, outcomes[0].Amount.IsZero())
}
