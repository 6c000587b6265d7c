package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_MigrationsApplied(t *testing.T) {
	store := newStore(t)

	version, err := store.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestSQLite_BatchLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	b := &payroll.Batch{
		Company:   "ACME",
		StartDate: payroll.MustParseDate("2022-10-01"),
		EndDate:   payroll.MustParseDate("2022-10-31"),
		Status:    payroll.BatchInProgress,
	}
	require.NoError(t, store.CreateBatch(ctx, b))
	require.NotEmpty(t, b.ID)

	inProgress, err := store.ListBatches(ctx, payroll.BatchFilter{Company: "ACME", Status: payroll.BatchInProgress})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.True(t, inProgress[0].Period().Equal(b.Period()))

	require.NoError(t, store.UpdateBatchStatus(ctx, b.ID, payroll.BatchCompleted))

	got, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.BatchCompleted, got.Status)

	_, err = store.GetBatch(ctx, "missing")
	assert.ErrorIs(t, err, payroll.ErrNotFound)
}

func TestSQLite_CreateBatchRejectsInvalidRecord(t *testing.T) {
	store := newStore(t)

	err := store.CreateBatch(context.Background(), &payroll.Batch{Company: "ACME", Status: payroll.BatchInProgress})
	assert.ErrorIs(t, err, payroll.ErrInvalidRecord)
}

func TestSQLite_CheckpointsOrderedBySeq(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	b := &payroll.Batch{
		Company:   "ACME",
		StartDate: payroll.MustParseDate("2022-10-01"),
		EndDate:   payroll.MustParseDate("2022-10-31"),
		Status:    payroll.BatchInProgress,
	}
	require.NoError(t, store.CreateBatch(ctx, b))

	for _, emp := range []payroll.EmployeeID{"E-2", "E-1", "E-3"} {
		require.NoError(t, store.CreateCheckpoint(ctx, &payroll.Checkpoint{
			BatchID: b.ID, ObjectType: payroll.ObjectEmployee, ObjectID: string(emp), EmployeeID: emp,
			Status: payroll.CheckpointInProgress,
		}))
	}

	last, err := store.LastCheckpoint(ctx, b.ID, payroll.ObjectEmployee)
	require.NoError(t, err)
	assert.Equal(t, "E-3", last.ObjectID)

	require.NoError(t, store.UpdateCheckpointStatus(ctx, last.ID, payroll.CheckpointCompleted, "done"))
	all, err := store.ListCheckpoints(ctx, payroll.CheckpointFilter{BatchID: b.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "E-2", all[0].ObjectID)
	assert.Equal(t, payroll.CheckpointCompleted, all[2].Status)

	_, err = store.LastCheckpoint(ctx, b.ID, payroll.ObjectDeduction)
	assert.ErrorIs(t, err, payroll.ErrNotFound)
}

func TestSQLite_ChangelogOrderingAndBootstrapQuery(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, id := range []payroll.EmployeeID{"E-1", "E-2"} {
		require.NoError(t, store.SaveEmployee(ctx, payroll.Employee{ID: id, Company: "ACME", Designation: "Clerk"}))
	}
	entry := func(date, designation string) *payroll.ChangelogEntry {
		return &payroll.ChangelogEntry{
			Employee: "E-1", Company: "ACME", ChangeDate: payroll.MustParseDate(date),
			Designation: designation, SalaryStructureAssignment: "SSA-1", HourlyRate: decimal.NewFromInt(10),
		}
	}
	require.NoError(t, store.AppendChangelog(ctx, entry("2022-10-10", "Clerk")))
	require.NoError(t, store.AppendChangelog(ctx, entry("2022-09-01", "Intern")))
	require.NoError(t, store.AppendChangelog(ctx, entry("2022-10-10", "Senior Clerk")))

	entries, err := store.ListChangelog(ctx, "E-1", payroll.MustParseDate("2022-10-10"))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Intern", entries[0].Designation)
	assert.Equal(t, "Clerk", entries[1].Designation)
	assert.Equal(t, "Senior Clerk", entries[2].Designation)
	assert.True(t, entries[1].Seq < entries[2].Seq)

	without, err := store.EmployeesWithoutChangelog(ctx, "ACME")
	require.NoError(t, err)
	require.Len(t, without, 1)
	assert.Equal(t, payroll.EmployeeID("E-2"), without[0].ID)
}

func TestSQLite_PolicyRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePolicyGroup(ctx, payroll.PolicyGroup{
		ID: "late", DeductionRule: payroll.RuleBiggest, ResetDurationDays: 30,
	}))
	require.NoError(t, store.SavePolicy(ctx, payroll.PenaltyPolicy{
		ID: "late-1", Company: "ACME", GroupID: "late", Subgroup: payroll.SubgroupCheckIn,
		OccurrenceNumber: 1, ToleranceDuration: 15 * time.Minute,
		DeductionInDays: decimal.RequireFromString("0.5"), DeductionAmount: decimal.NewFromInt(20),
		Designations: payroll.DesignationSet("Clerk", "Driver"), Enabled: true,
	}))
	require.NoError(t, store.SavePolicy(ctx, payroll.PenaltyPolicy{
		ID: "late-off", Company: "ACME", GroupID: "late", Subgroup: payroll.SubgroupCheckIn,
		OccurrenceNumber: 1, Enabled: false,
	}))

	policies, err := store.ListEnabledPolicies(ctx, "ACME")
	require.NoError(t, err)
	require.Len(t, policies, 1)
	p := policies[0]
	assert.Equal(t, 15*time.Minute, p.ToleranceDuration)
	assert.True(t, p.DeductionInDays.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, p.AppliesTo("Driver"))
	assert.False(t, p.AppliesTo("Manager"))

	groups, err := store.ListPolicyGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 30, groups[0].ResetDurationDays)
}

func TestSQLite_PenaltyWindowCount(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, day := range []string{"2022-01-01", "2022-01-10", "2022-02-09"} {
		require.NoError(t, store.CreatePenaltyRecord(ctx, &payroll.PenaltyRecord{
			Employee: "E-1", PolicyID: "late-1", GroupID: "late", Subgroup: payroll.SubgroupCheckIn,
			Date: payroll.MustParseDate(day), OccurrenceNumber: 1,
		}))
	}

	count, err := store.CountPenaltyRecords(ctx, payroll.PenaltyFilter{
		Employee:    "E-1",
		Subgroup:    payroll.SubgroupCheckIn,
		From:        payroll.MustParseDate("2022-01-10"),
		To:          payroll.MustParseDate("2022-02-09"),
		ToExclusive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLite_TimesheetLogsAndDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ts := &payroll.Timesheet{Employee: "E-1", Company: "ACME", BatchID: "B-1"}
	require.NoError(t, store.CreateTimesheet(ctx, ts))
	require.NoError(t, store.AppendTimeLog(ctx, ts.ID, payroll.TimeLog{
		Date: payroll.MustParseDate("2022-10-03"), Hours: decimal.RequireFromString("7.5"), ActivityType: "Execution",
	}))
	require.NoError(t, store.AppendTimeLog(ctx, ts.ID, payroll.TimeLog{
		Date: payroll.MustParseDate("2022-10-04"), Hours: decimal.NewFromInt(8), ActivityType: "Execution",
	}))

	got, err := store.GetTimesheet(ctx, ts.ID)
	require.NoError(t, err)
	require.Len(t, got.Logs, 2)
	assert.True(t, got.TotalHours().Equal(decimal.RequireFromString("15.5")))

	require.NoError(t, store.DeleteTimesheet(ctx, ts.ID))
	_, err = store.GetTimesheet(ctx, ts.ID)
	assert.ErrorIs(t, err, payroll.ErrNotFound)

	err = store.AppendTimeLog(ctx, ts.ID, payroll.TimeLog{Date: payroll.MustParseDate("2022-10-05")})
	assert.ErrorIs(t, err, payroll.ErrNotFound)
}

func TestSQLite_DeductionsRequirePositiveAmount(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.CreateDeduction(ctx, &payroll.Deduction{
		Employee: "E-1", Company: "ACME", Date: payroll.MustParseDate("2022-10-03"), Amount: decimal.Zero,
	})
	assert.ErrorIs(t, err, payroll.ErrInvalidRecord)

	d := &payroll.Deduction{
		Employee: "E-1", Company: "ACME", Date: payroll.MustParseDate("2022-10-03"),
		Amount: decimal.NewFromInt(20), PenaltyRecordID: "PR-1", BatchID: "B-1",
	}
	require.NoError(t, store.CreateDeduction(ctx, d))

	byRecord, err := store.ListDeductions(ctx, payroll.DeductionFilter{PenaltyRecordID: "PR-1"})
	require.NoError(t, err)
	require.Len(t, byRecord, 1)
	assert.True(t, byRecord[0].Amount.Equal(decimal.NewFromInt(20)))
}

func TestSQLite_ActionLogsNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, action := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendActionLog(ctx, &payroll.ActionLog{Action: action, ActionType: "Batch"}))
	}

	logs, err := store.ListActionLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "third", logs[0].Action)
	assert.Equal(t, "second", logs[1].Action)
}
