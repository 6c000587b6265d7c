package factory_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

func TestLoadFile_ParsesRecords(t *testing.T) {
	f, err := factory.LoadFile("testdata/october.yml")
	require.NoError(t, err)

	assert.Equal(t, payroll.CompanyID("ACME"), f.Company)

	require.Len(t, f.ShiftTypes, 2)
	night := f.ShiftTypes[1]
	assert.Equal(t, 22*time.Hour, night.Start)
	assert.Equal(t, 6*time.Hour, night.End)
	assert.True(t, night.Overnight())
	assert.Equal(t, "2022-01-01", night.ProcessAttendanceAfter.String())
	assert.False(t, night.LastSyncOfCheckin.IsZero())

	require.Len(t, f.Policies, 4)
	first := f.Policies[0]
	assert.Equal(t, payroll.CompanyID("ACME"), first.Company)
	assert.Equal(t, 10*time.Minute, first.ToleranceDuration)
	assert.True(t, decimal.RequireFromString("0.5").Equal(first.DeductionInDays))
	assert.True(t, first.AppliesTo("Guard"))
	assert.True(t, first.Enabled)
	assert.False(t, f.Policies[3].Enabled)

	require.Len(t, f.Employees, 2)
	assert.True(t, decimal.NewFromInt(12).Equal(f.Employees[1].HourlyRate))

	require.Len(t, f.Attendance, 4)
	assert.Equal(t, payroll.AttendancePresent, f.Attendance[0].Status)
	assert.Equal(t, payroll.AttendanceAbsent, f.Attendance[2].Status)

	overnight := f.Attendance[3]
	assert.Equal(t, 7*time.Hour+55*time.Minute, overnight.OutTime.Sub(overnight.InTime))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing company", "shift_types: []"},
		{"bad clock", "company: A\nshift_types:\n  - name: Day\n    start: nine\n    end: \"17:00\""},
		{"bad tolerance", "company: A\npolicies:\n  - id: p\n    tolerance: soon"},
		{"bad amount", "company: A\nemployees:\n  - id: E-1\n    hourly_rate: ten"},
		{"bad date", "company: A\nattendance:\n  - employee: E-1\n    date: 03/10/2022"},
		{"not yaml", "company: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApply_DrivesBatchRun(t *testing.T) {
	// GIVEN the October fixture applied to an empty store
	ctx := context.Background()
	f, err := factory.LoadFile("testdata/october.yml")
	require.NoError(t, err)
	s := store.NewMemory()
	require.NoError(t, f.Apply(ctx, s))

	// WHEN the October batch runs
	log := logrus.New()
	log.SetOutput(io.Discard)
	b, err := batch.NewOrchestrator(s, log).Run(ctx, f.Company,
		payroll.MustParseDate("2022-10-01"), payroll.MustParseDate("2022-10-31"))
	require.NoError(t, err)

	// THEN the clerk escalates on the second late day and is fined for the absence
	records, err := s.ListPenaltyRecords(ctx, payroll.PenaltyFilter{Employee: "E-1"})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, payroll.PolicyID("late-10-first"), records[0].PolicyID)
	assert.True(t, decimal.NewFromInt(5).Equal(records[0].Amount))

	assert.Equal(t, payroll.PolicyID("late-10-repeat"), records[1].PolicyID)
	assert.Equal(t, 2, records[1].OccurrenceNumber)
	assert.True(t, decimal.NewFromInt(10).Equal(records[1].Amount))

	assert.Equal(t, payroll.PolicyID("absent"), records[2].PolicyID)
	assert.True(t, decimal.NewFromInt(80).Equal(records[2].Amount))

	// AND the guard, five minutes late on a night shift, is within tolerance
	guard, err := s.ListPenaltyRecords(ctx, payroll.PenaltyFilter{Employee: "E-2"})
	require.NoError(t, err)
	assert.Empty(t, guard)

	deductions, err := s.ListDeductions(ctx, payroll.DeductionFilter{BatchID: b.ID})
	require.NoError(t, err)
	total := decimal.Zero
	for _, d := range deductions {
		total = total.Add(d.Amount)
	}
	assert.True(t, decimal.NewFromInt(95).Equal(total), "got %s", total)
}
