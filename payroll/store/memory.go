// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu  sync.RWMutex
	seq int64
	now func() time.Time

	batches     map[payroll.BatchID]payroll.Batch
	checkpoints map[string]payroll.Checkpoint
	employees   map[payroll.EmployeeID]payroll.Employee
	changelog   []payroll.ChangelogEntry
	groups      map[payroll.GroupID]payroll.PolicyGroup
	policies    map[payroll.PolicyID]payroll.PenaltyPolicy
	shifts      map[string]payroll.ShiftType
	attendance  map[string]payroll.Attendance
	timesheets  map[string]payroll.Timesheet
	penalties   map[string]payroll.PenaltyRecord
	deductions  map[string]payroll.Deduction
	actionLogs  []payroll.ActionLog
}

var _ payroll.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		now:         func() time.Time { return time.Now().UTC() },
		batches:     make(map[payroll.BatchID]payroll.Batch),
		checkpoints: make(map[string]payroll.Checkpoint),
		employees:   make(map[payroll.EmployeeID]payroll.Employee),
		groups:      make(map[payroll.GroupID]payroll.PolicyGroup),
		policies:    make(map[payroll.PolicyID]payroll.PenaltyPolicy),
		shifts:      make(map[string]payroll.ShiftType),
		attendance:  make(map[string]payroll.Attendance),
		timesheets:  make(map[string]payroll.Timesheet),
		penalties:   make(map[string]payroll.PenaltyRecord),
		deductions:  make(map[string]payroll.Deduction),
	}
}

func (m *Memory) nextSeq() int64 {
	m.seq++
	return m.seq
}

// stamp returns a strictly increasing timestamp so CreatedAt ordering matches
// write order even when the clock does not advance between writes.
func (m *Memory) stamp() time.Time {
	return m.now().Add(time.Duration(m.nextSeq()))
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) CreateBatch(_ context.Context, b *payroll.Batch) error {
	if err := payroll.Validate(b); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b.ID = payroll.BatchID(newID(string(b.ID)))
	if _, exists := m.batches[b.ID]; exists {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	b.CreatedAt = m.stamp()
	b.UpdatedAt = b.CreatedAt
	m.batches[b.ID] = *b
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id payroll.BatchID) (*payroll.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, payroll.ErrNotFound)
	}
	return &b, nil
}

func (m *Memory) ListBatches(_ context.Context, filter payroll.BatchFilter) ([]payroll.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payroll.Batch
	for _, b := range m.batches {
		if filter.Company != "" && b.Company != filter.Company {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) UpdateBatchStatus(_ context.Context, id payroll.BatchID, status payroll.BatchStatus) error {
	if !status.IsValid() {
		return &payroll.ValidationError{Record: "Batch", Err: fmt.Errorf("unknown status %q", status)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, payroll.ErrNotFound)
	}
	b.Status = status
	b.UpdatedAt = m.stamp()
	m.batches[id] = b
	return nil
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

func (m *Memory) CreateCheckpoint(_ context.Context, c *payroll.Checkpoint) error {
	if err := payroll.Validate(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = newID(c.ID)
	c.Seq = m.nextSeq()
	c.CreatedAt = m.now()
	m.checkpoints[c.ID] = *c
	return nil
}

func (m *Memory) ListCheckpoints(_ context.Context, filter payroll.CheckpointFilter) ([]payroll.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payroll.Checkpoint
	for _, c := range m.checkpoints {
		if c.BatchID != filter.BatchID {
			continue
		}
		if filter.ObjectType != "" && c.ObjectType != filter.ObjectType {
			continue
		}
		if filter.EmployeeID != "" && c.EmployeeID != filter.EmployeeID {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (m *Memory) LastCheckpoint(ctx context.Context, batchID payroll.BatchID, objectType payroll.ObjectType) (*payroll.Checkpoint, error) {
	all, err := m.ListCheckpoints(ctx, payroll.CheckpointFilter{BatchID: batchID, ObjectType: objectType})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%s checkpoint of batch %s: %w", objectType, batchID, payroll.ErrNotFound)
	}
	last := all[len(all)-1]
	return &last, nil
}

func (m *Memory) UpdateCheckpointStatus(_ context.Context, id string, status, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkpoints[id]
	if !ok {
		return fmt.Errorf("checkpoint %s: %w", id, payroll.ErrNotFound)
	}
	c.Status = status
	c.Notes = notes
	m.checkpoints[id] = c
	return nil
}

func (m *Memory) DeleteCheckpoint(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, id)
	return nil
}

// =============================================================================
// EMPLOYEES + CHANGELOG
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e payroll.Employee) error {
	if err := payroll.Validate(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ModifiedAt.IsZero() {
		e.ModifiedAt = m.now()
	}
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) ListEmployees(_ context.Context, company payroll.CompanyID) ([]payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.employeesLocked(company, func(payroll.Employee) bool { return true }), nil
}

func (m *Memory) employeesLocked(company payroll.CompanyID, keep func(payroll.Employee) bool) []payroll.Employee {
	var result []payroll.Employee
	for _, e := range m.employees {
		if e.Company == company && keep(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *Memory) AppendChangelog(_ context.Context, e *payroll.ChangelogEntry) error {
	if err := payroll.Validate(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = newID(e.ID)
	e.Seq = m.nextSeq()
	m.changelog = append(m.changelog, *e)
	return nil
}

func (m *Memory) ListChangelog(_ context.Context, employee payroll.EmployeeID, maxDate payroll.TimePoint) ([]payroll.ChangelogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payroll.ChangelogEntry
	for _, e := range m.changelog {
		if e.Employee == employee && e.ChangeDate.BeforeOrEqual(maxDate) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].ChangeDate.Equal(result[j].ChangeDate) {
			return result[i].ChangeDate.Before(result[j].ChangeDate)
		}
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

func (m *Memory) EmployeesWithoutChangelog(_ context.Context, company payroll.CompanyID) ([]payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logged := make(map[payroll.EmployeeID]bool)
	for _, e := range m.changelog {
		logged[e.Employee] = true
	}
	return m.employeesLocked(company, func(e payroll.Employee) bool { return !logged[e.ID] }), nil
}

// =============================================================================
// POLICIES + SHIFTS
// =============================================================================

func (m *Memory) SavePolicyGroup(_ context.Context, g payroll.PolicyGroup) error {
	if err := payroll.Validate(g); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g
	return nil
}

func (m *Memory) SavePolicy(_ context.Context, p payroll.PenaltyPolicy) error {
	if err := payroll.Validate(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	designations := make(map[string]struct{}, len(p.Designations))
	for d := range p.Designations {
		designations[d] = struct{}{}
	}
	p.Designations = designations
	m.policies[p.ID] = p
	return nil
}

func (m *Memory) ListPolicyGroups(_ context.Context) ([]payroll.PolicyGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payroll.PolicyGroup, 0, len(m.groups))
	for _, g := range m.groups {
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) ListEnabledPolicies(_ context.Context, company payroll.CompanyID) ([]payroll.PenaltyPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payroll.PenaltyPolicy
	for _, p := range m.policies {
		if p.Enabled && p.Company == company {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *Memory) SaveShiftType(_ context.Context, s payroll.ShiftType) error {
	if err := payroll.Validate(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shifts[s.Name] = s
	return nil
}

func (m *Memory) ListShiftTypes(_ context.Context) ([]payroll.ShiftType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payroll.ShiftType, 0, len(m.shifts))
	for _, s := range m.shifts {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (m *Memory) SaveAttendance(_ context.Context, a *payroll.Attendance) error {
	if err := payroll.Validate(a); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a.ID = newID(a.ID)
	m.attendance[a.ID] = *a
	return nil
}

func (m *Memory) ListAttendance(_ context.Context, employee payroll.EmployeeID, period payroll.Period) ([]payroll.Attendance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payroll.Attendance
	for _, a := range m.attendance {
		if a.Employee == employee && period.Contains(a.Date) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) UpdateAttendance(_ context.Context, a payroll.Attendance) error {
	if err := payroll.Validate(a); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attendance[a.ID]; !ok {
		return fmt.Errorf("attendance %s: %w", a.ID, payroll.ErrNotFound)
	}
	m.attendance[a.ID] = a
	return nil
}

// =============================================================================
// TIMESHEETS
// =============================================================================

func (m *Memory) CreateTimesheet(_ context.Context, t *payroll.Timesheet) error {
	if err := payroll.Validate(t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t.ID = newID(t.ID)
	stored := *t
	stored.Logs = append([]payroll.TimeLog(nil), t.Logs...)
	m.timesheets[t.ID] = stored
	return nil
}

func (m *Memory) AppendTimeLog(_ context.Context, timesheetID string, log payroll.TimeLog) error {
	if err := payroll.Validate(log); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timesheets[timesheetID]
	if !ok {
		return fmt.Errorf("timesheet %s: %w", timesheetID, payroll.ErrNotFound)
	}
	t.Logs = append(t.Logs, log)
	m.timesheets[timesheetID] = t
	return nil
}

func (m *Memory) GetTimesheet(_ context.Context, id string) (*payroll.Timesheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.timesheets[id]
	if !ok {
		return nil, fmt.Errorf("timesheet %s: %w", id, payroll.ErrNotFound)
	}
	t.Logs = append([]payroll.TimeLog(nil), t.Logs...)
	return &t, nil
}

func (m *Memory) ListTimesheets(_ context.Context, batchID payroll.BatchID) ([]payroll.Timesheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payroll.Timesheet
	for _, t := range m.timesheets {
		if t.BatchID == batchID {
			t.Logs = append([]payroll.TimeLog(nil), t.Logs...)
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Employee < result[j].Employee })
	return result, nil
}

func (m *Memory) DeleteTimesheet(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timesheets, id)
	return nil
}

// =============================================================================
// PENALTY RECORDS
// =============================================================================

func (m *Memory) CreatePenaltyRecord(_ context.Context, r *payroll.PenaltyRecord) error {
	if err := payroll.Validate(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = newID(r.ID)
	r.CreatedAt = m.stamp()
	m.penalties[r.ID] = *r
	return nil
}

func (m *Memory) UpdatePenaltyRecord(_ context.Context, r payroll.PenaltyRecord) error {
	if err := payroll.Validate(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.penalties[r.ID]
	if !ok {
		return fmt.Errorf("penalty record %s: %w", r.ID, payroll.ErrNotFound)
	}
	r.CreatedAt = existing.CreatedAt
	m.penalties[r.ID] = r
	return nil
}

func (m *Memory) ListPenaltyRecords(_ context.Context, filter payroll.PenaltyFilter) ([]payroll.PenaltyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.penaltiesLocked(filter), nil
}

func (m *Memory) CountPenaltyRecords(_ context.Context, filter payroll.PenaltyFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.penaltiesLocked(filter)), nil
}

func (m *Memory) penaltiesLocked(filter payroll.PenaltyFilter) []payroll.PenaltyRecord {
	var result []payroll.PenaltyRecord
	for _, r := range m.penalties {
		if filter.Employee != "" && r.Employee != filter.Employee {
			continue
		}
		if filter.Subgroup != "" && r.Subgroup != filter.Subgroup {
			continue
		}
		if filter.BatchID != "" && r.BatchID != filter.BatchID {
			continue
		}
		if !filter.From.IsZero() && r.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() {
			if filter.ToExclusive && !r.Date.Before(filter.To) {
				continue
			}
			if !filter.ToExclusive && r.Date.After(filter.To) {
				continue
			}
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (m *Memory) DeletePenaltyRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.penalties, id)
	return nil
}

// =============================================================================
// DEDUCTIONS
// =============================================================================

func (m *Memory) CreateDeduction(_ context.Context, d *payroll.Deduction) error {
	if err := payroll.Validate(d); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d.ID = newID(d.ID)
	m.deductions[d.ID] = *d
	return nil
}

func (m *Memory) UpdateDeduction(_ context.Context, d payroll.Deduction) error {
	if err := payroll.Validate(d); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deductions[d.ID]; !ok {
		return fmt.Errorf("deduction %s: %w", d.ID, payroll.ErrNotFound)
	}
	m.deductions[d.ID] = d
	return nil
}

func (m *Memory) ListDeductions(_ context.Context, filter payroll.DeductionFilter) ([]payroll.Deduction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payroll.Deduction
	for _, d := range m.deductions {
		if filter.BatchID != "" && d.BatchID != filter.BatchID {
			continue
		}
		if filter.PenaltyRecordID != "" && d.PenaltyRecordID != filter.PenaltyRecordID {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) DeleteDeduction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deductions, id)
	return nil
}

// =============================================================================
// ACTION LOG
// =============================================================================

func (m *Memory) AppendActionLog(_ context.Context, entry *payroll.ActionLog) error {
	if err := payroll.Validate(entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = newID(entry.ID)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	m.actionLogs = append(m.actionLogs, *entry)
	return nil
}

func (m *Memory) ListActionLogs(_ context.Context, limit int) ([]payroll.ActionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payroll.ActionLog, 0, len(m.actionLogs))
	for i := len(m.actionLogs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.actionLogs[i])
	}
	return result, nil
}
