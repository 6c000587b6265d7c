/*
Package sqlite provides a SQLite-backed implementation of the Record Store.

PURPOSE:
  Implements payroll.Store using SQLite. Every create, update and delete is a
  single statement and therefore its own durable point, which is the
  contract the batch checkpointing relies on.

KEY TABLES:
  batches, checkpoints:        Batch lifecycle and resume markers
  employees, payroll_changelog: Current and historical payroll attributes
  penalty_policy_groups,
  penalty_policies, shift_types: Catalog and shift configuration
  attendance:                  Auto-attendance output, enriched by the batch
  timesheets, time_logs,
  penalty_records, deductions: Batch outputs
  action_logs:                 Audit sink

ORDERING:
  Tables whose rows must be replayed in write order carry an AUTOINCREMENT
  seq column (checkpoints, changelog, penalty records, time logs).

WAL MODE:
  File databases are opened with WAL. ":memory:" databases are pinned to one
  connection, otherwise every pooled connection would see its own database.

MIGRATION:
  Schema is managed by goose. migrations/ is embedded and applied on New().
  `lavado migrate` runs the same migrations against a configured path.

USAGE:
  store, err := sqlite.New("./data/lavado.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Store implements payroll.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ payroll.Store = (*Store)(nil)

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	store, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open opens the database without touching the schema.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath + "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every pending migration.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := setupGoose(); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

// Rollback reverts the most recent migration.
func (s *Store) Rollback(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := setupGoose(); err != nil {
		return err
	}
	return goose.DownContext(ctx, s.db, "migrations")
}

// Version returns the applied schema version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := setupGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}

func setupGoose() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect("sqlite3")
}

// =============================================================================
// BATCHES
// =============================================================================

func (s *Store) CreateBatch(ctx context.Context, b *payroll.Batch) error {
	if err := payroll.Validate(b); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = payroll.BatchID(uuid.NewString())
	}
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, company, start_date, end_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), string(b.Company), b.StartDate.String(), b.EndDate.String(),
		string(b.Status), formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	return err
}

const batchColumns = `id, company, start_date, end_date, status, created_at, updated_at`

func (s *Store) GetBatch(ctx context.Context, id payroll.BatchID) (*payroll.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, string(id))
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, payroll.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBatches(ctx context.Context, filter payroll.BatchFilter) ([]payroll.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.Company != "" {
		where = append(where, "company = ?")
		args = append(args, string(filter.Company))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches`+whereClause(where)+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []payroll.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *Store) UpdateBatchStatus(ctx context.Context, id payroll.BatchID, status payroll.BatchStatus) error {
	if !status.IsValid() {
		return &payroll.ValidationError{Record: "Batch", Err: fmt.Errorf("unknown status %q", status)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE batches SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), string(id))
	if err != nil {
		return err
	}
	return requireAffected(res, "batch", string(id))
}

func scanBatch(row scanner) (payroll.Batch, error) {
	var b payroll.Batch
	var id, company, start, end, status, createdAt, updatedAt string
	if err := row.Scan(&id, &company, &start, &end, &status, &createdAt, &updatedAt); err != nil {
		return b, err
	}
	b.ID = payroll.BatchID(id)
	b.Company = payroll.CompanyID(company)
	b.StartDate = parseDate(start)
	b.EndDate = parseDate(end)
	b.Status = payroll.BatchStatus(status)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

func (s *Store) CreateCheckpoint(ctx context.Context, c *payroll.Checkpoint) error {
	if err := payroll.Validate(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, batch_id, object_type, object_id, employee_id, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.BatchID), string(c.ObjectType), c.ObjectID, string(c.EmployeeID),
		c.Status, c.Notes, formatTime(c.CreatedAt),
	)
	if err != nil {
		return err
	}
	c.Seq, err = res.LastInsertId()
	return err
}

const checkpointColumns = `seq, id, batch_id, object_type, object_id, employee_id, status, notes, created_at`

func (s *Store) ListCheckpoints(ctx context.Context, filter payroll.CheckpointFilter) ([]payroll.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"batch_id = ?"}
	args := []any{string(filter.BatchID)}
	if filter.ObjectType != "" {
		where = append(where, "object_type = ?")
		args = append(args, string(filter.ObjectType))
	}
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, string(filter.EmployeeID))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints`+whereClause(where)+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []payroll.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, rows.Err()
}

func (s *Store) LastCheckpoint(ctx context.Context, batchID payroll.BatchID, objectType payroll.ObjectType) (*payroll.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE batch_id = ? AND object_type = ?
		ORDER BY seq DESC LIMIT 1`,
		string(batchID), string(objectType))
	c, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s checkpoint of batch %s: %w", objectType, batchID, payroll.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCheckpointStatus(ctx context.Context, id string, status, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE checkpoints SET status = ?, notes = ? WHERE id = ?`, status, notes, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "checkpoint", id)
}

func (s *Store) DeleteCheckpoint(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "checkpoints", id)
}

func scanCheckpoint(row scanner) (payroll.Checkpoint, error) {
	var c payroll.Checkpoint
	var batchID, objectType, employeeID, createdAt string
	if err := row.Scan(&c.Seq, &c.ID, &batchID, &objectType, &c.ObjectID, &employeeID,
		&c.Status, &c.Notes, &createdAt); err != nil {
		return c, err
	}
	c.BatchID = payroll.BatchID(batchID)
	c.ObjectType = payroll.ObjectType(objectType)
	c.EmployeeID = payroll.EmployeeID(employeeID)
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// =============================================================================
// EMPLOYEES + CHANGELOG
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e payroll.Employee) error {
	if err := payroll.Validate(e); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ModifiedAt.IsZero() {
		e.ModifiedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO employees
			(id, company, name, designation, shift_type, salary_structure_assignment,
			 hourly_rate, joining_date, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.Company), e.Name, e.Designation, e.ShiftType,
		e.SalaryStructureAssignment, e.HourlyRate.String(), nullDate(e.JoiningDate),
		formatTime(e.ModifiedAt),
	)
	return err
}

const employeeColumns = `id, company, name, designation, shift_type, salary_structure_assignment,
	hourly_rate, joining_date, modified_at`

func (s *Store) ListEmployees(ctx context.Context, company payroll.CompanyID) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEmployees(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE company = ? ORDER BY id`, string(company))
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]payroll.Employee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []payroll.Employee
	for rows.Next() {
		var e payroll.Employee
		var id, company, rate, modifiedAt string
		var joining sql.NullString
		if err := rows.Scan(&id, &company, &e.Name, &e.Designation, &e.ShiftType,
			&e.SalaryStructureAssignment, &rate, &joining, &modifiedAt); err != nil {
			return nil, err
		}
		e.ID = payroll.EmployeeID(id)
		e.Company = payroll.CompanyID(company)
		e.HourlyRate = parseDecimal(rate)
		e.JoiningDate = parseDate(joining.String)
		e.ModifiedAt = parseTime(modifiedAt)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func (s *Store) AppendChangelog(ctx context.Context, e *payroll.ChangelogEntry) error {
	if err := payroll.Validate(e); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_changelog
			(id, employee_id, company, change_date, designation, shift_type,
			 salary_structure_assignment, hourly_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Employee), string(e.Company), e.ChangeDate.String(), e.Designation,
		e.ShiftType, e.SalaryStructureAssignment, e.HourlyRate.String(),
	)
	if err != nil {
		return err
	}
	e.Seq, err = res.LastInsertId()
	return err
}

func (s *Store) ListChangelog(ctx context.Context, employee payroll.EmployeeID, maxDate payroll.TimePoint) ([]payroll.ChangelogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, employee_id, company, change_date, designation, shift_type,
		       salary_structure_assignment, hourly_rate
		FROM payroll_changelog
		WHERE employee_id = ? AND change_date <= ?
		ORDER BY change_date, seq`,
		string(employee), maxDate.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []payroll.ChangelogEntry
	for rows.Next() {
		var e payroll.ChangelogEntry
		var emp, company, changeDate, rate string
		if err := rows.Scan(&e.Seq, &e.ID, &emp, &company, &changeDate, &e.Designation,
			&e.ShiftType, &e.SalaryStructureAssignment, &rate); err != nil {
			return nil, err
		}
		e.Employee = payroll.EmployeeID(emp)
		e.Company = payroll.CompanyID(company)
		e.ChangeDate = parseDate(changeDate)
		e.HourlyRate = parseDecimal(rate)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) EmployeesWithoutChangelog(ctx context.Context, company payroll.CompanyID) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEmployees(ctx, `
		SELECT `+employeeColumns+` FROM employees e
		WHERE e.company = ?
		  AND NOT EXISTS (SELECT 1 FROM payroll_changelog c WHERE c.employee_id = e.id)
		ORDER BY e.id`, string(company))
}

// =============================================================================
// POLICIES + SHIFTS
// =============================================================================

func (s *Store) SavePolicyGroup(ctx context.Context, g payroll.PolicyGroup) error {
	if err := payroll.Validate(g); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO penalty_policy_groups (id, title, deduction_rule, reset_duration_days)
		VALUES (?, ?, ?, ?)`,
		string(g.ID), g.Title, string(g.DeductionRule), g.ResetDurationDays)
	return err
}

func (s *Store) SavePolicy(ctx context.Context, p payroll.PenaltyPolicy) error {
	if err := payroll.Validate(p); err != nil {
		return err
	}
	designations := make([]string, 0, len(p.Designations))
	for d := range p.Designations {
		designations = append(designations, d)
	}
	sort.Strings(designations)
	designationsJSON, err := json.Marshal(designations)
	if err != nil {
		return fmt.Errorf("failed to marshal designations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO penalty_policies
			(id, title, company, group_id, subgroup, occurrence_number, tolerance_ns,
			 deduction_in_days, deduction_amount, designations_json, enabled, activation_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), p.Title, string(p.Company), string(p.GroupID), string(p.Subgroup),
		p.OccurrenceNumber, int64(p.ToleranceDuration), p.DeductionInDays.String(),
		p.DeductionAmount.String(), string(designationsJSON), p.Enabled, nullDate(p.ActivationDate),
	)
	return err
}

func (s *Store) ListPolicyGroups(ctx context.Context) ([]payroll.PolicyGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, deduction_rule, reset_duration_days FROM penalty_policy_groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []payroll.PolicyGroup
	for rows.Next() {
		var g payroll.PolicyGroup
		var id, rule string
		if err := rows.Scan(&id, &g.Title, &rule, &g.ResetDurationDays); err != nil {
			return nil, err
		}
		g.ID = payroll.GroupID(id)
		g.DeductionRule = payroll.DeductionRule(rule)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) ListEnabledPolicies(ctx context.Context, company payroll.CompanyID) ([]payroll.PenaltyPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, company, group_id, subgroup, occurrence_number, tolerance_ns,
		       deduction_in_days, deduction_amount, designations_json, enabled, activation_date
		FROM penalty_policies
		WHERE company = ? AND enabled = 1`, string(company))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []payroll.PenaltyPolicy
	for rows.Next() {
		var p payroll.PenaltyPolicy
		var id, comp, group, subgroup, inDays, amount, designationsJSON string
		var tolerance int64
		var activation sql.NullString
		if err := rows.Scan(&id, &p.Title, &comp, &group, &subgroup, &p.OccurrenceNumber,
			&tolerance, &inDays, &amount, &designationsJSON, &p.Enabled, &activation); err != nil {
			return nil, err
		}
		var designations []string
		if err := json.Unmarshal([]byte(designationsJSON), &designations); err != nil {
			return nil, fmt.Errorf("policy %s: invalid designations: %w", id, err)
		}
		p.ID = payroll.PolicyID(id)
		p.Company = payroll.CompanyID(comp)
		p.GroupID = payroll.GroupID(group)
		p.Subgroup = payroll.Subgroup(subgroup)
		p.ToleranceDuration = time.Duration(tolerance)
		p.DeductionInDays = parseDecimal(inDays)
		p.DeductionAmount = parseDecimal(amount)
		p.Designations = payroll.DesignationSet(designations...)
		p.ActivationDate = parseDate(activation.String)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (s *Store) SaveShiftType(ctx context.Context, st payroll.ShiftType) error {
	if err := payroll.Validate(st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO shift_types
			(name, start_ns, end_ns, enable_auto_attendance, process_attendance_after, last_sync_of_checkin)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.Name, int64(st.Start), int64(st.End), st.EnableAutoAttendance,
		nullDate(st.ProcessAttendanceAfter), nullTime(st.LastSyncOfCheckin),
	)
	return err
}

func (s *Store) ListShiftTypes(ctx context.Context) ([]payroll.ShiftType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, start_ns, end_ns, enable_auto_attendance, process_attendance_after, last_sync_of_checkin
		FROM shift_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []payroll.ShiftType
	for rows.Next() {
		var st payroll.ShiftType
		var start, end int64
		var after, lastSync sql.NullString
		if err := rows.Scan(&st.Name, &start, &end, &st.EnableAutoAttendance, &after, &lastSync); err != nil {
			return nil, err
		}
		st.Start = time.Duration(start)
		st.End = time.Duration(end)
		st.ProcessAttendanceAfter = parseDate(after.String)
		st.LastSyncOfCheckin = parseTime(lastSync.String)
		shifts = append(shifts, st)
	}
	return shifts, rows.Err()
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (s *Store) SaveAttendance(ctx context.Context, a *payroll.Attendance) error {
	if err := payroll.Validate(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance
			(id, employee_id, company, date, status, in_time, out_time, late_entry, early_exit,
			 entry_gap_ns, exit_gap_ns, working_hours_ns, planned_working_hours_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Employee), string(a.Company), a.Date.String(), string(a.Status),
		nullTime(a.InTime), nullTime(a.OutTime), a.LateEntry, a.EarlyExit,
		int64(a.EntryGap), int64(a.ExitGap), int64(a.WorkingHours), int64(a.PlannedWorkingHours),
	)
	return err
}

func (s *Store) ListAttendance(ctx context.Context, employee payroll.EmployeeID, period payroll.Period) ([]payroll.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, company, date, status, in_time, out_time, late_entry, early_exit,
		       entry_gap_ns, exit_gap_ns, working_hours_ns, planned_working_hours_ns
		FROM attendance
		WHERE employee_id = ? AND date >= ? AND date <= ?
		ORDER BY date, id`,
		string(employee), period.Start.String(), period.End.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payroll.Attendance
	for rows.Next() {
		var a payroll.Attendance
		var emp, company, date, status string
		var inTime, outTime sql.NullString
		var entryGap, exitGap, working, planned int64
		if err := rows.Scan(&a.ID, &emp, &company, &date, &status, &inTime, &outTime,
			&a.LateEntry, &a.EarlyExit, &entryGap, &exitGap, &working, &planned); err != nil {
			return nil, err
		}
		a.Employee = payroll.EmployeeID(emp)
		a.Company = payroll.CompanyID(company)
		a.Date = parseDate(date)
		a.Status = payroll.AttendanceStatus(status)
		a.InTime = parseTime(inTime.String)
		a.OutTime = parseTime(outTime.String)
		a.EntryGap = time.Duration(entryGap)
		a.ExitGap = time.Duration(exitGap)
		a.WorkingHours = time.Duration(working)
		a.PlannedWorkingHours = time.Duration(planned)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) UpdateAttendance(ctx context.Context, a payroll.Attendance) error {
	if err := payroll.Validate(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance SET
			status = ?, in_time = ?, out_time = ?, late_entry = ?, early_exit = ?,
			entry_gap_ns = ?, exit_gap_ns = ?, working_hours_ns = ?, planned_working_hours_ns = ?
		WHERE id = ?`,
		string(a.Status), nullTime(a.InTime), nullTime(a.OutTime), a.LateEntry, a.EarlyExit,
		int64(a.EntryGap), int64(a.ExitGap), int64(a.WorkingHours), int64(a.PlannedWorkingHours), a.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "attendance", a.ID)
}

// =============================================================================
// TIMESHEETS
// =============================================================================

func (s *Store) CreateTimesheet(ctx context.Context, t *payroll.Timesheet) error {
	if err := payroll.Validate(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO timesheets (id, employee_id, company, batch_id) VALUES (?, ?, ?, ?)`,
		t.ID, string(t.Employee), string(t.Company), string(t.BatchID)); err != nil {
		return err
	}
	for _, log := range t.Logs {
		if err := insertTimeLog(ctx, tx, t.ID, log); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AppendTimeLog(ctx context.Context, timesheetID string, log payroll.TimeLog) error {
	if err := payroll.Validate(log); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM timesheets WHERE id = ?`, timesheetID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("timesheet %s: %w", timesheetID, payroll.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return insertTimeLog(ctx, s.db, timesheetID, log)
}

func insertTimeLog(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, timesheetID string, log payroll.TimeLog) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO time_logs (timesheet_id, date, hours, activity_type) VALUES (?, ?, ?, ?)`,
		timesheetID, log.Date.String(), log.Hours.String(), log.ActivityType)
	return err
}

func (s *Store) GetTimesheet(ctx context.Context, id string) (*payroll.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sheets, err := s.queryTimesheets(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("timesheet %s: %w", id, payroll.ErrNotFound)
	}
	return &sheets[0], nil
}

func (s *Store) ListTimesheets(ctx context.Context, batchID payroll.BatchID) ([]payroll.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTimesheets(ctx, `WHERE batch_id = ?`, string(batchID))
}

func (s *Store) queryTimesheets(ctx context.Context, where string, args ...any) ([]payroll.Timesheet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, employee_id, company, batch_id FROM timesheets `+where+` ORDER BY employee_id`, args...)
	if err != nil {
		return nil, err
	}
	var sheets []payroll.Timesheet
	for rows.Next() {
		var t payroll.Timesheet
		var emp, company, batchID string
		if err := rows.Scan(&t.ID, &emp, &company, &batchID); err != nil {
			rows.Close()
			return nil, err
		}
		t.Employee = payroll.EmployeeID(emp)
		t.Company = payroll.CompanyID(company)
		t.BatchID = payroll.BatchID(batchID)
		sheets = append(sheets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sheets {
		logs, err := s.queryTimeLogs(ctx, sheets[i].ID)
		if err != nil {
			return nil, err
		}
		sheets[i].Logs = logs
	}
	return sheets, nil
}

func (s *Store) queryTimeLogs(ctx context.Context, timesheetID string) ([]payroll.TimeLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, hours, activity_type FROM time_logs WHERE timesheet_id = ? ORDER BY seq`, timesheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []payroll.TimeLog
	for rows.Next() {
		var l payroll.TimeLog
		var date, hours string
		if err := rows.Scan(&date, &hours, &l.ActivityType); err != nil {
			return nil, err
		}
		l.Date = parseDate(date)
		l.Hours = parseDecimal(hours)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Store) DeleteTimesheet(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "timesheets", id)
}

// =============================================================================
// PENALTY RECORDS
// =============================================================================

func (s *Store) CreatePenaltyRecord(ctx context.Context, r *payroll.PenaltyRecord) error {
	if err := payroll.Validate(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO penalty_records
			(id, employee_id, policy_id, group_id, subgroup, date, occurrence_number, amount, batch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Employee), string(r.PolicyID), string(r.GroupID), string(r.Subgroup),
		r.Date.String(), r.OccurrenceNumber, r.Amount.String(), string(r.BatchID), formatTime(r.CreatedAt),
	)
	return err
}

func (s *Store) UpdatePenaltyRecord(ctx context.Context, r payroll.PenaltyRecord) error {
	if err := payroll.Validate(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE penalty_records SET
			employee_id = ?, policy_id = ?, group_id = ?, subgroup = ?, date = ?,
			occurrence_number = ?, amount = ?, batch_id = ?
		WHERE id = ?`,
		string(r.Employee), string(r.PolicyID), string(r.GroupID), string(r.Subgroup), r.Date.String(),
		r.OccurrenceNumber, r.Amount.String(), string(r.BatchID), r.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "penalty record", r.ID)
}

func penaltyWhere(filter payroll.PenaltyFilter) (string, []any) {
	var where []string
	var args []any
	if filter.Employee != "" {
		where = append(where, "employee_id = ?")
		args = append(args, string(filter.Employee))
	}
	if filter.Subgroup != "" {
		where = append(where, "subgroup = ?")
		args = append(args, string(filter.Subgroup))
	}
	if filter.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, string(filter.BatchID))
	}
	if !filter.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, filter.From.String())
	}
	if !filter.To.IsZero() {
		if filter.ToExclusive {
			where = append(where, "date < ?")
		} else {
			where = append(where, "date <= ?")
		}
		args = append(args, filter.To.String())
	}
	return whereClause(where), args
}

func (s *Store) ListPenaltyRecords(ctx context.Context, filter payroll.PenaltyFilter) ([]payroll.PenaltyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := penaltyWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, policy_id, group_id, subgroup, date, occurrence_number, amount, batch_id, created_at
		FROM penalty_records`+where+` ORDER BY date, seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []payroll.PenaltyRecord
	for rows.Next() {
		var r payroll.PenaltyRecord
		var emp, policy, group, subgroup, date, amount, batchID, createdAt string
		if err := rows.Scan(&r.ID, &emp, &policy, &group, &subgroup, &date, &r.OccurrenceNumber,
			&amount, &batchID, &createdAt); err != nil {
			return nil, err
		}
		r.Employee = payroll.EmployeeID(emp)
		r.PolicyID = payroll.PolicyID(policy)
		r.GroupID = payroll.GroupID(group)
		r.Subgroup = payroll.Subgroup(subgroup)
		r.Date = parseDate(date)
		r.Amount = parseDecimal(amount)
		r.BatchID = payroll.BatchID(batchID)
		r.CreatedAt = parseTime(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) CountPenaltyRecords(ctx context.Context, filter payroll.PenaltyFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := penaltyWhere(filter)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM penalty_records`+where, args...).Scan(&count)
	return count, err
}

func (s *Store) DeletePenaltyRecord(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "penalty_records", id)
}

// =============================================================================
// DEDUCTIONS
// =============================================================================

func (s *Store) CreateDeduction(ctx context.Context, d *payroll.Deduction) error {
	if err := payroll.Validate(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deductions (id, employee_id, company, date, amount, reason, penalty_record_id, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, string(d.Employee), string(d.Company), d.Date.String(), d.Amount.String(),
		d.Reason, d.PenaltyRecordID, string(d.BatchID),
	)
	return err
}

func (s *Store) UpdateDeduction(ctx context.Context, d payroll.Deduction) error {
	if err := payroll.Validate(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE deductions SET
			employee_id = ?, company = ?, date = ?, amount = ?, reason = ?, penalty_record_id = ?, batch_id = ?
		WHERE id = ?`,
		string(d.Employee), string(d.Company), d.Date.String(), d.Amount.String(), d.Reason,
		d.PenaltyRecordID, string(d.BatchID), d.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "deduction", d.ID)
}

func (s *Store) ListDeductions(ctx context.Context, filter payroll.DeductionFilter) ([]payroll.Deduction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, string(filter.BatchID))
	}
	if filter.PenaltyRecordID != "" {
		where = append(where, "penalty_record_id = ?")
		args = append(args, filter.PenaltyRecordID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, company, date, amount, reason, penalty_record_id, batch_id
		FROM deductions`+whereClause(where)+` ORDER BY date, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deductions []payroll.Deduction
	for rows.Next() {
		var d payroll.Deduction
		var emp, company, date, amount, batchID string
		if err := rows.Scan(&d.ID, &emp, &company, &date, &amount, &d.Reason,
			&d.PenaltyRecordID, &batchID); err != nil {
			return nil, err
		}
		d.Employee = payroll.EmployeeID(emp)
		d.Company = payroll.CompanyID(company)
		d.Date = parseDate(date)
		d.Amount = parseDecimal(amount)
		d.BatchID = payroll.BatchID(batchID)
		deductions = append(deductions, d)
	}
	return deductions, rows.Err()
}

func (s *Store) DeleteDeduction(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "deductions", id)
}

// =============================================================================
// ACTION LOG
// =============================================================================

func (s *Store) AppendActionLog(ctx context.Context, entry *payroll.ActionLog) error {
	if err := payroll.Validate(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_logs (id, timestamp, action, action_type, notes) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, formatTime(entry.Timestamp), entry.Action, entry.ActionType, entry.Notes)
	return err
}

func (s *Store) ListActionLogs(ctx context.Context, limit int) ([]payroll.ActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, action, action_type, notes FROM action_logs ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []payroll.ActionLog
	for rows.Next() {
		var l payroll.ActionLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.ActionType, &l.Notes); err != nil {
			return nil, err
		}
		l.Timestamp = parseTime(ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	return err
}

func requireAffected(res sql.Result, record, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", record, id, payroll.ErrNotFound)
	}
	return nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullDate(tp payroll.TimePoint) sql.NullString {
	if tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func parseDate(s string) payroll.TimePoint {
	if s == "" {
		return payroll.TimePoint{}
	}
	tp, _ := payroll.ParseDate(s)
	return tp
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
