/*
Package factory provides YAML to Go fixture conversion.

PURPOSE:
  Converts YAML definitions of a company's payroll setup into typed records
  and writes them to a Record Store. Penalty catalogs, shift types,
  employees and attendance can then be configured without code changes, and
  the same files drive local runs (`lavado seed`) and end-to-end tests.

YAML SCHEMA:
  company: ACME
  shift_types:
    - name: Day
      start: "09:00"
      end: "17:00"
      enable_auto_attendance: true
      process_attendance_after: 2022-01-01
      last_sync_of_checkin: 2022-11-01T00:00:00Z
  policy_groups:
    - id: late
      deduction_rule: Absolute Amount
      reset_duration_days: 30
  policies:
    - id: late-10
      group: late
      subgroup: attendance check-in
      occurrence: 1
      tolerance: 10m
      deduction_amount: "5"
      designations: [Clerk]
  employees:
    - id: E-1
      designation: Clerk
      shift_type: Day
      salary_structure_assignment: SSA-1
      hourly_rate: "10"
      joining_date: 2022-01-01
  attendance:
    - employee: E-1
      date: 2022-10-03
      in: "09:30"
      out: "17:00"
      late_entry: true

DEFAULTS:
  - policies are enabled unless `enabled: false`
  - attendance status is Present
  - company fields default to the top-level company

SEE ALSO:
  - cmd/lavado: `seed` command
  - payroll/validate.go: Records are validated again by the store
*/
package factory

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

type FixtureYAML struct {
	Company      string           `yaml:"company"`
	ShiftTypes   []ShiftYAML      `yaml:"shift_types"`
	PolicyGroups []GroupYAML      `yaml:"policy_groups"`
	Policies     []PolicyYAML     `yaml:"policies"`
	Employees    []EmployeeYAML   `yaml:"employees"`
	Changelog    []ChangelogYAML  `yaml:"changelog"`
	Attendance   []AttendanceYAML `yaml:"attendance"`
}

type ShiftYAML struct {
	Name                   string `yaml:"name"`
	Start                  string `yaml:"start"` // HH:MM
	End                    string `yaml:"end"`   // HH:MM, <= start crosses midnight
	EnableAutoAttendance   bool   `yaml:"enable_auto_attendance"`
	ProcessAttendanceAfter string `yaml:"process_attendance_after,omitempty"`
	LastSyncOfCheckin      string `yaml:"last_sync_of_checkin,omitempty"` // RFC 3339
}

type GroupYAML struct {
	ID                string `yaml:"id"`
	Title             string `yaml:"title,omitempty"`
	DeductionRule     string `yaml:"deduction_rule"`
	ResetDurationDays int    `yaml:"reset_duration_days"`
}

type PolicyYAML struct {
	ID              string   `yaml:"id"`
	Title           string   `yaml:"title,omitempty"`
	Company         string   `yaml:"company,omitempty"`
	Group           string   `yaml:"group"`
	Subgroup        string   `yaml:"subgroup"`
	Occurrence      int      `yaml:"occurrence"`
	Tolerance       string   `yaml:"tolerance,omitempty"` // Go duration
	DeductionInDays string   `yaml:"deduction_in_days,omitempty"`
	DeductionAmount string   `yaml:"deduction_amount,omitempty"`
	Designations    []string `yaml:"designations"`
	Enabled         *bool    `yaml:"enabled,omitempty"`
	ActivationDate  string   `yaml:"activation_date,omitempty"`
}

type EmployeeYAML struct {
	ID                        string `yaml:"id"`
	Company                   string `yaml:"company,omitempty"`
	Name                      string `yaml:"name,omitempty"`
	Designation               string `yaml:"designation"`
	ShiftType                 string `yaml:"shift_type"`
	SalaryStructureAssignment string `yaml:"salary_structure_assignment"`
	HourlyRate                string `yaml:"hourly_rate"`
	JoiningDate               string `yaml:"joining_date,omitempty"`
}

// ChangelogYAML seeds historical payroll attributes. Employees without any
// entry are bootstrapped by the batch from their current attributes.
type ChangelogYAML struct {
	Employee                  string `yaml:"employee"`
	ChangeDate                string `yaml:"change_date"`
	Designation               string `yaml:"designation"`
	ShiftType                 string `yaml:"shift_type"`
	SalaryStructureAssignment string `yaml:"salary_structure_assignment"`
	HourlyRate                string `yaml:"hourly_rate"`
}

type AttendanceYAML struct {
	Employee  string `yaml:"employee"`
	Date      string `yaml:"date"`
	Status    string `yaml:"status,omitempty"`
	In        string `yaml:"in,omitempty"`  // HH:MM
	Out       string `yaml:"out,omitempty"` // HH:MM, before In means next day
	LateEntry bool   `yaml:"late_entry,omitempty"`
	EarlyExit bool   `yaml:"early_exit,omitempty"`
}

// =============================================================================
// FIXTURE
// =============================================================================

// Fixture is a parsed company setup, ready to be written to a store.
type Fixture struct {
	Company    payroll.CompanyID
	ShiftTypes []payroll.ShiftType
	Groups     []payroll.PolicyGroup
	Policies   []payroll.PenaltyPolicy
	Employees  []payroll.Employee
	Changelog  []payroll.ChangelogEntry
	Attendance []payroll.Attendance
}

// LoadFile reads and parses a fixture file.
func LoadFile(path string) (*Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse parses a YAML fixture.
func Parse(b []byte) (*Fixture, error) {
	var fy FixtureYAML
	if err := yaml.Unmarshal(b, &fy); err != nil {
		return nil, fmt.Errorf("failed to parse fixture YAML: %w", err)
	}
	return FromYAML(fy)
}

// FromYAML converts the YAML schema into typed records.
func FromYAML(fy FixtureYAML) (*Fixture, error) {
	if fy.Company == "" {
		return nil, fmt.Errorf("fixture: company is required")
	}
	f := &Fixture{Company: payroll.CompanyID(fy.Company)}

	for _, sy := range fy.ShiftTypes {
		s, err := parseShift(sy)
		if err != nil {
			return nil, fmt.Errorf("shift type %q: %w", sy.Name, err)
		}
		f.ShiftTypes = append(f.ShiftTypes, s)
	}
	for _, gy := range fy.PolicyGroups {
		f.Groups = append(f.Groups, payroll.PolicyGroup{
			ID:                payroll.GroupID(gy.ID),
			Title:             gy.Title,
			DeductionRule:     payroll.DeductionRule(gy.DeductionRule),
			ResetDurationDays: gy.ResetDurationDays,
		})
	}
	for _, py := range fy.Policies {
		p, err := parsePolicy(py, f.Company)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", py.ID, err)
		}
		f.Policies = append(f.Policies, p)
	}
	for _, ey := range fy.Employees {
		e, err := parseEmployee(ey, f.Company)
		if err != nil {
			return nil, fmt.Errorf("employee %q: %w", ey.ID, err)
		}
		f.Employees = append(f.Employees, e)
	}
	for _, cy := range fy.Changelog {
		c, err := parseChangelog(cy, f.Company)
		if err != nil {
			return nil, fmt.Errorf("changelog of %q: %w", cy.Employee, err)
		}
		f.Changelog = append(f.Changelog, c)
	}
	for _, ay := range fy.Attendance {
		a, err := parseAttendance(ay, f.Company)
		if err != nil {
			return nil, fmt.Errorf("attendance of %q on %s: %w", ay.Employee, ay.Date, err)
		}
		f.Attendance = append(f.Attendance, a)
	}
	return f, nil
}

// Apply writes every record of the fixture to the store. Configuration is
// written before the employees and attendance that reference it.
func (f *Fixture) Apply(ctx context.Context, store payroll.Store) error {
	for _, s := range f.ShiftTypes {
		if err := store.SaveShiftType(ctx, s); err != nil {
			return err
		}
	}
	for _, g := range f.Groups {
		if err := store.SavePolicyGroup(ctx, g); err != nil {
			return err
		}
	}
	for _, p := range f.Policies {
		if err := store.SavePolicy(ctx, p); err != nil {
			return err
		}
	}
	for _, e := range f.Employees {
		if err := store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	for i := range f.Changelog {
		if err := store.AppendChangelog(ctx, &f.Changelog[i]); err != nil {
			return err
		}
	}
	for i := range f.Attendance {
		if err := store.SaveAttendance(ctx, &f.Attendance[i]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseShift(sy ShiftYAML) (payroll.ShiftType, error) {
	start, err := parseClock(sy.Start)
	if err != nil {
		return payroll.ShiftType{}, err
	}
	end, err := parseClock(sy.End)
	if err != nil {
		return payroll.ShiftType{}, err
	}
	s := payroll.ShiftType{
		Name:                 sy.Name,
		Start:                start,
		End:                  end,
		EnableAutoAttendance: sy.EnableAutoAttendance,
	}
	if s.ProcessAttendanceAfter, err = parseOptionalDate(sy.ProcessAttendanceAfter); err != nil {
		return payroll.ShiftType{}, err
	}
	if sy.LastSyncOfCheckin != "" {
		if s.LastSyncOfCheckin, err = time.Parse(time.RFC3339, sy.LastSyncOfCheckin); err != nil {
			return payroll.ShiftType{}, fmt.Errorf("invalid last_sync_of_checkin: %w", err)
		}
	}
	return s, nil
}

func parsePolicy(py PolicyYAML, company payroll.CompanyID) (payroll.PenaltyPolicy, error) {
	p := payroll.PenaltyPolicy{
		ID:               payroll.PolicyID(py.ID),
		Title:            py.Title,
		Company:          orCompany(py.Company, company),
		GroupID:          payroll.GroupID(py.Group),
		Subgroup:         payroll.Subgroup(py.Subgroup),
		OccurrenceNumber: py.Occurrence,
		Designations:     payroll.DesignationSet(py.Designations...),
		Enabled:          py.Enabled == nil || *py.Enabled,
	}
	if p.OccurrenceNumber == 0 {
		p.OccurrenceNumber = 1
	}

	var err error
	if py.Tolerance != "" {
		if p.ToleranceDuration, err = time.ParseDuration(py.Tolerance); err != nil {
			return payroll.PenaltyPolicy{}, fmt.Errorf("invalid tolerance: %w", err)
		}
	}
	if p.DeductionInDays, err = parseAmount(py.DeductionInDays); err != nil {
		return payroll.PenaltyPolicy{}, fmt.Errorf("invalid deduction_in_days: %w", err)
	}
	if p.DeductionAmount, err = parseAmount(py.DeductionAmount); err != nil {
		return payroll.PenaltyPolicy{}, fmt.Errorf("invalid deduction_amount: %w", err)
	}
	if p.ActivationDate, err = parseOptionalDate(py.ActivationDate); err != nil {
		return payroll.PenaltyPolicy{}, err
	}
	return p, nil
}

func parseEmployee(ey EmployeeYAML, company payroll.CompanyID) (payroll.Employee, error) {
	rate, err := parseAmount(ey.HourlyRate)
	if err != nil {
		return payroll.Employee{}, fmt.Errorf("invalid hourly_rate: %w", err)
	}
	joined, err := parseOptionalDate(ey.JoiningDate)
	if err != nil {
		return payroll.Employee{}, err
	}
	return payroll.Employee{
		ID:                        payroll.EmployeeID(ey.ID),
		Company:                   orCompany(ey.Company, company),
		Name:                      ey.Name,
		Designation:               ey.Designation,
		ShiftType:                 ey.ShiftType,
		SalaryStructureAssignment: ey.SalaryStructureAssignment,
		HourlyRate:                rate,
		JoiningDate:               joined,
		ModifiedAt:                time.Now().UTC(),
	}, nil
}

func parseChangelog(cy ChangelogYAML, company payroll.CompanyID) (payroll.ChangelogEntry, error) {
	date, err := payroll.ParseDate(cy.ChangeDate)
	if err != nil {
		return payroll.ChangelogEntry{}, err
	}
	rate, err := parseAmount(cy.HourlyRate)
	if err != nil {
		return payroll.ChangelogEntry{}, fmt.Errorf("invalid hourly_rate: %w", err)
	}
	return payroll.ChangelogEntry{
		Employee:                  payroll.EmployeeID(cy.Employee),
		Company:                   company,
		ChangeDate:                date,
		Designation:               cy.Designation,
		ShiftType:                 cy.ShiftType,
		SalaryStructureAssignment: cy.SalaryStructureAssignment,
		HourlyRate:                rate,
	}, nil
}

func parseAttendance(ay AttendanceYAML, company payroll.CompanyID) (payroll.Attendance, error) {
	date, err := payroll.ParseDate(ay.Date)
	if err != nil {
		return payroll.Attendance{}, err
	}
	a := payroll.Attendance{
		Employee:  payroll.EmployeeID(ay.Employee),
		Company:   company,
		Date:      date,
		Status:    payroll.AttendanceStatus(ay.Status),
		LateEntry: ay.LateEntry,
		EarlyExit: ay.EarlyExit,
	}
	if a.Status == "" {
		a.Status = payroll.AttendancePresent
	}

	if ay.In != "" {
		in, err := parseClock(ay.In)
		if err != nil {
			return payroll.Attendance{}, err
		}
		a.InTime = date.At(in)
	}
	if ay.Out != "" {
		out, err := parseClock(ay.Out)
		if err != nil {
			return payroll.Attendance{}, err
		}
		a.OutTime = date.At(out)
		if !a.InTime.IsZero() && a.OutTime.Before(a.InTime) {
			a.OutTime = date.AddDays(1).At(out)
		}
	}
	return a, nil
}

// parseClock parses HH:MM into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseOptionalDate(s string) (payroll.TimePoint, error) {
	if s == "" {
		return payroll.TimePoint{}, nil
	}
	return payroll.ParseDate(s)
}

func orCompany(s string, fallback payroll.CompanyID) payroll.CompanyID {
	if s == "" {
		return fallback
	}
	return payroll.CompanyID(s)
}
