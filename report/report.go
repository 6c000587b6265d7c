// Package report exports the outputs of a batch as an XLSX workbook that
// payroll staff can review before salaries are processed.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/warp/payroll-engine/payroll"
	"github.com/xuri/excelize/v2"
)

const (
	SheetSummary    = "Summary"
	SheetPenalties  = "Penalties"
	SheetDeductions = "Deductions"
	SheetTimesheets = "Timesheets"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Source is what an export reads.
type Source interface {
	GetBatch(ctx context.Context, id payroll.BatchID) (*payroll.Batch, error)
	ListPenaltyRecords(ctx context.Context, filter payroll.PenaltyFilter) ([]payroll.PenaltyRecord, error)
	ListDeductions(ctx context.Context, filter payroll.DeductionFilter) ([]payroll.Deduction, error)
	ListTimesheets(ctx context.Context, batchID payroll.BatchID) ([]payroll.Timesheet, error)
}

// Build assembles the workbook of one batch.
func Build(ctx context.Context, src Source, id payroll.BatchID) (*excelize.File, error) {
	b, err := src.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	penalties, err := src.ListPenaltyRecords(ctx, payroll.PenaltyFilter{BatchID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to list penalty records: %w", err)
	}
	deductions, err := src.ListDeductions(ctx, payroll.DeductionFilter{BatchID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to list deductions: %w", err)
	}
	timesheets, err := src.ListTimesheets(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list timesheets: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, err
	}
	w := &workbook{f: f}

	w.sheet(SheetSummary, []any{"Batch", "Company", "Start", "End", "Status", "Penalties", "Deductions", "Total Deducted"})
	total := 0.0
	for _, d := range deductions {
		total += d.Amount.InexactFloat64()
	}
	w.row(SheetSummary, []any{
		string(b.ID), string(b.Company), b.StartDate.String(), b.EndDate.String(), string(b.Status),
		len(penalties), len(deductions), total,
	})

	w.sheet(SheetPenalties, []any{"Employee", "Date", "Policy", "Group", "Subgroup", "Occurrence", "Amount"})
	for _, p := range penalties {
		w.row(SheetPenalties, []any{
			string(p.Employee), p.Date.String(), string(p.PolicyID), string(p.GroupID), string(p.Subgroup),
			p.OccurrenceNumber, p.Amount.InexactFloat64(),
		})
	}

	w.sheet(SheetDeductions, []any{"Employee", "Date", "Amount", "Reason", "Penalty Record"})
	for _, d := range deductions {
		w.row(SheetDeductions, []any{
			string(d.Employee), d.Date.String(), d.Amount.InexactFloat64(), d.Reason, d.PenaltyRecordID,
		})
	}

	w.sheet(SheetTimesheets, []any{"Employee", "Date", "Hours", "Activity"})
	for _, t := range timesheets {
		for _, l := range t.Logs {
			w.row(SheetTimesheets, []any{string(t.Employee), l.Date.String(), l.Hours.InexactFloat64(), l.ActivityType})
		}
	}

	if w.err != nil {
		f.Close()
		return nil, w.err
	}
	return f, nil
}

// Write streams the workbook of one batch to out.
func Write(ctx context.Context, src Source, id payroll.BatchID, out io.Writer) error {
	f, err := Build(ctx, src, id)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(out)
}

// workbook appends rows and keeps the first error.
type workbook struct {
	f    *excelize.File
	next map[string]int
	err  error
}

func (w *workbook) sheet(name string, header []any) {
	if w.err != nil {
		return
	}
	if name != SheetSummary {
		if _, w.err = w.f.NewSheet(name); w.err != nil {
			return
		}
	}
	if w.next == nil {
		w.next = make(map[string]int)
	}
	w.next[name] = 1
	w.row(name, header)
}

func (w *workbook) row(sheet string, values []any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, w.next[sheet])
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = err
		return
	}
	w.next[sheet]++
}
