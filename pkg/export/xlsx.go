package export

import (
	"fmt"
	"io"

	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/xuri/excelize/v2"
)

const (
	ScheduleSheet = "Schedule"
	SummarySheet  = "Loan"

	// ContentType is the MIME type of the workbook written by WriteSchedule.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var scheduleHeaders = []string{"#", "Due date", "Capital", "Interest", "Total", "Status", "Paid at"}

// WriteSchedule renders a loan's installment plan as an XLSX workbook: one
// sheet with the installments in sequence order and one with the loan terms.
func WriteSchedule(w io.Writer, loan *models.Loan, installments []*models.Installment) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ScheduleSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("create money style: %w", err)
	}

	for i, header := range scheduleHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(ScheduleSheet, cell, header); err != nil {
			return err
		}
	}

	for i, inst := range installments {
		if err := writeInstallment(f, i+2, inst); err != nil {
			return fmt.Errorf("write installment %d: %w", inst.Sequence, err)
		}
	}
	if len(installments) > 0 {
		last := fmt.Sprintf("E%d", len(installments)+1)
		if err := f.SetCellStyle(ScheduleSheet, "C2", last, money); err != nil {
			return fmt.Errorf("style amounts: %w", err)
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	summary := [][2]any{
		{"Loan", loan.ID.String()},
		{"Member", loan.MemberID.String()},
		{"Principal", loan.Principal.StringFixed(2)},
		{"Monthly rate", loan.MonthlyRate.String()},
		{"Installments", loan.InstallmentCount},
		{"Status", string(loan.Status)},
		{"Requested", loan.RequestedAt.Format("2006-01-02")},
	}
	if loan.ApprovedAt != nil {
		summary = append(summary, [2]any{"Approved", loan.ApprovedAt.Format("2006-01-02")})
	}
	for i, kv := range summary {
		row := i + 1
		if err := f.SetCellValue(SummarySheet, fmt.Sprintf("A%d", row), kv[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", row), kv[1]); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeInstallment(f *excelize.File, row int, inst *models.Installment) error {
	if err := f.SetCellInt(ScheduleSheet, fmt.Sprintf("A%d", row), int(inst.Sequence)); err != nil {
		return err
	}
	if err := f.SetCellValue(ScheduleSheet, fmt.Sprintf("B%d", row), inst.DueDate.Format("2006-01-02")); err != nil {
		return err
	}
	amounts := []struct {
		col   string
		value float64
	}{
		{"C", inst.Capital.InexactFloat64()},
		{"D", inst.Interest.InexactFloat64()},
		{"E", inst.Total.InexactFloat64()},
	}
	for _, a := range amounts {
		if err := f.SetCellFloat(ScheduleSheet, fmt.Sprintf("%s%d", a.col, row), a.value, 2, 64); err != nil {
			return err
		}
	}
	if err := f.SetCellValue(ScheduleSheet, fmt.Sprintf("F%d", row), string(inst.Status)); err != nil {
		return err
	}
	if inst.PaidAt != nil {
		return f.SetCellValue(ScheduleSheet, fmt.Sprintf("G%d", row), inst.PaidAt.Format("2006-01-02"))
	}
	return nil
}
