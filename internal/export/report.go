package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"

	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Report is everything a batch export renders.
type Report struct {
	Batch                models.SettlementBatch
	Rows                 []models.PayoutDetail
	CompletionPercentage int
	GeneratedAt          time.Time
}

// Filename returns the download name for the given format.
func (r Report) Filename(format string) string {
	return fmt.Sprintf("settlement-%s.%s", r.Batch.SettlementDate.Format("2006-01-02"), format)
}

// BuildPDF renders the batch summary followed by one table line per payout row.
func BuildPDF(r Report) ([]byte, error) {
	b := r.Batch
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, "Settlement Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, line := range []string{
		fmt.Sprintf("Settlement date: %s", b.SettlementDate.Format("2006-01-02")),
		fmt.Sprintf("Batch: %s", b.ID),
		fmt.Sprintf("Status: %s", b.Status),
		fmt.Sprintf("Generated: %s", r.GeneratedAt.UTC().Format(time.RFC3339)),
	} {
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}
	if b.ProcessedAt != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Processed: %s", b.ProcessedAt.UTC().Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if b.Notes != "" {
		pdf.MultiCell(0, 5, "Notes: "+b.Notes, "", "L", false)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "Totals")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 10)
	for _, t := range totalsLines(b) {
		pdf.CellFormat(70, 6, t.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, t.value, "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, t.status, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(2)
	pdf.Cell(0, 6, fmt.Sprintf("Payments: %d    Commission payouts completed: %d%%", b.Totals.PaymentCount, r.CompletionPercentage))
	pdf.Ln(8)

	widths := []float64{45, 32, 25, 25, 18, 45}
	pdf.SetFont("Arial", "B", 9)
	for i, h := range []string{"Beneficiary", "Phone", "Amount", "Status", "Tries", "Reference"} {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range r.Rows {
		cells := []string{
			row.BeneficiaryName,
			row.BeneficiaryPhone,
			row.Amount.StringFixed(2),
			row.Status,
			fmt.Sprintf("%d", row.Attempts),
			reference(row),
		}
		for i, c := range cells {
			align := "L"
			if i == 2 || i == 4 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, c, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders a summary sheet and a payouts sheet.
func BuildXLSX(r Report) ([]byte, error) {
	b := r.Batch
	f := excelize.NewFile()
	defer f.Close()

	summary := "summary"
	payouts := "payouts"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(payouts); err != nil {
		return nil, fmt.Errorf("add sheet: %w", err)
	}

	_ = f.SetCellValue(summary, "A1", "Settlement Report")
	_ = f.SetCellValue(summary, "A3", "Settlement date")
	_ = f.SetCellValue(summary, "B3", b.SettlementDate.Format("2006-01-02"))
	_ = f.SetCellValue(summary, "A4", "Batch")
	_ = f.SetCellValue(summary, "B4", b.ID.String())
	_ = f.SetCellValue(summary, "A5", "Status")
	_ = f.SetCellValue(summary, "B5", b.Status)
	_ = f.SetCellValue(summary, "A6", "Payments")
	_ = f.SetCellValue(summary, "B6", b.Totals.PaymentCount)
	_ = f.SetCellValue(summary, "A7", "Completion %")
	_ = f.SetCellValue(summary, "B7", r.CompletionPercentage)
	for i, t := range totalsLines(b) {
		row := 9 + i
		_ = f.SetCellValue(summary, fmt.Sprintf("A%d", row), t.label)
		_ = f.SetCellValue(summary, fmt.Sprintf("B%d", row), t.amount)
		_ = f.SetCellValue(summary, fmt.Sprintf("C%d", row), t.status)
	}

	for i, h := range []string{"Payout ID", "Beneficiary", "Type", "Phone", "Amount", "Status", "Provider", "Attempts", "Reference", "Updated"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(payouts, cell, h)
	}
	for i, row := range r.Rows {
		n := i + 2
		values := []any{
			row.ID.String(),
			row.BeneficiaryName,
			row.BeneficiaryType,
			row.BeneficiaryPhone,
			row.Amount.InexactFloat64(),
			row.Status,
			row.Provider,
			row.Attempts,
			reference(row),
			row.UpdatedAt.UTC().Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, n)
			_ = f.SetCellValue(payouts, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

type totalsLine struct {
	label  string
	value  string
	amount float64
	status string
}

func totalsLines(b models.SettlementBatch) []totalsLine {
	t := b.Totals
	commissions := t.TotalAgentCommissions.Add(t.TotalSuperAgentCommissions)
	return []totalsLine{
		{"Total payments", t.TotalPayments.StringFixed(2), t.TotalPayments.InexactFloat64(), ""},
		{"Insurance", t.TotalInsurance.StringFixed(2), t.TotalInsurance.InexactFloat64(), b.PayoutStatus.Insurance},
		{"Administrative", t.TotalAdmin.StringFixed(2), t.TotalAdmin.InexactFloat64(), b.PayoutStatus.Administrative},
		{"Commissions", commissions.StringFixed(2), commissions.InexactFloat64(), b.PayoutStatus.Commissions},
	}
}

func reference(row models.PayoutDetail) string {
	switch {
	case row.ManualTransactionRef != nil:
		return *row.ManualTransactionRef
	case row.ProviderTxnID != nil:
		return *row.ProviderTxnID
	}
	return ""
}
