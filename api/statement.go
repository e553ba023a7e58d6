/*
statement.go - PDF balance statement rendering

PURPOSE:
  Renders an employee's per-type leave balances for one year as a PDF
  document, served by GET /api/balances/{employeeID}/statement. HR teams
  attach these to payroll records and year-end reviews.

LAYOUT:
  Header with employee and year, a table of one row per leave type
  (allocated, carried forward, used, pending, remaining), and a totals
  row across the non-aggregate types.

SEE ALSO:
  - handlers.go: GetStatement endpoint
*/
package api

import (
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/warp/leave-engine/leave"
)

// renderStatement builds the PDF document for one employee-year.
func renderStatement(employeeID leave.EmployeeID, year int, balances []leave.LeaveBalance, generatedAt time.Time) (*gofpdf.Fpdf, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Leave Balance Statement")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Employee: %s", employeeID))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Year: %d", year))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Generated: %s", generatedAt.Format("2006-01-02 15:04")))
	pdf.Ln(12)

	colWidths := []float64{55, 27, 27, 22, 22, 27}
	headers := []string{"Leave Type", "Allocated", "Carried Fwd", "Used", "Pending", "Remaining"}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	for i, head := range headers {
		pdf.CellFormat(colWidths[i], 8, head, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	total := struct{ allocated, carried, used, pending, remaining leave.Days }{
		leave.ZeroDays(), leave.ZeroDays(), leave.ZeroDays(), leave.ZeroDays(), leave.ZeroDays(),
	}

	for _, b := range balances {
		cells := []string{
			string(b.LeaveType),
			b.TotalAllocated.String(),
			b.CarriedForward.String(),
			b.Used.String(),
			b.Pending.String(),
			b.Remaining().String(),
		}
		for i, cell := range cells {
			pdf.CellFormat(colWidths[i], 8, cell, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)

		// The shared quota mirrors the per-type rows; summing it would
		// double-count.
		if b.LeaveType == leave.AnnualQuotaType {
			continue
		}
		total.allocated = total.allocated.Add(b.TotalAllocated)
		total.carried = total.carried.Add(b.CarriedForward)
		total.used = total.used.Add(b.Used)
		total.pending = total.pending.Add(b.Pending)
		total.remaining = total.remaining.Add(b.Remaining())
	}

	pdf.SetFont("Helvetica", "B", 10)
	totals := []string{
		"Total",
		total.allocated.String(),
		total.carried.String(),
		total.used.String(),
		total.pending.String(),
		total.remaining.String(),
	}
	for i, cell := range totals {
		pdf.CellFormat(colWidths[i], 8, cell, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.Cell(0, 6, "Balances are computed from the append-only ledger at generation time.")

	if pdf.Err() {
		return nil, pdf.Error()
	}
	return pdf, nil
}
