// Package invoice renders the reimbursement PDF for one billing period.
package invoice

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

// PDFRenderer produces the German reimbursement-request invoice
type PDFRenderer struct{}

// NewPDFRenderer creates the default renderer
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render builds the invoice PDF and returns its bytes
func (r *PDFRenderer) Render(inv models.Invoice) ([]byte, error) {
	consumption := inv.Consumption()
	totalCost := inv.TotalCost()
	todayStr := inv.PeriodTo.Format("02.01.2006")

	pdf := fpdf.New("P", "mm", "A4", "")
	// Core fonts are cp1252; route all text through the translator so
	// umlauts and the euro sign survive.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 22)
		pdf.SetTextColor(30, 60, 120)
		pdf.CellFormat(0, 12, tr("Erstattungsanforderung"), "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "", 13)
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(0, 8, tr("Ladekosten Dienstfahrzeug (Wallbox)"), "", 1, "C", false, 0, "")
		pdf.Ln(3)
		pdf.SetDrawColor(30, 60, 120)
		pdf.SetLineWidth(0.8)
		pdf.Line(10, pdf.GetY(), 200, pdf.GetY())
		pdf.Ln(6)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetLineWidth(0.2)
	})

	pdf.SetFooterFunc(func() {
		pdf.SetY(-14)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(130, 130, 130)
		footer := fmt.Sprintf("Automatisch erstellt am %s · Wallbox Abrechnung", todayStr)
		pdf.CellFormat(0, 10, tr(footer), "", 0, "C", false, 0, "")
	})

	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	// Sender / recipient block
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(240, 243, 250)
	pdf.CellFormat(95, 7, tr("Absender"), "", 0, "L", true, 0, "")
	pdf.CellFormat(5, 7, "", "", 0, "L", false, 0, "")
	pdf.CellFormat(90, 7, tr("Empfänger (Arbeitgeber)"), "", 1, "L", true, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(95, 7, tr(inv.OwnerName), "", 0, "L", false, 0, "")
	pdf.CellFormat(5, 7, "", "", 0, "L", false, 0, "")
	pdf.CellFormat(90, 7, tr(inv.RecipientEmail), "", 1, "L", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.CellFormat(95, 6, tr(fmt.Sprintf("Zählernummer: %s", inv.MeterNumber)), "", 0, "L", false, 0, "")
	pdf.CellFormat(5, 6, "", "", 0, "L", false, 0, "")
	pdf.CellFormat(90, 6, tr(fmt.Sprintf("Datum: %s", todayStr)), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)

	pdf.Ln(6)

	// Billing period
	r.sectionHeader(pdf, tr, "Abrechnungszeitraum")

	const colW = 90
	pdf.CellFormat(colW, 7, tr("Von:"), "", 0, "L", false, 0, "")
	pdf.CellFormat(colW, 7, inv.PeriodFrom.Format("02.01.2006"), "", 1, "L", false, 0, "")
	pdf.CellFormat(colW, 7, tr("Bis:"), "", 0, "L", false, 0, "")
	pdf.CellFormat(colW, 7, inv.PeriodTo.Format("02.01.2006"), "", 1, "L", false, 0, "")

	pdf.Ln(6)

	// Meter reading evidence
	r.sectionHeader(pdf, tr, "Zählerstandsnachweis")

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(220, 228, 245)
	pdf.CellFormat(110, 7, tr("Position"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(80, 7, tr("Wert"), "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	rows := []struct {
		label string
		value string
	}{
		{"Zählerstand (Beginn des Zeitraums)", FormatKWh(inv.ReadingPrevious)},
		{"Zählerstand (Ende des Zeitraums)", FormatKWh(inv.ReadingCurrent)},
		{"Verbrauch", FormatKWh(consumption)},
		{"Preis je kWh", FormatPrice(inv.PricePerKWh)},
	}
	for i, row := range rows {
		if i%2 == 0 {
			pdf.SetFillColor(248, 250, 255)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.CellFormat(110, 7, tr("  "+row.label), "1", 0, "L", true, 0, "")
		pdf.CellFormat(80, 7, tr(row.value), "1", 1, "R", true, 0, "")
	}

	// Total row
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(30, 60, 120)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(110, 9, tr("  GESAMTBETRAG"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(80, 9, tr(FormatEUR(totalCost)), "1", 1, "R", true, 0, "")
	pdf.SetTextColor(0, 0, 0)

	pdf.Ln(8)

	// Reimbursement request
	pdf.SetFont("Helvetica", "", 11)
	request := fmt.Sprintf(
		"Ich bitte um Erstattung des Betrages von %s für das Laden meines "+
			"Dienstfahrzeuges an der privaten Wallbox im Abrechnungszeitraum %s bis %s.",
		FormatEUR(totalCost),
		inv.PeriodFrom.Format("02.01.2006"),
		inv.PeriodTo.Format("02.01.2006"),
	)
	pdf.MultiCell(0, 7, tr(request), "", "L", false)

	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, tr("Mit freundlichen Grüßen,"), "", 1, "L", false, 0, "")
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, tr(inv.OwnerName), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// sectionHeader draws the filled blue section bar
func (r *PDFRenderer) sectionHeader(pdf *fpdf.Fpdf, tr func(string) string, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(30, 60, 120)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(0, 8, tr("  "+title), "", 1, "L", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Ln(2)
}
