package billing

import (
	"fmt"
	"strings"

	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

// emailBody builds the German HTML summary that accompanies the PDF
func emailBody(inv models.Invoice) string {
	var b strings.Builder

	b.WriteString("<p>Guten Tag,</p>")
	b.WriteString("<p>anbei finden Sie die Erstattungsanforderung für die Ladekosten " +
		"des Dienstfahrzeuges an der privaten Wallbox.</p>")

	b.WriteString("<table style='border-collapse:collapse;font-family:sans-serif'>")
	row := func(label, value string) {
		fmt.Fprintf(&b,
			"<tr><td style='padding:4px 12px'>%s</td><td style='padding:4px 12px'>%s</td></tr>",
			label, value)
	}
	row("Zeitraum:", fmt.Sprintf("%s – %s",
		inv.PeriodFrom.Format("02.01.2006"), inv.PeriodTo.Format("02.01.2006")))
	row("Verbrauch:", fmt.Sprintf("%s kWh", inv.Consumption().StringFixed(3)))
	row("Preis/kWh:", fmt.Sprintf("%s €", inv.PricePerKWh.StringFixed(4)))
	row("<strong>Gesamtbetrag:</strong>",
		fmt.Sprintf("<strong>%s €</strong>", inv.TotalCost().StringFixed(2)))
	b.WriteString("</table>")

	b.WriteString("<p>Die Abrechnung ist als PDF-Anhang beigefügt.</p>")
	fmt.Fprintf(&b, "<p>Mit freundlichen Grüßen,<br/>%s</p>", inv.OwnerName)

	return b.String()
}
