package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var germanMonths = [...]string{
	"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember",
}

// GermanMonthYear renders a date as "März 2024"
func GermanMonthYear(t time.Time) string {
	return fmt.Sprintf("%s %d", germanMonths[t.Month()-1], t.Year())
}

// FormatKWh renders a quantity as "1.234,567 kWh" (German locale)
func FormatKWh(v decimal.Decimal) string {
	return germanNumber(v, 3) + " kWh"
}

// FormatEUR renders an amount as "1.234,56 €"
func FormatEUR(v decimal.Decimal) string {
	return germanNumber(v, 2) + " €"
}

// FormatPrice renders a unit rate as "0,3000 €/kWh"
func FormatPrice(v decimal.Decimal) string {
	return strings.ReplaceAll(v.StringFixed(4), ".", ",") + " €/kWh"
}

// germanNumber formats with "." as thousands separator and "," as decimal
// separator
func germanNumber(v decimal.Decimal, places int32) string {
	s := v.StringFixed(places)

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := strings.Join(groups, ".")
	if fracPart != "" {
		out += "," + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}
