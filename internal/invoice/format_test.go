package invoice

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFormatKWh(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0,000 kWh"},
		{"50.5", "50,500 kWh"},
		{"1234.567", "1.234,567 kWh"},
		{"1234567.8", "1.234.567,800 kWh"},
		{"-10", "-10,000 kWh"},
		{"-1234.5", "-1.234,500 kWh"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatKWh(d(tc.in)), "input %s", tc.in)
	}
}

func TestFormatEUR(t *testing.T) {
	assert.Equal(t, "15,15 €", FormatEUR(d("15.15")))
	assert.Equal(t, "1.234,56 €", FormatEUR(d("1234.56")))
	assert.Equal(t, "-3,00 €", FormatEUR(d("-3")))
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "0,3000 €/kWh", FormatPrice(d("0.30")))
	assert.Equal(t, "0,2548 €/kWh", FormatPrice(d("0.2548")))
}

func TestGermanMonthYear(t *testing.T) {
	cases := []struct {
		month time.Month
		want  string
	}{
		{time.January, "Januar 2024"},
		{time.March, "März 2024"},
		{time.October, "Oktober 2024"},
		{time.December, "Dezember 2024"},
	}
	for _, tc := range cases {
		got := GermanMonthYear(time.Date(2024, tc.month, 1, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, tc.want, got)
	}
}
