package invoice

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

func testInvoice() models.Invoice {
	return models.Invoice{
		OwnerName:       "Max Mustermann",
		MeterNumber:     "DSZ15-0042",
		RecipientEmail:  "abrechnung@example.com",
		PeriodFrom:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodTo:        time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		ReadingPrevious: decimal.RequireFromString("100.0"),
		ReadingCurrent:  decimal.RequireFromString("150.5"),
		PricePerKWh:     decimal.RequireFromString("0.30"),
	}
}

func TestRenderProducesPDF(t *testing.T) {
	r := NewPDFRenderer()

	out, err := r.Render(testInvoice())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "%PDF"), "output must be a PDF document")
	assert.Greater(t, len(out), 1000, "a full invoice page is expected")
}

func TestRenderHandlesNegativeConsumption(t *testing.T) {
	r := NewPDFRenderer()
	inv := testInvoice()
	inv.ReadingCurrent = decimal.RequireFromString("90.0")

	out, err := r.Render(inv)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "%PDF"))
}

func TestRenderDegeneratePeriod(t *testing.T) {
	r := NewPDFRenderer()
	inv := testInvoice()
	inv.PeriodFrom = inv.PeriodTo

	out, err := r.Render(inv)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestRenderIsDeterministicPerInput(t *testing.T) {
	r := NewPDFRenderer()

	a, err := r.Render(testInvoice())
	require.NoError(t, err)
	b, err := r.Render(testInvoice())
	require.NoError(t, err)
	assert.Equal(t, len(a), len(b), "same input should produce same-sized output")
}
