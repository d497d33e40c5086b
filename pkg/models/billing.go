package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Baseline is the last billed meter reading and the date it was billed.
// Its absence in the store means no invoice has ever been sent for the
// installation.
type Baseline struct {
	LastReading decimal.Decimal `json:"last_reading"`
	LastDate    time.Time       `json:"last_date"`
}

// Invoice holds everything the PDF renderer needs for one billing period.
type Invoice struct {
	OwnerName       string          `json:"owner_name"`
	MeterNumber     string          `json:"meter_number"`
	RecipientEmail  string          `json:"recipient_email"`
	PeriodFrom      time.Time       `json:"period_from"`
	PeriodTo        time.Time       `json:"period_to"`
	ReadingPrevious decimal.Decimal `json:"reading_previous"`
	ReadingCurrent  decimal.Decimal `json:"reading_current"`
	PricePerKWh     decimal.Decimal `json:"price_per_kwh"`
}

// Consumption is the metered usage over the billing period in kWh. It may
// be negative when the meter was replaced or rolled back; callers surface
// that instead of correcting it.
func (i Invoice) Consumption() decimal.Decimal {
	return i.ReadingCurrent.Sub(i.ReadingPrevious)
}

// TotalCost is consumption times price, at full precision.
func (i Invoice) TotalCost() decimal.Decimal {
	return i.Consumption().Mul(i.PricePerKWh)
}

// Attachment is a named document included with an outgoing mail.
type Attachment struct {
	Filename string
	Content  []byte
}

// CycleResult summarizes one successfully computed billing cycle.
type CycleResult struct {
	Consumption decimal.Decimal `json:"consumption_kwh"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	PeriodFrom  time.Time       `json:"period_from"`
	PeriodTo    time.Time       `json:"period_to"`
}

// MarshalJSON emits the amounts at their display precision (3 places for
// kWh, 2 for EUR); decimal's default String would trim trailing zeros.
func (r CycleResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Consumption string    `json:"consumption_kwh"`
		TotalCost   string    `json:"total_cost"`
		PeriodFrom  time.Time `json:"period_from"`
		PeriodTo    time.Time `json:"period_to"`
	}{
		Consumption: r.Consumption.StringFixed(3),
		TotalCost:   r.TotalCost.StringFixed(2),
		PeriodFrom:  r.PeriodFrom,
		PeriodTo:    r.PeriodTo,
	})
}

// Status is the live billing view backing the display sensors: the stored
// (or configured) baseline plus the accrued consumption and cost since it.
// Current, Consumption and Cost are nil while the meter source is
// unavailable.
type Status struct {
	LastReading decimal.Decimal  `json:"last_reading"`
	LastDate    time.Time        `json:"last_date"`
	Current     *decimal.Decimal `json:"current_reading,omitempty"`
	Consumption *decimal.Decimal `json:"consumption_kwh,omitempty"`
	Cost        *decimal.Decimal `json:"cost,omitempty"`
}
