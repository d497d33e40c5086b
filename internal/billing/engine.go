// Package billing implements the billing-cycle engine: it reads the current
// meter state, computes consumption and cost since the last invoice, has the
// invoice rendered and delivered, and advances the stored baseline only after
// a confirmed send.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Feberdin/ha-wallbox-billing/internal/config"
	"github.com/Feberdin/ha-wallbox-billing/internal/invoice"
	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

// Cycle failure taxonomy. All four abort the cycle without touching the
// stored baseline, so a later re-trigger starts from identical state.
var (
	ErrSourceUnavailable = errors.New("meter source unavailable")
	ErrInvalidReading    = errors.New("invalid meter reading")
	ErrRenderFailure     = errors.New("invoice rendering failed")
	ErrDeliveryFailure   = errors.New("invoice delivery failed")
)

// sendTimeout bounds the mail delivery step; an unreachable SMTP endpoint
// must not block a cycle indefinitely.
const sendTimeout = 30 * time.Second

// Source supplies the raw state string of an energy sensor
type Source interface {
	State(ctx context.Context, entityID string) (string, error)
}

// Renderer produces the invoice document bytes
type Renderer interface {
	Render(inv models.Invoice) ([]byte, error)
}

// Mailer delivers an HTML mail with one attachment
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string, attachment models.Attachment) error
}

// Notifier is told about each completed cycle so display surfaces can refresh
type Notifier interface {
	InvoiceSent(inst config.Installation, res models.CycleResult, b models.Baseline) error
}

// Store persists the per-installation baseline across restarts
type Store interface {
	Load(installationID string) (*models.Baseline, error)
	Save(installationID string, b models.Baseline) error
}

// Engine executes billing cycles. Cycles for the same installation are
// single-flighted: concurrent triggers share one execution instead of
// computing against the same stale baseline.
type Engine struct {
	store    Store
	source   Source
	renderer Renderer
	mailer   Mailer
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]bool
}

// New creates an engine over its four collaborators
func New(store Store, source Source, renderer Renderer, mailer Mailer) *Engine {
	return &Engine{
		store:    store,
		source:   source,
		renderer: renderer,
		mailer:   mailer,
		log:      logrus.StandardLogger(),
		now:      time.Now,
		inflight: make(map[string]bool),
	}
}

// SetNotifier sets an optional completion-signal sink
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetLogger replaces the default logger
func (e *Engine) SetLogger(log logrus.FieldLogger) {
	e.log = log
}

// SetClock overrides the time source (tests pin the billing date with this)
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// InFlight reports whether a cycle is currently running for the installation
func (e *Engine) InFlight(installationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[installationID]
}

func (e *Engine) setInFlight(installationID string, v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v {
		e.inflight[installationID] = true
	} else {
		delete(e.inflight, installationID)
	}
}

// RunCycle executes one billing cycle for the installation: read, compute,
// render, send, persist. The baseline is advanced iff the send succeeded.
func (e *Engine) RunCycle(ctx context.Context, inst config.Installation) (models.CycleResult, error) {
	v, err, _ := e.group.Do(inst.ID, func() (interface{}, error) {
		e.setInFlight(inst.ID, true)
		defer e.setInFlight(inst.ID, false)
		return e.runCycle(ctx, inst)
	})
	if err != nil {
		return models.CycleResult{}, err
	}
	return v.(models.CycleResult), nil
}

func (e *Engine) runCycle(ctx context.Context, inst config.Installation) (models.CycleResult, error) {
	log := e.log.WithField("installation", inst.ID)
	today := e.today()

	current, err := e.currentReading(ctx, inst)
	if err != nil {
		log.WithError(err).Error("billing cycle aborted while reading meter")
		return models.CycleResult{}, err
	}

	prior, firstRun, err := e.resolveBaseline(inst, today)
	if err != nil {
		return models.CycleResult{}, err
	}
	if firstRun {
		log.WithFields(logrus.Fields{
			"initial_reading": prior.LastReading,
			"initial_date":    prior.LastDate.Format("2006-01-02"),
		}).Info("first billing cycle, using configured initial values")
	}

	inv := models.Invoice{
		OwnerName:       inst.OwnerName,
		MeterNumber:     inst.MeterNumber,
		RecipientEmail:  inst.RecipientEmail,
		PeriodFrom:      prior.LastDate,
		PeriodTo:        today,
		ReadingPrevious: prior.LastReading,
		ReadingCurrent:  current,
		PricePerKWh:     decimal.NewFromFloat(inst.GetPricePerKWh()),
	}

	consumption := inv.Consumption()
	totalCost := inv.TotalCost()
	if consumption.IsNegative() {
		// Meter readings should only ever grow; a negative period is
		// surfaced, not corrected.
		log.WithField("consumption_kwh", consumption).Warn("negative consumption computed, billing anyway")
	}

	pdfBytes, err := e.renderer.Render(inv)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrRenderFailure, err)
		log.WithError(err).Error("billing cycle aborted while rendering invoice")
		return models.CycleResult{}, err
	}

	subject := fmt.Sprintf("Wallbox Ladekosten %s – %s €",
		invoice.GermanMonthYear(inv.PeriodFrom), totalCost.StringFixed(2))
	filename := fmt.Sprintf("Wallbox_Abrechnung_%s.pdf", inv.PeriodFrom.Format("2006-01"))

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	err = e.mailer.Send(sendCtx, inst.RecipientEmail, subject, emailBody(inv), models.Attachment{
		Filename: filename,
		Content:  pdfBytes,
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
		log.WithError(err).Error("billing cycle aborted while sending invoice")
		return models.CycleResult{}, err
	}

	// Send is confirmed; only now may the baseline advance.
	newBaseline := models.Baseline{LastReading: current, LastDate: today}
	if err := e.store.Save(inst.ID, newBaseline); err != nil {
		// The invoice is out but the next cycle will re-bill this period.
		log.WithError(err).Error("invoice sent but baseline could not be persisted")
		return models.CycleResult{}, fmt.Errorf("persisting baseline: %w", err)
	}

	result := models.CycleResult{
		Consumption: consumption.Round(3),
		TotalCost:   totalCost.Round(2),
		PeriodFrom:  inv.PeriodFrom,
		PeriodTo:    today,
	}

	if e.notifier != nil {
		if err := e.notifier.InvoiceSent(inst, result, newBaseline); err != nil {
			log.WithError(err).Warn("invoice sent but completion signal failed")
		}
	}

	log.WithFields(logrus.Fields{
		"consumption_kwh": result.Consumption,
		"total_cost":      result.TotalCost,
		"recipient":       inst.RecipientEmail,
	}).Info("invoice sent")

	return result, nil
}

// Preview runs the read/compute/render steps and returns the invoice bytes
// without sending anything or advancing the baseline.
func (e *Engine) Preview(ctx context.Context, inst config.Installation) ([]byte, models.CycleResult, error) {
	today := e.today()

	current, err := e.currentReading(ctx, inst)
	if err != nil {
		return nil, models.CycleResult{}, err
	}

	prior, _, err := e.resolveBaseline(inst, today)
	if err != nil {
		return nil, models.CycleResult{}, err
	}

	inv := models.Invoice{
		OwnerName:       inst.OwnerName,
		MeterNumber:     inst.MeterNumber,
		RecipientEmail:  inst.RecipientEmail,
		PeriodFrom:      prior.LastDate,
		PeriodTo:        today,
		ReadingPrevious: prior.LastReading,
		ReadingCurrent:  current,
		PricePerKWh:     decimal.NewFromFloat(inst.GetPricePerKWh()),
	}

	pdfBytes, err := e.renderer.Render(inv)
	if err != nil {
		return nil, models.CycleResult{}, fmt.Errorf("%w: %v", ErrRenderFailure, err)
	}

	result := models.CycleResult{
		Consumption: inv.Consumption().Round(3),
		TotalCost:   inv.TotalCost().Round(2),
		PeriodFrom:  inv.PeriodFrom,
		PeriodTo:    today,
	}
	return pdfBytes, result, nil
}

// Status returns the display view for an installation: the effective
// baseline plus accrued consumption and cost. An unavailable meter leaves
// the live fields nil rather than failing.
func (e *Engine) Status(ctx context.Context, inst config.Installation) (models.Status, error) {
	prior, _, err := e.resolveBaseline(inst, e.today())
	if err != nil {
		return models.Status{}, err
	}

	st := models.Status{
		LastReading: prior.LastReading,
		LastDate:    prior.LastDate,
	}

	current, err := e.currentReading(ctx, inst)
	if err != nil {
		return st, nil
	}

	price := decimal.NewFromFloat(inst.GetPricePerKWh())
	consumption := current.Sub(prior.LastReading).Round(3)
	cost := current.Sub(prior.LastReading).Mul(price).Round(2)
	st.Current = &current
	st.Consumption = &consumption
	st.Cost = &cost
	return st, nil
}

// currentReading acquires and parses the meter state
func (e *Engine) currentReading(ctx context.Context, inst config.Installation) (decimal.Decimal, error) {
	state, err := e.source.State(ctx, inst.EnergySensor)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: sensor %s: %v", ErrSourceUnavailable, inst.EnergySensor, err)
	}
	if state == "unknown" || state == "unavailable" {
		return decimal.Decimal{}, fmt.Errorf("%w: sensor %s reports %q", ErrSourceUnavailable, inst.EnergySensor, state)
	}

	value, err := decimal.NewFromString(state)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: sensor %s state %q is not numeric", ErrInvalidReading, inst.EnergySensor, state)
	}
	return value, nil
}

// resolveBaseline determines the prior reading and date for this cycle.
// First run: configured initial reading, initial date or first of the
// current month. Subsequent runs: the stored record, with a missing stored
// date falling back to the first of the current month. The two branches
// keep deliberately distinct fallback rules.
func (e *Engine) resolveBaseline(inst config.Installation, today time.Time) (models.Baseline, bool, error) {
	stored, err := e.store.Load(inst.ID)
	if err != nil {
		return models.Baseline{}, false, fmt.Errorf("loading baseline: %w", err)
	}

	if stored == nil {
		date := inst.GetInitialDate()
		if date.IsZero() {
			date = firstOfMonth(today)
		}
		return models.Baseline{
			LastReading: decimal.NewFromFloat(inst.InitialReading),
			LastDate:    date,
		}, true, nil
	}

	b := *stored
	if b.LastDate.IsZero() {
		b.LastDate = firstOfMonth(today)
	}
	return b, false, nil
}

// today is the civil date the cycle runs, in local time
func (e *Engine) today() time.Time {
	t := e.now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// ResultLabel maps a cycle outcome to a stable metrics/reporting label
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrInvalidReading):
		return "invalid_reading"
	case errors.Is(err, ErrRenderFailure):
		return "render_failure"
	case errors.Is(err, ErrDeliveryFailure):
		return "delivery_failure"
	default:
		return "error"
	}
}
