package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Feberdin/ha-wallbox-billing/internal/config"
	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

// fakeStore is an in-memory baseline store with error injection
type fakeStore struct {
	mu        sync.Mutex
	baselines map[string]models.Baseline
	loadErr   error
	saveErr   error
	saves     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{baselines: make(map[string]models.Baseline)}
}

func (s *fakeStore) Load(id string) (*models.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	b, ok := s.baselines[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *fakeStore) Save(id string, b models.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.baselines[id] = b
	s.saves++
	return nil
}

func (s *fakeStore) get(id string) (models.Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[id]
	return b, ok
}

type fakeSource struct {
	state string
	err   error
	calls int
}

func (s *fakeSource) State(ctx context.Context, entityID string) (string, error) {
	s.calls++
	return s.state, s.err
}

type fakeRenderer struct {
	err   error
	calls int
	last  models.Invoice
}

func (r *fakeRenderer) Render(inv models.Invoice) ([]byte, error) {
	r.calls++
	r.last = inv
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-fake"), nil
}

type fakeMailer struct {
	err      error
	delay    time.Duration
	calls    atomic.Int32
	lastTo   string
	lastSubj string
	lastBody string
	lastAtt  models.Attachment
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, htmlBody string, att models.Attachment) error {
	m.calls.Add(1)
	m.lastTo = to
	m.lastSubj = subject
	m.lastBody = htmlBody
	m.lastAtt = att
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

type fakeNotifier struct {
	calls int
	last  models.CycleResult
}

func (n *fakeNotifier) InvoiceSent(inst config.Installation, res models.CycleResult, b models.Baseline) error {
	n.calls++
	n.last = res
	return nil
}

type fixture struct {
	store    *fakeStore
	source   *fakeSource
	renderer *fakeRenderer
	mailer   *fakeMailer
	engine   *Engine
}

// newFixture wires an engine over fakes with the clock pinned to 2024-03-15
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		source:   &fakeSource{state: "150.5"},
		renderer: &fakeRenderer{},
		mailer:   &fakeMailer{},
	}
	f.engine = New(f.store, f.source, f.renderer, f.mailer)
	f.engine.SetClock(func() time.Time {
		return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	})
	return f
}

func floatPtr(v float64) *float64 { return &v }

func testInstallation() config.Installation {
	return config.Installation{
		ID:             "wallbox",
		OwnerName:      "Max Mustermann",
		MeterNumber:    "DSZ15-0042",
		EnergySensor:   "sensor.wallbox_energy_total",
		RecipientEmail: "abrechnung@example.com",
		PricePerKWh:    floatPtr(0.30),
		InitialReading: 100.0,
		InitialDate:    "2024-01-01",
	}
}

func TestRunCycleFirstRunBootstrap(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()

	res, err := f.engine.RunCycle(context.Background(), inst)
	require.NoError(t, err)

	assert.Equal(t, "50.500", res.Consumption.StringFixed(3))
	assert.Equal(t, "15.15", res.TotalCost.StringFixed(2))
	assert.Equal(t, "2024-01-01", res.PeriodFrom.Format("2006-01-02"))
	assert.Equal(t, "2024-03-15", res.PeriodTo.Format("2006-01-02"))

	b, ok := f.store.get("wallbox")
	require.True(t, ok, "baseline must be persisted after a successful send")
	assert.True(t, b.LastReading.Equal(decimal.RequireFromString("150.5")))
	assert.Equal(t, "2024-03-15", b.LastDate.Format("2006-01-02"))
}

func TestRunCycleFirstRunWithoutInitialDate(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()
	inst.InitialDate = ""

	res, err := f.engine.RunCycle(context.Background(), inst)
	require.NoError(t, err)

	// First of the current month when no initial date is configured
	assert.Equal(t, "2024-03-01", res.PeriodFrom.Format("2006-01-02"))
}

func TestRunCycleUsesStoredBaseline(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()
	inst.PricePerKWh = floatPtr(0.25)
	f.source.state = "200.0"
	f.store.baselines["wallbox"] = models.Baseline{
		LastReading: decimal.RequireFromString("150.5"),
		LastDate:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	res, err := f.engine.RunCycle(context.Background(), inst)
	require.NoError(t, err)

	assert.Equal(t, "49.500", res.Consumption.StringFixed(3))
	assert.Equal(t, "12.38", res.TotalCost.StringFixed(2))
	assert.Equal(t, "2024-02-01", res.PeriodFrom.Format("2006-01-02"))

	b, _ := f.store.get("wallbox")
	assert.True(t, b.LastReading.Equal(decimal.RequireFromString("200.0")))
	assert.Equal(t, "2024-03-15", b.LastDate.Format("2006-01-02"))
}

func TestRunCycleZeroPriceIsHonored(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()
	inst.PricePerKWh = floatPtr(0)

	res, err := f.engine.RunCycle(context.Background(), inst)
	require.NoError(t, err)

	assert.Equal(t, "50.500", res.Consumption.StringFixed(3))
	assert.True(t, res.TotalCost.IsZero(), "an explicit zero rate must not fall back to the default")
}

func TestRunCycleStoredBaselineWithoutDate(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()
	f.store.baselines["wallbox"] = models.Baseline{
		LastReading: decimal.RequireFromString("120"),
	}

	res, err := f.engine.RunCycle(context.Background(), inst)
	require.NoError(t, err)

	// Subsequent-run fallback is the first of the current month, not the
	// configured initial date.
	assert.Equal(t, "2024-03-01", res.PeriodFrom.Format("2006-01-02"))
}

func TestRunCycleSourceUnavailable(t *testing.T) {
	for _, state := range []string{"unavailable", "unknown"} {
		t.Run(state, func(t *testing.T) {
			f := newFixture(t)
			f.source.state = state

			_, err := f.engine.RunCycle(context.Background(), testInstallation())
			require.ErrorIs(t, err, ErrSourceUnavailable)

			_, ok := f.store.get("wallbox")
			assert.False(t, ok, "no baseline may be written")
			assert.Equal(t, 0, f.renderer.calls)
			assert.Equal(t, int32(0), f.mailer.calls.Load())
		})
	}
}

func TestRunCycleSourceError(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("connection refused")

	_, err := f.engine.RunCycle(context.Background(), testInstallation())
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, int32(0), f.mailer.calls.Load())
}

func TestRunCycleInvalidReading(t *testing.T) {
	f := newFixture(t)
	f.source.state = "not-a-number"

	_, err := f.engine.RunCycle(context.Background(), testInstallation())
	require.ErrorIs(t, err, ErrInvalidReading)

	_, ok := f.store.get("wallbox")
	assert.False(t, ok)
	assert.Equal(t, 0, f.renderer.calls)
}

func TestRunCycleRenderFailure(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.New("font missing")

	_, err := f.engine.RunCycle(context.Background(), testInstallation())
	require.ErrorIs(t, err, ErrRenderFailure)

	_, ok := f.store.get("wallbox")
	assert.False(t, ok)
	assert.Equal(t, int32(0), f.mailer.calls.Load(), "transport must never be invoked after a render failure")
}

func TestRunCycleDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp 554")

	_, err := f.engine.RunCycle(context.Background(), testInstallation())
	require.ErrorIs(t, err, ErrDeliveryFailure)

	_, ok := f.store.get("wallbox")
	assert.False(t, ok, "baseline must not advance without a confirmed send")
}

func TestRunCycleFailedCyclesAreIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp 554")
	inst := testInstallation()

	_, err1 := f.engine.RunCycle(context.Background(), inst)
	_, err2 := f.engine.RunCycle(context.Background(), inst)

	require.ErrorIs(t, err1, ErrDeliveryFailure)
	require.ErrorIs(t, err2, ErrDeliveryFailure)
	assert.Equal(t, ResultLabel(err1), ResultLabel(err2))
	assert.Equal(t, 0, f.store.saves, "failed cycles must leave state untouched")
}

func TestRunCycleNegativeConsumption(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()
	f.source.state = "90.0"
	f.store.baselines["wallbox"] = models.Baseline{
		LastReading: decimal.RequireFromString("100.0"),
		LastDate:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	res, err := f.engine.RunCycle(context.Background(), inst)
	require.NoError(t, err, "negative consumption is surfaced, not rejected")

	assert.Equal(t, "-10.000", res.Consumption.StringFixed(3))
	assert.True(t, res.TotalCost.IsNegative())

	b, ok := f.store.get("wallbox")
	require.True(t, ok)
	assert.True(t, b.LastReading.Equal(decimal.RequireFromString("90.0")))
}

func TestRunCycleMailContents(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()

	_, err := f.engine.RunCycle(context.Background(), inst)
	require.NoError(t, err)

	assert.Equal(t, "abrechnung@example.com", f.mailer.lastTo)
	assert.Equal(t, "Wallbox Ladekosten Januar 2024 – 15.15 €", f.mailer.lastSubj)
	assert.Equal(t, "Wallbox_Abrechnung_2024-01.pdf", f.mailer.lastAtt.Filename)
	assert.NotEmpty(t, f.mailer.lastAtt.Content)

	assert.Contains(t, f.mailer.lastBody, "01.01.2024 – 15.03.2024")
	assert.Contains(t, f.mailer.lastBody, "50.500 kWh")
	assert.Contains(t, f.mailer.lastBody, "0.3000 €")
	assert.Contains(t, f.mailer.lastBody, "<strong>15.15 €</strong>")
	assert.Contains(t, f.mailer.lastBody, "Max Mustermann")
}

func TestRunCyclePersistFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("disk full")

	_, err := f.engine.RunCycle(context.Background(), testInstallation())
	require.Error(t, err)
	assert.Equal(t, "error", ResultLabel(err))
	assert.Equal(t, int32(1), f.mailer.calls.Load())
}

func TestRunCycleNotifierInvokedOnSuccessOnly(t *testing.T) {
	f := newFixture(t)
	n := &fakeNotifier{}
	f.engine.SetNotifier(n)

	_, err := f.engine.RunCycle(context.Background(), testInstallation())
	require.NoError(t, err)
	assert.Equal(t, 1, n.calls)

	f2 := newFixture(t)
	n2 := &fakeNotifier{}
	f2.engine.SetNotifier(n2)
	f2.mailer.err = errors.New("smtp down")

	_, err = f2.engine.RunCycle(context.Background(), testInstallation())
	require.Error(t, err)
	assert.Equal(t, 0, n2.calls)
}

func TestRunCycleConcurrentTriggersShareOneExecution(t *testing.T) {
	f := newFixture(t)
	f.mailer.delay = 200 * time.Millisecond
	inst := testInstallation()

	var wg sync.WaitGroup
	results := make([]models.CycleResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.engine.RunCycle(context.Background(), inst)
		}()
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), f.mailer.calls.Load(), "overlapping triggers must not double-send")
	assert.Equal(t, 1, f.store.saves, "overlapping triggers must not double-persist")
	assert.True(t, results[0].Consumption.Equal(results[1].Consumption))
}

func TestInFlight(t *testing.T) {
	f := newFixture(t)
	f.mailer.delay = 200 * time.Millisecond
	inst := testInstallation()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.engine.RunCycle(context.Background(), inst)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, f.engine.InFlight(inst.ID))
	<-done
	assert.False(t, f.engine.InFlight(inst.ID))
}

func TestPreviewDoesNotSendOrPersist(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()

	pdfBytes, res, err := f.engine.Preview(context.Background(), inst)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(pdfBytes), "%PDF"))
	assert.Equal(t, "50.500", res.Consumption.StringFixed(3))
	assert.Equal(t, int32(0), f.mailer.calls.Load())
	_, ok := f.store.get("wallbox")
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	inst := testInstallation()
	f.source.state = "180.0"
	f.store.baselines["wallbox"] = models.Baseline{
		LastReading: decimal.RequireFromString("150.5"),
		LastDate:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	st, err := f.engine.Status(context.Background(), inst)
	require.NoError(t, err)

	assert.Equal(t, "150.500", st.LastReading.StringFixed(3))
	require.NotNil(t, st.Current)
	assert.Equal(t, "29.500", st.Consumption.StringFixed(3))
	assert.Equal(t, "8.85", st.Cost.StringFixed(2))
}

func TestStatusWithUnavailableSource(t *testing.T) {
	f := newFixture(t)
	f.source.state = "unavailable"

	st, err := f.engine.Status(context.Background(), testInstallation())
	require.NoError(t, err, "status must degrade, not fail, when the meter is unavailable")
	assert.Nil(t, st.Current)
	assert.Nil(t, st.Consumption)
	assert.Nil(t, st.Cost)
}

func TestResultLabel(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{fmt.Errorf("%w: x", ErrSourceUnavailable), "source_unavailable"},
		{fmt.Errorf("%w: x", ErrInvalidReading), "invalid_reading"},
		{fmt.Errorf("%w: x", ErrRenderFailure), "render_failure"},
		{fmt.Errorf("%w: x", ErrDeliveryFailure), "delivery_failure"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResultLabel(tc.err))
	}
}
