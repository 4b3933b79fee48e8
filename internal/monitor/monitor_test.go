package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/putspread_sentinel/internal/broker"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/notify"
	"github.com/eddiefleurent/putspread_sentinel/internal/storage"
)

var today = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

// chainProvider serves fixed chains keyed by symbol and expiration.
type chainProvider struct {
	mu     sync.Mutex
	chains map[string][]broker.Option
	errs   map[string]error
	calls  []string
	greeks []bool
}

func newChainProvider() *chainProvider {
	return &chainProvider{chains: map[string][]broker.Option{}, errs: map[string]error{}}
}

func (p *chainProvider) GetHistory(context.Context, string, string, time.Time, time.Time) ([]models.PriceBar, error) {
	return nil, errors.New("not used")
}

func (p *chainProvider) GetQuote(context.Context, string) (*broker.QuoteItem, error) {
	return nil, errors.New("not used")
}

func (p *chainProvider) GetExpirations(context.Context, string) ([]string, error) {
	return nil, errors.New("not used")
}

func (p *chainProvider) GetOptionChain(_ context.Context, symbol, expiration string, withGreeks bool) ([]broker.Option, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := symbol + "|" + expiration
	p.calls = append(p.calls, key)
	p.greeks = append(p.greeks, withGreeks)
	if err := p.errs[key]; err != nil {
		return nil, err
	}
	return p.chains[key], nil
}

func put(exp string, strike float64, bid, ask *float64, delta *float64) broker.Option {
	o := broker.Option{
		Symbol:         "SPY",
		Underlying:     "SPY",
		OptionType:     "put",
		ExpirationDate: exp,
		Strike:         strike,
		Bid:            bid,
		Ask:            ask,
	}
	if delta != nil {
		o.Greeks = &broker.Greeks{Delta: delta}
	}
	return o
}

type sink struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (s *sink) Send(_ context.Context, msg notify.Message) notify.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	if s.err != nil {
		return notify.Result{Err: s.err}
	}
	return notify.Result{Delivered: true}
}

func position(exp string, short, long, entry float64) models.OpenPosition {
	return models.OpenPosition{
		Symbol:      "SPY",
		Expiration:  exp,
		OptionType:  models.OptionTypePut,
		ShortStrike: short,
		LongStrike:  long,
		EntryPrice:  entry,
		Active:      true,
	}
}

func TestPolicyClassify(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		name  string
		pnl   float64
		delta *float64
		want  models.AlertKind
	}{
		{"neutral", 10, f(-0.20), models.AlertNone},
		{"profit at threshold", 35, nil, models.AlertProfit},
		{"just below profit", 34.99, nil, models.AlertNone},
		{"loss at threshold", -25, nil, models.AlertLoss},
		{"just above loss", -24.99, nil, models.AlertNone},
		{"drift lower bound", 0, f(-0.40), models.AlertDeltaDrift},
		{"drift upper bound", 0, f(-0.35), models.AlertDeltaDrift},
		{"outside drift band", 0, f(-0.41), models.AlertNone},
		{"drift beats profit", 60, f(-0.37), models.AlertDeltaDrift},
		{"drift beats loss", -40, f(-0.36), models.AlertDeltaDrift},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Classify(models.PositionEvaluation{PnLPercent: tc.pnl, CurrentDelta: tc.delta})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPolicyClassify_DisabledRules(t *testing.T) {
	p := DefaultPolicy()
	p.DeltaDrift.Enabled = false
	assert.Equal(t, models.AlertProfit, p.Classify(models.PositionEvaluation{PnLPercent: 50, CurrentDelta: f(-0.37)}))

	p.Profit.Enabled = false
	assert.Equal(t, models.AlertNone, p.Classify(models.PositionEvaluation{PnLPercent: 50}))

	p.Loss.Enabled = false
	assert.Equal(t, models.AlertNone, p.Classify(models.PositionEvaluation{PnLPercent: -80}))
}

func TestEvaluate(t *testing.T) {
	exp := "2024-01-19"
	contracts := []models.OptionContract{
		{ExpirationDate: exp, OptionType: models.OptionTypePut, Strike: 450, Bid: 0.60, Ask: 0.64, Delta: f(-0.18)},
		{ExpirationDate: exp, OptionType: models.OptionTypePut, Strike: 445, Bid: 0.20, Ask: 0.24},
	}

	e, err := Evaluate(position(exp, 450, 445, 1.00), contracts, today)
	require.NoError(t, err)
	assert.Equal(t, 0.62, e.ShortMid)
	assert.Equal(t, 0.22, e.LongMid)
	assert.Equal(t, 0.40, e.CurrentValue)
	assert.Equal(t, 60.0, e.PnLPercent)
	assert.Equal(t, 14, e.DTE)
	require.NotNil(t, e.CurrentDelta)
	assert.Equal(t, -0.18, *e.CurrentDelta)
	assert.Equal(t, models.AlertNone, e.Alert)
}

func TestEvaluate_Failures(t *testing.T) {
	exp := "2024-01-19"
	full := []models.OptionContract{
		{ExpirationDate: exp, OptionType: models.OptionTypePut, Strike: 450, Bid: 0.60, Ask: 0.64},
		{ExpirationDate: exp, OptionType: models.OptionTypePut, Strike: 445, Bid: 0, Ask: 0.24},
	}

	_, err := Evaluate(position(exp, 450, 445, 0), full, today)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = Evaluate(position(exp, 450, 445, -1), full, today)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = Evaluate(position(exp, 450, 440, 1), full, today)
	assert.ErrorIs(t, err, ErrLegNotFound)

	_, err = Evaluate(position(exp, 455, 445, 1), full, today)
	assert.ErrorIs(t, err, ErrLegNotFound)

	_, err = Evaluate(position(exp, 450, 445, 1), full, today)
	assert.ErrorIs(t, err, ErrNoMidpoint)

	// a call at the same strike is not a leg of a put spread
	calls := []models.OptionContract{
		{ExpirationDate: exp, OptionType: models.OptionTypeCall, Strike: 450, Bid: 1, Ask: 1.1},
		{ExpirationDate: exp, OptionType: models.OptionTypeCall, Strike: 445, Bid: 1, Ask: 1.1},
	}
	_, err = Evaluate(position(exp, 450, 445, 1), calls, today)
	assert.ErrorIs(t, err, ErrLegNotFound)
}

func newTestMonitor(store storage.Interface, p broker.DataProvider, s notify.Sink) (*Monitor, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewMonitor(store, p, s, logger, DefaultConfig()), hook
}

func TestMonitorPositions_NoStore(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetLoadError(storage.ErrStoreNotFound)
	m, hook := newTestMonitor(store, newChainProvider(), &sink{})

	res := m.MonitorPositions(context.Background(), today)
	assert.Equal(t, StatusNoStore, res.Status)
	assert.Empty(t, res.Evaluations)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestMonitorPositions_LoadError(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetLoadError(errors.New("permission denied"))
	m, hook := newTestMonitor(store, newChainProvider(), &sink{})

	res := m.MonitorPositions(context.Background(), today)
	assert.Equal(t, StatusNoStore, res.Status)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestMonitorPositions_NoPositions(t *testing.T) {
	p := newChainProvider()
	m, _ := newTestMonitor(storage.NewMockStorage(), p, &sink{})

	res := m.MonitorPositions(context.Background(), today)
	assert.Equal(t, StatusNoPositions, res.Status)
	assert.Empty(t, p.calls)
}

func TestMonitorPositions_Evaluated(t *testing.T) {
	p := newChainProvider()
	p.chains["SPY|2024-01-19"] = []broker.Option{
		put("2024-01-19", 450, f(0.60), f(0.64), f(-0.15)),
		put("2024-01-19", 445, f(0.20), f(0.24), f(-0.09)),
		put("2024-01-19", 440, f(1.40), f(1.44), f(-0.30)),
		put("2024-01-19", 435, f(0.10), f(0.14), f(-0.05)),
		put("2024-01-19", 430, f(1.00), f(1.04), f(-0.37)),
		put("2024-01-19", 425, f(0.10), f(0.14), f(-0.03)),
		put("2024-01-19", 420, f(1.00), f(1.04), f(-0.20)),
		put("2024-01-19", 415, f(0.10), f(0.14), f(-0.02)),
	}

	inactive := position("2024-01-19", 450, 445, 1.00)
	inactive.Active = false
	store := storage.NewMockStorage(
		position("2024-01-19", 450, 445, 1.00), // profit: value 0.40, pnl 60
		position("2024-01-19", 440, 435, 1.00), // loss: value 1.30, pnl -30
		position("2024-01-19", 430, 425, 1.00), // drift: delta -0.37
		position("2024-01-19", 420, 415, 1.00), // neutral: value 0.90, pnl 10
		inactive,
	)
	s := &sink{}
	m, hook := newTestMonitor(store, p, s)

	res := m.MonitorPositions(context.Background(), today)
	assert.Equal(t, StatusEvaluated, res.Status)
	assert.Equal(t, 1, res.Inactive)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Evaluations, 4)

	kinds := make([]models.AlertKind, len(res.Evaluations))
	for i, e := range res.Evaluations {
		kinds[i] = e.Alert
	}
	assert.Equal(t, []models.AlertKind{
		models.AlertProfit, models.AlertLoss, models.AlertDeltaDrift, models.AlertNone,
	}, kinds)
	assert.Equal(t, 0.40, res.Evaluations[0].CurrentValue)
	assert.Equal(t, -30.0, res.Evaluations[1].PnLPercent)
	assert.Equal(t, 10.0, res.Evaluations[3].PnLPercent)

	assert.Equal(t, 3, res.AlertsSent)
	require.Len(t, s.msgs, 3)
	assert.Contains(t, s.msgs[0].Text, "Take profit")
	assert.Contains(t, s.msgs[1].Text, "Stop loss")
	assert.Contains(t, s.msgs[2].Text, "Delta drift")

	// one chain fetch per active position, always with greeks
	assert.Len(t, p.calls, 4)
	for _, g := range p.greeks {
		assert.True(t, g)
	}

	var sawInactive bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.DebugLevel && entry.Message == "Skipping inactive position" {
			sawInactive = true
		}
	}
	assert.True(t, sawInactive)
}

func TestMonitorPositions_SkipsUnpriceable(t *testing.T) {
	p := newChainProvider()
	p.errs["SPY|2024-01-12"] = errors.New("upstream 502")
	p.chains["SPY|2024-01-19"] = []broker.Option{
		put("2024-01-19", 450, f(0.60), f(0.64), nil),
		put("2024-01-19", 445, nil, f(0.24), nil), // null bid
	}
	// 2024-01-26 has no chain at all

	store := storage.NewMockStorage(
		position("2024-01-12", 450, 445, 1.00),
		position("2024-01-19", 450, 445, 1.00),
		position("2024-01-26", 450, 445, 1.00),
		position("2024-01-19", 450, 445, 0),
		models.OpenPosition{Symbol: "SPY", Expiration: "soon", Active: true, EntryPrice: 1},
	)
	s := &sink{}
	m, hook := newTestMonitor(store, p, s)

	res := m.MonitorPositions(context.Background(), today)
	assert.Equal(t, StatusEvaluated, res.Status)
	assert.Equal(t, 5, res.Skipped)
	assert.Empty(t, res.Evaluations)
	assert.Empty(t, s.msgs)
	// the invalid record never reaches the provider
	assert.Len(t, p.calls, 4)

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 5, warnings)
}

func TestMonitorPositions_NotificationFailureIsNotFatal(t *testing.T) {
	p := newChainProvider()
	p.chains["SPY|2024-01-19"] = []broker.Option{
		put("2024-01-19", 450, f(0.60), f(0.64), nil),
		put("2024-01-19", 445, f(0.20), f(0.24), nil),
	}
	store := storage.NewMockStorage(
		position("2024-01-19", 450, 445, 1.00),
		position("2024-01-19", 450, 445, 1.00),
	)
	s := &sink{err: errors.New("telegram down")}
	m, _ := newTestMonitor(store, p, s)

	res := m.MonitorPositions(context.Background(), today)
	assert.Len(t, res.Evaluations, 2)
	assert.Equal(t, 0, res.AlertsSent)
	assert.Len(t, s.msgs, 2)
}

func TestMonitorPositions_NilSink(t *testing.T) {
	p := newChainProvider()
	p.chains["SPY|2024-01-19"] = []broker.Option{
		put("2024-01-19", 450, f(0.60), f(0.64), nil),
		put("2024-01-19", 445, f(0.20), f(0.24), nil),
	}
	m, _ := newTestMonitor(storage.NewMockStorage(position("2024-01-19", 450, 445, 1.00)), p, nil)

	res := m.MonitorPositions(context.Background(), today)
	require.Len(t, res.Evaluations, 1)
	assert.Equal(t, models.AlertProfit, res.Evaluations[0].Alert)
	assert.Equal(t, 0, res.AlertsSent)
}
