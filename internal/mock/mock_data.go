// Package mock provides a deterministic synthetic market data provider used
// for dry runs and tests. Prices follow a Black-Scholes model around a fixed
// spot so the same inputs always yield the same chain.
package mock

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eddiefleurent/putspread_sentinel/internal/broker"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/util"
)

// DataProvider generates market data from a small set of parameters.
type DataProvider struct {
	now         func() time.Time
	spot        float64
	vix         float64
	midIV       float64 // annualized implied volatility used for pricing and deltas
	strikeStep  float64
	halfSpread  float64
	expirations int
	trendPerDay float64
	volSymbol   string
}

var _ broker.DataProvider = (*DataProvider)(nil)

// Option configures a DataProvider.
type Option func(*DataProvider)

// WithSpot sets the underlying price.
func WithSpot(spot float64) Option { return func(m *DataProvider) { m.spot = spot } }

// WithVIX sets the quote returned for the volatility index symbol.
func WithVIX(vix float64) Option { return func(m *DataProvider) { m.vix = vix } }

// WithIV sets the implied volatility used for pricing.
func WithIV(iv float64) Option { return func(m *DataProvider) { m.midIV = iv } }

// WithClock sets the clock used to list upcoming expirations.
func WithClock(now func() time.Time) Option { return func(m *DataProvider) { m.now = now } }

// WithVolatilitySymbol sets the symbol answered with the VIX level.
func WithVolatilitySymbol(symbol string) Option {
	return func(m *DataProvider) { m.volSymbol = strings.ToUpper(symbol) }
}

// NewDataProvider returns a provider modelling SPY at 450 with VIX at 18.
func NewDataProvider(opts ...Option) *DataProvider {
	m := &DataProvider{
		now:         time.Now,
		spot:        450.0,
		vix:         18.0,
		midIV:       0.18,
		strikeStep:  1.0,
		halfSpread:  0.02,
		expirations: 8,
		trendPerDay: 0.0006,
		volSymbol:   "VIX",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetHistory returns one bar per weekday between start and end. Closes trend
// gently upward into the current spot with a small oscillation, which keeps
// the latest close above its 30 day average.
func (m *DataProvider) GetHistory(_ context.Context, symbol, _ string, start, end time.Time) ([]models.PriceBar, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("history for %s: end %s before start %s", symbol, end.Format(util.DateLayout), start.Format(util.DateLayout))
	}
	var bars []models.PriceBar
	i := 0
	for d := truncateDay(start); !d.After(truncateDay(end)); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		daysBack := float64(util.DaysUntil(d, end))
		px := m.spot*(1-m.trendPerDay*daysBack) + 1.5*math.Sin(float64(i)/2.0)
		bars = append(bars, models.PriceBar{Date: d, Close: util.Round2(px)})
		i++
	}
	return bars, nil
}

// GetQuote returns the VIX level for the volatility symbol and the spot otherwise.
func (m *DataProvider) GetQuote(_ context.Context, symbol string) (*broker.QuoteItem, error) {
	last := m.spot
	if strings.EqualFold(symbol, m.volSymbol) {
		last = m.vix
	}
	return &broker.QuoteItem{
		Symbol: symbol,
		Last:   last,
		Bid:    util.Round2(last - 0.01),
		Ask:    util.Round2(last + 0.01),
	}, nil
}

// GetExpirations lists the next weekly Friday expirations after the clock's date.
func (m *DataProvider) GetExpirations(_ context.Context, _ string) ([]string, error) {
	d := truncateDay(m.now())
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	dates := make([]string, 0, m.expirations)
	for i := 0; i < m.expirations; i++ {
		dates = append(dates, d.AddDate(0, 0, 7*i).Format(util.DateLayout))
	}
	return dates, nil
}

// GetOptionChain prices puts and calls on a one dollar strike grid from 15%
// below to 5% above spot.
func (m *DataProvider) GetOptionChain(_ context.Context, symbol, expiration string, withGreeks bool) ([]broker.Option, error) {
	expDate, err := util.ParseDate(expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}
	dte := util.DaysUntil(m.now(), expDate)
	if dte < 1 {
		dte = 1 // Clamp so time value stays positive
	}
	t := float64(dte) / 365.0

	startStrike := math.Floor(m.spot*0.85/m.strikeStep) * m.strikeStep
	endStrike := math.Ceil(m.spot*1.05/m.strikeStep) * m.strikeStep

	var options []broker.Option
	for strike := startStrike; strike <= endStrike+1e-9; strike += m.strikeStep {
		putPrice, putDelta := m.price(models.OptionTypePut, strike, t)
		callPrice, callDelta := m.price(models.OptionTypeCall, strike, t)
		options = append(options,
			m.contract(symbol, expDate, models.OptionTypePut, strike, putPrice, putDelta, withGreeks),
			m.contract(symbol, expDate, models.OptionTypeCall, strike, callPrice, callDelta, withGreeks),
		)
	}
	return options, nil
}

func (m *DataProvider) contract(symbol string, exp time.Time, typ models.OptionType, strike, price, delta float64, withGreeks bool) broker.Option {
	bid := util.Round2(math.Max(0.01, price-m.halfSpread))
	ask := util.Round2(math.Max(bid+0.01, price+m.halfSpread))
	opt := broker.Option{
		Symbol:         OCCSymbol(symbol, exp, typ, strike),
		Description:    fmt.Sprintf("%s %s $%.2f %s", symbol, exp.Format("Jan 02 2006"), strike, typeLabel(typ)),
		Strike:         strike,
		OptionType:     string(typ),
		ExpirationDate: exp.Format(util.DateLayout),
		Underlying:     symbol,
		Bid:            &bid,
		Ask:            &ask,
		Last:           util.Round2(price),
	}
	if withGreeks {
		d := math.Round(delta*10000) / 10000
		opt.Greeks = &broker.Greeks{Delta: &d, MidIV: m.midIV}
	}
	return opt
}

// price returns the Black-Scholes premium and delta with zero rates.
func (m *DataProvider) price(typ models.OptionType, strike, t float64) (float64, float64) {
	sigmaT := m.midIV * math.Sqrt(t)
	d1 := math.Log(m.spot/strike)/sigmaT + sigmaT/2
	d2 := d1 - sigmaT
	if typ == models.OptionTypePut {
		return strike*normCDF(-d2) - m.spot*normCDF(-d1), normCDF(d1) - 1
	}
	return m.spot*normCDF(d1) - strike*normCDF(d2), normCDF(d1)
}

func typeLabel(typ models.OptionType) string {
	if typ == models.OptionTypeCall {
		return "Call"
	}
	return "Put"
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func truncateDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// OCCSymbol builds the OCC option symbol, e.g. SPY240119P00450000.
func OCCSymbol(underlying string, exp time.Time, typ models.OptionType, strike float64) string {
	cp := "P"
	if typ == models.OptionTypeCall {
		cp = "C"
	}
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), exp.Format("060102"), cp, int(math.Round(strike*1000)))
}
