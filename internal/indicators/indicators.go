// Package indicators computes the technical series the entry gate reads:
// a simple moving average and an RSI built from simple rolling means.
package indicators

import (
	"errors"
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

const (
	// SMAPeriod is the moving average window in bars
	SMAPeriod = 30
	// RSIPeriod is the RSI window in deltas
	RSIPeriod = 14
)

// ErrInsufficientData is returned when there are fewer bars than the longest window.
var ErrInsufficientData = errors.New("insufficient price history")

// Series is a bar-aligned sequence of optional values.
type Series struct {
	values  []float64
	defined []bool
}

func newSeries(n int) Series {
	return Series{values: make([]float64, n), defined: make([]bool, n)}
}

func (s Series) set(i int, v float64) {
	s.values[i] = v
	s.defined[i] = true
}

// Len returns the number of positions, defined or not.
func (s Series) Len() int { return len(s.values) }

// At returns the value at bar i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s.values) || !s.defined[i] {
		return 0, false
	}
	return s.values[i], true
}

// Latest returns the value at the last bar.
func (s Series) Latest() (float64, bool) {
	return s.At(len(s.values) - 1)
}

// Derived holds the indicator series aligned to the input bars.
type Derived struct {
	SMA Series
	RSI Series
}

// Snapshot is the latest bar's close with its indicator values.
type Snapshot struct {
	Close float64
	SMA   float64
	RSI   float64
}

// SMA returns the trailing simple moving average for every bar; bars before
// index period-1 are undefined.
func SMA(closes []float64, period int) Series {
	out := newSeries(len(closes))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(closes); i++ {
		mean, err := stats.Mean(closes[i-period+1 : i+1])
		if err != nil {
			continue
		}
		out.set(i, mean)
	}
	return out
}

// RSI returns the relative strength index using simple means of the trailing
// period gains and losses. The first value is at index period. When the
// average loss is zero the value is 100.
func RSI(closes []float64, period int) Series {
	out := newSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	for i := period; i < len(closes); i++ {
		avgGain, errG := stats.Mean(gains[i-period+1 : i+1])
		avgLoss, errL := stats.Mean(losses[i-period+1 : i+1])
		if errG != nil || errL != nil {
			continue
		}
		out.set(i, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Closes extracts the close column.
func Closes(bars []models.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Derive computes SMA(30) and RSI(14) aligned to bars.
func Derive(bars []models.PriceBar) Derived {
	closes := Closes(bars)
	return Derived{
		SMA: SMA(closes, SMAPeriod),
		RSI: RSI(closes, RSIPeriod),
	}
}

// Latest returns the most recent close with its SMA and RSI.
func Latest(bars []models.PriceBar) (Snapshot, error) {
	if len(bars) < SMAPeriod {
		return Snapshot{}, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientData, len(bars), SMAPeriod)
	}
	d := Derive(bars)
	sma, ok := d.SMA.Latest()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: SMA undefined", ErrInsufficientData)
	}
	rsi, ok := d.RSI.Latest()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: RSI undefined", ErrInsufficientData)
	}
	return Snapshot{Close: bars[len(bars)-1].Close, SMA: sma, RSI: rsi}, nil
}
