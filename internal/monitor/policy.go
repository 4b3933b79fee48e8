// Package monitor marks open spread positions to market and raises exit
// alerts on profit, loss and short-leg delta drift.
package monitor

import (
	"time"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// Rule is a threshold that can be switched off independently.
type Rule struct {
	Enabled   bool
	Threshold float64
}

// DeltaBand is an inclusive range on the short leg delta, e.g. [-0.40, -0.35].
type DeltaBand struct {
	Enabled bool
	Min     float64
	Max     float64
}

// Contains reports whether d lies inside the band, bounds included.
func (b DeltaBand) Contains(d float64) bool {
	return d >= b.Min && d <= b.Max
}

// Policy holds the exit rules. Rules are evaluated in a fixed order and the
// first match wins: delta drift, then profit, then loss.
type Policy struct {
	DeltaDrift DeltaBand
	Profit     Rule // pnl percent at or above Threshold
	Loss       Rule // pnl percent at or below Threshold (negative)
}

// DefaultPolicy enables all three rules.
func DefaultPolicy() Policy {
	return Policy{
		DeltaDrift: DeltaBand{Enabled: true, Min: -0.40, Max: -0.35},
		Profit:     Rule{Enabled: true, Threshold: 35},
		Loss:       Rule{Enabled: true, Threshold: -25},
	}
}

// Classify returns the first rule matched by e, or AlertNone.
func (p Policy) Classify(e models.PositionEvaluation) models.AlertKind {
	if p.DeltaDrift.Enabled && e.CurrentDelta != nil && p.DeltaDrift.Contains(*e.CurrentDelta) {
		return models.AlertDeltaDrift
	}
	if p.Profit.Enabled && e.PnLPercent >= p.Profit.Threshold {
		return models.AlertProfit
	}
	if p.Loss.Enabled && e.PnLPercent <= p.Loss.Threshold {
		return models.AlertLoss
	}
	return models.AlertNone
}

// Config configures a Monitor.
type Config struct {
	Policy Policy
	// RequestTimeout bounds one provider call, retries included.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default policy with a 10s request timeout.
func DefaultConfig() Config {
	return Config{
		Policy:         DefaultPolicy(),
		RequestTimeout: 10 * time.Second,
	}
}
