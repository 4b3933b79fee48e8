// Package strategy implements the bull put spread screener: the technical and
// volatility entry gates, expiration selection, spread construction and ranking.
package strategy

import (
	"time"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// Config holds the screener parameters.
type Config struct {
	Symbol             string
	HistoryInterval    string
	HistoryLookback    int // calendar days of history requested for the indicators
	RSIMin             float64
	RSIMax             float64
	Volatility         VolatilityConfig
	MinDTE             int
	MaxDTE             int
	Spread             SpreadParams
	MaxParallelFetches int
	// RequestTimeout bounds one provider call, retries included.
	RequestTimeout time.Duration
}

// VolatilityConfig configures the volatility regime gate.
type VolatilityConfig struct {
	Enabled bool
	Symbol  string
	Min     float64
	Max     float64
}

// SpreadParams constrains spread construction. DeltaMin and DeltaMax bound
// the short leg delta, e.g. [-0.28, -0.22].
type SpreadParams struct {
	OptionType models.OptionType
	DeltaMin   float64
	DeltaMax   float64
	Width      float64
	MinCredit  float64
}

// DefaultConfig returns the SPY defaults.
func DefaultConfig() Config {
	return Config{
		Symbol:          "SPY",
		HistoryInterval: "daily",
		HistoryLookback: 120,
		RSIMin:          45,
		RSIMax:          65,
		Volatility: VolatilityConfig{
			Enabled: true,
			Symbol:  "VIX",
			Min:     15,
			Max:     30,
		},
		MinDTE: 15,
		MaxDTE: 30,
		Spread: SpreadParams{
			OptionType: models.OptionTypePut,
			DeltaMin:   -0.28,
			DeltaMax:   -0.22,
			Width:      5,
			MinCredit:  0.75,
		},
		MaxParallelFetches: 4,
		RequestTimeout:     10 * time.Second,
	}
}
