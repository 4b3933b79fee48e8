package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/putspread_sentinel/internal/indicators"
)

// GateResult is the outcome of an entry gate. Gates fail closed: any fetch or
// computation error yields Pass=false with the error in Reason.
type GateResult struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason"`
}

// TechnicalsPass fetches daily history ending today and passes when RSI lies
// strictly inside (RSIMin, RSIMax) and the latest close is above its SMA.
func (s *Screener) TechnicalsPass(ctx context.Context, today time.Time) GateResult {
	log := s.logger.WithField("symbol", s.config.Symbol)

	start := today.AddDate(0, 0, -s.config.HistoryLookback)
	callCtx, cancel := s.callContext(ctx)
	bars, err := s.provider.GetHistory(callCtx, s.config.Symbol, s.config.HistoryInterval, start, today)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Failed to fetch price history")
		return GateResult{Reason: fmt.Sprintf("history unavailable: %v", err)}
	}

	snap, err := indicators.Latest(bars)
	if err != nil {
		log.WithError(err).WithField("bars", len(bars)).Warn("Cannot compute indicators")
		return GateResult{Reason: err.Error()}
	}

	log = log.WithFields(logrus.Fields{
		"rsi":   fmt.Sprintf("%.2f", snap.RSI),
		"sma":   fmt.Sprintf("%.2f", snap.SMA),
		"close": fmt.Sprintf("%.2f", snap.Close),
	})

	rsiOK := snap.RSI > s.config.RSIMin && snap.RSI < s.config.RSIMax
	trendOK := snap.Close > snap.SMA
	reason := fmt.Sprintf("RSI %.2f (band %.0f-%.0f), close %.2f vs SMA30 %.2f",
		snap.RSI, s.config.RSIMin, s.config.RSIMax, snap.Close, snap.SMA)

	if !rsiOK || !trendOK {
		log.Info("Technical conditions not met")
		return GateResult{Reason: reason}
	}
	log.Info("Technical conditions met")
	return GateResult{Pass: true, Reason: reason}
}

// VolatilityInRange passes when the volatility index last price lies within
// [Min, Max] inclusive. A disabled gate always passes.
func (s *Screener) VolatilityInRange(ctx context.Context) GateResult {
	vc := s.config.Volatility
	if !vc.Enabled {
		return GateResult{Pass: true, Reason: "volatility gate disabled"}
	}
	log := s.logger.WithField("symbol", vc.Symbol)

	callCtx, cancel := s.callContext(ctx)
	quote, err := s.provider.GetQuote(callCtx, vc.Symbol)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Failed to fetch volatility quote")
		return GateResult{Reason: fmt.Sprintf("volatility quote unavailable: %v", err)}
	}

	reason := fmt.Sprintf("%s %.2f (band %.2f-%.2f)", vc.Symbol, quote.Last, vc.Min, vc.Max)
	if quote.Last < vc.Min || quote.Last > vc.Max {
		log.WithField("last", quote.Last).Info("Volatility out of range")
		return GateResult{Reason: reason}
	}
	return GateResult{Pass: true, Reason: reason}
}
