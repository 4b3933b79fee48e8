package strategy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/putspread_sentinel/internal/broker"
	"github.com/eddiefleurent/putspread_sentinel/internal/chain"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/notify"
)

// ScreenStatus is the terminal state of a screening run.
type ScreenStatus string

// Screening outcomes
const (
	StatusTechnicalsFailed     ScreenStatus = "technicals_failed"
	StatusVolatilityOutOfRange ScreenStatus = "volatility_out_of_range"
	StatusNoExpirations        ScreenStatus = "no_expirations"
	StatusNoCandidates         ScreenStatus = "no_candidates"
	StatusCandidateFound       ScreenStatus = "candidate_found"
)

// ScreenResult reports one screening run.
type ScreenResult struct {
	Status         ScreenStatus             `json:"status"`
	Symbol         string                   `json:"symbol"`
	Date           string                   `json:"date"`
	Technicals     GateResult               `json:"technicals"`
	Volatility     *GateResult              `json:"volatility,omitempty"`
	Expirations    []string                 `json:"expirations,omitempty"`
	FetchFailures  int                      `json:"fetch_failures"`
	Candidates     []models.SpreadCandidate `json:"candidates"`
	Best           *models.SpreadCandidate  `json:"best,omitempty"`
	AlertDelivered bool                     `json:"alert_delivered"`
}

// Screener runs the entry pipeline against a data provider. A nil sink
// disables notifications.
type Screener struct {
	provider broker.DataProvider
	sink     notify.Sink
	logger   logrus.FieldLogger
	config   Config
}

// NewScreener creates a Screener.
func NewScreener(provider broker.DataProvider, sink notify.Sink, logger logrus.FieldLogger, config Config) *Screener {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.MaxParallelFetches < 1 {
		config.MaxParallelFetches = 1
	}
	return &Screener{
		provider: provider,
		sink:     sink,
		logger:   logger,
		config:   config,
	}
}

// Config returns the screener configuration.
func (s *Screener) Config() Config { return s.config }

func (s *Screener) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.RequestTimeout)
}

// ScreenForSpreads runs the gates, builds and ranks candidates across the
// eligible expirations, and notifies the best one. Failures degrade to a
// status; the run never returns an error.
func (s *Screener) ScreenForSpreads(ctx context.Context, today time.Time) ScreenResult {
	res := ScreenResult{
		Symbol:     s.config.Symbol,
		Date:       today.Format("2006-01-02"),
		Candidates: []models.SpreadCandidate{},
	}

	res.Technicals = s.TechnicalsPass(ctx, today)
	if !res.Technicals.Pass {
		res.Status = StatusTechnicalsFailed
		return res
	}

	vol := s.VolatilityInRange(ctx)
	res.Volatility = &vol
	if !vol.Pass {
		res.Status = StatusVolatilityOutOfRange
		return res
	}

	callCtx, cancel := s.callContext(ctx)
	dates, err := s.provider.GetExpirations(callCtx, s.config.Symbol)
	cancel()
	if err != nil {
		s.logger.WithError(err).WithField("symbol", s.config.Symbol).Warn("Failed to fetch expirations")
	}
	res.Expirations = FilterExpirations(dates, today, s.config.MinDTE, s.config.MaxDTE)
	if len(res.Expirations) == 0 {
		s.logger.WithFields(logrus.Fields{
			"available": len(dates),
			"min_dte":   s.config.MinDTE,
			"max_dte":   s.config.MaxDTE,
		}).Info("No expirations in DTE window")
		res.Status = StatusNoExpirations
		return res
	}

	perExpiration, failures := s.collectCandidates(ctx, res.Expirations, today)
	res.FetchFailures = failures

	var all []models.SpreadCandidate
	for _, c := range perExpiration {
		all = append(all, c...)
	}
	res.Candidates = RankCandidates(all)

	if len(res.Candidates) == 0 {
		s.logger.WithField("expirations", len(res.Expirations)).Info("No spreads met the criteria")
		res.Status = StatusNoCandidates
		return res
	}

	best := res.Candidates[0]
	res.Best = &best
	res.Status = StatusCandidateFound
	s.logger.WithFields(logrus.Fields{
		"candidates": len(res.Candidates),
		"expiration": best.ExpirationDate,
		"short":      best.ShortStrike,
		"long":       best.LongStrike,
		"credit":     best.Credit,
	}).Info("Spread candidates found")

	if s.sink != nil {
		res.AlertDelivered = notify.Deliver(ctx, s.logger, s.sink, notify.OpportunityMessage(best)).Delivered
	}
	return res
}

// collectCandidates fetches and builds each expiration concurrently. Slot i
// of the result belongs to expirations[i], so concatenation order does not
// depend on scheduling.
func (s *Screener) collectCandidates(ctx context.Context, expirations []string, today time.Time) ([][]models.SpreadCandidate, int) {
	results := make([][]models.SpreadCandidate, len(expirations))
	var failures atomic.Int32

	var g errgroup.Group
	g.SetLimit(s.config.MaxParallelFetches)
	for i, exp := range expirations {
		g.Go(func() error {
			cands, ok := s.candidatesFor(ctx, exp, today)
			if !ok {
				failures.Add(1)
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return results, int(failures.Load())
}

func (s *Screener) candidatesFor(ctx context.Context, expiration string, today time.Time) ([]models.SpreadCandidate, bool) {
	log := s.logger.WithFields(logrus.Fields{"symbol": s.config.Symbol, "expiration": expiration})

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	raw, err := s.provider.GetOptionChain(callCtx, s.config.Symbol, expiration, true)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch option chain, skipping expiration")
		return nil, false
	}
	if len(raw) == 0 {
		log.Info("Empty option chain (provider returned no options)")
		return nil, true
	}

	contracts := chain.Normalize(raw, true)
	cands := BuildSpreads(contracts, expiration, today, s.config.Spread)
	log.WithFields(logrus.Fields{
		"contracts":  len(contracts),
		"candidates": len(cands),
	}).Debug("Built spreads")
	return cands, true
}
