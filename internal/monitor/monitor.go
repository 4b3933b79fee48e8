package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/putspread_sentinel/internal/broker"
	"github.com/eddiefleurent/putspread_sentinel/internal/chain"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/notify"
	"github.com/eddiefleurent/putspread_sentinel/internal/storage"
)

// Status is the terminal state of a monitor run.
type Status string

// Monitor outcomes
const (
	StatusNoStore     Status = "no_store"
	StatusNoPositions Status = "no_positions"
	StatusEvaluated   Status = "evaluated"
)

// Result reports one monitor run.
type Result struct {
	Status      Status                      `json:"status"`
	Date        string                      `json:"date"`
	Evaluations []models.PositionEvaluation `json:"evaluations"`
	Inactive    int                         `json:"inactive"`
	Skipped     int                         `json:"skipped"`
	AlertsSent  int                         `json:"alerts_sent"`
}

// Monitor evaluates the positions of a store. A nil sink disables
// notifications.
type Monitor struct {
	store    storage.Interface
	provider broker.DataProvider
	sink     notify.Sink
	logger   logrus.FieldLogger
	config   Config
}

// NewMonitor creates a Monitor.
func NewMonitor(store storage.Interface, provider broker.DataProvider, sink notify.Sink, logger logrus.FieldLogger, config Config) *Monitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Monitor{
		store:    store,
		provider: provider,
		sink:     sink,
		logger:   logger,
		config:   config,
	}
}

// MonitorPositions evaluates every active position once and notifies the
// ones that match an exit rule. The store is only read. Failures degrade to
// a status or a skipped position; the run never returns an error.
func (m *Monitor) MonitorPositions(ctx context.Context, today time.Time) Result {
	res := Result{
		Date:        today.Format("2006-01-02"),
		Evaluations: []models.PositionEvaluation{},
	}

	positions, err := m.store.LoadPositions()
	if err != nil {
		if errors.Is(err, storage.ErrStoreNotFound) {
			m.logger.WithError(err).Info("No open positions file found")
		} else {
			m.logger.WithError(err).Error("Failed to load positions")
		}
		res.Status = StatusNoStore
		return res
	}
	if len(positions) == 0 {
		m.logger.Info("No open positions to monitor")
		res.Status = StatusNoPositions
		return res
	}

	res.Status = StatusEvaluated
	for _, pos := range positions {
		log := m.logger.WithField("position", pos.Label())
		if !pos.Active {
			log.Debug("Skipping inactive position")
			res.Inactive++
			continue
		}

		e, ok := m.evaluate(ctx, log, pos, today)
		if !ok {
			res.Skipped++
			continue
		}
		e.Alert = m.config.Policy.Classify(e)
		res.Evaluations = append(res.Evaluations, e)

		fields := logrus.Fields{
			"entry":       pos.EntryPrice,
			"value":       e.CurrentValue,
			"pnl_percent": e.PnLPercent,
			"dte":         e.DTE,
			"alert":       e.Alert.String(),
		}
		if e.CurrentDelta != nil {
			fields["short_delta"] = *e.CurrentDelta
		}
		log.WithFields(fields).Info("Position evaluated")

		if e.Alert == models.AlertNone || m.sink == nil {
			continue
		}
		if notify.Deliver(ctx, log, m.sink, notify.CloseAlertMessage(e)).Delivered {
			res.AlertsSent++
		}
	}
	return res
}

func (m *Monitor) evaluate(ctx context.Context, log logrus.FieldLogger, pos models.OpenPosition, today time.Time) (models.PositionEvaluation, bool) {
	if err := pos.Validate(); err != nil {
		log.WithError(err).Warn("Invalid position record, skipping")
		return models.PositionEvaluation{}, false
	}

	callCtx, cancel := m.callContext(ctx)
	raw, err := m.provider.GetOptionChain(callCtx, pos.Symbol, pos.Expiration, true)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Failed to fetch option chain, skipping position")
		return models.PositionEvaluation{}, false
	}
	if len(raw) == 0 {
		log.Warn("Empty option chain; check that the expiration and strikes exist")
		return models.PositionEvaluation{}, false
	}

	e, err := Evaluate(pos, chain.Normalize(raw, false), today)
	if err != nil {
		log.WithError(err).Warn("Could not price spread, skipping position")
		return models.PositionEvaluation{}, false
	}
	return e, true
}

func (m *Monitor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.config.RequestTimeout)
}
