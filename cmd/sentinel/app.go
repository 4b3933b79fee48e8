package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eddiefleurent/putspread_sentinel/internal/broker"
	"github.com/eddiefleurent/putspread_sentinel/internal/config"
	"github.com/eddiefleurent/putspread_sentinel/internal/journal"
	"github.com/eddiefleurent/putspread_sentinel/internal/mock"
	"github.com/eddiefleurent/putspread_sentinel/internal/monitor"
	"github.com/eddiefleurent/putspread_sentinel/internal/notify"
	"github.com/eddiefleurent/putspread_sentinel/internal/retry"
	"github.com/eddiefleurent/putspread_sentinel/internal/storage"
	"github.com/eddiefleurent/putspread_sentinel/internal/strategy"
)

// clock is the wall clock; tests pin it.
var clock = time.Now

// app holds the wired dependencies for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	out      io.Writer
	provider broker.DataProvider
	sink     notify.Sink
	journal  *journal.Journal
	dryRun   bool
	now      func() time.Time
	closers  []io.Closer
}

// newApp loads the configuration and builds the provider chain:
// Tradier, then retries, then the circuit breaker. Dry runs use the
// deterministic mock provider, print alerts to out and skip the journal.
func newApp(configPath string, dryRun bool, out, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	a := &app{cfg: cfg, out: out, dryRun: dryRun, now: clock}

	logger, closer, err := newLogger(cfg.Logging, logOut)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	a.provider = a.buildProvider()
	a.sink = a.buildSink()

	if !dryRun {
		j, err := journal.Open(cfg.Journal.DSN)
		if err != nil {
			// the journal is an audit trail; runs go on without it
			a.logger.WithError(err).Warn("Run journal unavailable")
		} else if j != nil {
			a.journal = j
			a.closers = append(a.closers, j)
		}
	}
	return a, nil
}

func (a *app) buildProvider() broker.DataProvider {
	if a.dryRun {
		a.logger.Info("Dry run: using simulated market data")
		return mock.NewDataProvider(
			mock.WithClock(a.now),
			mock.WithVolatilitySymbol(a.cfg.Screener.Volatility.Symbol),
		)
	}

	var p broker.DataProvider = broker.NewTradierAPI(
		a.cfg.Broker.APIKey,
		a.cfg.IsSandbox(),
		broker.WithBaseURL(a.cfg.Broker.APIEndpoint),
		broker.WithTimeout(a.cfg.RequestTimeout()),
		broker.WithRateLimits(broker.RateLimits{MarketData: a.cfg.Broker.RateLimitPerMinute}),
		broker.WithLogger(a.logger),
	)
	p = retry.NewProvider(p, a.logger, a.cfg.RetrySettings())
	if a.cfg.BreakerEnabled() {
		p = broker.NewCircuitBreakerProviderWithSettings(p, a.logger, a.cfg.BreakerSettings())
	}
	return p
}

func (a *app) buildSink() notify.Sink {
	var sinks []notify.Sink
	if a.cfg.Notify.Console || a.dryRun {
		sinks = append(sinks, notify.NewConsoleSink(a.out))
	}
	if a.cfg.Notify.Telegram.Enabled && !a.dryRun {
		t := a.cfg.Notify.Telegram
		sinks = append(sinks, notify.NewTelegramSink(t.BotToken, t.ChatID, t.APIEndpoint, a.cfg.TelegramTimeout()))
	}
	if len(sinks) == 0 {
		return nil
	}
	return notify.NewMultiSink(sinks...)
}

// screener builds a Screener; notifications are sent only when notifying is set.
func (a *app) screener(notifying bool) *strategy.Screener {
	var sink notify.Sink
	if notifying {
		sink = a.sink
	}
	return strategy.NewScreener(a.provider, sink, a.logger, a.cfg.StrategyConfig())
}

func (a *app) monitor(notifying bool) *monitor.Monitor {
	var sink notify.Sink
	if notifying {
		sink = a.sink
	}
	return monitor.NewMonitor(storage.NewStorage(a.cfg.Storage.Path), a.provider, sink, a.logger, a.cfg.MonitorConfig())
}

func (a *app) today() time.Time {
	return a.cfg.Today(a.now())
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newLogger builds the process logger. When cfg.File is set, entries also go
// to a size-rotated file.
func newLogger(cfg config.LoggingConfig, out io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	if cfg.File == "" {
		logger.SetOutput(out)
		return logger, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(out, fileWriter))
	return logger, fileWriter, nil
}
