package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// DataProvider is the read-only market data surface the screener and the
// monitor depend on.
type DataProvider interface {
	GetHistory(ctx context.Context, symbol, interval string, start, end time.Time) ([]models.PriceBar, error)
	GetQuote(ctx context.Context, symbol string) (*QuoteItem, error)
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
	GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]Option, error)
}

// Ensure TradierAPI implements DataProvider at compile time.
var _ DataProvider = (*TradierAPI)(nil)

// CircuitBreakerProvider wraps a DataProvider with circuit breaker functionality
type CircuitBreakerProvider struct {
	provider DataProvider
	breaker  *gobreaker.CircuitBreaker
}

var _ DataProvider = (*CircuitBreakerProvider)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	provider DataProvider,
	fn func(DataProvider) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(provider) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after a 60% failure rate over at least
// five requests in a one minute window.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerProvider creates a CircuitBreakerProvider with the default settings
func NewCircuitBreakerProvider(provider DataProvider, logger logrus.FieldLogger) *CircuitBreakerProvider {
	return NewCircuitBreakerProviderWithSettings(provider, logger, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerProviderWithSettings creates a CircuitBreakerProvider with custom settings
func NewCircuitBreakerProviderWithSettings(
	provider DataProvider,
	logger logrus.FieldLogger,
	settings CircuitBreakerSettings,
) *CircuitBreakerProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State reports the breaker state.
func (c *CircuitBreakerProvider) State() gobreaker.State {
	return c.breaker.State()
}

// GetHistory wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) GetHistory(ctx context.Context, symbol, interval string, start, end time.Time) ([]models.PriceBar, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p DataProvider) ([]models.PriceBar, error) {
		return p.GetHistory(ctx, symbol, interval, start, end)
	})
}

// GetQuote wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p DataProvider) (*QuoteItem, error) {
		return p.GetQuote(ctx, symbol)
	})
}

// GetExpirations wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p DataProvider) ([]string, error) {
		return p.GetExpirations(ctx, symbol)
	})
}

// GetOptionChain wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]Option, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p DataProvider) ([]Option, error) {
		return p.GetOptionChain(ctx, symbol, expiration, withGreeks)
	})
}
