// Package retry wraps a market data provider so transient upstream failures
// are retried with jittered exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/putspread_sentinel/internal/broker"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// Config controls the retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig retries twice starting at 500ms.
var DefaultConfig = Config{
	MaxRetries:     2,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// CallBudget returns the longest a retried call can run when each attempt is
// bounded by attemptTimeout: every attempt plus the worst-case jittered
// backoff between them. Callers use it as the deadline of one provider call
// so an attempt that times out still leaves room for the retries.
func (c Config) CallBudget(attemptTimeout time.Duration) time.Duration {
	if c.MaxRetries < 0 {
		return attemptTimeout
	}
	total := attemptTimeout * time.Duration(c.MaxRetries+1)
	backoff := c.InitialBackoff
	for i := 0; i < c.MaxRetries; i++ {
		total += backoff
		next := time.Duration(float64(backoff) * 1.5)
		if next > c.MaxBackoff {
			next = c.MaxBackoff
		}
		backoff = next + next/4
	}
	return total
}

// Provider retries transient failures of the wrapped DataProvider.
type Provider struct {
	next   broker.DataProvider
	logger logrus.FieldLogger
	config Config
}

var _ broker.DataProvider = (*Provider)(nil)

// NewProvider wraps next. The optional config replaces DefaultConfig.
func NewProvider(next broker.DataProvider, logger logrus.FieldLogger, config ...Config) *Provider {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{next: next, logger: logger, config: cfg}
}

// GetHistory retries the wrapped call.
func (p *Provider) GetHistory(ctx context.Context, symbol, interval string, start, end time.Time) ([]models.PriceBar, error) {
	return do(ctx, p, "history "+symbol, func(ctx context.Context) ([]models.PriceBar, error) {
		return p.next.GetHistory(ctx, symbol, interval, start, end)
	})
}

// GetQuote retries the wrapped call.
func (p *Provider) GetQuote(ctx context.Context, symbol string) (*broker.QuoteItem, error) {
	return do(ctx, p, "quote "+symbol, func(ctx context.Context) (*broker.QuoteItem, error) {
		return p.next.GetQuote(ctx, symbol)
	})
}

// GetExpirations retries the wrapped call.
func (p *Provider) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	return do(ctx, p, "expirations "+symbol, func(ctx context.Context) ([]string, error) {
		return p.next.GetExpirations(ctx, symbol)
	})
}

// GetOptionChain retries the wrapped call.
func (p *Provider) GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]broker.Option, error) {
	return do(ctx, p, "chain "+symbol+" "+expiration, func(ctx context.Context) ([]broker.Option, error) {
		return p.next.GetOptionChain(ctx, symbol, expiration, withGreeks)
	})
}

func do[T any](ctx context.Context, p *Provider, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				p.logger.WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).Info("Request succeeded after retry")
			}
			return v, nil
		}
		lastErr = err

		if !IsTransientError(err) || attempt == p.config.MaxRetries {
			break
		}

		p.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).WithError(err).Warn("Transient error, retrying")

		select {
		case <-time.After(backoff):
			backoff = p.calculateNextBackoff(backoff)
		case <-ctx.Done():
			return zero, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}

	return zero, lastErr
}

func (p *Provider) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > p.config.MaxBackoff {
		backoff = p.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			p.logger.WithError(err).Debug("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// IsTransientError reports whether err is worth retrying: HTTP 429 and 5xx
// responses, timeouts and connection level failures. Context cancellation is
// never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"eof",
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
