// Package broker provides the market data clients used by the screener and the
// position monitor. It includes the Tradier API client and a circuit breaker
// wrapper around any DataProvider.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/util"
)

// StrikeMatchEpsilon defines the precision tolerance for matching strike prices
const StrikeMatchEpsilon = 1e-4

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierAPI is a read-only Tradier market data client.
type TradierAPI struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  logrus.FieldLogger
	apiKey  string
	baseURL string
	sandbox bool
}

// RateLimits defines API rate limits for different endpoint categories.
type RateLimits struct {
	MarketData int // requests per minute
}

// TradierOption configures a TradierAPI.
type TradierOption func(*TradierAPI)

// WithBaseURL overrides the API host (tests, proxies).
func WithBaseURL(baseURL string) TradierOption {
	return func(t *TradierAPI) {
		if baseURL != "" {
			t.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func WithHTTPClient(c *http.Client) TradierOption {
	return func(t *TradierAPI) {
		if c != nil {
			t.client = c
		}
	}
}

// WithTimeout sets the HTTP client timeout duration.
func WithTimeout(timeout time.Duration) TradierOption {
	return func(t *TradierAPI) {
		if timeout > 0 {
			t.client.Timeout = timeout
		}
	}
}

// WithRateLimits replaces the default per-minute request budget.
func WithRateLimits(limits RateLimits) TradierOption {
	return func(t *TradierAPI) {
		if limits.MarketData > 0 {
			t.limiter = newLimiter(limits.MarketData)
		}
	}
}

// WithLogger sets the logger used for rate limit and body close diagnostics.
func WithLogger(logger logrus.FieldLogger) TradierOption {
	return func(t *TradierAPI) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func newLimiter(perMinute int) *rate.Limiter {
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// NewTradierAPI creates a new TradierAPI client. Sandbox selects the sandbox
// host and the lower sandbox rate budget.
func NewTradierAPI(apiKey string, sandbox bool, opts ...TradierOption) *TradierAPI {
	baseURL := "https://api.tradier.com/v1"
	perMinute := 500
	if sandbox {
		baseURL = "https://sandbox.tradier.com/v1"
		perMinute = 120
	}
	t := &TradierAPI{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: newLimiter(perMinute),
		logger:  logrus.StandardLogger(),
		sandbox: sandbox,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ============ API Response Structures ============

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// nullableObject decodes Tradier's habit of sending "null" (bare or quoted)
// in place of an empty wrapper object.
func nullableObject(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte(`null`)) || bytes.Equal(trimmed, []byte(`"null"`))
}

// OptionChainResponse represents the API response for option chain requests.
type OptionChainResponse struct {
	Options OptionsWrapper `json:"options"`
}

// OptionsWrapper holds the option list; a null wrapper decodes as empty.
type OptionsWrapper struct {
	Option singleOrArray[Option] `json:"option"`
}

// UnmarshalJSON accepts null for the options wrapper.
func (w *OptionsWrapper) UnmarshalJSON(b []byte) error {
	if nullableObject(b) {
		*w = OptionsWrapper{}
		return nil
	}
	type plain OptionsWrapper
	return json.Unmarshal(b, (*plain)(w))
}

// Option represents an option contract from the Tradier API. Bid and Ask are
// nil when the quote is null.
type Option struct {
	Greeks         *Greeks  `json:"greeks,omitempty"`
	Bid            *float64 `json:"bid"`
	Ask            *float64 `json:"ask"`
	Symbol         string   `json:"symbol"`
	Description    string   `json:"description"`
	OptionType     string   `json:"option_type"`
	ExpirationDate string   `json:"expiration_date"`
	Underlying     string   `json:"underlying"`
	Last           float64  `json:"last"`
	Volume         int64    `json:"volume"`
	OpenInterest   int64    `json:"open_interest"`
	Strike         float64  `json:"strike"`
}

// Greeks contains option Greeks data from the Tradier API.
type Greeks struct {
	UpdatedAt string   `json:"updated_at"`
	Delta     *float64 `json:"delta"`
	Gamma     float64  `json:"gamma"`
	Theta     float64  `json:"theta"`
	Vega      float64  `json:"vega"`
	MidIV     float64  `json:"mid_iv"`
}

// QuotesResponse represents the quotes response from the Tradier API.
type QuotesResponse struct {
	Quotes struct {
		Quote singleOrArray[QuoteItem] `json:"quote"`
	} `json:"quotes"`
}

// QuoteItem represents a single quote item from the Tradier API.
type QuoteItem struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Last        float64 `json:"last"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	PrevClose   float64 `json:"prevclose"`
	Change      float64 `json:"change"`
}

// ExpirationsResponse represents the expirations response from the Tradier API.
type ExpirationsResponse struct {
	Expirations ExpirationsWrapper `json:"expirations"`
}

// ExpirationsWrapper holds the expiration dates; a null wrapper decodes as empty.
type ExpirationsWrapper struct {
	Date singleOrArray[string] `json:"date"`
}

// UnmarshalJSON accepts null for the expirations wrapper.
func (w *ExpirationsWrapper) UnmarshalJSON(b []byte) error {
	if nullableObject(b) {
		*w = ExpirationsWrapper{}
		return nil
	}
	type plain ExpirationsWrapper
	return json.Unmarshal(b, (*plain)(w))
}

// HistoricalDataResponse represents the response from historical data API
type HistoricalDataResponse struct {
	History HistoryWrapper `json:"history"`
}

// HistoryWrapper holds the daily bars; a null wrapper decodes as empty.
type HistoryWrapper struct {
	Day singleOrArray[HistoryDay] `json:"day"`
}

// UnmarshalJSON accepts null for the history wrapper.
func (w *HistoryWrapper) UnmarshalJSON(b []byte) error {
	if nullableObject(b) {
		*w = HistoryWrapper{}
		return nil
	}
	type plain HistoryWrapper
	return json.Unmarshal(b, (*plain)(w))
}

// HistoryDay is one bar of the history endpoint.
type HistoryDay struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// ============ API Methods ============

// GetHistory retrieves bars for symbol between start and end inclusive,
// ordered chronologically.
func (t *TradierAPI) GetHistory(ctx context.Context, symbol, interval string, start, end time.Time) ([]models.PriceBar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if interval == "" {
		interval = "daily"
	}
	params.Set("interval", interval)
	params.Set("start", start.Format(util.DateLayout))
	params.Set("end", end.Format(util.DateLayout))
	endpoint := t.baseURL + "/markets/history?" + params.Encode()

	var response HistoricalDataResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}

	bars := make([]models.PriceBar, 0, len(response.History.Day))
	for _, day := range response.History.Day {
		date, err := util.ParseDate(day.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %s: %w", day.Date, err)
		}
		bars = append(bars, models.PriceBar{Date: date, Close: day.Close})
	}
	return bars, nil
}

// GetQuote retrieves the current market quote for a symbol.
func (t *TradierAPI) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response QuotesResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}

	quotes := response.Quotes.Quote
	if len(quotes) == 0 {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}

	first := quotes[0]
	return &first, nil
}

// GetExpirations retrieves available expiration dates for options on a symbol.
func (t *TradierAPI) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")
	endpoint := t.baseURL + "/markets/options/expirations?" + params.Encode()

	var response ExpirationsResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}

	return []string(response.Expirations.Date), nil
}

// GetOptionChain retrieves the option chain for a symbol and expiration date.
// A null options payload yields an empty slice.
func (t *TradierAPI) GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]Option, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration)
	params.Set("greeks", fmt.Sprintf("%t", withGreeks))
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response OptionChainResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}

	return []Option(response.Options.Option), nil
}

func (t *TradierAPI) makeRequestCtx(ctx context.Context, method, endpoint string, response interface{}) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "putspread-sentinel/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.WithError(err).Warn("Failed to close response body")
		}
	}()

	remaining := resp.Header.Get("X-Ratelimit-Available")
	if remaining == "" {
		remaining = resp.Header.Get("X-RateLimit-Remaining")
	}
	if remaining != "" && t.sandbox {
		t.logger.WithField("remaining", remaining).Debug("Tradier rate limit")
	}

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	return nil
}
