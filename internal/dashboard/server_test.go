package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/putspread_sentinel/internal/journal"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/monitor"
	"github.com/eddiefleurent/putspread_sentinel/internal/strategy"
)

type fakeScreener struct {
	calls int
	day   time.Time
}

func (f *fakeScreener) ScreenForSpreads(_ context.Context, today time.Time) strategy.ScreenResult {
	f.calls++
	f.day = today
	best := models.SpreadCandidate{Symbol: "SPY", ExpirationDate: "2024-01-19", ShortStrike: 450, LongStrike: 445, Credit: 1.1}
	return strategy.ScreenResult{
		Status:     strategy.StatusCandidateFound,
		Symbol:     "SPY",
		Date:       today.Format("2006-01-02"),
		Candidates: []models.SpreadCandidate{best},
		Best:       &best,
	}
}

type fakeMonitor struct {
	calls int
	day   time.Time
}

func (f *fakeMonitor) MonitorPositions(_ context.Context, today time.Time) monitor.Result {
	f.calls++
	f.day = today
	return monitor.Result{Status: monitor.StatusNoPositions, Evaluations: []models.PositionEvaluation{}}
}

type fakeHistory struct {
	limit int
	err   error
}

func (f *fakeHistory) RecentScreens(_ context.Context, limit int) ([]journal.ScreenRun, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []journal.ScreenRun{{ID: "run-1", Status: strategy.StatusNoCandidates}}, nil
}

func newTestServer(token string, history RunHistory) (*Server, *fakeScreener, *fakeMonitor) {
	logger, _ := test.NewNullLogger()
	sc := &fakeScreener{}
	mon := &fakeMonitor{}
	s := NewServer(Config{Addr: ":0", AuthToken: token}, sc, mon, history, logger)
	s.now = func() time.Time { return time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC) }
	return s, sc, mon
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	rec := get(t, s.Handler(), "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["market_open"]) // 10:00 New York on a Wednesday
	assert.Equal(t, false, body["journal"])
}

func TestScreenEndpoint(t *testing.T) {
	s, sc, _ := newTestServer("", nil)
	rec := get(t, s.Handler(), "/api/screen", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sc.calls)

	var res strategy.ScreenResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, strategy.StatusCandidateFound, res.Status)
	assert.Equal(t, "2024-01-03", res.Date)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1.1, res.Best.Credit)
}

func TestPositionsEndpoint(t *testing.T) {
	s, _, mon := newTestServer("", nil)
	rec := get(t, s.Handler(), "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, mon.calls)
	assert.Contains(t, rec.Body.String(), `"status":"no_positions"`)
}

func TestRunsUseTradingDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 20:30 New York on Jan 4 is already Jan 5 in UTC.
	evening := time.Date(2024, 1, 5, 1, 30, 0, 0, time.UTC)
	want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)

	t.Run("default New York date", func(t *testing.T) {
		s, sc, mon := newTestServer("", nil)
		s.now = func() time.Time { return evening }

		rec := get(t, s.Handler(), "/api/screen", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, sc.day)

		rec = get(t, s.Handler(), "/api/positions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, mon.day)
	})

	t.Run("configured calendar", func(t *testing.T) {
		logger, _ := test.NewNullLogger()
		sc := &fakeScreener{}
		today := func(now time.Time) time.Time {
			local := now.In(ny)
			return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		}
		s := NewServer(Config{Today: today}, sc, &fakeMonitor{}, nil, logger)
		s.now = func() time.Time { return evening }

		rec := get(t, s.Handler(), "/api/screen", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, sc.day)

		var res strategy.ScreenResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "2024-01-04", res.Date)
	})
}

func TestJournalEndpoint(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/journal", nil).Code)

	h := &fakeHistory{}
	s, _, _ = newTestServer("", h)
	rec := get(t, s.Handler(), "/api/journal?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, h.limit)
	assert.Contains(t, rec.Body.String(), "run-1")

	rec = get(t, s.Handler(), "/api/journal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, h.limit)

	for _, bad := range []string{"0", "-1", "abc", "501"} {
		rec = get(t, s.Handler(), "/api/journal?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}

	h.err = errors.New("db locked")
	rec = get(t, s.Handler(), "/api/journal", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	s, sc, _ := newTestServer("secret", nil)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/screen", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/screen", map[string]string{"Authorization": "Bearer wrong"}).Code)
	assert.Equal(t, 0, sc.calls)

	assert.Equal(t, http.StatusOK, get(t, h, "/api/screen", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/screen", map[string]string{"X-Auth-Token": "secret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/screen?token=secret", nil).Code)
	assert.Equal(t, 3, sc.calls)
}

func TestIsMarketOpen(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"open bell", time.Date(2024, 1, 3, 9, 30, 0, 0, ny), true},
		{"before open", time.Date(2024, 1, 3, 9, 29, 0, 0, ny), false},
		{"close", time.Date(2024, 1, 3, 16, 0, 0, 0, ny), false},
		{"saturday", time.Date(2024, 1, 6, 11, 0, 0, 0, ny), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isMarketOpen(tc.at))
		})
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	assert.NoError(t, s.Shutdown(context.Background()))
}
