// Package dashboard serves a small read-only JSON status API: health, an
// on-demand screen, an on-demand position evaluation and the run journal.
// Runs started here never send notifications.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // market hours need America/New_York on hosts without zoneinfo

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/putspread_sentinel/internal/journal"
	"github.com/eddiefleurent/putspread_sentinel/internal/monitor"
	"github.com/eddiefleurent/putspread_sentinel/internal/strategy"
)

// Screener runs a screen for a date.
type Screener interface {
	ScreenForSpreads(ctx context.Context, today time.Time) strategy.ScreenResult
}

// PositionMonitor evaluates the open positions for a date.
type PositionMonitor interface {
	MonitorPositions(ctx context.Context, today time.Time) monitor.Result
}

// RunHistory lists recorded screening runs.
type RunHistory interface {
	RecentScreens(ctx context.Context, limit int) ([]journal.ScreenRun, error)
}

// Config configures the server.
type Config struct {
	Addr         string
	AuthToken    string
	RouteTimeout time.Duration
	// Today maps the wall clock to the trading calendar date. Defaults to
	// the New York date.
	Today func(time.Time) time.Time
}

// Server is the status HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	screener  Screener
	monitor   PositionMonitor
	history   RunHistory
	logger    logrus.FieldLogger
	addr      string
	authToken string
	now       func() time.Time
	today     func(time.Time) time.Time
}

// NewServer wires the routes. history may be nil when the journal is disabled.
func NewServer(cfg Config, screener Screener, mon PositionMonitor, history RunHistory, logger logrus.FieldLogger) *Server {
	if cfg.RouteTimeout <= 0 {
		cfg.RouteTimeout = 60 * time.Second
	}
	if cfg.Today == nil {
		cfg.Today = newYorkDate
	}
	s := &Server{
		router:    chi.NewRouter(),
		screener:  screener,
		monitor:   mon,
		history:   history,
		logger:    logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
		now:       time.Now,
		today:     cfg.Today,
	}

	s.setupRoutes(cfg.RouteTimeout)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes(timeout time.Duration) {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(timeout))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/screen", s.handleScreen)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/journal", s.handleJournal)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

// authMiddleware accepts the token as a bearer credential, an X-Auth-Token
// header, or a token query parameter. /healthz stays open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting status server on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   now.Unix(),
		"market_open": isMarketOpen(now),
		"journal":     s.history != nil,
	})
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	res := s.screener.ScreenForSpreads(r.Context(), s.today(s.now()))
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	res := s.monitor.MonitorPositions(r.Context(), s.today(s.now()))
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.history.RecentScreens(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read journal")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// isMarketOpen reports regular US equity hours (9:30-16:00 New York, weekdays).
func newYorkDate(now time.Time) time.Time {
	if loc, err := time.LoadLocation("America/New_York"); err == nil {
		now = now.In(loc)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func isMarketOpen(now time.Time) bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return false
	}
	nyTime := now.In(loc)

	if nyTime.Weekday() == time.Saturday || nyTime.Weekday() == time.Sunday {
		return false
	}

	totalMinutes := nyTime.Hour()*60 + nyTime.Minute()
	marketOpen := 9*60 + 30
	marketClose := 16 * 60

	return totalMinutes >= marketOpen && totalMinutes < marketClose
}
