package main

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/putspread_sentinel/internal/config"
)

const positionsJSON = `[
  {"symbol": "SPY", "expiration": "2024-01-19", "short_strike": 450, "long_strike": 445, "entry_price": 1.25, "activo": true},
  {"symbol": "SPY", "expiration": "2024-01-26", "short_strike": 440, "long_strike": 435, "entry_price": 0.95, "activo": false}
]`

func pinClock(t *testing.T) {
	t.Helper()
	prev := clock
	clock = func() time.Time { return time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { clock = prev })
}

func writeTestConfig(t *testing.T, extra string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	body := `
environment:
  mode: sandbox
storage:
  path: "` + filepath.Join(dir, "open_positions.json") + `"
journal:
  dsn: "` + filepath.Join(dir, "sentinel.db") + `"
` + extra
	path = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return dir, path
}

func loggingConfig(level, format, file string) config.LoggingConfig {
	return config.LoggingConfig{Level: level, Format: format, File: file, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}
}

func run(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestScreen_DryRun(t *testing.T) {
	pinClock(t)
	dir, cfg := writeTestConfig(t, "")
	csvPath := filepath.Join(dir, "candidates.csv")

	out, _, err := run("screen", "--config", cfg, "--dry-run", "--csv", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Screen SPY 2024-01-05: ")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "symbol", records[0][0])

	// dry runs leave no journal behind
	_, err = os.Stat(filepath.Join(dir, "sentinel.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestMonitor_DryRun(t *testing.T) {
	pinClock(t)
	dir, cfg := writeTestConfig(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "open_positions.json"), []byte(positionsJSON), 0o600))

	out, _, err := run("monitor", "--config", cfg, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "SPY 450/445 2024-01-19")
	assert.Contains(t, out, "Evaluated 1, skipped 0, inactive 1")
}

func TestMonitor_NoPositionsFile(t *testing.T) {
	pinClock(t)
	_, cfg := writeTestConfig(t, "")

	out, _, err := run("monitor", "--config", cfg, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "No open positions file")
}

func TestMonitor_EmptyPositions(t *testing.T) {
	pinClock(t)
	dir, cfg := writeTestConfig(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "open_positions.json"), []byte("[]"), 0o600))

	out, _, err := run("monitor", "--config", cfg, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "No open positions to monitor.")
}

func TestConfigErrors(t *testing.T) {
	_, cfg := writeTestConfig(t, "")

	// no api key outside dry run
	_, _, err := run("screen", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.api_key")

	_, _, err = run("monitor", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--dry-run")
	require.Error(t, err)

	_, bad := writeTestConfig(t, "notify:\n  telegram:\n    enabled: true\n")
	_, _, err = run("screen", "--config", bad, "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_token")
}

func TestNewLogger_File(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "sentinel.log")

	var console bytes.Buffer
	logger, closer, err := newLogger(loggingConfig("info", "json", logFile), &console)
	require.NoError(t, err)
	require.NotNil(t, closer)
	logger.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, console.String(), `"msg":"hello"`)

	_, _, err = newLogger(loggingConfig("loud", "text", ""), &console)
	assert.Error(t, err)
}

func TestStatusServer_LiveWiring(t *testing.T) {
	pinClock(t)
	t.Setenv("SENTINEL_TEST_API_KEY", "test-key")
	dir, cfg := writeTestConfig(t, "broker:\n  api_key: \"${SENTINEL_TEST_API_KEY}\"\nserver:\n  auth_token: s3cret\n")

	a, err := newApp(cfg, false, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	defer a.Close()
	require.True(t, a.journal.Enabled())
	_, err = os.Stat(filepath.Join(dir, "sentinel.db"))
	require.NoError(t, err)

	h := newStatusServer(a, ":0").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"journal":true`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/journal", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
