package observability

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  LogConfig
		want slog.Level
	}{
		{"default", LogConfig{}, slog.LevelWarn},
		{"debug", LogConfig{Debug: true}, slog.LevelDebug},
		{"verbose", LogConfig{Verbose: true}, slog.LevelInfo},
		{"silent", LogConfig{Silent: true}, slog.LevelError},
		{"debug wins", LogConfig{Debug: true, Silent: true}, slog.LevelDebug},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, tc.cfg.Level())
		})
	}
}

func TestJSONHandlerOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: LogConfig{Verbose: true}.Level()}))
	log.Info("fetch pass done", "accounts", 3)

	assert.Contains(t, buf.String(), `"accounts":3`)
}

func TestMetricsRegisterAndScrape(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.AccountsFetched.WithLabelValues("tank_stats").Add(5)
	m.ReplaysCrawled.Inc()
	m.Errors.WithLabelValues("fetch").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `statmill_accounts_fetched_total{kind="tank_stats"} 5`)
	assert.Contains(t, text, "statmill_replays_crawled_total 1")
	assert.True(t, strings.Contains(text, `statmill_errors_total{stage="fetch"} 1`))
}

func TestMetricsIndependentRegistries(t *testing.T) {
	t.Parallel()

	first, err := NewMetrics()
	require.NoError(t, err)

	second, err := NewMetrics()
	require.NoError(t, err)

	first.ReplaysCrawled.Inc()

	rec := httptest.NewRecorder()
	second.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "statmill_replays_crawled_total 0")
}
