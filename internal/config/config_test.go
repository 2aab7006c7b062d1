package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "statmill.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[GENERAL]
backend = mongodb
inactive_after = 2160h

[WG]
wg_app_id = deadbeef
rate_limit = 12.5
api_workers = 20

[WOTINSPECTOR]
rate_limit = 0.5
max_pages = 10

[TANK_STATS]
export_data_file = /tmp/blitz-data

[DATABASE]
uri = mongodb://db:27017
database = Stats
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb", cfg.General.Backend)
	assert.Equal(t, 90*24*time.Hour, cfg.General.InactiveAfter)
	assert.Equal(t, "deadbeef", cfg.WG.AppID)
	assert.InDelta(t, 12.5, cfg.WG.RateLimit, 0.001)
	assert.Equal(t, 20, cfg.WG.Workers)
	assert.InDelta(t, 0.5, cfg.WOTInspector.RateLimit, 0.001)
	assert.Equal(t, 10, cfg.WOTInspector.MaxPages)
	assert.Equal(t, "/tmp/blitz-data", cfg.TankStats.ExportDataFile)
	assert.Equal(t, "mongodb://db:27017", cfg.Database["uri"])
	assert.Equal(t, "Stats", cfg.Database["database"])
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[WG]
wg_app_id = deadbeef
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb", cfg.General.Backend)
	assert.Equal(t, 24*time.Hour, cfg.General.CacheValid)
	assert.InDelta(t, 10.0, cfg.WG.RateLimit, 0.001)
	assert.Equal(t, 10, cfg.WG.Workers)
	assert.Equal(t, 3, cfg.WG.Retries)
	assert.Equal(t, 10*time.Second, cfg.WG.Timeout)
	assert.Equal(t, 100, cfg.WOTInspector.MaxPages)
	assert.Equal(t, "txt", cfg.Accounts.ImportFormat)
	assert.Equal(t, "json", cfg.Accounts.ExportFormat)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Database["uri"])
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{
			name: "negative rate limit",
			content: `
[WG]
rate_limit = -1
`,
		},
		{
			name: "bad export format",
			content: `
[ACCOUNTS]
export_format = parquet
`,
		},
		{
			name: "zero listing pages",
			content: `
[WOTINSPECTOR]
max_pages = 0
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadConfig(writeConfig(t, tc.content))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestClientConversions(t *testing.T) {
	t.Parallel()

	cfg := Config{
		WG: WG{AppID: "abc", RateLimit: 5, Workers: 7, Retries: 2, Timeout: 3 * time.Second},
		WOTInspector: WOTInspector{
			RateLimit: 1, MaxPages: 42, Workers: 3, AuthToken: "tok", Timeout: 4 * time.Second,
		},
	}

	wg := cfg.WG.Client()
	assert.Equal(t, "abc", wg.AppID)
	assert.Equal(t, 7, wg.Workers)
	assert.Equal(t, 3*time.Second, wg.Timeout)

	wi := cfg.WOTInspector.Client()
	assert.Equal(t, 42, wi.MaxPages)
	assert.Equal(t, "tok", wi.AuthToken)
}
