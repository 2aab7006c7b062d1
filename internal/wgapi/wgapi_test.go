package wgapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzstack/statmill/internal/models"
)

const testAccountID = 600000001

// fastConfig keeps the limiter out of the way in tests.
func fastConfig() Config {
	return Config{AppID: "test-app", RateLimit: 10000, Retries: 2}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(fastConfig())
	require.NoError(t, err)

	return client.WithBaseURL(srv.URL)
}

func TestNewRequiresAppID(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoAppID)
}

func TestGetTankStats(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-app", r.URL.Query().Get("application_id"))
		fmt.Fprintf(w, `{"status": "ok", "data": {"%d": [
			{"account_id": %d, "tank_id": 1, "last_battle_time": 100, "all": {"battles": 7}},
			{"account_id": %d, "tank_id": 2, "last_battle_time": 200, "all": {"battles": 3}}
		]}}`, testAccountID, testAccountID, testAccountID)
	})

	stats, err := client.GetTankStats(context.Background(), testAccountID, models.RegionEU)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, models.RegionEU, stats[0].Region)
	assert.Equal(t, stats[0].Key(), stats[0].ID)
	assert.Equal(t, int64(7), stats[0].All.Battles)
	assert.Equal(t, int64(2), client.Stats().Get("tank stats"))
}

func TestGetTankStatsNoData(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status": "ok", "data": {"%d": null}}`, testAccountID)
	})

	stats, err := client.GetTankStats(context.Background(), testAccountID, models.RegionEU)
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestGetTankStatsAPIError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status": "error", "error": {"code": 407, "message": "INVALID_ACCOUNT_ID"}}`)
	})

	stats, err := client.GetTankStats(context.Background(), testAccountID, models.RegionEU)
	require.NoError(t, err)
	assert.Nil(t, stats)
	assert.Equal(t, int64(1), client.Stats().Get("api errors"))
}

func TestRequestRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		fmt.Fprintf(w, `{"status": "ok", "data": {"%d": [
			{"account_id": %d, "tank_id": 1, "last_battle_time": 100, "all": {"battles": 1}}
		]}}`, testAccountID, testAccountID)
	})

	stats, err := client.GetTankStats(context.Background(), testAccountID, models.RegionEU)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, int64(2), client.Stats().Get("retries"))
}

func TestRequestExhaustsRetries(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	stats, err := client.GetTankStats(context.Background(), testAccountID, models.RegionEU)
	require.NoError(t, err)
	assert.Nil(t, stats)
	assert.Equal(t, int64(1), client.Stats().Get("errors"))
}

func TestRequestHardHTTPError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetTankStats(context.Background(), testAccountID, models.RegionEU)
	assert.ErrorContains(t, err, "HTTP 404")
}

func TestGetPlayerAchievements(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status": "ok", "data": {"%d": {
			"achievements": {"markOfMastery": 12},
			"max_series": {"killingSeries": 4}
		}}}`, testAccountID)
	})

	pa, err := client.GetPlayerAchievements(context.Background(), testAccountID, models.RegionEU)
	require.NoError(t, err)
	require.NotNil(t, pa)
	assert.Equal(t, int64(testAccountID), pa.AccountID)
	assert.Equal(t, models.RegionEU, pa.Region)
	assert.Equal(t, int64(12), pa.Achievements["markOfMastery"])
	assert.Equal(t, pa.Key(), pa.ID)
}

func TestGetPlayerAchievementsEmpty(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status": "ok", "data": {"%d": {"achievements": {}}}}`, testAccountID)
	})

	pa, err := client.GetPlayerAchievements(context.Background(), testAccountID, models.RegionEU)
	require.NoError(t, err)
	assert.Nil(t, pa)
}
