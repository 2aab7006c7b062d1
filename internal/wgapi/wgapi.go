// Package wgapi is the rate-limited client for the upstream game stats API.
// One token-bucket limiter is shared across all concurrent callers; retries
// on transient failures happen inside the client so pipelines only see
// "stats", "no stats" or a hard error.
package wgapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
)

// Config is the [WG] section of the configuration file.
type Config struct {
	AppID     string
	RateLimit float64
	Workers   int
	Retries   int
	Timeout   time.Duration
}

// Defaults for unset config values.
const (
	DefaultRateLimit = 10.0
	DefaultWorkers   = 10
	DefaultRetries   = 3
	DefaultTimeout   = 10 * time.Second
)

// ErrNoAppID is returned when the client is created without an application id.
var ErrNoAppID = errors.New("wg application id not configured")

// Client talks to the regional API endpoints. Safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	appID   string
	retries int
	counter *eventcounter.Counter
	log     *slog.Logger

	// baseURL overrides the regional endpoints in tests.
	baseURL string
}

// New creates a client from config, filling defaults.
func New(cfg Config) (*Client, error) {
	if cfg.AppID == "" {
		return nil, ErrNoAppID
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}

	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		appID:   cfg.AppID,
		retries: cfg.Retries,
		counter: eventcounter.New("WG API"),
		log:     slog.Default().With("client", "wgapi"),
	}, nil
}

// WithBaseURL redirects all requests to a fixed base URL. Test hook.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u

	return c
}

// Stats returns the client's request counters for the final report.
func (c *Client) Stats() *eventcounter.Counter {
	return c.counter
}

func (c *Client) regionURL(region models.Region) string {
	if c.baseURL != "" {
		return c.baseURL
	}

	return "https://api.wotblitz." + string(region)
}

// apiResponse is the upstream envelope: status "ok" with data, or "error"
// with an error object.
type apiResponse[T any] struct {
	Status string       `json:"status"`
	Data   map[string]T `json:"data"`
	Error  *apiError    `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// request fetches a URL with rate limiting and bounded retries. A nil body
// with nil error means retries were exhausted on transient failures.
func (c *Client) request(ctx context.Context, url string) ([]byte, error) {
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		c.counter.Log("requests")

		body, retry, err := c.fetch(ctx, url)
		if err != nil {
			return nil, err
		}

		if !retry {
			return body, nil
		}

		c.counter.Log("retries")
		c.log.Debug("retrying request", "url", url, "attempt", attempt+1)
	}

	c.counter.Log("errors")

	return nil, nil
}

// fetch does one HTTP round trip. retry=true flags a transient failure.
func (c *Client) fetch(ctx context.Context, url string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}

		// Network errors and timeouts are transient.
		return nil, true, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, true, nil
	default:
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, false, fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, nil
	}

	return body, false, nil
}

// GetTankStats fetches the per-tank stats of one account. A nil slice with a
// nil error means the upstream has no stats for the account (or transient
// retries were exhausted); the caller decides whether to retry or disable.
func (c *Client) GetTankStats(ctx context.Context, accountID int64, region models.Region) ([]models.TankStat, error) {
	url := fmt.Sprintf("%s/wotb/tanks/stats/?application_id=%s&account_id=%d",
		c.regionURL(region), c.appID, accountID)

	body, err := c.request(ctx, url)
	if err != nil || body == nil {
		return nil, err
	}

	var parsed apiResponse[[]models.TankStat]
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding tank stats response: %w", err)
	}

	if parsed.Status != "ok" {
		if parsed.Error != nil {
			c.log.Debug("api error", "code", parsed.Error.Code, "message", parsed.Error.Message)
		}

		c.counter.Log("api errors")

		return nil, nil
	}

	stats := parsed.Data[strconv.FormatInt(accountID, 10)]
	if len(stats) == 0 {
		return nil, nil
	}

	for i := range stats {
		if err := stats[i].Normalize(); err != nil {
			return nil, fmt.Errorf("normalizing tank stat: %w", err)
		}
	}

	c.counter.Add("tank stats", int64(len(stats)))

	return stats, nil
}

// achievementsPayload is the upstream per-account achievements object.
type achievementsPayload struct {
	Achievements map[string]int64 `json:"achievements"`
	MaxSeries    map[string]int64 `json:"max_series"`
}

// GetPlayerAchievements fetches the achievements snapshot of one account.
// Nil with nil error means no data, mirroring GetTankStats.
func (c *Client) GetPlayerAchievements(ctx context.Context, accountID int64, region models.Region) (*models.PlayerAchievement, error) {
	url := fmt.Sprintf("%s/wotb/account/achievements/?application_id=%s&account_id=%d",
		c.regionURL(region), c.appID, accountID)

	body, err := c.request(ctx, url)
	if err != nil || body == nil {
		return nil, err
	}

	var parsed apiResponse[achievementsPayload]
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding achievements response: %w", err)
	}

	if parsed.Status != "ok" {
		c.counter.Log("api errors")

		return nil, nil
	}

	payload, ok := parsed.Data[strconv.FormatInt(accountID, 10)]
	if !ok || len(payload.Achievements) == 0 {
		return nil, nil
	}

	pa := models.PlayerAchievement{
		AccountID:    accountID,
		Updated:      time.Now().Unix(),
		Achievements: payload.Achievements,
		MaxSeries:    payload.MaxSeries,
	}

	if err := pa.Normalize(); err != nil {
		return nil, fmt.Errorf("normalizing achievements: %w", err)
	}

	c.counter.Log("achievements")

	return &pa, nil
}
