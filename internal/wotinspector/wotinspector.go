// Package wotinspector is the rate-limited client for the replay listing and
// replay detail service the crawler spiders for fresh account ids.
package wotinspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
)

// Config is the [WOTINSPECTOR] section of the configuration file.
type Config struct {
	RateLimit float64
	MaxPages  int
	Workers   int
	AuthToken string
	Timeout   time.Duration
}

// Defaults for unset config values. The public listing endpoint enforces a
// much stricter rate than the stats API.
const (
	DefaultRateLimit = 1.0
	DefaultMaxPages  = 100
	DefaultWorkers   = 2
	DefaultTimeout   = 15 * time.Second
)

const (
	listingBase = "https://replays.wotinspector.com"
	apiBase     = "https://api.wotinspector.com"
)

// replayIDRe matches replay view links in the listing HTML. IDs are long hex
// strings.
var replayIDRe = regexp.MustCompile(`/view/([0-9a-fA-F]{8,})`)

// ErrPage is returned when a listing page cannot be fetched.
var ErrPage = errors.New("replay listing page failed")

// Client fetches replay listings and replay detail JSON. Safe for concurrent
// use.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	authToken string
	counter   *eventcounter.Counter
	log       *slog.Logger

	listingURL string
	apiURL     string
}

// New creates a client from config, filling defaults.
func New(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		authToken:  cfg.AuthToken,
		counter:    eventcounter.New("WoTinspector"),
		log:        slog.Default().With("client", "wotinspector"),
		listingURL: listingBase,
		apiURL:     apiBase,
	}
}

// WithBaseURL redirects both endpoints to a fixed base URL. Test hook.
func (c *Client) WithBaseURL(u string) *Client {
	c.listingURL = u
	c.apiURL = u

	return c
}

// Stats returns the client's request counters for the final report.
func (c *Client) Stats() *eventcounter.Counter {
	return c.counter
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.counter.Log("requests")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	if c.authToken != "" {
		req.Header.Set("Authorization", "Token "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.counter.Log("errors")

		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.counter.Log("errors")
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, fmt.Errorf("%w: HTTP %d for %s", ErrPage, resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

// GetReplayListing fetches one listing page as HTML. Pages are 1-based,
// newest first.
func (c *Client) GetReplayListing(ctx context.Context, page int) (string, error) {
	url := fmt.Sprintf("%s/en/sort/ut/page/%d/", c.listingURL, page)

	body, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}

	c.counter.Log("pages")

	return string(body), nil
}

// ParseReplayIDs extracts the unique replay ids from listing HTML, in
// document order.
func ParseReplayIDs(html string) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)

	for _, m := range replayIDRe.FindAllStringSubmatch(html, -1) {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids
}

// GetReplayJSON fetches the typed replay record. Nil with nil error means
// the service has no data for the id.
func (c *Client) GetReplayJSON(ctx context.Context, replayID string) (*models.Replay, error) {
	url := fmt.Sprintf("%s/replay/%s.json", c.apiURL, replayID)

	body, err := c.get(ctx, url)
	if err != nil {
		if errors.Is(err, ErrPage) {
			return nil, nil
		}

		return nil, err
	}

	var replay models.Replay
	if err := json.Unmarshal(body, &replay); err != nil {
		return nil, fmt.Errorf("decoding replay %s: %w", replayID, err)
	}

	if replay.ID == "" {
		replay.ID = replayID
	}

	c.counter.Log("replays")

	return &replay, nil
}
