// Package crawler spiders the replay listing service for fresh account ids.
// A single spider task walks listing pages and enqueues unseen replay ids;
// fetch workers pull the replay detail, extract the players of both teams
// into the account queue and persist the replay.
package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/queue"
	"github.com/blitzstack/statmill/internal/wotinspector"
)

// state of a crawl session. Spidering accepts new replay ids; Draining
// finishes queued work and accepts no more.
type state int

const (
	stateSpidering state = iota
	stateDraining
)

// API is the replay service surface the crawler calls.
type API interface {
	GetReplayListing(ctx context.Context, page int) (string, error)
	GetReplayJSON(ctx context.Context, replayID string) (*models.Replay, error)
}

// Store is the backend surface the crawler needs.
type Store interface {
	backend.ReplayStore
	backend.AccountStore
}

// Config tunes a crawl session.
type Config struct {
	// StartPage is the first listing page, 1-based.
	StartPage int
	// MaxPages bounds the number of listing pages visited.
	MaxPages int
	// Workers is the replay fetch worker count.
	Workers int
	// MaxOldReplays stops the spider once this many already-stored replays
	// have been seen, unless Force is set.
	MaxOldReplays int
	// Force disables the old-replays early stop.
	Force bool
	// QueueCap bounds the replay id queue.
	QueueCap int
}

// Defaults for unset config values.
const (
	DefaultMaxPages      = 10
	DefaultWorkers       = 2
	DefaultMaxOldReplays = 30
	DefaultQueueCap      = 100
)

func (c *Config) fill() {
	if c.StartPage <= 0 {
		c.StartPage = 1
	}

	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}

	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.MaxOldReplays <= 0 {
		c.MaxOldReplays = DefaultMaxOldReplays
	}

	if c.QueueCap <= 0 {
		c.QueueCap = DefaultQueueCap
	}
}

// Crawler discovers accounts through battle replays.
type Crawler struct {
	db  Store
	api API
	cfg Config
	log *slog.Logger
}

// New creates a crawler.
func New(db Store, api API, cfg Config) *Crawler {
	cfg.fill()

	return &Crawler{
		db:  db,
		api: api,
		cfg: cfg,
		log: slog.Default().With("component", "crawler"),
	}
}

// Run crawls listing pages and streams discovered accounts into accountQ.
// The crawler registers itself as one producer on accountQ and finishes it
// on return.
func (c *Crawler) Run(ctx context.Context, accountQ *queue.Queue[models.Account]) (*eventcounter.Counter, error) {
	counter := eventcounter.New("crawler")
	replayQ := queue.New[string](c.cfg.QueueCap)

	accountQ.AddProducer()
	defer accountQ.Finish() //nolint:errcheck

	// Spider is the sole producer of replayQ.
	replayQ.AddProducer()

	spiderCounter := eventcounter.New("spider")
	spiderErr := make(chan error, 1)

	go func() {
		defer replayQ.Finish() //nolint:errcheck

		spiderErr <- c.spider(ctx, replayQ, spiderCounter)
	}()

	results := make(chan *eventcounter.Counter, c.cfg.Workers)

	var wg sync.WaitGroup

	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results <- c.fetchWorker(ctx, replayQ, accountQ)
		}()
	}

	wg.Wait()
	close(results)

	if err := counter.Gather(ctx, results); err != nil {
		return counter, err
	}

	counter.Merge(spiderCounter)

	if err := <-spiderErr; err != nil {
		return counter, err
	}

	return counter, ctx.Err()
}

// spider walks the listing pages. Transient page errors are counted and the
// page skipped; the old-replays threshold flips the session into Draining.
func (c *Crawler) spider(ctx context.Context, replayQ *queue.Queue[string], counter *eventcounter.Counter) error {
	var oldReplays int

	sessionState := stateSpidering

	for page := c.cfg.StartPage; page < c.cfg.StartPage+c.cfg.MaxPages; page++ {
		if sessionState == stateDraining {
			break
		}

		html, err := c.api.GetReplayListing(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			counter.Log("errors")
			c.log.Warn("listing page failed", "page", page, "error", err)

			continue
		}

		counter.Log("pages")

		for _, id := range wotinspector.ParseReplayIDs(html) {
			if sessionState == stateDraining {
				break
			}

			if _, err := c.db.ReplayGet(ctx, id); err == nil {
				oldReplays++
				counter.Log("old replays")

				if oldReplays >= c.cfg.MaxOldReplays && !c.cfg.Force {
					sessionState = stateDraining
				}

				continue
			} else if !errors.Is(err, backend.ErrNotFound) {
				counter.Log("errors")

				continue
			}

			if err := replayQ.Put(ctx, id); err != nil {
				return err
			}

			counter.Log("replays queued")
		}
	}

	return nil
}

// fetchWorker pulls replay ids, fetches the detail record, pushes the
// players into the account queue and stores the replay.
func (c *Crawler) fetchWorker(ctx context.Context, replayQ *queue.Queue[string], accountQ *queue.Queue[models.Account]) *eventcounter.Counter {
	counter := eventcounter.New("replay fetcher")

	for {
		id, err := replayQ.Get(ctx)
		if err != nil {
			return counter
		}

		func() {
			defer replayQ.TaskDone()

			c.fetchReplay(ctx, id, accountQ, counter)
		}()
	}
}

func (c *Crawler) fetchReplay(ctx context.Context, id string, accountQ *queue.Queue[models.Account], counter *eventcounter.Counter) {
	replay, err := c.api.GetReplayJSON(ctx, id)
	if err != nil {
		counter.Log("errors")
		c.log.Warn("replay fetch failed", "replay", id, "error", err)

		return
	}

	if replay == nil {
		counter.Log("replays not found")

		return
	}

	counter.Log("replays fetched")

	for _, playerID := range replay.Players() {
		account, err := models.NewAccount(playerID)
		if err != nil {
			counter.Log("errors")

			continue
		}

		if err := accountQ.Put(ctx, *account); err != nil {
			return
		}

		counter.Log("accounts queued")
	}

	if err := c.db.ReplayInsert(ctx, replay); err != nil {
		counter.Log("errors")
		c.log.Warn("replay insert failed", "replay", id, "error", err)
	}
}
