// Package fetcher implements the stats fetch pipeline: an account queue
// feeding fetcher workers, a stats queue feeding a writer, and a retry queue
// that gives every account a second chance before it is disabled.
//
//	accountQ -> fetch workers -> statsQ -> writer -> backend
//	                |
//	                +-> retryQ -> fetch workers (second pass)
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/queue"
)

// Fixed counter names of the fetch pipelines. Totals follow the unique-
// accounts convention: after the first pass the total is decremented by the
// number of re-queued accounts, so the final figure counts each account once.
const (
	CounterTotal    = "accounts total"
	CounterRetry    = "accounts to re-try"
	CounterNoStats  = "accounts w/o stats"
	CounterStats    = "accounts /w stats"
	CounterDisabled = "accounts disabled"
	CounterEnabled  = "accounts enabled"
	CounterFetched  = "tank stats fetched"
	CounterErrors   = "errors"
)

// Config tunes the pipeline.
type Config struct {
	// Workers caps the fetcher worker count; the effective count also
	// depends on the number of accounts.
	Workers int
	// QueueCap bounds the stats and retry queues.
	QueueCap int
	// InactiveAfter is the last-battle age past which an account with no new
	// rows is flagged inactive.
	InactiveAfter time.Duration
}

// Defaults for unset config values.
const (
	DefaultWorkers       = 10
	DefaultQueueCap      = 100
	DefaultInactiveAfter = 90 * 24 * time.Hour
)

func (c *Config) fill() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.QueueCap <= 0 {
		c.QueueCap = DefaultQueueCap
	}

	if c.InactiveAfter <= 0 {
		c.InactiveAfter = DefaultInactiveAfter
	}
}

// workerCount sizes a worker pool for n accounts: fewer workers than
// accounts keeps a nearly-empty queue from bursting the rate limit.
func workerCount(configured int, n int64) int {
	workers := int((n + 3) / 4)

	if workers > configured {
		workers = configured
	}

	if workers < 1 {
		workers = 1
	}

	return workers
}

// accountStore is the slice of the backend the pipeline mutates.
type accountStore interface {
	backend.AccountStore
	backend.LogStore
}

// batch is one account's fetched rows handed from fetcher to writer.
type batch[S any] struct {
	account models.Account
	rows    []S
}

// pipeline is the kind-agnostic core: fetch pulls rows for an account,
// write persists one batch and updates the account.
type pipeline[S any] struct {
	kind  models.StatsKind
	cfg   Config
	db    accountStore
	fetch func(ctx context.Context, account *models.Account) ([]S, error)
	write func(ctx context.Context, b batch[S], counter *eventcounter.Counter) error
	log   *slog.Logger
}

// run executes both passes over accountQ and returns the merged counters.
// total is the expected unique-account count, used only for worker sizing.
func (p *pipeline[S]) run(ctx context.Context, accountQ *queue.Queue[models.Account], total int64) (*eventcounter.Counter, error) {
	p.cfg.fill()

	counter := eventcounter.New(string(p.kind))
	statsQ := queue.New[batch[S]](p.cfg.QueueCap)

	// Nothing drains retryQ until the first pass completes, so it must be
	// able to hold every account of the pass.
	retryCap := p.cfg.QueueCap
	if int(total) > retryCap {
		retryCap = int(total)
	}

	retryQ := queue.New[models.Account](retryCap)

	g, gctx := errgroup.WithContext(ctx)

	// Writer runs until every fetch pass has finished its statsQ producers.
	writerCounter := eventcounter.New("writer")

	g.Go(func() error {
		return p.writer(gctx, statsQ, writerCounter)
	})

	// Hold one statsQ producer registration across both passes. The first
	// pass's workers finish theirs when it ends; without this anchor the
	// producer count would hit zero between the passes and the writer would
	// exit before the retry pass produces anything.
	statsQ.AddProducer()

	// First pass: accountQ with retries allowed.
	firstPass, err := p.pass(gctx, accountQ, retryQ, statsQ, workerCount(p.cfg.Workers, total))
	if err != nil {
		_ = statsQ.Finish()
		_ = g.Wait()

		return counter, err
	}

	counter.Merge(firstPass)

	// The re-queued accounts get counted again on the second pass; decrement
	// so the final total reflects unique accounts.
	retried := int64(retryQ.Count())
	counter.Add(CounterTotal, -retried)

	// Second pass: retryQ, no further retries.
	secondPass, err := p.pass(gctx, retryQ, nil, statsQ, workerCount(p.cfg.Workers, retried))

	_ = statsQ.Finish()

	if err != nil {
		_ = g.Wait()

		return counter, err
	}

	counter.Merge(secondPass)

	if err := g.Wait(); err != nil {
		return counter, err
	}

	counter.Merge(writerCounter)

	return counter, nil
}

// pass runs one fetch pass: workers consume in until done, optionally
// re-queueing no-stats accounts into retryQ. The caller owns statsQ producer
// registration through this call.
func (p *pipeline[S]) pass(ctx context.Context, in, retryQ *queue.Queue[models.Account], statsQ *queue.Queue[batch[S]], workers int) (*eventcounter.Counter, error) {
	results := make(chan *eventcounter.Counter, workers)

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		statsQ.AddProducer()

		if retryQ != nil {
			retryQ.AddProducer()
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer statsQ.Finish() //nolint:errcheck
			if retryQ != nil {
				defer retryQ.Finish() //nolint:errcheck
			}

			results <- p.worker(ctx, in, retryQ, statsQ)
		}()
	}

	wg.Wait()
	close(results)

	merged := eventcounter.New("pass")
	if err := merged.Gather(ctx, results); err != nil {
		return merged, err
	}

	return merged, ctx.Err()
}

// worker is one fetcher: dequeue, fetch upstream, dispatch. Every dequeued
// account is task_done'd exactly once, also on cancellation.
func (p *pipeline[S]) worker(ctx context.Context, in, retryQ *queue.Queue[models.Account], statsQ *queue.Queue[batch[S]]) *eventcounter.Counter {
	counter := eventcounter.New("fetcher")

	for {
		account, err := in.Get(ctx)
		if err != nil {
			// ErrDone and cancellation both end the worker; partial counters
			// are still returned.
			return counter
		}

		func() {
			defer in.TaskDone()

			counter.Log(CounterTotal)

			p.process(ctx, &account, retryQ, statsQ, counter)
		}()
	}
}

func (p *pipeline[S]) process(ctx context.Context, account *models.Account, retryQ *queue.Queue[models.Account], statsQ *queue.Queue[batch[S]], counter *eventcounter.Counter) {
	rows, err := p.fetch(ctx, account)
	if err != nil {
		counter.Log(CounterErrors)
		p.log.Warn("fetch failed", "account", account.ID, "error", err)

		if err := p.db.ErrorLogAdd(ctx, account.ID, p.kind, time.Now().Unix()); err != nil {
			p.log.Warn("error log write failed", "account", account.ID, "error", err)
		}

		return
	}

	if rows == nil {
		p.noStats(ctx, account, retryQ, counter)

		return
	}

	if err := statsQ.Put(ctx, batch[S]{account: *account, rows: rows}); err != nil {
		return
	}

	counter.Log(CounterStats)
	counter.Add(CounterFetched, int64(len(rows)))

	if account.Disabled {
		account.Disabled = false

		if err := p.db.AccountUpdate(ctx, account, []string{"disabled"}); err != nil {
			counter.Log(CounterErrors)

			return
		}

		counter.Log(CounterEnabled)

		_ = p.db.ErrorLogClear(ctx, account.ID, p.kind)
	}
}

// noStats handles an empty upstream response: re-queue on the first pass,
// disable on the second.
func (p *pipeline[S]) noStats(ctx context.Context, account *models.Account, retryQ *queue.Queue[models.Account], counter *eventcounter.Counter) {
	if retryQ != nil {
		if err := retryQ.Put(ctx, *account); err != nil {
			return
		}

		counter.Log(CounterRetry)

		return
	}

	counter.Log(CounterNoStats)

	if !account.Disabled {
		account.Disabled = true

		if err := p.db.AccountUpdate(ctx, account, []string{"disabled"}); err != nil {
			counter.Log(CounterErrors)

			return
		}

		counter.Log(CounterDisabled)
	}
}

// writer consumes statsQ until done, persisting batches. A failed batch is
// counted and the writer continues.
func (p *pipeline[S]) writer(ctx context.Context, statsQ *queue.Queue[batch[S]], counter *eventcounter.Counter) error {
	for {
		b, err := statsQ.Get(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrDone) {
				return nil
			}

			return err
		}

		func() {
			defer statsQ.TaskDone()

			if err := p.write(ctx, b, counter); err != nil {
				counter.Log(CounterErrors)
				p.log.Warn("write failed", "account", b.account.ID, "error", err)
			}
		}()
	}
}

// updateAccount applies the writer-side account mutations: advance
// last_battle_time, stamp stats_updated, and flip inactive when the fetch
// produced nothing new and the account has not fought for a long time. The
// account is re-read by id so the writer never holds a shared pointer.
func updateAccount(ctx context.Context, db accountStore, kind models.StatsKind, inactiveAfter time.Duration, accountID, maxLBT, inserted int64) error {
	account, err := db.AccountGet(ctx, accountID)
	if err != nil {
		return err
	}

	fields := []string{"stats_updated"}
	account.MarkStatsUpdated(kind, time.Now().Unix())

	if maxLBT > account.LastBattleTime {
		account.LastBattleTime = maxLBT
		fields = append(fields, "last_battle_time")
	}

	cutoff := time.Now().Add(-inactiveAfter).Unix()
	inactive := inserted == 0 && account.LastBattleTime > 0 && account.LastBattleTime < cutoff

	if inactive != account.Inactive {
		account.Inactive = inactive
		fields = append(fields, "inactive")
	}

	return db.AccountUpdate(ctx, account, fields)
}
