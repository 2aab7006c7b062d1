// Package curate implements the duplicate analyzer, the pruner and the
// archive snapshotter. Only the newest row per identity key inside a release
// window is canonical; everything older is staged in the stats-to-delete
// list by the analyzer and removed by the pruner.
package curate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/queue"
)

// ErrArchiveCheck is returned when a hot-collection prune finds ids missing
// from the archive.
var ErrArchiveCheck = errors.New("Archive check failed")

// Store is the backend surface curation needs.
type Store interface {
	backend.CurationStore
	backend.TankStatStore
	backend.ReleaseStore
	backend.LogStore
}

// Config selects what to curate.
type Config struct {
	Kind    models.StatsKind
	Release string
	Regions []models.Region
	// Archive targets the archive collection instead of the hot one.
	Archive bool
	Workers int
	// BatchSize bounds delete and save batches.
	BatchSize int
}

// Defaults for unset config values.
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 100
)

func (c *Config) fill() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// deleteType is the stats-to-delete type string of the config.
func (c *Config) deleteType() string {
	if c.Archive {
		return c.Kind.Archive()
	}

	return string(c.Kind)
}

// Curator runs the analyze, check, prune and reset phases.
type Curator struct {
	db  Store
	cfg Config
	log *slog.Logger
}

// New creates a curator.
func New(db Store, cfg Config) *Curator {
	cfg.fill()

	return &Curator{
		db:  db,
		cfg: cfg,
		log: slog.Default().With("component", "curate", "kind", string(cfg.Kind)),
	}
}

// window resolves the release window of the configured release.
func (c *Curator) window(ctx context.Context) (backend.Window, error) {
	release, err := c.db.ReleaseGet(ctx, c.cfg.Release)
	if err != nil {
		return backend.Window{}, fmt.Errorf("resolving release %s: %w", c.cfg.Release, err)
	}

	return backend.WindowOf(*release), nil
}

// partitions enumerates the units of duplicate analysis: tanks x regions for
// tank stats, regions for achievements.
func (c *Curator) partitions(ctx context.Context) ([]backend.DuplicatesQuery, error) {
	window, err := c.window(ctx)
	if err != nil {
		return nil, err
	}

	regions := c.cfg.Regions
	if len(regions) == 0 {
		regions = models.AllRegions()
	}

	base := backend.DuplicatesQuery{
		Kind:    c.cfg.Kind,
		Window:  window,
		Release: c.cfg.Release,
		Archive: c.cfg.Archive,
	}

	queries := make([]backend.DuplicatesQuery, 0)

	if c.cfg.Kind == models.KindPlayerAchievements {
		for _, region := range regions {
			q := base
			q.Regions = []models.Region{region}
			queries = append(queries, q)
		}

		return queries, nil
	}

	tanks, err := c.db.TankStatsUniqueTanks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tanks: %w", err)
	}

	for _, tank := range tanks {
		for _, region := range regions {
			q := base
			q.TankID = tank
			q.Regions = []models.Region{region}
			queries = append(queries, q)
		}
	}

	return queries, nil
}

// Analyze finds duplicates per partition and stages them in the
// stats-to-delete list via a batching save worker.
func (c *Curator) Analyze(ctx context.Context) (*eventcounter.Counter, error) {
	counter := eventcounter.New("analyze")

	queries, err := c.partitions(ctx)
	if err != nil {
		return counter, err
	}

	saveQ := queue.New[models.StatsToDelete](c.cfg.BatchSize * 2)

	g, gctx := errgroup.WithContext(ctx)

	// Save worker persists staged entries in batches.
	saveCounter := eventcounter.New("save")

	g.Go(func() error {
		return c.saveWorker(gctx, saveQ, saveCounter)
	})

	// Analysis workers split the partition list.
	partQ := make(chan backend.DuplicatesQuery)
	results := make(chan *eventcounter.Counter, c.cfg.Workers)

	var wg sync.WaitGroup

	for i := 0; i < c.cfg.Workers; i++ {
		saveQ.AddProducer()
		wg.Add(1)

		go func() {
			defer wg.Done()
			defer saveQ.Finish() //nolint:errcheck

			results <- c.analyzeWorker(gctx, partQ, saveQ)
		}()
	}

feed:
	for _, q := range queries {
		select {
		case partQ <- q:
		case <-gctx.Done():
			break feed
		}
	}

	close(partQ)
	wg.Wait()
	close(results)

	if err := counter.Gather(ctx, results); err != nil {
		return counter, err
	}

	if err := g.Wait(); err != nil {
		return counter, err
	}

	counter.Merge(saveCounter)

	if err := c.db.UpdateLogAdd(ctx, "analyze", c.cfg.Kind, c.cfg.Release); err != nil {
		return counter, err
	}

	return counter, nil
}

func (c *Curator) analyzeWorker(ctx context.Context, partQ <-chan backend.DuplicatesQuery, saveQ *queue.Queue[models.StatsToDelete]) *eventcounter.Counter {
	counter := eventcounter.New("analyze worker")

	for q := range partQ {
		ids := make(chan string, c.cfg.BatchSize)
		errc := make(chan error, 1)

		go func() {
			defer close(ids)

			errc <- c.db.StatsDuplicates(ctx, q, ids)
		}()

		for id := range ids {
			entry := models.StatsToDelete{
				Type:    c.cfg.deleteType(),
				ID:      id,
				Release: c.cfg.Release,
			}

			if err := saveQ.Put(ctx, entry); err != nil {
				for range ids {
				}

				<-errc

				return counter
			}

			counter.Log("duplicates found")
		}

		if err := <-errc; err != nil {
			counter.Log("errors")
			c.log.Warn("partition analysis failed", "tank", q.TankID, "error", err)
		}
	}

	return counter
}

// saveWorker drains saveQ into DeleteListAdd batches.
func (c *Curator) saveWorker(ctx context.Context, saveQ *queue.Queue[models.StatsToDelete], counter *eventcounter.Counter) error {
	pending := make([]models.StatsToDelete, 0, c.cfg.BatchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}

		added, err := c.db.DeleteListAdd(ctx, pending)
		if err != nil {
			return err
		}

		counter.Add("saved", added)
		pending = pending[:0]

		return nil
	}

	for {
		entry, err := saveQ.Get(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrDone) {
				return flush()
			}

			return err
		}

		pending = append(pending, entry)
		saveQ.TaskDone()

		if len(pending) >= c.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// Check re-verifies a sample of staged duplicates against the backend
// without touching data.
func (c *Curator) Check(ctx context.Context, sample backend.Sample) (*eventcounter.Counter, error) {
	counter := eventcounter.New("check")

	window, err := c.window(ctx)
	if err != nil {
		return counter, err
	}

	entries := make(chan models.StatsToDelete, c.cfg.BatchSize)
	errc := make(chan error, 1)

	go func() {
		defer close(entries)

		errc <- c.db.DeleteListGet(ctx, c.cfg.deleteType(), sample, entries)
	}()

	for entry := range entries {
		if entry.Release != c.cfg.Release {
			counter.Log("Skipped")

			continue
		}

		newer, err := c.db.StatsNewerExists(ctx, c.cfg.Kind, c.cfg.Archive, entry.ID, window)

		switch {
		case errors.Is(err, backend.ErrNotFound):
			counter.Log("Not found")
		case err != nil:
			counter.Log("errors")
		case newer:
			counter.Log("OK")
		default:
			counter.Log("Invalid")
		}
	}

	if err := <-errc; err != nil {
		return counter, err
	}

	return counter, nil
}

// Prune deletes staged duplicates in bounded batches. Without commit it only
// reports what would be deleted. Pruning the hot collection verifies every
// batch against the archive first; a missing id aborts the run.
func (c *Curator) Prune(ctx context.Context, commit, checkArchive bool) (*eventcounter.Counter, error) {
	counter := eventcounter.New("prune")

	window, err := c.window(ctx)
	if err != nil {
		return counter, err
	}

	entries := make(chan models.StatsToDelete, c.cfg.BatchSize)
	errc := make(chan error, 1)

	go func() {
		defer close(entries)

		errc <- c.db.DeleteListGet(ctx, c.cfg.deleteType(), backend.Sample(0), entries)
	}()

	batch := make([]string, 0, c.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		defer func() { batch = batch[:0] }()

		if !c.cfg.Archive && checkArchive {
			missing, err := c.db.ArchiveMissing(ctx, c.cfg.Kind, batch)
			if err != nil {
				return err
			}

			if len(missing) > 0 {
				return fmt.Errorf("%w: %d ids not archived", ErrArchiveCheck, len(missing))
			}
		}

		if !commit {
			counter.Add("would delete", int64(len(batch)))

			return nil
		}

		deleted, err := c.db.StatsDeleteBatch(ctx, c.cfg.Kind, c.cfg.Archive, batch, window)
		if err != nil {
			return err
		}

		counter.Add("deleted", deleted)

		removed, err := c.db.DeleteListRemove(ctx, c.cfg.deleteType(), batch)
		if err != nil {
			return err
		}

		counter.Add("unstaged", removed)

		return nil
	}

	for entry := range entries {
		if entry.Release != c.cfg.Release {
			counter.Log("Skipped")

			continue
		}

		batch = append(batch, entry.ID)

		if len(batch) >= c.cfg.BatchSize {
			if err := flush(); err != nil {
				for range entries {
				}

				<-errc

				return counter, err
			}
		}
	}

	if err := <-errc; err != nil {
		return counter, err
	}

	if err := flush(); err != nil {
		return counter, err
	}

	if commit {
		if err := c.db.UpdateLogAdd(ctx, "prune", c.cfg.Kind, c.cfg.Release); err != nil {
			return counter, err
		}
	}

	return counter, nil
}

// Reset drops every pending stats-to-delete entry of the configured type.
func (c *Curator) Reset(ctx context.Context) (int64, error) {
	return c.db.DeleteListReset(ctx, c.cfg.deleteType())
}
