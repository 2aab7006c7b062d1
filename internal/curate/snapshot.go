package curate

import (
	"context"
	"math/rand"
	"sync"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
)

// snapshotPartitions enumerates the units of snapshotting: one account-id
// range per region, crossed with the known tanks for tank stats. When no
// tank list is available the whole range is one partition. The list is
// shuffled so progress estimates stay stable across heterogeneous regions.
func (c *Curator) snapshotPartitions(ctx context.Context) ([]backend.Partition, error) {
	regions := c.cfg.Regions
	if len(regions) == 0 {
		regions = models.AllRegions()
	}

	parts := make([]backend.Partition, 0)

	var tanks []int64

	if c.cfg.Kind == models.KindTankStats {
		var err error

		tanks, err = c.db.TankStatsUniqueTanks(ctx)
		if err != nil {
			return nil, err
		}
	}

	for _, region := range regions {
		low, high := region.IDRange()

		if len(tanks) == 0 {
			parts = append(parts, backend.Partition{AccountLow: low, AccountHigh: high})

			continue
		}

		for _, tank := range tanks {
			parts = append(parts, backend.Partition{AccountLow: low, AccountHigh: high, TankID: tank})
		}
	}

	rand.Shuffle(len(parts), func(i, j int) {
		parts[i], parts[j] = parts[j], parts[i]
	})

	return parts, nil
}

// Snapshot merges the newest archived row per identity key into the hot
// collection, partition by partition, keeping rows that already exist there.
func (c *Curator) Snapshot(ctx context.Context) (*eventcounter.Counter, error) {
	counter := eventcounter.New("snapshot")

	parts, err := c.snapshotPartitions(ctx)
	if err != nil {
		return counter, err
	}

	partQ := make(chan backend.Partition)
	results := make(chan *eventcounter.Counter, c.cfg.Workers)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results <- c.snapshotWorker(wctx, partQ)
		}()
	}

feed:
	for _, part := range parts {
		select {
		case partQ <- part:
		case <-wctx.Done():
			break feed
		}
	}

	close(partQ)
	wg.Wait()
	close(results)

	if err := counter.Gather(ctx, results); err != nil {
		return counter, err
	}

	if err := ctx.Err(); err != nil {
		return counter, err
	}

	if err := c.db.UpdateLogAdd(ctx, "snapshot", c.cfg.Kind, c.cfg.Release); err != nil {
		return counter, err
	}

	return counter, nil
}

func (c *Curator) snapshotWorker(ctx context.Context, partQ <-chan backend.Partition) *eventcounter.Counter {
	counter := eventcounter.New("snapshot worker")

	for part := range partQ {
		examined, err := c.db.Snapshot(ctx, c.cfg.Kind, part)
		if err != nil {
			counter.Log("errors")
			c.log.Warn("partition snapshot failed",
				"low", part.AccountLow, "high", part.AccountHigh, "tank", part.TankID, "error", err)

			continue
		}

		counter.Log("partitions")
		counter.Add("keys examined", examined)
	}

	return counter
}
