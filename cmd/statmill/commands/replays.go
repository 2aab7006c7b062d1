package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/crawler"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/observability"
	"github.com/blitzstack/statmill/internal/queue"
	"github.com/blitzstack/statmill/internal/wotinspector"
)

// NewReplaysCommand creates the replays command group.
func NewReplaysCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replays",
		Short: "Crawl and export battle replays",
	}

	cmd.AddCommand(
		newReplaysCrawlCommand(env),
		newReplaysExportCommand(env),
	)

	return cmd
}

func newReplaysCrawlCommand(env *Env) *cobra.Command {
	var (
		startPage     int
		maxPages      int
		maxOldReplays int
		workers       int
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the replay listing for new replays and accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, span := observability.StartPhase(cmd.Context(), "crawl",
				attribute.Int("start_page", startPage))
			defer span.End()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			api := wotinspector.New(env.cfg.WOTInspector.Client())

			ccfg := crawler.Config{
				StartPage:     startPage,
				MaxPages:      maxPages,
				Workers:       workers,
				MaxOldReplays: maxOldReplays,
				Force:         env.force,
			}

			if ccfg.MaxPages <= 0 {
				ccfg.MaxPages = env.cfg.WOTInspector.MaxPages
			}

			if ccfg.Workers <= 0 {
				ccfg.Workers = env.cfg.WOTInspector.Workers
			}

			accountQ := queue.New[models.Account](crawler.DefaultQueueCap)

			var (
				counter     *eventcounter.Counter
				saveCounter *eventcounter.Counter
			)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				c, err := saveDiscoveredAccounts(gctx, db, accountQ)
				saveCounter = c

				return err
			})

			g.Go(func() error {
				var err error

				counter, err = crawler.New(db, api, ccfg).Run(gctx, accountQ)

				return err
			})

			runErr := g.Wait()

			if counter != nil {
				env.metrics.ReplaysCrawled.Add(float64(counter.Get("replays fetched")))
			}

			env.report(cmd, counter, saveCounter)

			if env.verbose {
				env.report(cmd, api.Stats())
			}

			return runErr
		},
	}

	cmd.Flags().IntVar(&startPage, "start-page", 1, "first listing page")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "listing pages to crawl (default from config)")
	cmd.Flags().IntVar(&maxOldReplays, "max-old-replays", crawler.DefaultMaxOldReplays, "stop after this many already-seen replays")
	cmd.Flags().IntVar(&workers, "workers", 0, "replay fetch workers (default from config)")

	return cmd
}

// saveDiscoveredAccounts drains the crawler's account stream into the
// backend. Existing accounts are skipped by the batch insert.
func saveDiscoveredAccounts(ctx context.Context, db backend.AccountStore, accountQ *queue.Queue[models.Account]) (*eventcounter.Counter, error) {
	counter := eventcounter.New("accounts discovered")

	const batchSize = 100

	pending := make([]models.Account, 0, batchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}

		inserted, skipped, err := db.AccountsInsert(ctx, pending)
		if err != nil {
			return err
		}

		counter.Add("new", inserted)
		counter.Add("known", skipped)
		pending = pending[:0]

		return nil
	}

	for {
		account, err := accountQ.Get(ctx)
		if errors.Is(err, queue.ErrDone) {
			break
		}

		if err != nil {
			return counter, err
		}

		pending = append(pending, account)
		accountQ.TaskDone()

		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return counter, err
			}
		}
	}

	return counter, flush()
}

func newReplaysExportCommand(env *Env) *cobra.Command {
	var (
		file   string
		sample float64
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored replays to a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			counter, err := exportReplays(ctx, db, backend.Sample(sample), file)

			env.report(cmd, counter)

			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "replays.json", "output file")
	cmd.Flags().Float64Var(&sample, "sample", 0, "fraction (<1) or absolute count (>=1) of replays")

	return cmd
}

func exportReplays(ctx context.Context, db backend.ReplayStore, sample backend.Sample, path string) (*eventcounter.Counter, error) {
	counter := eventcounter.New("replays export")

	stream := make(chan models.Replay, 100)
	errc := make(chan error, 1)

	go func() {
		defer close(stream)

		errc <- db.ReplaysExport(ctx, sample, stream)
	}()

	replays := make([]models.Replay, 0)

	for replay := range stream {
		replays = append(replays, replay)
		counter.Log("written")
	}

	if err := <-errc; err != nil {
		return counter, err
	}

	f, err := os.Create(path)
	if err != nil {
		return counter, fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	if err := enc.Encode(replays); err != nil {
		return counter, err
	}

	return counter, f.Sync()
}
