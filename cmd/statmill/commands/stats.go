package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/curate"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/fetcher"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/observability"
	"github.com/blitzstack/statmill/internal/queue"
	"github.com/blitzstack/statmill/internal/releasemap"
	"github.com/blitzstack/statmill/internal/source"
	"github.com/blitzstack/statmill/internal/wgapi"
)

// fetchOptions are the shared flags of the stats fetch commands.
type fetchOptions struct {
	regionNames []string
	ids         []int64
	file        string
	sample      float64
	distributed string
	cacheValid  time.Duration
	inactive    string
	disabled    string
	errorLog    bool
	workers     int
}

func (o *fetchOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.regionNames, "region", nil, "regions to fetch (default: api regions)")
	cmd.Flags().Int64SliceVar(&o.ids, "accounts", nil, "explicit account ids")
	cmd.Flags().StringVar(&o.file, "file", "", "account file (txt, csv or json)")
	cmd.Flags().Float64Var(&o.sample, "sample", 0, "fraction (<1) or absolute count (>=1) of accounts")
	cmd.Flags().StringVar(&o.distributed, "distributed", "", "process only accounts with id mod N == I (I:N)")
	cmd.Flags().DurationVar(&o.cacheValid, "cache-valid", 0, "skip accounts updated within this window (default from config)")
	cmd.Flags().StringVar(&o.inactive, "inactive", "no", "include inactive accounts: any, yes, no")
	cmd.Flags().StringVar(&o.disabled, "disabled", "no", "include disabled accounts: any, yes, no")
	cmd.Flags().BoolVar(&o.errorLog, "error-log", false, "re-fetch the accounts recorded in the error log")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "fetcher worker count (default from config)")
}

// filter builds the backend account filter of a fetch invocation. The
// cache cutoff comes from the flag, the config default, or is disabled
// entirely by --force.
func (o *fetchOptions) filter(env *Env, kind models.StatsKind) (backend.AccountFilter, error) {
	regions, err := parseRegions(o.regionNames)
	if err != nil {
		return backend.AccountFilter{}, err
	}

	inactiveOpt, err := parseOptBool(o.inactive)
	if err != nil {
		return backend.AccountFilter{}, err
	}

	disabledOpt, err := parseOptBool(o.disabled)
	if err != nil {
		return backend.AccountFilter{}, err
	}

	distributed, err := backend.ParseDistributed(o.distributed)
	if err != nil {
		return backend.AccountFilter{}, err
	}

	var cacheCutoff int64

	if !env.force {
		window := o.cacheValid
		if window <= 0 {
			window = env.cfg.General.CacheValid
		}

		if window > 0 {
			cacheCutoff = time.Now().Add(-window).Unix()
		}
	}

	return backend.AccountFilter{
		Kind:        kind,
		Regions:     regions,
		Inactive:    inactiveOpt,
		Disabled:    disabledOpt,
		Sample:      backend.Sample(o.sample),
		CacheValid:  cacheCutoff,
		Distributed: distributed,
	}, nil
}

// runFetch wires source -> fetch pipeline -> backend for one stats kind.
func (env *Env) runFetch(cmd *cobra.Command, kind models.StatsKind, opts *fetchOptions) error {
	ctx, span := observability.StartPhase(cmd.Context(), "fetch",
		attribute.String("kind", string(kind)))
	defer span.End()

	flt, err := opts.filter(env, kind)
	if err != nil {
		return err
	}

	db, err := env.openBackend(ctx)
	if err != nil {
		return err
	}
	defer db.Close(ctx) //nolint:errcheck

	api, err := wgapi.New(env.cfg.WG.Client())
	if err != nil {
		return err
	}

	// An empty release table disables release tagging at insert; remap can
	// assign releases later.
	var mapper *releasemap.Map

	releases, err := db.ReleasesGet(ctx)
	if err != nil {
		return err
	}

	if len(releases) > 0 {
		mapper, err = releasemap.New(releases)
		if err != nil {
			return err
		}
	}

	ids := opts.ids

	if opts.errorLog {
		ids, err = db.ErrorLogAccounts(ctx, kind)
		if err != nil {
			return err
		}

		// Nothing logged means nothing to retry; do not fall through to a
		// full backend fetch.
		if len(ids) == 0 {
			cmd.Println("error log is empty, nothing to re-fetch")

			return nil
		}
	}

	src := source.New(db)
	srcOpts := source.Options{IDs: ids, File: opts.file, Filter: flt}

	total, err := src.Count(ctx, srcOpts)
	if err != nil {
		return err
	}

	workers := opts.workers
	if workers <= 0 {
		workers = env.cfg.WG.Workers
	}

	fcfg := fetcher.Config{
		Workers:       workers,
		InactiveAfter: env.cfg.General.InactiveAfter,
	}

	accountQ := queue.New[models.Account](fetcher.DefaultQueueCap)

	var (
		counter    *eventcounter.Counter
		srcCounter *eventcounter.Counter
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c, err := src.Stream(gctx, srcOpts, accountQ)
		srcCounter = c

		return err
	})

	g.Go(func() error {
		var err error

		switch kind {
		case models.KindPlayerAchievements:
			counter, err = fetcher.NewAchievements(db, api, mapper, fcfg).Run(gctx, accountQ, total)
		default:
			counter, err = fetcher.NewTankStats(db, api, mapper, fcfg).Run(gctx, accountQ, total)
		}

		return err
	})

	runErr := g.Wait()

	env.observeFetch(kind, counter)
	env.report(cmd, counter, srcCounter)

	if env.verbose {
		env.report(cmd, api.Stats())
	}

	if runErr != nil {
		return runErr
	}

	return db.UpdateLogAdd(ctx, "fetch", kind, "")
}

// curateOptions are the shared flags of the analyze/check/prune/snapshot
// commands.
type curateOptions struct {
	release     string
	regionNames []string
	archive     bool
	workers     int
	batchSize   int
}

func (o *curateOptions) register(cmd *cobra.Command, needRelease bool) {
	cmd.Flags().StringVar(&o.release, "release", "", "release to curate (X.Y)")
	cmd.Flags().StringSliceVar(&o.regionNames, "region", nil, "regions to curate (default: api regions)")
	cmd.Flags().BoolVar(&o.archive, "archive", false, "target the archive collection")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "worker count")
	cmd.Flags().IntVar(&o.batchSize, "batch", 0, "delete/save batch size")

	if needRelease {
		_ = cmd.MarkFlagRequired("release")
	}
}

func (o *curateOptions) config(kind models.StatsKind) (curate.Config, error) {
	regions, err := parseRegions(o.regionNames)
	if err != nil {
		return curate.Config{}, err
	}

	return curate.Config{
		Kind:      kind,
		Release:   o.release,
		Regions:   regions,
		Archive:   o.archive,
		Workers:   o.workers,
		BatchSize: o.batchSize,
	}, nil
}

// curatePhase opens the backend and runs one curator phase under a span.
func (env *Env) curatePhase(cmd *cobra.Command, kind models.StatsKind, opts *curateOptions, phase string,
	run func(ctx context.Context, c *curate.Curator) (*eventcounter.Counter, error),
) error {
	ctx, span := observability.StartPhase(cmd.Context(), phase,
		attribute.String("kind", string(kind)),
		attribute.String("release", opts.release))
	defer span.End()

	cfg, err := opts.config(kind)
	if err != nil {
		return err
	}

	db, err := env.openBackend(ctx)
	if err != nil {
		return err
	}
	defer db.Close(ctx) //nolint:errcheck

	counter, err := run(ctx, curate.New(db, cfg))

	env.report(cmd, counter)

	return err
}

func newAnalyzeCommand(env *Env, kind models.StatsKind) *cobra.Command {
	opts := &curateOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Stage duplicate stat rows for pruning",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.curatePhase(cmd, kind, opts, "analyze",
				func(ctx context.Context, c *curate.Curator) (*eventcounter.Counter, error) {
					return c.Analyze(ctx)
				})
		},
	}

	opts.register(cmd, true)

	return cmd
}

func newCheckCommand(env *Env, kind models.StatsKind) *cobra.Command {
	opts := &curateOptions{}

	var sample float64

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify staged duplicates against the live collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.curatePhase(cmd, kind, opts, "check",
				func(ctx context.Context, c *curate.Curator) (*eventcounter.Counter, error) {
					return c.Check(ctx, backend.Sample(sample))
				})
		},
	}

	opts.register(cmd, true)
	cmd.Flags().Float64Var(&sample, "sample", 0, "check only a sample of staged entries")

	return cmd
}

func newPruneCommand(env *Env, kind models.StatsKind) *cobra.Command {
	opts := &curateOptions{}

	var commit bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete staged duplicate rows (dry run without --commit)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.curatePhase(cmd, kind, opts, "prune",
				func(ctx context.Context, c *curate.Curator) (*eventcounter.Counter, error) {
					// --force skips the archive safety check.
					return c.Prune(ctx, commit, !env.force)
				})
		},
	}

	opts.register(cmd, true)
	cmd.Flags().BoolVar(&commit, "commit", false, "actually delete; default is a dry run")

	return cmd
}

func newResetCommand(env *Env, kind models.StatsKind) *cobra.Command {
	opts := &curateOptions{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop all staged duplicates of this kind",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.curatePhase(cmd, kind, opts, "reset",
				func(ctx context.Context, c *curate.Curator) (*eventcounter.Counter, error) {
					removed, err := c.Reset(ctx)

					counter := eventcounter.New("reset")
					counter.Add("unstaged", removed)

					return counter, err
				})
		},
	}

	opts.register(cmd, false)

	return cmd
}

func newSnapshotCommand(env *Env, kind models.StatsKind) *cobra.Command {
	opts := &curateOptions{}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Merge the newest archived rows into the latest collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.curatePhase(cmd, kind, opts, "snapshot",
				func(ctx context.Context, c *curate.Curator) (*eventcounter.Counter, error) {
					return c.Snapshot(ctx)
				})
		},
	}

	opts.register(cmd, false)

	return cmd
}

func newRemapCommand(env *Env, kind models.StatsKind) *cobra.Command {
	var (
		release     string
		regionNames []string
		commit      bool
	)

	cmd := &cobra.Command{
		Use:   "remap",
		Short: "Recompute the release field of stored stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, span := observability.StartPhase(cmd.Context(), "remap",
				attribute.String("kind", string(kind)))
			defer span.End()

			regions, err := parseRegions(regionNames)
			if err != nil {
				return err
			}

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			counter, err := releasemap.Remap(ctx, db, kind, backend.StatsFilter{
				Release: release,
				Regions: regions,
			}, commit)

			env.report(cmd, counter)

			return err
		},
	}

	cmd.Flags().StringVar(&release, "release", "", "limit to stats currently tagged with this release")
	cmd.Flags().StringSliceVar(&regionNames, "region", nil, "regions to remap (default: api regions)")
	cmd.Flags().BoolVar(&commit, "commit", false, "actually rewrite rows; default is a dry run")

	return cmd
}
