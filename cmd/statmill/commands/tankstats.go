package commands

import (
	"github.com/spf13/cobra"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/export"
	"github.com/blitzstack/statmill/internal/models"
)

// NewTankStatsCommand creates the tank-stats command group.
func NewTankStatsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tank-stats",
		Short: "Fetch, export and curate per-tank stats",
	}

	kind := models.KindTankStats

	cmd.AddCommand(
		newTankStatsFetchCommand(env),
		newTankStatsExportCommand(env),
		newTankStatsExportDataCommand(env),
		newAnalyzeCommand(env, kind),
		newCheckCommand(env, kind),
		newPruneCommand(env, kind),
		newResetCommand(env, kind),
		newSnapshotCommand(env, kind),
		newRemapCommand(env, kind),
	)

	return cmd
}

func newTankStatsFetchCommand(env *Env) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:     "fetch",
		Aliases: []string{"update"},
		Short:   "Fetch tank stats for matching accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.runFetch(cmd, models.KindTankStats, opts)
		},
	}

	opts.register(cmd)

	return cmd
}

func newTankStatsExportCommand(env *Env) *cobra.Command {
	var (
		file        string
		release     string
		regionNames []string
		tanks       []int64
		sample      float64
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tank stat rows to a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			regions, err := parseRegions(regionNames)
			if err != nil {
				return err
			}

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			if file == "" {
				file = env.cfg.TankStats.ExportFile
			}

			counter, err := export.TankStats(ctx, db, backend.StatsFilter{
				Release: release,
				Regions: regions,
				Tanks:   tanks,
				Sample:  backend.Sample(sample),
			}, file)

			env.report(cmd, counter)

			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "output file (json)")
	cmd.Flags().StringVar(&release, "release", "", "limit to one release")
	cmd.Flags().StringSliceVar(&regionNames, "region", nil, "regions to export (default: api regions)")
	cmd.Flags().Int64SliceVar(&tanks, "tank", nil, "limit to tank ids")
	cmd.Flags().Float64Var(&sample, "sample", 0, "fraction (<1) or absolute count (>=1) of rows")

	return cmd
}

func newTankStatsExportDataCommand(env *Env) *cobra.Command {
	var (
		dir         string
		release     string
		regionNames []string
	)

	cmd := &cobra.Command{
		Use:   "export-data",
		Short: "Export one LZ4 columnar file per tank for a release",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			regions, err := parseRegions(regionNames)
			if err != nil {
				return err
			}

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			if dir == "" {
				dir = env.cfg.TankStats.ExportDataFile
			}

			counter, err := export.TankStatsData(ctx, db, release, regions, dir)

			env.report(cmd, counter)

			return err
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default from config)")
	cmd.Flags().StringVar(&release, "release", "", "release to export")
	cmd.Flags().StringSliceVar(&regionNames, "region", nil, "regions to export (default: api regions)")
	_ = cmd.MarkFlagRequired("release")

	return cmd
}
