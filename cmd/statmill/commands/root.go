// Package commands implements CLI command handlers for statmill.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/config"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/observability"

	// Registered backend drivers.
	_ "github.com/blitzstack/statmill/internal/backend/memdb"
	_ "github.com/blitzstack/statmill/internal/backend/mongodb"
)

// Env carries the global flags and the loaded configuration shared by every
// command. Commands receive it from the root constructor; there is no
// package-level state.
type Env struct {
	debug       bool
	verbose     bool
	silent      bool
	logFile     string
	configPath  string
	backendName string
	force       bool
	metricsAddr string

	cfg     *config.Config
	metrics *observability.Metrics
}

// NewRootCommand creates the statmill root command with all subcommands.
func NewRootCommand() *cobra.Command {
	env := &Env{}

	rootCmd := &cobra.Command{
		Use:   "statmill",
		Short: "statmill - game stats ingestion and curation",
		Long: `statmill fetches player stats from the upstream game API, crawls
replay listings for new accounts, and curates the stored stats:
release mapping, duplicate pruning and archive snapshots.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: env.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&env.debug, "debug", false, "debug logging")
	flags.BoolVarP(&env.verbose, "verbose", "v", false, "verbose logging")
	flags.BoolVar(&env.silent, "silent", false, "errors only")
	flags.StringVar(&env.logFile, "log", "", "log to a rotated file instead of stderr")
	flags.StringVar(&env.configPath, "config", "", "config file (default: statmill.ini in CWD or $HOME)")
	flags.StringVar(&env.backendName, "backend", "", "backend driver: mongodb, postgresql, files, memory")
	flags.BoolVar(&env.force, "force", false, "override safety checks")
	flags.StringVar(&env.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		NewAccountsCommand(env),
		NewTankStatsCommand(env),
		NewAchievementsCommand(env),
		NewReplaysCommand(env),
		NewTankopediaCommand(env),
		NewReleasesCommand(env),
		NewSetupCommand(env),
	)

	return rootCmd
}

// setup runs before every command: logging, config, metrics.
func (e *Env) setup(_ *cobra.Command, _ []string) error {
	observability.SetupLogging(observability.LogConfig{
		Debug:   e.debug,
		Verbose: e.verbose,
		Silent:  e.silent,
		File:    e.logFile,
	})

	cfg, err := config.LoadConfig(e.configPath)
	if err != nil {
		return err
	}

	e.cfg = cfg

	if e.backendName == "" {
		e.backendName = cfg.General.Backend
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	e.metrics = metrics

	if e.metricsAddr != "" {
		e.metrics.Serve(e.metricsAddr)
	}

	return nil
}

// openBackend connects the selected driver. postgresql and files are
// recognized names without a driver yet; Open reports them as not
// implemented.
func (e *Env) openBackend(ctx context.Context) (backend.Backend, error) {
	db, err := backend.Open(ctx, e.backendName, e.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening backend: %w", err)
	}

	return db, nil
}

// parseRegions maps --region values to models, defaulting to the API
// regions.
func parseRegions(names []string) ([]models.Region, error) {
	if len(names) == 0 {
		return models.APIRegions(), nil
	}

	regions := make([]models.Region, 0, len(names))

	for _, name := range names {
		region, err := models.ParseRegion(name)
		if err != nil {
			return nil, err
		}

		regions = append(regions, region)
	}

	return regions, nil
}

// errBadFlag marks unparsable flag values.
var errBadFlag = errors.New("invalid flag value")

// parseOptBool maps a tri-state flag: any, yes or no.
func parseOptBool(s string) (backend.OptBool, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return backend.BothOpt, nil
	case "yes", "true":
		return backend.TrueOpt, nil
	case "no", "false":
		return backend.FalseOpt, nil
	}

	return backend.BothOpt, fmt.Errorf("%w: %q (want any, yes or no)", errBadFlag, s)
}
