package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/blitzstack/statmill/internal/models"
)

// NewReleasesCommand creates the releases command group.
func NewReleasesCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "releases",
		Short: "Manage the game release table",
	}

	cmd.AddCommand(
		newReleasesListCommand(env),
		newReleasesAddCommand(env),
		newReleasesEditCommand(env),
		newReleasesRemoveCommand(env),
	)

	return cmd
}

// parseEpoch accepts unix seconds or a YYYY-MM-DD date.
func parseEpoch(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epoch, nil
	}

	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q (want unix seconds or YYYY-MM-DD)", errBadFlag, s)
	}

	return t.Unix(), nil
}

func newReleasesListCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List releases ordered by launch time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			releases, err := db.ReleasesGet(ctx)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"release", "launch", "cutoff"})

			for _, release := range releases {
				cutoff := "open"
				if !release.Open() {
					cutoff = time.Unix(release.CutoffTime, 0).UTC().Format(time.RFC3339)
				}

				t.AppendRow(table.Row{
					release.Release,
					time.Unix(release.LaunchTime, 0).UTC().Format(time.RFC3339),
					cutoff,
				})
			}

			t.Render()

			return nil
		},
	}

	return cmd
}

func newReleasesAddCommand(env *Env) *cobra.Command {
	var launch, cutoff string

	cmd := &cobra.Command{
		Use:   "add RELEASE",
		Short: "Add a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			launchAt, err := parseEpoch(launch)
			if err != nil {
				return err
			}

			cutoffAt, err := parseEpoch(cutoff)
			if err != nil {
				return err
			}

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			return db.ReleaseInsert(ctx, &models.Release{
				Release:    args[0],
				LaunchTime: launchAt,
				CutoffTime: cutoffAt,
			})
		},
	}

	cmd.Flags().StringVar(&launch, "launch", "", "launch time (unix seconds or YYYY-MM-DD)")
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "cutoff time; empty keeps the release open")
	_ = cmd.MarkFlagRequired("launch")

	return cmd
}

func newReleasesEditCommand(env *Env) *cobra.Command {
	var launch, cutoff string

	cmd := &cobra.Command{
		Use:   "edit RELEASE",
		Short: "Edit the launch or cutoff time of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			release, err := db.ReleaseGet(ctx, args[0])
			if err != nil {
				return err
			}

			if launch != "" {
				release.LaunchTime, err = parseEpoch(launch)
				if err != nil {
					return err
				}
			}

			if cutoff != "" {
				release.CutoffTime, err = parseEpoch(cutoff)
				if err != nil {
					return err
				}
			}

			return db.ReleaseUpdate(ctx, release)
		},
	}

	cmd.Flags().StringVar(&launch, "launch", "", "new launch time")
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "new cutoff time")

	return cmd
}

func newReleasesRemoveCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove RELEASE",
		Short: "Remove a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			return db.ReleaseDelete(ctx, args[0])
		},
	}

	return cmd
}
