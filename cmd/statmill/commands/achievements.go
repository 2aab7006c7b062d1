package commands

import (
	"github.com/spf13/cobra"

	"github.com/blitzstack/statmill/internal/models"
)

// NewAchievementsCommand creates the player-achievements command group.
func NewAchievementsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player-achievements",
		Short: "Fetch and curate player achievements",
	}

	kind := models.KindPlayerAchievements

	fetch := &cobra.Command{
		Use:     "fetch",
		Aliases: []string{"update"},
		Short:   "Fetch achievements for matching accounts",
	}

	opts := &fetchOptions{}
	opts.register(fetch)
	fetch.RunE = func(cmd *cobra.Command, _ []string) error {
		return env.runFetch(cmd, kind, opts)
	}

	cmd.AddCommand(
		fetch,
		newAnalyzeCommand(env, kind),
		newCheckCommand(env, kind),
		newPruneCommand(env, kind),
		newResetCommand(env, kind),
		newSnapshotCommand(env, kind),
		newRemapCommand(env, kind),
	)

	return cmd
}
