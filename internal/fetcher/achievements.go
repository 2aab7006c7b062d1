package fetcher

import (
	"context"
	"log/slog"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/queue"
	"github.com/blitzstack/statmill/internal/releasemap"
)

// AchievementsAPI is the upstream surface the achievements pipeline calls.
type AchievementsAPI interface {
	GetPlayerAchievements(ctx context.Context, accountID int64, region models.Region) (*models.PlayerAchievement, error)
}

// AchievementsStore is the backend surface the achievements pipeline needs.
type AchievementsStore interface {
	backend.AccountStore
	backend.AchievementStore
	backend.LogStore
}

// Achievements fetches and persists achievement snapshots for a stream of
// accounts.
type Achievements struct {
	p pipeline[models.PlayerAchievement]
}

// NewAchievements wires the pipeline. A nil releases map leaves rows
// unassigned for the offline remap.
func NewAchievements(db AchievementsStore, api AchievementsAPI, releases *releasemap.Map, cfg Config) *Achievements {
	cfg.fill()

	f := &Achievements{}

	f.p = pipeline[models.PlayerAchievement]{
		kind: models.KindPlayerAchievements,
		cfg:  cfg,
		db:   db,
		log:  slog.Default().With("pipeline", string(models.KindPlayerAchievements)),
		fetch: func(ctx context.Context, account *models.Account) ([]models.PlayerAchievement, error) {
			pa, err := api.GetPlayerAchievements(ctx, account.ID, account.Region)
			if err != nil || pa == nil {
				return nil, err
			}

			return []models.PlayerAchievement{*pa}, nil
		},
		write: func(ctx context.Context, b batch[models.PlayerAchievement], _ *eventcounter.Counter) error {
			return writeAchievements(ctx, db, releases, cfg, b)
		},
	}

	return f
}

// Run consumes accountQ until done and returns the merged pipeline counters.
func (f *Achievements) Run(ctx context.Context, accountQ *queue.Queue[models.Account], total int64) (*eventcounter.Counter, error) {
	return f.p.run(ctx, accountQ, total)
}

func writeAchievements(ctx context.Context, db AchievementsStore, releases *releasemap.Map, cfg Config, b batch[models.PlayerAchievement]) error {
	rows := make([]models.PlayerAchievement, 0, len(b.rows))

	var maxUpdated int64

	for _, row := range b.rows {
		if row.Updated > maxUpdated {
			maxUpdated = row.Updated
		}

		if releases != nil {
			row.Release = releases.Get(row.Updated).Release
		}

		rows = append(rows, row)
	}

	inserted, _, err := db.AchievementsInsert(ctx, rows, false)
	if err != nil {
		return err
	}

	// Achievements carry no battle time; only stats_updated and inactive are
	// touched on the account.
	return updateAccount(ctx, db, models.KindPlayerAchievements, cfg.InactiveAfter, b.account.ID, 0, inserted)
}
