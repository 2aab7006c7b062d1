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

// TankStatsAPI is the upstream surface the tank-stats pipeline calls.
type TankStatsAPI interface {
	GetTankStats(ctx context.Context, accountID int64, region models.Region) ([]models.TankStat, error)
}

// TankStatsStore is the backend surface the tank-stats pipeline needs.
type TankStatsStore interface {
	backend.AccountStore
	backend.TankStatStore
	backend.LogStore
}

// TankStats fetches and persists per-tank stats for a stream of accounts.
type TankStats struct {
	p pipeline[models.TankStat]
}

// NewTankStats wires the pipeline. releases may be nil, in which case rows
// are stored without a release and the offline remap assigns them later.
func NewTankStats(db TankStatsStore, api TankStatsAPI, releases *releasemap.Map, cfg Config) *TankStats {
	cfg.fill()

	f := &TankStats{}

	f.p = pipeline[models.TankStat]{
		kind: models.KindTankStats,
		cfg:  cfg,
		db:   db,
		log:  slog.Default().With("pipeline", string(models.KindTankStats)),
		fetch: func(ctx context.Context, account *models.Account) ([]models.TankStat, error) {
			return api.GetTankStats(ctx, account.ID, account.Region)
		},
		write: func(ctx context.Context, b batch[models.TankStat], _ *eventcounter.Counter) error {
			return writeTankStats(ctx, db, releases, cfg, b)
		},
	}

	return f
}

// Run consumes accountQ until done and returns the merged pipeline counters.
// total is the expected account count from a backend count call, used for
// worker sizing only.
func (f *TankStats) Run(ctx context.Context, accountQ *queue.Queue[models.Account], total int64) (*eventcounter.Counter, error) {
	return f.p.run(ctx, accountQ, total)
}

func writeTankStats(ctx context.Context, db TankStatsStore, releases *releasemap.Map, cfg Config, b batch[models.TankStat]) error {
	rows := make([]models.TankStat, 0, len(b.rows))

	var maxLBT int64

	for _, row := range b.rows {
		if row.LastBattleTime > maxLBT {
			maxLBT = row.LastBattleTime
		}

		if releases != nil {
			row.Release = releases.Get(row.LastBattleTime).Release
		}

		rows = append(rows, row)
	}

	inserted, _, err := db.TankStatsInsert(ctx, rows, false)
	if err != nil {
		return err
	}

	return updateAccount(ctx, db, models.KindTankStats, cfg.InactiveAfter, b.account.ID, maxLBT, inserted)
}
