package releasemap

import (
	"context"
	"log/slog"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
)

// RemapStore is the backend surface the offline remap needs.
type RemapStore interface {
	backend.TankStatStore
	backend.AchievementStore
	backend.ReleaseStore
}

// Remap streams stat rows, recomputes their release from the current release
// table and, when commit is set, rewrites rows whose assignment changed.
// Without commit it only counts the would-change rows.
func Remap(ctx context.Context, db RemapStore, kind models.StatsKind, flt backend.StatsFilter, commit bool) (*eventcounter.Counter, error) {
	counter := eventcounter.New("remap")
	log := slog.Default().With("component", "remap", "kind", string(kind))

	releases, err := db.ReleasesGet(ctx)
	if err != nil {
		return counter, err
	}

	mapper, err := New(releases)
	if err != nil {
		return counter, err
	}

	if kind == models.KindPlayerAchievements {
		return counter, remapAchievements(ctx, db, mapper, flt, commit, counter, log)
	}

	return counter, remapTankStats(ctx, db, mapper, flt, commit, counter, log)
}

func remapTankStats(ctx context.Context, db RemapStore, mapper *Map, flt backend.StatsFilter, commit bool, counter *eventcounter.Counter, log *slog.Logger) error {
	stream := make(chan models.TankStat, 100)
	errc := make(chan error, 1)

	go func() {
		defer close(stream)

		errc <- db.TankStatsGet(ctx, flt, stream)
	}()

	for ts := range stream {
		counter.Log("read")

		want := mapper.Get(ts.LastBattleTime).Release
		if want == ts.Release {
			counter.Log("unchanged")

			continue
		}

		if !commit {
			counter.Log("would update")
			log.Debug("release mismatch", "id", ts.ID, "have", ts.Release, "want", want)

			continue
		}

		ts.Release = want

		if err := db.TankStatUpdate(ctx, &ts, []string{"release"}); err != nil {
			counter.Log("errors")

			continue
		}

		counter.Log("updated")
	}

	return <-errc
}

func remapAchievements(ctx context.Context, db RemapStore, mapper *Map, flt backend.StatsFilter, commit bool, counter *eventcounter.Counter, log *slog.Logger) error {
	stream := make(chan models.PlayerAchievement, 100)
	errc := make(chan error, 1)

	go func() {
		defer close(stream)

		errc <- db.AchievementsGet(ctx, flt, stream)
	}()

	for pa := range stream {
		counter.Log("read")

		want := mapper.Get(pa.Updated).Release
		if want == pa.Release {
			counter.Log("unchanged")

			continue
		}

		if !commit {
			counter.Log("would update")
			log.Debug("release mismatch", "id", pa.ID, "have", pa.Release, "want", want)

			continue
		}

		pa.Release = want

		if err := db.AchievementUpdate(ctx, &pa, []string{"release"}); err != nil {
			counter.Log("errors")

			continue
		}

		counter.Log("updated")
	}

	return <-errc
}
