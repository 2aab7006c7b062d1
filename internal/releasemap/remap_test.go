package releasemap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/backend/memdb"
	"github.com/blitzstack/statmill/internal/models"
)

func remapFixture(t *testing.T) *memdb.DB {
	t.Helper()

	ctx := context.Background()
	db := memdb.New()

	for _, r := range []models.Release{
		{Release: "6.1", LaunchTime: 100, CutoffTime: 200},
		{Release: "6.2", LaunchTime: 200},
	} {
		require.NoError(t, db.ReleaseInsert(ctx, &r))
	}

	// The middle row carries a stale release tag.
	rows := []models.TankStat{
		{AccountID: 600000001, TankID: 1, LastBattleTime: 150, Release: "6.1"},
		{AccountID: 600000001, TankID: 2, LastBattleTime: 250, Release: "6.1"},
		{AccountID: 600000002, TankID: 1, LastBattleTime: 300, Release: "6.2"},
	}

	for i := range rows {
		require.NoError(t, rows[i].Normalize())
	}

	_, _, err := db.TankStatsInsert(ctx, rows, false)
	require.NoError(t, err)

	return db
}

func TestRemapDryRunCountsOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := remapFixture(t)

	counter, err := Remap(ctx, db, models.KindTankStats, backend.StatsFilter{}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counter.Get("read"))
	assert.Equal(t, int64(2), counter.Get("unchanged"))
	assert.Equal(t, int64(1), counter.Get("would update"))
	assert.Zero(t, counter.Get("updated"))

	// Nothing was written.
	stale := models.TankStat{AccountID: 600000001, TankID: 2, LastBattleTime: 250}
	row, err := db.TankStatGet(ctx, stale.Key())
	require.NoError(t, err)
	assert.Equal(t, "6.1", row.Release)
}

func TestRemapCommitRewritesStaleRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := remapFixture(t)

	counter, err := Remap(ctx, db, models.KindTankStats, backend.StatsFilter{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Get("updated"))

	stale := models.TankStat{AccountID: 600000001, TankID: 2, LastBattleTime: 250}
	row, err := db.TankStatGet(ctx, stale.Key())
	require.NoError(t, err)
	assert.Equal(t, "6.2", row.Release)

	// A second pass finds nothing left to fix.
	counter, err = Remap(ctx, db, models.KindTankStats, backend.StatsFilter{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counter.Get("unchanged"))
	assert.Zero(t, counter.Get("updated"))
}

func TestRemapAchievements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()

	for _, r := range []models.Release{
		{Release: "6.1", LaunchTime: 100, CutoffTime: 200},
		{Release: "6.2", LaunchTime: 200},
	} {
		require.NoError(t, db.ReleaseInsert(ctx, &r))
	}

	rows := []models.PlayerAchievement{
		{AccountID: 600000001, Updated: 150, Release: "6.2"},
		{AccountID: 600000001, Updated: 250, Release: "6.2"},
	}

	for i := range rows {
		require.NoError(t, rows[i].Normalize())
	}

	_, _, err := db.AchievementsInsert(ctx, rows, false)
	require.NoError(t, err)

	counter, err := Remap(ctx, db, models.KindPlayerAchievements, backend.StatsFilter{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Get("updated"))
	assert.Equal(t, int64(1), counter.Get("unchanged"))
}

func TestRemapWithoutReleases(t *testing.T) {
	t.Parallel()

	db := memdb.New()

	_, err := Remap(context.Background(), db, models.KindTankStats, backend.StatsFilter{}, false)
	assert.ErrorIs(t, err, ErrNoReleases)
}
