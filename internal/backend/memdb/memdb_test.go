package memdb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

func tankStat(account, tank, lbt int64) models.TankStat {
	ts := models.TankStat{AccountID: account, TankID: tank, LastBattleTime: lbt}
	_ = ts.Normalize()

	return ts
}

func TestAccountsInsertIdempotent(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	a1, err := models.NewAccount(600_000_001)
	require.NoError(t, err)
	a2, err := models.NewAccount(600_000_002)
	require.NoError(t, err)

	accounts := []models.Account{*a1, *a2}

	inserted, skipped, err := db.AccountsInsert(ctx, accounts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)
	assert.Equal(t, int64(0), skipped)

	inserted, skipped, err = db.AccountsInsert(ctx, accounts)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)
	assert.Equal(t, int64(2), skipped)

	n, err := db.AccountsCount(ctx, backend.AccountFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTankStatsInsertForce(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	row := tankStat(600_000_001, 42, 1000)
	row.All.Battles = 10

	inserted, skipped, err := db.TankStatsInsert(ctx, []models.TankStat{row}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)
	assert.Equal(t, int64(0), skipped)

	row.All.Battles = 11

	inserted, skipped, err = db.TankStatsInsert(ctx, []models.TankStat{row}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)
	assert.Equal(t, int64(1), skipped)

	stored, err := db.TankStatGet(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.All.Battles)

	_, _, err = db.TankStatsInsert(ctx, []models.TankStat{row}, true)
	require.NoError(t, err)

	stored, err = db.TankStatGet(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11), stored.All.Battles)
}

func TestStatsDuplicates(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	// Three rows for one (account, tank) pair inside the window, one outside.
	rows := []models.TankStat{
		tankStat(600_000_001, 42, 110),
		tankStat(600_000_001, 42, 120),
		tankStat(600_000_001, 42, 130),
		tankStat(600_000_001, 42, 90),
		tankStat(600_000_002, 42, 115),
	}

	_, _, err := db.TankStatsInsert(ctx, rows, false)
	require.NoError(t, err)

	out := make(chan string, 16)
	q := backend.DuplicatesQuery{
		Kind:   models.KindTankStats,
		Window: backend.Window{Start: 100, End: 200},
		TankID: 42,
	}

	require.NoError(t, db.StatsDuplicates(ctx, q, out))
	close(out)

	got := make([]string, 0)
	for id := range out {
		got = append(got, id)
	}

	// The newest row (130) survives, 110 and 120 are duplicates. The row at 90
	// is outside the window, account 2 has a single row.
	assert.ElementsMatch(t, []string{rows[0].ID, rows[1].ID}, got)
}

func TestStatsNewerExists(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	older := tankStat(600_000_001, 42, 110)
	newer := tankStat(600_000_001, 42, 130)

	_, _, err := db.TankStatsInsert(ctx, []models.TankStat{older, newer}, false)
	require.NoError(t, err)

	window := backend.Window{Start: 100, End: 200}

	ok, err := db.StatsNewerExists(ctx, models.KindTankStats, false, older.ID, window)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.StatsNewerExists(ctx, models.KindTankStats, false, newer.ID, window)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.StatsNewerExists(ctx, models.KindTankStats, false, "missing", window)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestStatsDeleteBatchBounded(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	inside := tankStat(600_000_001, 42, 150)
	outside := tankStat(600_000_001, 42, 250)

	_, _, err := db.TankStatsInsert(ctx, []models.TankStat{inside, outside}, false)
	require.NoError(t, err)

	window := backend.Window{Start: 100, End: 200}

	deleted, err := db.StatsDeleteBatch(ctx, models.KindTankStats, false,
		[]string{inside.ID, outside.ID, "missing"}, window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = db.TankStatGet(ctx, inside.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = db.TankStatGet(ctx, outside.ID)
	assert.NoError(t, err)
}

func TestArchiveMissing(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	archived := tankStat(600_000_001, 42, 110)
	db.ArchiveTankStats([]models.TankStat{archived})

	missing, err := db.ArchiveMissing(ctx, models.KindTankStats, []string{archived.ID, "absent"})
	require.NoError(t, err)
	assert.Equal(t, []string{"absent"}, missing)
}

func TestSnapshotKeepsExisting(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	// Archive holds two generations for one pair; latest collection already
	// has the newest row with different metrics.
	old := tankStat(600_000_001, 42, 110)
	newest := tankStat(600_000_001, 42, 130)
	newest.All.Battles = 99
	db.ArchiveTankStats([]models.TankStat{old, newest})

	existing := tankStat(600_000_001, 42, 130)
	existing.All.Battles = 7

	_, _, err := db.TankStatsInsert(ctx, []models.TankStat{existing}, false)
	require.NoError(t, err)

	examined, err := db.Snapshot(ctx, models.KindTankStats, backend.Partition{
		AccountLow:  0,
		AccountHigh: 1_000_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), examined)

	stored, err := db.TankStatGet(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.All.Battles, "existing row must not be overwritten")

	// Only the newest archived row per key is merged.
	_, err = db.TankStatGet(ctx, old.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestSnapshotFillsMissing(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	archived := tankStat(600_000_003, 7, 500)
	archived.All.Battles = 3
	db.ArchiveTankStats([]models.TankStat{archived})

	examined, err := db.Snapshot(ctx, models.KindTankStats, backend.Partition{
		AccountLow:  0,
		AccountHigh: 1_000_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), examined)

	stored, err := db.TankStatGet(ctx, archived.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.All.Battles)
}

func TestDeleteList(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	entries := []models.StatsToDelete{
		{Type: string(models.KindTankStats), ID: "a", Release: "6.0"},
		{Type: string(models.KindTankStats), ID: "b", Release: "6.0"},
		{Type: string(models.KindPlayerAchievements), ID: "c", Release: "6.0"},
	}

	added, err := db.DeleteListAdd(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, int64(3), added)

	// Re-adding is a no-op.
	added, err = db.DeleteListAdd(ctx, entries[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(0), added)

	n, err := db.DeleteListCount(ctx, string(models.KindTankStats))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	removed, err := db.DeleteListRemove(ctx, string(models.KindTankStats), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	reset, err := db.DeleteListReset(ctx, string(models.KindTankStats))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	n, err = db.DeleteListCount(ctx, string(models.KindPlayerAchievements))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDeleteListGetSamplesRandomly(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	entries := make([]models.StatsToDelete, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, models.StatsToDelete{
			Type: string(models.KindTankStats),
			ID:   fmt.Sprintf("%02d", i),
		})
	}

	_, err := db.DeleteListAdd(ctx, entries)
	require.NoError(t, err)

	// Across many draws of 5 the union must escape the 5 smallest ids,
	// otherwise the sample is just the head of the sorted list.
	seen := make(map[string]struct{})

	for draw := 0; draw < 50; draw++ {
		out := make(chan models.StatsToDelete, 10)

		err := db.DeleteListGet(ctx, string(models.KindTankStats), backend.Sample(5), out)
		require.NoError(t, err)
		close(out)

		var got int

		for entry := range out {
			seen[entry.ID] = struct{}{}
			got++
		}

		assert.Equal(t, 5, got)
	}

	assert.Greater(t, len(seen), 5)
}

func TestErrorLog(t *testing.T) {
	t.Parallel()

	db := New()
	ctx := context.Background()

	require.NoError(t, db.ErrorLogAdd(ctx, 11, models.KindTankStats, 100))
	require.NoError(t, db.ErrorLogAdd(ctx, 11, models.KindTankStats, 101))
	require.NoError(t, db.ErrorLogAdd(ctx, 12, models.KindTankStats, 102))
	require.NoError(t, db.ErrorLogAdd(ctx, 13, models.KindPlayerAchievements, 103))

	ids, err := db.ErrorLogAccounts(ctx, models.KindTankStats)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, ids)

	require.NoError(t, db.ErrorLogClear(ctx, 11, models.KindTankStats))

	ids, err = db.ErrorLogAccounts(ctx, models.KindTankStats)
	require.NoError(t, err)
	assert.Equal(t, []int64{12}, ids)
}
