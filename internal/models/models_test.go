package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionFromIDBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id      int64
		want    Region
		wantErr bool
	}{
		{0, RegionRU, false},
		{499_999_999, RegionRU, false},
		{500_000_000, RegionEU, false},
		{999_999_999, RegionEU, false},
		{1_000_000_000, RegionCOM, false},
		{1_999_999_999, RegionCOM, false},
		{2_000_000_000, RegionAsia, false},
		{3_099_999_999, RegionAsia, false},
		{3_100_000_000, "", true},
		{-1, "", true},
	}

	for _, tc := range tests {
		got, err := RegionFromID(tc.id)

		if tc.wantErr {
			assert.ErrorIs(t, err, ErrUnknownRegion, tc.id)

			continue
		}

		require.NoError(t, err, tc.id)
		assert.Equal(t, tc.want, got, tc.id)
	}
}

func TestRegionIDRangesCoverAllIDs(t *testing.T) {
	t.Parallel()

	// Ranges are contiguous and disjoint in ascending order.
	var prev int64

	for _, region := range []Region{RegionRU, RegionEU, RegionCOM, RegionAsia} {
		low, high := region.IDRange()
		assert.Equal(t, prev, low, region)
		assert.Greater(t, high, low, region)

		prev = high
	}
}

func TestTankStatKeyFormat(t *testing.T) {
	t.Parallel()

	ts := TankStat{AccountID: 1, TankID: 2, LastBattleTime: 3}
	assert.Equal(t, "000000000100000200000003", ts.Key())
	assert.Len(t, ts.Key(), 24)
}

func TestAchievementKeyFormat(t *testing.T) {
	t.Parallel()

	pa := PlayerAchievement{AccountID: 255, Updated: 16}
	assert.Equal(t, "00000000ff00000010", pa.Key())
	assert.Len(t, pa.Key(), 18)
}

func TestNormalizeFillsRegionAndID(t *testing.T) {
	t.Parallel()

	ts := TankStat{AccountID: 600_000_000, TankID: 1, LastBattleTime: 100}
	require.NoError(t, ts.Normalize())
	assert.Equal(t, RegionEU, ts.Region)
	assert.Equal(t, ts.Key(), ts.ID)

	bad := TankStat{AccountID: -5}
	assert.ErrorIs(t, bad.Normalize(), ErrUnknownRegion)
}

func TestEnsureRegionKeepsExisting(t *testing.T) {
	t.Parallel()

	a := Account{ID: 42, Region: RegionEU}
	require.NoError(t, a.EnsureRegion())
	assert.Equal(t, RegionEU, a.Region)

	b := Account{ID: 600_000_000}
	require.NoError(t, b.EnsureRegion())
	assert.Equal(t, RegionEU, b.Region)
}

func TestReleaseContains(t *testing.T) {
	t.Parallel()

	r := Release{Release: "6.1", LaunchTime: 200, CutoffTime: 300}
	assert.False(t, r.Contains(200), "launch is exclusive")
	assert.True(t, r.Contains(201))
	assert.True(t, r.Contains(300), "cutoff is inclusive")
	assert.False(t, r.Contains(301))

	open := Release{Release: "6.2", LaunchTime: 300}
	assert.True(t, open.Open())
	assert.True(t, open.Contains(1<<40))
}

func TestReplayPlayers(t *testing.T) {
	t.Parallel()

	r := Replay{Data: ReplayData{Summary: ReplaySummary{
		Allies:  []int64{1, 2},
		Enemies: []int64{3},
	}}}

	assert.Equal(t, []int64{1, 2, 3}, r.Players())
}

func TestStatsKindArchive(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tank_stats-archive", KindTankStats.Archive())

	kind, err := ParseStatsKind("player_achievements")
	require.NoError(t, err)
	assert.Equal(t, KindPlayerAchievements, kind)

	_, err = ParseStatsKind("weather")
	assert.Error(t, err)
}

func TestMarkStatsUpdated(t *testing.T) {
	t.Parallel()

	var a Account

	assert.Zero(t, a.StatsUpdatedAt(KindTankStats))

	a.MarkStatsUpdated(KindTankStats, 123)
	assert.Equal(t, int64(123), a.StatsUpdatedAt(KindTankStats))
}
