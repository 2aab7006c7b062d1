package releasemap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/releasemap"
)

func threeReleases() []models.Release {
	return []models.Release{
		{Release: "6.0", LaunchTime: 100, CutoffTime: 200},
		{Release: "6.1", LaunchTime: 200, CutoffTime: 300},
		{Release: "6.2", LaunchTime: 300},
	}
}

func TestMappingIsStrictAboveLaunch(t *testing.T) {
	m, err := releasemap.New(threeReleases())
	require.NoError(t, err)

	tests := []struct {
		ts   int64
		want string
	}{
		{ts: 100, want: "6.0"}, // at the first launch: nowhere earlier to go
		{ts: 101, want: "6.0"},
		{ts: 200, want: "6.0"}, // launch boundary belongs to the previous release
		{ts: 201, want: "6.1"},
		{ts: 300, want: "6.1"},
		{ts: 350, want: "6.2"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, m.Get(tc.ts).Release, "t=%d", tc.ts)
	}
}

func TestMappingIsTotalOverWindows(t *testing.T) {
	releases := threeReleases()
	m, err := releasemap.New(releases)
	require.NoError(t, err)

	// Every timestamp in (first launch, last cutoff] maps to exactly the
	// release whose window contains it.
	for ts := int64(101); ts <= 400; ts++ {
		got := m.Get(ts)

		matched := 0

		for _, r := range releases {
			if r.Contains(ts) {
				matched++

				assert.Equal(t, r.Release, got.Release, "t=%d", ts)
			}
		}

		assert.Equal(t, 1, matched, "t=%d must be owned by exactly one release", ts)
	}
}

func TestUnsortedInput(t *testing.T) {
	releases := threeReleases()
	releases[0], releases[2] = releases[2], releases[0]

	m, err := releasemap.New(releases)
	require.NoError(t, err)

	assert.Equal(t, "6.1", m.Get(250).Release)
}

func TestEmptyTableRejected(t *testing.T) {
	_, err := releasemap.New(nil)
	require.ErrorIs(t, err, releasemap.ErrNoReleases)
}

func TestOverlappingLaunchesRejected(t *testing.T) {
	_, err := releasemap.New([]models.Release{
		{Release: "1.0", LaunchTime: 10},
		{Release: "1.1", LaunchTime: 10},
	})
	require.ErrorIs(t, err, releasemap.ErrOverlap)
}
