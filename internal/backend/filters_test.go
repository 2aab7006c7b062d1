package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzstack/statmill/internal/models"
)

func TestParseDistributed(t *testing.T) {
	t.Parallel()

	d, err := ParseDistributed("")
	require.NoError(t, err)
	assert.False(t, d.Active())

	d, err = ParseDistributed("2:5")
	require.NoError(t, err)
	assert.True(t, d.Active())
	assert.Equal(t, int64(2), d.I)
	assert.Equal(t, int64(5), d.N)

	for _, bad := range []string{"5", "a:b", "3:3", "-1:4", "1:0"} {
		_, err := ParseDistributed(bad)
		assert.ErrorIs(t, err, ErrBadDistributed, bad)
	}
}

func TestDistributedDisjointCover(t *testing.T) {
	t.Parallel()

	ids := []int64{1, 2, 3, 4, 5, 6}
	seen := make(map[int64]int)

	for i := int64(0); i < 3; i++ {
		d := Distributed{I: i, N: 3}

		for _, id := range ids {
			if d.Match(id) {
				seen[id]++
			}
		}
	}

	for _, id := range ids {
		assert.Equal(t, 1, seen[id], id)
	}
}

func TestOptBoolMatch(t *testing.T) {
	t.Parallel()

	assert.True(t, BothOpt.Match(true))
	assert.True(t, BothOpt.Match(false))
	assert.True(t, TrueOpt.Match(true))
	assert.False(t, TrueOpt.Match(false))
	assert.True(t, FalseOpt.Match(false))
	assert.False(t, FalseOpt.Match(true))
}

func TestSampleSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sample Sample
		total  int64
		want   int64
	}{
		{0, 100, 100},
		{0.5, 100, 50},
		{0.001, 100, 1},
		{10, 100, 10},
		{500, 100, 100},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.sample.Size(tc.total), "sample=%v total=%d", tc.sample, tc.total)
	}
}

func TestWindowContains(t *testing.T) {
	t.Parallel()

	w := Window{Start: 200, End: 300}
	assert.False(t, w.Contains(200), "start is exclusive")
	assert.True(t, w.Contains(201))
	assert.True(t, w.Contains(300), "end is inclusive")
	assert.False(t, w.Contains(301))

	unbounded := Window{Start: 200}
	assert.True(t, unbounded.Contains(1<<40))
}

func TestWindowOf(t *testing.T) {
	t.Parallel()

	w := WindowOf(models.Release{Release: "6.1", LaunchTime: 200, CutoffTime: 300})
	assert.Equal(t, Window{Start: 200, End: 300}, w)
}

func TestPartitionContainsAccount(t *testing.T) {
	t.Parallel()

	p := Partition{AccountLow: 10, AccountHigh: 20}
	assert.True(t, p.ContainsAccount(10))
	assert.True(t, p.ContainsAccount(19))
	assert.False(t, p.ContainsAccount(20))
	assert.False(t, p.ContainsAccount(9))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(t.Context(), "postgresql", nil)
	assert.ErrorIs(t, err, ErrNotImplemented)
}
