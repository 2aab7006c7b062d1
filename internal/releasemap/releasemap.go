// Package releasemap maps stat timestamps to game releases. A stat belongs
// to the unique release where launch_time < t <= cutoff_time; the mapping is
// built once per run from the releases table and is read-only afterwards.
package releasemap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blitzstack/statmill/internal/bucketmap"
	"github.com/blitzstack/statmill/internal/models"
)

// ErrNoReleases is returned when the releases table is empty.
var ErrNoReleases = errors.New("no releases")

// ErrOverlap is returned when two releases share a launch time.
var ErrOverlap = errors.New("overlapping releases")

// Map resolves timestamps to releases.
type Map struct {
	index *bucketmap.Map[models.Release]
	first models.Release
}

// New builds a release map. Releases may arrive in any order; they are
// sorted by launch time.
func New(releases []models.Release) (*Map, error) {
	if len(releases) == 0 {
		return nil, ErrNoReleases
	}

	sorted := make([]models.Release, len(releases))
	copy(sorted, releases)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LaunchTime < sorted[j].LaunchTime
	})

	index := bucketmap.New[models.Release]()

	for _, r := range sorted {
		// Bucket start is launch+1 so a stat stamped exactly at a launch
		// falls into the previous release (launch < t is strict).
		putErr := index.Put(r.LaunchTime+1, r)
		if putErr != nil {
			return nil, fmt.Errorf("build release index: %w", putErr)
		}
	}

	freezeErr := index.Freeze()
	if freezeErr != nil {
		if errors.Is(freezeErr, bucketmap.ErrDuplicateStart) {
			return nil, ErrOverlap
		}

		return nil, fmt.Errorf("freeze release index: %w", freezeErr)
	}

	return &Map{index: index, first: sorted[0]}, nil
}

// Get returns the release owning the timestamp. Timestamps at or before the
// first launch map to the first release: stats predating the release table
// have nowhere else to go.
func (m *Map) Get(t int64) models.Release {
	release, ok := m.index.Get(t)
	if !ok {
		return m.first
	}

	return release
}

// Len returns the number of releases indexed.
func (m *Map) Len() int {
	return m.index.Len()
}
