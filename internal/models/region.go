// Package models defines the persistent data model of the stats pipeline:
// accounts, per-tank statistics, player achievements, replays, game releases
// and the tankopedia.
package models

import (
	"errors"
	"fmt"
)

// Region is an upstream API namespace. Each region owns a fixed, disjoint
// account-id range, so the region of an account is derivable from its id.
type Region string

// The closed set of regions. RU is kept for historical ids but is not an
// API region anymore.
const (
	RegionRU   Region = "ru"
	RegionEU   Region = "eu"
	RegionCOM  Region = "com"
	RegionAsia Region = "asia"
)

// Account-id range bounds per region, in ascending order.
const (
	idRangeRUEnd   int64 = 500_000_000
	idRangeEUEnd   int64 = 1_000_000_000
	idRangeCOMEnd  int64 = 2_000_000_000
	idRangeAsiaEnd int64 = 3_100_000_000
)

// ErrUnknownRegion is returned for ids outside every known region range and
// for unrecognized region names.
var ErrUnknownRegion = errors.New("unknown region")

// RegionFromID derives the region from an account id by its numeric range.
func RegionFromID(id int64) (Region, error) {
	switch {
	case id < 0:
		return "", fmt.Errorf("%w: negative account id %d", ErrUnknownRegion, id)
	case id < idRangeRUEnd:
		return RegionRU, nil
	case id < idRangeEUEnd:
		return RegionEU, nil
	case id < idRangeCOMEnd:
		return RegionCOM, nil
	case id < idRangeAsiaEnd:
		return RegionAsia, nil
	}

	return "", fmt.Errorf("%w: account id %d out of range", ErrUnknownRegion, id)
}

// ParseRegion converts a string to a Region.
func ParseRegion(s string) (Region, error) {
	switch Region(s) {
	case RegionRU, RegionEU, RegionCOM, RegionAsia:
		return Region(s), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownRegion, s)
}

// APIRegions returns the regions served by the upstream API. RU was shut
// down upstream and is excluded from fetching by default.
func APIRegions() []Region {
	return []Region{RegionEU, RegionCOM, RegionAsia}
}

// AllRegions returns every known region including RU.
func AllRegions() []Region {
	return []Region{RegionEU, RegionCOM, RegionAsia, RegionRU}
}

// IDRange returns the half-open account-id range [low, high) of the region.
func (r Region) IDRange() (low, high int64) {
	switch r {
	case RegionRU:
		return 0, idRangeRUEnd
	case RegionEU:
		return idRangeRUEnd, idRangeEUEnd
	case RegionCOM:
		return idRangeEUEnd, idRangeCOMEnd
	case RegionAsia:
		return idRangeCOMEnd, idRangeAsiaEnd
	}

	return 0, 0
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return string(r)
}
