package models

import (
	"errors"
	"fmt"
	"time"
)

// StatsKind names a family of per-account statistics tracked by the pipeline.
type StatsKind string

// Stats kinds. The "-archive" suffixed variants address the archive
// collections in the stats-to-delete staging list.
const (
	KindTankStats          StatsKind = "tank_stats"
	KindPlayerAchievements StatsKind = "player_achievements"
)

// ArchiveSuffix marks a StatsToDelete type as targeting the archive
// collection instead of the hot one.
const ArchiveSuffix = "-archive"

// ParseStatsKind converts a string to a StatsKind.
func ParseStatsKind(s string) (StatsKind, error) {
	switch StatsKind(s) {
	case KindTankStats, KindPlayerAchievements:
		return StatsKind(s), nil
	}

	return "", fmt.Errorf("unknown stats kind %q", s)
}

// Archive returns the stats-to-delete type string for the archive collection
// of the kind.
func (k StatsKind) Archive() string {
	return string(k) + ArchiveSuffix
}

// ErrNoRegion is returned when an account id does not map to any region.
var ErrNoRegion = errors.New("account has no region")

// Account is a player account discovered by the crawler or imported in bulk.
// Region is invariant once set; Disabled means the upstream API returned no
// stats and the account is no longer queried; Inactive means no new stats
// have been observed for longer than the configured window.
type Account struct {
	ID             int64               `bson:"_id" json:"id"`
	Region         Region              `bson:"region,omitempty" json:"region,omitempty"`
	Added          int64               `bson:"added,omitempty" json:"added,omitempty"`
	LastBattleTime int64               `bson:"last_battle_time,omitempty" json:"last_battle_time,omitempty"`
	Disabled       bool                `bson:"disabled,omitempty" json:"disabled,omitempty"`
	Inactive       bool                `bson:"inactive,omitempty" json:"inactive,omitempty"`
	StatsUpdated   map[StatsKind]int64 `bson:"stats_updated,omitempty" json:"stats_updated,omitempty"`
}

// NewAccount creates an account with its region derived from the id and the
// added timestamp set to now.
func NewAccount(id int64) (*Account, error) {
	region, err := RegionFromID(id)
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:     id,
		Region: region,
		Added:  time.Now().Unix(),
	}, nil
}

// EnsureRegion fills in the region from the id when missing.
func (a *Account) EnsureRegion() error {
	if a.Region != "" {
		return nil
	}

	region, err := RegionFromID(a.ID)
	if err != nil {
		return fmt.Errorf("%w: id=%d", ErrNoRegion, a.ID)
	}

	a.Region = region

	return nil
}

// StatsUpdatedAt returns the last successful stats refresh time for the kind,
// zero when never refreshed.
func (a *Account) StatsUpdatedAt(kind StatsKind) int64 {
	if a.StatsUpdated == nil {
		return 0
	}

	return a.StatsUpdated[kind]
}

// MarkStatsUpdated records a successful stats refresh for the kind.
func (a *Account) MarkStatsUpdated(kind StatsKind, at int64) {
	if a.StatsUpdated == nil {
		a.StatsUpdated = make(map[StatsKind]int64, 2)
	}

	a.StatsUpdated[kind] = at
}
