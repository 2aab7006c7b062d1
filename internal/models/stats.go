package models

import (
	"fmt"
)

// Release is a named version of the upstream game. Releases form a strictly
// ordered, non-overlapping sequence by LaunchTime; CutoffTime of release k
// equals LaunchTime of release k+1, zero for the latest (treated as "now").
type Release struct {
	Release    string `bson:"release" json:"release"`
	LaunchTime int64  `bson:"launch_time" json:"launch_time"`
	CutoffTime int64  `bson:"cutoff_time,omitempty" json:"cutoff_time,omitempty"`
}

// Open reports whether the release has no cutoff yet.
func (r Release) Open() bool {
	return r.CutoffTime <= 0
}

// Contains reports whether the timestamp falls into the release window
// (LaunchTime < t <= CutoffTime, open cutoff counts as +inf).
func (r Release) Contains(t int64) bool {
	if t <= r.LaunchTime {
		return false
	}

	return r.Open() || t <= r.CutoffTime
}

// TankStatAll carries the numeric battle metrics of one (account, tank) row
// as reported by the upstream API.
type TankStatAll struct {
	Battles              int64 `bson:"battles" json:"battles"`
	Wins                 int64 `bson:"wins" json:"wins"`
	Losses               int64 `bson:"losses" json:"losses"`
	Spotted              int64 `bson:"spotted" json:"spotted"`
	Hits                 int64 `bson:"hits" json:"hits"`
	Shots                int64 `bson:"shots" json:"shots"`
	Frags                int64 `bson:"frags" json:"frags"`
	MaxXP                int64 `bson:"max_xp" json:"max_xp"`
	MaxFrags             int64 `bson:"max_frags" json:"max_frags"`
	XP                   int64 `bson:"xp" json:"xp"`
	SurvivedBattles      int64 `bson:"survived_battles" json:"survived_battles"`
	DamageDealt          int64 `bson:"damage_dealt" json:"damage_dealt"`
	DamageReceived       int64 `bson:"damage_received" json:"damage_received"`
	WinAndSurvived       int64 `bson:"win_and_survived" json:"win_and_survived"`
	DroppedCapturePoints int64 `bson:"dropped_capture_points" json:"dropped_capture_points"`
}

// TankStat is one per-tank statistics snapshot. The identity key is
// (AccountID, TankID, LastBattleTime); the primary key string encodes it.
type TankStat struct {
	ID             string      `bson:"_id,omitempty" json:"-"`
	AccountID      int64       `bson:"account_id" json:"account_id"`
	TankID         int64       `bson:"tank_id" json:"tank_id"`
	LastBattleTime int64       `bson:"last_battle_time" json:"last_battle_time"`
	BattleLifeTime int64       `bson:"battle_life_time,omitempty" json:"battle_life_time,omitempty"`
	MarkOfMastery  int64       `bson:"mark_of_mastery,omitempty" json:"mark_of_mastery,omitempty"`
	Release        string      `bson:"release,omitempty" json:"release,omitempty"`
	Region         Region      `bson:"region,omitempty" json:"region,omitempty"`
	All            TankStatAll `bson:"all" json:"all"`
}

// Key returns the compact hex primary key of the row. The layout matches the
// historical format: 10 hex digits of account id, 6 of tank id, 8 of
// last battle time.
func (ts *TankStat) Key() string {
	return fmt.Sprintf("%010x%06x%08x", ts.AccountID, ts.TankID, ts.LastBattleTime)
}

// Normalize fills the derived fields (primary key and region) in place.
func (ts *TankStat) Normalize() error {
	region, err := RegionFromID(ts.AccountID)
	if err != nil {
		return err
	}

	ts.Region = region
	ts.ID = ts.Key()

	return nil
}

// PlayerAchievement is one achievements snapshot for an account. The identity
// key is (AccountID, Updated).
type PlayerAchievement struct {
	ID           string           `bson:"_id,omitempty" json:"-"`
	AccountID    int64            `bson:"account_id" json:"account_id"`
	Updated      int64            `bson:"updated" json:"updated"`
	Release      string           `bson:"release,omitempty" json:"release,omitempty"`
	Region       Region           `bson:"region,omitempty" json:"region,omitempty"`
	Achievements map[string]int64 `bson:"achievements,omitempty" json:"achievements,omitempty"`
	MaxSeries    map[string]int64 `bson:"max_series,omitempty" json:"max_series,omitempty"`
}

// Key returns the compact hex primary key: 10 hex digits of account id and
// 8 of the updated timestamp.
func (pa *PlayerAchievement) Key() string {
	return fmt.Sprintf("%010x%08x", pa.AccountID, pa.Updated)
}

// Normalize fills the derived fields (primary key and region) in place.
func (pa *PlayerAchievement) Normalize() error {
	region, err := RegionFromID(pa.AccountID)
	if err != nil {
		return err
	}

	pa.Region = region
	pa.ID = pa.Key()

	return nil
}

// StatsToDelete is one staging entry written by the duplicate analyzer and
// consumed by the pruner. Type is a StatsKind, optionally with the
// "-archive" suffix.
type StatsToDelete struct {
	Type    string `bson:"type" json:"type"`
	ID      string `bson:"id" json:"id"`
	Release string `bson:"release,omitempty" json:"release,omitempty"`
}
