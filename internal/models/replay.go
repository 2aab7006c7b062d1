package models

// ReplaySummary is the part of a replay document the pipeline reads: the two
// player rosters plus a few descriptive fields kept for later analysis.
type ReplaySummary struct {
	Title         string  `bson:"title,omitempty" json:"title,omitempty"`
	Vehicle       string  `bson:"vehicle,omitempty" json:"vehicle,omitempty"`
	MapName       string  `bson:"map_name,omitempty" json:"map_name,omitempty"`
	BattleStart   float64 `bson:"battle_start_timestamp,omitempty" json:"battle_start_timestamp,omitempty"`
	PlayerName    string  `bson:"player_name,omitempty" json:"player_name,omitempty"`
	ProtagonistID int64   `bson:"protagonist,omitempty" json:"protagonist,omitempty"`
	Allies        []int64 `bson:"allies" json:"allies"`
	Enemies       []int64 `bson:"enemies" json:"enemies"`
}

// ReplayData wraps the replay summary the way the upstream JSON nests it.
type ReplayData struct {
	ViewURL string        `bson:"view_url,omitempty" json:"view_url,omitempty"`
	Summary ReplaySummary `bson:"summary" json:"summary"`
}

// Replay is one battle replay fetched from the replay-listing service.
// Replays are a cheap source of fresh account ids and are persisted for
// later analysis.
type Replay struct {
	ID     string     `bson:"_id" json:"id"`
	Status string     `bson:"status,omitempty" json:"status,omitempty"`
	Data   ReplayData `bson:"data" json:"data"`
}

// Players returns every account id on either side of the battle.
func (r *Replay) Players() []int64 {
	players := make([]int64, 0, len(r.Data.Summary.Allies)+len(r.Data.Summary.Enemies))
	players = append(players, r.Data.Summary.Allies...)
	players = append(players, r.Data.Summary.Enemies...)

	return players
}

// Tank is one tankopedia entry. Effectively immutable during a run.
type Tank struct {
	TankID    int64  `bson:"_id" json:"tank_id"`
	Name      string `bson:"name" json:"name"`
	Nation    string `bson:"nation" json:"nation"`
	Tier      int    `bson:"tier" json:"tier"`
	Type      string `bson:"type" json:"type"`
	IsPremium bool   `bson:"is_premium" json:"is_premium"`
}
