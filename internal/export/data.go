package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
)

// ColumnarFile is the on-disk layout of one release/tank data export: the
// schema is induced from the flattened rows, values are stored per column.
type ColumnarFile struct {
	Release string           `json:"release"`
	TankID  int64            `json:"tank_id"`
	Schema  []string         `json:"schema"`
	Columns map[string][]any `json:"columns"`
	Rows    int              `json:"rows"`
}

// flattenTankStat produces the full flattened record of a row, nested
// metrics prefixed with "all.".
func flattenTankStat(ts *models.TankStat) map[string]any {
	return map[string]any{
		"account_id":                 ts.AccountID,
		"tank_id":                    ts.TankID,
		"last_battle_time":           ts.LastBattleTime,
		"battle_life_time":           ts.BattleLifeTime,
		"mark_of_mastery":            ts.MarkOfMastery,
		"release":                    ts.Release,
		"region":                     string(ts.Region),
		"all.battles":                ts.All.Battles,
		"all.wins":                   ts.All.Wins,
		"all.losses":                 ts.All.Losses,
		"all.spotted":                ts.All.Spotted,
		"all.hits":                   ts.All.Hits,
		"all.shots":                  ts.All.Shots,
		"all.frags":                  ts.All.Frags,
		"all.max_xp":                 ts.All.MaxXP,
		"all.max_frags":              ts.All.MaxFrags,
		"all.xp":                     ts.All.XP,
		"all.survived_battles":       ts.All.SurvivedBattles,
		"all.damage_dealt":           ts.All.DamageDealt,
		"all.damage_received":        ts.All.DamageReceived,
		"all.win_and_survived":       ts.All.WinAndSurvived,
		"all.dropped_capture_points": ts.All.DroppedCapturePoints,
	}
}

// tankStatSchema is the induced column order of flattened tank stats.
func tankStatSchema() []string {
	return []string{
		"account_id", "tank_id", "last_battle_time", "battle_life_time",
		"mark_of_mastery", "release", "region",
		"all.battles", "all.wins", "all.losses", "all.spotted", "all.hits",
		"all.shots", "all.frags", "all.max_xp", "all.max_frags", "all.xp",
		"all.survived_battles", "all.damage_dealt", "all.damage_received",
		"all.win_and_survived", "all.dropped_capture_points",
	}
}

// TankStatsData exports the tank stats of one release as columnar LZ4 files
// under dir, one file per tank id.
func TankStatsData(ctx context.Context, db backend.TankStatStore, release string, regions []models.Region, dir string) (*eventcounter.Counter, error) {
	counter := eventcounter.New("tank stats export")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return counter, fmt.Errorf("creating export dir: %w", err)
	}

	tanks, err := db.TankStatsUniqueTanks(ctx)
	if err != nil {
		return counter, err
	}

	for _, tank := range tanks {
		if err := ctx.Err(); err != nil {
			return counter, err
		}

		rows, err := collectTankStats(ctx, db, backend.StatsFilter{
			Release: release,
			Regions: regions,
			Tanks:   []int64{tank},
		})
		if err != nil {
			return counter, err
		}

		if len(rows) == 0 {
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_%d.json.lz4", release, tank))

		if err := writeColumnar(path, release, tank, rows); err != nil {
			return counter, err
		}

		counter.Log("files")
		counter.Add("rows", int64(len(rows)))
	}

	return counter, nil
}

func collectTankStats(ctx context.Context, db backend.TankStatStore, flt backend.StatsFilter) ([]models.TankStat, error) {
	stream := make(chan models.TankStat, 100)
	errc := make(chan error, 1)

	go func() {
		defer close(stream)

		errc <- db.TankStatsGet(ctx, flt, stream)
	}()

	rows := make([]models.TankStat, 0)

	for ts := range stream {
		rows = append(rows, ts)
	}

	return rows, <-errc
}

func writeColumnar(path, release string, tank int64, rows []models.TankStat) error {
	schema := tankStatSchema()

	out := ColumnarFile{
		Release: release,
		TankID:  tank,
		Schema:  schema,
		Columns: make(map[string][]any, len(schema)),
		Rows:    len(rows),
	}

	for _, field := range schema {
		out.Columns[field] = make([]any, 0, len(rows))
	}

	for i := range rows {
		flat := flattenTankStat(&rows[i])

		for _, field := range schema {
			out.Columns[field] = append(out.Columns[field], flat[field])
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating data file: %w", err)
	}
	defer f.Close()

	w := lz4.NewWriter(f)

	if err := json.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("encoding columnar data: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("closing lz4 frame: %w", err)
	}

	return f.Sync()
}

// ReadColumnar loads one columnar LZ4 file back into memory. Used by tests
// and data tooling.
func ReadColumnar(path string) (*ColumnarFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening data file: %w", err)
	}
	defer f.Close()

	var out ColumnarFile

	if err := json.NewDecoder(lz4.NewReader(f)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding columnar data: %w", err)
	}

	return &out, nil
}
