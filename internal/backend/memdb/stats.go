package memdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

func matchStatsFilter(flt backend.StatsFilter, accountID, tankID, ts int64, release string, region models.Region) bool {
	if flt.Release != "" && flt.Release != release {
		return false
	}

	if !regionMatch(flt.Regions, region) {
		return false
	}

	if flt.Since > 0 && ts < flt.Since {
		return false
	}

	if len(flt.Accounts) > 0 && !containsInt64(flt.Accounts, accountID) {
		return false
	}

	if len(flt.Tanks) > 0 && tankID != 0 && !containsInt64(flt.Tanks, tankID) {
		return false
	}

	return true
}

func containsInt64(haystack []int64, needle int64) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}

	return false
}

func (db *DB) selectTankStats(flt backend.StatsFilter) []models.TankStat {
	matched := make([]models.TankStat, 0)

	for _, ts := range db.tankStats {
		if matchStatsFilter(flt, ts.AccountID, ts.TankID, ts.LastBattleTime, ts.Release, ts.Region) {
			matched = append(matched, ts)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})

	if n := flt.Sample.Size(int64(len(matched))); n < int64(len(matched)) {
		matched = matched[:n]
	}

	return matched
}

// TankStatsCount implements backend.TankStatStore.
func (db *DB) TankStatsCount(_ context.Context, flt backend.StatsFilter) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.selectTankStats(flt))), nil
}

// TankStatsGet implements backend.TankStatStore.
func (db *DB) TankStatsGet(ctx context.Context, flt backend.StatsFilter, out chan<- models.TankStat) error {
	db.mu.RLock()
	matched := db.selectTankStats(flt)
	db.mu.RUnlock()

	for _, ts := range matched {
		select {
		case out <- ts:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// TankStatsInsert implements backend.TankStatStore.
func (db *DB) TankStatsInsert(_ context.Context, stats []models.TankStat, force bool) (int64, int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var inserted, skipped int64

	for _, ts := range stats {
		if ts.ID == "" {
			ts.ID = ts.Key()
		}

		if _, exists := db.tankStats[ts.ID]; exists && !force {
			skipped++

			continue
		}

		db.tankStats[ts.ID] = ts
		inserted++
	}

	return inserted, skipped, nil
}

// TankStatUpdate implements backend.TankStatStore.
func (db *DB) TankStatUpdate(_ context.Context, stat *models.TankStat, fields []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored, ok := db.tankStats[stat.ID]
	if !ok {
		return fmt.Errorf("%w: tank stat %s", backend.ErrNotFound, stat.ID)
	}

	for _, field := range fields {
		switch field {
		case "release":
			stored.Release = stat.Release
		case "region":
			stored.Region = stat.Region
		}
	}

	db.tankStats[stat.ID] = stored

	return nil
}

// TankStatGet implements backend.TankStatStore.
func (db *DB) TankStatGet(_ context.Context, id string) (*models.TankStat, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ts, ok := db.tankStats[id]
	if !ok {
		return nil, fmt.Errorf("%w: tank stat %s", backend.ErrNotFound, id)
	}

	return &ts, nil
}

// TankStatsUniqueTanks implements backend.TankStatStore.
func (db *DB) TankStatsUniqueTanks(_ context.Context) ([]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	seen := make(map[int64]struct{})

	for _, ts := range db.tankStats {
		seen[ts.TankID] = struct{}{}
	}

	tanks := make([]int64, 0, len(seen))
	for id := range seen {
		tanks = append(tanks, id)
	}

	sort.Slice(tanks, func(i, j int) bool { return tanks[i] < tanks[j] })

	return tanks, nil
}

func (db *DB) selectAchievements(flt backend.StatsFilter) []models.PlayerAchievement {
	matched := make([]models.PlayerAchievement, 0)

	for _, pa := range db.achievements {
		if matchStatsFilter(flt, pa.AccountID, 0, pa.Updated, pa.Release, pa.Region) {
			matched = append(matched, pa)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})

	if n := flt.Sample.Size(int64(len(matched))); n < int64(len(matched)) {
		matched = matched[:n]
	}

	return matched
}

// AchievementsCount implements backend.AchievementStore.
func (db *DB) AchievementsCount(_ context.Context, flt backend.StatsFilter) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.selectAchievements(flt))), nil
}

// AchievementsGet implements backend.AchievementStore.
func (db *DB) AchievementsGet(ctx context.Context, flt backend.StatsFilter, out chan<- models.PlayerAchievement) error {
	db.mu.RLock()
	matched := db.selectAchievements(flt)
	db.mu.RUnlock()

	for _, pa := range matched {
		select {
		case out <- pa:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// AchievementsInsert implements backend.AchievementStore.
func (db *DB) AchievementsInsert(_ context.Context, rows []models.PlayerAchievement, force bool) (int64, int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var inserted, skipped int64

	for _, pa := range rows {
		if pa.ID == "" {
			pa.ID = pa.Key()
		}

		if _, exists := db.achievements[pa.ID]; exists && !force {
			skipped++

			continue
		}

		db.achievements[pa.ID] = pa
		inserted++
	}

	return inserted, skipped, nil
}

// AchievementUpdate implements backend.AchievementStore.
func (db *DB) AchievementUpdate(_ context.Context, row *models.PlayerAchievement, fields []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored, ok := db.achievements[row.ID]
	if !ok {
		return fmt.Errorf("%w: achievement %s", backend.ErrNotFound, row.ID)
	}

	for _, field := range fields {
		switch field {
		case "release":
			stored.Release = row.Release
		case "region":
			stored.Region = row.Region
		}
	}

	db.achievements[row.ID] = stored

	return nil
}
