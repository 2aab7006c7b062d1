package memdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

// ReplayGet implements backend.ReplayStore.
func (db *DB) ReplayGet(_ context.Context, id string) (*models.Replay, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	r, ok := db.replays[id]
	if !ok {
		return nil, fmt.Errorf("%w: replay %s", backend.ErrNotFound, id)
	}

	return &r, nil
}

// ReplayInsert implements backend.ReplayStore.
func (db *DB) ReplayInsert(_ context.Context, replay *models.Replay) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.replays[replay.ID] = *replay

	return nil
}

// ReplaysExport implements backend.ReplayStore.
func (db *DB) ReplaysExport(ctx context.Context, sample backend.Sample, out chan<- models.Replay) error {
	db.mu.RLock()
	matched := make([]models.Replay, 0, len(db.replays))

	for _, r := range db.replays {
		matched = append(matched, r)
	}
	db.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if n := sample.Size(int64(len(matched))); n < int64(len(matched)) {
		matched = matched[:n]
	}

	for _, r := range matched {
		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// ReleaseGet implements backend.ReleaseStore.
func (db *DB) ReleaseGet(_ context.Context, release string) (*models.Release, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	r, ok := db.releases[release]
	if !ok {
		return nil, fmt.Errorf("%w: release %s", backend.ErrNotFound, release)
	}

	return &r, nil
}

// ReleasesGet implements backend.ReleaseStore.
func (db *DB) ReleasesGet(_ context.Context) ([]models.Release, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	releases := make([]models.Release, 0, len(db.releases))

	for _, r := range db.releases {
		releases = append(releases, r)
	}

	sort.Slice(releases, func(i, j int) bool {
		return releases[i].LaunchTime < releases[j].LaunchTime
	})

	return releases, nil
}

// ReleaseInsert implements backend.ReleaseStore.
func (db *DB) ReleaseInsert(_ context.Context, release *models.Release) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.releases[release.Release]; exists {
		return fmt.Errorf("release %s already exists: %w", release.Release, backend.ErrFatal)
	}

	db.releases[release.Release] = *release

	return nil
}

// ReleaseUpdate implements backend.ReleaseStore.
func (db *DB) ReleaseUpdate(_ context.Context, release *models.Release) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.releases[release.Release]; !ok {
		return fmt.Errorf("%w: release %s", backend.ErrNotFound, release.Release)
	}

	db.releases[release.Release] = *release

	return nil
}

// ReleaseDelete implements backend.ReleaseStore.
func (db *DB) ReleaseDelete(_ context.Context, release string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.releases[release]; !ok {
		return fmt.Errorf("%w: release %s", backend.ErrNotFound, release)
	}

	delete(db.releases, release)

	return nil
}

// TankopediaCount implements backend.TankopediaStore.
func (db *DB) TankopediaCount(_ context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.tanks)), nil
}

// TankopediaGet implements backend.TankopediaStore.
func (db *DB) TankopediaGet(_ context.Context) ([]models.Tank, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	tanks := make([]models.Tank, 0, len(db.tanks))

	for _, t := range db.tanks {
		tanks = append(tanks, t)
	}

	sort.Slice(tanks, func(i, j int) bool { return tanks[i].TankID < tanks[j].TankID })

	return tanks, nil
}

// TankInsert implements backend.TankopediaStore.
func (db *DB) TankInsert(_ context.Context, tank *models.Tank, replace bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tanks[tank.TankID]; exists && !replace {
		return nil
	}

	db.tanks[tank.TankID] = *tank

	return nil
}

// ErrorLogAdd implements backend.LogStore.
func (db *DB) ErrorLogAdd(_ context.Context, accountID int64, kind models.StatsKind, at int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.errorLog = append(db.errorLog, logEntry{AccountID: accountID, Kind: kind, At: at})

	return nil
}

// ErrorLogAccounts implements backend.LogStore.
func (db *DB) ErrorLogAccounts(_ context.Context, kind models.StatsKind) ([]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	seen := make(map[int64]struct{})

	for _, e := range db.errorLog {
		if e.Kind == kind {
			seen[e.AccountID] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids, nil
}

// ErrorLogClear implements backend.LogStore.
func (db *DB) ErrorLogClear(_ context.Context, accountID int64, kind models.StatsKind) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	kept := db.errorLog[:0]

	for _, e := range db.errorLog {
		if e.AccountID == accountID && e.Kind == kind {
			continue
		}

		kept = append(kept, e)
	}

	db.errorLog = kept

	return nil
}

// UpdateLogAdd implements backend.LogStore.
func (db *DB) UpdateLogAdd(_ context.Context, action string, kind models.StatsKind, release string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.updateLog = append(db.updateLog, UpdateEntry{Action: action, Kind: kind, Release: release})

	return nil
}

// UpdateLogEntries returns a copy of the update log for test assertions.
func (db *DB) UpdateLogEntries() []UpdateEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entries := make([]UpdateEntry, len(db.updateLog))
	copy(entries, db.updateLog)

	return entries
}

// ArchiveTankStats seeds the tank-stats archive directly. Test helper.
func (db *DB) ArchiveTankStats(rows []models.TankStat) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, ts := range rows {
		if ts.ID == "" {
			ts.ID = ts.Key()
		}

		db.tankArchive[ts.ID] = ts
	}
}

// ArchiveAchievements seeds the achievements archive directly. Test helper.
func (db *DB) ArchiveAchievements(rows []models.PlayerAchievement) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, pa := range rows {
		if pa.ID == "" {
			pa.ID = pa.Key()
		}

		db.achArchive[pa.ID] = pa
	}
}
