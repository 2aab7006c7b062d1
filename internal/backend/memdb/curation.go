package memdb

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

// statRow is the collection-agnostic projection duplicate analysis works on.
type statRow struct {
	id        string
	accountID int64
	tankID    int64
	ts        int64
	region    models.Region
}

func (db *DB) statRows(kind models.StatsKind, archive bool) []statRow {
	rows := make([]statRow, 0)

	switch kind {
	case models.KindTankStats:
		src := db.tankStats
		if archive {
			src = db.tankArchive
		}

		for _, ts := range src {
			rows = append(rows, statRow{id: ts.ID, accountID: ts.AccountID, tankID: ts.TankID, ts: ts.LastBattleTime, region: ts.Region})
		}
	case models.KindPlayerAchievements:
		src := db.achievements
		if archive {
			src = db.achArchive
		}

		for _, pa := range src {
			rows = append(rows, statRow{id: pa.ID, accountID: pa.AccountID, ts: pa.Updated, region: pa.Region})
		}
	}

	return rows
}

// StatsDuplicates implements backend.CurationStore. Rows inside the window
// are grouped by identity key; every key's rows except the newest are
// duplicates.
func (db *DB) StatsDuplicates(ctx context.Context, q backend.DuplicatesQuery, out chan<- string) error {
	db.mu.RLock()
	rows := db.statRows(q.Kind, q.Archive)
	db.mu.RUnlock()

	groups := make(map[[2]int64][]statRow)

	for _, row := range rows {
		if !q.Window.Contains(row.ts) {
			continue
		}

		if q.TankID != 0 && row.tankID != q.TankID {
			continue
		}

		if !regionMatch(q.Regions, row.region) {
			continue
		}

		key := [2]int64{row.accountID, row.tankID}
		groups[key] = append(groups[key], row)
	}

	duplicates := make([]string, 0)

	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].ts > group[j].ts
		})

		for _, row := range group[1:] {
			duplicates = append(duplicates, row.id)
		}
	}

	sort.Strings(duplicates)

	if n := q.Sample.Size(int64(len(duplicates))); n < int64(len(duplicates)) {
		duplicates = duplicates[:n]
	}

	for _, id := range duplicates {
		select {
		case out <- id:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// StatsNewerExists implements backend.CurationStore.
func (db *DB) StatsNewerExists(_ context.Context, kind models.StatsKind, archive bool, id string, window backend.Window) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows := db.statRows(kind, archive)

	var subject *statRow

	for i := range rows {
		if rows[i].id == id {
			subject = &rows[i]

			break
		}
	}

	if subject == nil {
		return false, fmt.Errorf("%w: stat %s", backend.ErrNotFound, id)
	}

	for _, row := range rows {
		if row.accountID != subject.accountID || row.tankID != subject.tankID {
			continue
		}

		if row.ts > subject.ts && window.Contains(row.ts) {
			return true, nil
		}
	}

	return false, nil
}

// StatsDeleteBatch implements backend.CurationStore. Deletion is bounded to
// the window: a row whose timestamp moved outside it is left alone.
func (db *DB) StatsDeleteBatch(_ context.Context, kind models.StatsKind, archive bool, ids []string, window backend.Window) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var deleted int64

	switch kind {
	case models.KindTankStats:
		target := db.tankStats
		if archive {
			target = db.tankArchive
		}

		for _, id := range ids {
			if ts, ok := target[id]; ok && window.Contains(ts.LastBattleTime) {
				delete(target, id)

				deleted++
			}
		}
	case models.KindPlayerAchievements:
		target := db.achievements
		if archive {
			target = db.achArchive
		}

		for _, id := range ids {
			if pa, ok := target[id]; ok && window.Contains(pa.Updated) {
				delete(target, id)

				deleted++
			}
		}
	}

	return deleted, nil
}

// ArchiveMissing implements backend.CurationStore.
func (db *DB) ArchiveMissing(_ context.Context, kind models.StatsKind, ids []string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	missing := make([]string, 0)

	switch kind {
	case models.KindTankStats:
		for _, id := range ids {
			if _, ok := db.tankArchive[id]; !ok {
				missing = append(missing, id)
			}
		}
	case models.KindPlayerAchievements:
		for _, id := range ids {
			if _, ok := db.achArchive[id]; !ok {
				missing = append(missing, id)
			}
		}
	}

	return missing, nil
}

// Snapshot implements backend.CurationStore: merge the newest archived row
// per identity key in the partition into the latest collection, keeping
// rows that already exist there.
func (db *DB) Snapshot(_ context.Context, kind models.StatsKind, part backend.Partition) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var examined int64

	switch kind {
	case models.KindTankStats:
		newest := make(map[[2]int64]models.TankStat)

		for _, ts := range db.tankArchive {
			if !part.ContainsAccount(ts.AccountID) {
				continue
			}

			if part.TankID != 0 && ts.TankID != part.TankID {
				continue
			}

			key := [2]int64{ts.AccountID, ts.TankID}
			if cur, ok := newest[key]; !ok || ts.LastBattleTime > cur.LastBattleTime {
				newest[key] = ts
			}
		}

		for _, ts := range newest {
			examined++

			if _, exists := db.tankStats[ts.ID]; !exists {
				db.tankStats[ts.ID] = ts
			}
		}
	case models.KindPlayerAchievements:
		newest := make(map[int64]models.PlayerAchievement)

		for _, pa := range db.achArchive {
			if !part.ContainsAccount(pa.AccountID) {
				continue
			}

			if cur, ok := newest[pa.AccountID]; !ok || pa.Updated > cur.Updated {
				newest[pa.AccountID] = pa
			}
		}

		for _, pa := range newest {
			examined++

			if _, exists := db.achievements[pa.ID]; !exists {
				db.achievements[pa.ID] = pa
			}
		}
	}

	return examined, nil
}

// DeleteListAdd implements backend.CurationStore.
func (db *DB) DeleteListAdd(_ context.Context, entries []models.StatsToDelete) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var added int64

	for _, entry := range entries {
		key := entry.Type + "/" + entry.ID
		if _, exists := db.deleteList[key]; exists {
			continue
		}

		db.deleteList[key] = entry
		added++
	}

	return added, nil
}

// DeleteListGet implements backend.CurationStore.
func (db *DB) DeleteListGet(ctx context.Context, typ string, sample backend.Sample, out chan<- models.StatsToDelete) error {
	db.mu.RLock()
	matched := make([]models.StatsToDelete, 0)

	for _, entry := range db.deleteList {
		if entry.Type == typ {
			matched = append(matched, entry)
		}
	}
	db.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	// A sample is a uniform random pick, not the head of the sorted list.
	if n := sample.Size(int64(len(matched))); n < int64(len(matched)) {
		rand.Shuffle(len(matched), func(i, j int) {
			matched[i], matched[j] = matched[j], matched[i]
		})
		matched = matched[:n]
	}

	for _, entry := range matched {
		select {
		case out <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// DeleteListCount implements backend.CurationStore.
func (db *DB) DeleteListCount(_ context.Context, typ string) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int64

	for _, entry := range db.deleteList {
		if entry.Type == typ {
			n++
		}
	}

	return n, nil
}

// DeleteListRemove implements backend.CurationStore.
func (db *DB) DeleteListRemove(_ context.Context, typ string, ids []string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var removed int64

	for _, id := range ids {
		key := typ + "/" + id
		if _, ok := db.deleteList[key]; ok {
			delete(db.deleteList, key)

			removed++
		}
	}

	return removed, nil
}

// DeleteListReset implements backend.CurationStore.
func (db *DB) DeleteListReset(_ context.Context, typ string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var removed int64

	for key, entry := range db.deleteList {
		if entry.Type == typ {
			delete(db.deleteList, key)

			removed++
		}
	}

	return removed, nil
}
