package memdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

func (db *DB) matchAccount(a models.Account, flt backend.AccountFilter) bool {
	if !regionMatch(flt.Regions, a.Region) {
		return false
	}

	if !flt.Disabled.Match(a.Disabled) {
		return false
	}

	if !flt.Inactive.Match(a.Inactive) {
		return false
	}

	if !flt.Distributed.Match(a.ID) {
		return false
	}

	if flt.CacheValid > 0 && flt.Kind != "" {
		if updated := a.StatsUpdatedAt(flt.Kind); updated >= flt.CacheValid {
			return false
		}
	}

	return true
}

func (db *DB) selectAccounts(flt backend.AccountFilter) []models.Account {
	matched := make([]models.Account, 0, len(db.accounts))

	for _, a := range db.accounts {
		if db.matchAccount(a, flt) {
			matched = append(matched, a)
		}
	}

	// Deterministic order keeps the driver's streams reproducible in tests.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})

	if n := flt.Sample.Size(int64(len(matched))); n < int64(len(matched)) {
		matched = matched[:n]
	}

	return matched
}

// AccountsCount implements backend.AccountStore.
func (db *DB) AccountsCount(_ context.Context, flt backend.AccountFilter) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.selectAccounts(flt))), nil
}

// AccountsGet implements backend.AccountStore.
func (db *DB) AccountsGet(ctx context.Context, flt backend.AccountFilter, out chan<- models.Account) error {
	db.mu.RLock()
	matched := db.selectAccounts(flt)
	db.mu.RUnlock()

	for _, a := range matched {
		select {
		case out <- a:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// AccountsInsert implements backend.AccountStore.
func (db *DB) AccountsInsert(_ context.Context, accounts []models.Account) (int64, int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var inserted, skipped int64

	for _, a := range accounts {
		if _, exists := db.accounts[a.ID]; exists {
			skipped++

			continue
		}

		db.accounts[a.ID] = a
		inserted++
	}

	return inserted, skipped, nil
}

// AccountGet implements backend.AccountStore.
func (db *DB) AccountGet(_ context.Context, id int64) (*models.Account, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	a, ok := db.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %d", backend.ErrNotFound, id)
	}

	return &a, nil
}

// AccountUpdate implements backend.AccountStore. Only the named fields of
// the stored row are rewritten.
func (db *DB) AccountUpdate(_ context.Context, account *models.Account, fields []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored, ok := db.accounts[account.ID]
	if !ok {
		return fmt.Errorf("%w: account %d", backend.ErrNotFound, account.ID)
	}

	for _, field := range fields {
		switch field {
		case "region":
			stored.Region = account.Region
		case "last_battle_time":
			stored.LastBattleTime = account.LastBattleTime
		case "disabled":
			stored.Disabled = account.Disabled
		case "inactive":
			stored.Inactive = account.Inactive
		case "stats_updated":
			stored.StatsUpdated = account.StatsUpdated
		}
	}

	db.accounts[account.ID] = stored

	return nil
}

// AccountReplace implements backend.AccountStore.
func (db *DB) AccountReplace(_ context.Context, account *models.Account, upsert bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.accounts[account.ID]; !ok && !upsert {
		return fmt.Errorf("%w: account %d", backend.ErrNotFound, account.ID)
	}

	db.accounts[account.ID] = *account

	return nil
}

// AccountDelete implements backend.AccountStore.
func (db *DB) AccountDelete(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.accounts[id]; !ok {
		return fmt.Errorf("%w: account %d", backend.ErrNotFound, id)
	}

	delete(db.accounts, id)

	return nil
}
