package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blitzstack/statmill/internal/models"
)

// Backend is the persistence contract of the pipeline. Every operation is
// context-bound and fails with an error wrapping ErrTransient, ErrFatal or
// ErrNotFound.
//
// Streaming operations write into a caller-owned channel and return when the
// stream is exhausted or the context is cancelled; the caller closes the
// channel. Batch inserts are idempotent by identity key. Drivers may reorder
// stream results unless documented otherwise.
type Backend interface {
	// Driver returns the registered driver name for logging.
	Driver() string
	Close(ctx context.Context) error

	AccountStore
	TankStatStore
	AchievementStore
	CurationStore
	ReplayStore
	ReleaseStore
	TankopediaStore
	LogStore

	// Setup creates the collections and indexes the pipeline requires.
	Setup(ctx context.Context) error
}

// AccountStore persists player accounts.
type AccountStore interface {
	AccountsCount(ctx context.Context, flt AccountFilter) (int64, error)
	AccountsGet(ctx context.Context, flt AccountFilter, out chan<- models.Account) error
	// AccountsInsert inserts a batch, skipping rows whose id already exists.
	AccountsInsert(ctx context.Context, accounts []models.Account) (inserted, skipped int64, err error)
	AccountGet(ctx context.Context, id int64) (*models.Account, error)
	// AccountUpdate rewrites the named fields of the stored account.
	AccountUpdate(ctx context.Context, account *models.Account, fields []string) error
	AccountReplace(ctx context.Context, account *models.Account, upsert bool) error
	AccountDelete(ctx context.Context, id int64) error
}

// TankStatStore persists per-tank statistics rows.
type TankStatStore interface {
	TankStatsCount(ctx context.Context, flt StatsFilter) (int64, error)
	TankStatsGet(ctx context.Context, flt StatsFilter, out chan<- models.TankStat) error
	// TankStatsInsert inserts a batch, skipping rows with an existing
	// identity key unless force replaces them.
	TankStatsInsert(ctx context.Context, stats []models.TankStat, force bool) (inserted, skipped int64, err error)
	TankStatUpdate(ctx context.Context, stat *models.TankStat, fields []string) error
	TankStatGet(ctx context.Context, id string) (*models.TankStat, error)
	// TankStatsUniqueTanks returns the distinct tank ids present in the
	// tank-stats collection.
	TankStatsUniqueTanks(ctx context.Context) ([]int64, error)
}

// AchievementStore persists player-achievement rows.
type AchievementStore interface {
	AchievementsCount(ctx context.Context, flt StatsFilter) (int64, error)
	AchievementsGet(ctx context.Context, flt StatsFilter, out chan<- models.PlayerAchievement) error
	AchievementsInsert(ctx context.Context, rows []models.PlayerAchievement, force bool) (inserted, skipped int64, err error)
	AchievementUpdate(ctx context.Context, row *models.PlayerAchievement, fields []string) error
}

// CurationStore serves the duplicate analyzer, the pruner and the
// snapshotter.
type CurationStore interface {
	// StatsDuplicates streams the primary keys of rows that have a newer row
	// with the same identity key inside the query window.
	StatsDuplicates(ctx context.Context, q DuplicatesQuery, out chan<- string) error
	// StatsNewerExists reports whether a strictly newer row with the same
	// identity key as id exists inside the window. Used by the check phase.
	StatsNewerExists(ctx context.Context, kind models.StatsKind, archive bool, id string, window Window) (bool, error)
	// StatsDeleteBatch deletes the given primary keys, bounded to the
	// window. Returns the number of rows deleted.
	StatsDeleteBatch(ctx context.Context, kind models.StatsKind, archive bool, ids []string, window Window) (int64, error)
	// ArchiveMissing returns the subset of ids absent from the archive
	// collection of the kind. Used as the pre-prune safety check.
	ArchiveMissing(ctx context.Context, kind models.StatsKind, ids []string) ([]string, error)
	// Snapshot merges, for every identity key in the partition, the newest
	// archived row into the latest collection, keeping existing rows.
	// Returns the number of keys examined.
	Snapshot(ctx context.Context, kind models.StatsKind, part Partition) (int64, error)

	// Stats-to-delete staging list.
	DeleteListAdd(ctx context.Context, entries []models.StatsToDelete) (int64, error)
	DeleteListGet(ctx context.Context, typ string, sample Sample, out chan<- models.StatsToDelete) error
	DeleteListCount(ctx context.Context, typ string) (int64, error)
	DeleteListRemove(ctx context.Context, typ string, ids []string) (int64, error)
	DeleteListReset(ctx context.Context, typ string) (int64, error)
}

// ReplayStore persists battle replays.
type ReplayStore interface {
	ReplayGet(ctx context.Context, id string) (*models.Replay, error)
	ReplayInsert(ctx context.Context, replay *models.Replay) error
	ReplaysExport(ctx context.Context, sample Sample, out chan<- models.Replay) error
}

// ReleaseStore persists the game release table.
type ReleaseStore interface {
	ReleaseGet(ctx context.Context, release string) (*models.Release, error)
	// ReleasesGet returns every release ordered by launch time ascending.
	ReleasesGet(ctx context.Context) ([]models.Release, error)
	ReleaseInsert(ctx context.Context, release *models.Release) error
	ReleaseUpdate(ctx context.Context, release *models.Release) error
	ReleaseDelete(ctx context.Context, release string) error
}

// TankopediaStore persists tank metadata.
type TankopediaStore interface {
	TankopediaCount(ctx context.Context) (int64, error)
	TankopediaGet(ctx context.Context) ([]models.Tank, error)
	TankInsert(ctx context.Context, tank *models.Tank, replace bool) error
}

// LogStore persists the error and update logs.
type LogStore interface {
	// ErrorLogAdd records a failed per-account fetch.
	ErrorLogAdd(ctx context.Context, accountID int64, kind models.StatsKind, at int64) error
	// ErrorLogAccounts returns the distinct account ids with logged errors
	// for the kind.
	ErrorLogAccounts(ctx context.Context, kind models.StatsKind) ([]int64, error)
	ErrorLogClear(ctx context.Context, accountID int64, kind models.StatsKind) error
	// UpdateLogAdd records a successfully completed phase.
	UpdateLogAdd(ctx context.Context, action string, kind models.StatsKind, release string) error
}

// Factory builds a backend from a driver-specific configuration blob.
type Factory func(ctx context.Context, options map[string]string) (Backend, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register makes a driver available by name. Called from driver package
// init.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[name] = factory
}

// Open creates a backend by driver name.
func Open(ctx context.Context, name string, options map[string]string) (Backend, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: backend driver %q (available: %v)", ErrNotImplemented, name, Available())
	}

	return factory(ctx, options)
}

// Available lists the registered driver names sorted.
func Available() []string {
	registryMu.Lock()
	defer registryMu.Unlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
