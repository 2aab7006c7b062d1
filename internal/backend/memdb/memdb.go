// Package memdb provides an in-memory Backend driver. It backs the pipeline
// tests and serves as the executable reference for driver semantics: batch
// idempotency, duplicate detection, keep-existing snapshotting and bounded
// pruning behave here exactly as the contract requires.
package memdb

import (
	"context"
	"sync"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

// DriverName is the name memdb registers under.
const DriverName = "memory"

func init() {
	backend.Register(DriverName, func(_ context.Context, _ map[string]string) (backend.Backend, error) {
		return New(), nil
	})
}

type logEntry struct {
	AccountID int64
	Kind      models.StatsKind
	At        int64
}

// UpdateEntry is one UpdateLog row. Exposed for test assertions.
type UpdateEntry struct {
	Action  string
	Kind    models.StatsKind
	Release string
}

// DB is the in-memory backend.
type DB struct {
	mu sync.RWMutex

	accounts     map[int64]models.Account
	tankStats    map[string]models.TankStat
	tankArchive  map[string]models.TankStat
	achievements map[string]models.PlayerAchievement
	achArchive   map[string]models.PlayerAchievement
	replays      map[string]models.Replay
	releases     map[string]models.Release
	tanks        map[int64]models.Tank
	deleteList   map[string]models.StatsToDelete // keyed type+"/"+id
	errorLog     []logEntry
	updateLog    []UpdateEntry
}

// New creates an empty in-memory backend.
func New() *DB {
	return &DB{
		accounts:     make(map[int64]models.Account),
		tankStats:    make(map[string]models.TankStat),
		tankArchive:  make(map[string]models.TankStat),
		achievements: make(map[string]models.PlayerAchievement),
		achArchive:   make(map[string]models.PlayerAchievement),
		replays:      make(map[string]models.Replay),
		releases:     make(map[string]models.Release),
		tanks:        make(map[int64]models.Tank),
		deleteList:   make(map[string]models.StatsToDelete),
	}
}

// Driver implements backend.Backend.
func (db *DB) Driver() string {
	return DriverName
}

// Close implements backend.Backend.
func (db *DB) Close(_ context.Context) error {
	return nil
}

// Setup implements backend.Backend. Nothing to create in memory.
func (db *DB) Setup(_ context.Context) error {
	return nil
}

func regionMatch(regions []models.Region, r models.Region) bool {
	if len(regions) == 0 {
		return true
	}

	for _, want := range regions {
		if want == r {
			return true
		}
	}

	return false
}
