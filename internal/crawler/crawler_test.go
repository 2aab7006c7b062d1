package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzstack/statmill/internal/backend/memdb"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/queue"
)

// fakeReplayAPI serves scripted listing pages and replay records.
type fakeReplayAPI struct {
	mu      sync.Mutex
	pages   map[int][]string // page -> replay ids
	replays map[string]*models.Replay
	fetched []int
}

func newFakeReplayAPI() *fakeReplayAPI {
	return &fakeReplayAPI{
		pages:   make(map[int][]string),
		replays: make(map[string]*models.Replay),
	}
}

func (f *fakeReplayAPI) GetReplayListing(_ context.Context, page int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, page)

	var b strings.Builder

	for _, id := range f.pages[page] {
		fmt.Fprintf(&b, `<a href="/view/%s">replay</a>`, id)
	}

	return b.String(), nil
}

func (f *fakeReplayAPI) GetReplayJSON(_ context.Context, id string) (*models.Replay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.replays[id], nil
}

func (f *fakeReplayAPI) pagesFetched() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int(nil), f.fetched...)
}

func replayWithPlayers(id string, allies, enemies []int64) *models.Replay {
	return &models.Replay{
		ID: id,
		Data: models.ReplayData{
			Summary: models.ReplaySummary{Allies: allies, Enemies: enemies},
		},
	}
}

func hexID(n int) string {
	return fmt.Sprintf("%040x", n)
}

func drainAccounts(ctx context.Context, q *queue.Queue[models.Account]) []int64 {
	ids := make([]int64, 0)

	for {
		account, err := q.Get(ctx)
		if err != nil {
			return ids
		}

		ids = append(ids, account.ID)
		q.TaskDone()
	}
}

func TestCrawlerDiscoversAccounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	api := newFakeReplayAPI()

	id := hexID(1)
	api.pages[1] = []string{id}
	api.replays[id] = replayWithPlayers(id, []int64{600_000_001, 600_000_002}, []int64{600_000_003})

	c := New(db, api, Config{MaxPages: 1, Workers: 1, MaxOldReplays: 3})

	accountQ := queue.New[models.Account](100)

	var (
		counterErr error
		wg         sync.WaitGroup
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, counterErr = c.Run(ctx, accountQ)
	}()

	got := drainAccounts(ctx, accountQ)
	wg.Wait()

	require.NoError(t, counterErr)
	assert.ElementsMatch(t, []int64{600_000_001, 600_000_002, 600_000_003}, got)

	// The replay was persisted.
	stored, err := db.ReplayGet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, stored.ID)
}

func TestCrawlerStopsOnOldReplays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	api := newFakeReplayAPI()

	// Every page yields 5 ids that are all already stored.
	for page := 1; page <= 10; page++ {
		ids := make([]string, 0, 5)

		for i := 0; i < 5; i++ {
			id := hexID(page*100 + i)
			ids = append(ids, id)

			require.NoError(t, db.ReplayInsert(ctx, replayWithPlayers(id, nil, nil)))
		}

		api.pages[page] = ids
	}

	c := New(db, api, Config{MaxPages: 10, Workers: 1, MaxOldReplays: 3})

	accountQ := queue.New[models.Account](100)

	var (
		runErr error
		wg     sync.WaitGroup
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, runErr = c.Run(ctx, accountQ)
	}()

	got := drainAccounts(ctx, accountQ)
	wg.Wait()

	require.NoError(t, runErr)
	assert.Empty(t, got, "no new replays, no accounts")
	assert.Equal(t, []int{1}, api.pagesFetched(), "spider must stop after the first page")
}

func TestCrawlerForceIgnoresOldReplays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	api := newFakeReplayAPI()

	for page := 1; page <= 3; page++ {
		ids := make([]string, 0, 5)

		for i := 0; i < 5; i++ {
			id := hexID(page*100 + i)
			ids = append(ids, id)

			require.NoError(t, db.ReplayInsert(ctx, replayWithPlayers(id, nil, nil)))
		}

		api.pages[page] = ids
	}

	c := New(db, api, Config{MaxPages: 3, Workers: 1, MaxOldReplays: 3, Force: true})

	accountQ := queue.New[models.Account](100)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, _ = c.Run(ctx, accountQ)
	}()

	drainAccounts(ctx, accountQ)
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, api.pagesFetched())
}

func TestCrawlerSkipsUnknownReplayJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	api := newFakeReplayAPI()

	id := hexID(7)
	api.pages[1] = []string{id}
	// No replay record scripted: GetReplayJSON returns nil.

	c := New(db, api, Config{MaxPages: 1, Workers: 1, MaxOldReplays: 3})

	accountQ := queue.New[models.Account](10)

	var (
		counter *eventcounter.Counter
		runErr  error
		wg      sync.WaitGroup
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		counter, runErr = c.Run(ctx, accountQ)
	}()

	got := drainAccounts(ctx, accountQ)
	wg.Wait()

	require.NoError(t, runErr)
	assert.Empty(t, got)
	assert.Equal(t, int64(1), counter.Get("replays not found"))
}
