package fetcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/backend/memdb"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/queue"
)

// fakeAPI scripts per-account responses: the nth call for an account gets
// the nth scripted batch, nil past the end.
type fakeAPI struct {
	mu      sync.Mutex
	batches map[int64][][]models.TankStat
	calls   map[int64]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		batches: make(map[int64][][]models.TankStat),
		calls:   make(map[int64]int),
	}
}

func (f *fakeAPI) script(accountID int64, responses ...[]models.TankStat) {
	f.batches[accountID] = responses
}

func (f *fakeAPI) GetTankStats(_ context.Context, accountID int64, _ models.Region) ([]models.TankStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.calls[accountID]
	f.calls[accountID] = n + 1

	scripted := f.batches[accountID]
	if n >= len(scripted) {
		return nil, nil
	}

	return scripted[n], nil
}

func stat(account, tank, lbt int64) models.TankStat {
	ts := models.TankStat{AccountID: account, TankID: tank, LastBattleTime: lbt}
	ts.All.Battles = 1
	_ = ts.Normalize()

	return ts
}

func seedAccounts(t *testing.T, db *memdb.DB, ids ...int64) {
	t.Helper()

	accounts := make([]models.Account, 0, len(ids))

	for _, id := range ids {
		a, err := models.NewAccount(id)
		require.NoError(t, err)

		accounts = append(accounts, *a)
	}

	_, _, err := db.AccountsInsert(context.Background(), accounts)
	require.NoError(t, err)
}

func feedAccounts(ctx context.Context, t *testing.T, q *queue.Queue[models.Account], db *memdb.DB, ids ...int64) {
	t.Helper()

	q.AddProducer()

	go func() {
		defer q.Finish() //nolint:errcheck

		for _, id := range ids {
			account, err := db.AccountGet(ctx, id)
			if err != nil {
				return
			}

			if err := q.Put(ctx, *account); err != nil {
				return
			}
		}
	}()
}

func TestRetryPassRecoversAccount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	seedAccounts(t, db, 42, 43)

	api := newFakeAPI()
	// Account 42: no stats on the first call, a batch on the second.
	api.script(42, nil, []models.TankStat{stat(42, 1, 1000)})
	api.script(43, []models.TankStat{stat(43, 1, 1000)})

	f := NewTankStats(db, api, nil, Config{Workers: 2, QueueCap: 10})

	accountQ := queue.New[models.Account](10)
	feedAccounts(ctx, t, accountQ, db, 42, 43)

	counter, err := f.Run(ctx, accountQ, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(2), counter.Get(CounterTotal))
	assert.Equal(t, int64(1), counter.Get(CounterRetry))
	assert.Equal(t, int64(0), counter.Get(CounterNoStats))
	assert.Equal(t, int64(0), counter.Get(CounterDisabled))
	assert.Equal(t, int64(2), counter.Get(CounterStats))

	// Both batches were written.
	n, err := db.TankStatsCount(ctx, backend.StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRetryBatchIsPersisted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	seedAccounts(t, db, 42)

	api := newFakeAPI()
	// The only account yields nothing on the first pass, so the writer must
	// outlive the gap between the passes to see the retry batch at all.
	api.script(42, nil, []models.TankStat{stat(42, 1, 1000)})

	f := NewTankStats(db, api, nil, Config{Workers: 2, QueueCap: 10})

	accountQ := queue.New[models.Account](10)
	feedAccounts(ctx, t, accountQ, db, 42)

	counter, err := f.Run(ctx, accountQ, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), counter.Get(CounterRetry))
	assert.Equal(t, int64(1), counter.Get(CounterStats))

	n, err := db.TankStatsCount(ctx, backend.StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	account, err := db.AccountGet(ctx, 42)
	require.NoError(t, err)
	assert.False(t, account.Disabled)
	assert.NotZero(t, account.StatsUpdatedAt(models.KindTankStats))
}

func TestSecondPassDisablesAccount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	seedAccounts(t, db, 42)

	api := newFakeAPI() // never returns stats

	f := NewTankStats(db, api, nil, Config{Workers: 2, QueueCap: 10})

	accountQ := queue.New[models.Account](10)
	feedAccounts(ctx, t, accountQ, db, 42)

	counter, err := f.Run(ctx, accountQ, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), counter.Get(CounterTotal))
	assert.Equal(t, int64(1), counter.Get(CounterRetry))
	assert.Equal(t, int64(1), counter.Get(CounterNoStats))
	assert.Equal(t, int64(1), counter.Get(CounterDisabled))

	account, err := db.AccountGet(ctx, 42)
	require.NoError(t, err)
	assert.True(t, account.Disabled)
}

func TestSuccessfulFetchEnablesAccount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	seedAccounts(t, db, 42)

	account, err := db.AccountGet(ctx, 42)
	require.NoError(t, err)

	account.Disabled = true
	require.NoError(t, db.AccountUpdate(ctx, account, []string{"disabled"}))

	api := newFakeAPI()
	api.script(42, []models.TankStat{stat(42, 1, 1000)})

	f := NewTankStats(db, api, nil, Config{Workers: 1, QueueCap: 10})

	accountQ := queue.New[models.Account](10)
	feedAccounts(ctx, t, accountQ, db, 42)

	counter, err := f.Run(ctx, accountQ, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), counter.Get(CounterEnabled))

	account, err = db.AccountGet(ctx, 42)
	require.NoError(t, err)
	assert.False(t, account.Disabled)
}

func TestWriterUpdatesAccount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memdb.New()
	seedAccounts(t, db, 42)

	api := newFakeAPI()
	api.script(42, []models.TankStat{stat(42, 1, 500), stat(42, 2, 900)})

	f := NewTankStats(db, api, nil, Config{Workers: 1, QueueCap: 10})

	accountQ := queue.New[models.Account](10)
	feedAccounts(ctx, t, accountQ, db, 42)

	_, err := f.Run(ctx, accountQ, 1)
	require.NoError(t, err)

	account, err := db.AccountGet(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(900), account.LastBattleTime)
	assert.NotZero(t, account.StatsUpdatedAt(models.KindTankStats))
}

func TestWorkerCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		configured int
		accounts   int64
		want       int
	}{
		{10, 100, 10},
		{10, 8, 2},
		{10, 1, 1},
		{10, 0, 1},
		{2, 100, 2},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, workerCount(tt.configured, tt.accounts),
			"configured=%d accounts=%d", tt.configured, tt.accounts)
	}
}

func TestRunIsBoundedInTime(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := memdb.New()

	ids := make([]int64, 0, 20)
	for i := int64(1); i <= 20; i++ {
		ids = append(ids, i)
	}

	seedAccounts(t, db, ids...)

	api := newFakeAPI()
	for _, id := range ids {
		api.script(id, []models.TankStat{stat(id, 1, 1000)})
	}

	f := NewTankStats(db, api, nil, Config{Workers: 4, QueueCap: 4})

	accountQ := queue.New[models.Account](4)
	feedAccounts(ctx, t, accountQ, db, ids...)

	counter, err := f.Run(ctx, accountQ, int64(len(ids)))
	require.NoError(t, err)
	assert.Equal(t, int64(20), counter.Get(CounterTotal))
	assert.Equal(t, int64(20), counter.Get(CounterStats))
}
