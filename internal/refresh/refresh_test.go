package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/fetcher"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDecide(t *testing.T) {
	interval := 15 * time.Minute
	ts := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name        string
		lastRefresh *time.Time
		force       bool
		want        State
	}{
		{"never refreshed", nil, false, Stale},
		{"just past interval", ts(-interval - time.Second), false, Stale},
		{"just inside interval", ts(-interval + time.Second), false, Fresh},
		{"exactly interval", ts(-interval), false, Fresh},
		{"forced while fresh", ts(-time.Second), true, Stale},
		{"forced without timestamp", nil, true, Stale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.lastRefresh, interval, tt.force, now))
		})
	}
}

// Хранилище в памяти для тестов сервиса
type memStore struct {
	mu          sync.Mutex
	items       map[string]model.Item
	lastRefresh *time.Time
	evictedTTL  time.Duration
}

func newMemStore() *memStore {
	return &memStore{items: map[string]model.Item{}}
}

func (m *memStore) Items(_ context.Context, source model.SourceType) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Item
	for _, item := range m.items {
		if source == "" || item.Source == source {
			out = append(out, item)
		}
	}
	model.SortNewestFirst(out)

	return out, nil
}

func (m *memStore) WriteBatch(_ context.Context, items []model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		m.items[item.ID] = item
	}

	return nil
}

func (m *memStore) EvictExpired(_ context.Context, ttl time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictedTTL = ttl

	evicted := 0
	for id, item := range m.items {
		if item.FetchedAt.Before(now.Add(-ttl)) {
			delete(m.items, id)
			evicted++
		}
	}

	return evicted, nil
}

func (m *memStore) LastRefresh(context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastRefresh, nil
}

func (m *memStore) SetLastRefresh(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRefresh = &t

	return nil
}

func (m *memStore) Stats(context.Context) (model.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := model.Stats{BySource: map[string]int{}}
	for _, item := range m.items {
		stats.TotalItems++
		stats.BySource[string(item.Source)]++
	}

	return stats, nil
}

type staticSettings model.Settings

func (s staticSettings) Settings(context.Context) (model.Settings, error) {
	return model.Settings(s), nil
}

type fakeAggregator struct {
	calls atomic.Int32
	items []model.Item
	// Блокирует сбор до закрытия, чтобы проверить склейку параллельных обновлений
	release chan struct{}
}

func (a *fakeAggregator) FetchAll(context.Context, model.Settings) ([]model.Item, fetcher.Report) {
	a.calls.Add(1)
	if a.release != nil {
		<-a.release
	}

	return a.items, fetcher.Report{}
}

func arxivItem(id string, published time.Duration) model.Item {
	ts := now.Add(published)
	return model.Item{ID: "arxiv_" + id, Source: model.SourceArxiv, PublishedAt: &ts, FetchedAt: now}
}

func newTestService(store Store, agg Aggregator, settings model.Settings) *Service {
	s := NewService(store, staticSettings(settings), agg, 72*time.Hour)
	s.now = func() time.Time { return now }
	return s
}

func TestNewsRefreshesEmptyStore(t *testing.T) {
	store := newMemStore()
	agg := &fakeAggregator{items: []model.Item{
		arxivItem("1", -time.Hour),
		{ID: "reddit_1", Source: model.SourceReddit, FetchedAt: now},
	}}

	res, err := newTestService(store, agg, model.DefaultSettings()).News(context.Background(), "", false)
	require.NoError(t, err)

	assert.True(t, res.Refreshed)
	assert.Len(t, res.Items, 2)
	require.NotNil(t, res.LastUpdated)
	assert.Equal(t, now, *res.LastUpdated)
	assert.EqualValues(t, 1, agg.calls.Load())
	assert.Equal(t, 72*time.Hour, store.evictedTTL)
}

func TestNewsServesFreshStoreWithoutFetching(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.WriteBatch(context.Background(), []model.Item{arxivItem("1", -time.Hour)}))
	require.NoError(t, store.SetLastRefresh(context.Background(), now.Add(-10*time.Minute)))

	agg := &fakeAggregator{items: []model.Item{arxivItem("2", 0)}}

	res, err := newTestService(store, agg, model.DefaultSettings()).News(context.Background(), "", false)
	require.NoError(t, err)

	assert.False(t, res.Refreshed)
	assert.EqualValues(t, 0, agg.calls.Load())
	require.NotNil(t, res.LastUpdated)
	assert.Equal(t, now.Add(-10*time.Minute), *res.LastUpdated)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "arxiv_1", res.Items[0].ID)
}

func TestNewsForceRefreshAndSourceFilter(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SetLastRefresh(context.Background(), now.Add(-time.Minute)))

	agg := &fakeAggregator{items: []model.Item{
		arxivItem("old", -2*time.Hour),
		{ID: "hn_1", Source: model.SourceHackerNews, FetchedAt: now},
		arxivItem("new", -time.Hour),
	}}

	res, err := newTestService(store, agg, model.DefaultSettings()).News(context.Background(), model.SourceArxiv, true)
	require.NoError(t, err)

	assert.True(t, res.Refreshed)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "arxiv_new", res.Items[0].ID)
	assert.Equal(t, "arxiv_old", res.Items[1].ID)
}

func TestNewsUsesSettingsTTL(t *testing.T) {
	store := newMemStore()
	agg := &fakeAggregator{}

	settings := model.Preset()
	_, err := newTestService(store, agg, settings).News(context.Background(), "", false)
	require.NoError(t, err)

	assert.Equal(t, 36*time.Hour, store.evictedTTL)
}

func TestConcurrentStaleReadsShareOneRefresh(t *testing.T) {
	store := newMemStore()
	agg := &fakeAggregator{items: []model.Item{arxivItem("1", 0)}, release: make(chan struct{})}
	svc := newTestService(store, agg, model.DefaultSettings())

	const readers = 5

	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.News(context.Background(), "", false)
			assert.NoError(t, err)
			assert.Len(t, res.Items, 1)
		}()
	}

	// Даем всем читателям дойти до singleflight
	require.Eventually(t, func() bool { return agg.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(agg.release)
	wg.Wait()

	assert.EqualValues(t, 1, agg.calls.Load())
}

func TestStatsReportsEffectiveTTL(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.WriteBatch(context.Background(), []model.Item{arxivItem("1", 0)}))

	stats, err := newTestService(store, &fakeAggregator{}, model.DefaultSettings()).Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalItems)
	assert.Equal(t, map[string]int{"arxiv": 1}, stats.BySource)
	assert.Equal(t, 72*time.Hour, stats.TTL)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnRefresh(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func TestListenersReceiveRefreshEvents(t *testing.T) {
	store := newMemStore()
	agg := &fakeAggregator{items: []model.Item{arxivItem("1", 0), arxivItem("2", 0)}}
	svc := newTestService(store, agg, model.DefaultSettings())

	rec := &eventRecorder{}
	svc.Subscribe(rec)

	_, err := svc.News(context.Background(), "", false)
	require.NoError(t, err)

	// Второй запрос попадает в интервал и не обновляет кеш
	_, err = svc.News(context.Background(), "", false)
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	assert.Equal(t, Event{RefreshedAt: now, Items: 2}, rec.events[0])
}

// Хранилище с применением цикла одной записью
type cycleStore struct {
	*memStore
	cycles int
}

func (c *cycleStore) ApplyRefresh(ctx context.Context, items []model.Item, ttl time.Duration, now time.Time) (int, error) {
	c.cycles++

	if err := c.memStore.WriteBatch(ctx, items); err != nil {
		return 0, err
	}

	evicted, err := c.memStore.EvictExpired(ctx, ttl, now)
	if err != nil {
		return 0, err
	}

	return evicted, c.memStore.SetLastRefresh(ctx, now)
}

func TestRefreshUsesSingleCycleWhenStoreSupportsIt(t *testing.T) {
	store := &cycleStore{memStore: newMemStore()}
	agg := &fakeAggregator{items: []model.Item{arxivItem("1", 0)}}

	res, err := newTestService(store, agg, model.DefaultSettings()).News(context.Background(), "", true)
	require.NoError(t, err)

	assert.Equal(t, 1, store.cycles)
	assert.Len(t, res.Items, 1)
	require.NotNil(t, res.LastUpdated)
	assert.Equal(t, now, *res.LastUpdated)
	assert.Equal(t, 72*time.Hour, store.evictedTTL)
}
