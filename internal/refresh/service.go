package refresh

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/fetcher"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/metrics"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

// Хранилище новостей. Реализовано SnapshotStorage и ItemStorage.
type Store interface {
	Items(ctx context.Context, source model.SourceType) ([]model.Item, error)
	// Вставка или замена по id
	WriteBatch(ctx context.Context, items []model.Item) error
	EvictExpired(ctx context.Context, ttl time.Duration, now time.Time) (int, error)
	LastRefresh(ctx context.Context) (*time.Time, error)
	SetLastRefresh(ctx context.Context, t time.Time) error
	Stats(ctx context.Context) (model.Stats, error)
}

// Хранилище, которое применяет весь цикл обновления одной записью:
// вставка, чистка по TTL и отметка времени. Если Store его реализует,
// сервис не вызывает WriteBatch, EvictExpired и SetLastRefresh по отдельности.
type CycleStore interface {
	ApplyRefresh(ctx context.Context, items []model.Item, ttl time.Duration, now time.Time) (int, error)
}

type SettingsProvider interface {
	Settings(ctx context.Context) (model.Settings, error)
}

type Aggregator interface {
	FetchAll(ctx context.Context, settings model.Settings) ([]model.Item, fetcher.Report)
}

// Ответ на чтение новостей
type Result struct {
	Items       []model.Item
	LastUpdated *time.Time
	// Было ли обновление в рамках этого запроса
	Refreshed bool
}

// Статистика хранилища вместе с действующим TTL
type Stats struct {
	model.Stats
	TTL time.Duration
}

// Событие о завершенном обновлении
type Event struct {
	RefreshedAt    time.Time `json:"refreshed_at"`
	Items          int       `json:"items"`
	FailedChannels int       `json:"failed_channels"`
}

// Получает события после каждого успешного обновления
type Listener interface {
	OnRefresh(event Event)
}

type Service struct {
	store      Store
	settings   SettingsProvider
	aggregator Aggregator
	// TTL, если в настройках не задан cache_ttl_hours
	defaultTTL time.Duration
	now        func() time.Time

	// Параллельные запросы, которые увидели STALE, ждут одно общее обновление
	group singleflight.Group

	mu        sync.RWMutex
	listeners []Listener
}

func NewService(store Store, settings SettingsProvider, aggregator Aggregator, defaultTTL time.Duration) *Service {
	return &Service{
		store:      store,
		settings:   settings,
		aggregator: aggregator,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// News отдает новости из хранилища, предварительно обновив его, если кеш устарел
// или обновление запрошено явно. Пустой source - все источники.
func (s *Service) News(ctx context.Context, source model.SourceType, force bool) (Result, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load settings: %w", err)
	}

	lastRefresh, err := s.store.LastRefresh(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read last refresh: %w", err)
	}

	state := Decide(lastRefresh, settings.RefreshInterval(), force, s.now())
	if state == Stale {
		lastRefresh, err = s.refresh(ctx, settings, trigger(force, lastRefresh))
		if err != nil {
			return Result{}, err
		}
	}

	items, err := s.store.Items(ctx, source)
	if err != nil {
		return Result{}, fmt.Errorf("read items: %w", err)
	}

	return Result{
		Items:       items,
		LastUpdated: lastRefresh,
		Refreshed:   state == Stale,
	}, nil
}

func (s *Service) Subscribe(listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, listener)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load settings: %w", err)
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}

	return Stats{Stats: stats, TTL: settings.CacheTTL(s.defaultTTL)}, nil
}

func (s *Service) refresh(ctx context.Context, settings model.Settings, trigger string) (*time.Time, error) {
	// Обновление общее для всех ждущих запросов, поэтому отмена
	// одного клиента не должна его прерывать
	ctx = context.WithoutCancel(ctx)

	v, err, shared := s.group.Do("refresh", func() (any, error) {
		return s.run(ctx, settings, trigger)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		log.Printf("[INFO] joined in-flight refresh")
	}

	refreshedAt := v.(time.Time)
	return &refreshedAt, nil
}

// Полный цикл: сбор -> запись -> чистка по TTL -> отметка времени
func (s *Service) run(ctx context.Context, settings model.Settings, trigger string) (time.Time, error) {
	started := time.Now()
	metrics.Refreshes.WithLabelValues(trigger).Inc()

	items, report := s.aggregator.FetchAll(ctx, settings)

	// Точность как у хранилища, чтобы отданное и сохраненное время совпадали
	now := s.now().UTC().Truncate(time.Microsecond)

	evicted, err := s.commit(ctx, items, settings.CacheTTL(s.defaultTTL), now)
	if err != nil {
		return time.Time{}, err
	}
	if evicted > 0 {
		metrics.ItemsEvicted.Add(float64(evicted))
		log.Printf("[INFO] evicted %d expired items", evicted)
	}

	metrics.RefreshDuration.Observe(time.Since(started).Seconds())
	log.Printf("[INFO] refresh (%s) stored %d items, %d channels failed", trigger, len(items), len(report.Failures()))

	s.notify(Event{RefreshedAt: now, Items: len(items), FailedChannels: len(report.Failures())})

	return now, nil
}

// Запись -> чистка по TTL -> отметка времени
func (s *Service) commit(ctx context.Context, items []model.Item, ttl time.Duration, now time.Time) (int, error) {
	if cycle, ok := s.store.(CycleStore); ok {
		evicted, err := cycle.ApplyRefresh(ctx, items, ttl, now)
		if err != nil {
			return 0, fmt.Errorf("apply refresh: %w", err)
		}
		return evicted, nil
	}

	if err := s.store.WriteBatch(ctx, items); err != nil {
		return 0, fmt.Errorf("write items: %w", err)
	}

	evicted, err := s.store.EvictExpired(ctx, ttl, now)
	if err != nil {
		return 0, fmt.Errorf("evict expired items: %w", err)
	}

	if err := s.store.SetLastRefresh(ctx, now); err != nil {
		return 0, fmt.Errorf("set last refresh: %w", err)
	}

	return evicted, nil
}

func (s *Service) notify(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, listener := range s.listeners {
		listener.OnRefresh(event)
	}
}

func trigger(force bool, lastRefresh *time.Time) string {
	switch {
	case force:
		return "forced"
	case lastRefresh == nil:
		return "initial"
	default:
		return "stale"
	}
}
