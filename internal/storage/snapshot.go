package storage

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

// Документ кеша на диске
type snapshotDocument struct {
	Items []model.Item `json:"items"`
	// Храним строкой: битое значение не должно ломать чтение всего кеша
	LastUpdated *string `json:"last_updated"`
}

// SnapshotStorage держит весь кеш в памяти и целиком сохраняет его в json файл
// после каждого изменения. Цикл обновления через ApplyRefresh - одна запись.
type SnapshotStorage struct {
	path string

	mu  sync.RWMutex
	doc snapshotDocument
}

// Читает кеш с диска. Отсутствующий или битый файл дает пустой кеш,
// он все равно будет пересобран при первом обновлении.
func NewSnapshotStorage(path string) *SnapshotStorage {
	s := &SnapshotStorage{path: path}

	if _, err := readJSON(path, &s.doc); err != nil {
		log.Printf("[WARN] snapshot %s is unreadable, starting empty: %v", path, err)
		s.doc = snapshotDocument{}
	}

	return s
}

func (s *SnapshotStorage) Items(_ context.Context, source model.SourceType) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := lo.Filter(s.doc.Items, func(item model.Item, _ int) bool {
		return source == "" || item.Source == source
	})

	return items, nil
}

// Новые версии заменяют старые с тем же id, порядок - сначала свежие
func (s *SnapshotStorage) WriteBatch(_ context.Context, items []model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.persist(snapshotDocument{Items: mergeItems(s.doc.Items, items), LastUpdated: s.doc.LastUpdated})
}

// Удаляет новости, полученные раньше now - ttl
func (s *SnapshotStorage) EvictExpired(_ context.Context, ttl time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept, evicted := evictExpired(s.doc.Items, ttl, now)
	if evicted == 0 {
		return 0, nil
	}

	if err := s.persist(snapshotDocument{Items: kept, LastUpdated: s.doc.LastUpdated}); err != nil {
		return 0, err
	}

	return evicted, nil
}

// ApplyRefresh сливает новости, чистит по TTL и ставит время обновления в памяти,
// а на диск пишет один раз
func (s *SnapshotStorage) ApplyRefresh(_ context.Context, items []model.Item, ttl time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept, evicted := evictExpired(mergeItems(s.doc.Items, items), ttl, now)
	value := formatTimestamp(now)

	if err := s.persist(snapshotDocument{Items: kept, LastUpdated: &value}); err != nil {
		return 0, err
	}

	return evicted, nil
}

// nil, если обновлений еще не было или сохраненное время не разбирается
func (s *SnapshotStorage) LastRefresh(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc.LastUpdated == nil {
		return nil, nil
	}

	return parseTimestamp(*s.doc.LastUpdated), nil
}

func (s *SnapshotStorage) SetLastRefresh(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := formatTimestamp(t)

	return s.persist(snapshotDocument{Items: s.doc.Items, LastUpdated: &value})
}

func (s *SnapshotStorage) Stats(_ context.Context) (model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySource := lo.MapValues(
		lo.GroupBy(s.doc.Items, func(item model.Item) string { return string(item.Source) }),
		func(group []model.Item, _ string) int { return len(group) },
	)

	return model.Stats{TotalItems: len(s.doc.Items), BySource: bySource}, nil
}

func mergeItems(existing, items []model.Item) []model.Item {
	fresh := lo.UniqBy(items, func(item model.Item) string { return item.ID })
	replaced := lo.Associate(fresh, func(item model.Item) (string, struct{}) { return item.ID, struct{}{} })

	merged := append([]model.Item{}, fresh...)
	for _, old := range existing {
		if _, ok := replaced[old.ID]; !ok {
			merged = append(merged, old)
		}
	}
	model.SortNewestFirst(merged)

	return merged
}

func evictExpired(items []model.Item, ttl time.Duration, now time.Time) ([]model.Item, int) {
	cutoff := now.Add(-ttl)

	kept := lo.Filter(items, func(item model.Item, _ int) bool {
		return !item.FetchedAt.Before(cutoff)
	})

	return kept, len(items) - len(kept)
}

// Сначала пишем на диск, и только потом меняем состояние в памяти
func (s *SnapshotStorage) persist(doc snapshotDocument) error {
	if doc.Items == nil {
		doc.Items = []model.Item{}
	}

	if err := writeJSONAtomic(s.path, doc); err != nil {
		return err
	}

	s.doc = doc

	return nil
}
