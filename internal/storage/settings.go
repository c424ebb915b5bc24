package storage

import (
	"context"
	"sync"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

// Настройки источников в json файле
type SettingsStorage struct {
	path string
	mu   sync.Mutex
}

func NewSettingsStorage(path string) *SettingsStorage {
	return &SettingsStorage{path: path}
}

// Если файла нет, это не ошибка: отдаем настройки по умолчанию
func (s *SettingsStorage) Settings(_ context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settings model.Settings

	found, err := readJSON(s.path, &settings)
	if err != nil {
		return model.Settings{}, err
	}

	if !found {
		return model.DefaultSettings(), nil
	}

	return settings.Normalize(), nil
}

// Документ заменяется целиком, без слияния со старым
func (s *SettingsStorage) Save(_ context.Context, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSONAtomic(s.path, settings.Normalize())
}
