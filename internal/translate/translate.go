package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/samber/lo"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/metrics"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

// Переводчик недоступен: нет ключа или бэкенд не настроен
var ErrUnavailable = errors.New("translator not available")

type Translator interface {
	Available() bool
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Новость после перевода. Исходные значения сохраняются рядом,
// чтобы клиент мог показать оригинал.
type Item struct {
	model.Item
	TitleOriginal       *string `json:"title_original,omitempty"`
	DescriptionOriginal *string `json:"description_original,omitempty"`
}

type Service struct {
	translator Translator
	// Язык, на котором приходят новости из источников
	sourceLang string
}

func NewService(translator Translator, sourceLang string) *Service {
	return &Service{translator: translator, sourceLang: sourceLang}
}

func (s *Service) Available() bool {
	return s.translator != nil && s.translator.Available()
}

// Translate переводит заголовки и описания на язык target.
// Если переводчик недоступен, новости возвращаются как есть вместе с ErrUnavailable.
// Ошибка перевода одной новости не прерывает остальные: такая новость возвращается без изменений.
func (s *Service) Translate(ctx context.Context, items []model.Item, target string) ([]Item, error) {
	if skip, err := s.skip(target); skip {
		return lo.Map(items, func(item model.Item, _ int) Item {
			return Item{Item: item}
		}), err
	}

	translated := make([]Item, 0, len(items))
	for _, item := range items {
		out, err := s.translateItem(ctx, item, target)
		if err != nil {
			log.Printf("[ERROR] failed to translate item %s: %v", item.ID, err)
			metrics.Translations.WithLabelValues("failed").Inc()
			translated = append(translated, Item{Item: item})
			continue
		}

		metrics.Translations.WithLabelValues("ok").Inc()
		translated = append(translated, out)
	}

	return translated, nil
}

// TranslateDocuments переводит новости в том виде, в каком их прислал клиент.
// Меняются только title и description, остальные поля документа проходят как есть.
// Если переводить не нужно или нечем, документы возвращаются без изменений.
func (s *Service) TranslateDocuments(ctx context.Context, docs []json.RawMessage, target string) ([]json.RawMessage, error) {
	if skip, err := s.skip(target); skip {
		return docs, err
	}

	translated := make([]json.RawMessage, 0, len(docs))
	for i, doc := range docs {
		out, err := s.translateDocument(ctx, doc, target)
		if err != nil {
			log.Printf("[ERROR] failed to translate document %d: %v", i, err)
			metrics.Translations.WithLabelValues("failed").Inc()
			translated = append(translated, doc)
			continue
		}

		metrics.Translations.WithLabelValues("ok").Inc()
		translated = append(translated, out)
	}

	return translated, nil
}

// skip == true значит, что переводить не нужно: переводчик недоступен (err != nil)
// или target совпадает с языком источников
func (s *Service) skip(target string) (bool, error) {
	if !s.Available() {
		return true, ErrUnavailable
	}

	return target == s.sourceLang, nil
}

func (s *Service) translateItem(ctx context.Context, item model.Item, target string) (Item, error) {
	description := lo.FromPtr(item.Description)

	title, translatedDescription, err := s.translateText(ctx, item.Title, description, target)
	if err != nil {
		return Item{}, err
	}

	out := Item{Item: item}
	if item.Title != "" {
		out.TitleOriginal = lo.ToPtr(item.Title)
		out.Title = title
	}
	if description != "" {
		out.DescriptionOriginal = lo.ToPtr(description)
		out.Description = lo.ToPtr(translatedDescription)
	}

	return out, nil
}

func (s *Service) translateDocument(ctx context.Context, doc json.RawMessage, target string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	title, description := stringField(fields, "title"), stringField(fields, "description")
	if title == "" && description == "" {
		return doc, nil
	}

	translatedTitle, translatedDescription, err := s.translateText(ctx, title, description, target)
	if err != nil {
		return nil, err
	}

	if title != "" {
		setTranslated(fields, "title", title, translatedTitle)
	}
	if description != "" {
		setTranslated(fields, "description", description, translatedDescription)
	}

	return json.Marshal(fields)
}

// Все или ничего: при ошибке на описании заголовок тоже не подменяется.
// Пустые строки не переводятся.
func (s *Service) translateText(ctx context.Context, title, description, target string) (string, string, error) {
	var err error

	if title != "" {
		if title, err = s.translator.Translate(ctx, title, s.sourceLang, target); err != nil {
			return "", "", err
		}
	}

	if description != "" {
		if description, err = s.translator.Translate(ctx, description, s.sourceLang, target); err != nil {
			return "", "", err
		}
	}

	return title, description, nil
}

// Строковое значение поля, для отсутствующих и нестроковых полей пустая строка
func stringField(fields map[string]json.RawMessage, key string) string {
	var value string
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &value)
	}

	return value
}

// Кладет перевод в key, а исходный текст в key_original.
// Оригинал от прошлого перевода не затирается.
func setTranslated(fields map[string]json.RawMessage, key, original, translated string) {
	originalKey := key + "_original"
	if stringField(fields, originalKey) == "" {
		fields[originalKey] = jsonString(original)
	}

	fields[key] = jsonString(translated)
}

func jsonString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
