package model

import (
	"sort"
	"strings"
	"time"
)

// Тип источника, из которого пришла новость
type SourceType string

const (
	SourceReddit     SourceType = "reddit"
	SourceHackerNews SourceType = "hackernews"
	SourceBlog       SourceType = "blog"
	SourceArxiv      SourceType = "arxiv"
)

// Префиксы id, по ним однозначно восстанавливается источник
var idPrefixes = map[SourceType]string{
	SourceReddit:     "reddit_",
	SourceHackerNews: "hn_",
	SourceBlog:       "rss_",
	SourceArxiv:      "arxiv_",
}

// Все источники в порядке регистрации адаптеров
func AllSources() []SourceType {
	return []SourceType{SourceReddit, SourceHackerNews, SourceBlog, SourceArxiv}
}

// Собирает id новости из нативного id источника
func NewID(source SourceType, nativeID string) string {
	return idPrefixes[source] + nativeID
}

// Восстанавливает источник по префиксу id
func SourceFromID(id string) (SourceType, bool) {
	for source, prefix := range idPrefixes {
		if strings.HasPrefix(id, prefix) {
			return source, true
		}
	}

	return "", false
}

// Новость в едином формате, который отдают все адаптеры
type Item struct {
	ID     string     `json:"id"`
	Source SourceType `json:"source"`
	// Человекочитаемое имя: сабреддит, имя ленты или фиксированная строка
	SourceName  string  `json:"source_name"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	URL         string  `json:"url"`
	Author      *string `json:"author"`
	// Время публикации в источнике, если источник его отдает
	PublishedAt *time.Time `json:"published_at"`
	// Время, когда мы забрали новость
	FetchedAt time.Time `json:"fetched_at"`
}

// Ключ сортировки: время публикации, а если его нет, то время получения
func (i Item) SortTime() time.Time {
	if i.PublishedAt != nil {
		return *i.PublishedAt
	}

	return i.FetchedAt
}

// Стабильная сортировка: сначала самые свежие
func SortNewestFirst(items []Item) {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].SortTime().After(items[b].SortTime())
	})
}

// Результат опроса одного канала (сабреддит, ключевое слово, лента).
// Err == nil значит канал отработал успешно.
type ChannelResult struct {
	Source  SourceType
	Channel string
	Items   []Item
	Err     error
}

// Failed сообщает, что канал не отработал
func (r ChannelResult) Failed() bool {
	return r.Err != nil
}

// Возвращает указатель на строку или nil, если строка пустая
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// Статистика хранилища
type Stats struct {
	TotalItems int            `json:"total_items"`
	BySource   map[string]int `json:"by_source"`
}
