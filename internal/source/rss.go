package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/SlyMarbo/rss"
	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

const (
	rssMaxEntries      = 10
	rssDescriptionLen  = 300
	rssIDHashHexLength = 16
)

// RSS клиент для пользовательских лент
type RSS struct {
	http    *HTTPClient
	timeout time.Duration
	now     func() time.Time
}

func NewRSS(client *HTTPClient, timeout time.Duration) *RSS {
	return &RSS{
		http:    client,
		timeout: timeout,
		now:     time.Now,
	}
}

func (s *RSS) Name() model.SourceType {
	return model.SourceBlog
}

func (s *RSS) Fetch(ctx context.Context, settings model.Settings) []model.ChannelResult {
	results := make([]model.ChannelResult, 0, len(settings.RSSFeeds))

	for _, feed := range settings.RSSFeeds {
		items, err := s.fetchFeed(ctx, feed)
		if err != nil {
			log.Printf("[ERROR] rss %s: %v", feed.Name, err)
		}

		results = append(results, model.ChannelResult{
			Source:  model.SourceBlog,
			Channel: feed.Name,
			Items:   items,
			Err:     err,
		})
	}

	return results
}

func (s *RSS) fetchFeed(ctx context.Context, feed model.Feed) ([]model.Item, error) {
	body, err := s.http.get(ctx, feed.URL, s.timeout)
	if err != nil {
		return nil, err
	}

	parsed, err := rss.Parse(body)
	if err != nil {
		return nil, err
	}

	entries := parsed.Items
	if len(entries) > rssMaxEntries {
		entries = entries[:rssMaxEntries]
	}

	var (
		fetchedAt = s.now().UTC()
		items     = make([]model.Item, 0, len(entries))
		seen      = make(map[string]struct{}, len(entries))
		meta      = feedEntryMeta(body)
	)

	for _, entry := range entries {
		id := FeedItemID(entry.Link, feed.Name)
		// Одинаковые ссылка и лента - это одна и та же новость
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		published := meta[entry.Link].published
		if published == nil && entry.DateValid {
			published = lo.ToPtr(entry.Date.UTC())
		}

		summary := entry.Summary
		if summary == "" {
			summary = entry.Content
		}

		items = append(items, model.Item{
			ID:          id,
			Source:      model.SourceBlog,
			SourceName:  feed.Name,
			Title:       entry.Title,
			Description: model.OptionalString(truncate(plainText(summary), rssDescriptionLen)),
			URL:         entry.Link,
			Author:      meta[entry.Link].author,
			PublishedAt: published,
			FetchedAt:   fetchedAt,
		})
	}

	return items, nil
}

// FeedItemID строит стабильный id новости из ленты: sha256 от ссылки и имени ленты.
// Между перезапусками процесса id не меняется.
func FeedItemID(link, feedName string) string {
	sum := sha256.Sum256([]byte(link + feedName))
	return model.NewID(model.SourceBlog, hex.EncodeToString(sum[:])[:rssIDHashHexLength])
}

// То, чего нет в rss.Item: автор записи и дата из Atom <published>
// (rss парсер для Atom берет <updated>)
type entryMeta struct {
	author    *string
	published *time.Time
}

// Добирает метаданные записей из той же ленты через gofeed, ключ - ссылка на запись.
// Если gofeed ленту не разобрал, метаданных просто нет.
func feedEntryMeta(body []byte) map[string]entryMeta {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	meta := make(map[string]entryMeta, len(parsed.Items))
	for _, entry := range parsed.Items {
		if _, ok := meta[entry.Link]; ok {
			continue
		}

		var m entryMeta
		if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			m.author = model.OptionalString(strings.TrimSpace(entry.Authors[0].Name))
		}
		if entry.PublishedParsed != nil {
			m.published = lo.ToPtr(entry.PublishedParsed.UTC())
		}

		meta[entry.Link] = m
	}

	return meta
}

// readability склеивает текст соседних блоков без пробела
var blockEnd = regexp.MustCompile(`(?i)(</(?:p|div|h[1-6]|li|blockquote|pre|td|th|tr)>|<br\s*/?>)`)

// Многие ленты кладут в summary html. Достаем из него текст через readability,
// обычный текст оставляем как есть.
func plainText(summary string) string {
	summary = strings.TrimSpace(summary)
	if !strings.Contains(summary, "<") {
		return summary
	}

	doc, err := readability.FromReader(strings.NewReader(blockEnd.ReplaceAllString(summary, " $1")), nil)
	if err != nil || strings.TrimSpace(doc.TextContent) == "" {
		return summary
	}

	return strings.Join(strings.Fields(doc.TextContent), " ")
}
