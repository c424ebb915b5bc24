package source

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

const (
	// Больше трех ключевых слов не опрашиваем, чтобы не упереться в лимиты Algolia
	hackerNewsMaxKeywords = 3
	hackerNewsPageSize    = 10
	hackerNewsItemURL     = "https://news.ycombinator.com/item?id="
)

// HackerNews ищет свежие истории по ключевым словам через Algolia API
type HackerNews struct {
	http    *HTTPClient
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

func NewHackerNews(client *HTTPClient, baseURL string, timeout time.Duration) *HackerNews {
	return &HackerNews{
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		now:     time.Now,
	}
}

func (h *HackerNews) Name() model.SourceType {
	return model.SourceHackerNews
}

// История, найденная по нескольким словам, попадает в выдачу один раз:
// в канал того слова, по которому ее нашли первой.
func (h *HackerNews) Fetch(ctx context.Context, settings model.Settings) []model.ChannelResult {
	keywords := settings.HackerNewsKeywords
	if len(keywords) > hackerNewsMaxKeywords {
		keywords = keywords[:hackerNewsMaxKeywords]
	}

	var (
		results = make([]model.ChannelResult, 0, len(keywords))
		seen    = make(map[string]struct{})
	)

	for _, keyword := range keywords {
		items, err := h.search(ctx, keyword)
		if err != nil {
			log.Printf("[ERROR] hackernews %q: %v", keyword, err)
		}

		items = lo.Filter(items, func(item model.Item, _ int) bool {
			if _, ok := seen[item.ID]; ok {
				return false
			}
			seen[item.ID] = struct{}{}

			return true
		})

		results = append(results, model.ChannelResult{
			Source:  model.SourceHackerNews,
			Channel: keyword,
			Items:   items,
			Err:     err,
		})
	}

	return results
}

type algoliaResponse struct {
	Hits []algoliaHit `json:"hits"`
}

type algoliaHit struct {
	ObjectID  string `json:"objectID"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
}

func (h *HackerNews) search(ctx context.Context, keyword string) ([]model.Item, error) {
	query := url.Values{}
	query.Set("query", keyword)
	query.Set("tags", "story")
	query.Set("hitsPerPage", fmt.Sprint(hackerNewsPageSize))

	var resp algoliaResponse
	if err := h.http.getJSON(ctx, h.baseURL+"/api/v1/search_by_date?"+query.Encode(), h.timeout, &resp); err != nil {
		return nil, err
	}

	fetchedAt := h.now().UTC()

	return lo.Map(resp.Hits, func(hit algoliaHit, _ int) model.Item {
		link := hit.URL
		if link == "" {
			link = hackerNewsItemURL + hit.ObjectID
		}

		return model.Item{
			ID:          model.NewID(model.SourceHackerNews, hit.ObjectID),
			Source:      model.SourceHackerNews,
			SourceName:  "Hacker News",
			Title:       hit.Title,
			URL:         link,
			Author:      model.OptionalString(hit.Author),
			PublishedAt: parseTime(hit.CreatedAt),
			FetchedAt:   fetchedAt,
		}
	}), nil
}

// Время в формате RFC 3339, nil если разобрать не удалось
func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}

	t = t.UTC()
	return &t
}
