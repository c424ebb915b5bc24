package source

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

const (
	// Свежие статьи по AI и ML, отсортированные по дате подачи
	arxivQuery          = "search_query=cat:cs.AI+OR+cat:cs.LG&start=0&max_results=20&sortBy=submittedDate&sortOrder=descending"
	arxivChannel        = "cs.AI+cs.LG"
	arxivDescriptionLen = 400
)

// Arxiv забирает свежие препринты одним фиксированным запросом
type Arxiv struct {
	http    *HTTPClient
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

func NewArxiv(client *HTTPClient, baseURL string, timeout time.Duration) *Arxiv {
	return &Arxiv{
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		now:     time.Now,
	}
}

func (a *Arxiv) Name() model.SourceType {
	return model.SourceArxiv
}

func (a *Arxiv) Fetch(ctx context.Context, _ model.Settings) []model.ChannelResult {
	items, err := a.fetch(ctx)
	if err != nil {
		log.Printf("[ERROR] arxiv: %v", err)
	}

	return []model.ChannelResult{{
		Source:  model.SourceArxiv,
		Channel: arxivChannel,
		Items:   items,
		Err:     err,
	}}
}

func (a *Arxiv) fetch(ctx context.Context) ([]model.Item, error) {
	body, err := a.http.get(ctx, a.baseURL+"/api/query?"+arxivQuery, a.timeout)
	if err != nil {
		return nil, err
	}

	// arXiv отдает Atom, gofeed в отличие от rss парсера сохраняет авторов записи
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse arxiv feed: %w", err)
	}

	fetchedAt := a.now().UTC()

	items := lo.Map(feed.Items, func(entry *gofeed.Item, _ int) model.Item {
		var author *string
		if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			author = model.OptionalString(strings.TrimSpace(entry.Authors[0].Name))
		}

		var publishedAt *time.Time
		if entry.PublishedParsed != nil {
			publishedAt = lo.ToPtr(entry.PublishedParsed.UTC())
		}

		return model.Item{
			ID:          model.NewID(model.SourceArxiv, arxivNativeID(entry.GUID)),
			Source:      model.SourceArxiv,
			SourceName:  "arXiv",
			Title:       strings.Join(strings.Fields(entry.Title), " "),
			Description: model.OptionalString(collapseNewlines(truncate(strings.TrimSpace(entry.Description), arxivDescriptionLen))),
			URL:         arxivLink(entry),
			Author:      author,
			PublishedAt: publishedAt,
			FetchedAt:   fetchedAt,
		}
	})

	return lo.UniqBy(items, func(item model.Item) string { return item.ID }), nil
}

// http://arxiv.org/abs/2401.01234v1 -> 2401.01234v1
func arxivNativeID(id string) string {
	id = strings.TrimRight(strings.TrimSpace(id), "/")
	return id[strings.LastIndex(id, "/")+1:]
}

// Ссылка на страницу статьи, а если ее нет - сам id записи
func arxivLink(entry *gofeed.Item) string {
	if entry.Link != "" {
		return entry.Link
	}

	if len(entry.Links) > 0 {
		return entry.Links[0]
	}

	return strings.TrimSpace(entry.GUID)
}
