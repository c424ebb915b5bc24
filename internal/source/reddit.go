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
	redditPageSize       = 10
	redditDescriptionLen = 300
)

// Reddit забирает горячие посты из сабреддитов
type Reddit struct {
	http    *HTTPClient
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

func NewReddit(client *HTTPClient, baseURL string, timeout time.Duration) *Reddit {
	return &Reddit{
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		now:     time.Now,
	}
}

func (r *Reddit) Name() model.SourceType {
	return model.SourceReddit
}

// Каждый сабреддит опрашивается отдельно, ошибка одного не влияет на остальные
func (r *Reddit) Fetch(ctx context.Context, settings model.Settings) []model.ChannelResult {
	results := make([]model.ChannelResult, 0, len(settings.Subreddits))

	for _, subreddit := range settings.Subreddits {
		items, err := r.fetchSubreddit(ctx, subreddit)
		if err != nil {
			log.Printf("[ERROR] reddit r/%s: %v", subreddit, err)
		}

		results = append(results, model.ChannelResult{
			Source:  model.SourceReddit,
			Channel: "r/" + subreddit,
			Items:   items,
			Err:     err,
		})
	}

	return results
}

// Ответ listing API реддита, берем только нужные поля
type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditPost `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Permalink  string  `json:"permalink"`
	Author     string  `json:"author"`
	CreatedUTC float64 `json:"created_utc"`
}

func (r *Reddit) fetchSubreddit(ctx context.Context, subreddit string) ([]model.Item, error) {
	endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", r.baseURL, url.PathEscape(subreddit), redditPageSize)

	var listing redditListing
	if err := r.http.getJSON(ctx, endpoint, r.timeout, &listing); err != nil {
		return nil, err
	}

	fetchedAt := r.now().UTC()

	items := lo.Map(listing.Data.Children, func(child redditChild, _ int) model.Item {
		post := child.Data
		published := time.Unix(int64(post.CreatedUTC), 0).UTC()

		return model.Item{
			ID:          model.NewID(model.SourceReddit, post.ID),
			Source:      model.SourceReddit,
			SourceName:  "r/" + subreddit,
			Title:       post.Title,
			Description: model.OptionalString(truncate(post.Selftext, redditDescriptionLen)),
			URL:         "https://reddit.com" + post.Permalink,
			Author:      model.OptionalString(post.Author),
			PublishedAt: &published,
			FetchedAt:   fetchedAt,
		}
	})

	return lo.UniqBy(items, func(item model.Item) string { return item.ID }), nil
}
