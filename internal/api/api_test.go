package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/fetcher"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/refresh"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/source"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/storage"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/translate"
)

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ArXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2406.00001v1</id>
    <published>2024-05-30T10:00:00Z</published>
    <title>Older paper</title>
    <summary>Older.</summary>
    <author><name>Ada Lovelace</name></author>
    <link href="http://arxiv.org/abs/2406.00001v1" rel="alternate" type="text/html"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2406.00002v1</id>
    <published>2024-05-31T10:00:00Z</published>
    <title>Newer paper</title>
    <summary>Newer.</summary>
    <author><name>Alan Turing</name></author>
    <link href="http://arxiv.org/abs/2406.00002v1" rel="alternate" type="text/html"/>
  </entry>
</feed>`

const blogFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Blog</title><link>https://blog.example.com</link><description>d</description>
<item><title>Post 1</title><link>https://blog.example.com/1</link><description>One</description><pubDate>Fri, 31 May 2024 09:00:00 +0000</pubDate></item>
<item><title>Post 2</title><link>https://blog.example.com/2</link><description>Two</description></item>
</channel></rss>`

// Фейковый upstream сразу за все четыре источника
func newUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		switch {
		case strings.HasPrefix(r.URL.Path, "/r/"):
			fmt.Fprint(w, `{"data":{"children":[
				{"data":{"id":"r1","title":"Reddit one","selftext":"body","permalink":"/r/x/1","author":"alice","created_utc":1717149600}},
				{"data":{"id":"r2","title":"Reddit two","selftext":"","permalink":"/r/x/2","author":"bob","created_utc":1717146000}}
			]}}`)
		case r.URL.Path == "/api/v1/search_by_date":
			fmt.Fprint(w, `{"hits":[
				{"objectID":"h1","title":"HN one","url":"https://example.com/h1","author":"pg","created_at":"2024-05-31T08:00:00Z"},
				{"objectID":"h2","title":"Ask HN","url":"","author":"dang","created_at":"2024-05-31T07:00:00Z"}
			]}`)
		case r.URL.Path == "/api/query":
			fmt.Fprint(w, arxivFeed)
		case r.URL.Path == "/feed.xml":
			fmt.Fprint(w, blogFeed)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

// Переводчик-заглушка: дописывает язык перед текстом
type prefixBackend struct {
	available bool
}

func (b prefixBackend) Available() bool { return b.available }

func (b prefixBackend) Translate(_ context.Context, text, _, to string) (string, error) {
	return to + ":" + text, nil
}

func newTranslator(available bool) *translate.Service {
	return translate.NewService(prefixBackend{available: available}, "en")
}

type testEnv struct {
	server   *httptest.Server
	store    *storage.SnapshotStorage
	upstream *atomic.Int32
	hub      *Hub
}

func newTestEnv(t *testing.T, translator Translator) *testEnv {
	t.Helper()

	upstream, hits := newUpstream(t)

	dir := t.TempDir()
	store := storage.NewSnapshotStorage(filepath.Join(dir, "cache.json"))
	settings := storage.NewSettingsStorage(filepath.Join(dir, "config.json"))
	require.NoError(t, settings.Save(context.Background(), model.Settings{
		Subreddits:             []string{"MachineLearning"},
		RSSFeeds:               []model.Feed{{Name: "Example Blog", URL: upstream.URL + "/feed.xml"}},
		HackerNewsKeywords:     []string{"AI"},
		RefreshIntervalMinutes: 15,
	}))

	client := source.NewHTTPClient(&http.Client{}, "NewsAggregator/test")
	agg := fetcher.NewFetcher(
		source.NewReddit(client, upstream.URL, time.Second),
		source.NewHackerNews(client, upstream.URL, time.Second),
		source.NewRSS(client, time.Second),
		source.NewArxiv(client, upstream.URL, time.Second),
	)

	svc := refresh.NewService(store, settings, agg, 72*time.Hour)
	hub := NewHub()
	svc.Subscribe(hub)

	static := fstest.MapFS{
		"index.html": {Data: []byte("<html>news</html>")},
		"app.js":     {Data: []byte("console.log(1)")},
	}

	srv := httptest.NewServer(NewRouter(NewHandler(svc, settings, translator), hub, static))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &testEnv{server: srv, store: store, upstream: hits, hub: hub}
}

type newsBody struct {
	Items       []model.Item `json:"items"`
	LastUpdated *time.Time   `json:"last_updated"`
	Total       int          `json:"total"`
}

func (e *testEnv) getNews(t *testing.T, method, path string) newsBody {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body newsBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body
}

func TestGetNewsRefreshesEmptyStore(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	body := env.getNews(t, http.MethodGet, "/api/news")

	assert.EqualValues(t, 4, env.upstream.Load())
	assert.Equal(t, 8, body.Total)
	assert.Len(t, body.Items, 8)
	require.NotNil(t, body.LastUpdated)

	seen := map[string]bool{}
	for _, item := range body.Items {
		assert.False(t, seen[item.ID], "duplicate id %s", item.ID)
		seen[item.ID] = true

		src, ok := model.SourceFromID(item.ID)
		require.True(t, ok)
		assert.Equal(t, src, item.Source)
	}
}

func TestGetNewsServesFreshCacheWithoutFetching(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))
	ctx := context.Background()

	refreshedAt := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Microsecond)
	require.NoError(t, env.store.WriteBatch(ctx, []model.Item{{
		ID:        "hn_cached",
		Source:    model.SourceHackerNews,
		Title:     "cached",
		URL:       "https://example.com/cached",
		FetchedAt: refreshedAt,
	}}))
	require.NoError(t, env.store.SetLastRefresh(ctx, refreshedAt))

	body := env.getNews(t, http.MethodGet, "/api/news?force_refresh=false")

	assert.Zero(t, env.upstream.Load())
	assert.Equal(t, 1, body.Total)
	require.NotNil(t, body.LastUpdated)
	assert.True(t, refreshedAt.Equal(*body.LastUpdated))
}

func TestGetNewsSourceFilter(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	body := env.getNews(t, http.MethodGet, "/api/news?source=arxiv")

	require.Len(t, body.Items, 2)
	assert.Equal(t, 2, body.Total)
	for _, item := range body.Items {
		assert.Equal(t, model.SourceArxiv, item.Source)
	}
	assert.Equal(t, "arxiv_2406.00002v1", body.Items[0].ID)
	assert.Equal(t, "arxiv_2406.00001v1", body.Items[1].ID)
}

func TestGetNewsUnknownSourceIsEmpty(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	body := env.getNews(t, http.MethodGet, "/api/news?source=twitter")

	assert.NotNil(t, body.Items)
	assert.Empty(t, body.Items)
	assert.Zero(t, body.Total)
}

func TestGetNewsRejectsInvalidForceRefresh(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	resp, err := http.Get(env.server.URL + "/api/news?force_refresh=maybe")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, env.upstream.Load())
}

func TestRefreshAlwaysFetches(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	first := env.getNews(t, http.MethodPost, "/api/refresh")
	second := env.getNews(t, http.MethodPost, "/api/refresh")

	assert.EqualValues(t, 8, env.upstream.Load())
	assert.Equal(t, 8, second.Total)
	require.NotNil(t, first.LastUpdated)
	require.NotNil(t, second.LastUpdated)
	assert.False(t, second.LastUpdated.Before(*first.LastUpdated))
}

func TestConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	resp, err := http.Post(env.server.URL+"/api/config", "application/json",
		strings.NewReader(`{"subreddits":["golang"],"hackernews_keywords":["LLM"],"refresh_interval_minutes":30}`))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	resp, err = http.Get(env.server.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()

	var settings model.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	assert.Equal(t, []string{"golang"}, settings.Subreddits)
	assert.Empty(t, settings.RSSFeeds)
	assert.Equal(t, []string{"LLM"}, settings.HackerNewsKeywords)
	assert.Equal(t, 30, settings.RefreshIntervalMinutes)
}

func TestConfigRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	resp, err := http.Post(env.server.URL+"/api/config", "application/json", strings.NewReader(`{"subreddits":`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreset(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	resp, err := http.Get(env.server.URL + "/api/config/preset")
	require.NoError(t, err)
	defer resp.Body.Close()

	var settings model.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	assert.Equal(t, model.Preset(), settings)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))
	env.getNews(t, http.MethodGet, "/api/news")

	resp, err := http.Get(env.server.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats struct {
		TotalItems int            `json:"total_items"`
		BySource   map[string]int `json:"by_source"`
		TTLDays    float64        `json:"ttl_days"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))

	assert.Equal(t, 8, stats.TotalItems)
	assert.Equal(t, map[string]int{"reddit": 2, "hackernews": 2, "blog": 2, "arxiv": 2}, stats.BySource)
	assert.Equal(t, 3.0, stats.TTLDays)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name       string
		translator Translator
		body       string
		want       string
	}{
		{
			name:       "default target",
			translator: newTranslator(true),
			body:       `{"items":[{"id":"hn_1","source":"hackernews","title":"Hello","url":"u","fetched_at":"2024-06-01T12:00:00Z"}]}`,
			want: `{"items":[{"id":"hn_1","source":"hackernews","title":"ru:Hello","url":"u",
				"fetched_at":"2024-06-01T12:00:00Z","title_original":"Hello"}]}`,
		},
		{
			name:       "unavailable",
			translator: newTranslator(false),
			body:       `{"items":[{"id":"hn_1","source":"hackernews","title":"Hello","url":"u","fetched_at":"2024-06-01T12:00:00Z"}],"target_lang":"de"}`,
			want:       `{"error":"Translator not available","items":[{"id":"hn_1","source":"hackernews","title":"Hello","url":"u","fetched_at":"2024-06-01T12:00:00Z"}]}`,
		},
		{
			name:       "no items",
			translator: newTranslator(true),
			body:       `{"target_lang":"de"}`,
			want:       `{"items":[]}`,
		},
		{
			name:       "source language returns documents unchanged",
			translator: newTranslator(true),
			body: `{"target_lang":"en","items":[{"id":"hn_1","title":"ru:Hello","title_original":"Hello",
				"description":"ru:Body","description_original":"Body","score":42,"fetched_at":"2024-06-01T12:00:00.123456"}]}`,
			want: `{"items":[{"id":"hn_1","title":"ru:Hello","title_original":"Hello",
				"description":"ru:Body","description_original":"Body","score":42,"fetched_at":"2024-06-01T12:00:00.123456"}]}`,
		},
		{
			name:       "keeps originals from earlier translation",
			translator: newTranslator(true),
			body:       `{"target_lang":"ru","items":[{"id":"hn_1","title":"ru:Hello","title_original":"Hello","score":42}]}`,
			want:       `{"items":[{"id":"hn_1","title":"ru:ru:Hello","title_original":"Hello","score":42}]}`,
		},
		{
			name:       "timestamps without zone pass through",
			translator: newTranslator(true),
			body: `{"target_lang":"de","items":[{"id":"rss_1","title":"Post","description":null,
				"published_at":"2024-06-01T11:00:00","fetched_at":"2024-06-01T12:00:00.123456"}]}`,
			want: `{"items":[{"id":"rss_1","title":"de:Post","title_original":"Post","description":null,
				"published_at":"2024-06-01T11:00:00","fetched_at":"2024-06-01T12:00:00.123456"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.translator)

			resp, err := http.Post(env.server.URL+"/api/translate", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestStaticAndServiceRoutes(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	tests := []struct {
		path        string
		contains    string
		contentType string
	}{
		{"/", "<html>news</html>", "text/html"},
		{"/static/app.js", "console.log(1)", ""},
		{"/health", `"status":"ok"`, "application/json"},
		{"/metrics", "newsagg_http_requests_total", ""},
	}

	// Первый запрос, чтобы в метриках точно появился счетчик запросов
	env.getNews(t, http.MethodGet, "/api/news?source=reddit")

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(raw), tt.contains)
			if tt.contentType != "" {
				assert.Contains(t, resp.Header.Get("Content-Type"), tt.contentType)
			}
		})
	}
}

func TestLiveClientsGetRefreshEvents(t *testing.T) {
	env := newTestEnv(t, newTranslator(true))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Ждем, пока хаб зарегистрирует соединение
	require.Eventually(t, func() bool {
		env.hub.mu.Lock()
		defer env.hub.mu.Unlock()
		return len(env.hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	env.getNews(t, http.MethodPost, "/api/refresh")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type           string    `json:"type"`
		RefreshedAt    time.Time `json:"refreshed_at"`
		Items          int       `json:"items"`
		FailedChannels int       `json:"failed_channels"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))

	assert.Equal(t, "refresh", msg.Type)
	assert.Equal(t, 8, msg.Items)
	assert.Zero(t, msg.FailedChannels)
	assert.False(t, msg.RefreshedAt.IsZero())
}
