package model

import "time"

// RSS лента, которую пользователь добавил в конфиг
type Feed struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Пользовательские настройки источников.
// Хранятся отдельным json документом и заменяются целиком.
type Settings struct {
	Subreddits         []string `json:"subreddits"`
	RSSFeeds           []Feed   `json:"rss_feeds"`
	HackerNewsKeywords []string `json:"hackernews_keywords"`
	// Время жизни новостей в хранилище, 0 - брать значение из конфига процесса
	CacheTTLHours int `json:"cache_ttl_hours,omitempty"`
	// Как часто можно заново ходить в источники
	RefreshIntervalMinutes int `json:"refresh_interval_minutes"`
}

// Настройки по умолчанию, если документа еще нет
func DefaultSettings() Settings {
	return Settings{
		Subreddits:             []string{"MachineLearning", "artificial"},
		RSSFeeds:               []Feed{},
		HackerNewsKeywords:     []string{"AI", "GPT"},
		RefreshIntervalMinutes: 15,
	}
}

// Авторский пресет каналов
func Preset() Settings {
	return Settings{
		Subreddits: []string{
			"MachineLearning",
			"artificial",
			"ArtificialIntelligence",
			"LocalLLaMA",
			"singularity",
		},
		RSSFeeds: []Feed{
			{Name: "Google AI Blog", URL: "https://blog.google/technology/ai/rss/"},
			{Name: "HuggingFace Blog", URL: "https://huggingface.co/blog/feed.xml"},
			{Name: "AWS ML Blog", URL: "https://aws.amazon.com/blogs/machine-learning/feed/"},
		},
		HackerNewsKeywords:     []string{"AI", "GPT", "LLM", "machine learning", "deep learning"},
		CacheTTLHours:          36,
		RefreshIntervalMinutes: 15,
	}
}

func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalMinutes) * time.Minute
}

// TTL из настроек или fallback, если в настройках он не задан
func (s Settings) CacheTTL(fallback time.Duration) time.Duration {
	if s.CacheTTLHours > 0 {
		return time.Duration(s.CacheTTLHours) * time.Hour
	}

	return fallback
}

// Подставляет значения по умолчанию для незаполненных полей документа
func (s Settings) Normalize() Settings {
	if s.Subreddits == nil {
		s.Subreddits = []string{}
	}
	if s.RSSFeeds == nil {
		s.RSSFeeds = []Feed{}
	}
	if s.HackerNewsKeywords == nil {
		s.HackerNewsKeywords = []string{}
	}
	if s.RefreshIntervalMinutes <= 0 {
		s.RefreshIntervalMinutes = DefaultSettings().RefreshIntervalMinutes
	}

	return s
}
