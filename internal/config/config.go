package config

import (
	"fmt"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
)

// Backend хранилища новостей
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSnapshot = "snapshot"
)

// Конфиг процесса. Хранится в hcl, любое поле можно переопределить переменной окружения.
// Настройки источников (сабреддиты, ленты, ключевые слова) сюда не входят,
// они лежат в отдельном json документе и меняются через API.
type Config struct {
	HTTPAddr string `hcl:"http_addr" env:"HTTP_ADDR" default:":8000"`

	StoreBackend string `hcl:"store_backend" env:"STORE_BACKEND" default:"sqlite"`
	DatabaseDSN  string `hcl:"database_dsn" env:"DATABASE_DSN" default:"news.db"`
	SnapshotPath string `hcl:"snapshot_path" env:"SNAPSHOT_PATH" default:"cache.json"`
	SettingsPath string `hcl:"settings_path" env:"SETTINGS_PATH" default:"config.json"`
	// Сколько храним новости, если в настройках не задан cache_ttl_hours
	NewsTTL time.Duration `hcl:"news_ttl" env:"NEWS_TTL" default:"72h"`

	FetchTimeout      time.Duration `hcl:"fetch_timeout" env:"FETCH_TIMEOUT" default:"10s"`
	ArxivTimeout      time.Duration `hcl:"arxiv_timeout" env:"ARXIV_TIMEOUT" default:"15s"`
	UserAgent         string        `hcl:"user_agent" env:"USER_AGENT" default:"NewsAggregator/1.0"`
	RedditBaseURL     string        `hcl:"reddit_base_url" env:"REDDIT_BASE_URL" default:"https://www.reddit.com"`
	HackerNewsBaseURL string        `hcl:"hackernews_base_url" env:"HACKERNEWS_BASE_URL" default:"https://hn.algolia.com"`
	ArxivBaseURL      string        `hcl:"arxiv_base_url" env:"ARXIV_BASE_URL" default:"https://export.arxiv.org"`

	TranslateSourceLang string `hcl:"translate_source_lang" env:"TRANSLATE_SOURCE_LANG" default:"en"`
	OpenAIKey           string `hcl:"openai_key" env:"OPENAI_KEY"`
	OpenAIBaseURL       string `hcl:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIModel         string `hcl:"openai_model" env:"OPENAI_MODEL" default:"gpt-3.5-turbo"`

	// Телеграм опционален: без токена нотификатор и бот не запускаются
	TelegramBotToken     string        `hcl:"telegram_bot_token" env:"TELEGRAM_BOT_TOKEN"`
	TelegramChannelID    int64         `hcl:"telegram_channel_id" env:"TELEGRAM_CHANNEL_ID"`
	NotificationInterval time.Duration `hcl:"notification_interval" env:"NOTIFICATION_INTERVAL" default:"5m"`
	// Новости старше этого окна в канал не отправляются
	NotificationWindow time.Duration `hcl:"notification_window" env:"NOTIFICATION_WINDOW" default:"24h"`
	// Язык канала. Пустой - постим без перевода.
	TelegramLang string `hcl:"telegram_lang" env:"TELEGRAM_LANG"`
}

// Пути, где по умолчанию ищем конфиги
var DefaultFiles = []string{"./config.hcl", "./config.local.hcl"}

// Load читает конфиг из hcl файлов и переменных окружения с префиксом NEWSAGG.
// Отсутствующие файлы пропускаются.
func Load(files ...string) (Config, error) {
	var cfg Config

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "NEWSAGG",
		// Флаги не разбираем, иначе падают тесты с их -test.* аргументами
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendPostgres, BackendSnapshot:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	if c.NewsTTL <= 0 {
		return fmt.Errorf("news_ttl must be positive, got %s", c.NewsTTL)
	}

	return nil
}

// Включен ли телеграм
func (c Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChannelID != 0
}
