package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/api"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/bot"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/bot/middleware"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/botkit"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/config"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/fetcher"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/notifier"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/refresh"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/source"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/storage"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/translate"
	"github.com/kovalyov-valentin/ai-news-aggregator/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(config.DefaultFiles...)
	if err != nil {
		log.Printf("[ERROR] failed to load config: %v", err)
		os.Exit(1)
	}

	//Graceful Shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Printf("[ERROR] failed to open store: %v", err)
		os.Exit(1)
	}
	defer closeStore()

	static, err := fs.Sub(web.Static, "static")
	if err != nil {
		log.Printf("[ERROR] failed to open static files: %v", err)
		os.Exit(1)
	}

	// Инициализируем наши зависимости
	var (
		settingsStorage = storage.NewSettingsStorage(cfg.SettingsPath)
		httpClient      = source.NewHTTPClient(&http.Client{}, cfg.UserAgent)
		newsFetcher     = fetcher.NewFetcher(
			source.NewReddit(httpClient, cfg.RedditBaseURL, cfg.FetchTimeout),
			source.NewHackerNews(httpClient, cfg.HackerNewsBaseURL, cfg.FetchTimeout),
			source.NewRSS(httpClient, cfg.FetchTimeout),
			source.NewArxiv(httpClient, cfg.ArxivBaseURL, cfg.ArxivTimeout),
		)
		newsService = refresh.NewService(store, settingsStorage, newsFetcher, cfg.NewsTTL)
		translator  = translate.NewService(
			translate.NewOpenAITranslator(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel),
			cfg.TranslateSourceLang,
		)
		hub = api.NewHub()
	)

	newsService.Subscribe(hub)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.NewHandler(newsService, settingsStorage, translator), hub, static),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.TelegramEnabled() {
		if err := startTelegram(ctx, cfg, store, newsService, translator); err != nil {
			// Телеграм опционален, api работает и без него
			log.Printf("[ERROR] failed to start telegram: %v", err)
		}
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[ERROR] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] listening on %s, store backend %s", cfg.HTTPAddr, cfg.StoreBackend)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[ERROR] failed to run server: %v", err)
		return
	}

	log.Println("server stopped")
}

// openStore открывает выбранное в конфиге хранилище новостей
func openStore(ctx context.Context, cfg config.Config) (refresh.Store, func(), error) {
	if cfg.StoreBackend == config.BackendSnapshot {
		return storage.NewSnapshotStorage(cfg.SnapshotPath), func() {}, nil
	}

	driver := "sqlite3"
	if cfg.StoreBackend == config.BackendPostgres {
		driver = "postgres"
	}

	db, err := sqlx.Connect(driver, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", driver, err)
	}

	// SQLite не любит конкурентную запись
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	itemStorage := storage.NewItemStorage(db)
	if err := itemStorage.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	return itemStorage, func() { db.Close() }, nil
}

// startTelegram запускает нотификатор канала и командного бота
func startTelegram(
	ctx context.Context,
	cfg config.Config,
	store refresh.Store,
	newsService *refresh.Service,
	translator *translate.Service,
) error {
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	channelNotifier := notifier.New(
		store,
		translator,
		cfg.TelegramLang,
		botAPI,
		cfg.NotificationInterval,
		cfg.NotificationWindow,
		cfg.TelegramChannelID,
	)

	newsBot := botkit.New(botAPI)
	newsBot.RegisterCmdView("start", bot.ViewCmdStart())
	newsBot.RegisterCmdView("news", bot.ViewCmdNews(newsService))
	newsBot.RegisterCmdView(
		"refresh",
		middleware.AdminOnly(cfg.TelegramChannelID, bot.ViewCmdRefresh(newsService)),
	)

	// Воркер notifier
	go func(ctx context.Context) {
		if err := channelNotifier.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[ERROR] failed to run notifier: %v", err)
			return
		}

		log.Println("notifier stopped")
	}(ctx)

	// Воркер бота
	go func(ctx context.Context) {
		if err := newsBot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[ERROR] failed to run bot: %v", err)
			return
		}

		log.Println("bot stopped")
	}(ctx)

	return nil
}
