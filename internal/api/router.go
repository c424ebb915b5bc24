package api

import (
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	apiBasePath    = "/api"
	newsPath       = "/news"
	refreshPath    = "/refresh"
	configPath     = "/config"
	presetSubPath  = "/preset"
	statsPath      = "/stats"
	translatePath  = "/translate"
	staticBasePath = "/static"
	indexFile      = "index.html"
)

// Обновление может идти до таймаута самого медленного адаптера,
// поэтому таймаут на запрос с запасом
const requestTimeout = 60 * time.Second

// NewRouter собирает http api. static - корень фронтенда с index.html,
// live - обработчик websocket подписки на обновления.
func NewRouter(h *Handler, live http.Handler, static fs.FS) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(measure)

	// websocket живет дольше любого таймаута, поэтому вне группы
	r.Handle("/ws", live)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route(apiBasePath, func(r chi.Router) {
			r.Get(newsPath, h.GetNews)
			r.Post(refreshPath, h.Refresh)
			r.Get(configPath, h.GetConfig)
			r.Post(configPath, h.SaveConfig)
			r.Get(configPath+presetSubPath, h.GetPreset)
			r.Get(statsPath, h.GetStats)
			r.Post(translatePath, h.Translate)
		})

		r.Get("/", serveIndex(static))
		r.Handle(staticBasePath+"/*", http.StripPrefix(staticBasePath+"/", http.FileServer(http.FS(static))))

		r.Get("/health", h.Health)
		r.Handle("/metrics", promhttp.Handler())
	})

	return r
}

func serveIndex(static fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		content, err := fs.ReadFile(static, indexFile)
		if err != nil {
			log.Printf("[ERROR] failed to read %s: %v", indexFile, err)
			http.Error(w, "index not found", http.StatusNotFound)
			return
		}

		w.Header().Set(headerContentType, "text/html; charset=utf-8")
		_, _ = w.Write(content)
	}
}
