package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/refresh"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/translate"
)

// Язык перевода, если клиент его не указал
const defaultTargetLang = "ru"

type NewsService interface {
	News(ctx context.Context, source model.SourceType, force bool) (refresh.Result, error)
	Stats(ctx context.Context) (refresh.Stats, error)
}

type SettingsStore interface {
	Settings(ctx context.Context) (model.Settings, error)
	Save(ctx context.Context, settings model.Settings) error
}

type Translator interface {
	TranslateDocuments(ctx context.Context, docs []json.RawMessage, target string) ([]json.RawMessage, error)
}

type Handler struct {
	news       NewsService
	settings   SettingsStore
	translator Translator
}

func NewHandler(news NewsService, settings SettingsStore, translator Translator) *Handler {
	return &Handler{news: news, settings: settings, translator: translator}
}

type newsResponse struct {
	Items       []model.Item `json:"items"`
	LastUpdated *time.Time   `json:"last_updated"`
	Total       int          `json:"total"`
}

// GET /api/news?source=&force_refresh=
func (h *Handler) GetNews(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force_refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "force_refresh must be a boolean")
			return
		}
		force = parsed
	}

	h.respondWithNews(w, r, model.SourceType(r.URL.Query().Get("source")), force)
}

// POST /api/refresh: то же самое, что GET /api/news с force_refresh=true по всем источникам
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.respondWithNews(w, r, "", true)
}

func (h *Handler) respondWithNews(w http.ResponseWriter, r *http.Request, source model.SourceType, force bool) {
	res, err := h.news.News(r.Context(), source, force)
	if err != nil {
		log.Printf("[ERROR] failed to get news: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to get news")
		return
	}

	items := res.Items
	if items == nil {
		items = []model.Item{}
	}

	respondWithJSON(w, http.StatusOK, newsResponse{
		Items:       items,
		LastUpdated: res.LastUpdated,
		Total:       len(items),
	})
}

// GET /api/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Settings(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to load settings: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to load config")
		return
	}

	respondWithJSON(w, http.StatusOK, settings)
}

// POST /api/config: документ заменяется целиком
func (h *Handler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := decodeJSON(w, r, &settings); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid config document")
		return
	}

	if err := h.settings.Save(r.Context(), settings); err != nil {
		log.Printf("[ERROR] failed to save settings: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/config/preset
func (h *Handler) GetPreset(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, model.Preset())
}

type statsResponse struct {
	TotalItems int            `json:"total_items"`
	BySource   map[string]int `json:"by_source"`
	TTLDays    float64        `json:"ttl_days"`
}

// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.news.Stats(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to get stats: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	bySource := stats.BySource
	if bySource == nil {
		bySource = map[string]int{}
	}

	respondWithJSON(w, http.StatusOK, statsResponse{
		TotalItems: stats.TotalItems,
		BySource:   bySource,
		TTLDays:    stats.TTL.Hours() / 24,
	})
}

// Новости приходят такими, какими их отдал клиент, и так же уходят обратно:
// поля вне title и description не разбираются
type translateRequest struct {
	Items      []json.RawMessage `json:"items"`
	TargetLang string            `json:"target_lang"`
}

type translateResponse struct {
	Error string            `json:"error,omitempty"`
	Items []json.RawMessage `json:"items"`
}

// POST /api/translate
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid translate request")
		return
	}

	if req.TargetLang == "" {
		req.TargetLang = defaultTargetLang
	}

	items, err := h.translator.TranslateDocuments(r.Context(), req.Items, req.TargetLang)
	if items == nil {
		items = []json.RawMessage{}
	}

	switch {
	case errors.Is(err, translate.ErrUnavailable):
		respondWithJSON(w, http.StatusOK, translateResponse{Error: "Translator not available", Items: items})
	case err != nil:
		log.Printf("[ERROR] failed to translate: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to translate")
	default:
		respondWithJSON(w, http.StatusOK, translateResponse{Items: items})
	}
}

// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
