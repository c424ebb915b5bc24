package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

const lastUpdatedKey = "last_updated"

// Схема совместима и с SQLite, и с PostgreSQL.
// Время храним текстом фиксированной ширины в UTC, см. timestampLayout.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS news (
		id           TEXT PRIMARY KEY,
		source       TEXT NOT NULL,
		source_name  TEXT,
		title        TEXT NOT NULL,
		description  TEXT,
		url          TEXT NOT NULL,
		author       TEXT,
		published_at TEXT,
		fetched_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT PRIMARY KEY,
		value TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_news_fetched_at ON news(fetched_at)`,
	`CREATE INDEX IF NOT EXISTS idx_news_source ON news(source)`,
}

// Хранилище новостей в sql таблице: одна строка на новость, ключ - id
type ItemStorage struct {
	db *sqlx.DB
}

func NewItemStorage(db *sqlx.DB) *ItemStorage {
	return &ItemStorage{db: db}
}

// Migrate создает таблицы и индексы, если их еще нет
func (s *ItemStorage) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

// Новости из базы, самые свежие первыми. Пустой source - все источники.
func (s *ItemStorage) Items(ctx context.Context, source model.SourceType) ([]model.Item, error) {
	query := `SELECT id, source, source_name, title, description, url, author, published_at, fetched_at FROM news`
	var args []any

	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY COALESCE(published_at, fetched_at) DESC, fetched_at DESC`

	var rows []dbItem
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select news: %w", err)
	}

	return lo.Map(rows, func(row dbItem, _ int) model.Item {
		return row.toModel()
	}), nil
}

// Вставка или замена по id, вся пачка в одной транзакции
func (s *ItemStorage) WriteBatch(ctx context.Context, items []model.Item) (err error) {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO news (id, source, source_name, title, description, url, author, published_at, fetched_at)
		VALUES (:id, :source, :source_name, :title, :description, :url, :author, :published_at, :fetched_at)
		ON CONFLICT (id) DO UPDATE SET
			source = excluded.source,
			source_name = excluded.source_name,
			title = excluded.title,
			description = excluded.description,
			url = excluded.url,
			author = excluded.author,
			published_at = excluded.published_at,
			fetched_at = excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err = stmt.ExecContext(ctx, newDBItem(item)); err != nil {
			return fmt.Errorf("upsert %s: %w", item.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Удаляет новости, полученные раньше now - ttl
func (s *ItemStorage) EvictExpired(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM news WHERE fetched_at < ?`), formatTimestamp(now.Add(-ttl)))
	if err != nil {
		return 0, fmt.Errorf("delete expired news: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(deleted), nil
}

func (s *ItemStorage) LastRefresh(ctx context.Context) (*time.Time, error) {
	var value sql.NullString

	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM metadata WHERE key = ?`), lastUpdatedKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select last_updated: %w", err)
	}

	if !value.Valid {
		return nil, nil
	}

	return parseTimestamp(value.String), nil
}

func (s *ItemStorage) SetLastRefresh(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		lastUpdatedKey,
		formatTimestamp(t),
	)
	if err != nil {
		return fmt.Errorf("upsert last_updated: %w", err)
	}

	return nil
}

func (s *ItemStorage) Stats(ctx context.Context) (model.Stats, error) {
	var rows []struct {
		Source string `db:"source"`
		Count  int    `db:"count"`
	}

	if err := s.db.SelectContext(ctx, &rows, `SELECT source, COUNT(*) AS count FROM news GROUP BY source`); err != nil {
		return model.Stats{}, fmt.Errorf("select stats: %w", err)
	}

	stats := model.Stats{BySource: make(map[string]int, len(rows))}
	for _, row := range rows {
		stats.BySource[row.Source] = row.Count
		stats.TotalItems += row.Count
	}

	return stats, nil
}

// Внутренняя модель для работы с БД, чтобы правильно мапить ее на колонки в таблице
type dbItem struct {
	ID          string         `db:"id"`
	Source      string         `db:"source"`
	SourceName  sql.NullString `db:"source_name"`
	Title       string         `db:"title"`
	Description sql.NullString `db:"description"`
	URL         string         `db:"url"`
	Author      sql.NullString `db:"author"`
	PublishedAt sql.NullString `db:"published_at"`
	FetchedAt   string         `db:"fetched_at"`
}

func newDBItem(item model.Item) dbItem {
	row := dbItem{
		ID:          item.ID,
		Source:      string(item.Source),
		SourceName:  sql.NullString{String: item.SourceName, Valid: item.SourceName != ""},
		Title:       item.Title,
		Description: nullString(item.Description),
		URL:         item.URL,
		Author:      nullString(item.Author),
		FetchedAt:   formatTimestamp(item.FetchedAt),
	}

	if item.PublishedAt != nil {
		row.PublishedAt = sql.NullString{String: formatTimestamp(*item.PublishedAt), Valid: true}
	}

	return row
}

func (row dbItem) toModel() model.Item {
	item := model.Item{
		ID:          row.ID,
		Source:      model.SourceType(row.Source),
		SourceName:  row.SourceName.String,
		Title:       row.Title,
		Description: stringPtr(row.Description),
		URL:         row.URL,
		Author:      stringPtr(row.Author),
	}

	if row.PublishedAt.Valid {
		item.PublishedAt = parseTimestamp(row.PublishedAt.String)
	}

	if fetched := parseTimestamp(row.FetchedAt); fetched != nil {
		item.FetchedAt = *fetched
	}

	return item
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}

	return lo.ToPtr(s.String)
}
