package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/botkit/markup"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/translate"
)

type ItemProvider interface {
	Items(ctx context.Context, source model.SourceType) ([]model.Item, error)
}

type Translator interface {
	Translate(ctx context.Context, items []model.Item, target string) ([]translate.Item, error)
}

// Часть BotAPI, которая нужна нотификатору
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	// Откуда берем новости, это то же хранилище, что читает api
	items ItemProvider
	// Переводчик заголовков, nil - постим как есть
	translator Translator
	// Язык канала
	lang string
	bot  Sender
	// Интервал, с которым notifier будет проверять есть ли новые новости
	sendInterval time.Duration
	// Насколько далеко в прошлое смотрим, более старые новости не постим
	lookupTimeWindow time.Duration
	// id канала куда мы будем постить новости
	channelID int64
	now       func() time.Time

	mu sync.Mutex
	// id уже отправленных новостей и их время для сортировки. Живет в памяти,
	// после рестарта в канал может повторно попасть последняя новость из окна.
	// Новости, ушедшие из окна, отсюда удаляются.
	posted map[string]time.Time
}

func New(
	items ItemProvider,
	translator Translator,
	lang string,
	bot Sender,
	sendInterval time.Duration,
	lookupTimeWindow time.Duration,
	channelID int64,
) *Notifier {
	return &Notifier{
		items:            items,
		translator:       translator,
		lang:             lang,
		bot:              bot,
		sendInterval:     sendInterval,
		lookupTimeWindow: lookupTimeWindow,
		channelID:        channelID,
		now:              time.Now,
		posted:           make(map[string]time.Time),
	}
}

func (n *Notifier) Start(ctx context.Context) error {
	ticker := time.NewTicker(n.sendInterval)
	defer ticker.Stop()

	if err := n.SelectAndSendItem(ctx); err != nil {
		log.Printf("[ERROR] failed to send item: %v", err)
	}

	for {
		select {
		case <-ticker.C:
			// Ошибка отправки не должна останавливать нотификатор, попробуем на следующем тике
			if err := n.SelectAndSendItem(ctx); err != nil {
				log.Printf("[ERROR] failed to send item: %v", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SelectAndSendItem отправляет в канал самую свежую еще не отправленную новость из окна
func (n *Notifier) SelectAndSendItem(ctx context.Context) error {
	item, ok, err := n.next(ctx)
	if err != nil {
		return err
	}

	// Если новых новостей нет, то ничего не делаем
	if !ok {
		return nil
	}

	if err := n.sendItem(n.localize(ctx, item)); err != nil {
		return fmt.Errorf("send %s: %w", item.ID, err)
	}

	// После того, как все получилось, отмечаем новость, как отправленную
	n.mu.Lock()
	n.posted[item.ID] = item.SortTime()
	n.mu.Unlock()

	return nil
}

func (n *Notifier) next(ctx context.Context) (model.Item, bool, error) {
	items, err := n.items.Items(ctx, "")
	if err != nil {
		return model.Item{}, false, fmt.Errorf("read items: %w", err)
	}

	since := n.now().Add(-n.lookupTimeWindow)

	n.mu.Lock()
	defer n.mu.Unlock()

	n.prunePosted(items, since)

	// Хранилище отдает новости от новых к старым, так что первая подходящая и есть самая свежая
	item, ok := lo.Find(items, func(item model.Item) bool {
		_, posted := n.posted[item.ID]
		return !posted && item.SortTime().After(since)
	})

	return item, ok, nil
}

// Обновляет время отправленных новостей по хранилищу (у новостей без даты публикации
// оно сдвигается при каждом сборе) и забывает те, что вышли из окна
func (n *Notifier) prunePosted(items []model.Item, since time.Time) {
	for _, item := range items {
		if _, ok := n.posted[item.ID]; ok {
			n.posted[item.ID] = item.SortTime()
		}
	}

	for id, at := range n.posted {
		if !at.After(since) {
			delete(n.posted, id)
		}
	}
}

// Переводит новость на язык канала. Если не вышло, постим оригинал.
func (n *Notifier) localize(ctx context.Context, item model.Item) translate.Item {
	if n.translator == nil || n.lang == "" {
		return translate.Item{Item: item}
	}

	translated, err := n.translator.Translate(ctx, []model.Item{item}, n.lang)
	if err != nil && !errors.Is(err, translate.ErrUnavailable) {
		log.Printf("[ERROR] failed to translate %s: %v", item.ID, err)
	}
	if len(translated) != 1 {
		return translate.Item{Item: item}
	}

	return translated[0]
}

func (n *Notifier) sendItem(item translate.Item) error {
	msg := tgbotapi.NewMessage(n.channelID, FormatItem(item.Item))
	// Даем понять телеграм, чтобы это сообщение парсилось как markdown сообщение
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	_, err := n.bot.Send(msg)
	return err
}

// Шаблон сообщения: жирный заголовок, описание, источник и ссылка.
// Все, что приходит из источников, экранируется под MarkdownV2.
func FormatItem(item model.Item) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*%s*", markup.EscapeForMarkdown(item.Title))

	if item.Description != nil && *item.Description != "" {
		fmt.Fprintf(&b, "\n\n%s", markup.EscapeForMarkdown(*item.Description))
	}

	meta := item.SourceName
	if item.Author != nil && *item.Author != "" {
		meta += ", " + *item.Author
	}
	if meta != "" {
		fmt.Fprintf(&b, "\n\n_%s_", markup.EscapeForMarkdown(meta))
	}

	fmt.Fprintf(&b, "\n\n%s", markup.EscapeForMarkdown(item.URL))

	return b.String()
}
