package botkit

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Сколько может обрабатываться одна команда. С запасом на принудительное обновление кеша.
const defaultUpdateTimeout = 30 * time.Second

type Bot struct {
	// Инстанс апи телеграма
	api *tgbotapi.BotAPI
	// Команда -> view
	cmdViews      map[string]ViewFunc
	updateTimeout time.Duration
}

// ViewFunc реагирует на одну команду. update - любой эвент от телеграма,
// api - клиент, через который отвечаем пользователю.
type ViewFunc func(ctx context.Context, api *tgbotapi.BotAPI, update tgbotapi.Update) error

func New(api *tgbotapi.BotAPI) *Bot {
	return &Bot{
		api:           api,
		cmdViews:      make(map[string]ViewFunc),
		updateTimeout: defaultUpdateTimeout,
	}
}

// Регистрация view для команды без слеша, например "news"
func (b *Bot) RegisterCmdView(cmd string, view ViewFunc) {
	b.cmdViews[cmd] = view
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case update := <-updates:
			updateCtx, updateCancel := context.WithTimeout(ctx, b.updateTimeout)
			b.handleUpdate(updateCtx, update)
			updateCancel()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Роутит команду в соответствующую view
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	// Паника в одной view не должна ронять бота
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[ERROR] panic recovered: %v\n%s", p, string(debug.Stack()))
		}
	}()

	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	view, ok := b.cmdViews[update.Message.Command()]
	if !ok {
		return
	}

	if err := view(ctx, b.api, update); err != nil {
		log.Printf("[ERROR] failed to handle update: %v", err)

		if _, err := b.api.Send(
			tgbotapi.NewMessage(update.Message.Chat.ID, "internal error"),
		); err != nil {
			log.Printf("[ERROR] failed to send message: %v", err)
		}
	}
}
