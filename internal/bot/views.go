package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"
	"github.com/tomakado/containers/set"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/botkit"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/botkit/markup"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/refresh"
)

// Сколько новостей показывает /news
const newsLimit = 5

type NewsReader interface {
	News(ctx context.Context, source model.SourceType, force bool) (refresh.Result, error)
}

func ViewCmdStart() botkit.ViewFunc {
	const help = "Свежие новости про AI из Reddit, Hacker News, блогов и arXiv\\.\n\n" +
		"/news \\- последние новости\n" +
		"/news reddit\\|hackernews\\|blog\\|arxiv \\- новости одного источника\n" +
		"/refresh \\- обновить кеш \\(только для админов\\)"

	return func(_ context.Context, api *tgbotapi.BotAPI, update tgbotapi.Update) error {
		reply := tgbotapi.NewMessage(update.Message.Chat.ID, help)
		reply.ParseMode = tgbotapi.ModeMarkdownV2

		_, err := api.Send(reply)
		return err
	}
}

// ViewCmdNews отвечает последними новостями. Аргумент команды - необязательный фильтр по источнику.
func ViewCmdNews(news NewsReader) botkit.ViewFunc {
	known := set.New(model.AllSources()...)

	return func(ctx context.Context, api *tgbotapi.BotAPI, update tgbotapi.Update) error {
		source := model.SourceType(strings.ToLower(strings.TrimSpace(update.Message.CommandArguments())))

		if source != "" && !known.Contains(source) {
			names := lo.Map(model.AllSources(), func(s model.SourceType, _ int) string { return string(s) })
			_, err := api.Send(tgbotapi.NewMessage(
				update.Message.Chat.ID,
				fmt.Sprintf("Неизвестный источник %q, доступны: %s", source, strings.Join(names, ", ")),
			))
			return err
		}

		res, err := news.News(ctx, source, false)
		if err != nil {
			return err
		}

		return sendNews(api, update.Message.Chat.ID, res)
	}
}

// ViewCmdRefresh принудительно обновляет кеш. Оборачивается в middleware.AdminOnly.
func ViewCmdRefresh(news NewsReader) botkit.ViewFunc {
	return func(ctx context.Context, api *tgbotapi.BotAPI, update tgbotapi.Update) error {
		res, err := news.News(ctx, "", true)
		if err != nil {
			return err
		}

		_, err = api.Send(tgbotapi.NewMessage(
			update.Message.Chat.ID,
			fmt.Sprintf("Кеш обновлен, новостей: %d", len(res.Items)),
		))
		return err
	}
}

func sendNews(api *tgbotapi.BotAPI, chatID int64, res refresh.Result) error {
	if len(res.Items) == 0 {
		_, err := api.Send(tgbotapi.NewMessage(chatID, "Новостей пока нет"))
		return err
	}

	reply := tgbotapi.NewMessage(chatID, formatNews(lo.Slice(res.Items, 0, newsLimit)))
	reply.ParseMode = tgbotapi.ModeMarkdownV2
	reply.DisableWebPagePreview = true

	_, err := api.Send(reply)
	return err
}

func formatNews(items []model.Item) string {
	lines := lo.Map(items, func(item model.Item, i int) string {
		return fmt.Sprintf(
			"%d\\. [%s](%s)\n_%s_",
			i+1,
			markup.EscapeForMarkdown(item.Title),
			escapeLinkURL(item.URL),
			markup.EscapeForMarkdown(item.SourceName),
		)
	})

	return strings.Join(lines, "\n\n")
}

// Внутри (...) ссылки MarkdownV2 требует экранировать только ")" и "\"
func escapeLinkURL(u string) string {
	return strings.NewReplacer(`\`, `\\`, ")", `\)`).Replace(u)
}
