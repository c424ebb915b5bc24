package fetcher

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"github.com/samber/lo"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/metrics"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/model"
)

// Интерфейс источника. Реализован адаптерами из пакета source.
type Source interface {
	Name() model.SourceType
	// Никогда не возвращает ошибку наружу: ошибки каналов лежат в ChannelResult
	Fetch(ctx context.Context, settings model.Settings) []model.ChannelResult
}

// Структура сборщика
type Fetcher struct {
	// Источники в порядке регистрации, в этом же порядке склеиваем результаты
	sources []Source
}

func NewFetcher(sources ...Source) *Fetcher {
	return &Fetcher{sources: sources}
}

// Отчет о последнем сборе: что упало и почему
type Report struct {
	Channels []model.ChannelResult
}

func (r Report) Failures() []model.ChannelResult {
	return lo.Filter(r.Channels, func(result model.ChannelResult, _ int) bool {
		return result.Failed()
	})
}

// FetchAll опрашивает все источники параллельно и ждет, пока отработают все.
// Упавший канал или даже паника внутри адаптера не ломают общий сбор,
// просто этот вклад будет пустым.
func (f *Fetcher) FetchAll(ctx context.Context, settings model.Settings) ([]model.Item, Report) {
	var wg sync.WaitGroup
	perSource := make([][]model.ChannelResult, len(f.sources))

	for i, src := range f.sources {
		wg.Add(1)

		go func(i int, source Source) {
			defer wg.Done()
			perSource[i] = f.fetchSource(ctx, source, settings)
		}(i, src)
	}

	wg.Wait()

	var (
		report Report
		items  []model.Item
	)

	for _, results := range perSource {
		for _, result := range results {
			report.Channels = append(report.Channels, result)

			status := "ok"
			if result.Failed() {
				status = "failed"
			}
			metrics.ChannelFetches.WithLabelValues(string(result.Source), status).Inc()
			metrics.ItemsFetched.WithLabelValues(string(result.Source)).Add(float64(len(result.Items)))

			items = append(items, result.Items...)
		}
	}

	// Один и тот же id мог прийти из разных каналов, оставляем первый
	items = lo.UniqBy(items, func(item model.Item) string { return item.ID })
	model.SortNewestFirst(items)

	if failures := report.Failures(); len(failures) > 0 {
		log.Printf("[WARN] fetched %d items, %d of %d channels failed", len(items), len(failures), len(report.Channels))
	} else {
		log.Printf("[INFO] fetched %d items from %d channels", len(items), len(report.Channels))
	}

	return items, report
}

// В процессе работы адаптера может случиться паника, перехватываем ее,
// чтобы не уронить остальные источники и весь процесс
func (f *Fetcher) fetchSource(ctx context.Context, source Source, settings model.Settings) (results []model.ChannelResult) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[ERROR] panic in source %s recovered: %v\n%s", source.Name(), p, string(debug.Stack()))

			results = []model.ChannelResult{{
				Source:  source.Name(),
				Channel: string(source.Name()),
				Err:     fmt.Errorf("source %s panicked: %v", source.Name(), p),
			}}
		}
	}()

	return source.Fetch(ctx, settings)
}
