package storage

import (
	"log"
	"time"
)

// Фиксированная ширина и UTC: строки сравниваются так же, как время.
// На этом держится удаление по fetched_at и сортировка в sql.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Разбирает сохраненное время. Кроме своего формата понимает RFC 3339
// и время без зоны (так его писали старые версии кеша). Битое значение - nil.
func parseTimestamp(value string) *time.Time {
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}

	log.Printf("[WARN] malformed stored timestamp %q, treating as absent", value)

	return nil
}
