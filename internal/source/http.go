package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ограничение на размер ответа, чтобы кривой источник не съел память
const maxBodySize = 10 << 20

// Общий клиент для похода в источники.
// Таймаут на запрос задается через контекст для каждого канала отдельно.
type HTTPClient struct {
	client    *http.Client
	userAgent string
}

func NewHTTPClient(client *http.Client, userAgent string) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPClient{client: client, userAgent: userAgent}
}

// Забирает тело ответа. Любой статус кроме 200 считаем ошибкой.
func (c *HTTPClient) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}

	return body, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, timeout time.Duration, dst any) error {
	body, err := c.get(ctx, url, timeout)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}

	return nil
}

// Обрезает строку до limit символов (рун, а не байт)
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}

// Заменяет переносы строк на пробелы
func collapseNewlines(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
