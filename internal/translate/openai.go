package translate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// Переводчик поверх chat completions openai
type OpenAITranslator struct {
	// sdk для openai
	client *openai.Client
	model  string
	// Без ключа переводчик выключен
	enabled bool
	mu      sync.Mutex
}

// baseURL можно оставить пустым, тогда используется api.openai.com
func NewOpenAITranslator(apiKey, baseURL, model string) *OpenAITranslator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	t := &OpenAITranslator{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		enabled: apiKey != "",
	}

	log.Printf("[INFO] openai translator enabled: %v", t.enabled)

	return t
}

func (t *OpenAITranslator) Available() bool {
	return t.enabled
}

func (t *OpenAITranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	// Запросы идут по одному, как и у остальных клиентов openai в проекте
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return "", ErrUnavailable
	}

	request := openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"Translate the user's text from %s to %s. Reply with the translation only, keep links and names as is.",
					from, to,
				),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: 0,
	}

	resp, err := t.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", err
	}

	// openai может вернуть несколько вариантов, берем первый
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return "", errors.New("openai returned empty translation")
	}

	return translated, nil
}
