// Package titling derives conversation titles from user turns.
package titling

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/llm"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// MaxTitleRunes caps a generated title.
const MaxTitleRunes = 50

const promptPrefix = "请根据以下用户输入，生成一个简洁的对话标题（不超过20个字，不要包含标点符号）：\n\n"

// Generator asks a backend for a title.
type Generator interface {
	GenerateTitle(ctx context.Context, userTexts []string) (string, error)
}

// RemoteTitler delegates to the backend's title endpoint.
type RemoteTitler struct {
	generator    Generator
	defaultTitle string
}

// NewRemoteTitler creates a titler backed by the chat backend.
func NewRemoteTitler(g Generator, defaultTitle string) *RemoteTitler {
	return &RemoteTitler{generator: g, defaultTitle: defaultTitle}
}

// GenerateTitle implements controller.Titler.
func (t *RemoteTitler) GenerateTitle(ctx context.Context, userTexts []string) (string, error) {
	if len(userTexts) == 0 {
		return t.defaultTitle, nil
	}
	title, err := t.generator.GenerateTitle(ctx, userTexts)
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	return Clean(title, t.defaultTitle), nil
}

// LLMTitler generates titles locally with an LLM provider.
type LLMTitler struct {
	client       llm.Client
	model        string
	defaultTitle string
	logger       *logger.Logger
}

// NewLLMTitler creates a titler that prompts client directly.
func NewLLMTitler(client llm.Client, model, defaultTitle string, log *logger.Logger) *LLMTitler {
	return &LLMTitler{
		client:       client,
		model:        model,
		defaultTitle: defaultTitle,
		logger:       log,
	}
}

// GenerateTitle implements controller.Titler.
func (t *LLMTitler) GenerateTitle(ctx context.Context, userTexts []string) (string, error) {
	if len(userTexts) == 0 {
		return t.defaultTitle, nil
	}

	resp, err := t.client.Complete(ctx, &llm.CompletionRequest{
		Model: t.model,
		Messages: []llm.Message{
			{Role: "user", Content: Prompt(userTexts)},
		},
		MaxTokens: 64,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	t.logger.Debug("title generated",
		zap.String("provider", t.client.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return Clean(resp.Content, t.defaultTitle), nil
}

// Prompt builds the title prompt for the given user turns.
func Prompt(userTexts []string) string {
	return promptPrefix + strings.Join(userTexts, "\n")
}

// Clean trims a generated title, removes line breaks and caps its length.
// An empty result yields defaultTitle.
func Clean(title, defaultTitle string) string {
	title = strings.TrimSpace(title)
	title = strings.ReplaceAll(title, "\n", "")
	title = strings.ReplaceAll(title, "\r", "")
	if r := []rune(title); len(r) > MaxTitleRunes {
		title = string(r[:MaxTitleRunes])
	}
	if title == "" {
		return defaultTitle
	}
	return title
}
