// Package generation talks to the language model that writes persona replies.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/prompt"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"

	defaultMaxTokens   = 500
	defaultHTTPTimeout = 30 * time.Second
)

var (
	ErrEmptyReply    = errors.New("generation: backend returned no text")
	ErrMissingAPIKey = errors.New("generation: api key is required")
)

// Backend produces one raw reply for a system prompt and ordered turns.
type Backend interface {
	Name() string
	Generate(ctx context.Context, system string, turns []prompt.Turn) (string, error)
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// New builds the backend selected by cfg.Provider.
func New(ctx context.Context, cfg utils.GenerationConfig, logger *zap.SugaredLogger) (Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderAnthropic, "":
		return NewAnthropic(cfg, logger), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg, logger), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("generation: unknown provider %q", cfg.Provider)
	}
}

// checkReply rejects replies that carry no visible text.
func checkReply(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func truncateSnippet(body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	return snippet
}
