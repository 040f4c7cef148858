package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/prompt"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com/v1"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-3-haiku-20240307"
)

// Anthropic calls the Messages API.
type Anthropic struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    httpDoer
	logger    *zap.SugaredLogger
}

func NewAnthropic(cfg utils.GenerationConfig, logger *zap.SugaredLogger) *Anthropic {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = anthropicBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Anthropic{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		model:     model,
		maxTokens: maxTokens,
		client:    newHTTPClient(cfg.Timeout),
		logger:    logger,
	}
}

func (a *Anthropic) Name() string { return ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorEnvelope struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Anthropic) Generate(ctx context.Context, system string, turns []prompt.Turn) (string, error) {
	messages := make([]anthropicMessage, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, anthropicMessage{Role: role, Content: turn.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("x-api-key", a.apiKey)
	request.Header.Set("anthropic-version", anthropicVersion)

	response, err := a.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("call anthropic api: %w", err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", buildAnthropicError(response.StatusCode, respBody)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}

	a.logger.Debugw("anthropic reply", "id", apiResp.ID, "stop_reason", apiResp.StopReason,
		"input_tokens", apiResp.Usage.InputTokens, "output_tokens", apiResp.Usage.OutputTokens)

	// Only the first block counts; a non-text first block is an empty reply.
	if len(apiResp.Content) == 0 || apiResp.Content[0].Type != "text" {
		return "", ErrEmptyReply
	}
	return checkReply(apiResp.Content[0].Text)
}

func buildAnthropicError(statusCode int, body []byte) error {
	var envelope anthropicErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		msg := strings.TrimSpace(envelope.Error.Message)
		if envelope.Error.Type != "" && msg != "" {
			return fmt.Errorf("anthropic api error (%d, %s): %s", statusCode, envelope.Error.Type, msg)
		}
		if msg != "" {
			return fmt.Errorf("anthropic api error (%d): %s", statusCode, msg)
		}
	}

	snippet := truncateSnippet(body)
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	return fmt.Errorf("anthropic api error (%d): %s", statusCode, snippet)
}
