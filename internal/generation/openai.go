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
	openAIBaseURL      = "https://openai.qiniu.com/v1"
	openAIDefaultModel = "deepseek-v3"
)

// ChatMessage mirrors OpenAI-compatible chat message payloads.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatUsage contains token usage metadata.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAI calls any OpenAI-compatible chat completions endpoint (Qiniu by default).
type OpenAI struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    httpDoer
	logger    *zap.SugaredLogger
}

func NewOpenAI(cfg utils.GenerationConfig, logger *zap.SugaredLogger) *OpenAI {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = openAIBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openAIDefaultModel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &OpenAI{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		model:     model,
		maxTokens: cfg.MaxTokens,
		client:    newHTTPClient(cfg.Timeout),
		logger:    logger,
	}
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

type chatAPIRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatAPIChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatAPIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type chatAPIResponse struct {
	ID      string          `json:"id"`
	Choices []chatAPIChoice `json:"choices"`
	Usage   *ChatUsage      `json:"usage"`
	Error   *chatAPIError   `json:"error,omitempty"`
}

func (o *OpenAI) Generate(ctx context.Context, system string, turns []prompt.Turn) (string, error) {
	promptMessages := make([]ChatMessage, 0, 1+len(turns))
	if strings.TrimSpace(system) != "" {
		promptMessages = append(promptMessages, ChatMessage{Role: "system", Content: system})
	}
	for _, turn := range turns {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "assistant"
		}
		promptMessages = append(promptMessages, ChatMessage{Role: role, Content: turn.Content})
	}

	body, err := json.Marshal(chatAPIRequest{Model: o.model, Messages: promptMessages, MaxTokens: o.maxTokens})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+o.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := o.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("call chat api: %w", err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", buildChatAPIError(response.StatusCode, respBody)
	}

	var apiResp chatAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}

	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", fmt.Errorf("chat api error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	if apiResp.Usage != nil {
		o.logger.Debugw("chat completion usage", "id", apiResp.ID, "total_tokens", apiResp.Usage.TotalTokens)
	}

	return checkReply(apiResp.Choices[0].Message.Content)
}

func buildChatAPIError(statusCode int, body []byte) error {
	var envelope struct {
		Error *chatAPIError `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		msg := strings.TrimSpace(envelope.Error.Message)
		switch {
		case envelope.Error.Code != "" && msg != "":
			return fmt.Errorf("chat api error (%d, %s): %s", statusCode, envelope.Error.Code, msg)
		case msg != "":
			return fmt.Errorf("chat api error (%d): %s", statusCode, msg)
		case envelope.Error.Code != "":
			return fmt.Errorf("chat api error (%d, %s)", statusCode, envelope.Error.Code)
		}
	}

	snippet := truncateSnippet(body)
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	return fmt.Errorf("chat api error (%d): %s", statusCode, snippet)
}
