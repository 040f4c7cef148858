package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/prompt"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

const geminiDefaultModel = "gemini-2.5-flash"

// Gemini generates replies through the Google GenAI SDK.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int32
	logger    *zap.SugaredLogger
}

func NewGemini(ctx context.Context, cfg utils.GenerationConfig, logger *zap.SugaredLogger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(cfg.Timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = geminiDefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Gemini{client: client, model: model, maxTokens: int32(maxTokens), logger: logger}, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

func (g *Gemini) Generate(ctx context.Context, system string, turns []prompt.Turn) (string, error) {
	config := &genai.GenerateContentConfig{MaxOutputTokens: g.maxTokens}
	if strings.TrimSpace(system) != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(turns), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	return checkReply(resp.Text())
}

func geminiContents(turns []prompt.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return contents
}
