package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

const (
	defaultClientTimeout = 30 * time.Second
	limitExceededCode    = "LIMIT_EXCEEDED"
)

// APIError is a non-success response from the chat server.
type APIError struct {
	Status  int
	Code    string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("chat api error (%d, %s): %s", e.Status, e.Code, e.Details)
	}
	return fmt.Sprintf("chat api error (%d, %s)", e.Status, e.Code)
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// TurnClient talks to the chat server over HTTP. It implements Sender.
type TurnClient struct {
	baseURL string
	token   string
	client  httpDoer
}

func NewTurnClient(baseURL string, timeout time.Duration) *TurnClient {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &TurnClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token sent with every request.
func (c *TurnClient) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

type chatRequest struct {
	PersonaID    string `json:"personaId"`
	Message      string `json:"message"`
	MessageCount int    `json:"messageCount"`
}

type chatResponse struct {
	Replies           []string `json:"replies"`
	RemainingMessages int      `json:"remainingMessages"`
	Error             string   `json:"error,omitempty"`
}

func (c *TurnClient) SendTurn(ctx context.Context, personaID, text string, count int) (*TurnResponse, error) {
	var resp chatResponse
	err := c.do(ctx, http.MethodPost, "/api/chat", chatRequest{PersonaID: personaID, Message: text, MessageCount: count}, &resp)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusTooManyRequests && apiErr.Code == limitExceededCode {
			return &TurnResponse{LimitExceeded: true, Remaining: 0}, nil
		}
		return nil, err
	}

	return &TurnResponse{Replies: resp.Replies, Remaining: resp.RemainingMessages}, nil
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      models.User `json:"user"`
}

// Login authenticates and keeps the returned token for later calls.
func (c *TurnClient) Login(ctx context.Context, identifier, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", loginRequest{Identifier: identifier, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

type ConversationResponse struct {
	Messages          []models.Message `json:"messages"`
	RemainingMessages int              `json:"remainingMessages"`
}

func (c *TurnClient) Conversation(ctx context.Context, personaID string) (*ConversationResponse, error) {
	var resp ConversationResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+personaID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *TurnClient) ResetConversation(ctx context.Context, personaID string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+personaID, nil, nil)
}

func (c *TurnClient) Characters(ctx context.Context) ([]models.Persona, error) {
	var resp struct {
		Characters []models.Persona `json:"characters"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/characters", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Characters, nil
}

// PremiumInterest records a click on the premium offer.
func (c *TurnClient) PremiumInterest(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/premium-interest", nil, nil)
}

func (c *TurnClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Code = envelope.Error
			apiErr.Details = envelope.Details
		}
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
