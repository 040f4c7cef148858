package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/internal/client"
	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/metrics"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/persona"
	"github.com/wuwenbin0122/wwb.chat/internal/prompt"
	"github.com/wuwenbin0122/wwb.chat/internal/quota"
	"github.com/wuwenbin0122/wwb.chat/internal/turn"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
)

type stubBackend struct {
	reply string
	err   error
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Generate(context.Context, string, []prompt.Turn) (string, error) {
	return s.reply, s.err
}

type testServer struct {
	router  *gin.Engine
	backend *stubBackend
	ledger  *quota.MemoryLedger
	store   *conversation.MemoryStore
	users   *users.MemoryRepository
	quota   *quota.Service
}

func setupTestServer(t *testing.T, dailyLimit int, catalog *persona.Catalog) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := users.NewMemoryRepository()
	authService, err := auth.NewService("test-secret", time.Hour, repo)
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	ledger := quota.NewMemoryLedger()
	quotaService := quota.NewService(ledger, dailyLimit, time.UTC)
	store := conversation.NewMemoryStore()
	backend := &stubBackend{reply: "안녕ㅋㅋ|||뭐해?"}
	m := metrics.New()

	if catalog == nil {
		catalog = persona.New(models.Persona{ID: "yuna", Name: "유나", Birth: "2001-11-20"})
	}

	processor, err := turn.NewProcessor(turn.Dependencies{
		Quota:         quotaService,
		Conversations: store,
		Personas:      catalog,
		Users:         repo,
		Backend:       backend,
		Metrics:       m,
	})
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}

	handler := NewHandler(Dependencies{
		Auth:          authService,
		Processor:     processor,
		Conversations: store,
		Personas:      catalog,
		Quota:         quotaService,
		Sequencer:     client.NewSequencer(nil).WithDelay(func(string) time.Duration { return 0 }),
		Metrics:       m,
	})

	return &testServer{
		router:  NewRouter(handler),
		backend: backend,
		ledger:  ledger,
		store:   store,
		users:   repo,
		quota:   quotaService,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = newJSONRequest(t, method, path, body)
	} else {
		var err error
		req, err = http.NewRequest(method, path, nil)
		if err != nil {
			t.Fatalf("failed to create request: %v", err)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// register creates an account and returns its id and token.
func (s *testServer) register(t *testing.T, username string) (string, string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	decodeBody(t, rec.Body.Bytes(), &resp)
	return resp.User.ID, resp.Token
}

func TestAuthRegisterAndLogin(t *testing.T) {
	s := setupTestServer(t, 15, nil)

	rec := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), auth.CookieName+"=") {
		t.Fatalf("expected auth cookie on register, got %q", rec.Header().Get("Set-Cookie"))
	}

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "secret123",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for duplicate user, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"identifier": "alice",
		"password":   "secret123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var loginResp map[string]any
	decodeBody(t, rec.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("expected token in login response")
	}

	rec = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 from me, got %d", rec.Code)
	}
	var meResp struct {
		User models.User `json:"user"`
	}
	decodeBody(t, rec.Body.Bytes(), &meResp)
	if meResp.User.Username != "alice" || meResp.User.Nickname != "alice" {
		t.Fatalf("unexpected me response %+v", meResp.User)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := setupTestServer(t, 15, nil)
	s.register(t, "bob")

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"identifier": "bob@example.com",
		"password":   "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	s := setupTestServer(t, 15, nil)

	rec := s.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("expected expired cookie, got %q", rec.Header().Get("Set-Cookie"))
	}
}

func TestChatRequiresAuth(t *testing.T) {
	s := setupTestServer(t, 15, nil)

	rec := s.do(t, http.MethodPost, "/api/chat", "", map[string]any{"personaId": "yuna", "message": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["error"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %q", body["error"])
	}
}

func TestChatTurnAndConversation(t *testing.T) {
	s := setupTestServer(t, 15, nil)
	_, token := s.register(t, "minsu")

	rec := s.do(t, http.MethodPost, "/api/chat", token, map[string]any{
		"personaId":    "yuna",
		"message":      "안녕 뭐해",
		"messageCount": 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var chatResp struct {
		Replies           []string `json:"replies"`
		RemainingMessages int      `json:"remainingMessages"`
	}
	decodeBody(t, rec.Body.Bytes(), &chatResp)
	if len(chatResp.Replies) != 2 || chatResp.Replies[0] != "안녕ㅋㅋ" || chatResp.Replies[1] != "뭐해?" {
		t.Fatalf("unexpected replies %v", chatResp.Replies)
	}
	if chatResp.RemainingMessages != 14 {
		t.Fatalf("expected 14 remaining, got %d", chatResp.RemainingMessages)
	}

	rec = s.do(t, http.MethodGet, "/api/conversations/yuna", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var convResp struct {
		Messages          []models.Message `json:"messages"`
		RemainingMessages int              `json:"remainingMessages"`
	}
	decodeBody(t, rec.Body.Bytes(), &convResp)
	if len(convResp.Messages) != 3 || convResp.RemainingMessages != 14 {
		t.Fatalf("unexpected conversation %+v", convResp)
	}
	if convResp.Messages[0].Role != models.RoleUser || convResp.Messages[0].Content != "안녕 뭐해" {
		t.Fatalf("unexpected first message %+v", convResp.Messages[0])
	}
}

func TestChatLimitExceeded(t *testing.T) {
	s := setupTestServer(t, 1, nil)
	_, token := s.register(t, "jiho")

	body := map[string]any{"personaId": "yuna", "message": "hi"}
	if rec := s.do(t, http.MethodPost, "/api/chat", token, body); rec.Code != http.StatusOK {
		t.Fatalf("expected first turn to succeed, got %d", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/chat", token, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	var resp map[string]any
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp["error"] != "LIMIT_EXCEEDED" || resp["remainingMessages"] != float64(0) {
		t.Fatalf("unexpected limit body %v", resp)
	}
}

func TestChatErrors(t *testing.T) {
	s := setupTestServer(t, 15, nil)
	userID, token := s.register(t, "seoyeon")

	rec := s.do(t, http.MethodPost, "/api/chat", token, map[string]any{"personaId": "nobody", "message": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/chat", token, map[string]any{"personaId": "yuna", "message": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	s.backend.err = errors.New("upstream timeout")
	rec = s.do(t, http.MethodPost, "/api/chat", token, map[string]any{"personaId": "yuna", "message": "hi"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}

	if _, ok := s.ledger.Record(userID, s.quota.Today()); ok {
		t.Fatalf("expected no quota record after failed turns")
	}
	messages, err := s.store.Get(context.Background(), conversation.Key{UserID: userID, PersonaID: "yuna"})
	if err != nil || len(messages) != 0 {
		t.Fatalf("expected empty conversation, got %v (%v)", messages, err)
	}
}

func TestConversationSummaries(t *testing.T) {
	s := setupTestServer(t, 15, nil)
	userID, token := s.register(t, "haneul")

	long := strings.Repeat("가", 60)
	err := s.store.Append(context.Background(), conversation.Key{UserID: userID, PersonaID: "yuna"}, []models.Message{
		{Role: models.RoleAssistant, Content: long, Timestamp: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	err = s.store.Append(context.Background(), conversation.Key{UserID: userID, PersonaID: "ghost"}, []models.Message{
		{Role: models.RoleUser, Content: "hello", Timestamp: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	rec := s.do(t, http.MethodGet, "/api/conversations", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Conversations []conversationSummary `json:"conversations"`
	}
	decodeBody(t, rec.Body.Bytes(), &resp)
	if len(resp.Conversations) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(resp.Conversations))
	}

	byID := map[string]conversationSummary{}
	for _, summary := range resp.Conversations {
		byID[summary.PersonaID] = summary
	}
	if got := byID["yuna"]; got.PersonaName != "유나" || got.LastMessage != strings.Repeat("가", 50) || got.PersonaImage != "/api/characters/yuna/image" {
		t.Fatalf("unexpected yuna summary %+v", got)
	}
	if got := byID["ghost"]; got.PersonaName != unknownPersonaName {
		t.Fatalf("expected unknown persona name, got %q", got.PersonaName)
	}
}

func TestResetConversationKeepsQuota(t *testing.T) {
	s := setupTestServer(t, 15, nil)
	userID, token := s.register(t, "dahye")

	if rec := s.do(t, http.MethodPost, "/api/chat", token, map[string]any{"personaId": "yuna", "message": "hi"}); rec.Code != http.StatusOK {
		t.Fatalf("expected turn to succeed, got %d", rec.Code)
	}

	rec := s.do(t, http.MethodDelete, "/api/conversations/yuna", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	messages, _ := s.store.Get(context.Background(), conversation.Key{UserID: userID, PersonaID: "yuna"})
	if len(messages) != 0 {
		t.Fatalf("expected reset conversation, got %d messages", len(messages))
	}
	record, _ := s.ledger.Record(userID, s.quota.Today())
	if record.MessageCount != 1 {
		t.Fatalf("expected quota count 1 after reset, got %d", record.MessageCount)
	}
}

func TestPremiumInterest(t *testing.T) {
	s := setupTestServer(t, 15, nil)
	userID, token := s.register(t, "yerin")

	for i := 0; i < 2; i++ {
		if rec := s.do(t, http.MethodPost, "/api/premium-interest", token, nil); rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
	}

	record, ok := s.ledger.Record(userID, s.quota.Today())
	if !ok || record.PremiumClicks != 2 || record.MessageCount != 0 {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestProfileUpdate(t *testing.T) {
	s := setupTestServer(t, 15, nil)
	_, token := s.register(t, "taeyang")

	rec := s.do(t, http.MethodPut, "/api/profile", token, map[string]any{
		"profile":  map[string]any{"age": 27, "gender": "male", "occupation": "developer"},
		"nickname": " 태양 ",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/profile", token, nil)
	var resp struct {
		Profile  *models.UserProfile `json:"profile"`
		Nickname string              `json:"nickname"`
	}
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp.Nickname != "태양" || resp.Profile == nil || resp.Profile.Age == nil || *resp.Profile.Age != 27 {
		t.Fatalf("unexpected profile %+v", resp)
	}

	rec = s.do(t, http.MethodPut, "/api/profile", token, map[string]any{
		"profile": map[string]any{"gender": "robot"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid gender, got %d", rec.Code)
	}
}

func TestCharactersAndImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "meta.json"), `{"version":"1","members":[{"dir":"yuna"}]}`)
	writeFile(t, filepath.Join(dir, "yuna", "info.json"), `{"name":"유나","birth":"2001-11-20"}`)
	writeFile(t, filepath.Join(dir, "yuna", "profile.png"), "\x89PNG\r\n\x1a\n")

	catalog, err := persona.Load(dir)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	s := setupTestServer(t, 15, catalog)

	rec := s.do(t, http.MethodGet, "/api/characters", "", nil)
	var list struct {
		Characters []models.Persona `json:"characters"`
	}
	decodeBody(t, rec.Body.Bytes(), &list)
	if len(list.Characters) != 1 || list.Characters[0].ID != "yuna" {
		t.Fatalf("unexpected characters %+v", list.Characters)
	}

	rec = s.do(t, http.MethodGet, "/api/characters/yuna/image", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=86400" {
		t.Fatalf("unexpected cache control %q", got)
	}

	rec = s.do(t, http.MethodGet, "/api/characters/nobody/image", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupTestServer(t, 15, nil)

	if rec := s.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wwbchat_http_requests_total") {
		t.Fatalf("expected http request metric in output")
	}
}

func TestPreview(t *testing.T) {
	if got := preview("짧은 말", 50); got != "짧은 말" {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := preview("abcdef", 3); got != "abc" {
		t.Fatalf("unexpected preview %q", got)
	}
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}

	req, err := http.NewRequest(method, path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
