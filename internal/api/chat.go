package api

import (
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/wuwenbin0122/wwb.chat/internal/analytics"
	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/quota"
	"github.com/wuwenbin0122/wwb.chat/internal/turn"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
)

const (
	summaryPreviewRunes = 50
	unknownPersonaName  = "알 수 없음"
)

type chatRequest struct {
	PersonaID    string `json:"personaId"`
	Message      string `json:"message"`
	MessageCount int    `json:"messageCount"`
}

func (h *Handler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, err)
		return
	}
	if req.MessageCount <= 0 {
		req.MessageCount = 1
	}

	result, err := h.processor.Process(c.Request.Context(), turn.Request{
		Identity:  identityFrom(c),
		PersonaID: req.PersonaID,
		Text:      req.Message,
		BatchSize: req.MessageCount,
	})
	if err != nil {
		h.writeTurnError(c, err)
		return
	}

	if result.Status == turn.StatusLimitExceeded {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":             codeLimitExceeded,
			"remainingMessages": 0,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"replies":           result.Fragments,
		"remainingMessages": int(result.Remaining),
	})
}

func (h *Handler) writeTurnError(c *gin.Context, err error) {
	kind := turn.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("turn failed", "kind", kind, "error", err)
		writeError(c, status, kind.Code(), errors.New("failed to process message"))
		return
	}
	writeError(c, status, kind.Code(), err)
}

func statusForKind(kind turn.Kind) int {
	switch kind {
	case turn.KindUnauthenticated:
		return http.StatusUnauthorized
	case turn.KindInvalidInput:
		return http.StatusBadRequest
	case turn.KindNotFound:
		return http.StatusNotFound
	case turn.KindGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type conversationSummary struct {
	PersonaID       string    `json:"personaId"`
	PersonaName     string    `json:"personaName"`
	PersonaImage    string    `json:"personaImage"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	MessageCount    int       `json:"messageCount"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (h *Handler) handleConversations(c *gin.Context) {
	conversations, err := h.conversations.List(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		h.logger.Errorw("list conversations failed", "error", err)
		writeError(c, http.StatusInternalServerError, codeInternal, errors.New("failed to list conversations"))
		return
	}

	summaries := make([]conversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summaries = append(summaries, h.summarize(conv))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (h *Handler) summarize(conv models.Conversation) conversationSummary {
	summary := conversationSummary{
		PersonaID:       conv.PersonaID,
		PersonaName:     unknownPersonaName,
		LastMessageTime: conv.UpdatedAt,
		MessageCount:    conv.MessageCount,
		UpdatedAt:       conv.UpdatedAt,
	}
	if p, err := h.personas.Get(conv.PersonaID); err == nil {
		summary.PersonaName = p.Name
		summary.PersonaImage = p.ImageURL
	}
	if last, ok := conv.LastMessage(); ok {
		summary.LastMessage = preview(last.Content, summaryPreviewRunes)
		if !last.Timestamp.IsZero() {
			summary.LastMessageTime = last.Timestamp
		}
	}
	return summary
}

// preview keeps at most n runes of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func (h *Handler) handleConversation(c *gin.Context) {
	ctx := c.Request.Context()
	identity := identityFrom(c)

	user, err := h.users.GetByID(ctx, identity.UserID)
	if err != nil {
		h.writeUserError(c, err)
		return
	}

	messages, err := h.conversations.Get(ctx, conversation.Key{UserID: identity.UserID, PersonaID: c.Param("personaId")})
	if err != nil {
		h.logger.Errorw("load conversation failed", "persona_id", c.Param("personaId"), "error", err)
		writeError(c, http.StatusInternalServerError, codeInternal, errors.New("failed to load conversation"))
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	remaining, err := h.quota.Remaining(ctx, quota.Account{UserID: user.ID, Privileged: user.IsSuper}, h.quota.Today())
	if err != nil {
		writeError(c, http.StatusInternalServerError, codeInternal, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":          messages,
		"remainingMessages": int(remaining),
	})
}

// handleResetConversation clears the message log. The daily quota is untouched.
func (h *Handler) handleResetConversation(c *gin.Context) {
	key := conversation.Key{UserID: identityFrom(c).UserID, PersonaID: c.Param("personaId")}
	if err := h.conversations.Reset(c.Request.Context(), key); err != nil {
		h.logger.Errorw("reset conversation failed", "persona_id", key.PersonaID, "error", err)
		writeError(c, http.StatusInternalServerError, codeInternal, errors.New("failed to reset conversation"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) handlePremiumInterest(c *gin.Context) {
	userID := identityFrom(c).UserID

	clicks, err := h.quota.RecordInterest(c.Request.Context(), userID, h.quota.Today())
	if err != nil {
		h.logger.Errorw("record premium interest failed", "user_id", userID, "error", err)
		writeError(c, http.StatusInternalServerError, codeInternal, errors.New("failed to record interest"))
		return
	}

	h.tracker.Track(userID, analytics.EventPremiumClick, map[string]any{"clicks": clicks})
	c.JSON(http.StatusOK, gin.H{"recorded": true, "clicks": clicks})
}

func (h *Handler) writeUserError(c *gin.Context, err error) {
	if errors.Is(err, users.ErrNotFound) {
		writeError(c, http.StatusUnauthorized, codeUnauthorized, err)
		return
	}
	h.logger.Errorw("load user failed", "error", err)
	writeError(c, http.StatusInternalServerError, codeInternal, errors.New("failed to load user"))
}
