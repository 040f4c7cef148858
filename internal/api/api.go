// Package api exposes the chat service over HTTP and WebSocket.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/analytics"
	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/internal/client"
	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/metrics"
	"github.com/wuwenbin0122/wwb.chat/internal/persona"
	"github.com/wuwenbin0122/wwb.chat/internal/quota"
	"github.com/wuwenbin0122/wwb.chat/internal/turn"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
)

// Error codes of the JSON error envelope.
const (
	codeUnauthorized   = "UNAUTHORIZED"
	codeInvalidRequest = "INVALID_REQUEST"
	codeNotFound       = "NOT_FOUND"
	codeConflict       = "CONFLICT"
	codeLimitExceeded  = "LIMIT_EXCEEDED"
	codeInternal       = "INTERNAL"
)

type Dependencies struct {
	Auth          *auth.Service
	Processor     *turn.Processor
	Conversations conversation.Store
	Personas      *persona.Catalog
	Quota         *quota.Service
	// Sequencer paces WebSocket fragment delivery.
	Sequencer     *client.Sequencer
	Tracker       *analytics.Tracker
	Metrics       *metrics.Metrics
	Logger        *zap.SugaredLogger
	SecureCookies bool
}

type Handler struct {
	auth          *auth.Service
	users         users.Repository
	processor     *turn.Processor
	conversations conversation.Store
	personas      *persona.Catalog
	quota         *quota.Service
	sequencer     *client.Sequencer
	tracker       *analytics.Tracker
	metrics       *metrics.Metrics
	logger        *zap.SugaredLogger
	secureCookies bool
	upgrader      websocket.Upgrader
}

func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	sequencer := deps.Sequencer
	if sequencer == nil {
		sequencer = client.NewSequencer(nil)
	}

	return &Handler{
		auth:          deps.Auth,
		users:         deps.Auth.Users(),
		processor:     deps.Processor,
		conversations: deps.Conversations,
		personas:      deps.Personas,
		quota:         deps.Quota,
		sequencer:     sequencer,
		tracker:       deps.Tracker,
		metrics:       deps.Metrics,
		logger:        logger,
		secureCookies: deps.SecureCookies,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// NewRouter builds the gin engine with middleware, health, metrics and API routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(h.logger, h.metrics), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	h.RegisterRoutes(router)
	return router
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", h.handleRegister)
	authGroup.POST("/login", h.handleLogin)
	authGroup.POST("/logout", h.handleLogout)
	authGroup.GET("/me", h.requireAuth, h.handleMe)

	apiGroup.GET("/characters", h.handleCharacters)
	apiGroup.GET("/characters/:id/image", h.handleCharacterImage)

	secured := apiGroup.Group("", h.requireAuth)
	secured.POST("/chat", h.handleChat)
	secured.GET("/chat/ws", h.handleChatWebsocket)
	secured.GET("/conversations", h.handleConversations)
	secured.GET("/conversations/:personaId", h.handleConversation)
	secured.DELETE("/conversations/:personaId", h.handleResetConversation)
	secured.POST("/premium-interest", h.handlePremiumInterest)
	secured.GET("/profile", h.handleGetProfile)
	secured.PUT("/profile", h.handleUpdateProfile)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, err)
		return
	}

	result, err := h.auth.Register(c.Request.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Nickname: req.Nickname,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrPasswordTooWeak):
			writeError(c, http.StatusBadRequest, codeInvalidRequest, err)
		case errors.Is(err, auth.ErrUserExists), errors.Is(err, auth.ErrEmailExists):
			writeError(c, http.StatusConflict, codeConflict, err)
		default:
			h.logger.Errorw("register failed", "username", req.Username, "error", err)
			writeError(c, http.StatusInternalServerError, codeInternal, errors.New("failed to register user"))
		}
		return
	}

	auth.SetCookie(c.Writer, result.Token, h.auth.TTL(), h.secureCookies)
	c.JSON(http.StatusCreated, newAuthResponse(result))
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, err)
		return
	}

	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, errors.New("identifier and password are required"))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), auth.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(c, http.StatusUnauthorized, codeUnauthorized, err)
			return
		}
		h.logger.Errorw("login failed", "identifier", req.Identifier, "error", err)
		writeError(c, http.StatusInternalServerError, codeInternal, errors.New("failed to login"))
		return
	}

	auth.SetCookie(c.Writer, result.Token, h.auth.TTL(), h.secureCookies)
	c.JSON(http.StatusOK, newAuthResponse(result))
}

func (h *Handler) handleLogout(c *gin.Context) {
	auth.ClearCookie(c.Writer, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) handleMe(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			writeError(c, http.StatusUnauthorized, codeUnauthorized, auth.ErrUnauthenticated)
			return
		}
		writeError(c, http.StatusInternalServerError, codeInternal, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user.Sanitize()})
}

func newAuthResponse(result *auth.AuthResult) gin.H {
	return gin.H{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Format(time.RFC3339),
		"user":      result.User,
	}
}

func writeError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, gin.H{
		"error":   code,
		"details": err.Error(),
	})
}
