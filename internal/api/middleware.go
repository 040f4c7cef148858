package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/internal/metrics"
)

const identityKey = "identity"

// requireAuth rejects requests without a valid cookie or Bearer token.
func (h *Handler) requireAuth(c *gin.Context) {
	identity, err := h.auth.Authenticate(c.Request)
	if err != nil {
		writeError(c, http.StatusUnauthorized, codeUnauthorized, err)
		c.Abort()
		return
	}
	c.Set(identityKey, identity)
	c.Next()
}

func identityFrom(c *gin.Context) *auth.Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return &auth.Identity{}
	}
	identity, _ := value.(*auth.Identity)
	if identity == nil {
		return &auth.Identity{}
	}
	return identity
}

func requestLogger(logger *zap.SugaredLogger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveHTTP(route, strconv.Itoa(status))

		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency", time.Since(started),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Errorw("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warnw("request", fields...)
		default:
			logger.Debugw("request", fields...)
		}
	}
}
