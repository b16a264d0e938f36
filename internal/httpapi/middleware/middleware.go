package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/suPer8Hu/kawan-ai/internal/auth"
	"github.com/suPer8Hu/kawan-ai/internal/common"
	"go.uber.org/zap"
)

const (
	UserIDKey    = "user_id"
	RequestIDKey = "request_id"

	RequestIDHeader = "X-Request-ID"
	TokenCookie     = "token"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		c.Set(RequestIDKey, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}

func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.ByteString("stack", debug.Stack()),
				)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				common.AbortFail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}

// AccessLog replaces gin.Logger with structured lines.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// AuthRequired accepts a bearer token, the token cookie, or (for websocket
// upgrades, where browsers cannot set headers) a token query parameter.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			if v, err := c.Cookie(TokenCookie); err == nil {
				tok = v
			}
		}
		if tok == "" && c.IsWebsocket() {
			tok = c.Query("token")
		}
		if tok == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40100, "missing token")
			return
		}

		uid, err := auth.ParseJWT(tok, secret)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

func bearerToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
