package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/kawan-ai/internal/chat"
	"github.com/suPer8Hu/kawan-ai/internal/common"
	"github.com/suPer8Hu/kawan-ai/internal/config"
	"github.com/suPer8Hu/kawan-ai/internal/httpapi/handlers"
	"github.com/suPer8Hu/kawan-ai/internal/httpapi/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowWebSockets:  true,
		MaxAge:           12 * time.Hour,
		AllowCredentials: true,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// credentials cannot be combined with a literal "*"
		cc.AllowOriginFunc = func(string) bool { return true }
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}

func NewRouter(db *gorm.DB, cfg config.Config, log *zap.Logger, chatSvc *chat.Service) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, log, chatSvc)

	r.GET("/ping", h.Ping)

	// users
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/users/:id", h.GetUserByID)

	// characters
	authGroup.POST("/characters", h.CreateCharacter)
	authGroup.GET("/characters/:id", h.GetCharacter)
	authGroup.GET("/characters/:id/stats", h.GetCharacterStats)

	// chat
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/sessions/:session_id/reset", h.ResetChatSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteChatSession)
	authGroup.POST("/chat/stream", h.StreamChatMessage)
	authGroup.GET("/chat/ws", h.ChatWebSocket)
	return r
}
