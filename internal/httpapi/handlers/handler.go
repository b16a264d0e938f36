package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/kawan-ai/internal/analytics"
	"github.com/suPer8Hu/kawan-ai/internal/apperr"
	"github.com/suPer8Hu/kawan-ai/internal/chat"
	"github.com/suPer8Hu/kawan-ai/internal/common"
	"github.com/suPer8Hu/kawan-ai/internal/config"
	"github.com/suPer8Hu/kawan-ai/internal/httpapi/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	Log     *zap.Logger
	ChatSvc *chat.Service
	Stats   *analytics.Store
}

func NewHandler(db *gorm.DB, cfg config.Config, log *zap.Logger, chatSvc *chat.Service) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		DB:      db,
		Cfg:     cfg,
		Log:     log,
		ChatSvc: chatSvc,
		Stats:   analytics.NewStore(db),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	return middleware.UserID(c)
}

// failErr maps a service error onto the response envelope.
func (h *Handler) failErr(c *gin.Context, err error) {
	switch apperr.TypeOf(err) {
	case apperr.TypeValidation:
		common.Fail(c, http.StatusBadRequest, 10002, apperr.MessageOf(err))
	case apperr.TypeUnauthorized:
		common.Fail(c, http.StatusUnauthorized, 40101, apperr.MessageOf(err))
	case apperr.TypeForbidden:
		common.Fail(c, http.StatusForbidden, 40300, apperr.MessageOf(err))
	case apperr.TypeNotFound:
		common.Fail(c, http.StatusNotFound, 40400, apperr.MessageOf(err))
	case apperr.TypeConflict:
		common.Fail(c, http.StatusConflict, 40900, apperr.MessageOf(err))
	case apperr.TypeConfig:
		h.Log.Error("configuration error", zap.String("path", c.FullPath()), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50010, "server is not configured")
	default:
		h.Log.Error("internal error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err),
		)
		common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
	}
}
