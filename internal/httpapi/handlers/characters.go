package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/kawan-ai/internal/analytics"
	"github.com/suPer8Hu/kawan-ai/internal/common"
	"github.com/suPer8Hu/kawan-ai/internal/models"
	"gorm.io/gorm"
)

type createCharacterReq struct {
	Name           string `json:"name"`
	Summary        string `json:"summary"`
	Synopsis       string `json:"synopsis"`
	Description    string `json:"description"`
	Greeting       string `json:"greeting"`
	AvatarURL      string `json:"avatarUrl"`
	ComplianceMode string `json:"complianceMode"`
	IsPublic       bool   `json:"isPublic"`
}

func (h *Handler) CreateCharacter(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createCharacterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "name required")
		return
	}
	if len(req.Name) > 100 {
		common.Fail(c, http.StatusBadRequest, 10002, "name too long")
		return
	}

	mode := models.ComplianceMode(strings.ToLower(strings.TrimSpace(req.ComplianceMode)))
	switch mode {
	case "":
		mode = models.ComplianceStandard
	case models.ComplianceStrict, models.ComplianceStandard, models.ComplianceObedient:
	default:
		common.Fail(c, http.StatusBadRequest, 10002, "complianceMode must be strict, standard or obedient")
		return
	}

	ch := models.Character{
		UserID:         uid,
		Name:           req.Name,
		Summary:        strings.TrimSpace(req.Summary),
		Synopsis:       strings.TrimSpace(req.Synopsis),
		Description:    strings.TrimSpace(req.Description),
		Greeting:       strings.TrimSpace(req.Greeting),
		AvatarURL:      strings.TrimSpace(req.AvatarURL),
		ComplianceMode: mode,
		IsPublic:       req.IsPublic,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&ch).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to create character")
		return
	}
	common.OK(c, ch)
}

// loadVisibleCharacter returns a character the caller owns or that is public.
// Hidden characters are reported as missing.
func (h *Handler) loadVisibleCharacter(c *gin.Context) (*models.Character, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid character id")
		return nil, false
	}

	var ch models.Character
	if err := h.DB.WithContext(c.Request.Context()).First(&ch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "character not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	if ch.UserID != uid && !ch.IsPublic {
		common.Fail(c, http.StatusNotFound, 40402, "character not found")
		return nil, false
	}
	return &ch, true
}

func (h *Handler) GetCharacter(c *gin.Context) {
	ch, ok := h.loadVisibleCharacter(c)
	if !ok {
		return
	}
	common.OK(c, ch)
}

func (h *Handler) GetCharacterStats(c *gin.Context) {
	ch, ok := h.loadVisibleCharacter(c)
	if !ok {
		return
	}

	st, err := h.Stats.Get(c.Request.Context(), ch.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusInternalServerError, 20001, "db error")
			return
		}
		// nothing flushed yet
		st = &analytics.CharacterStat{CharacterID: ch.ID}
	}
	common.OK(c, st)
}
