package handlers

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/kawan-ai/internal/auth"
	"github.com/suPer8Hu/kawan-ai/internal/common"
	"github.com/suPer8Hu/kawan-ai/internal/httpapi/middleware"
	"github.com/suPer8Hu/kawan-ai/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tokenTTL = 24 * time.Hour

type createUserReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// generate a 11 digit random username
func randomUsername11() (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, 11)
	for i := 0; i < 11; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		out[i] = letters[n.Int64()]
	}
	return string(out), nil
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid email")
		return
	}
	if len(req.Password) < 8 {
		common.Fail(c, http.StatusBadRequest, 10006, "password must be at least 8 characters")
		return
	}

	ctx := c.Request.Context()
	var cnt int64
	if err := h.DB.WithContext(ctx).Model(&models.User{}).Where("email = ?", req.Email).Count(&cnt).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if cnt > 0 {
		common.Fail(c, http.StatusConflict, 10003, "email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	username, err := h.allocateUsername(c, req.Username)
	if err != nil {
		return
	}

	user := models.User{
		Email:        req.Email,
		Username:     username,
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(ctx).Create(&user).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create user (maybe email already exists)")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	h.Log.Info("user registered", zap.Uint64("user_id", user.ID))

	common.OK(c, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
		"token":    token,
	})
}

// allocateUsername uses the requested name when free, otherwise a random one.
// It writes the failure response itself.
func (h *Handler) allocateUsername(c *gin.Context, wanted string) (string, error) {
	taken := func(u string) (bool, error) {
		var cnt int64
		err := h.DB.WithContext(c.Request.Context()).Model(&models.User{}).Where("username = ?", u).Count(&cnt).Error
		return cnt > 0, err
	}

	if wanted != "" {
		if len(wanted) > 64 {
			common.Fail(c, http.StatusBadRequest, 10007, "username too long")
			return "", errors.New("username too long")
		}
		busy, err := taken(wanted)
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 20005, "failed to check username")
			return "", err
		}
		if busy {
			common.Fail(c, http.StatusConflict, 10008, "username already taken")
			return "", errors.New("username taken")
		}
		return wanted, nil
	}

	for i := 0; i < 5; i++ {
		u, err := randomUsername11()
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 20004, "failed to generate username")
			return "", err
		}
		busy, err := taken(u)
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 20005, "failed to check username")
			return "", err
		}
		if !busy {
			return u, nil
		}
	}
	common.Fail(c, http.StatusInternalServerError, 20006, "failed to allocate username")
	return "", errors.New("no free username")
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid email or password")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid email or password")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	// browsers that cannot attach a header send the cookie instead
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, token, int(tokenTTL.Seconds()), "/", "", h.Cfg.IsProduction(), true)

	common.OK(c, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"token":    token,
	})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	h.writeUser(c, uid)
}

func (h *Handler) GetUserByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user id")
		return
	}
	h.writeUser(c, id)
}

func (h *Handler) writeUser(c *gin.Context, id uint64) {
	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}
