package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kasuganosora/escaperoom/server/cache"
	"github.com/kasuganosora/escaperoom/server/config"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthHandler is the identity provider: anonymous player sign-in, admin
// password sign-in, sign-out and the current user.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

// issue signs a token and opens its session.
func (h *AuthHandler) issue(c *gin.Context, userID string, role mw.Role) (string, error) {
	token, err := mw.GenerateToken(userID, role, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), userID, h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

// Anonymous handles POST /api/auth/anonymous.
// Every call creates a fresh player identity.
func (h *AuthHandler) Anonymous(c *gin.Context) {
	userID := uuid.NewString()
	token, err := h.issue(c, userID, mw.RolePlayer)
	if err != nil {
		h.logger.Error("anonymous sign-in failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": userID, "role": mw.RolePlayer})
}

// Login handles POST /api/auth/login for admins.
// Auto-registers on first login if the username does not exist.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	admin, created, err := store.SignInAdmin(c.Request.Context(), h.db, req.Username, req.Password, c.ClientIP(), time.Now())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if created {
		h.logger.Info("admin registered", zap.String("admin_id", admin.ID), zap.String("username", admin.Username))
	}

	token, err := h.issue(c, admin.ID, mw.RoleAdmin)
	if err != nil {
		h.logger.Error("admin sign-in failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"user_id":  admin.ID,
		"role":     mw.RoleAdmin,
		"username": admin.Username,
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenStr := mw.GetToken(c)
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(tokenStr))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, role := mw.GetUserID(c), mw.GetRole(c)
	resp := gin.H{"user_id": userID, "role": role}
	if role == mw.RoleAdmin {
		admin, err := store.GetAdmin(c.Request.Context(), h.db, userID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown admin"})
			return
		}
		resp["username"] = admin.Username
	}
	c.JSON(http.StatusOK, resp)
}
