package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tokengate/api/internal/middleware"
	"tokengate/api/internal/models"
	"tokengate/api/internal/service"
)

const tenantHeader = "X-Tenant-Id"

func (h HandlerSet) tenantID(c *gin.Context) string {
	if tenant := c.GetHeader(tenantHeader); tenant != "" {
		return tenant
	}
	return h.cfg.DefaultTenantID
}

type userResponse struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
}

func toUserResponse(user models.User) userResponse {
	return userResponse{
		ID:            user.ID,
		TenantID:      user.TenantID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		Role:          string(user.Role),
		EmailVerified: user.EmailVerified,
	}
}

// setRefreshCookie delivers the refresh token as an HTTP-only Lax cookie
// scoped to the auth endpoints; it is never readable by page scripts.
func (h HandlerSet) setRefreshCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Cookie.Name, token, maxAge, h.cfg.Cookie.Path, h.cfg.Cookie.Domain, h.cfg.Cookie.Secure, true)
}

func (h HandlerSet) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Cookie.Name, "", -1, h.cfg.Cookie.Path, h.cfg.Cookie.Domain, h.cfg.Cookie.Secure, true)
}

func (h HandlerSet) refreshCookie(c *gin.Context) string {
	token, err := c.Cookie(h.cfg.Cookie.Name)
	if err != nil {
		return ""
	}
	return token
}

type registerRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"displayName" binding:"required"`
}

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		TenantID:    h.tenantID(c),
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": toUserResponse(user)})
}

type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	TwoFactorToken string `json:"twoFactorToken"`
	TempLoginID    string `json:"tempLoginId"`
	RememberMe     bool   `json:"rememberMe"`
	DeviceID       string `json:"deviceId"`
	DeviceName     string `json:"deviceName"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TempLoginID == "" && (req.Email == "" || req.Password == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		TenantID:       h.tenantID(c),
		Email:          req.Email,
		Password:       req.Password,
		TwoFactorToken: req.TwoFactorToken,
		TempLoginID:    req.TempLoginID,
		RememberMe:     req.RememberMe,
		DeviceID:       req.DeviceID,
		DeviceName:     req.DeviceName,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.GetHeader("User-Agent"),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserSuspended):
			c.JSON(http.StatusForbidden, gin.H{"error": "user_suspended"})
		case errors.Is(err, service.ErrInvalidTwoFactorCode):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_two_factor_code"})
		case service.IsAuthFailure(err):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		default:
			h.log.Error().Err(err).Msg("login failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	if result.Requires2FA {
		c.JSON(http.StatusOK, gin.H{
			"requires2FA": true,
			"tempLoginId": result.TempLoginID,
		})
		return
	}

	h.setRefreshCookie(c, result.Pair.RefreshToken, int(result.Session.Span().Seconds()))
	c.JSON(http.StatusOK, gin.H{
		"accessToken": result.Pair.AccessToken,
		"user":        toUserResponse(result.User),
	})
}

func (h HandlerSet) Refresh(c *gin.Context) {
	refreshToken := h.refreshCookie(c)
	if refreshToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_refresh_token"})
		return
	}

	result, err := h.authService.Rotate(c.Request.Context(), refreshToken, service.DeviceInfo{
		UserAgent: c.GetHeader("User-Agent"),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		if service.IsAuthFailure(err) {
			// The presented cookie is dead; make sure the client
			// does not retain it.
			h.clearRefreshCookie(c)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh_failed"})
			return
		}
		h.log.Error().Err(err).Msg("refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	h.setRefreshCookie(c, result.Pair.RefreshToken, int(result.Session.Span().Seconds()))
	c.JSON(http.StatusOK, gin.H{
		"accessToken": result.Pair.AccessToken,
		"user":        toUserResponse(result.User),
	})
}

// Logout never fails observably: the session delete is best-effort and the
// cookie is always cleared.
func (h HandlerSet) Logout(c *gin.Context) {
	if refreshToken := h.refreshCookie(c); refreshToken != "" {
		if err := h.authService.Logout(c.Request.Context(), refreshToken); err != nil {
			h.log.Warn().Err(err).Msg("logout session delete failed")
		}
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (h HandlerSet) Me(c *gin.Context) {
	userCtx, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userResponse{
		ID:            userCtx.UserID,
		TenantID:      userCtx.TenantID,
		Email:         userCtx.Email,
		DisplayName:   userCtx.DisplayName,
		Role:          string(userCtx.Role),
		EmailVerified: userCtx.EmailVerified,
	}})
}
