package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tokengate/api/internal/middleware"
	"tokengate/api/internal/service"
)

type sessionResponse struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	UserAgent  string    `json:"userAgent"`
	IPAddress  string    `json:"ipAddress"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	IsCurrent  bool      `json:"isCurrent"`
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	userCtx, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessions, err := h.authService.ListSessions(
		c.Request.Context(),
		userCtx.UserID,
		userCtx.TenantID,
		h.refreshCookie(c),
	)
	if err != nil {
		h.log.Error().Err(err).Msg("list sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		resp = append(resp, sessionResponse{
			ID:         session.ID,
			DeviceID:   session.DeviceID,
			DeviceName: session.DeviceName,
			UserAgent:  session.UserAgent,
			IPAddress:  session.IPAddress,
			CreatedAt:  session.CreatedAt,
			LastUsedAt: session.LastUsedAt,
			ExpiresAt:  session.ExpiresAt,
			IsCurrent:  session.IsCurrent,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

func (h HandlerSet) TerminateSession(c *gin.Context) {
	userCtx, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id required"})
		return
	}

	err := h.authService.TerminateSession(c.Request.Context(), sessionID, userCtx.UserID, userCtx.TenantID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
			return
		}
		h.log.Error().Err(err).Msg("terminate session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// TerminateOtherSessions keeps only the session backing the caller's
// refresh cookie. Advancing the revocation cutoff also invalidates the
// caller's own access token, so the client is expected to refresh silently
// right after.
func (h HandlerSet) TerminateOtherSessions(c *gin.Context) {
	userCtx, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err := h.authService.TerminateOtherSessions(
		c.Request.Context(),
		userCtx.UserID,
		userCtx.TenantID,
		h.refreshCookie(c),
	)
	if err != nil {
		h.log.Error().Err(err).Msg("terminate other sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "other_sessions_terminated"})
}

func (h HandlerSet) LogoutAll(c *gin.Context) {
	userCtx, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err := h.authService.TerminateAllSessions(c.Request.Context(), userCtx.UserID, userCtx.TenantID)
	if err != nil {
		h.log.Error().Err(err).Msg("terminate all sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "all_sessions_terminated"})
}
