package service

import (
	"bytes"
	"context"
	"errors"
	"time"

	"tokengate/api/internal/repository"
	"tokengate/api/internal/security"
)

// SessionInfo is one entry of a user's device-session list.
type SessionInfo struct {
	ID         string
	DeviceID   string
	DeviceName string
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
	IsCurrent  bool
}

// ListSessions returns the user's active, unexpired sessions ordered by
// recency. The session backing currentRefreshToken, if any, is flagged.
func (s *AuthService) ListSessions(ctx context.Context, userID string, tenantID string, currentRefreshToken string) ([]SessionInfo, error) {
	var currentHash []byte
	if currentRefreshToken != "" {
		currentHash = security.HashRefreshToken(currentRefreshToken)
	}

	sessions, err := s.sessions.ListByUser(ctx, userID, tenantID, s.now())
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, SessionInfo{
			ID:         session.ID,
			DeviceID:   session.DeviceID,
			DeviceName: session.DeviceName,
			UserAgent:  session.UserAgent,
			IPAddress:  session.IPAddress,
			CreatedAt:  session.CreatedAt,
			LastUsedAt: session.LastUsedAt,
			ExpiresAt:  session.ExpiresAt,
			IsCurrent:  currentHash != nil && bytes.Equal(session.RefreshTokenHash, currentHash),
		})
	}
	return infos, nil
}

// TerminateSession deletes one session, scoped by user and tenant so a
// caller cannot terminate a session that is not theirs.
func (s *AuthService) TerminateSession(ctx context.Context, sessionID string, userID string, tenantID string) error {
	if err := s.sessions.DeleteScoped(ctx, sessionID, userID, tenantID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// TerminateOtherSessions deletes every session of the user except the one
// backing currentRefreshToken, then advances the revocation cutoff so access
// tokens already issued for the terminated sessions die on their next use.
// Without a current token there is no session to spare, so it degrades to
// TerminateAllSessions.
func (s *AuthService) TerminateOtherSessions(ctx context.Context, userID string, tenantID string, currentRefreshToken string) error {
	if currentRefreshToken == "" {
		return s.TerminateAllSessions(ctx, userID, tenantID)
	}

	keep := security.HashRefreshToken(currentRefreshToken)
	if err := s.sessions.DeleteOthers(ctx, userID, tenantID, keep); err != nil {
		return err
	}
	return s.advanceRevocationCutoff(ctx, userID, tenantID)
}

// TerminateAllSessions deletes every session of the user and advances the
// cutoff. Used for logout-everywhere, password change, and deactivation.
func (s *AuthService) TerminateAllSessions(ctx context.Context, userID string, tenantID string) error {
	if err := s.sessions.DeleteAllForUser(ctx, userID, tenantID); err != nil {
		return err
	}
	return s.advanceRevocationCutoff(ctx, userID, tenantID)
}

func (s *AuthService) advanceRevocationCutoff(ctx context.Context, userID string, tenantID string) error {
	now := s.now()
	if err := s.users.SetRevocationCutoff(ctx, userID, tenantID, now); err != nil {
		return err
	}
	s.log.Info().
		Str("user_id", userID).
		Str("tenant_id", tenantID).
		Time("cutoff", now).
		Msg("revocation cutoff advanced")
	return nil
}
