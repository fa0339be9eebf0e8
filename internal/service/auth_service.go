package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tokengate/api/internal/config"
	"tokengate/api/internal/ids"
	"tokengate/api/internal/models"
	"tokengate/api/internal/repository"
	"tokengate/api/internal/security"
)

// UserStore is the narrow credential-store surface the service needs.
// Implemented by repository.UserRepository; tests use in-memory fakes.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, tenantID string, email string) (models.User, error)
	GetByID(ctx context.Context, userID string, tenantID string) (models.User, error)
	SetRevocationCutoff(ctx context.Context, userID string, tenantID string, at time.Time) error
}

// SessionStore persists refresh-token records. Implemented by
// repository.SessionRepository.
type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	GetByRefreshHash(ctx context.Context, refreshHash []byte) (models.Session, error)
	Replace(ctx context.Context, oldID string, next models.Session) error
	DeleteByID(ctx context.Context, id string) error
	DeleteScoped(ctx context.Context, id string, userID string, tenantID string) error
	DeleteOthers(ctx context.Context, userID string, tenantID string, keepRefreshHash []byte) error
	DeleteAllForUser(ctx context.Context, userID string, tenantID string) error
	ListByUser(ctx context.Context, userID string, tenantID string, now time.Time) ([]models.Session, error)
	CountByUser(ctx context.Context, userID string, tenantID string) (int, error)
	DeleteOldestSessions(ctx context.Context, userID string, tenantID string, keepLatest int) error
}

// OTPVerifier checks a one-time code against the user's TOTP secret.
// External collaborator; the real implementation lives outside this service.
type OTPVerifier interface {
	Verify(secret string, code string) bool
}

// ChallengeStore holds short-lived two-factor login challenges.
// Implemented by cache.ChallengeStore on redis.
type ChallengeStore interface {
	Put(ctx context.Context, id string, value string, ttl time.Duration) error
	Take(ctx context.Context, id string) (string, error)
}

type AuthService struct {
	users      UserStore
	sessions   SessionStore
	challenges ChallengeStore
	otp        OTPVerifier
	cfg        *config.AppConfig
	log        zerolog.Logger

	// now is swappable so token-lifetime behavior is testable.
	now func() time.Time
}

func NewAuthService(
	users UserStore,
	sessions SessionStore,
	challenges ChallengeStore,
	otp OTPVerifier,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		challenges: challenges,
		otp:        otp,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// DeviceInfo describes the caller's device as derived from the current
// request. Rotation prefers the metadata already stored on the session and
// falls back to these values only when the record lacks them.
type DeviceInfo struct {
	ID        string
	Name      string
	UserAgent string
	IPAddress string
}

type RegisterInput struct {
	TenantID    string
	Email       string
	Password    string
	DisplayName string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Email == "" || input.Password == "" {
		return models.User{}, fmt.Errorf("email and password required")
	}

	if _, err := s.users.FindByEmail(ctx, input.TenantID, input.Email); err == nil {
		return models.User{}, fmt.Errorf("email already registered")
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, err
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:           ids.New(),
		TenantID:     input.TenantID,
		Email:        input.Email,
		PasswordHash: passwordHash,
		DisplayName:  input.DisplayName,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

type LoginInput struct {
	TenantID       string
	Email          string
	Password       string
	TwoFactorToken string
	TempLoginID    string
	RememberMe     bool
	DeviceID       string
	DeviceName     string
	IPAddress      string
	UserAgent      string
}

type LoginResult struct {
	Requires2FA bool
	TempLoginID string
	Pair        security.TokenPair
	User        models.User
	Session     models.Session
}

type loginChallenge struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	var user models.User

	if input.TempLoginID != "" {
		challenged, err := s.takeChallenge(ctx, input.TempLoginID)
		if err != nil {
			return LoginResult{}, err
		}
		user = challenged
		if !s.verifyOTP(user, input.TwoFactorToken) {
			return LoginResult{}, ErrInvalidTwoFactorCode
		}
	} else {
		input.Email = strings.TrimSpace(strings.ToLower(input.Email))
		found, err := s.users.FindByEmail(ctx, input.TenantID, input.Email)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return LoginResult{}, ErrInvalidCredentials
			}
			return LoginResult{}, err
		}
		user = found

		if user.Status == models.UserStatusSuspended {
			return LoginResult{}, ErrUserSuspended
		}
		if user.Status != models.UserStatusActive {
			return LoginResult{}, ErrInvalidCredentials
		}

		ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
		if err != nil || !ok {
			return LoginResult{}, ErrInvalidCredentials
		}

		if user.TOTPEnabled {
			if input.TwoFactorToken == "" {
				tempID, err := s.putChallenge(ctx, user)
				if err != nil {
					return LoginResult{}, err
				}
				return LoginResult{Requires2FA: true, TempLoginID: tempID}, nil
			}
			if !s.verifyOTP(user, input.TwoFactorToken) {
				return LoginResult{}, ErrInvalidTwoFactorCode
			}
		}
	}

	span := s.cfg.Security.RefreshSpan
	if input.RememberMe {
		span = s.cfg.Security.RefreshSpanRemembered
	}

	device := DeviceInfo{
		ID:        input.DeviceID,
		Name:      input.DeviceName,
		UserAgent: input.UserAgent,
		IPAddress: input.IPAddress,
	}

	session, pair, err := s.createSession(ctx, user, span, device)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{Pair: pair, User: user, Session: session}, nil
}

func (s *AuthService) putChallenge(ctx context.Context, user models.User) (string, error) {
	payload, err := json.Marshal(loginChallenge{UserID: user.ID, TenantID: user.TenantID})
	if err != nil {
		return "", err
	}
	tempID := ids.New()
	if err := s.challenges.Put(ctx, tempID, string(payload), s.cfg.Security.TwoFactorTTL); err != nil {
		return "", fmt.Errorf("store login challenge: %w", err)
	}
	return tempID, nil
}

func (s *AuthService) takeChallenge(ctx context.Context, tempID string) (models.User, error) {
	payload, err := s.challenges.Take(ctx, tempID)
	if err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	var challenge loginChallenge
	if err := json.Unmarshal([]byte(payload), &challenge); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	user, err := s.users.GetByID(ctx, challenge.UserID, challenge.TenantID)
	if err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	if user.Status != models.UserStatusActive {
		return models.User{}, ErrUserSuspended
	}
	return user, nil
}

func (s *AuthService) verifyOTP(user models.User, code string) bool {
	if s.otp == nil || user.TOTPSecret == nil || code == "" {
		return false
	}
	return s.otp.Verify(*user.TOTPSecret, code)
}

func (s *AuthService) createSession(ctx context.Context, user models.User, span time.Duration, device DeviceInfo) (models.Session, security.TokenPair, error) {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.Name == "" {
		device.Name = "Unknown Device"
	}

	now := s.now()
	pair, err := security.IssueTokenPair(
		s.cfg.Security.JWTAccessSecret,
		s.cfg.Security.JWTRefreshSecret,
		user.ID,
		user.TenantID,
		string(user.Role),
		ids.New(),
		now,
		s.cfg.Security.JWTAccessTTL,
		span,
	)
	if err != nil {
		return models.Session{}, security.TokenPair{}, err
	}

	session := models.Session{
		ID:               ids.New(),
		UserID:           user.ID,
		TenantID:         user.TenantID,
		RefreshTokenHash: security.HashRefreshToken(pair.RefreshToken),
		DeviceID:         device.ID,
		DeviceName:       device.Name,
		UserAgent:        device.UserAgent,
		IPAddress:        device.IPAddress,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        pair.RefreshExpiresAt,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return models.Session{}, security.TokenPair{}, err
	}

	if err := s.enforceSessionLimit(ctx, user.ID, user.TenantID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("enforce session limit failed")
	}

	return session, pair, nil
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string, tenantID string) error {
	count, err := s.sessions.CountByUser(ctx, userID, tenantID)
	if err != nil {
		return err
	}
	if count <= s.cfg.Security.MaxSessions {
		return nil
	}
	return s.sessions.DeleteOldestSessions(ctx, userID, tenantID, s.cfg.Security.MaxSessions)
}

// UserContext is what the auth gate hands to downstream handlers.
type UserContext struct {
	UserID        string
	TenantID      string
	Role          models.UserRole
	Email         string
	DisplayName   string
	EmailVerified bool
}

// Authenticate validates an inbound access token and resolves it to a user
// context. It is stateless apart from the single user-row lookup: revocation
// works by comparing the token's issued-at against the user's cutoff, so no
// blocklist is needed.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (UserContext, error) {
	claims, err := security.ParseAccessToken(accessToken, s.cfg.Security.JWTAccessSecret)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return UserContext{}, ErrTokenExpired
		}
		return UserContext{}, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID, claims.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return UserContext{}, ErrUnauthenticated
		}
		return UserContext{}, err
	}
	if user.Status != models.UserStatusActive {
		return UserContext{}, ErrUnauthenticated
	}

	if cutoff := user.TokensRevokedBefore; cutoff != nil {
		if claims.IssuedAt == nil || claims.IssuedAt.Time.Before(*cutoff) {
			return UserContext{}, ErrTokenRevoked
		}
	}

	return UserContext{
		UserID:        user.ID,
		TenantID:      user.TenantID,
		Role:          user.Role,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: user.EmailVerified,
	}, nil
}

type RotateResult struct {
	Pair    security.TokenPair
	User    models.User
	Session models.Session
}

// Rotate exchanges a valid refresh token for a new pair and invalidates the
// old one. Each step is a distinct failure mode, checked in order. The
// replacement session keeps the original validity span, so repeated refresh
// can never extend a session's lifetime, and keeps the device identity
// recorded at login.
func (s *AuthService) Rotate(ctx context.Context, refreshToken string, device DeviceInfo) (RotateResult, error) {
	_, err := security.ParseRefreshToken(refreshToken, s.cfg.Security.JWTRefreshSecret)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return RotateResult{}, ErrRefreshTokenExpired
		}
		return RotateResult{}, ErrInvalidRefreshToken
	}

	old, err := s.sessions.GetByRefreshHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Already rotated or explicitly revoked. Single-use by
			// construction: a replayed token always lands here.
			return RotateResult{}, ErrSessionNotFound
		}
		return RotateResult{}, err
	}

	now := s.now()
	if !old.ExpiresAt.After(now) {
		if err := s.sessions.DeleteByID(ctx, old.ID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
			s.log.Warn().Err(err).Str("session_id", old.ID).Msg("delete expired session failed")
		}
		return RotateResult{}, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, old.UserID, old.TenantID)
	if err != nil || user.Status != models.UserStatusActive {
		if delErr := s.sessions.DeleteByID(ctx, old.ID); delErr != nil && !errors.Is(delErr, repository.ErrSessionNotFound) {
			s.log.Warn().Err(delErr).Str("session_id", old.ID).Msg("delete orphaned session failed")
		}
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return RotateResult{}, err
		}
		return RotateResult{}, ErrUnauthenticated
	}

	span := old.Span()
	pair, err := security.IssueTokenPair(
		s.cfg.Security.JWTAccessSecret,
		s.cfg.Security.JWTRefreshSecret,
		user.ID,
		user.TenantID,
		string(user.Role),
		ids.New(),
		now,
		s.cfg.Security.JWTAccessTTL,
		span,
	)
	if err != nil {
		return RotateResult{}, err
	}

	next := models.Session{
		ID:               ids.New(),
		UserID:           user.ID,
		TenantID:         user.TenantID,
		RefreshTokenHash: security.HashRefreshToken(pair.RefreshToken),
		DeviceID:         old.DeviceID,
		DeviceName:       old.DeviceName,
		UserAgent:        device.UserAgent,
		IPAddress:        device.IPAddress,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        pair.RefreshExpiresAt,
	}
	if next.DeviceID == "" {
		next.DeviceID = device.ID
	}
	if next.DeviceID == "" {
		next.DeviceID = uuid.NewString()
	}
	if next.DeviceName == "" {
		next.DeviceName = device.Name
	}

	if err := s.sessions.Replace(ctx, old.ID, next); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Lost a race with a concurrent rotation of the same token.
			return RotateResult{}, ErrSessionNotFound
		}
		return RotateResult{}, err
	}

	return RotateResult{Pair: pair, User: user, Session: next}, nil
}

// Logout deletes the session behind the presented refresh token. It is
// best-effort: an unknown or already-deleted token is not an error, so
// logout never fails observably.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	session, err := s.sessions.GetByRefreshHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.sessions.DeleteByID(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}
	return nil
}
