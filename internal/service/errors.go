package service

import "errors"

// Failure kinds for the auth gate and the refresh rotation protocol. The
// HTTP layer maps every one of these to 401; they stay distinct because
// clients react differently (expired/revoked trigger a silent refresh,
// invalid forces a fresh login, not-found means the refresh token was
// already consumed).
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrUserSuspended        = errors.New("user suspended")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")

	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")

	ErrUnauthenticated = errors.New("unauthenticated")
)

// IsAuthFailure reports whether err belongs to the authentication taxonomy,
// as opposed to a store or infrastructure failure.
func IsAuthFailure(err error) bool {
	for _, kind := range []error{
		ErrInvalidCredentials,
		ErrInvalidTwoFactorCode,
		ErrUserSuspended,
		ErrInvalidToken,
		ErrTokenExpired,
		ErrTokenRevoked,
		ErrInvalidRefreshToken,
		ErrRefreshTokenExpired,
		ErrSessionNotFound,
		ErrSessionExpired,
		ErrUnauthenticated,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
