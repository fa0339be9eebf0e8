package models

import "time"

// Session is the durable record backing one outstanding refresh token.
// Only a SHA-256 hash of the signed refresh string is stored; the row is
// deleted and replaced on every rotation, so exactly one live row exists
// per valid refresh token.
type Session struct {
	ID               string
	UserID           string
	TenantID         string
	RefreshTokenHash []byte
	DeviceID         string
	DeviceName       string
	UserAgent        string
	IPAddress        string
	CreatedAt        time.Time
	LastUsedAt       time.Time
	ExpiresAt        time.Time
}

// Span is the fixed validity duration chosen at issuance. Rotation
// preserves it: the replacement row expires Span after its own creation.
func (s Session) Span() time.Duration {
	return s.ExpiresAt.Sub(s.CreatedAt)
}
