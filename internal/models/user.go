package models

import "time"

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
	UserRoleOwner UserRole = "owner"
)

type UserStatus string

const (
	UserStatusActive      UserStatus = "active"
	UserStatusSuspended   UserStatus = "suspended"
	UserStatusDeactivated UserStatus = "deactivated"
)

type User struct {
	ID            string
	TenantID      string
	Email         string
	PasswordHash  []byte
	DisplayName   string
	Role          UserRole
	Status        UserStatus
	EmailVerified bool
	TOTPEnabled   bool
	TOTPSecret    *string
	// TokensRevokedBefore is the revocation cutoff: access tokens issued
	// strictly before this instant are rejected regardless of their own
	// expiry. Nil means no cutoff has ever been set.
	TokensRevokedBefore *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
