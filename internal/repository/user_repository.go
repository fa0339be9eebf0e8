package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokengate/api/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (
			id, tenant_id, email, password_hash, display_name, role, status,
			email_verified, totp_enabled, totp_secret, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()
		)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.TenantID,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.Role,
		user.Status,
		user.EmailVerified,
		user.TOTPEnabled,
		user.TOTPSecret,
	)
	return err
}

func (r *UserRepository) FindByEmail(ctx context.Context, tenantID string, email string) (models.User, error) {
	const query = `
		SELECT id, tenant_id, email, password_hash, display_name, role, status,
		       email_verified, totp_enabled, totp_secret, tokens_revoked_before, created_at, updated_at
		FROM users WHERE tenant_id = $1 AND email = $2
	`

	row := r.pool.QueryRow(ctx, query, tenantID, email)
	return scanUser(row)
}

func (r *UserRepository) GetByID(ctx context.Context, userID string, tenantID string) (models.User, error) {
	const query = `
		SELECT id, tenant_id, email, password_hash, display_name, role, status,
		       email_verified, totp_enabled, totp_secret, tokens_revoked_before, created_at, updated_at
		FROM users WHERE id = $1 AND tenant_id = $2
	`

	row := r.pool.QueryRow(ctx, query, userID, tenantID)
	return scanUser(row)
}

// SetRevocationCutoff advances the user's revocation cutoff. Access tokens
// issued before the cutoff fail verification on their next use.
func (r *UserRepository) SetRevocationCutoff(ctx context.Context, userID string, tenantID string, at time.Time) error {
	const query = `
		UPDATE users SET tokens_revoked_before = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`
	cmd, err := r.pool.Exec(ctx, query, userID, tenantID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateStatus soft-deactivates or suspends an account. Rows are never
// physically deleted.
func (r *UserRepository) UpdateStatus(ctx context.Context, userID string, tenantID string, status models.UserStatus) error {
	const query = `
		UPDATE users SET status = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`
	cmd, err := r.pool.Exec(ctx, query, userID, tenantID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) SetEmailVerified(ctx context.Context, userID string, tenantID string) error {
	const query = `
		UPDATE users SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`
	cmd, err := r.pool.Exec(ctx, query, userID, tenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Role,
		&user.Status,
		&user.EmailVerified,
		&user.TOTPEnabled,
		&user.TOTPSecret,
		&user.TokensRevokedBefore,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}
