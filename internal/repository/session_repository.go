package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokengate/api/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `id, user_id, tenant_id, refresh_token_hash, device_id, device_name,
	       user_agent, ip_address, created_at, last_used_at, expires_at`

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO sessions (
			id, user_id, tenant_id, refresh_token_hash, device_id, device_name,
			user_agent, ip_address, created_at, last_used_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.TenantID,
		session.RefreshTokenHash,
		session.DeviceID,
		session.DeviceName,
		session.UserAgent,
		session.IPAddress,
		session.CreatedAt,
		session.LastUsedAt,
		session.ExpiresAt,
	)
	return err
}

func (r *SessionRepository) GetByRefreshHash(ctx context.Context, refreshHash []byte) (models.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE refresh_token_hash = $1
	`
	row := r.pool.QueryRow(ctx, query, refreshHash)
	return scanSession(row)
}

// Replace atomically consumes the old session row and inserts its
// replacement. The delete doubles as the single-use guard: a concurrent
// rotation of the same token observes zero rows deleted and fails with
// ErrSessionNotFound instead of minting a second descendant.
func (r *SessionRepository) Replace(ctx context.Context, oldID string, next models.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cmd, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, oldID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	const insert = `
		INSERT INTO sessions (
			id, user_id, tenant_id, refresh_token_hash, device_id, device_name,
			user_agent, ip_address, created_at, last_used_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`
	if _, err := tx.Exec(ctx, insert,
		next.ID,
		next.UserID,
		next.TenantID,
		next.RefreshTokenHash,
		next.DeviceID,
		next.DeviceName,
		next.UserAgent,
		next.IPAddress,
		next.CreatedAt,
		next.LastUsedAt,
		next.ExpiresAt,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *SessionRepository) DeleteByID(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteScoped deletes one session only when it belongs to the given user
// and tenant, so a caller cannot terminate someone else's session.
func (r *SessionRepository) DeleteScoped(ctx context.Context, id string, userID string, tenantID string) error {
	const query = `DELETE FROM sessions WHERE id = $1 AND user_id = $2 AND tenant_id = $3`
	cmd, err := r.pool.Exec(ctx, query, id, userID, tenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteOthers(ctx context.Context, userID string, tenantID string, keepRefreshHash []byte) error {
	const query = `
		DELETE FROM sessions
		WHERE user_id = $1 AND tenant_id = $2 AND refresh_token_hash <> $3
	`
	_, err := r.pool.Exec(ctx, query, userID, tenantID, keepRefreshHash)
	return err
}

func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID string, tenantID string) error {
	const query = `DELETE FROM sessions WHERE user_id = $1 AND tenant_id = $2`
	_, err := r.pool.Exec(ctx, query, userID, tenantID)
	return err
}

// DeleteExpired sweeps rows whose expiry has passed.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at <= $1`
	cmd, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string, tenantID string, now time.Time) ([]models.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND tenant_id = $2 AND expires_at > $3
		ORDER BY last_used_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID, tenantID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) CountByUser(ctx context.Context, userID string, tenantID string) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND tenant_id = $2`
	row := r.pool.QueryRow(ctx, query, userID, tenantID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SessionRepository) DeleteOldestSessions(ctx context.Context, userID string, tenantID string, keepLatest int) error {
	const query = `
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			WHERE user_id = $1 AND tenant_id = $2
			ORDER BY last_used_at DESC
			OFFSET $3
		)
	`
	_, err := r.pool.Exec(ctx, query, userID, tenantID, keepLatest)
	return err
}

func scanSession(row pgx.Row) (models.Session, error) {
	var session models.Session
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TenantID,
		&session.RefreshTokenHash,
		&session.DeviceID,
		&session.DeviceName,
		&session.UserAgent,
		&session.IPAddress,
		&session.CreatedAt,
		&session.LastUsedAt,
		&session.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}
