package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/gatekeeper/internal/database"
	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, email, full_name, password_hash, phone_number, mfa_option, is_active,
	failed_login_attempts, last_failed_login_at, account_locked_until, locked_permanently,
	lock_reason, last_login_at, totp_secret_encrypted, totp_secret_nonce, created_at, updated_at`

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.PhoneNumber,
		&user.MfaOption, &user.IsActive,
		&user.FailedLoginAttempts, &user.LastFailedLoginAt, &user.AccountLockedUntil,
		&user.LockedPermanently, &user.LockReason, &user.LastLoginAt,
		&user.TotpSecretEncrypted, &user.TotpSecretNonce,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, full_name, password_hash, phone_number, mfa_option, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.FullName, user.PasswordHash, user.PhoneNumber,
		user.MfaOption, user.IsActive, user.CreatedAt, user.UpdatedAt,
	))
}

// RecordLoginFailure increments the failed-attempt counter and applies the
// temporary lock when the incremented count reaches maxFailed. The whole
// read-modify-write happens in one statement so two concurrent failures
// cannot both observe the pre-lockout count.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, maxFailed int, lockout time.Duration) (failedCount int, lockedUntil *time.Time, err error) {
	query := `
		UPDATE users SET
			failed_login_attempts = failed_login_attempts + 1,
			last_failed_login_at = now(),
			account_locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 THEN now() + $3
				ELSE account_locked_until
			END,
			updated_at = now()
		WHERE id = $1
		RETURNING failed_login_attempts, account_locked_until
	`

	err = r.pool.QueryRow(ctx, query, id, maxFailed, lockout).Scan(&failedCount, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}
	return failedCount, lockedUntil, nil
}

// RecordLoginSuccess resets the failure state and stamps last_login_at.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id string) error {
	query := `
		UPDATE users SET
			failed_login_attempts = 0,
			last_failed_login_at = NULL,
			account_locked_until = NULL,
			last_login_at = now(),
			updated_at = now()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// LockPermanently places the account under a permanent security lock.
// Only Unlock clears it.
func (r *UserRepository) LockPermanently(ctx context.Context, id, reason string) error {
	query := `
		UPDATE users SET
			locked_permanently = TRUE,
			lock_reason = $2,
			updated_at = now()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Unlock clears both temporary and permanent locks and resets the counter.
func (r *UserRepository) Unlock(ctx context.Context, id string) error {
	query := `
		UPDATE users SET
			failed_login_attempts = 0,
			last_failed_login_at = NULL,
			account_locked_until = NULL,
			locked_permanently = FALSE,
			lock_reason = NULL,
			updated_at = now()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetMfaOption updates the user's configured MFA delivery method.
func (r *UserRepository) SetMfaOption(ctx context.Context, id, option string) error {
	query := `UPDATE users SET mfa_option = $2, updated_at = now() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, option)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetTotpSecret stores the encrypted authenticator secret.
func (r *UserRepository) SetTotpSecret(ctx context.Context, id string, encrypted, nonce []byte) error {
	query := `
		UPDATE users SET totp_secret_encrypted = $2, totp_secret_nonce = $3, updated_at = now()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, encrypted, nonce)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	return nil
}
