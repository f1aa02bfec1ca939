package postgres

import (
	"context"
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VerificationRepo defines operations on short-lived email verification codes.
type VerificationRepo interface {
	// Create inserts a fresh code for an email.
	Create(ctx context.Context, email, code string, expiresAt time.Time) (*domain.VerificationCode, error)
	// FindActiveByEmail returns the newest unused, unverified, unexpired code
	// for an email, or nil if there is none.
	FindActiveByEmail(ctx context.Context, email string) (*domain.VerificationCode, error)
	// IncrementAttempts bumps the attempt counter and returns the new value.
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	// Consume marks a code verified and used, only if it is still unused and
	// unexpired. Returns false when another caller got there first.
	Consume(ctx context.Context, id int64) (bool, error)
	// InvalidateActive soft-invalidates all active codes for an email
	// (resend path, keeps the audit trail).
	InvalidateActive(ctx context.Context, email string) (int64, error)
	// DeleteByID removes a code regardless of state (issuance rollback).
	DeleteByID(ctx context.Context, id int64) error
	// DeleteExpired removes codes past their expiry regardless of state.
	DeleteExpired(ctx context.Context) (int64, error)
}

type verificationRepo struct {
	pool *pgxpool.Pool
}

func NewVerificationRepo(pool *pgxpool.Pool) VerificationRepo {
	return &verificationRepo{pool: pool}
}

const verificationCols = `id, email, code, expires_at, attempts, is_verified, is_used, created_at`

func (r *verificationRepo) Create(ctx context.Context, email, code string, expiresAt time.Time) (*domain.VerificationCode, error) {
	const q = `INSERT INTO verification_codes (email, code, expires_at)
		VALUES ($1, $2, $3)
		RETURNING ` + verificationCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c domain.VerificationCode
	err := r.pool.QueryRow(ctx, q, email, code, expiresAt).Scan(
		&c.ID, &c.Email, &c.Code, &c.ExpiresAt,
		&c.Attempts, &c.IsVerified, &c.IsUsed, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *verificationRepo) FindActiveByEmail(ctx context.Context, email string) (*domain.VerificationCode, error) {
	const q = `SELECT ` + verificationCols + ` FROM verification_codes
		WHERE lower(email) = lower($1)
		  AND is_used = false
		  AND is_verified = false
		  AND expires_at > now()
		ORDER BY id DESC
		LIMIT 1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c domain.VerificationCode
	err := r.pool.QueryRow(ctx, q, email).Scan(
		&c.ID, &c.Email, &c.Code, &c.ExpiresAt,
		&c.Attempts, &c.IsVerified, &c.IsUsed, &c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *verificationRepo) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	const q = `UPDATE verification_codes
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var attempts int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *verificationRepo) Consume(ctx context.Context, id int64) (bool, error) {
	// Conditional update keeps racing VerifyCode calls from both winning.
	const q = `UPDATE verification_codes
		SET is_verified = true, is_used = true
		WHERE id = $1
		  AND is_used = false
		  AND expires_at > now()`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *verificationRepo) InvalidateActive(ctx context.Context, email string) (int64, error) {
	const q = `UPDATE verification_codes
		SET is_used = true
		WHERE lower(email) = lower($1)
		  AND is_used = false
		  AND is_verified = false`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, email)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *verificationRepo) DeleteByID(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `DELETE FROM verification_codes WHERE id = $1`, id)
	return err
}

func (r *verificationRepo) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM verification_codes WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
