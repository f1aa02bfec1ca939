package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RequestRepo defines operations on draft booking payloads. The table carries
// a unique index on lower(email), so "one active draft per email" holds even
// when two IssueCode calls race: the second insert fails and is surfaced as
// ACTIVE_REQUEST_EXISTS.
type RequestRepo interface {
	Create(ctx context.Context, req *domain.AppointmentRequest) (*domain.AppointmentRequest, error)
	FindActiveByEmail(ctx context.Context, email string) (*domain.AppointmentRequest, error)
	// LinkVerification stores the code id on the draft and flips is_verified
	// (meaning "a code has been issued", not "confirmed").
	LinkVerification(ctx context.Context, id, verificationID int64) error
	Delete(ctx context.Context, id int64) error
	// DeleteExpired removes drafts past expiry that were never promoted.
	// Promoted drafts are deleted at promotion time.
	DeleteExpired(ctx context.Context) (int64, error)
}

type requestRepo struct {
	pool *pgxpool.Pool
}

func NewRequestRepo(pool *pgxpool.Pool) RequestRepo {
	return &requestRepo{pool: pool}
}

const requestCols = `id, email, phone, first_name, last_name, third_name,
birth_date, gender, doctor_id, clinic_id, service_id,
time_start, time_end, comment, channel, source, type,
is_outside, is_telemedicine, is_verified, verification_id,
expires_at, created_at`

func scanRequest(row pgx.Row) (*domain.AppointmentRequest, error) {
	var a domain.AppointmentRequest
	err := row.Scan(
		&a.ID, &a.Email, &a.Phone, &a.FirstName, &a.LastName, &a.ThirdName,
		&a.BirthDate, &a.Gender, &a.DoctorID, &a.ClinicID, &a.ServiceID,
		&a.TimeStart, &a.TimeEnd, &a.Comment, &a.Channel, &a.Source, &a.Type,
		&a.IsOutside, &a.IsTelemedicine, &a.IsVerified, &a.VerificationID,
		&a.ExpiresAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *requestRepo) Create(ctx context.Context, req *domain.AppointmentRequest) (*domain.AppointmentRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// An expired leftover for this email would trip the unique index even
	// though it no longer counts as active. Reclaim it first.
	if _, err := tx.Exec(ctx,
		`DELETE FROM appointment_requests WHERE lower(email) = lower($1) AND expires_at <= now()`,
		req.Email,
	); err != nil {
		return nil, err
	}

	const q = `INSERT INTO appointment_requests (
		email, phone, first_name, last_name, third_name,
		birth_date, gender, doctor_id, clinic_id, service_id,
		time_start, time_end, comment, channel, source, type,
		is_outside, is_telemedicine, expires_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	RETURNING ` + requestCols

	created, err := scanRequest(tx.QueryRow(ctx, q,
		req.Email, req.Phone, req.FirstName, req.LastName, req.ThirdName,
		req.BirthDate, req.Gender, req.DoctorID, req.ClinicID, req.ServiceID,
		req.TimeStart, req.TimeEnd, req.Comment, req.Channel, req.Source, req.Type,
		req.IsOutside, req.IsTelemedicine, req.ExpiresAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrActiveRequestExists()
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *requestRepo) FindActiveByEmail(ctx context.Context, email string) (*domain.AppointmentRequest, error) {
	const q = `SELECT ` + requestCols + ` FROM appointment_requests
		WHERE lower(email) = lower($1) AND expires_at > now()
		LIMIT 1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := scanRequest(r.pool.QueryRow(ctx, q, email))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *requestRepo) LinkVerification(ctx context.Context, id, verificationID int64) error {
	const q = `UPDATE appointment_requests
		SET verification_id = $2, is_verified = true
		WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, id, verificationID)
	return err
}

func (r *requestRepo) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `DELETE FROM appointment_requests WHERE id = $1`, id)
	return err
}

func (r *requestRepo) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM appointment_requests WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
