package postgres

import (
	"context"
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AppointmentRepo caches remote appointments locally by external id.
type AppointmentRepo interface {
	Create(ctx context.Context, a *domain.Appointment) (*domain.Appointment, error)
	GetByRenovatioID(ctx context.Context, renovatioID string) (*domain.Appointment, error)
	UpdateStatus(ctx context.Context, renovatioID string, status domain.AppointmentStatus) error
}

type appointmentRepo struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepo {
	return &appointmentRepo{pool: pool}
}

const appointmentCols = `id, renovatio_id, first_name, last_name, email, phone,
doctor_id, clinic_id, service_id, time_start, time_end, status,
created_at, updated_at`

func scanAppointment(row pgx.Row) (*domain.Appointment, error) {
	var a domain.Appointment
	err := row.Scan(
		&a.ID, &a.RenovatioID, &a.FirstName, &a.LastName, &a.Email, &a.Phone,
		&a.DoctorID, &a.ClinicID, &a.ServiceID, &a.TimeStart, &a.TimeEnd, &a.Status,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepo) Create(ctx context.Context, a *domain.Appointment) (*domain.Appointment, error) {
	const q = `INSERT INTO appointments (
		renovatio_id, first_name, last_name, email, phone,
		doctor_id, clinic_id, service_id, time_start, time_end, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	RETURNING ` + appointmentCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanAppointment(r.pool.QueryRow(ctx, q,
		a.RenovatioID, a.FirstName, a.LastName, a.Email, a.Phone,
		a.DoctorID, a.ClinicID, a.ServiceID, a.TimeStart, a.TimeEnd, a.Status,
	))
}

func (r *appointmentRepo) GetByRenovatioID(ctx context.Context, renovatioID string) (*domain.Appointment, error) {
	const q = `SELECT ` + appointmentCols + ` FROM appointments WHERE renovatio_id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	a, err := scanAppointment(r.pool.QueryRow(ctx, q, renovatioID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *appointmentRepo) UpdateStatus(ctx context.Context, renovatioID string, status domain.AppointmentStatus) error {
	const q = `UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE renovatio_id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, renovatioID, status)
	return err
}
