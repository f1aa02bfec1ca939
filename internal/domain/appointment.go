package domain

import "time"

// AppointmentStatus mirrors the status set of the remote scheduler.
type AppointmentStatus string

const (
	AppointmentUpcoming  AppointmentStatus = "upcoming"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentRefused   AppointmentStatus = "refused"
	AppointmentCanceled  AppointmentStatus = "canceled"
	AppointmentCompleted AppointmentStatus = "completed"
)

func ParseAppointmentStatus(s string) (AppointmentStatus, bool) {
	switch AppointmentStatus(s) {
	case AppointmentUpcoming, AppointmentConfirmed, AppointmentRefused, AppointmentCanceled, AppointmentCompleted:
		return AppointmentStatus(s), true
	default:
		return "", false
	}
}

// Appointment caches the remote appointment locally: the external id plus
// last-known status for display and admin purposes. The remote scheduler
// owns the real record.
type Appointment struct {
	ID          int64             `json:"id"`
	RenovatioID string            `json:"renovatioId"`
	FirstName   string            `json:"firstName"`
	LastName    string            `json:"lastName"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone"`
	DoctorID    int64             `json:"doctorId"`
	ClinicID    int64             `json:"clinicId"`
	ServiceID   *int64            `json:"serviceId,omitempty"`
	TimeStart   string            `json:"timeStart"`
	TimeEnd     string            `json:"timeEnd"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
