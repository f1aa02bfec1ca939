package domain

import "time"

// Draft booking lifetime. Creation + 1 hour, fixed by product decision
// (the verification code TTL is configurable, the draft TTL is not).
const RequestTTL = time.Hour

// VerificationCode is a short-lived numeric token proving control of an
// email address before an appointment is finalized.
type VerificationCode struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Code       string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
	Attempts   int       `json:"attempts"`
	IsVerified bool      `json:"is_verified"`
	IsUsed     bool      `json:"is_used"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c *VerificationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *VerificationCode) IsActive(now time.Time) bool {
	return !c.IsUsed && !c.IsVerified && !c.IsExpired(now)
}

// TimeLeft returns whole seconds until expiry, never negative.
func (c *VerificationCode) TimeLeft(now time.Time) int64 {
	left := int64(c.ExpiresAt.Sub(now).Seconds())
	if left < 0 {
		return 0
	}
	return left
}

// AppointmentRequest is a locally staged booking payload awaiting email
// verification before being sent to the remote scheduler. IsVerified means
// "a verification code has been issued and linked", not "confirmed".
type AppointmentRequest struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	ThirdName      string    `json:"third_name,omitempty"`
	BirthDate      string    `json:"birth_date,omitempty"`
	Gender         string    `json:"gender,omitempty"`
	DoctorID       int64     `json:"doctor_id"`
	ClinicID       int64     `json:"clinic_id"`
	ServiceID      *int64    `json:"service_id,omitempty"`
	TimeStart      string    `json:"time_start"`
	TimeEnd        string    `json:"time_end"`
	Comment        string    `json:"comment,omitempty"`
	Channel        string    `json:"channel,omitempty"`
	Source         string    `json:"source,omitempty"`
	Type           string    `json:"type,omitempty"`
	IsOutside      bool      `json:"is_outside"`
	IsTelemedicine bool      `json:"is_telemedicine"`
	IsVerified     bool      `json:"is_verified"`
	VerificationID *int64    `json:"verification_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r *AppointmentRequest) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// CreateRequestInput is the body of POST /verification/send-code.
type CreateRequestInput struct {
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ThirdName      string `json:"third_name,omitempty"`
	BirthDate      string `json:"birth_date,omitempty"`
	Gender         string `json:"gender,omitempty"`
	DoctorID       int64  `json:"doctor_id"`
	ClinicID       int64  `json:"clinic_id"`
	ServiceID      *int64 `json:"service_id,omitempty"`
	TimeStart      string `json:"time_start"`
	TimeEnd        string `json:"time_end"`
	Comment        string `json:"comment,omitempty"`
	Channel        string `json:"channel,omitempty"`
	Source         string `json:"source,omitempty"`
	Type           string `json:"type,omitempty"`
	IsOutside      bool   `json:"is_outside,omitempty"`
	IsTelemedicine bool   `json:"is_telemedicine,omitempty"`
}

// IssueResult is what a successful send-code/resend-code returns.
type IssueResult struct {
	RequestID      int64     `json:"requestId"`
	VerificationID int64     `json:"verificationId"`
	ExpiresAt      time.Time `json:"expiresAt"`
	TimeLeft       int64     `json:"timeLeft"`
}

// VerificationStatus is the payload of GET /verification/status/{email}.
type VerificationStatus struct {
	HasActiveCode     bool       `json:"hasActiveCode"`
	TimeLeft          int64      `json:"timeLeft,omitempty"`
	Attempts          int        `json:"attempts,omitempty"`
	RemainingAttempts int        `json:"remainingAttempts,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	CanResend         bool       `json:"canResend"`
}
