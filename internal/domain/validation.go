package domain

import (
	"errors"
	"strings"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/utils"
)

func (in *CreateRequestInput) Normalize() {
	in.Email = utils.NormalizeEmail(in.Email)
	in.Phone = utils.NormalizePhone(in.Phone)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.ThirdName = strings.TrimSpace(in.ThirdName)
	in.Comment = strings.TrimSpace(in.Comment)
}

func (in *CreateRequestInput) Validate() error {
	if in.Email == "" {
		return errors.New("email is required")
	}
	if !utils.IsValidEmail(in.Email) {
		return errors.New("invalid email format")
	}
	if in.FirstName == "" {
		return errors.New("first_name is required")
	}
	if in.LastName == "" {
		return errors.New("last_name is required")
	}
	if !utils.IsValidPhone(in.Phone) {
		return errors.New("invalid phone number")
	}
	if in.DoctorID <= 0 {
		return errors.New("doctor_id is required")
	}
	if in.ClinicID <= 0 {
		return errors.New("clinic_id is required")
	}
	if in.TimeStart == "" || in.TimeEnd == "" {
		return errors.New("time_start and time_end are required")
	}
	return nil
}
