package mailer

import (
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/pkg/logger"
)

// DevMailer prints mail to the log instead of sending it.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	logger.Info("[DEV MAIL]", "to", toEmail, "subject", subject, "text", text)
	return "dev", nil
}

func (d *DevMailer) SendVerificationCode(email, code string, ttl time.Duration) error {
	logger.Info("[DEV MAIL] Verification code",
		"to", email,
		"code", code,
		"ttl", ttl.String(),
	)
	return nil
}

func (d *DevMailer) SendAppointmentConfirmation(email, firstName, timeStart, timeEnd string) error {
	logger.Info("[DEV MAIL] Appointment confirmation",
		"to", email,
		"name", firstName,
		"time_start", timeStart,
		"time_end", timeEnd,
	)
	return nil
}
