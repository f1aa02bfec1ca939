package mailer

import (
	"fmt"
	"time"
)

// Service sends transactional mail for the booking flow. A failed
// verification-code send aborts issuance; a failed confirmation send is
// logged by the caller and swallowed.
type Service interface {
	Send(toEmail, toName, subject, text, html string) (string, error)
	SendVerificationCode(email, code string, ttl time.Duration) error
	SendAppointmentConfirmation(email, firstName, timeStart, timeEnd string) error
}

func verificationCodeMessage(code string, ttl time.Duration) (subject, text, html string) {
	minutes := int(ttl.Minutes())
	subject = "Код подтверждения записи — Эвимед"
	text = fmt.Sprintf("Ваш код подтверждения: %s\nКод действителен %d минут.", code, minutes)
	html = fmt.Sprintf(`<p>Ваш код подтверждения: <b>%s</b></p>
        <p>Код действителен %d минут.</p>`, code, minutes)
	return subject, text, html
}

func confirmationMessage(firstName, timeStart, timeEnd string) (subject, text, html string) {
	subject = "Вы записаны на приём — Эвимед"
	text = fmt.Sprintf("%s, ваша запись подтверждена.\nВремя приёма: %s — %s.", firstName, timeStart, timeEnd)
	html = fmt.Sprintf(`<p>%s, ваша запись подтверждена.</p>
        <p>Время приёма: <b>%s — %s</b>.</p>`, firstName, timeStart, timeEnd)
	return subject, text, html
}
