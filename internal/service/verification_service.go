package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/domain"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/platform/mailer"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/renovatio"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/repo/postgres"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/utils"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/config"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/events"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/logger"
)

// SchedulingGateway is the remote CRM boundary. The orchestrator only ever
// needs the create call; status/cancel/confirm are admin-side concerns.
type SchedulingGateway interface {
	CreateAppointment(ctx context.Context, req *renovatio.CreateAppointmentRequest) (string, error)
}

// VerificationService drives the issuance → delivery → validation →
// promotion pipeline. It is the only component that creates or finalizes a
// VerificationCode/AppointmentRequest pair.
type VerificationService interface {
	IssueCode(ctx context.Context, in *domain.CreateRequestInput) (*domain.IssueResult, error)
	VerifyCode(ctx context.Context, email, code string) (*domain.Appointment, error)
	ResendCode(ctx context.Context, email string) (*domain.IssueResult, error)
	Status(ctx context.Context, email string) (*domain.VerificationStatus, error)
	Cleanup(ctx context.Context) (codesRemoved, requestsRemoved int64, err error)
}

type verificationService struct {
	verifyRepo  postgres.VerificationRepo
	requestRepo postgres.RequestRepo
	apptRepo    postgres.AppointmentRepo
	mailer      mailer.Service
	gateway     SchedulingGateway
	bus         events.Publisher // optional
	cfg         config.VerificationConfig
	now         func() time.Time
}

func NewVerificationService(
	verifyRepo postgres.VerificationRepo,
	requestRepo postgres.RequestRepo,
	apptRepo postgres.AppointmentRepo,
	mailSvc mailer.Service,
	gateway SchedulingGateway,
	bus events.Publisher,
	cfg config.VerificationConfig,
) VerificationService {
	return &verificationService{
		verifyRepo:  verifyRepo,
		requestRepo: requestRepo,
		apptRepo:    apptRepo,
		mailer:      mailSvc,
		gateway:     gateway,
		bus:         bus,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *verificationService) IssueCode(ctx context.Context, in *domain.CreateRequestInput) (*domain.IssueResult, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, domain.ErrInvalidInput(err.Error())
	}

	now := s.now()

	existing, err := s.requestRepo.FindActiveByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing request: %w", err)
	}
	if existing != nil && !existing.IsExpired(now) {
		return nil, domain.ErrActiveRequestExists()
	}

	draft := &domain.AppointmentRequest{
		Email:          in.Email,
		Phone:          in.Phone,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		ThirdName:      in.ThirdName,
		BirthDate:      in.BirthDate,
		Gender:         in.Gender,
		DoctorID:       in.DoctorID,
		ClinicID:       in.ClinicID,
		ServiceID:      in.ServiceID,
		TimeStart:      in.TimeStart,
		TimeEnd:        in.TimeEnd,
		Comment:        in.Comment,
		Channel:        in.Channel,
		Source:         in.Source,
		Type:           in.Type,
		IsOutside:      in.IsOutside,
		IsTelemedicine: in.IsTelemedicine,
		ExpiresAt:      now.Add(domain.RequestTTL),
	}

	created, err := s.requestRepo.Create(ctx, draft)
	if err != nil {
		// A concurrent IssueCode for the same email loses the insert race
		// and surfaces as ACTIVE_REQUEST_EXISTS.
		if de := domain.AsError(err); de != nil {
			return nil, de
		}
		return nil, fmt.Errorf("failed to create appointment request: %w", err)
	}

	result, err := s.issueCodeFor(ctx, created, now)
	if err != nil {
		// Issuance is all-or-nothing: drop the just-created draft.
		if delErr := s.requestRepo.Delete(ctx, created.ID); delErr != nil {
			logger.ErrorContext(ctx, "Failed to roll back appointment request", "error", delErr, "request_id", created.ID)
		}
		return nil, err
	}

	s.publish(ctx, events.VerificationCodeSent, events.CodeSentEvent{
		Email:     created.Email,
		RequestID: created.ID,
		ExpiresAt: result.ExpiresAt,
		SentAt:    now,
	})

	return result, nil
}

// issueCodeFor generates, persists, delivers and links a fresh code for an
// existing draft. On delivery failure the code is removed and
// DELIVERY_FAILED is returned; the caller decides what happens to the draft.
func (s *verificationService) issueCodeFor(ctx context.Context, draft *domain.AppointmentRequest, now time.Time) (*domain.IssueResult, error) {
	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	// A code must never outlive the draft it verifies, or a late resend
	// would hand out a code with nothing left to promote.
	expiresAt := now.Add(s.cfg.CodeTTL)
	if expiresAt.After(draft.ExpiresAt) {
		expiresAt = draft.ExpiresAt
	}

	vc, err := s.verifyRepo.Create(ctx, draft.Email, code, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store verification code: %w", err)
	}

	if err := s.mailer.SendVerificationCode(draft.Email, code, s.cfg.CodeTTL); err != nil {
		logger.ErrorContext(ctx, "Failed to send verification code", "error", err, "email", draft.Email)
		if delErr := s.verifyRepo.DeleteByID(ctx, vc.ID); delErr != nil {
			logger.ErrorContext(ctx, "Failed to roll back verification code", "error", delErr, "code_id", vc.ID)
		}
		return nil, domain.ErrDeliveryFailed()
	}

	if err := s.requestRepo.LinkVerification(ctx, draft.ID, vc.ID); err != nil {
		// The code was delivered; promotion still works via email lookup.
		logger.WarnContext(ctx, "Failed to link verification code to request", "error", err, "request_id", draft.ID)
	}

	return &domain.IssueResult{
		RequestID:      draft.ID,
		VerificationID: vc.ID,
		ExpiresAt:      vc.ExpiresAt,
		TimeLeft:       vc.TimeLeft(now),
	}, nil
}

func (s *verificationService) VerifyCode(ctx context.Context, email, submitted string) (*domain.Appointment, error) {
	email = utils.NormalizeEmail(email)
	submitted = strings.TrimSpace(submitted)
	now := s.now()

	vc, err := s.verifyRepo.FindActiveByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up verification code: %w", err)
	}
	if vc == nil || !vc.IsActive(now) {
		return nil, domain.ErrCodeNotFound()
	}

	if vc.Attempts >= s.cfg.MaxAttempts {
		return nil, domain.ErrMaxAttempts()
	}

	// Both sides are digit strings; plain comparison, no coercion.
	if vc.Code != submitted {
		attempts, err := s.verifyRepo.IncrementAttempts(ctx, vc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to record failed attempt: %w", err)
		}
		if attempts >= s.cfg.MaxAttempts {
			return nil, domain.ErrMaxAttempts()
		}
		return nil, domain.ErrInvalidCode(s.cfg.MaxAttempts - attempts)
	}

	// Find the draft before consuming: a match with nothing to promote
	// must leave the code intact.
	draft, err := s.requestRepo.FindActiveByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up appointment request: %w", err)
	}
	if draft == nil || draft.IsExpired(now) {
		return nil, domain.ErrCodeNotFound()
	}

	consumed, err := s.verifyRepo.Consume(ctx, vc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification code: %w", err)
	}
	if !consumed {
		// A concurrent VerifyCode won the race.
		return nil, domain.ErrCodeNotFound()
	}

	externalID, err := s.gateway.CreateAppointment(ctx, buildRemoteRequest(draft))
	if err != nil {
		// The code stays consumed and the draft stays in place for manual
		// reconciliation; see the REMOTE_CREATE_FAILED contract.
		logger.ErrorContext(ctx, "Remote appointment creation failed",
			"error", err, "email", email, "request_id", draft.ID)
		return nil, domain.ErrRemoteCreateFailed()
	}

	appt := &domain.Appointment{
		RenovatioID: externalID,
		FirstName:   draft.FirstName,
		LastName:    draft.LastName,
		Email:       draft.Email,
		Phone:       draft.Phone,
		DoctorID:    draft.DoctorID,
		ClinicID:    draft.ClinicID,
		ServiceID:   draft.ServiceID,
		TimeStart:   draft.TimeStart,
		TimeEnd:     draft.TimeEnd,
		Status:      domain.AppointmentUpcoming,
	}

	stored, err := s.apptRepo.Create(ctx, appt)
	if err != nil {
		// The remote appointment exists regardless of the local cache.
		logger.ErrorContext(ctx, "Failed to cache appointment locally", "error", err, "renovatio_id", externalID)
		stored = appt
	}

	// Best-effort: the appointment exists whether or not this mail lands.
	if err := s.mailer.SendAppointmentConfirmation(draft.Email, draft.FirstName, draft.TimeStart, draft.TimeEnd); err != nil {
		logger.WarnContext(ctx, "Failed to send confirmation email", "error", err, "email", draft.Email)
	}

	if err := s.requestRepo.Delete(ctx, draft.ID); err != nil {
		logger.ErrorContext(ctx, "Failed to delete promoted request", "error", err, "request_id", draft.ID)
	}

	s.publish(ctx, events.AppointmentCreated, events.AppointmentCreatedEvent{
		RenovatioID: externalID,
		Email:       draft.Email,
		DoctorID:    draft.DoctorID,
		ClinicID:    draft.ClinicID,
		TimeStart:   draft.TimeStart,
		TimeEnd:     draft.TimeEnd,
		CreatedAt:   now,
	})

	return stored, nil
}

func (s *verificationService) ResendCode(ctx context.Context, email string) (*domain.IssueResult, error) {
	email = utils.NormalizeEmail(email)
	if !utils.IsValidEmail(email) {
		return nil, domain.ErrInvalidInput("invalid email format")
	}
	now := s.now()

	draft, err := s.requestRepo.FindActiveByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up appointment request: %w", err)
	}
	if draft == nil || draft.IsExpired(now) {
		return nil, domain.ErrCodeNotFound()
	}

	vc, err := s.verifyRepo.FindActiveByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up verification code: %w", err)
	}
	if vc != nil && vc.IsActive(now) && vc.Attempts < s.cfg.MaxAttempts {
		if timeLeft := vc.TimeLeft(now); timeLeft > int64(s.cfg.ResendWindow.Seconds()) {
			return nil, domain.ErrResendNotAllowed(timeLeft)
		}
	}

	// Soft-invalidate rather than delete, keeping the audit trail.
	if _, err := s.verifyRepo.InvalidateActive(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to invalidate previous codes: %w", err)
	}

	result, err := s.issueCodeFor(ctx, draft, now)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.VerificationCodeResent, events.CodeSentEvent{
		Email:     email,
		RequestID: draft.ID,
		ExpiresAt: result.ExpiresAt,
		SentAt:    now,
	})

	return result, nil
}

func (s *verificationService) Status(ctx context.Context, email string) (*domain.VerificationStatus, error) {
	email = utils.NormalizeEmail(email)
	now := s.now()

	vc, err := s.verifyRepo.FindActiveByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up verification code: %w", err)
	}
	if vc == nil || !vc.IsActive(now) {
		return &domain.VerificationStatus{HasActiveCode: false, CanResend: true}, nil
	}

	remaining := s.cfg.MaxAttempts - vc.Attempts
	if remaining < 0 {
		remaining = 0
	}
	timeLeft := vc.TimeLeft(now)

	return &domain.VerificationStatus{
		HasActiveCode:     true,
		TimeLeft:          timeLeft,
		Attempts:          vc.Attempts,
		RemainingAttempts: remaining,
		ExpiresAt:         &vc.ExpiresAt,
		CanResend:         remaining == 0 || timeLeft <= int64(s.cfg.ResendWindow.Seconds()),
	}, nil
}

func (s *verificationService) Cleanup(ctx context.Context) (int64, int64, error) {
	codes, err := s.verifyRepo.DeleteExpired(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	requests, err := s.requestRepo.DeleteExpired(ctx)
	if err != nil {
		return codes, 0, fmt.Errorf("failed to delete expired requests: %w", err)
	}

	s.publish(ctx, events.CleanupCompleted, events.CleanupCompletedEvent{
		CodesRemoved:    codes,
		RequestsRemoved: requests,
		CompletedAt:     s.now(),
	})

	return codes, requests, nil
}

func (s *verificationService) publish(ctx context.Context, subject string, payload interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "error", err, "subject", subject)
	}
}

func buildRemoteRequest(draft *domain.AppointmentRequest) *renovatio.CreateAppointmentRequest {
	req := &renovatio.CreateAppointmentRequest{
		FirstName:      draft.FirstName,
		LastName:       draft.LastName,
		ThirdName:      draft.ThirdName,
		Phone:          draft.Phone,
		Email:          draft.Email,
		BirthDate:      draft.BirthDate,
		Gender:         draft.Gender,
		DoctorID:       draft.DoctorID,
		ClinicID:       draft.ClinicID,
		TimeStart:      draft.TimeStart,
		TimeEnd:        draft.TimeEnd,
		Comment:        draft.Comment,
		Channel:        draft.Channel,
		Source:         draft.Source,
		Type:           draft.Type,
		IsOutside:      renovatio.Flag(draft.IsOutside),
		IsTelemedicine: renovatio.Flag(draft.IsTelemedicine),
	}
	if draft.ServiceID != nil {
		req.ServiceID = *draft.ServiceID
	}
	return req
}

// generateCode draws a uniform random integer in [10^(n-1), 10^n - 1], so a
// 4-digit code is always 4 digits and no value is structurally unreachable.
func generateCode(length int) (string, error) {
	if length < 1 {
		length = 4
	}
	lo := int64(1)
	for i := 1; i < length; i++ {
		lo *= 10
	}
	hi := lo*10 - 1

	n, err := rand.Int(rand.Reader, big.NewInt(hi-lo+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(lo+n.Int64(), 10), nil
}
