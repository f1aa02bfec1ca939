package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/domain"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/renovatio"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/config"
)

// ---------- Fakes ----------

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type memVerifyRepo struct {
	nextID int64
	codes  map[int64]*domain.VerificationCode
	now    func() time.Time
}

func newMemVerifyRepo(now func() time.Time) *memVerifyRepo {
	return &memVerifyRepo{nextID: 1, codes: make(map[int64]*domain.VerificationCode), now: now}
}

func (m *memVerifyRepo) Create(_ context.Context, email, code string, expiresAt time.Time) (*domain.VerificationCode, error) {
	c := &domain.VerificationCode{
		ID:        m.nextID,
		Email:     email,
		Code:      code,
		ExpiresAt: expiresAt,
		CreatedAt: m.now(),
	}
	m.codes[c.ID] = c
	m.nextID++
	cp := *c
	return &cp, nil
}

func (m *memVerifyRepo) FindActiveByEmail(_ context.Context, email string) (*domain.VerificationCode, error) {
	var newest *domain.VerificationCode
	for _, c := range m.codes {
		if c.Email == email && c.IsActive(m.now()) {
			if newest == nil || c.ID > newest.ID {
				newest = c
			}
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (m *memVerifyRepo) IncrementAttempts(_ context.Context, id int64) (int, error) {
	c, ok := m.codes[id]
	if !ok {
		return 0, errors.New("no such code")
	}
	c.Attempts++
	return c.Attempts, nil
}

func (m *memVerifyRepo) Consume(_ context.Context, id int64) (bool, error) {
	c, ok := m.codes[id]
	if !ok || c.IsUsed || c.IsExpired(m.now()) {
		return false, nil
	}
	c.IsUsed = true
	c.IsVerified = true
	return true, nil
}

func (m *memVerifyRepo) InvalidateActive(_ context.Context, email string) (int64, error) {
	var n int64
	for _, c := range m.codes {
		if c.Email == email && !c.IsUsed && !c.IsVerified {
			c.IsUsed = true
			n++
		}
	}
	return n, nil
}

func (m *memVerifyRepo) DeleteByID(_ context.Context, id int64) error {
	delete(m.codes, id)
	return nil
}

func (m *memVerifyRepo) DeleteExpired(_ context.Context) (int64, error) {
	var n int64
	for id, c := range m.codes {
		if c.IsExpired(m.now()) {
			delete(m.codes, id)
			n++
		}
	}
	return n, nil
}

type memRequestRepo struct {
	nextID int64
	reqs   map[int64]*domain.AppointmentRequest
	now    func() time.Time
}

func newMemRequestRepo(now func() time.Time) *memRequestRepo {
	return &memRequestRepo{nextID: 1, reqs: make(map[int64]*domain.AppointmentRequest), now: now}
}

func (m *memRequestRepo) Create(_ context.Context, req *domain.AppointmentRequest) (*domain.AppointmentRequest, error) {
	for id, r := range m.reqs {
		if r.Email != req.Email {
			continue
		}
		if r.IsExpired(m.now()) {
			delete(m.reqs, id)
			continue
		}
		return nil, domain.ErrActiveRequestExists()
	}
	cp := *req
	cp.ID = m.nextID
	cp.CreatedAt = m.now()
	m.nextID++
	m.reqs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRequestRepo) FindActiveByEmail(_ context.Context, email string) (*domain.AppointmentRequest, error) {
	for _, r := range m.reqs {
		if r.Email == email && !r.IsExpired(m.now()) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRequestRepo) LinkVerification(_ context.Context, id, verificationID int64) error {
	r, ok := m.reqs[id]
	if !ok {
		return errors.New("no such request")
	}
	r.VerificationID = &verificationID
	r.IsVerified = true
	return nil
}

func (m *memRequestRepo) Delete(_ context.Context, id int64) error {
	delete(m.reqs, id)
	return nil
}

func (m *memRequestRepo) DeleteExpired(_ context.Context) (int64, error) {
	var n int64
	for id, r := range m.reqs {
		if r.IsExpired(m.now()) {
			delete(m.reqs, id)
			n++
		}
	}
	return n, nil
}

type memAppointmentRepo struct {
	nextID int64
	appts  map[string]*domain.Appointment
}

func newMemAppointmentRepo() *memAppointmentRepo {
	return &memAppointmentRepo{nextID: 1, appts: make(map[string]*domain.Appointment)}
}

func (m *memAppointmentRepo) Create(_ context.Context, a *domain.Appointment) (*domain.Appointment, error) {
	cp := *a
	cp.ID = m.nextID
	m.nextID++
	m.appts[cp.RenovatioID] = &cp
	out := cp
	return &out, nil
}

func (m *memAppointmentRepo) GetByRenovatioID(_ context.Context, renovatioID string) (*domain.Appointment, error) {
	a, ok := m.appts[renovatioID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAppointmentRepo) UpdateStatus(_ context.Context, renovatioID string, status domain.AppointmentStatus) error {
	if a, ok := m.appts[renovatioID]; ok {
		a.Status = status
	}
	return nil
}

type mockMailer struct {
	codeErr      error
	confirmErr   error
	lastEmail    string
	lastCode     string
	codeSends    int
	confirmSends int
}

func (m *mockMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	return "mock-id", nil
}

func (m *mockMailer) SendVerificationCode(email, code string, _ time.Duration) error {
	if m.codeErr != nil {
		return m.codeErr
	}
	m.lastEmail = email
	m.lastCode = code
	m.codeSends++
	return nil
}

func (m *mockMailer) SendAppointmentConfirmation(email, _, _, _ string) error {
	if m.confirmErr != nil {
		return m.confirmErr
	}
	m.confirmSends++
	return nil
}

type mockGateway struct {
	id      string
	err     error
	calls   int
	lastReq *renovatio.CreateAppointmentRequest
}

func (g *mockGateway) CreateAppointment(_ context.Context, req *renovatio.CreateAppointmentRequest) (string, error) {
	g.calls++
	g.lastReq = req
	if g.err != nil {
		return "", g.err
	}
	return g.id, nil
}

// ---------- Setup ----------

type testEnv struct {
	svc     *verificationService
	clock   *fakeClock
	codes   *memVerifyRepo
	reqs    *memRequestRepo
	appts   *memAppointmentRepo
	mailer  *mockMailer
	gateway *mockGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	codes := newMemVerifyRepo(clock.Now)
	reqs := newMemRequestRepo(clock.Now)
	appts := newMemAppointmentRepo()
	mail := &mockMailer{}
	gw := &mockGateway{id: "ext-123"}

	cfg := config.VerificationConfig{
		CodeLength:   4,
		CodeTTL:      10 * time.Minute,
		MaxAttempts:  3,
		ResendWindow: 60 * time.Second,
	}

	svc := NewVerificationService(codes, reqs, appts, mail, gw, nil, cfg).(*verificationService)
	svc.now = clock.Now

	return &testEnv{svc: svc, clock: clock, codes: codes, reqs: reqs, appts: appts, mailer: mail, gateway: gw}
}

func validInput(email string) *domain.CreateRequestInput {
	return &domain.CreateRequestInput{
		Email:          email,
		Phone:          "+79991234567",
		FirstName:      "Иван",
		LastName:       "Петров",
		DoctorID:       42,
		ClinicID:       7,
		TimeStart:      "2025-03-12 10:00:00",
		TimeEnd:        "2025-03-12 10:30:00",
		IsTelemedicine: false,
	}
}

func assertCode(t *testing.T, err error, want string) {
	t.Helper()
	de := domain.AsError(err)
	if de == nil {
		t.Fatalf("expected domain error %s, got %v", want, err)
	}
	if de.Code != want {
		t.Fatalf("expected error code %s, got %s", want, de.Code)
	}
}

// ---------- Tests ----------

func TestIssueCode_Success(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.IssueCode(context.Background(), validInput("Test@Example.com"))
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	if result.RequestID == 0 || result.VerificationID == 0 {
		t.Fatal("expected request and verification ids")
	}
	if result.TimeLeft != 600 {
		t.Fatalf("expected 600s left, got %d", result.TimeLeft)
	}

	if env.mailer.lastEmail != "test@example.com" {
		t.Fatalf("code sent to %q, want normalized email", env.mailer.lastEmail)
	}
	if !regexp.MustCompile(`^\d{4}$`).MatchString(env.mailer.lastCode) {
		t.Fatalf("code %q is not 4 digits", env.mailer.lastCode)
	}

	draft, _ := env.reqs.FindActiveByEmail(context.Background(), "test@example.com")
	if draft == nil {
		t.Fatal("draft not persisted")
	}
	if draft.VerificationID == nil || *draft.VerificationID != result.VerificationID {
		t.Fatal("draft not linked to verification code")
	}
	if got, want := draft.ExpiresAt, env.clock.Now().Add(time.Hour); !got.Equal(want) {
		t.Fatalf("draft expires at %v, want %v", got, want)
	}
}

func TestIssueCode_SecondRequestRejected(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("first IssueCode failed: %v", err)
	}

	_, err := env.svc.IssueCode(context.Background(), validInput("test@example.com"))
	assertCode(t, err, domain.CodeActiveRequestExists)
}

func TestIssueCode_DeliveryFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.codeErr = errors.New("smtp down")

	_, err := env.svc.IssueCode(context.Background(), validInput("test@example.com"))
	assertCode(t, err, domain.CodeDeliveryFailed)

	if draft, _ := env.reqs.FindActiveByEmail(context.Background(), "test@example.com"); draft != nil {
		t.Fatal("draft should be rolled back on delivery failure")
	}
	if code, _ := env.codes.FindActiveByEmail(context.Background(), "test@example.com"); code != nil {
		t.Fatal("code should be rolled back on delivery failure")
	}

	// The user may retry immediately.
	env.mailer.codeErr = nil
	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("retry after delivery failure failed: %v", err)
	}
}

func TestIssueCode_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*domain.CreateRequestInput)
	}{
		{"missing email", func(in *domain.CreateRequestInput) { in.Email = "" }},
		{"bad email", func(in *domain.CreateRequestInput) { in.Email = "not-an-email" }},
		{"missing first name", func(in *domain.CreateRequestInput) { in.FirstName = "" }},
		{"missing doctor", func(in *domain.CreateRequestInput) { in.DoctorID = 0 }},
		{"missing time window", func(in *domain.CreateRequestInput) { in.TimeStart = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput("test@example.com")
			tt.mutate(in)
			_, err := env.svc.IssueCode(context.Background(), in)
			assertCode(t, err, domain.CodeInvalidInput)
		})
	}
}

func TestVerifyCode_PromotesDraft(t *testing.T) {
	env := newTestEnv(t)

	in := validInput("test@example.com")
	in.IsOutside = true
	if _, err := env.svc.IssueCode(context.Background(), in); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	appt, err := env.svc.VerifyCode(context.Background(), "test@example.com", env.mailer.lastCode)
	if err != nil {
		t.Fatalf("VerifyCode failed: %v", err)
	}

	if appt.RenovatioID != "ext-123" {
		t.Fatalf("expected renovatio id ext-123, got %s", appt.RenovatioID)
	}
	if appt.Status != domain.AppointmentUpcoming {
		t.Fatalf("expected status upcoming, got %s", appt.Status)
	}
	if env.gateway.calls != 1 {
		t.Fatalf("expected exactly one gateway call, got %d", env.gateway.calls)
	}
	if env.gateway.lastReq.IsOutside != 1 || env.gateway.lastReq.IsTelemedicine != 2 {
		t.Fatalf("flag sentinels wrong: outside=%d telemedicine=%d",
			env.gateway.lastReq.IsOutside, env.gateway.lastReq.IsTelemedicine)
	}
	if env.mailer.confirmSends != 1 {
		t.Fatal("confirmation email not sent")
	}

	if draft, _ := env.reqs.FindActiveByEmail(context.Background(), "test@example.com"); draft != nil {
		t.Fatal("draft should be deleted after promotion")
	}

	cached, _ := env.appts.GetByRenovatioID(context.Background(), "ext-123")
	if cached == nil {
		t.Fatal("appointment not cached locally")
	}
}

func TestVerifyCode_RepeatFailsWithoutSecondBooking(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	code := env.mailer.lastCode

	if _, err := env.svc.VerifyCode(context.Background(), "test@example.com", code); err != nil {
		t.Fatalf("first VerifyCode failed: %v", err)
	}

	_, err := env.svc.VerifyCode(context.Background(), "test@example.com", code)
	assertCode(t, err, domain.CodeNotFound)

	if env.gateway.calls != 1 {
		t.Fatalf("expected one gateway call total, got %d", env.gateway.calls)
	}
}

func TestVerifyCode_AttemptLimit(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	correct := env.mailer.lastCode
	wrong := "0000"
	if wrong == correct {
		wrong = "0001"
	}

	_, err := env.svc.VerifyCode(context.Background(), "test@example.com", wrong)
	assertCode(t, err, domain.CodeInvalidCode)
	if de := domain.AsError(err); *de.RemainingAttempts != 2 {
		t.Fatalf("expected 2 remaining attempts, got %d", *de.RemainingAttempts)
	}

	_, err = env.svc.VerifyCode(context.Background(), "test@example.com", wrong)
	assertCode(t, err, domain.CodeInvalidCode)
	if de := domain.AsError(err); *de.RemainingAttempts != 1 {
		t.Fatalf("expected 1 remaining attempt, got %d", *de.RemainingAttempts)
	}

	// Third wrong guess exhausts the code.
	_, err = env.svc.VerifyCode(context.Background(), "test@example.com", wrong)
	assertCode(t, err, domain.CodeMaxAttempts)

	// Even the correct code is refused now.
	_, err = env.svc.VerifyCode(context.Background(), "test@example.com", correct)
	assertCode(t, err, domain.CodeMaxAttempts)

	if env.gateway.calls != 0 {
		t.Fatal("gateway must not be called for an exhausted code")
	}
}

func TestVerifyCode_Expired(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	code := env.mailer.lastCode

	env.clock.Advance(11 * time.Minute)

	_, err := env.svc.VerifyCode(context.Background(), "test@example.com", code)
	assertCode(t, err, domain.CodeNotFound)
}

func TestVerifyCode_RemoteFailureKeepsDraft(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	code := env.mailer.lastCode
	env.gateway.err = renovatio.ErrRemote

	_, err := env.svc.VerifyCode(context.Background(), "test@example.com", code)
	assertCode(t, err, domain.CodeRemoteCreateFailed)

	// The draft stays in place for manual reconciliation, the code stays
	// consumed, and no second remote attempt happens automatically.
	if draft, _ := env.reqs.FindActiveByEmail(context.Background(), "test@example.com"); draft == nil {
		t.Fatal("draft must survive a remote create failure")
	}

	env.gateway.err = nil
	_, err = env.svc.VerifyCode(context.Background(), "test@example.com", code)
	assertCode(t, err, domain.CodeNotFound)
	if env.gateway.calls != 1 {
		t.Fatalf("expected one gateway call total, got %d", env.gateway.calls)
	}
}

func TestVerifyCode_ConfirmationFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	env.mailer.confirmErr = errors.New("smtp down")

	appt, err := env.svc.VerifyCode(context.Background(), "test@example.com", env.mailer.lastCode)
	if err != nil {
		t.Fatalf("VerifyCode should succeed despite confirmation failure: %v", err)
	}
	if appt.RenovatioID != "ext-123" {
		t.Fatalf("unexpected appointment: %+v", appt)
	}
	if draft, _ := env.reqs.FindActiveByEmail(context.Background(), "test@example.com"); draft != nil {
		t.Fatal("draft should still be deleted")
	}
}

func TestResendCode_GatedByWindow(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	oldCode := env.mailer.lastCode

	// 9 minutes remaining: resend is still locked.
	env.clock.Advance(time.Minute)
	_, err := env.svc.ResendCode(context.Background(), "test@example.com")
	assertCode(t, err, domain.CodeResendNotAllowed)
	if de := domain.AsError(err); de.TimeLeft != 540 {
		t.Fatalf("expected timeLeft 540, got %d", de.TimeLeft)
	}

	// 30 seconds remaining: resend is allowed.
	env.clock.Advance(8*time.Minute + 30*time.Second)
	result, err := env.svc.ResendCode(context.Background(), "test@example.com")
	if err != nil {
		t.Fatalf("ResendCode failed: %v", err)
	}
	if env.mailer.codeSends != 2 {
		t.Fatalf("expected 2 code sends, got %d", env.mailer.codeSends)
	}
	if result.TimeLeft != 600 {
		t.Fatalf("new code should get a full window, got %d", result.TimeLeft)
	}

	// The superseded code no longer matches, even when resubmitted.
	if oldCode != env.mailer.lastCode {
		_, err = env.svc.VerifyCode(context.Background(), "test@example.com", oldCode)
		if err == nil {
			t.Fatal("old code must not verify after resend")
		}
	}

	// The fresh one does.
	if _, err := env.svc.VerifyCode(context.Background(), "test@example.com", env.mailer.lastCode); err != nil {
		t.Fatalf("new code failed to verify: %v", err)
	}
}

func TestResendCode_CodeNeverOutlivesDraft(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	// Resend in the draft's final minutes: the fresh code's lifetime is
	// capped at what the draft has left, not a full window.
	env.clock.Advance(59*time.Minute + 30*time.Second)
	result, err := env.svc.ResendCode(context.Background(), "test@example.com")
	if err != nil {
		t.Fatalf("ResendCode failed: %v", err)
	}
	if result.TimeLeft != 30 {
		t.Fatalf("expected code capped at the draft's 30s, got %ds", result.TimeLeft)
	}

	// Inside the remaining window the code still promotes the draft.
	env.clock.Advance(15 * time.Second)
	if _, err := env.svc.VerifyCode(context.Background(), "test@example.com", env.mailer.lastCode); err != nil {
		t.Fatalf("verify before draft expiry failed: %v", err)
	}
}

func TestResendCode_LateCodeExpiresWithDraft(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	env.clock.Advance(59*time.Minute + 30*time.Second)
	if _, err := env.svc.ResendCode(context.Background(), "test@example.com"); err != nil {
		t.Fatalf("ResendCode failed: %v", err)
	}

	// Past the draft's death the code is gone too, and no booking happens.
	env.clock.Advance(2 * time.Minute)
	_, err := env.svc.VerifyCode(context.Background(), "test@example.com", env.mailer.lastCode)
	assertCode(t, err, domain.CodeNotFound)
	if env.gateway.calls != 0 {
		t.Fatalf("expected no gateway calls, got %d", env.gateway.calls)
	}
}

func TestVerifyCode_MissingDraftLeavesCodeUnconsumed(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.IssueCode(context.Background(), validInput("test@example.com"))
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	// Draft gone (swept or rolled back elsewhere) while the code lives on.
	if err := env.reqs.Delete(context.Background(), result.RequestID); err != nil {
		t.Fatalf("delete draft: %v", err)
	}

	_, err = env.svc.VerifyCode(context.Background(), "test@example.com", env.mailer.lastCode)
	assertCode(t, err, domain.CodeNotFound)

	vc := env.codes.codes[result.VerificationID]
	if vc == nil || vc.IsUsed || vc.IsVerified || vc.Attempts != 0 {
		t.Fatalf("code must stay untouched without a draft, got %+v", vc)
	}
}

func TestResendCode_WithoutDraft(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ResendCode(context.Background(), "test@example.com")
	assertCode(t, err, domain.CodeNotFound)
}

func TestResendCode_AllowedAfterExhaustedAttempts(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	correct := env.mailer.lastCode
	wrong := "0000"
	if wrong == correct {
		wrong = "0001"
	}
	for i := 0; i < 3; i++ {
		env.svc.VerifyCode(context.Background(), "test@example.com", wrong)
	}

	if _, err := env.svc.ResendCode(context.Background(), "test@example.com"); err != nil {
		t.Fatalf("resend after exhausted attempts failed: %v", err)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	st, err := env.svc.Status(context.Background(), "test@example.com")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.HasActiveCode || !st.CanResend {
		t.Fatalf("empty state wrong: %+v", st)
	}

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	wrong := "0000"
	if wrong == env.mailer.lastCode {
		wrong = "0001"
	}
	env.svc.VerifyCode(context.Background(), "test@example.com", wrong)

	st, err = env.svc.Status(context.Background(), "Test@Example.com")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.HasActiveCode {
		t.Fatal("expected an active code")
	}
	if st.Attempts != 1 || st.RemainingAttempts != 2 {
		t.Fatalf("attempt counters wrong: %+v", st)
	}
	if st.TimeLeft != 600 {
		t.Fatalf("expected 600s left, got %d", st.TimeLeft)
	}
	if st.CanResend {
		t.Fatal("resend must be locked with 10 minutes remaining")
	}
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("old@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	env.clock.Advance(61 * time.Minute)

	if _, err := env.svc.IssueCode(context.Background(), validInput("fresh@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	codes, requests, err := env.svc.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if codes != 1 || requests != 1 {
		t.Fatalf("expected 1 code and 1 request removed, got %d/%d", codes, requests)
	}

	// A second run has nothing left to do.
	codes, requests, err = env.svc.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("second Cleanup failed: %v", err)
	}
	if codes != 0 || requests != 0 {
		t.Fatalf("cleanup is not idempotent: %d/%d", codes, requests)
	}

	if draft, _ := env.reqs.FindActiveByEmail(context.Background(), "fresh@example.com"); draft == nil {
		t.Fatal("fresh draft must survive cleanup")
	}
}

func TestGenerateCode_RangeAndShape(t *testing.T) {
	re := regexp.MustCompile(`^\d{4}$`)
	for i := 0; i < 500; i++ {
		code, err := generateCode(4)
		if err != nil {
			t.Fatalf("generateCode failed: %v", err)
		}
		if !re.MatchString(code) {
			t.Fatalf("code %q is not 4 digits", code)
		}
		n, _ := strconv.Atoi(code)
		if n < 1000 || n > 9999 {
			t.Fatalf("code %d outside [1000,9999]", n)
		}
	}

	for _, length := range []int{4, 5, 6} {
		code, err := generateCode(length)
		if err != nil {
			t.Fatalf("generateCode(%d) failed: %v", length, err)
		}
		if len(code) != length {
			t.Fatalf("generateCode(%d) returned %q", length, code)
		}
	}
}

func TestIssueCode_ExpiredDraftDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	env.clock.Advance(domain.RequestTTL + time.Minute)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode after draft expiry failed: %v", err)
	}
}

func TestSweeperRunsCleanup(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.IssueCode(context.Background(), validInput("test@example.com")); err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	env.clock.Advance(61 * time.Minute)

	sweeper := NewSweeper(env.svc, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}

	if len(env.codes.codes) != 0 || len(env.reqs.reqs) != 0 {
		t.Fatalf("sweeper did not purge expired rows: codes=%d reqs=%d",
			len(env.codes.codes), len(env.reqs.reqs))
	}
}
