package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn}, nil
}

func (n *NATSPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSPublisher) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	VerificationCodeSent   = "verification.code.sent"
	VerificationCodeResent = "verification.code.resent"
	AppointmentCreated     = "appointment.created"
	CleanupCompleted       = "verification.cleanup.completed"
)

// Event payloads
type CodeSentEvent struct {
	Email     string    `json:"email"`
	RequestID int64     `json:"request_id"`
	ExpiresAt time.Time `json:"expires_at"`
	SentAt    time.Time `json:"sent_at"`
}

type AppointmentCreatedEvent struct {
	RenovatioID string    `json:"renovatio_id"`
	Email       string    `json:"email"`
	DoctorID    int64     `json:"doctor_id"`
	ClinicID    int64     `json:"clinic_id"`
	TimeStart   string    `json:"time_start"`
	TimeEnd     string    `json:"time_end"`
	CreatedAt   time.Time `json:"created_at"`
}

type CleanupCompletedEvent struct {
	CodesRemoved    int64     `json:"codes_removed"`
	RequestsRemoved int64     `json:"requests_removed"`
	CompletedAt     time.Time `json:"completed_at"`
}
