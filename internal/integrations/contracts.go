// Package integrations holds the narrow seams to the third-party providers
// the booking flow fans out to. Every call here is best-effort from the
// orchestrator's point of view: a provider failure degrades the response,
// never the booking.
package integrations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotConfigured marks an integration that has no provider wired in the
// current deployment.
var ErrNotConfigured = errors.New("integration not configured")

// AppointmentContext is the slice of booking data providers need.
type AppointmentContext struct {
	AppointmentID  uuid.UUID
	PatientName    string
	PatientEmail   string
	ClinicianName  string
	ClinicianEmail string
	CentreName     string
	Start          time.Time
	End            time.Time
}

// VideoLinkProvider creates a meeting link for an online consultation.
type VideoLinkProvider interface {
	CreateLink(ctx context.Context, appt AppointmentContext) (string, error)
}

// PaymentLink is the result of a successful payment-link creation.
type PaymentLink struct {
	URL         string `json:"url"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// PaymentLinkProvider creates a payment link for an appointment and sends
// it to the patient through the provider's own channel.
type PaymentLinkProvider interface {
	CreateAndSend(ctx context.Context, appointmentID uuid.UUID, patientName, patientEmail string) (*PaymentLink, error)
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// NotificationSender delivers one message on one channel.
type NotificationSender interface {
	Send(ctx context.Context, channel Channel, recipient, subject, body string) error
}
