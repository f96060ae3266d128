// Package outbox queues booking side effects in Postgres, in the same
// transaction as the booking mutation that produced them, and delivers
// them asynchronously with retry and dead-letter handling. Delivery
// failures never touch the appointment itself.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EffectNotifyPatient   = "NOTIFY_PATIENT"
	EffectNotifyClinician = "NOTIFY_CLINICIAN"
	EffectNotifyAdmins    = "NOTIFY_ADMINS"
)

type RecordStatus string

const (
	StatusPending RecordStatus = "PENDING"
	StatusSent    RecordStatus = "SENT"
	StatusDead    RecordStatus = "DEAD"
)

type Record struct {
	ID            int64
	AppointmentID uuid.UUID
	EffectType    string
	Payload       []byte
	Status        RecordStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Payload is the effect-specific message context serialized into a record.
type Payload struct {
	Event  string  `json:"event"` // booked, rescheduled, status_changed, cancelled
	Reason *string `json:"reason,omitempty"`
}

// Store is the dispatcher's view of the outbox table. Enqueueing happens
// inside the scheduling repository's transactions, not here.
type Store interface {
	// ClaimDue returns due PENDING records and leases them so another
	// worker will not pick them up while they are being processed.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error
	MarkDead(ctx context.Context, id int64, lastError string) error
}

// Notice is the appointment snapshot the dispatcher renders notifications
// from. It is re-read at delivery time so late-attached data (for example
// a meeting link) makes it into the message.
type Notice struct {
	AppointmentID  uuid.UUID
	PatientName    string
	PatientEmail   *string
	ClinicianName  string
	ClinicianEmail *string
	CentreName     string
	Start          time.Time
	End            time.Time
	Status         string
	Type           string
	MeetingLink    *string
}

// AppointmentSource resolves a Notice for an appointment. Implemented by
// the scheduling layer.
type AppointmentSource interface {
	AppointmentNotice(ctx context.Context, id uuid.UUID) (*Notice, error)
}
