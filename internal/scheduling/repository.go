package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrClinicianNotFound   = errors.New("clinician not found")
	ErrCentreNotFound      = errors.New("centre not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStatusChanged means a compare-and-set status update lost a race
	// with a concurrent transition.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// Effect is a side effect queued in the same transaction as the booking
// mutation that produced it. The outbox worker delivers it later.
type Effect struct {
	Type    string
	Payload []byte
}

// Repository contains all DB interactions needed by the scheduling core.
// Every mutation that changes an appointment's status writes the matching
// history row in the same transaction.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error)
	GetCentreByID(ctx context.Context, id uuid.UUID) (*Centre, error)

	// Availability rules. ReplaceAvailabilityRules is a transactional
	// delete-then-insert for one clinician so readers never observe an
	// empty rule window mid-replace.
	GetAvailabilityRules(ctx context.Context, clinicianID uuid.UUID, dayOfWeek int, centreID *uuid.UUID) ([]AvailabilityRule, error)
	ReplaceAvailabilityRules(ctx context.Context, clinicianID uuid.UUID, rules []AvailabilityRule) error

	// HasOverlap reports whether [start,end) overlaps any blocking
	// appointment of the clinician. excludeID lets a reschedule ignore
	// the appointment being moved.
	HasOverlap(ctx context.Context, clinicianID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)

	// CreateAppointment inserts the appointment, its initial history row
	// and any queued effects as one unit of work.
	CreateAppointment(ctx context.Context, appt Appointment, effects []Effect) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error)

	// UpdateStatus performs a compare-and-set transition from -> to plus
	// the history row; ErrStatusChanged when the current status is not
	// `from` anymore.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, actorID uuid.UUID, reason *string, effects []Effect) (*Appointment, error)

	// RescheduleAppointment moves the time window, marks the appointment
	// RESCHEDULED and appends the history row, all in one transaction.
	// Like UpdateStatus it is a compare-and-set on `from`: ErrStatusChanged
	// when a concurrent transition moved the appointment off that status.
	RescheduleAppointment(ctx context.Context, id uuid.UUID, from Status, start, end time.Time, durationMinutes int, actorID uuid.UUID, reason *string, effects []Effect) (*Appointment, error)

	// SetMeetingLink attaches a video link after the booking committed.
	SetMeetingLink(ctx context.Context, id uuid.UUID, link string) error
}
