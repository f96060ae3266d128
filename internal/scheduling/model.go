package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusBooked      Status = "BOOKED"
	StatusConfirmed   Status = "CONFIRMED"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusNoShow      Status = "NO_SHOW"
	StatusRescheduled Status = "RESCHEDULED"
)

type AppointmentType string

const (
	TypeInPerson AppointmentType = "IN_PERSON"
	TypeOnline   AppointmentType = "ONLINE"
)

type ConsultationMode string

const (
	ModeInPerson ConsultationMode = "IN_PERSON"
	ModeOnline   ConsultationMode = "ONLINE"
	ModeEither   ConsultationMode = "EITHER"
)

// SourceChannel tags which actor/channel originated a booking.
type SourceChannel string

const (
	SourcePatientWeb      SourceChannel = "PATIENT_WEB"
	SourceFrontDesk       SourceChannel = "FRONT_DESK"
	SourceCareCoordinator SourceChannel = "CARE_COORDINATOR"
	SourceAdmin           SourceChannel = "ADMIN"
)

type Role string

const (
	RolePatient         Role = "patient"
	RoleFrontDesk       Role = "front_desk"
	RoleCareCoordinator Role = "care_coordinator"
	RoleManager         Role = "manager"
	RoleAdmin           Role = "admin"
)

// Actor is the authenticated user performing an operation. Authentication
// itself happens upstream; the core only needs identity and role.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsPatient() bool {
	return a.Role == RolePatient
}

// SourceForRole maps the acting role to the booking source channel.
func SourceForRole(r Role) SourceChannel {
	switch r {
	case RolePatient:
		return SourcePatientWeb
	case RoleFrontDesk:
		return SourceFrontDesk
	case RoleCareCoordinator:
		return SourceCareCoordinator
	default:
		return SourceAdmin
	}
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinician struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Centre is a physical clinic location. Timezone is an IANA identifier;
// all rule times are wall-clock local to the centre.
type Centre struct {
	ID        uuid.UUID
	Name      string
	Timezone  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the centre's timezone.
func (c *Centre) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("centre %s has invalid timezone %q: %w", c.ID, c.Timezone, err)
	}
	return loc, nil
}

// MinuteOfDay is a wall-clock time expressed as minutes since local midnight.
type MinuteOfDay int

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// AvailabilityRule is a recurring weekly template describing when a
// clinician is bookable at a centre. DayOfWeek follows time.Weekday
// numbering: 0=Sunday .. 6=Saturday.
type AvailabilityRule struct {
	ID                  uuid.UUID
	ClinicianID         uuid.UUID
	CentreID            uuid.UUID
	DayOfWeek           int
	StartMinute         MinuteOfDay
	EndMinute           MinuteOfDay
	SlotDurationMinutes int
	Mode                ConsultationMode
	Active              bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Validate checks the structural invariants of a rule.
func (r AvailabilityRule) Validate() error {
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week must be 0-6, got %d", ErrInvalidRule, r.DayOfWeek)
	}
	if r.SlotDurationMinutes <= 0 {
		return fmt.Errorf("%w: slot_duration_minutes must be positive, got %d", ErrInvalidRule, r.SlotDurationMinutes)
	}
	if r.StartMinute < 0 || r.EndMinute > 24*60 || r.StartMinute >= r.EndMinute {
		return fmt.Errorf("%w: window %s-%s is not a valid wall-clock range", ErrInvalidRule, r.StartMinute, r.EndMinute)
	}
	return nil
}

type Appointment struct {
	ID                  uuid.UUID
	PatientID           uuid.UUID
	ClinicianID         uuid.UUID
	CentreID            uuid.UUID
	Type                AppointmentType
	ScheduledStart      time.Time
	ScheduledEnd        time.Time
	DurationMinutes     int
	Status              Status
	ParentAppointmentID *uuid.UUID
	BookedBy            uuid.UUID
	Source              SourceChannel
	Notes               string
	MeetingLink         *string
	Active              bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Blocking reports whether the appointment occupies its clinician's time
// for conflict-detection purposes.
func (a *Appointment) Blocking() bool {
	return a.Active && a.Status != StatusCancelled && a.Status != StatusNoShow
}

// StatusHistoryEntry is one row of the append-only audit log. Replaying
// entries for an appointment in ChangedAt order reconstructs its status.
type StatusHistoryEntry struct {
	ID             int64
	AppointmentID  uuid.UUID
	PreviousStatus *Status
	NewStatus      Status
	ChangedBy      uuid.UUID
	ChangedAt      time.Time
	Reason         *string
}

// Slot is a discrete bookable time window derived from an availability rule.
type Slot struct {
	RuleID          uuid.UUID
	CentreID        uuid.UUID
	Start           time.Time
	End             time.Time
	DurationMinutes int
	Mode            ConsultationMode
	Available       bool
}
