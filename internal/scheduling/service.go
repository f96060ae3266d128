package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/appointment-service/internal/config"
	"github.com/carebridge/appointment-service/internal/integrations"
	"github.com/carebridge/appointment-service/internal/metrics"
	"github.com/carebridge/appointment-service/internal/outbox"
	redisclient "github.com/carebridge/appointment-service/internal/redis"
)

var (
	ErrInvalidRule              = errors.New("invalid availability rule")
	ErrInvalidDuration          = errors.New("duration must be positive")
	ErrStartRequired            = errors.New("scheduled start time is required")
	ErrStartInPast              = errors.New("scheduled start must be in the future")
	ErrPatientRequired          = errors.New("patient_id is required when booking on behalf of a patient")
	ErrForbiddenPatient         = errors.New("patients can only act on their own appointments")
	ErrForbiddenRole            = errors.New("role is not allowed to perform this operation")
	ErrCentreInactive           = errors.New("centre is not active")
	ErrNoAvailabilityForDay     = errors.New("clinician is not available on that day")
	ErrOutsideAvailabilityHours = errors.New("requested time is outside the clinician's availability hours")
	ErrTimeSlotTaken            = errors.New("clinician already has an appointment in that time range")
	ErrClinicianBusy            = errors.New("another booking for this clinician is in progress, please retry")
)

// Service is the booking orchestrator: it validates a request against the
// availability engine and conflict detector, persists atomically, then fans
// out best-effort side effects. Downstream failures degrade the response
// payload but never the booking.
type Service struct {
	repo         Repository
	locker       redisclient.Locker
	availability *AvailabilityEngine
	video        integrations.VideoLinkProvider
	payments     integrations.PaymentLinkProvider
	cfg          config.Config
	log          zerolog.Logger
}

func NewService(
	repo Repository,
	locker redisclient.Locker,
	video integrations.VideoLinkProvider,
	payments integrations.PaymentLinkProvider,
	cfg config.Config,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		locker:       locker,
		availability: NewAvailabilityEngine(repo, repo),
		video:        video,
		payments:     payments,
		cfg:          cfg,
		log:          log,
	}
}

type CreateRequest struct {
	PatientID           *uuid.UUID
	ClinicianID         uuid.UUID
	CentreID            uuid.UUID
	Type                AppointmentType
	Start               time.Time
	DurationMinutes     int // 0 means the configured default
	ParentAppointmentID *uuid.UUID
	Notes               string
}

// CreateResult carries the durable appointment plus the advisory outcome
// of the synchronous integrations. A missing meeting link or a populated
// PaymentLinkError alongside a created appointment signals partial
// degradation, not failure.
type CreateResult struct {
	Appointment      *Appointment
	MeetingLink      *string
	PaymentLink      *integrations.PaymentLink
	PaymentLinkError string
}

// Create books an appointment. The conflict check and the insert run under
// a per-clinician lock so two concurrent requests for the same window
// cannot both commit.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor Actor) (*CreateResult, error) {
	patientID, err := s.resolvePatient(ctx, req, actor)
	if err != nil {
		return nil, err
	}

	clinician, err := s.repo.GetClinicianByID(ctx, req.ClinicianID)
	if err != nil {
		return nil, err
	}

	centre, err := s.repo.GetCentreByID(ctx, req.CentreID)
	if err != nil {
		return nil, err
	}
	if !centre.Active {
		return nil, ErrCentreInactive
	}
	loc, err := centre.Location()
	if err != nil {
		return nil, err
	}

	if req.Start.IsZero() {
		return nil, ErrStartRequired
	}
	if req.Start.Before(time.Now()) {
		return nil, ErrStartInPast
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = s.cfg.DefaultDurationMinutes
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	end := req.Start.Add(time.Duration(duration) * time.Minute)

	if err := s.checkWithinAvailability(ctx, req.ClinicianID, req.CentreID, req.Start, loc); err != nil {
		metrics.BookingRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	apptType := req.Type
	if apptType == "" {
		apptType = TypeInPerson
	}

	var created *Appointment
	lockErr := s.locker.WithClinicianLock(ctx, req.ClinicianID, func(lockCtx context.Context) error {
		busy, err := s.repo.HasOverlap(lockCtx, req.ClinicianID, req.Start, end, nil)
		if err != nil {
			return fmt.Errorf("conflict check: %w", err)
		}
		if busy {
			return ErrTimeSlotTaken
		}

		appt := Appointment{
			ID:                  uuid.New(),
			PatientID:           patientID,
			ClinicianID:         req.ClinicianID,
			CentreID:            req.CentreID,
			Type:                apptType,
			ScheduledStart:      req.Start,
			ScheduledEnd:        end,
			DurationMinutes:     duration,
			Status:              StatusBooked,
			ParentAppointmentID: req.ParentAppointmentID,
			BookedBy:            actor.ID,
			Source:              SourceForRole(actor.Role),
			Notes:               req.Notes,
			Active:              true,
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt, bookingEffects(apptType))
		if err != nil {
			return fmt.Errorf("persist appointment: %w", err)
		}
		return nil
	})
	if lockErr != nil {
		if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
			metrics.BookingRejectionsTotal.WithLabelValues("lock_contention").Inc()
			return nil, ErrClinicianBusy
		}
		if errors.Is(lockErr, ErrTimeSlotTaken) {
			metrics.BookingRejectionsTotal.WithLabelValues("conflict").Inc()
		}
		return nil, lockErr
	}

	metrics.BookingsTotal.WithLabelValues(string(created.Source), string(created.Type)).Inc()
	s.log.Info().
		Stringer("appointment_id", created.ID).
		Stringer("clinician_id", created.ClinicianID).
		Time("start", created.ScheduledStart).
		Str("source", string(created.Source)).
		Msg("appointment booked")

	result := &CreateResult{Appointment: created}
	s.dispatchSyncEffects(ctx, created, clinician, result)
	return result, nil
}

// dispatchSyncEffects runs the integrations whose outcome belongs in the
// booking response: the meeting link for online consultations and the
// payment link. Each call has its own timeout and fails in isolation.
func (s *Service) dispatchSyncEffects(ctx context.Context, appt *Appointment, clinician *Clinician, result *CreateResult) {
	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("load patient for side effects")
		patient = &Patient{ID: appt.PatientID}
	}

	if appt.Type == TypeOnline && s.video != nil {
		vctx, cancel := context.WithTimeout(ctx, s.cfg.IntegrationTimeout)
		link, err := s.video.CreateLink(vctx, integrations.AppointmentContext{
			AppointmentID: appt.ID,
			PatientName:   patient.Name,
			PatientEmail:  derefOrEmpty(patient.Email),
			ClinicianName: clinician.Name,
			Start:         appt.ScheduledStart,
			End:           appt.ScheduledEnd,
		})
		cancel()
		if err != nil {
			metrics.SideEffectsTotal.WithLabelValues("video_link", "failed").Inc()
			s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("video link creation failed, booking proceeds without link")
		} else {
			metrics.SideEffectsTotal.WithLabelValues("video_link", "sent").Inc()
			if err := s.repo.SetMeetingLink(ctx, appt.ID, link); err != nil {
				s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("persist meeting link")
			}
			appt.MeetingLink = &link
			result.MeetingLink = &link
		}
	}

	if s.payments != nil {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.IntegrationTimeout)
		link, err := s.payments.CreateAndSend(pctx, appt.ID, patient.Name, derefOrEmpty(patient.Email))
		cancel()
		if err != nil {
			metrics.SideEffectsTotal.WithLabelValues("payment_link", "failed").Inc()
			s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("payment link creation failed")
			result.PaymentLinkError = err.Error()
		} else {
			metrics.SideEffectsTotal.WithLabelValues("payment_link", "sent").Inc()
			result.PaymentLink = link
		}
	}
}

// Reschedule moves an appointment to a new window. Availability and
// conflict checks run again (excluding the appointment itself) before the
// times change, the status becomes RESCHEDULED and a history row records
// the reason.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, durationMinutes int, reason *string, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsPatient() && appt.PatientID != actor.ID {
		return nil, ErrForbiddenPatient
	}
	if err := ValidateTransition(appt.Status, StatusRescheduled); err != nil {
		return nil, err
	}

	if newStart.IsZero() {
		return nil, ErrStartRequired
	}
	if newStart.Before(time.Now()) {
		return nil, ErrStartInPast
	}

	duration := durationMinutes
	if duration == 0 {
		duration = appt.DurationMinutes
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	end := newStart.Add(time.Duration(duration) * time.Minute)

	centre, err := s.repo.GetCentreByID(ctx, appt.CentreID)
	if err != nil {
		return nil, err
	}
	loc, err := centre.Location()
	if err != nil {
		return nil, err
	}
	if err := s.checkWithinAvailability(ctx, appt.ClinicianID, appt.CentreID, newStart, loc); err != nil {
		return nil, err
	}

	var updated *Appointment
	lockErr := s.locker.WithClinicianLock(ctx, appt.ClinicianID, func(lockCtx context.Context) error {
		busy, err := s.repo.HasOverlap(lockCtx, appt.ClinicianID, newStart, end, &appt.ID)
		if err != nil {
			return fmt.Errorf("conflict check: %w", err)
		}
		if busy {
			return ErrTimeSlotTaken
		}

		updated, err = s.repo.RescheduleAppointment(lockCtx, appt.ID, appt.Status, newStart, end, duration, actor.ID, reason, notifyEffects("rescheduled", reason))
		if err != nil {
			return fmt.Errorf("persist reschedule: %w", err)
		}
		return nil
	})
	if lockErr != nil {
		if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
			return nil, ErrClinicianBusy
		}
		return nil, lockErr
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(StatusRescheduled)).Inc()
	s.log.Info().
		Stringer("appointment_id", updated.ID).
		Time("new_start", updated.ScheduledStart).
		Msg("appointment rescheduled")
	return updated, nil
}

// UpdateStatus applies a lifecycle transition. Patients may only cancel
// their own appointments; staff can apply any allowed transition.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, reason *string, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsPatient() {
		if appt.PatientID != actor.ID {
			return nil, ErrForbiddenPatient
		}
		if to != StatusCancelled {
			return nil, ErrForbiddenRole
		}
	}

	if err := ValidateTransition(appt.Status, to); err != nil {
		return nil, err
	}

	event := "status_changed"
	if to == StatusCancelled {
		event = "cancelled"
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, to, actor.ID, reason, notifyEffects(event, reason))
	if err != nil {
		return nil, err
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.log.Info().
		Stringer("appointment_id", id).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Msg("appointment status updated")
	return updated, nil
}

// Cancel is UpdateStatus to CANCELLED.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason *string, actor Actor) (*Appointment, error) {
	return s.UpdateStatus(ctx, id, StatusCancelled, reason, actor)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsPatient() && appt.PatientID != actor.ID {
		return nil, ErrForbiddenPatient
	}
	return appt, nil
}

func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID) ([]StatusHistoryEntry, error) {
	return s.repo.ListStatusHistory(ctx, id)
}

// Availability lists the candidate slots for a clinician on a date.
func (s *Service) Availability(ctx context.Context, clinicianID uuid.UUID, centreID *uuid.UUID, date time.Time) ([]Slot, error) {
	if _, err := s.repo.GetClinicianByID(ctx, clinicianID); err != nil {
		return nil, err
	}
	return s.availability.SlotsFor(ctx, clinicianID, centreID, date)
}

// ReplaceAvailabilityRules bulk-replaces a clinician's weekly rules. Staff
// only; the delete and insert commit as one transaction so there is no
// visible "no rules" window.
func (s *Service) ReplaceAvailabilityRules(ctx context.Context, clinicianID uuid.UUID, rules []AvailabilityRule, actor Actor) error {
	if actor.IsPatient() {
		return ErrForbiddenRole
	}
	if _, err := s.repo.GetClinicianByID(ctx, clinicianID); err != nil {
		return err
	}

	for i := range rules {
		rules[i].ID = uuid.New()
		rules[i].ClinicianID = clinicianID
		if rules[i].Mode == "" {
			rules[i].Mode = ModeEither
		}
		rules[i].Active = true
		if err := rules[i].Validate(); err != nil {
			return err
		}
		if _, err := s.repo.GetCentreByID(ctx, rules[i].CentreID); err != nil {
			return err
		}
	}

	if err := s.repo.ReplaceAvailabilityRules(ctx, clinicianID, rules); err != nil {
		return fmt.Errorf("replace availability rules: %w", err)
	}
	s.log.Info().Stringer("clinician_id", clinicianID).Int("rules", len(rules)).Msg("availability rules replaced")
	return nil
}

// AppointmentNotice implements outbox.AppointmentSource: the dispatcher
// renders notifications from the appointment's current state so a meeting
// link attached after enqueue still reaches the message.
func (s *Service) AppointmentNotice(ctx context.Context, id uuid.UUID) (*outbox.Notice, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	clinician, err := s.repo.GetClinicianByID(ctx, appt.ClinicianID)
	if err != nil {
		return nil, err
	}
	centre, err := s.repo.GetCentreByID(ctx, appt.CentreID)
	if err != nil {
		return nil, err
	}

	return &outbox.Notice{
		AppointmentID:  appt.ID,
		PatientName:    patient.Name,
		PatientEmail:   patient.Email,
		ClinicianName:  clinician.Name,
		ClinicianEmail: clinician.Email,
		CentreName:     centre.Name,
		Start:          appt.ScheduledStart,
		End:            appt.ScheduledEnd,
		Status:         string(appt.Status),
		Type:           string(appt.Type),
		MeetingLink:    appt.MeetingLink,
	}, nil
}

// resolvePatient applies the actor rules: patients book for themselves,
// staff must name a patient that exists.
func (s *Service) resolvePatient(ctx context.Context, req CreateRequest, actor Actor) (uuid.UUID, error) {
	if actor.IsPatient() {
		if req.PatientID != nil && *req.PatientID != actor.ID {
			return uuid.Nil, ErrForbiddenPatient
		}
		if _, err := s.repo.GetPatientByID(ctx, actor.ID); err != nil {
			return uuid.Nil, err
		}
		return actor.ID, nil
	}

	if req.PatientID == nil {
		return uuid.Nil, ErrPatientRequired
	}
	if _, err := s.repo.GetPatientByID(ctx, *req.PatientID); err != nil {
		return uuid.Nil, err
	}
	return *req.PatientID, nil
}

// checkWithinAvailability enforces booking-time availability: at least one
// active rule for the clinician on that local day, and the start's local
// time-of-day inside some rule's window.
func (s *Service) checkWithinAvailability(ctx context.Context, clinicianID, centreID uuid.UUID, start time.Time, loc *time.Location) error {
	localStart := start.In(loc)
	dow := int(localStart.Weekday())

	rules, err := s.repo.GetAvailabilityRules(ctx, clinicianID, dow, &centreID)
	if err != nil {
		return fmt.Errorf("load availability rules: %w", err)
	}
	if len(rules) == 0 {
		return ErrNoAvailabilityForDay
	}

	for _, rule := range rules {
		if windowContains(rule, start, loc) {
			return nil
		}
	}
	return ErrOutsideAvailabilityHours
}

func bookingEffects(apptType AppointmentType) []Effect {
	effects := notifyEffects("booked", nil)
	if apptType == TypeOnline {
		payload, _ := json.Marshal(outbox.Payload{Event: "booked"})
		effects = append(effects, Effect{Type: outbox.EffectNotifyAdmins, Payload: payload})
	}
	return effects
}

func notifyEffects(event string, reason *string) []Effect {
	payload, _ := json.Marshal(outbox.Payload{Event: event, Reason: reason})
	return []Effect{
		{Type: outbox.EffectNotifyPatient, Payload: payload},
		{Type: outbox.EffectNotifyClinician, Payload: payload},
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNoAvailabilityForDay):
		return "no_availability"
	case errors.Is(err, ErrOutsideAvailabilityHours):
		return "outside_hours"
	default:
		return "validation"
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
