package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/appointment-service/internal/integrations"
	redisclient "github.com/carebridge/appointment-service/internal/redis"
	"github.com/carebridge/appointment-service/internal/scheduling"
)

// BookingService is the orchestrator surface the handlers depend on.
type BookingService interface {
	Create(ctx context.Context, req scheduling.CreateRequest, actor scheduling.Actor) (*scheduling.CreateResult, error)
	Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, durationMinutes int, reason *string, actor scheduling.Actor) (*scheduling.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to scheduling.Status, reason *string, actor scheduling.Actor) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason *string, actor scheduling.Actor) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID, actor scheduling.Actor) (*scheduling.Appointment, error)
	StatusHistory(ctx context.Context, id uuid.UUID) ([]scheduling.StatusHistoryEntry, error)
	Availability(ctx context.Context, clinicianID uuid.UUID, centreID *uuid.UUID, date time.Time) ([]scheduling.Slot, error)
	ReplaceAvailabilityRules(ctx context.Context, clinicianID uuid.UUID, rules []scheduling.AvailabilityRule, actor scheduling.Actor) error
}

var validRoles = map[scheduling.Role]bool{
	scheduling.RolePatient:         true,
	scheduling.RoleFrontDesk:       true,
	scheduling.RoleCareCoordinator: true,
	scheduling.RoleManager:         true,
	scheduling.RoleAdmin:           true,
}

// actorFromRequest reads the identity the auth layer upstream attached.
func actorFromRequest(r *http.Request) (scheduling.Actor, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		return scheduling.Actor{}, false
	}
	role := scheduling.Role(r.Header.Get("X-Actor-Role"))
	if !validRoles[role] {
		return scheduling.Actor{}, false
	}
	return scheduling.Actor{ID: id, Role: role}, true
}

func createAppointmentHandler(svc BookingService, idem redisclient.IdempotencyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		clinicianID, err := uuid.Parse(req.ClinicianID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
			return
		}
		centreID, err := uuid.Parse(req.CentreID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_centre_id", "centre_id must be a valid UUID")
			return
		}

		var patientID *uuid.UUID
		if req.PatientID != nil {
			parsed, err := uuid.Parse(*req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			patientID = &parsed
		}

		var parentID *uuid.UUID
		if req.ParentAppointmentID != nil {
			parsed, err := uuid.Parse(*req.ParentAppointmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_parent_appointment_id", "parent_appointment_id must be a valid UUID")
				return
			}
			parentID = &parsed
		}

		idemKey := r.Header.Get("Idempotency-Key")
		if idemKey != "" && idem != nil {
			fresh, err := idem.Reserve(r.Context(), idemKey)
			switch {
			case err != nil:
				// Store unreachable: proceed without replay protection
				// rather than rejecting the booking.
				idemKey = ""
			case !fresh:
				writeError(w, http.StatusConflict, "duplicate_request", "a booking with this Idempotency-Key was already submitted")
				return
			}
		}

		result, err := svc.Create(r.Context(), scheduling.CreateRequest{
			PatientID:           patientID,
			ClinicianID:         clinicianID,
			CentreID:            centreID,
			Type:                scheduling.AppointmentType(req.AppointmentType),
			Start:               req.StartAt,
			DurationMinutes:     req.DurationMinutes,
			ParentAppointmentID: parentID,
			Notes:               req.Notes,
		}, actor)
		if err != nil {
			// Free the key so a retry of the failed booking is not
			// rejected as a duplicate.
			if idemKey != "" && idem != nil {
				_ = idem.Release(r.Context(), idemKey)
			}
			handleServiceError(w, err)
			return
		}

		data := CreateAppointmentData{
			Appointment:      toAppointmentResponse(result.Appointment),
			MeetingLink:      result.MeetingLink,
			PaymentLink:      result.PaymentLink,
			PaymentLinkError: result.PaymentLinkError,
		}
		writeSuccess(w, http.StatusCreated, data, "appointment booked")
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "")
	}
}

func statusHistoryHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		// Access check piggybacks on GetAppointment.
		if _, err := svc.GetAppointment(r.Context(), id, actor); err != nil {
			handleServiceError(w, err)
			return
		}

		history, err := svc.StatusHistory(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		entries := make([]HistoryEntryResponse, 0, len(history))
		for _, h := range history {
			var prev *string
			if h.PreviousStatus != nil {
				s := string(*h.PreviousStatus)
				prev = &s
			}
			entries = append(entries, HistoryEntryResponse{
				PreviousStatus: prev,
				NewStatus:      string(h.NewStatus),
				ChangedBy:      h.ChangedBy,
				ChangedAt:      h.ChangedAt,
				Reason:         h.Reason,
			})
		}
		writeSuccess(w, http.StatusOK, entries, "")
	}
}

func availabilityHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, err := uuid.Parse(r.URL.Query().Get("clinician_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
			return
		}

		var centreID *uuid.UUID
		if raw := r.URL.Query().Get("centre_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_centre_id", "centre_id must be a valid UUID")
				return
			}
			centreID = &parsed
		}

		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.Availability(r.Context(), clinicianID, centreID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		data := AvailabilityData{
			ClinicianID: clinicianID,
			Date:        date.Format("2006-01-02"),
			Slots:       toSlotResponses(slots),
		}
		writeSuccess(w, http.StatusOK, data, "")
	}
}

func rescheduleHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.StartAt, req.DurationMinutes, req.Reason, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "appointment rescheduled")
	}
}

func updateStatusHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), id, scheduling.Status(req.Status), req.Reason, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "appointment status updated")
	}
}

func cancelHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "appointment cancelled")
	}
}

func replaceRulesHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		clinicianID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", "id must be a valid UUID")
			return
		}

		var req ReplaceRulesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		rules := make([]scheduling.AvailabilityRule, 0, len(req.Rules))
		for _, payload := range req.Rules {
			centreID, err := uuid.Parse(payload.CentreID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_centre_id", "rule centre_id must be a valid UUID")
				return
			}
			startMinute, err := parseWallClock(payload.StartTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
				return
			}
			endMinute, err := parseWallClock(payload.EndTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_end_time", err.Error())
				return
			}
			rules = append(rules, scheduling.AvailabilityRule{
				CentreID:            centreID,
				DayOfWeek:           payload.DayOfWeek,
				StartMinute:         startMinute,
				EndMinute:           endMinute,
				SlotDurationMinutes: payload.SlotDurationMinutes,
				Mode:                scheduling.ConsultationMode(payload.ConsultationMode),
			})
		}

		if err := svc.ReplaceAvailabilityRules(r.Context(), clinicianID, rules, actor); err != nil {
			handleServiceError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, nil, "availability rules replaced")
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrClinicianNotFound):
		writeError(w, http.StatusNotFound, "clinician_not_found", err.Error())
	case errors.Is(err, scheduling.ErrCentreNotFound):
		writeError(w, http.StatusNotFound, "centre_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())

	case errors.Is(err, scheduling.ErrForbiddenPatient),
		errors.Is(err, scheduling.ErrForbiddenRole):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, scheduling.ErrTimeSlotTaken):
		writeError(w, http.StatusConflict, "time_slot_taken", err.Error())
	case errors.Is(err, scheduling.ErrClinicianBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "clinician_being_booked", "another booking for this clinician is in progress, please retry shortly")
	case errors.Is(err, scheduling.ErrStatusChanged):
		writeError(w, http.StatusConflict, "status_changed", err.Error())
	case errors.Is(err, scheduling.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition),
		errors.Is(err, scheduling.ErrTerminalStatus):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())

	case errors.Is(err, scheduling.ErrCancelCompleted),
		errors.Is(err, scheduling.ErrUnknownStatus),
		errors.Is(err, scheduling.ErrInvalidRule),
		errors.Is(err, scheduling.ErrInvalidDuration),
		errors.Is(err, scheduling.ErrStartRequired),
		errors.Is(err, scheduling.ErrStartInPast),
		errors.Is(err, scheduling.ErrPatientRequired),
		errors.Is(err, scheduling.ErrCentreInactive),
		errors.Is(err, scheduling.ErrNoAvailabilityForDay),
		errors.Is(err, scheduling.ErrOutsideAvailabilityHours):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())

	case errors.Is(err, integrations.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "integration_unavailable", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
