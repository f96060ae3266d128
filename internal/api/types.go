package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/appointment-service/internal/integrations"
	"github.com/carebridge/appointment-service/internal/scheduling"
)

type CreateAppointmentRequest struct {
	PatientID           *string   `json:"patient_id,omitempty"`
	ClinicianID         string    `json:"clinician_id"`
	CentreID            string    `json:"centre_id"`
	AppointmentType     string    `json:"appointment_type,omitempty"`
	StartAt             time.Time `json:"start_at"`
	DurationMinutes     int       `json:"duration_minutes,omitempty"`
	ParentAppointmentID *string   `json:"parent_appointment_id,omitempty"`
	Notes               string    `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Reason          *string   `json:"reason,omitempty"`
}

type UpdateStatusRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
}

type CancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type RulePayload struct {
	CentreID            string `json:"centre_id"`
	DayOfWeek           int    `json:"day_of_week"`
	StartTime           string `json:"start_time"` // "09:00"
	EndTime             string `json:"end_time"`   // "12:00"
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	ConsultationMode    string `json:"consultation_mode,omitempty"`
}

type ReplaceRulesRequest struct {
	Rules []RulePayload `json:"rules"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID  `json:"id"`
	PatientID           uuid.UUID  `json:"patient_id"`
	ClinicianID         uuid.UUID  `json:"clinician_id"`
	CentreID            uuid.UUID  `json:"centre_id"`
	AppointmentType     string     `json:"appointment_type"`
	StartAt             time.Time  `json:"start_at"`
	EndAt               time.Time  `json:"end_at"`
	DurationMinutes     int        `json:"duration_minutes"`
	Status              string     `json:"status"`
	ParentAppointmentID *uuid.UUID `json:"parent_appointment_id,omitempty"`
	Source              string     `json:"source"`
	Notes               string     `json:"notes,omitempty"`
	MeetingLink         *string    `json:"meeting_link,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type CreateAppointmentData struct {
	Appointment      AppointmentResponse       `json:"appointment"`
	MeetingLink      *string                   `json:"meeting_link,omitempty"`
	PaymentLink      *integrations.PaymentLink `json:"payment_link,omitempty"`
	PaymentLinkError string                    `json:"payment_link_error,omitempty"`
}

type SlotResponse struct {
	CentreID        uuid.UUID `json:"centre_id"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Mode            string    `json:"consultation_mode"`
	Available       bool      `json:"available"`
}

type AvailabilityData struct {
	ClinicianID uuid.UUID      `json:"clinician_id"`
	Date        string         `json:"date"`
	Slots       []SlotResponse `json:"slots"`
}

type HistoryEntryResponse struct {
	PreviousStatus *string   `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ChangedBy      uuid.UUID `json:"changed_by"`
	ChangedAt      time.Time `json:"changed_at"`
	Reason         *string   `json:"reason,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.ID,
		PatientID:           a.PatientID,
		ClinicianID:         a.ClinicianID,
		CentreID:            a.CentreID,
		AppointmentType:     string(a.Type),
		StartAt:             a.ScheduledStart,
		EndAt:               a.ScheduledEnd,
		DurationMinutes:     a.DurationMinutes,
		Status:              string(a.Status),
		ParentAppointmentID: a.ParentAppointmentID,
		Source:              string(a.Source),
		Notes:               a.Notes,
		MeetingLink:         a.MeetingLink,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func toSlotResponses(slots []scheduling.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			CentreID:        s.CentreID,
			StartAt:         s.Start,
			EndAt:           s.End,
			DurationMinutes: s.DurationMinutes,
			Mode:            string(s.Mode),
			Available:       s.Available,
		})
	}
	return out
}

// parseWallClock converts "HH:MM" into minutes since midnight.
func parseWallClock(s string) (scheduling.MinuteOfDay, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return scheduling.MinuteOfDay(hour*60 + minute), nil
}
