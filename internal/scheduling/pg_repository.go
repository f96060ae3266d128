package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/appointment-service/internal/outbox"
)

// exclusionViolation is the Postgres SQLSTATE raised by the
// appointments_no_overlap constraint; it is the database-level backstop
// behind the clinician lock.
const exclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.Specialty,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicianNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanCentre(row pgx.Row) (*Centre, error) {
	var c Centre
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Timezone,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCentreNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanRule(row pgx.Row) (*AvailabilityRule, error) {
	var r AvailabilityRule
	err := row.Scan(
		&r.ID,
		&r.ClinicianID,
		&r.CentreID,
		&r.DayOfWeek,
		&r.StartMinute,
		&r.EndMinute,
		&r.SlotDurationMinutes,
		&r.Mode,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const appointmentColumns = `
	id, patient_id, clinician_id, centre_id, appointment_type,
	scheduled_start_at, scheduled_end_at, duration_minutes, status,
	parent_appointment_id, booked_by, source, notes, meeting_link,
	active, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ClinicianID,
		&a.CentreID,
		&a.Type,
		&a.ScheduledStart,
		&a.ScheduledEnd,
		&a.DurationMinutes,
		&a.Status,
		&a.ParentAppointmentID,
		&a.BookedBy,
		&a.Source,
		&a.Notes,
		&a.MeetingLink,
		&a.Active,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, specialty, created_at, updated_at
		FROM clinicians
		WHERE id = $1
	`, id)
	return scanClinician(row)
}

func (r *PgRepository) GetCentreByID(ctx context.Context, id uuid.UUID) (*Centre, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, timezone, active, created_at, updated_at
		FROM centres
		WHERE id = $1
	`, id)
	return scanCentre(row)
}

func (r *PgRepository) GetAvailabilityRules(ctx context.Context, clinicianID uuid.UUID, dayOfWeek int, centreID *uuid.UUID) ([]AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, clinician_id, centre_id, day_of_week, start_minute, end_minute,
		       slot_duration_minutes, consultation_mode, active, created_at, updated_at
		FROM availability_rules
		WHERE clinician_id = $1
		  AND day_of_week = $2
		  AND active
		  AND ($3::uuid IS NULL OR centre_id = $3)
		ORDER BY start_minute, id
	`, clinicianID, dayOfWeek, centreID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ReplaceAvailabilityRules(ctx context.Context, clinicianID uuid.UUID, rules []AvailabilityRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_rules WHERE clinician_id = $1
	`, clinicianID); err != nil {
		return fmt.Errorf("delete existing rules: %w", err)
	}

	for _, rule := range rules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_rules
				(id, clinician_id, centre_id, day_of_week, start_minute, end_minute,
				 slot_duration_minutes, consultation_mode, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		`, rule.ID, rule.ClinicianID, rule.CentreID, rule.DayOfWeek, rule.StartMinute,
			rule.EndMinute, rule.SlotDurationMinutes, rule.Mode, rule.Active); err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) HasOverlap(ctx context.Context, clinicianID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	var overlap bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE clinician_id = $1
			  AND active
			  AND status NOT IN ('CANCELLED', 'NO_SHOW')
			  AND scheduled_start_at < $3
			  AND scheduled_end_at > $2
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`, clinicianID, start, end, excludeID).Scan(&overlap)
	if err != nil {
		return false, err
	}
	return overlap, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt Appointment, effects []Effect) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, clinician_id, centre_id, appointment_type,
			 scheduled_start_at, scheduled_end_at, duration_minutes, status,
			 parent_appointment_id, booked_by, source, notes, active,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, true, now(), now())
		RETURNING`+appointmentColumns+`
	`, appt.ID, appt.PatientID, appt.ClinicianID, appt.CentreID, appt.Type,
		appt.ScheduledStart, appt.ScheduledEnd, appt.DurationMinutes, appt.Status,
		appt.ParentAppointmentID, appt.BookedBy, appt.Source, appt.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return nil, ErrTimeSlotTaken
		}
		return nil, err
	}

	if err := insertHistory(ctx, tx, created.ID, nil, created.Status, appt.BookedBy, nil); err != nil {
		return nil, err
	}

	for _, effect := range effects {
		if err := outbox.InsertTx(ctx, tx, created.ID, effect.Type, effect.Payload); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, previous_status, new_status, changed_by, changed_at, reason
		FROM appointment_status_history
		WHERE appointment_id = $1
		ORDER BY changed_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		if err := rows.Scan(
			&e.ID,
			&e.AppointmentID,
			&e.PreviousStatus,
			&e.NewStatus,
			&e.ChangedBy,
			&e.ChangedAt,
			&e.Reason,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, actorID uuid.UUID, reason *string, effects []Effect) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING`+appointmentColumns+`
	`, id, to, from)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Distinguish a missing row from a lost CAS race.
			if _, getErr := r.GetAppointmentByID(ctx, id); getErr == nil {
				return nil, ErrStatusChanged
			}
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if err := insertHistory(ctx, tx, id, &from, to, actorID, reason); err != nil {
		return nil, err
	}

	for _, effect := range effects {
		if err := outbox.InsertTx(ctx, tx, id, effect.Type, effect.Payload); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, from Status, start, end time.Time, durationMinutes int, actorID uuid.UUID, reason *string, effects []Effect) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Row lock first so the previous status in the history entry is the
	// one actually replaced.
	var previous Status
	if err := tx.QueryRow(ctx, `
		SELECT status FROM appointments WHERE id = $1 FOR UPDATE
	`, id).Scan(&previous); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	// The transition was validated against `from` before the row lock;
	// a concurrent cancel or completion may have landed since.
	if previous != from {
		return nil, ErrStatusChanged
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_start_at = $2,
		    scheduled_end_at = $3,
		    duration_minutes = $4,
		    status = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING`+appointmentColumns+`
	`, id, start, end, durationMinutes, StatusRescheduled)

	updated, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return nil, ErrTimeSlotTaken
		}
		return nil, err
	}

	if err := insertHistory(ctx, tx, id, &previous, StatusRescheduled, actorID, reason); err != nil {
		return nil, err
	}

	for _, effect := range effects {
		if err := outbox.InsertTx(ctx, tx, id, effect.Type, effect.Payload); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) SetMeetingLink(ctx context.Context, id uuid.UUID, link string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET meeting_link = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, link)
	if err != nil {
		return fmt.Errorf("set meeting link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, previous *Status, next Status, actorID uuid.UUID, reason *string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_status_history
			(appointment_id, previous_status, new_status, changed_by, changed_at, reason)
		VALUES ($1, $2, $3, $4, now(), $5)
	`, appointmentID, previous, next, actorID, reason)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}
