package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	redisclient "github.com/carebridge/appointment-service/internal/redis"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

// memoryRepo is an in-memory Repository used by the engine and service
// tests. It mirrors the SQL semantics including the compare-and-set status
// update and the one-history-row-per-transition pairing.
type memoryRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*Patient
	clinicians   map[uuid.UUID]*Clinician
	centres      map[uuid.UUID]*Centre
	rules        []AvailabilityRule
	appointments map[uuid.UUID]*Appointment
	history      []StatusHistoryEntry
	effects      []recordedEffect
	nextHistID   int64
}

type recordedEffect struct {
	appointmentID uuid.UUID
	effect        Effect
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		patients:     make(map[uuid.UUID]*Patient),
		clinicians:   make(map[uuid.UUID]*Clinician),
		centres:      make(map[uuid.UUID]*Centre),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *memoryRepo) addPatient(name string, email string) uuid.UUID {
	id := uuid.New()
	m.patients[id] = &Patient{ID: id, Name: name, Email: &email}
	return id
}

func (m *memoryRepo) addClinician(name string) uuid.UUID {
	id := uuid.New()
	email := name + "@clinic.example"
	m.clinicians[id] = &Clinician{ID: id, Name: name, Email: &email}
	return id
}

func (m *memoryRepo) addCentre(name, timezone string) uuid.UUID {
	id := uuid.New()
	m.centres[id] = &Centre{ID: id, Name: name, Timezone: timezone, Active: true}
	return id
}

func (m *memoryRepo) addRule(clinicianID, centreID uuid.UUID, dow int, start, end MinuteOfDay, slotMinutes int) uuid.UUID {
	id := uuid.New()
	m.rules = append(m.rules, AvailabilityRule{
		ID:                  id,
		ClinicianID:         clinicianID,
		CentreID:            centreID,
		DayOfWeek:           dow,
		StartMinute:         start,
		EndMinute:           end,
		SlotDurationMinutes: slotMinutes,
		Mode:                ModeEither,
		Active:              true,
	})
	return id
}

func (m *memoryRepo) effectsFor(appointmentID uuid.UUID) []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Effect
	for _, rec := range m.effects {
		if rec.appointmentID == appointmentID {
			out = append(out, rec.effect)
		}
	}
	return out
}

func (m *memoryRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *memoryRepo) GetClinicianByID(_ context.Context, id uuid.UUID) (*Clinician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clinicians[id]
	if !ok {
		return nil, ErrClinicianNotFound
	}
	return c, nil
}

func (m *memoryRepo) GetCentreByID(_ context.Context, id uuid.UUID) (*Centre, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.centres[id]
	if !ok {
		return nil, ErrCentreNotFound
	}
	return c, nil
}

func (m *memoryRepo) GetAvailabilityRules(_ context.Context, clinicianID uuid.UUID, dayOfWeek int, centreID *uuid.UUID) ([]AvailabilityRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AvailabilityRule
	for _, r := range m.rules {
		if r.ClinicianID != clinicianID || r.DayOfWeek != dayOfWeek || !r.Active {
			continue
		}
		if centreID != nil && r.CentreID != *centreID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryRepo) ReplaceAvailabilityRules(_ context.Context, clinicianID uuid.UUID, rules []AvailabilityRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rules[:0]
	for _, r := range m.rules {
		if r.ClinicianID != clinicianID {
			kept = append(kept, r)
		}
	}
	m.rules = append(kept, rules...)
	return nil
}

func (m *memoryRepo) HasOverlap(_ context.Context, clinicianID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appointments {
		if a.ClinicianID != clinicianID || !a.Blocking() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if Overlaps(start, end, a.ScheduledStart, a.ScheduledEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) CreateAppointment(_ context.Context, appt Appointment, effects []Effect) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	stored := appt
	m.appointments[appt.ID] = &stored
	m.appendHistoryLocked(appt.ID, nil, appt.Status, appt.BookedBy, nil)
	m.recordEffectsLocked(appt.ID, effects)
	copied := stored
	return &copied, nil
}

func (m *memoryRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memoryRepo) ListStatusHistory(_ context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StatusHistoryEntry
	for _, h := range m.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, actorID uuid.UUID, reason *string, effects []Effect) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.appendHistoryLocked(id, &from, to, actorID, reason)
	m.recordEffectsLocked(id, effects)
	copied := *a
	return &copied, nil
}

func (m *memoryRepo) RescheduleAppointment(_ context.Context, id uuid.UUID, from Status, start, end time.Time, durationMinutes int, actorID uuid.UUID, reason *string, effects []Effect) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	previous := a.Status
	a.ScheduledStart = start
	a.ScheduledEnd = end
	a.DurationMinutes = durationMinutes
	a.Status = StatusRescheduled
	a.UpdatedAt = time.Now()
	m.appendHistoryLocked(id, &previous, StatusRescheduled, actorID, reason)
	m.recordEffectsLocked(id, effects)
	copied := *a
	return &copied, nil
}

func (m *memoryRepo) SetMeetingLink(_ context.Context, id uuid.UUID, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.MeetingLink = &link
	return nil
}

func (m *memoryRepo) appendHistoryLocked(appointmentID uuid.UUID, previous *Status, next Status, actorID uuid.UUID, reason *string) {
	m.nextHistID++
	m.history = append(m.history, StatusHistoryEntry{
		ID:             m.nextHistID,
		AppointmentID:  appointmentID,
		PreviousStatus: previous,
		NewStatus:      next,
		ChangedBy:      actorID,
		ChangedAt:      time.Now(),
		Reason:         reason,
	})
}

func (m *memoryRepo) recordEffectsLocked(appointmentID uuid.UUID, effects []Effect) {
	for _, e := range effects {
		m.effects = append(m.effects, recordedEffect{appointmentID: appointmentID, effect: e})
	}
}

// passthroughLocker runs the critical section inline; contended simulates a
// lock held elsewhere.
type passthroughLocker struct {
	contended bool
	// before runs after lock acquisition but ahead of the critical
	// section, so tests can interleave a competing mutation.
	before func()
}

func (l *passthroughLocker) WithClinicianLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	if l.contended {
		return redisclient.ErrLockNotAcquired
	}
	if l.before != nil {
		l.before()
	}
	return fn(ctx)
}
