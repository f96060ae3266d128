package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotsFor_ExpandsRuleIntoFixedSlots(t *testing.T) {
	repo := newMemoryRepo()
	clinicianID := repo.addClinician("Dr Osei")
	centreID := repo.addCentre("Riverside", "UTC")
	// 2026-09-07 is a Monday.
	date := mustTime(t, "2026-09-07T00:00:00Z")
	repo.addRule(clinicianID, centreID, int(date.Weekday()), 9*60, 12*60, 30)

	engine := NewAvailabilityEngine(repo, repo)
	slots, err := engine.SlotsFor(context.Background(), clinicianID, nil, date)
	require.NoError(t, err)
	require.Len(t, slots, 6)

	for i, slot := range slots {
		wantStart := mustTime(t, "2026-09-07T09:00:00Z").Add(time.Duration(i*30) * time.Minute)
		assert.True(t, slot.Start.Equal(wantStart), "slot %d start %s", i, slot.Start)
		assert.True(t, slot.End.Equal(wantStart.Add(30*time.Minute)), "slot %d end %s", i, slot.End)
		assert.Equal(t, 30, slot.DurationMinutes)
		assert.True(t, slot.Available)
	}
}

func TestSlotsFor_NoRulesForDayYieldsEmpty(t *testing.T) {
	repo := newMemoryRepo()
	clinicianID := repo.addClinician("Dr Osei")
	centreID := repo.addCentre("Riverside", "UTC")
	monday := mustTime(t, "2026-09-07T00:00:00Z")
	repo.addRule(clinicianID, centreID, int(monday.Weekday()), 9*60, 12*60, 30)

	engine := NewAvailabilityEngine(repo, repo)
	tuesday := monday.AddDate(0, 0, 1)
	slots, err := engine.SlotsFor(context.Background(), clinicianID, nil, tuesday)
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.NotNil(t, slots)
}

func TestSlotsFor_PartialTrailingWindowDropped(t *testing.T) {
	repo := newMemoryRepo()
	clinicianID := repo.addClinician("Dr Osei")
	centreID := repo.addCentre("Riverside", "UTC")
	date := mustTime(t, "2026-09-07T00:00:00Z")
	// 09:00-10:45 with 30 minute slots: 10:30+30 would spill past the window.
	repo.addRule(clinicianID, centreID, int(date.Weekday()), 9*60, 10*60+45, 30)

	engine := NewAvailabilityEngine(repo, repo)
	slots, err := engine.SlotsFor(context.Background(), clinicianID, nil, date)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.True(t, slots[2].End.Equal(mustTime(t, "2026-09-07T10:30:00Z")))
}

func TestSlotsFor_BookedSlotReportedUnavailable(t *testing.T) {
	repo := newMemoryRepo()
	clinicianID := repo.addClinician("Dr Osei")
	centreID := repo.addCentre("Riverside", "UTC")
	patientID := repo.addPatient("Ada Byrne", "ada@example.com")
	date := mustTime(t, "2026-09-07T00:00:00Z")
	repo.addRule(clinicianID, centreID, int(date.Weekday()), 9*60, 12*60, 30)

	start := mustTime(t, "2026-09-07T09:00:00Z")
	_, err := repo.CreateAppointment(context.Background(), Appointment{
		ID:             uuid.New(),
		PatientID:      patientID,
		ClinicianID:    clinicianID,
		CentreID:       centreID,
		Type:           TypeInPerson,
		ScheduledStart: start,
		ScheduledEnd:   start.Add(30 * time.Minute),
		Status:         StatusBooked,
		Active:         true,
	}, nil)
	require.NoError(t, err)

	engine := NewAvailabilityEngine(repo, repo)
	slots, err := engine.SlotsFor(context.Background(), clinicianID, nil, date)
	require.NoError(t, err)
	require.Len(t, slots, 6)
	assert.False(t, slots[0].Available, "booked 09:00 slot")
	for _, slot := range slots[1:] {
		assert.True(t, slot.Available, "slot at %s", slot.Start)
	}
}

func TestSlotsFor_CancelledAppointmentFreesSlot(t *testing.T) {
	repo := newMemoryRepo()
	clinicianID := repo.addClinician("Dr Osei")
	centreID := repo.addCentre("Riverside", "UTC")
	patientID := repo.addPatient("Ada Byrne", "ada@example.com")
	date := mustTime(t, "2026-09-07T00:00:00Z")
	repo.addRule(clinicianID, centreID, int(date.Weekday()), 9*60, 12*60, 30)

	start := mustTime(t, "2026-09-07T09:00:00Z")
	created, err := repo.CreateAppointment(context.Background(), Appointment{
		ID:             uuid.New(),
		PatientID:      patientID,
		ClinicianID:    clinicianID,
		CentreID:       centreID,
		Type:           TypeInPerson,
		ScheduledStart: start,
		ScheduledEnd:   start.Add(30 * time.Minute),
		Status:         StatusBooked,
		Active:         true,
	}, nil)
	require.NoError(t, err)
	_, err = repo.UpdateStatus(context.Background(), created.ID, StatusBooked, StatusCancelled, patientID, nil, nil)
	require.NoError(t, err)

	engine := NewAvailabilityEngine(repo, repo)
	slots, err := engine.SlotsFor(context.Background(), clinicianID, nil, date)
	require.NoError(t, err)
	assert.True(t, slots[0].Available, "cancelled appointment must not block the slot")
}

func TestSlotsFor_OverlappingRulesConcatenate(t *testing.T) {
	repo := newMemoryRepo()
	clinicianID := repo.addClinician("Dr Osei")
	centreID := repo.addCentre("Riverside", "UTC")
	date := mustTime(t, "2026-09-07T00:00:00Z")
	repo.addRule(clinicianID, centreID, int(date.Weekday()), 9*60, 11*60, 60)
	repo.addRule(clinicianID, centreID, int(date.Weekday()), 10*60, 12*60, 60)

	engine := NewAvailabilityEngine(repo, repo)
	slots, err := engine.SlotsFor(context.Background(), clinicianID, nil, date)
	require.NoError(t, err)
	// Two slots each; overlapping candidates are not deduplicated.
	assert.Len(t, slots, 4)
}

func TestSlotsFor_CentreFilter(t *testing.T) {
	repo := newMemoryRepo()
	clinicianID := repo.addClinician("Dr Osei")
	riverside := repo.addCentre("Riverside", "UTC")
	hilltop := repo.addCentre("Hilltop", "UTC")
	date := mustTime(t, "2026-09-07T00:00:00Z")
	repo.addRule(clinicianID, riverside, int(date.Weekday()), 9*60, 10*60, 30)
	repo.addRule(clinicianID, hilltop, int(date.Weekday()), 14*60, 15*60, 30)

	engine := NewAvailabilityEngine(repo, repo)
	slots, err := engine.SlotsFor(context.Background(), clinicianID, &hilltop, date)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	for _, slot := range slots {
		assert.Equal(t, hilltop, slot.CentreID)
	}
}

func TestSlotsFor_CentreTimezoneAnchorsWallClock(t *testing.T) {
	repo := newMemoryRepo()
	clinicianID := repo.addClinician("Dr Osei")
	centreID := repo.addCentre("Riverside", "Europe/London")
	// A Monday in British Summer Time: 09:00 local is 08:00 UTC.
	date := mustTime(t, "2026-07-06T00:00:00Z")
	repo.addRule(clinicianID, centreID, int(date.Weekday()), 9*60, 10*60, 60)

	engine := NewAvailabilityEngine(repo, repo)
	slots, err := engine.SlotsFor(context.Background(), clinicianID, nil, date)
	require.NoError(t, err)
	require.Len(t, slots, 1)

	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	local := slots[0].Start.In(loc)
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 8, slots[0].Start.UTC().Hour())
}
