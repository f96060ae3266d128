package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AvailabilityEngine expands recurring weekly rules into concrete bookable
// slots for a clinician on a given calendar date.
type AvailabilityEngine struct {
	repo      Repository
	conflicts ConflictDetector
}

func NewAvailabilityEngine(repo Repository, conflicts ConflictDetector) *AvailabilityEngine {
	return &AvailabilityEngine{repo: repo, conflicts: conflicts}
}

// SlotsFor returns the candidate slots for clinicianID on the calendar date
// given by year/month/day of `date`, optionally filtered to one centre.
// Rules are expanded independently and concatenated: two overlapping rules
// can legitimately produce overlapping candidate slots. Each slot is checked
// against the conflict detector and reported with its availability. No rule
// for the day yields an empty, non-error result.
func (e *AvailabilityEngine) SlotsFor(ctx context.Context, clinicianID uuid.UUID, centreID *uuid.UUID, date time.Time) ([]Slot, error) {
	dow := int(date.Weekday())

	rules, err := e.repo.GetAvailabilityRules(ctx, clinicianID, dow, centreID)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	if len(rules) == 0 {
		return []Slot{}, nil
	}

	// Centre timezones resolved once per distinct centre.
	locations := make(map[uuid.UUID]*time.Location, 1)

	slots := make([]Slot, 0, 16)
	for _, rule := range rules {
		loc, ok := locations[rule.CentreID]
		if !ok {
			centre, err := e.repo.GetCentreByID(ctx, rule.CentreID)
			if err != nil {
				return nil, fmt.Errorf("load centre %s: %w", rule.CentreID, err)
			}
			loc, err = centre.Location()
			if err != nil {
				return nil, err
			}
			locations[rule.CentreID] = loc
		}

		expanded, err := e.expandRule(ctx, clinicianID, rule, date, loc)
		if err != nil {
			return nil, err
		}
		slots = append(slots, expanded...)
	}

	return slots, nil
}

// expandRule steps through the rule window emitting fixed-length slots
// while slot_end <= end_time.
func (e *AvailabilityEngine) expandRule(ctx context.Context, clinicianID uuid.UUID, rule AvailabilityRule, date time.Time, loc *time.Location) ([]Slot, error) {
	step := time.Duration(rule.SlotDurationMinutes) * time.Minute

	var slots []Slot
	for cursor := rule.StartMinute; cursor+MinuteOfDay(rule.SlotDurationMinutes) <= rule.EndMinute; cursor += MinuteOfDay(rule.SlotDurationMinutes) {
		start := time.Date(date.Year(), date.Month(), date.Day(), 0, int(cursor), 0, 0, loc)
		end := start.Add(step)

		busy, err := e.conflicts.HasOverlap(ctx, clinicianID, start, end, nil)
		if err != nil {
			return nil, fmt.Errorf("conflict check for slot %s: %w", start, err)
		}

		slots = append(slots, Slot{
			RuleID:          rule.ID,
			CentreID:        rule.CentreID,
			Start:           start,
			End:             end,
			DurationMinutes: rule.SlotDurationMinutes,
			Mode:            rule.Mode,
			Available:       !busy,
		})
	}
	return slots, nil
}

// windowContains reports whether the local time-of-day of `start` falls
// inside the rule's [start_minute, end_minute) window.
func windowContains(rule AvailabilityRule, start time.Time, loc *time.Location) bool {
	local := start.In(loc)
	minute := MinuteOfDay(local.Hour()*60 + local.Minute())
	return minute >= rule.StartMinute && minute < rule.EndMinute
}
