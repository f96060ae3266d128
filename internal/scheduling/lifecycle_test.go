package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition_AllowedMoves(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusBooked, StatusConfirmed},
		{StatusBooked, StatusCancelled},
		{StatusBooked, StatusNoShow},
		{StatusBooked, StatusRescheduled},
		{StatusConfirmed, StatusCompleted},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusNoShow},
		{StatusConfirmed, StatusRescheduled},
		{StatusRescheduled, StatusConfirmed},
		{StatusRescheduled, StatusCompleted},
		{StatusRescheduled, StatusCancelled},
		{StatusRescheduled, StatusNoShow},
		{StatusRescheduled, StatusRescheduled},
	}
	for _, tc := range allowed {
		assert.NoError(t, ValidateTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_DisallowedMoves(t *testing.T) {
	t.Run("booked cannot jump to completed", func(t *testing.T) {
		err := ValidateTransition(StatusBooked, StatusCompleted)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("cancel of completed has its own error", func(t *testing.T) {
		err := ValidateTransition(StatusCompleted, StatusCancelled)
		require.ErrorIs(t, err, ErrCancelCompleted)
	})

	t.Run("double cancel has its own error", func(t *testing.T) {
		err := ValidateTransition(StatusCancelled, StatusCancelled)
		require.ErrorIs(t, err, ErrAlreadyCancelled)
	})

	t.Run("terminal statuses admit nothing", func(t *testing.T) {
		for _, from := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
			for _, to := range []Status{StatusBooked, StatusConfirmed, StatusCompleted, StatusNoShow, StatusRescheduled} {
				err := ValidateTransition(from, to)
				assert.Error(t, err, "%s -> %s", from, to)
			}
		}
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		require.ErrorIs(t, ValidateTransition(Status("PENDING"), StatusConfirmed), ErrUnknownStatus)
		require.ErrorIs(t, ValidateTransition(StatusBooked, Status("ARCHIVED")), ErrUnknownStatus)
	})
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(StatusCompleted))
	assert.True(t, Terminal(StatusCancelled))
	assert.True(t, Terminal(StatusNoShow))
	assert.False(t, Terminal(StatusBooked))
	assert.False(t, Terminal(StatusConfirmed))
	assert.False(t, Terminal(StatusRescheduled))
	assert.False(t, Terminal(Status("PENDING")))
}

func TestOverlaps(t *testing.T) {
	base := mustTime(t, "2026-09-07T09:00:00Z")
	half := base.Add(30 * time.Minute)
	hour := base.Add(60 * time.Minute)

	assert.True(t, Overlaps(base, hour, half, half.Add(30*time.Minute)), "partial overlap")
	assert.True(t, Overlaps(base, half, base, half), "identical ranges")
	assert.True(t, Overlaps(base, hour, base.Add(10*time.Minute), base.Add(20*time.Minute)), "containment")
	assert.False(t, Overlaps(base, half, half, hour), "back to back share only the boundary")
	assert.False(t, Overlaps(half, hour, base, half), "back to back reversed")
	assert.False(t, Overlaps(base, half, hour, hour.Add(30*time.Minute)), "disjoint")
}
