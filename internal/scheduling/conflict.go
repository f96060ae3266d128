package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConflictDetector decides whether a proposed time range collides with an
// existing blocking appointment. The production implementation runs the
// interval test in SQL; Repository satisfies this interface.
type ConflictDetector interface {
	HasOverlap(ctx context.Context, clinicianID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)
}

// Overlaps is the half-open interval test: [s1,e1) and [s2,e2) overlap iff
// s1 < e2 && e1 > s2. Back-to-back slots do not conflict.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && e1.After(s2)
}
