package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// InsertTx enqueues a record inside an existing transaction. The scheduling
// repository calls this so the effect commits or rolls back with the
// booking mutation it belongs to.
func InsertTx(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, effectType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_records (appointment_id, effect_type, payload, status, attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'PENDING', 0, now(), now(), now())
	`, appointmentID, effectType, payload)
	if err != nil {
		return fmt.Errorf("insert outbox record: %w", err)
	}
	return nil
}

// ClaimDue leases due records by pushing next_attempt_at forward in the
// same statement that selects them, so two workers cannot process the same
// record concurrently.
func (s *PgStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox_records
		SET next_attempt_at = $1 + interval '2 minutes',
		    updated_at = now()
		WHERE id IN (
			SELECT id
			FROM outbox_records
			WHERE status = 'PENDING'
			  AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, appointment_id, effect_type, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox records: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID,
			&r.AppointmentID,
			&r.EffectType,
			&r.Payload,
			&r.Status,
			&r.Attempts,
			&r.NextAttemptAt,
			&r.LastError,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PgStore) MarkSent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_records
		SET status = 'SENT', updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark outbox record sent: %w", err)
	}
	return nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_records
		SET attempts = attempts + 1,
		    next_attempt_at = $2,
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, nextAttemptAt, lastError)
	if err != nil {
		return fmt.Errorf("mark outbox record failed: %w", err)
	}
	return nil
}

func (s *PgStore) MarkDead(ctx context.Context, id int64, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_records
		SET status = 'DEAD',
		    attempts = attempts + 1,
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, lastError)
	if err != nil {
		return fmt.Errorf("mark outbox record dead: %w", err)
	}
	return nil
}
