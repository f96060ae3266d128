package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/appointment-service/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	centreIDs, err := seedCentres(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed centres: %v", err)
	}
	clinicianIDs, err := seedClinicians(context.Background(), pool, 30)
	if err != nil {
		log.Fatalf("seed clinicians: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAvailabilityRules(context.Background(), pool, clinicianIDs, centreIDs); err != nil {
		log.Fatalf("seed availability rules: %v", err)
	}

	log.Println("seed complete")
}

func seedCentres(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	centres := []struct {
		name     string
		timezone string
	}{
		{"Riverside Medical Centre", "Europe/London"},
		{"Northgate Clinic", "Europe/London"},
		{"Harbourview Health Hub", "Europe/Dublin"},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(centres))
	for _, c := range centres {
		id := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO centres (id, name, timezone, active, created_at, updated_at)
			VALUES ($1, $2, $3, true, now(), now())
		`, id, c.name, c.timezone); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Printf("centres seeded: %d", len(ids))
	return ids, nil
}

func seedClinicians(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinicians", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO clinicians (id, name, email, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, email, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("clinicians seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, email, phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedAvailabilityRules gives every clinician a weekday morning and
// afternoon block at a random centre.
func seedAvailabilityRules(ctx context.Context, pool *pgxpool.Pool, clinicianIDs, centreIDs []uuid.UUID) error {
	log.Printf("seeding availability rules for %d clinicians", len(clinicianIDs))

	modes := []string{"IN_PERSON", "ONLINE", "EITHER"}
	durations := []int{15, 20, 30, 45}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, clinicianID := range clinicianIDs {
		centreID := centreIDs[gofakeit.Number(0, len(centreIDs)-1)]
		duration := durations[gofakeit.Number(0, len(durations)-1)]

		for day := 1; day <= 5; day++ { // Monday through Friday
			blocks := []struct{ start, end int }{
				{9 * 60, 12 * 60},
				{13 * 60, 17 * 60},
			}
			for _, b := range blocks {
				mode := modes[gofakeit.Number(0, len(modes)-1)]
				_, err := tx.Exec(ctx, `
					INSERT INTO availability_rules
						(id, clinician_id, centre_id, day_of_week, start_minute, end_minute,
						 slot_duration_minutes, consultation_mode, active, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, now(), now())
				`, uuid.New(), clinicianID, centreID, day, b.start, b.end, duration, mode)
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("availability rules seeded")
	return nil
}
