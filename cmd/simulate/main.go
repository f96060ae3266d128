// simulate fires concurrent booking requests at a running api-server,
// deliberately contending on the same clinicians and slots, then verifies
// in the database that no two blocking appointments of any clinician
// overlap. One booking per contended slot should succeed; the rest should
// see 409s.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/appointment-service/internal/config"
	"github.com/carebridge/appointment-service/internal/db"
)

type simConfig struct {
	apiBaseURL string
	workers    int
	rounds     int
	contention int // concurrent requests per contended slot
}

type dataPool struct {
	patients   []uuid.UUID
	clinicians []uuid.UUID
	centres    map[uuid.UUID]uuid.UUID // clinician -> centre with rules
}

type opMetrics struct {
	total     int64
	success   int64
	conflict  int64
	rejected  int64
	errored   int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *opMetrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&m.total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&m.success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.conflict, 1)
	case status == http.StatusBadRequest:
		atomic.AddInt64(&m.rejected, 1)
	default:
		atomic.AddInt64(&m.errored, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *opMetrics) report() {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Printf("requests=%d created=%d conflict=%d rejected=%d error=%d\n",
		m.total, m.success, m.conflict, m.rejected, m.errored)

	if len(m.latencies) == 0 {
		return
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p := func(q int) time.Duration {
		idx := len(sorted) * q / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	fmt.Printf("latency min=%s p50=%s p95=%s max=%s\n", sorted[0], p(50), p(95), sorted[len(sorted)-1])
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	sim := simConfig{
		apiBaseURL: envOr("SIM_API_URL", "http://127.0.0.1:"+cfg.HTTPPort),
		workers:    envInt("SIM_WORKERS", 20),
		rounds:     envInt("SIM_ROUNDS", 50),
		contention: envInt("SIM_CONTENTION", 5),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	data, err := loadPool(context.Background(), pool)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d patients, %d clinicians", len(data.patients), len(data.clinicians))

	metrics := &opMetrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	// Next Monday 09:00 UTC keeps requests inside the seeded weekday rules.
	base := nextWeekday(time.Now().UTC(), time.Monday).Truncate(24 * time.Hour).Add(9 * time.Hour)

	jobs := make(chan bookingJob)
	var wg sync.WaitGroup
	for w := 0; w < sim.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				status, latency := book(client, sim.apiBaseURL, job)
				metrics.record(latency, status)
			}
		}()
	}

	for round := 0; round < sim.rounds; round++ {
		clinician := data.clinicians[rand.Intn(len(data.clinicians))]
		centre := data.centres[clinician]
		start := base.Add(time.Duration(round%6) * 30 * time.Minute)

		// Several patients race for the identical slot.
		for i := 0; i < sim.contention; i++ {
			jobs <- bookingJob{
				patient:   data.patients[rand.Intn(len(data.patients))],
				clinician: clinician,
				centre:    centre,
				start:     start,
			}
		}
	}
	close(jobs)
	wg.Wait()

	metrics.report()

	overlaps, err := countOverlaps(context.Background(), pool)
	if err != nil {
		log.Fatalf("verify overlaps: %v", err)
	}
	if overlaps > 0 {
		log.Fatalf("INVARIANT VIOLATED: %d overlapping appointment pairs found", overlaps)
	}
	log.Println("no overlapping appointments found")
}

type bookingJob struct {
	patient   uuid.UUID
	clinician uuid.UUID
	centre    uuid.UUID
	start     time.Time
}

func book(client *http.Client, baseURL string, job bookingJob) (int, time.Duration) {
	payload, _ := json.Marshal(map[string]any{
		"patient_id":       job.patient.String(),
		"clinician_id":     job.clinician.String(),
		"centre_id":        job.centre.String(),
		"start_at":         job.start.Format(time.RFC3339),
		"duration_minutes": 30,
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/appointments", bytes.NewReader(payload))
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", uuid.New().String())
	req.Header.Set("X-Actor-Role", "front_desk")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()
	return resp.StatusCode, latency
}

func loadPool(ctx context.Context, pool *pgxpool.Pool) (*dataPool, error) {
	data := &dataPool{centres: make(map[uuid.UUID]uuid.UUID)}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT 500`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		data.patients = append(data.patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ruleRows, err := pool.Query(ctx, `
		SELECT DISTINCT ON (clinician_id) clinician_id, centre_id
		FROM availability_rules
		WHERE active
	`)
	if err != nil {
		return nil, err
	}
	defer ruleRows.Close()
	for ruleRows.Next() {
		var clinicianID, centreID uuid.UUID
		if err := ruleRows.Scan(&clinicianID, &centreID); err != nil {
			return nil, err
		}
		data.clinicians = append(data.clinicians, clinicianID)
		data.centres[clinicianID] = centreID
	}
	if err := ruleRows.Err(); err != nil {
		return nil, err
	}

	if len(data.patients) == 0 || len(data.clinicians) == 0 {
		return nil, fmt.Errorf("no seed data found, run cmd/seed first")
	}
	return data, nil
}

func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.clinician_id = b.clinician_id
		 AND a.id < b.id
		 AND a.scheduled_start_at < b.scheduled_end_at
		 AND a.scheduled_end_at > b.scheduled_start_at
		WHERE a.active AND a.status NOT IN ('CANCELLED', 'NO_SHOW')
		  AND b.active AND b.status NOT IN ('CANCELLED', 'NO_SHOW')
	`).Scan(&count)
	return count, err
}

func nextWeekday(t time.Time, day time.Weekday) time.Time {
	for t.Weekday() != day {
		t = t.Add(24 * time.Hour)
	}
	return t
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
