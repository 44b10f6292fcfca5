package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-engine/internal/api"
	"github.com/hackgods/appointment-engine/internal/client"
	"github.com/hackgods/appointment-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL     string
	IdentitySecret string
	Duration       time.Duration
	Workers        int
	Practitioners  int
	Patients       int
	BookingRatio   float64
	ConfirmRatio   float64
	CancelRatio    float64
	ReadRatio      float64
}

type actor struct {
	id     uuid.UUID
	client *client.Client
}

// DataPool holds the world the simulator created through the API.
type DataPool struct {
	Date          string
	Practitioners []actor
	Patients      []actor
	Slots         map[uuid.UUID][]string // practitioner -> slot starts

	mu           sync.RWMutex
	appointments []booked
}

type booked struct {
	id           uuid.UUID
	practitioner int
	patient      int
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&om.Success, 1)
	case isConflict(err):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

// isConflict reports the outcomes a correct server produces under contention.
func isConflict(err error) bool {
	for _, code := range []string{"slot_taken", "terminal_state", "slot_not_available"} {
		if client.IsCode(err, code) {
			return true
		}
	}
	return false
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Booking          OperationMetrics
	Confirm          OperationMetrics
	Cancel           OperationMetrics
	ListSlots        OperationMetrics
	ListByPatient    OperationMetrics
	ListPractitioner OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev"))
	logger.Info().Msg("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("config")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	dataPool, err := setupWorld(ctx, cfg, httpClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("set up simulation data")
	}
	logger.Info().
		Int("practitioners", len(dataPool.Practitioners)).
		Int("patients", len(dataPool.Patients)).
		Str("date", dataPool.Date).
		Msg("world ready")

	sim := &Simulator{config: cfg, pool: dataPool, log: logger}
	sim.Run()

	violations, err := sim.CheckNoDoubleBooking(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("double booking check failed")
	}
	sim.PrintReport(violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		IdentitySecret: os.Getenv("IDENTITY_SECRET"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		Practitioners:  getInt("SIM_PRACTITIONERS", 5),
		Patients:       getInt("SIM_PATIENTS", 50),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.45),
		ConfirmRatio:   getFloat("SIM_CONFIRM_RATIO", 0.15),
		CancelRatio:    getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.3),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.IdentitySecret == "" {
		return fmt.Errorf("IDENTITY_SECRET is required to mint simulation tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Practitioners <= 0 || cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PRACTITIONERS and SIM_PATIENTS must be > 0")
	}
	return nil
}

func newActor(cfg SimConfig, httpClient *http.Client, name string) (actor, error) {
	id := uuid.New()
	token, err := api.IssueToken(cfg.IdentitySecret, id, name, cfg.Duration+10*time.Minute)
	if err != nil {
		return actor{}, err
	}
	return actor{id: id, client: client.New(cfg.APIBaseURL, token, client.WithHTTPClient(httpClient))}, nil
}

// setupWorld registers fresh practitioners and patients and gives every
// practitioner one working day a year from now, so runs never collide with
// real data or with each other.
func setupWorld(ctx context.Context, cfg SimConfig, httpClient *http.Client) (*DataPool, error) {
	faker := gofakeit.New(0)
	date := time.Now().UTC().AddDate(1, 0, faker.Number(0, 300)).Format("2006-01-02")
	dp := &DataPool{Date: date, Slots: make(map[uuid.UUID][]string)}

	admin, err := newActor(cfg, httpClient, "simulator")
	if err != nil {
		return nil, err
	}
	specialties, err := admin.client.Specialties(ctx)
	if err != nil {
		return nil, fmt.Errorf("load specialties: %w", err)
	}

	for i := 0; i < cfg.Practitioners; i++ {
		name := "Dr. " + faker.Name()
		a, err := newActor(cfg, httpClient, name)
		if err != nil {
			return nil, err
		}
		if _, err := a.client.RegisterPractitioner(ctx, name, faker.RandomString(specialties)); err != nil {
			return nil, fmt.Errorf("register practitioner: %w", err)
		}
		if _, err := a.client.DeclareAvailability(ctx, a.id, api.DeclareAvailabilityRequest{
			Date: date, Start: "09:00", End: "17:00", GranularityMinutes: 30,
		}); err != nil {
			return nil, fmt.Errorf("declare availability: %w", err)
		}
		slots, err := a.client.ListSlots(ctx, a.id, date)
		if err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
		for _, s := range slots {
			dp.Slots[a.id] = append(dp.Slots[a.id], s.Start)
		}
		dp.Practitioners = append(dp.Practitioners, a)
	}

	for i := 0; i < cfg.Patients; i++ {
		name := faker.Name()
		a, err := newActor(cfg, httpClient, name)
		if err != nil {
			return nil, err
		}
		if _, err := a.client.RegisterPatient(ctx, name, nil); err != nil {
			return nil, fmt.Errorf("register patient: %w", err)
		}
		dp.Patients = append(dp.Patients, a)
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doListSlots(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doListByPractitioner(ctx, rng)
			}
		}
	}
}

// record drops outcomes of requests cut short by the end of the run.
func (s *Simulator) record(ctx context.Context, om *OperationMetrics, start time.Time, err error) {
	if ctx.Err() != nil {
		return
	}
	om.Record(time.Since(start), err)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	pi := rng.Intn(len(s.pool.Practitioners))
	practitioner := s.pool.Practitioners[pi]
	slots := s.pool.Slots[practitioner.id]
	if len(slots) == 0 {
		return
	}
	patientIdx := rng.Intn(len(s.pool.Patients))

	start := time.Now()
	appt, err := s.pool.Patients[patientIdx].client.Book(ctx, api.BookAppointmentRequest{
		PractitionerID: practitioner.id.String(),
		Date:           s.pool.Date,
		SlotStart:      slots[rng.Intn(len(slots))],
	})
	s.record(ctx, &s.metrics.Booking, start, err)
	if err == nil {
		s.pool.AddAppointment(booked{id: appt.ID, practitioner: pi, patient: patientIdx})
	}
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	_, err := s.pool.Practitioners[b.practitioner].client.Confirm(ctx, b.id, "")
	s.record(ctx, &s.metrics.Confirm, start, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	c := s.pool.Patients[b.patient].client
	if rng.Intn(2) == 0 {
		c = s.pool.Practitioners[b.practitioner].client
	}

	start := time.Now()
	_, err := c.Cancel(ctx, b.id, "simulated cancellation")
	s.record(ctx, &s.metrics.Cancel, start, err)
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	_, err := patient.client.ListSlots(ctx, p.id, s.pool.Date)
	s.record(ctx, &s.metrics.ListSlots, start, err)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	_, err := patient.client.ListPatientAppointments(ctx, patient.id, 20, 0)
	s.record(ctx, &s.metrics.ListByPatient, start, err)
}

func (s *Simulator) doListByPractitioner(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]

	start := time.Now()
	_, err := p.client.ListPractitionerAppointments(ctx, p.id, 20, 0)
	s.record(ctx, &s.metrics.ListPractitioner, start, err)
}

// CheckNoDoubleBooking lists every practitioner's appointments and counts slots
// holding more than one active appointment.
func (s *Simulator) CheckNoDoubleBooking(ctx context.Context) (int, error) {
	violations := 0
	for _, p := range s.pool.Practitioners {
		list, err := p.client.ListPractitionerAppointments(ctx, p.id, 0, 0)
		if err != nil {
			return violations, err
		}
		active := make(map[string]int)
		for _, a := range list {
			if a.Status == "requested" || a.Status == "confirmed" {
				active[a.Date+" "+a.SlotStart]++
			}
		}
		for slot, n := range active {
			if n > 1 {
				violations++
				s.log.Error().Str("practitioner_id", p.id.String()).Str("slot", slot).Int("active", n).Msg("double booking")
			}
		}
	}
	return violations, nil
}

func (s *Simulator) PrintReport(violations int) {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Double-booked slots: %d\n", violations)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List slots", &s.metrics.ListSlots)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("List by Practitioner", &s.metrics.ListPractitioner)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
