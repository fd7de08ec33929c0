package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/logging"
)

type simConfig struct {
	baseURL     string
	duration    time.Duration
	workers     int
	cancelRatio float64
	readRatio   float64
	slotLimit   int
	patients    int
}

// envelope mirrors the API response shape; only the fields the simulator reads.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

type slotRef struct {
	ID uuid.UUID `json:"id"`
}

type bookingRef struct {
	ID     uuid.UUID `json:"id"`
	SlotID uuid.UUID `json:"slot_id"`
	Status string    `json:"status"`
}

type patient struct {
	Name  string `json:"patient_name"`
	Email string `json:"patient_email"`
}

// opStats collects outcomes and latencies for one kind of request.
type opStats struct {
	total     atomic.Int64
	ok        atomic.Int64
	conflict  atomic.Int64
	failed    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (o *opStats) record(took time.Duration, code int, err error) {
	o.total.Add(1)
	switch {
	case err != nil:
		o.failed.Add(1)
	case code == http.StatusOK || code == http.StatusCreated:
		o.ok.Add(1)
	case code == http.StatusConflict:
		o.conflict.Add(1)
	default:
		o.failed.Add(1)
	}

	o.mu.Lock()
	o.latencies = append(o.latencies, took)
	o.mu.Unlock()
}

func (o *opStats) percentiles() (avg, p50, p95, max time.Duration) {
	o.mu.Lock()
	sorted := append([]time.Duration(nil), o.latencies...)
	o.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	at := func(pct int) time.Duration {
		idx := len(sorted) * pct / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return sum / time.Duration(len(sorted)), at(50), at(95), sorted[len(sorted)-1]
}

type simulator struct {
	cfg      simConfig
	client   *http.Client
	logger   *zap.Logger
	slots    []uuid.UUID
	patients []patient

	mu        sync.Mutex
	confirmed []uuid.UUID

	book   opStats
	cancel opStats
	read   opStats
}

func main() {
	cfg := simConfig{}
	flag.StringVar(&cfg.baseURL, "url", envOr("SIM_API_BASE_URL", "http://localhost:8080"), "api base url")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "how long to generate load")
	flag.IntVar(&cfg.workers, "workers", 20, "concurrent clients")
	flag.Float64Var(&cfg.cancelRatio, "cancel", 0.1, "share of operations that cancel a confirmed booking")
	flag.Float64Var(&cfg.readRatio, "read", 0.2, "share of operations that read bookings or slots")
	flag.IntVar(&cfg.slotLimit, "slots", 200, "maximum available slots to contend for")
	flag.IntVar(&cfg.patients, "patients", 500, "distinct fake patients")
	flag.Parse()

	logger := logging.Must(envOr("APP_ENV", "dev"), envOr("LOG_LEVEL", "info")).Named("simulate")
	defer func() { _ = logger.Sync() }()

	if cfg.workers <= 0 || cfg.duration <= 0 {
		logger.Fatal("workers and duration must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := &simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	if err := sim.loadSlots(ctx); err != nil {
		logger.Fatal("load slots", zap.Error(err))
	}
	sim.patients = fakePatients(cfg.patients)

	logger.Info("simulation starting",
		zap.Int("slots", len(sim.slots)),
		zap.Int("workers", cfg.workers),
		zap.Duration("duration", cfg.duration))

	sim.run(ctx)
	sim.report()

	doubles, err := sim.verify(context.Background())
	if err != nil {
		logger.Fatal("verify bookings", zap.Error(err))
	}
	if doubles > 0 {
		logger.Error("slots confirmed more than once", zap.Int("slots", doubles))
		os.Exit(1)
	}
	logger.Info("no slot holds more than one confirmed booking")
}

func fakePatients(n int) []patient {
	out := make([]patient, n)
	for i := range out {
		out[i] = patient{Name: gofakeit.Name(), Email: gofakeit.Email()}
	}
	return out
}

func (s *simulator) loadSlots(ctx context.Context) error {
	var env envelope[[]slotRef]
	if _, err := s.getJSON(ctx, "/api/slots", &env); err != nil {
		return err
	}
	for _, sl := range env.Data {
		if len(s.slots) == s.cfg.slotLimit {
			break
		}
		s.slots = append(s.slots, sl.ID)
	}
	if len(s.slots) == 0 {
		return errors.New("no available slots; run the seed command first")
	}
	return nil
}

func (s *simulator) run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			s.worker(ctx, rand.New(rand.NewSource(seed)))
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()
}

func (s *simulator) worker(ctx context.Context, rng *rand.Rand) {
	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.cfg.cancelRatio:
			s.doCancel(ctx, rng)
		case r < s.cfg.cancelRatio+s.cfg.readRatio:
			s.doRead(ctx, rng)
		default:
			s.doBook(ctx, rng)
		}
	}
}

func (s *simulator) doBook(ctx context.Context, rng *rand.Rand) {
	p := s.patients[rng.Intn(len(s.patients))]
	body := map[string]any{
		"slot_id":       s.slots[rng.Intn(len(s.slots))],
		"patient_name":  p.Name,
		"patient_email": p.Email,
	}

	var env envelope[bookingRef]
	start := time.Now()
	code, err := s.sendJSON(ctx, http.MethodPost, "/api/bookings", body, &env)
	if ctx.Err() != nil {
		return
	}
	s.book.record(time.Since(start), code, err)

	if code == http.StatusCreated {
		s.mu.Lock()
		s.confirmed = append(s.confirmed, env.Data.ID)
		s.mu.Unlock()
	}
}

func (s *simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	s.mu.Lock()
	if len(s.confirmed) == 0 {
		s.mu.Unlock()
		return
	}
	idx := rng.Intn(len(s.confirmed))
	id := s.confirmed[idx]
	s.confirmed[idx] = s.confirmed[len(s.confirmed)-1]
	s.confirmed = s.confirmed[:len(s.confirmed)-1]
	s.mu.Unlock()

	start := time.Now()
	code, err := s.sendJSON(ctx, http.MethodPut, "/api/bookings/"+id.String()+"/cancel", nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.cancel.record(time.Since(start), code, err)
}

func (s *simulator) doRead(ctx context.Context, rng *rand.Rand) {
	path := "/api/slots/" + s.slots[rng.Intn(len(s.slots))].String()
	if rng.Intn(2) == 0 {
		path = "/api/bookings/stats"
	}

	start := time.Now()
	code, err := s.getJSON(ctx, path, nil)
	if ctx.Err() != nil {
		return
	}
	s.read.record(time.Since(start), code, err)
}

// verify counts slots that ended up with more than one CONFIRMED booking.
func (s *simulator) verify(ctx context.Context) (int, error) {
	var env envelope[[]bookingRef]
	if _, err := s.getJSON(ctx, "/api/bookings?status=CONFIRMED", &env); err != nil {
		return 0, err
	}
	perSlot := make(map[uuid.UUID]int, len(env.Data))
	doubles := 0
	for _, b := range env.Data {
		perSlot[b.SlotID]++
		if perSlot[b.SlotID] == 2 {
			doubles++
		}
	}
	return doubles, nil
}

func (s *simulator) getJSON(ctx context.Context, path string, out any) (int, error) {
	return s.sendJSON(ctx, http.MethodGet, path, nil, out)
}

func (s *simulator) sendJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *simulator) report() {
	line := strings.Repeat("=", 72)
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("duration=%s workers=%d slots=%d\n\n", s.cfg.duration, s.cfg.workers, len(s.slots))

	printOp("book", &s.book)
	printOp("cancel", &s.cancel)
	printOp("read", &s.read)
}

func printOp(name string, o *opStats) {
	total := o.total.Load()
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	avg, p50, p95, max := o.percentiles()
	fmt.Printf("%s:\n", name)
	fmt.Printf("  total=%d ok=%d (%.1f%%) conflict=%d (%.1f%%) error=%d (%.1f%%)\n",
		total, o.ok.Load(), pct(o.ok.Load()), o.conflict.Load(), pct(o.conflict.Load()), o.failed.Load(), pct(o.failed.Load()))
	fmt.Printf("  latency avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
