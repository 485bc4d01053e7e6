package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"checkpoint-service/internal/config"
	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/repository"
	"checkpoint-service/internal/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type handoff struct {
	passage checkpoint.Passage
	receipt *checkpoint.Receipt
}

type recordingSink struct {
	mu       sync.Mutex
	handoffs []handoff
}

func (s *recordingSink) Handoff(_ context.Context, passage checkpoint.Passage, receipt *checkpoint.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs = append(s.handoffs, handoff{passage: passage, receipt: receipt})
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handoffs)
}

type testEnv struct {
	db         *gorm.DB
	f          testutil.Fixture
	clock      *clock
	sink       *recordingSink
	tx         *repository.TxManager
	detections *repository.DetectionRepository
	vehicles   *repository.VehicleRepository
	passages   *repository.PassageRepository
	refs       *repository.ReferenceRepository
	pricing    *PricingEngine
	lifecycle  *PassageService
	processor  *ProcessorService
}

var day1 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvIn(t, time.UTC)
}

func newTestEnvIn(t *testing.T, loc *time.Location) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	env := &testEnv{
		db:         db,
		f:          testutil.Seed(t, db),
		clock:      &clock{t: day1.Add(8 * time.Hour)},
		sink:       &recordingSink{},
		tx:         repository.NewTxManager(db),
		detections: repository.NewDetectionRepository(db),
		vehicles:   repository.NewVehicleRepository(db),
		passages:   repository.NewPassageRepository(db),
		refs:       repository.NewReferenceRepository(db),
	}

	log := zerolog.Nop()
	env.pricing = NewPricingEngine(env.refs, log)
	env.lifecycle = NewPassageService(env.tx, env.vehicles, env.passages, env.refs, env.pricing, env.sink,
		config.PassageConfig{ReentryWindow: 24 * time.Hour}, loc, log)
	env.lifecycle.now = env.clock.now
	env.processor = NewProcessorService(env.tx, env.detections, env.vehicles, env.passages, env.refs, env.lifecycle,
		config.ProcessorConfig{BatchLimit: 100}, log)
	return env
}

func (e *testEnv) at(d time.Duration) time.Time {
	return day1.Add(d)
}

func (e *testEnv) entry(t *testing.T, plate string, gateID int64, bodyTypeID *int64) *checkpoint.EntryResult {
	t.Helper()
	res, err := e.lifecycle.ProcessVehicleEntry(context.Background(), checkpoint.PassageRequest{
		Plate:  plate,
		GateID: gateID,
		Extra:  checkpoint.PassageExtra{BodyTypeID: bodyTypeID},
	})
	if err != nil {
		t.Fatalf("entry %s: %v", plate, err)
	}
	return res
}

func (e *testEnv) exit(t *testing.T, plate string, gateID int64) *checkpoint.ExitResult {
	t.Helper()
	res, err := e.lifecycle.ProcessVehicleExit(context.Background(), checkpoint.PassageRequest{Plate: plate, GateID: gateID})
	if err != nil {
		t.Fatalf("exit %s: %v", plate, err)
	}
	return res
}

func (e *testEnv) pay(t *testing.T, passageID int64) *checkpoint.PaymentResult {
	t.Helper()
	res, err := e.lifecycle.ConfirmEntryPayment(context.Background(), passageID, nil, checkpoint.PaymentData{Method: "cash"})
	if err != nil {
		t.Fatalf("pay passage %d: %v", passageID, err)
	}
	return res
}

func ptr[T any](v T) *T {
	return &v
}

func repositoryProcessed() repository.DetectionUpdate {
	return repository.DetectionUpdate{Status: checkpoint.StatusProcessed, Processed: true, Notes: "done"}
}
