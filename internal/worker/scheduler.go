// Package worker runs the recurring ingestion and processing cycles.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"checkpoint-service/internal/domain/checkpoint"
)

type Ingester interface {
	Ingest(ctx context.Context, target checkpoint.FeedTarget, since *time.Time) checkpoint.IngestResult
}

type Processor interface {
	ProcessPending(ctx context.Context) (checkpoint.ProcessSummary, error)
}

type Options struct {
	Targets         []checkpoint.FeedTarget
	PollInterval    time.Duration
	ProcessInterval time.Duration
	// RunTimeout bounds a single cycle; zero means the interval.
	RunTimeout time.Duration
}

// Scheduler drives one poll loop per feed target and one processing loop.
// A loop never overlaps with itself; a slow cycle delays the next tick.
type Scheduler struct {
	ingester  Ingester
	processor Processor
	opts      Options
	log       zerolog.Logger
}

// NewScheduler accepts a nil ingester or processor to disable that loop.
func NewScheduler(ingester Ingester, processor Processor, opts Options, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		ingester:  ingester,
		processor: processor,
		opts:      opts,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled and every loop has returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if s.ingester != nil && s.opts.PollInterval > 0 {
		for _, target := range s.opts.Targets {
			target := target
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.loop(ctx, "ingest", s.opts.PollInterval, func(ctx context.Context) {
					res := s.ingester.Ingest(ctx, target, nil)
					if !res.Success {
						s.log.Debug().Str("url", target.URL).Str("error", res.Error).Msg("poll cycle failed, retrying next tick")
					}
				})
			}()
		}
	}

	if s.processor != nil && s.opts.ProcessInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, "process", s.opts.ProcessInterval, func(ctx context.Context) {
				if _, err := s.processor.ProcessPending(ctx); err != nil {
					s.log.Error().Err(err).Msg("processing cycle failed")
				}
			})
		}()
	}

	s.log.Info().
		Int("feeds", len(s.opts.Targets)).
		Dur("poll_interval", s.opts.PollInterval).
		Dur("process_interval", s.opts.ProcessInterval).
		Msg("scheduler started")

	wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context)) {
	timeout := s.opts.RunTimeout
	if timeout <= 0 {
		timeout = interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx, name, timeout, run)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string, timeout time.Duration, run func(ctx context.Context)) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("loop", name).Interface("panic", r).Msg("recovered from panic in scheduled run")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	run(runCtx)
}
