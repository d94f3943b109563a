package scores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/sealed_scores/internal/app/metrics"
	"github.com/R3E-Network/sealed_scores/internal/app/system"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// SweepReport summarises one pass over pending jobs.
type SweepReport struct {
	Pending int
	Stale   int
}

// Sweeper periodically counts pending jobs and reports the ones that have
// waited longer than the threshold. It never retries or aborts a job: the
// only way out of pending is a callback.
type Sweeper struct {
	service   *Service
	log       *logger.Logger
	interval  time.Duration
	threshold time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper constructs a sweeper. Zero durations fall back to one minute
// between passes and a ten minute staleness threshold.
func NewSweeper(service *Service, interval, threshold time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("scores-sweeper")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	return &Sweeper{service: service, log: log, interval: interval, threshold: threshold}
}

func (s *Sweeper) Name() string { return "scores-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Sweep(runCtx); err != nil {
			s.log.WithError(err).Warn("pending job sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	c.Start()
	s.cron = c

	s.log.WithField("interval", s.interval.String()).Info("pending job sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("pending job sweeper stopped")
	return nil
}

// Sweep runs one pass and publishes the pending gauges.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	now := s.service.clock()
	// The store cutoff is exclusive; jobs created at now still count.
	pending, err := s.service.PendingJobs(ctx, now.Add(time.Nanosecond))
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Pending: len(pending)}
	cutoff := now.Add(-s.threshold)
	for _, job := range pending {
		if !job.CreatedAt.Before(cutoff) {
			continue
		}
		report.Stale++
		s.log.WithField("offset", job.Offset).
			WithField("owner", job.Owner.String()).
			WithField("age", now.Sub(job.CreatedAt).Truncate(time.Second).String()).
			Warn("job still awaiting callback")
	}

	metrics.SetPendingJobs(report.Pending, report.Stale)
	return report, nil
}
