package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
)

const (
	defaultInterval   = 10 * time.Minute
	defaultJobTimeout = 5 * time.Minute
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Interval is the tick; jobs with a longer Every() skip ticks.
	Interval time.Duration
	// JobTimeout bounds a single job run.
	JobTimeout time.Duration
	Now        func() time.Time
}

// Service runs the due jobs of a Registry on every tick. A cycle only runs
// while this instance holds the cluster lock.
type Service struct {
	logg       *logger.Logger
	jobs       *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:       params.Logger,
		jobs:       params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        params.Now,
	}
	if s.jobs == nil {
		s.jobs = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = defaultJobTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run starts with a cycle and then ticks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		}
		if err := s.RunCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// RunCycle takes the lock and runs each due job once. Job failures are logged
// and counted; only a lock error is returned.
func (s *Service) RunCycle(ctx context.Context) error {
	due := s.jobs.Due(s.now())
	if len(due) == 0 {
		return nil
	}

	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !held {
		for _, job := range due {
			s.metrics.IncSkipped(job.Name())
		}
		s.logg.Debug(ctx, "cron lock held elsewhere")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "release cron lock", err)
		}
	}()

	for _, job := range due {
		s.execute(ctx, job)
		s.jobs.MarkRan(job, s.now())
	}
	return nil
}

func (s *Service) execute(ctx context.Context, job Job) {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	started := time.Now()
	err := s.runGuarded(ctx, job)
	took := time.Since(started)
	s.metrics.ObserveRun(job.Name(), took, err)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return
	}
	s.logg.Info(ctx, "cron job done")
}

// runGuarded turns a panicking job into an error so the rest of the cycle
// still runs.
func (s *Service) runGuarded(ctx context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}
