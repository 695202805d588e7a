package cron

import (
	"context"
	"time"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Periodic jobs run less often than the service tick.
type Periodic interface {
	Every() time.Duration
}

type entry struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Registry tracks jobs and when each last ran.
type Registry struct {
	entries []*entry
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	e := &entry{job: job}
	if p, ok := job.(Periodic); ok {
		e.every = p.Every()
	}
	r.entries = append(r.entries, e)
}

// Jobs returns the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// Due returns the jobs whose period has elapsed at now.
func (r *Registry) Due(now time.Time) []Job {
	var due []Job
	for _, e := range r.entries {
		if e.lastRun.IsZero() || e.every <= 0 || !now.Before(e.lastRun.Add(e.every)) {
			due = append(due, e.job)
		}
	}
	return due
}

// MarkRan records that job ran at now.
func (r *Registry) MarkRan(job Job, now time.Time) {
	for _, e := range r.entries {
		if e.job == job {
			e.lastRun = now
			return
		}
	}
}
