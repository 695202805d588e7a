package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name  string
	every time.Duration
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

type periodicStub struct{ stubJob }

func (p *periodicStub) Every() time.Duration { return p.every }

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry := NewRegistry(jobA, nil, jobB)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryDueHonorsPeriod(t *testing.T) {
	every := &stubJob{name: "sweep"}
	daily := &periodicStub{stubJob{name: "retention", every: 24 * time.Hour}}
	registry := NewRegistry(every, daily)
	start := time.Date(2025, 12, 24, 0, 0, 0, 0, time.UTC)

	if due := registry.Due(start); len(due) != 2 {
		t.Fatalf("expected both jobs due on first tick, got %d", len(due))
	}
	registry.MarkRan(every, start)
	registry.MarkRan(daily, start)

	due := registry.Due(start.Add(10 * time.Minute))
	if len(due) != 1 || due[0] != every {
		t.Fatalf("expected only the tick job due, got %v", due)
	}
	if due := registry.Due(start.Add(24 * time.Hour)); len(due) != 2 {
		t.Fatalf("expected daily job due after a day, got %d", len(due))
	}
}
