package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/vantagestack/vantage-intel/internal/cache"
	"github.com/vantagestack/vantage-intel/internal/models"
)

func succeedingWorker(name string, metrics map[string]float64) Worker {
	return WorkerFunc{
		WorkerName: name,
		Fn: func(ctx context.Context, pc *models.PhaseContext) (Result, error) {
			return Result{Metrics: metrics}, nil
		},
	}
}

func failingWorker(name string) Worker {
	return WorkerFunc{
		WorkerName: name,
		Fn: func(ctx context.Context, pc *models.PhaseContext) (Result, error) {
			return Result{}, fmt.Errorf("%s exploded", name)
		},
	}
}

func slowWorker(name string, d time.Duration) Worker {
	return WorkerFunc{
		WorkerName: name,
		Fn: func(ctx context.Context, pc *models.PhaseContext) (Result, error) {
			select {
			case <-time.After(d):
				return Result{Metrics: map[string]float64{name: 1}}, nil
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		},
	}
}

func newTestOrchestrator(reg *Registry, opts Options) *Orchestrator {
	return NewOrchestrator(nil, reg, nil, opts)
}

func TestExecutePartialFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(0, succeedingWorker("alpha", map[string]float64{"revenue": 120}))
	reg.Register(0, slowWorker("beta", 200*time.Millisecond))

	orch := newTestOrchestrator(reg, Options{
		WorkerTimeouts: map[string]time.Duration{"beta": 100 * time.Millisecond},
	})

	req := models.AnalysisRequest{
		SubjectID: "acme",
		Workers:   []string{"alpha", "beta"},
	}
	result, err := orch.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !result.Partial {
		t.Fatalf("expected partial result")
	}
	if math.Abs(result.Confidence-0.9) > 1e-9 {
		t.Fatalf("expected confidence 0.9 for one failure, got %f", result.Confidence)
	}
	if result.Metrics["revenue"] != 120 {
		t.Fatalf("expected surviving worker output, got %v", result.Metrics)
	}
	if len(result.FailedWorkers) != 1 || result.FailedWorkers[0].Kind != models.OutcomeTimeout {
		t.Fatalf("expected recorded timeout for beta, got %+v", result.FailedWorkers)
	}
}

func TestExecuteFirstPhaseTotalFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(0, failingWorker("alpha"))
	reg.Register(0, failingWorker("beta"))
	reg.Register(1, succeedingWorker("gamma", nil))

	orch := newTestOrchestrator(reg, Options{})

	_, err := orch.Execute(context.Background(), models.AnalysisRequest{
		SubjectID: "acme",
		Workers:   []string{"alpha", "beta", "gamma"},
	})
	if !errors.Is(err, ErrFirstPhaseFailed) {
		t.Fatalf("expected ErrFirstPhaseFailed, got %v", err)
	}
}

func TestExecuteLaterPhaseTotalFailureDegrades(t *testing.T) {
	reg := NewRegistry()
	reg.Register(0, succeedingWorker("collect", map[string]float64{"price": 42}))
	reg.Register(1, failingWorker("analyze"))

	orch := newTestOrchestrator(reg, Options{})

	result, err := orch.Execute(context.Background(), models.AnalysisRequest{
		SubjectID: "acme",
		Workers:   []string{"collect", "analyze"},
	})
	if err != nil {
		t.Fatalf("later-phase failure must not hard-fail: %v", err)
	}
	if !result.Partial {
		t.Fatalf("expected partial flag")
	}
	if result.Metrics["price"] != 42 {
		t.Fatalf("expected first-phase output retained")
	}
}

func TestConfidenceMonotoneInFailures(t *testing.T) {
	confidenceFor := func(failures int) float64 {
		reg := NewRegistry()
		total := 6
		for i := 0; i < total; i++ {
			name := fmt.Sprintf("w%d", i)
			if i < failures {
				reg.Register(0, failingWorker(name))
			} else {
				reg.Register(0, succeedingWorker(name, nil))
			}
		}
		orch := newTestOrchestrator(reg, Options{})
		result, err := orch.Execute(context.Background(), models.AnalysisRequest{
			SubjectID: "acme",
			Workers:   reg.Names(),
		})
		if err != nil {
			t.Fatalf("execute with %d failures: %v", failures, err)
		}
		return result.Confidence
	}

	prev := confidenceFor(0)
	if prev != 1.0 {
		t.Fatalf("expected confidence 1.0 with no failures, got %f", prev)
	}
	for failures := 1; failures < 6; failures++ {
		c := confidenceFor(failures)
		if c > prev {
			t.Fatalf("confidence increased from %f to %f at %d failures", prev, c, failures)
		}
		if c < 0.3-1e-9 {
			t.Fatalf("confidence %f below floor", c)
		}
		prev = c
	}
}

func TestPhaseContextCarriesUpstreamOutcomes(t *testing.T) {
	reg := NewRegistry()
	reg.Register(0, succeedingWorker("collect", map[string]float64{"signal": 7}))
	reg.Register(0, failingWorker("broken"))

	var sawUpstream int
	var sawFailure bool
	reg.Register(1, WorkerFunc{
		WorkerName: "synthesize",
		Fn: func(ctx context.Context, pc *models.PhaseContext) (Result, error) {
			sawUpstream = len(pc.Upstream)
			for _, o := range pc.Upstream {
				if !o.Succeeded() {
					sawFailure = true
				}
			}
			v, ok := pc.UpstreamMetric("signal")
			if !ok {
				return Result{}, errors.New("missing upstream metric")
			}
			return Result{Metrics: map[string]float64{"derived": v * 2}}, nil
		},
	})

	orch := newTestOrchestrator(reg, Options{})
	result, err := orch.Execute(context.Background(), models.AnalysisRequest{
		SubjectID: "acme",
		Workers:   []string{"collect", "broken", "synthesize"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sawUpstream != 2 {
		t.Fatalf("expected second phase to see 2 upstream outcomes, saw %d", sawUpstream)
	}
	if !sawFailure {
		t.Fatalf("expected failure outcome to be visible downstream")
	}
	if result.Metrics["derived"] != 14 {
		t.Fatalf("expected derived metric 14, got %v", result.Metrics)
	}
}

func TestWorkerIsolationWithinPhase(t *testing.T) {
	reg := NewRegistry()
	reg.Register(0, failingWorker("broken"))
	finished := false
	reg.Register(0, WorkerFunc{
		WorkerName: "steady",
		Fn: func(ctx context.Context, pc *models.PhaseContext) (Result, error) {
			time.Sleep(30 * time.Millisecond)
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			finished = true
			return Result{}, nil
		},
	})

	orch := newTestOrchestrator(reg, Options{})
	result, err := orch.Execute(context.Background(), models.AnalysisRequest{
		SubjectID: "acme",
		Workers:   []string{"broken", "steady"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !finished {
		t.Fatalf("sibling failure must not cancel a healthy worker")
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected both outcomes recorded, got %d", len(result.Outcomes))
	}
}

func TestExecuteCachedResultSkipsWorkers(t *testing.T) {
	executions := 0
	reg := NewRegistry()
	reg.Register(0, WorkerFunc{
		WorkerName: "counted",
		Fn: func(ctx context.Context, pc *models.PhaseContext) (Result, error) {
			executions++
			return Result{Metrics: map[string]float64{"n": 1}}, nil
		},
	})

	results := cache.NewResultCache(cache.NewMemoryProvider(), nil, nil)
	orch := NewOrchestrator(nil, reg, results, Options{ResultTTL: time.Minute})

	req := models.AnalysisRequest{SubjectID: "acme", Workers: []string{"counted"}}

	first, err := orch.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := orch.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if executions != 1 {
		t.Fatalf("expected a single worker execution, got %d", executions)
	}
	if !second.FromCache {
		t.Fatalf("expected second result from cache")
	}
	if first.Fingerprint != second.Fingerprint {
		t.Fatalf("fingerprint mismatch: %s vs %s", first.Fingerprint, second.Fingerprint)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	reg := NewRegistry()
	reg.Register(0, slowWorker("slow", time.Second))

	orch := newTestOrchestrator(reg, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := orch.Execute(ctx, models.AnalysisRequest{SubjectID: "acme", Workers: []string{"slow"}})
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("cancellation did not propagate promptly: %v", elapsed)
	}
}

func TestPlanForRejectsUnknownAndEmpty(t *testing.T) {
	reg := NewRegistry()
	reg.Register(0, succeedingWorker("alpha", nil))

	if _, err := reg.PlanFor([]string{"alpha", "nope"}); err == nil {
		t.Fatalf("expected error for unknown worker")
	}
	if _, err := reg.PlanFor(nil); err == nil {
		t.Fatalf("expected error for empty worker set")
	}
}
