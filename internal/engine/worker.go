package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vantagestack/vantage-intel/internal/models"
)

// Result is the typed payload a worker hands back to the orchestrator.
// Metrics feed snapshots and anomaly detection; Value carries free-form
// analysis content for downstream phases and consumers.
type Result struct {
	Value   map[string]any
	Metrics map[string]float64
}

// Worker is a unit of remote computation. Implementations must be safe for
// concurrent use, must not mutate shared state, and should honour context
// cancellation promptly.
type Worker interface {
	Name() string
	Execute(ctx context.Context, pc *models.PhaseContext) (Result, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc struct {
	WorkerName string
	Fn         func(ctx context.Context, pc *models.PhaseContext) (Result, error)
}

func (w WorkerFunc) Name() string { return w.WorkerName }

func (w WorkerFunc) Execute(ctx context.Context, pc *models.PhaseContext) (Result, error) {
	return w.Fn(ctx, pc)
}

// Plan partitions workers into ordered phases. Workers within a phase run
// concurrently; phases run strictly in sequence.
type Plan struct {
	Phases [][]Worker
}

// WorkerCount returns the total number of workers across all phases.
func (p Plan) WorkerCount() int {
	n := 0
	for _, phase := range p.Phases {
		n += len(phase)
	}
	return n
}

// Registry maps worker names to implementations and their phase assignment.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]registered
}

type registered struct {
	worker Worker
	phase  int
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]registered)}
}

// Register adds a worker under its name for the given phase (0-based).
// Re-registering a name replaces the previous worker.
func (r *Registry) Register(phase int, w Worker) {
	if w == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[strings.ToLower(w.Name())] = registered{worker: w, phase: phase}
}

// Names returns all registered worker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PlanFor resolves a set of worker names into an execution plan. Unknown
// names are rejected; an empty resolution is an error because the
// orchestrator requires a non-empty worker set.
func (r *Registry) PlanFor(names []string) (Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byPhase := make(map[int][]Worker)
	maxPhase := -1
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		reg, ok := r.workers[key]
		if !ok {
			return Plan{}, fmt.Errorf("unknown worker %q", name)
		}
		byPhase[reg.phase] = append(byPhase[reg.phase], reg.worker)
		if reg.phase > maxPhase {
			maxPhase = reg.phase
		}
	}
	if maxPhase < 0 {
		return Plan{}, fmt.Errorf("request resolves to an empty worker set")
	}

	phases := make([][]Worker, 0, maxPhase+1)
	for p := 0; p <= maxPhase; p++ {
		if len(byPhase[p]) == 0 {
			continue
		}
		sort.Slice(byPhase[p], func(i, j int) bool {
			return byPhase[p][i].Name() < byPhase[p][j].Name()
		})
		phases = append(phases, byPhase[p])
	}
	return Plan{Phases: phases}, nil
}
