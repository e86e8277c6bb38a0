package signal

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/vantagestack/vantage-intel/internal/engine"
	"github.com/vantagestack/vantage-intel/internal/models"
)

// RegisterBuiltins wires the standard worker set into a registry: collection
// workers in phase 0, derivation in phase 1, synthesis in phase 2.
func RegisterBuiltins(reg *engine.Registry, client *Client) {
	reg.Register(0, &metricsWorker{client: client})
	reg.Register(0, &factsWorker{client: client})
	reg.Register(1, &analyzeWorker{})
	reg.Register(2, &synthesizeWorker{})
}

// metricsWorker pulls the subject's current metric values from the signals
// API. Its output feeds snapshots and anomaly detection directly.
type metricsWorker struct {
	client *Client
}

func (w *metricsWorker) Name() string { return "metrics" }

func (w *metricsWorker) Execute(ctx context.Context, pc *models.PhaseContext) (engine.Result, error) {
	metrics, err := w.client.FetchMetrics(ctx, pc.Request.SubjectID, pc.Request.Scope)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{
		Value:   map[string]any{"metric_count": len(metrics)},
		Metrics: metrics,
	}, nil
}

// factsWorker pulls qualitative statements about the subject.
type factsWorker struct {
	client *Client
}

func (w *factsWorker) Name() string { return "facts" }

func (w *factsWorker) Execute(ctx context.Context, pc *models.PhaseContext) (engine.Result, error) {
	facts, err := w.client.FetchFacts(ctx, pc.Request.SubjectID, pc.Request.Scope)
	if err != nil {
		return engine.Result{}, err
	}

	sum := 0.0
	for _, f := range facts {
		sum += f.Confidence
	}
	return engine.Result{
		Value: map[string]any{"facts": facts},
		Metrics: map[string]float64{
			"news.volume":     float64(len(facts)),
			"news.confidence": sum / float64(len(facts)),
		},
	}, nil
}

// analyzeWorker derives summary statistics over everything the collection
// phase produced. It degrades with its inputs: fewer surviving upstream
// workers simply mean fewer samples.
type analyzeWorker struct{}

func (w *analyzeWorker) Name() string { return "analyze" }

func (w *analyzeWorker) Execute(_ context.Context, pc *models.PhaseContext) (engine.Result, error) {
	var names []string
	samples := make(map[string]float64)
	for _, o := range pc.Upstream {
		if !o.Succeeded() {
			continue
		}
		for name, v := range o.Metrics {
			if _, dup := samples[name]; !dup {
				names = append(names, name)
			}
			samples[name] = v
		}
	}
	if len(samples) == 0 {
		return engine.Result{}, fmt.Errorf("no upstream metrics to analyze")
	}
	sort.Strings(names)

	sum := 0.0
	for _, name := range names {
		sum += samples[name]
	}
	mean := sum / float64(len(names))

	sq := 0.0
	for _, name := range names {
		d := samples[name] - mean
		sq += d * d
	}
	dispersion := math.Sqrt(sq / float64(len(names)))

	return engine.Result{
		Value: map[string]any{"analyzed_metrics": names},
		Metrics: map[string]float64{
			"signal.momentum":   mean,
			"signal.dispersion": dispersion,
		},
	}, nil
}

// synthesizeWorker summarises the run: how much of the worker set survived
// and what the headline momentum looks like.
type synthesizeWorker struct{}

func (w *synthesizeWorker) Name() string { return "synthesize" }

func (w *synthesizeWorker) Execute(_ context.Context, pc *models.PhaseContext) (engine.Result, error) {
	if len(pc.Upstream) == 0 {
		return engine.Result{}, fmt.Errorf("nothing to synthesize")
	}

	succeeded := 0
	for _, o := range pc.Upstream {
		if o.Succeeded() {
			succeeded++
		}
	}
	coverage := float64(succeeded) / float64(len(pc.Upstream))

	summary := fmt.Sprintf("%s: %d/%d workers contributed", pc.Request.SubjectID, succeeded, len(pc.Upstream))
	if momentum, ok := pc.UpstreamMetric("signal.momentum"); ok {
		summary = fmt.Sprintf("%s, momentum %.2f", summary, momentum)
	}

	return engine.Result{
		Value: map[string]any{"summary": summary},
		Metrics: map[string]float64{
			"synthesis.coverage": coverage,
		},
	}, nil
}
