package models

import "time"

// OutcomeKind tags the terminal state of a single worker execution.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeTimeout OutcomeKind = "timeout"
)

// WorkerOutcome captures the result of one worker within one execution.
// Outcomes are owned by the orchestrator for the duration of a request and
// are never shared across requests.
type WorkerOutcome struct {
	Worker  string             `json:"worker"`
	Phase   int                `json:"phase"`
	Kind    OutcomeKind        `json:"kind"`
	Value   map[string]any     `json:"value,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Error   string             `json:"error,omitempty"`
	Elapsed time.Duration      `json:"elapsed"`
}

// Succeeded reports whether the worker produced a usable value.
func (o WorkerOutcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

// AnalysisRequest describes one logical analysis of a monitored subject.
type AnalysisRequest struct {
	SubjectID string   `json:"subject_id"`
	Scope     string   `json:"scope"`
	Workers   []string `json:"workers"`
	Depth     string   `json:"depth"`
	// Embedding optionally carries a semantic vector for similarity-based
	// cache recall. Nil disables the similarity path for this request.
	Embedding []float32 `json:"embedding,omitempty"`
}

// AnalysisResult is the composite output of a full orchestrator run.
// It is immutable once assembled; ownership passes to whoever stores it.
type AnalysisResult struct {
	AnalysisID    string             `json:"analysis_id"`
	SubjectID     string             `json:"subject_id"`
	Fingerprint   string             `json:"fingerprint"`
	Outcomes      []WorkerOutcome    `json:"outcomes"`
	Metrics       map[string]float64 `json:"metrics"`
	Confidence    float64            `json:"confidence"`
	Partial       bool               `json:"partial"`
	FailedWorkers []WorkerError      `json:"failed_workers,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	FromCache     bool               `json:"-"`
}

// WorkerError retains diagnostics for a worker that did not succeed.
type WorkerError struct {
	Worker  string      `json:"worker"`
	Kind    OutcomeKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

// PhaseContext is the read-only input handed to every worker of a phase.
// It carries the original request plus the settled outcomes of all prior
// phases, so a worker can adapt to partial upstream data.
type PhaseContext struct {
	Request  AnalysisRequest
	Phase    int
	Upstream []WorkerOutcome
}

// UpstreamMetric returns a metric published by an earlier phase, if any
// surviving worker produced it.
func (c *PhaseContext) UpstreamMetric(name string) (float64, bool) {
	for _, o := range c.Upstream {
		if !o.Succeeded() {
			continue
		}
		if v, ok := o.Metrics[name]; ok {
			return v, true
		}
	}
	return 0, false
}
