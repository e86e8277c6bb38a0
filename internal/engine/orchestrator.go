package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vantagestack/vantage-intel/internal/cache"
	"github.com/vantagestack/vantage-intel/internal/metrics"
	"github.com/vantagestack/vantage-intel/internal/models"
)

// ErrFirstPhaseFailed is returned when every worker of the first phase fails:
// with no upstream data at all there is no partial result worth assembling.
var ErrFirstPhaseFailed = errors.New("all workers failed in first phase")

const (
	defaultWorkerTimeout   = 30 * time.Second
	defaultFailurePenalty  = 0.10
	defaultConfidenceFloor = 0.3
	defaultSimilarityLimit = 0.85
)

// Options tunes orchestrator behaviour. Zero values select defaults.
type Options struct {
	// WorkerTimeout applies uniformly unless overridden per worker name.
	WorkerTimeout  time.Duration
	WorkerTimeouts map[string]time.Duration
	// FailurePenalty is subtracted from confidence per failed worker.
	FailurePenalty  float64
	ConfidenceFloor float64
	// ResultTTL bounds cached result freshness.
	ResultTTL time.Duration
	// SimilarityThreshold gates semantic cache recall.
	SimilarityThreshold float64
}

func (o *Options) normalize() {
	if o.WorkerTimeout <= 0 {
		o.WorkerTimeout = defaultWorkerTimeout
	}
	if o.FailurePenalty <= 0 {
		o.FailurePenalty = defaultFailurePenalty
	}
	if o.ConfidenceFloor <= 0 {
		o.ConfidenceFloor = defaultConfidenceFloor
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = defaultSimilarityLimit
	}
}

// Orchestrator runs workers across ordered phases, tolerates individual
// failures, and assembles a best-effort composite AnalysisResult.
type Orchestrator struct {
	logger   *slog.Logger
	registry *Registry
	results  *cache.ResultCache
	opts     Options
}

// NewOrchestrator constructs an Orchestrator. results may be nil to disable
// caching entirely.
func NewOrchestrator(logger *slog.Logger, registry *Registry, results *cache.ResultCache, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	opts.normalize()
	return &Orchestrator{
		logger:   logger,
		registry: registry,
		results:  results,
		opts:     opts,
	}
}

// Execute resolves the request to a plan, consults the cache, and on a miss
// runs every phase. It returns a hard error only for an unresolvable request,
// a cancelled context, or total first-phase failure; any other degradation is
// folded into the result's confidence and partial flag.
func (o *Orchestrator) Execute(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	plan, err := o.registry.PlanFor(req.Workers)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(req)

	if o.results != nil {
		if cached, err := o.results.Get(ctx, fingerprint); err == nil {
			o.logger.Debug("analysis cache hit", slog.String("fingerprint", fingerprint))
			metrics.ObserveCache(metrics.CacheHit)
			return cached, nil
		}
		if len(req.Embedding) > 0 {
			if cached, err := o.results.GetSimilar(ctx, req.Embedding, o.opts.SimilarityThreshold); err == nil {
				metrics.ObserveCache(metrics.CacheSimilarHit)
				return cached, nil
			}
		}
		metrics.ObserveCache(metrics.CacheMiss)

		return o.results.Do(ctx, fingerprint, func(runCtx context.Context) (*models.AnalysisResult, error) {
			return o.run(runCtx, req, plan, fingerprint)
		})
	}

	return o.run(ctx, req, plan, fingerprint)
}

func (o *Orchestrator) run(ctx context.Context, req models.AnalysisRequest, plan Plan, fingerprint string) (*models.AnalysisResult, error) {
	var settled []models.WorkerOutcome

	for phaseIdx, workers := range plan.Phases {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		pc := &models.PhaseContext{
			Request:  req,
			Phase:    phaseIdx,
			Upstream: append([]models.WorkerOutcome(nil), settled...),
		}

		outcomes := o.runPhase(ctx, phaseIdx, workers, pc)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		allFailed := true
		for _, out := range outcomes {
			if out.Succeeded() {
				allFailed = false
				break
			}
		}
		if allFailed && phaseIdx == 0 {
			return nil, fmt.Errorf("%w: %d workers", ErrFirstPhaseFailed, len(outcomes))
		}
		if allFailed {
			o.logger.Warn("phase produced no surviving workers",
				slog.Int("phase", phaseIdx), slog.String("subject", req.SubjectID))
		}

		settled = append(settled, outcomes...)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := o.assemble(req, fingerprint, settled)

	if o.results != nil {
		putCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.results.Put(putCtx, fingerprint, result, o.opts.ResultTTL, req.Embedding); err != nil {
			// The cache is an optimization, never a correctness dependency.
			o.logger.Warn("result cache put failed", slog.Any("error", err))
		}
	}

	return result, nil
}

// runPhase launches every worker of a phase concurrently and waits for all of
// them to settle. Each worker is wrapped with its own timeout and captured
// independently: a failing or slow worker never cancels or blocks siblings.
func (o *Orchestrator) runPhase(ctx context.Context, phaseIdx int, workers []Worker, pc *models.PhaseContext) []models.WorkerOutcome {
	outcomes := make([]models.WorkerOutcome, len(workers))

	g := new(errgroup.Group)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			outcomes[i] = o.runWorker(ctx, phaseIdx, w, pc)
			return nil
		})
	}
	// Join barrier: a later phase never starts before all of this phase's
	// workers have settled.
	_ = g.Wait()

	return outcomes
}

func (o *Orchestrator) runWorker(ctx context.Context, phaseIdx int, w Worker, pc *models.PhaseContext) models.WorkerOutcome {
	timeout := o.opts.WorkerTimeout
	if override, ok := o.opts.WorkerTimeouts[w.Name()]; ok && override > 0 {
		timeout = override
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	type settled struct {
		result Result
		err    error
	}
	done := make(chan settled, 1)
	go func() {
		result, err := w.Execute(wctx, pc)
		done <- settled{result: result, err: err}
	}()

	outcome := models.WorkerOutcome{Worker: w.Name(), Phase: phaseIdx}
	select {
	case s := <-done:
		outcome.Elapsed = time.Since(start)
		switch {
		case s.err == nil:
			outcome.Kind = models.OutcomeSuccess
			outcome.Value = s.result.Value
			outcome.Metrics = s.result.Metrics
		case errors.Is(s.err, context.DeadlineExceeded) && wctx.Err() != nil:
			outcome.Kind = models.OutcomeTimeout
			outcome.Error = fmt.Sprintf("worker timed out after %s", timeout)
		default:
			outcome.Kind = models.OutcomeFailure
			outcome.Error = s.err.Error()
		}
	case <-wctx.Done():
		// The worker ignored its deadline; record the timeout and move on
		// without waiting for the stray goroutine.
		outcome.Elapsed = time.Since(start)
		outcome.Kind = models.OutcomeTimeout
		outcome.Error = fmt.Sprintf("worker timed out after %s", timeout)
	}

	metrics.ObserveWorker(w.Name(), string(outcome.Kind), outcome.Elapsed)
	if !outcome.Succeeded() {
		o.logger.Warn("worker did not succeed",
			slog.String("worker", w.Name()),
			slog.Int("phase", phaseIdx),
			slog.String("kind", string(outcome.Kind)),
			slog.String("error", outcome.Error))
	}
	return outcome
}

// assemble folds the settled outcomes into an immutable AnalysisResult.
// Confidence starts at 1.0 and loses a fixed penalty per failed worker,
// floored so even heavily degraded runs remain comparable.
func (o *Orchestrator) assemble(req models.AnalysisRequest, fingerprint string, settled []models.WorkerOutcome) *models.AnalysisResult {
	merged := make(map[string]float64)
	var failed []models.WorkerError
	failures := 0

	for _, out := range settled {
		if out.Succeeded() {
			for name, value := range out.Metrics {
				merged[name] = value
			}
			continue
		}
		failures++
		failed = append(failed, models.WorkerError{
			Worker:  out.Worker,
			Kind:    out.Kind,
			Message: out.Error,
		})
	}

	confidence := 1.0 - o.opts.FailurePenalty*float64(failures)
	if confidence < o.opts.ConfidenceFloor {
		confidence = o.opts.ConfidenceFloor
	}

	return &models.AnalysisResult{
		AnalysisID:    uuid.NewString(),
		SubjectID:     req.SubjectID,
		Fingerprint:   fingerprint,
		Outcomes:      settled,
		Metrics:       merged,
		Confidence:    confidence,
		Partial:       failures > 0,
		FailedWorkers: failed,
		CreatedAt:     time.Now().UTC(),
	}
}
