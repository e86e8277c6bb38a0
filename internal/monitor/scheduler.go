// Package monitor schedules continuous checks: each monitored subject is
// periodically analysed, snapshotted, diffed against its history, scanned for
// anomalies, and scored into alerts.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/vantagestack/vantage-intel/internal/alerting"
	"github.com/vantagestack/vantage-intel/internal/anomaly"
	"github.com/vantagestack/vantage-intel/internal/metrics"
	"github.com/vantagestack/vantage-intel/internal/models"
	"github.com/vantagestack/vantage-intel/internal/notify"
	"github.com/vantagestack/vantage-intel/internal/snapshot"
	"github.com/vantagestack/vantage-intel/internal/utils"
)

const (
	defaultFrequency   = 5 * time.Minute
	alertHistorySpan   = 24 * time.Hour
	latencySampleEvery = 32
)

// Analyzer runs one analysis; satisfied by engine.Orchestrator.
type Analyzer interface {
	Execute(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// SnapshotStore is the slice of the snapshot store the scheduler needs.
type SnapshotStore interface {
	Append(ctx context.Context, snap models.Snapshot) error
	Latest(ctx context.Context, subjectID string) (models.Snapshot, error)
	MetricHistory(ctx context.Context, subjectID, metric string, limit int) ([]models.MetricPoint, error)
}

// AlertStore persists scored alerts and serves throttling lookups.
type AlertStore interface {
	Save(ctx context.Context, alert models.Alert) error
	Recent(ctx context.Context, subjectID string, since time.Time) ([]models.Alert, error)
}

// Config tunes the scheduler itself; per-subject settings live in
// models.MonitorConfig.
type Config struct {
	// HistoryWindow is how many trailing snapshots feed volatility and
	// anomaly detection per metric.
	HistoryWindow int
}

// Scheduler owns one goroutine per monitored subject and the shared check
// pipeline they all run.
type Scheduler struct {
	logger     *slog.Logger
	analyzer   Analyzer
	snapshots  SnapshotStore
	aggregator *snapshot.Aggregator
	detector   *anomaly.Detector
	scorer     *alerting.Scorer
	alerts     AlertStore
	dispatcher *notify.Dispatcher
	monitors   []models.MonitorConfig
	latency    *utils.LatencyTracker
	window     int

	wg sync.WaitGroup
}

func NewScheduler(
	cfg Config,
	logger *slog.Logger,
	analyzer Analyzer,
	snapshots SnapshotStore,
	aggregator *snapshot.Aggregator,
	detector *anomaly.Detector,
	scorer *alerting.Scorer,
	alerts AlertStore,
	dispatcher *notify.Dispatcher,
	monitors []models.MonitorConfig,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if aggregator == nil {
		aggregator = snapshot.NewAggregator(nil)
	}
	if detector == nil {
		detector = anomaly.NewDetector(anomaly.Config{}, logger)
	}
	if scorer == nil {
		scorer = alerting.NewScorer(alerting.ScorerConfig{}, logger)
	}
	if dispatcher == nil {
		dispatcher = notify.NewDispatcher(logger)
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 50
	}
	return &Scheduler{
		logger:     logger,
		analyzer:   analyzer,
		snapshots:  snapshots,
		aggregator: aggregator,
		detector:   detector,
		scorer:     scorer,
		alerts:     alerts,
		dispatcher: dispatcher,
		monitors:   monitors,
		latency:    utils.NewLatencyTracker(1024),
		window:     window,
	}
}

// Start launches one loop per configured monitor. Loops stop when ctx is
// cancelled; Wait blocks until they have all drained.
func (s *Scheduler) Start(ctx context.Context) {
	for _, mc := range s.monitors {
		mc := mc
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, mc)
		}()
	}
	s.logger.Info("monitor scheduler started", slog.Int("monitors", len(s.monitors)))
}

// Wait blocks until every monitor loop has exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, mc models.MonitorConfig) {
	freq := mc.Frequency
	if freq <= 0 {
		freq = defaultFrequency
	}

	// First check runs immediately so a fresh deployment has data before
	// the first full interval elapses.
	s.check(ctx, mc)

	ticker := time.NewTicker(freq)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx, mc)
		}
	}
}

// check runs the full pipeline once for one subject. Failures are logged and
// counted; the loop always survives to the next tick.
func (s *Scheduler) check(ctx context.Context, mc models.MonitorConfig) {
	start := time.Now()
	err := s.runCheck(ctx, mc)
	elapsed := time.Since(start)

	s.latency.Observe(elapsed)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		s.logger.Error("monitoring check failed",
			slog.String("subject_id", mc.SubjectID), slog.Any("error", err))
	}
	metrics.ObserveCheck(elapsed, outcome)

	if s.latency.Count()%latencySampleEvery == 0 {
		s.logger.Info("check latency",
			slog.String("subject_id", mc.SubjectID),
			slog.Duration("p50", s.latency.Percentile(50)),
			slog.Duration("p95", s.latency.Percentile(95)))
	}
}

func (s *Scheduler) runCheck(ctx context.Context, mc models.MonitorConfig) error {
	result, err := s.analyzer.Execute(ctx, models.AnalysisRequest{
		SubjectID: mc.SubjectID,
		Scope:     "monitor",
		Workers:   mc.Workers,
	})
	if err != nil {
		return utils.NewAppError("monitor.analyze", "analysis execution failed", err)
	}

	prev, prevErr := s.snapshots.Latest(ctx, mc.SubjectID)
	if prevErr != nil && !errors.Is(prevErr, snapshot.ErrNotFound) {
		return prevErr
	}

	snap := models.Snapshot{
		SubjectID: mc.SubjectID,
		Timestamp: time.Now().UTC(),
		Metrics:   result.Metrics,
		Raw:       result,
	}
	if err := s.snapshots.Append(ctx, snap); err != nil {
		return utils.NewAppError("monitor.snapshot", "snapshot append failed", err)
	}

	var changes []models.Change
	var anomalies []models.Anomaly
	volatility := make(map[string]float64)

	for metric := range snap.Metrics {
		points, err := s.snapshots.MetricHistory(ctx, mc.SubjectID, metric, s.window)
		if err != nil {
			return err
		}
		if len(points) > 1 {
			// Exclude the sample just appended; volatility describes the
			// metric's past, not its present.
			volatility[metric] = stddev(points[:len(points)-1])
		}
		anomalies = append(anomalies, s.detector.Detect(mc.SubjectID, metric, points)...)
	}

	if prevErr == nil {
		changes = s.aggregator.DiffWithVolatility(prev, snap, volatility)
	}
	if len(changes) == 0 && len(anomalies) == 0 {
		return nil
	}

	history, err := s.alerts.Recent(ctx, mc.SubjectID, snap.Timestamp.Add(-alertHistorySpan))
	if err != nil {
		return err
	}

	alert := s.scorer.Score(mc.SubjectID, mc.AlertThreshold, changes, anomalies, history)
	if alert == nil {
		return nil
	}
	if err := s.alerts.Save(ctx, *alert); err != nil {
		return err
	}

	if alert.Suppressed {
		metrics.ObserveAlert(string(alert.Urgency), "suppressed")
		return nil
	}
	metrics.ObserveAlert(string(alert.Urgency), "emitted")

	channels := mc.NotificationChannels
	if len(channels) == 0 {
		channels = []string{"log"}
	}
	delivered := s.dispatcher.Dispatch(ctx, *alert, channels)
	s.logger.Info("alert emitted",
		slog.String("subject_id", mc.SubjectID),
		slog.String("alert_id", alert.ID),
		slog.Float64("priority", alert.Priority),
		slog.String("urgency", string(alert.Urgency)),
		slog.Int("delivered", delivered))
	return nil
}

func stddev(points []models.MetricPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	sum := 0.0
	for _, p := range points {
		sum += p.Value
	}
	mean := sum / float64(len(points))
	sq := 0.0
	for _, p := range points {
		d := p.Value - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(points)))
}
