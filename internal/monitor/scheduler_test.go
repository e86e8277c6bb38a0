package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantagestack/vantage-intel/internal/alerting"
	"github.com/vantagestack/vantage-intel/internal/anomaly"
	"github.com/vantagestack/vantage-intel/internal/models"
	"github.com/vantagestack/vantage-intel/internal/notify"
	"github.com/vantagestack/vantage-intel/internal/snapshot"
)

type scriptedAnalyzer struct {
	values []map[string]float64
	calls  int
}

func (f *scriptedAnalyzer) Execute(_ context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	idx := f.calls
	if idx >= len(f.values) {
		idx = len(f.values) - 1
	}
	f.calls++
	return &models.AnalysisResult{
		AnalysisID: "run",
		SubjectID:  req.SubjectID,
		Metrics:    f.values[idx],
		Confidence: 1,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

type sinkChannel struct {
	alerts []models.Alert
}

func (c *sinkChannel) Name() string { return "log" }

func (c *sinkChannel) Send(_ context.Context, alert models.Alert) error {
	c.alerts = append(c.alerts, alert)
	return nil
}

type fixture struct {
	scheduler *Scheduler
	analyzer  *scriptedAnalyzer
	sink      *sinkChannel
	alerts    *alerting.Store
	snaps     *snapshot.Store
	monitor   models.MonitorConfig
}

func newFixture(t *testing.T, values []map[string]float64) *fixture {
	t.Helper()

	snaps, err := snapshot.NewStore(snapshot.StoreConfig{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = snaps.Close() })

	analyzer := &scriptedAnalyzer{values: values}
	sink := &sinkChannel{}
	dispatcher := notify.NewDispatcher(nil)
	dispatcher.Register(sink)

	alerts := alerting.NewStore(snaps.DB(), nil)
	mc := models.MonitorConfig{
		SubjectID: "acme",
		Frequency: time.Hour,
		Workers:   []string{"metrics"},
	}

	scheduler := NewScheduler(
		Config{},
		nil,
		analyzer,
		snaps,
		snapshot.NewAggregator(nil),
		anomaly.NewDetector(anomaly.Config{}, nil),
		alerting.NewScorer(alerting.ScorerConfig{}, nil),
		alerts,
		dispatcher,
		[]models.MonitorConfig{mc},
	)
	return &fixture{
		scheduler: scheduler,
		analyzer:  analyzer,
		sink:      sink,
		alerts:    alerts,
		snaps:     snaps,
		monitor:   mc,
	}
}

func TestRunCheckAppendsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []map[string]float64{{"financial.revenue": 100}})

	require.NoError(t, f.scheduler.runCheck(ctx, f.monitor))

	latest, err := f.snaps.Latest(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 100.0, latest.Metrics["financial.revenue"])
	require.NotNil(t, latest.Raw)
	require.Empty(t, f.sink.alerts, "the first check has nothing to compare against")
}

func TestRunCheckEmitsAlertOnChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []map[string]float64{
		{"financial.revenue": 100},
		{"financial.revenue": 200},
	})

	require.NoError(t, f.scheduler.runCheck(ctx, f.monitor))
	require.NoError(t, f.scheduler.runCheck(ctx, f.monitor))

	require.Len(t, f.sink.alerts, 1)
	alert := f.sink.alerts[0]
	require.Equal(t, "acme", alert.SubjectID)
	require.False(t, alert.Suppressed)
	require.NotEmpty(t, alert.Changes)
	require.Equal(t, models.ChangeFinancialMetric, alert.Changes[0].Type)

	stored, err := f.alerts.Recent(ctx, "acme", time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRunCheckQuietWhenNothingChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []map[string]float64{
		{"financial.revenue": 100},
		{"financial.revenue": 100},
		{"financial.revenue": 100},
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, f.scheduler.runCheck(ctx, f.monitor))
	}

	require.Empty(t, f.sink.alerts)
	stored, err := f.alerts.Recent(ctx, "acme", time.Time{})
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestRunCheckThrottlesRepeatedChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []map[string]float64{
		{"financial.revenue": 100},
		{"financial.revenue": 200},
		{"financial.revenue": 300},
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, f.scheduler.runCheck(ctx, f.monitor))
	}

	require.Len(t, f.sink.alerts, 1, "the second change lands in the first alert's throttle window")

	stored, err := f.alerts.Recent(ctx, "acme", time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	suppressed := 0
	for _, a := range stored {
		if a.Suppressed {
			suppressed++
		}
	}
	require.Equal(t, 1, suppressed, "the throttled alert is still recorded for audit")
}

func TestRunCheckFlagsAnomalyAfterStableHistory(t *testing.T) {
	ctx := context.Background()
	values := make([]map[string]float64, 0, 11)
	for i := 0; i < 10; i++ {
		values = append(values, map[string]float64{"financial.revenue": 9})
	}
	values = append(values, map[string]float64{"financial.revenue": 100})
	f := newFixture(t, values)

	for i := 0; i < 11; i++ {
		require.NoError(t, f.scheduler.runCheck(ctx, f.monitor))
	}

	require.Len(t, f.sink.alerts, 1)
	alert := f.sink.alerts[0]
	require.NotEmpty(t, alert.Anomalies)

	foundPoint := false
	for _, a := range alert.Anomalies {
		if a.Type == models.AnomalyPoint {
			foundPoint = true
			require.Greater(t, a.Confidence, 0.9)
		}
	}
	require.True(t, foundPoint, "expected a point anomaly in %v", alert.Anomalies)
}

func TestSchedulerLoopStopsOnCancel(t *testing.T) {
	f := newFixture(t, []map[string]float64{{"financial.revenue": 100}})

	ctx, cancel := context.WithCancel(context.Background())
	f.scheduler.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		f.scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
