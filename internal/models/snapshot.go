package models

import "time"

// Snapshot is a persisted, time-stamped analysis result for a monitored
// subject. Snapshots are append-only: a later snapshot supersedes an earlier
// one, nothing is ever rewritten in place.
type Snapshot struct {
	SubjectID string             `json:"subject_id"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
	Raw       *AnalysisResult    `json:"raw,omitempty"`
}

// ChangeType buckets a detected change by the kind of signal it came from.
type ChangeType string

const (
	ChangeFinancialMetric ChangeType = "financial_metric"
	ChangeMarketTrend     ChangeType = "market_trend"
	ChangeStrategicShift  ChangeType = "strategic_shift"
	ChangeSentiment       ChangeType = "sentiment"
	ChangeGeneric         ChangeType = "generic"
)

// Change records a difference between two snapshots of the same subject.
type Change struct {
	SubjectID     string     `json:"subject_id"`
	Type          ChangeType `json:"type"`
	Metric        string     `json:"metric"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Confidence    float64    `json:"confidence"`
	PreviousValue *float64   `json:"previous_value,omitempty"`
	CurrentValue  *float64   `json:"current_value,omitempty"`
	AbsoluteDelta float64    `json:"absolute_delta"`
	RelativeDelta float64    `json:"relative_delta"`
	DetectedAt    time.Time  `json:"detected_at"`
	SourceRefs    []string   `json:"source_refs,omitempty"`
}

// AnomalyType enumerates the statistical anomaly classes.
type AnomalyType string

const (
	AnomalyPoint           AnomalyType = "point"
	AnomalyContextual      AnomalyType = "contextual"
	AnomalyTrendReversal   AnomalyType = "trend_reversal"
	AnomalyVolatilitySpike AnomalyType = "volatility_spike"
)

// StatisticalDetail makes a detection auditable: which statistic fired,
// against what threshold, over which windows.
type StatisticalDetail struct {
	ZScore        float64 `json:"z_score,omitempty"`
	Statistic     float64 `json:"statistic"`
	Threshold     float64 `json:"threshold"`
	Window        int     `json:"window"`
	BaselineSize  int     `json:"baseline_size,omitempty"`
	Period        int     `json:"period,omitempty"`
	SustainedFor  int     `json:"sustained_for,omitempty"`
	VarianceRatio float64 `json:"variance_ratio,omitempty"`
}

// Anomaly flags a statistically unusual pattern in one metric's history,
// independent of any pairwise snapshot diff.
type Anomaly struct {
	SubjectID  string            `json:"subject_id"`
	Metric     string            `json:"metric"`
	Type       AnomalyType       `json:"anomaly_type"`
	Confidence float64           `json:"confidence"`
	Detail     StatisticalDetail `json:"statistical_detail"`
	Timestamp  time.Time         `json:"timestamp"`
	Value      float64           `json:"value"`
}

// MetricPoint is a single (timestamp, value) sample of a subject metric.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}
