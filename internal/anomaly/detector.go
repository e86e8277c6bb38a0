// Package anomaly runs statistical detectors over per-metric history series.
// All detectors are deterministic: the same series yields the same findings.
package anomaly

import (
	"log/slog"
	"math"

	"github.com/vantagestack/vantage-intel/internal/models"
)

// stddevFloor stands in for a zero standard deviation so a flat baseline still
// produces a finite, very large z-score for any deviation.
const stddevFloor = 1e-9

// Config tunes the detectors. Zero values fall back to defaults.
type Config struct {
	// MinHistory is the minimum number of samples required before any
	// detector runs. Below it Detect returns nothing.
	MinHistory int
	// PointSigma is the z-score threshold for point and contextual
	// anomalies.
	PointSigma float64
	// Window caps how many trailing samples the detectors consider.
	Window int
	// Period is the seasonality stride for contextual detection (7 for a
	// weekly cadence of daily samples).
	Period int
	// TrendSustained is how many consecutive opposite-direction moves count
	// as a reversal.
	TrendSustained int
	// VolatilityRatio is the recent/baseline variance ratio that counts as
	// a volatility spike.
	VolatilityRatio float64
}

func (c *Config) normalize() {
	if c.MinHistory <= 0 {
		c.MinHistory = 10
	}
	if c.PointSigma <= 0 {
		c.PointSigma = 3
	}
	if c.Window <= 0 {
		c.Window = 20
	}
	if c.Period <= 0 {
		c.Period = 7
	}
	if c.TrendSustained <= 0 {
		c.TrendSustained = 2
	}
	if c.VolatilityRatio <= 0 {
		c.VolatilityRatio = 2
	}
}

// Detector evaluates one metric series at a time against four anomaly
// classes: point, contextual, trend reversal and volatility spike.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Detect runs every detector over the series, which must be in ascending time
// order with the newest sample last. Series shorter than MinHistory yield
// nothing rather than low-confidence noise.
func (d *Detector) Detect(subjectID, metric string, history []models.MetricPoint) []models.Anomaly {
	if len(history) < d.cfg.MinHistory {
		return nil
	}
	if len(history) > d.cfg.Window {
		history = history[len(history)-d.cfg.Window:]
	}

	var out []models.Anomaly
	if a := d.point(subjectID, metric, history); a != nil {
		out = append(out, *a)
	}
	if a := d.contextual(subjectID, metric, history); a != nil {
		out = append(out, *a)
	}
	if a := d.trendReversal(subjectID, metric, history); a != nil {
		out = append(out, *a)
	}
	if a := d.volatilitySpike(subjectID, metric, history); a != nil {
		out = append(out, *a)
	}

	if len(out) > 0 {
		d.logger.Debug("anomalies detected",
			"subject_id", subjectID, "metric", metric, "count", len(out))
	}
	return out
}

// point flags the latest sample when it deviates from the baseline (everything
// before it) by at least PointSigma standard deviations.
func (d *Detector) point(subjectID, metric string, history []models.MetricPoint) *models.Anomaly {
	latest := history[len(history)-1]
	baseline := values(history[:len(history)-1])

	m := mean(baseline)
	delta := math.Abs(latest.Value - m)
	if delta <= stddevFloor {
		return nil
	}
	sd := stddev(baseline, m)
	if sd < stddevFloor {
		sd = stddevFloor
	}

	z := delta / sd
	if z < d.cfg.PointSigma {
		return nil
	}

	return &models.Anomaly{
		SubjectID:  subjectID,
		Metric:     metric,
		Type:       models.AnomalyPoint,
		Confidence: sigmaConfidence(z, d.cfg.PointSigma),
		Timestamp:  latest.Timestamp,
		Value:      latest.Value,
		Detail: models.StatisticalDetail{
			ZScore:       z,
			Statistic:    latest.Value - m,
			Threshold:    d.cfg.PointSigma,
			Window:       len(history),
			BaselineSize: len(baseline),
		},
	}
}

// contextual compares the latest sample against its seasonal cohort: the
// samples Period, 2*Period, ... positions earlier. A value that is ordinary
// overall can still be anomalous for its slot.
func (d *Detector) contextual(subjectID, metric string, history []models.MetricPoint) *models.Anomaly {
	latestIdx := len(history) - 1
	var cohort []float64
	for i := latestIdx - d.cfg.Period; i >= 0; i -= d.cfg.Period {
		cohort = append(cohort, history[i].Value)
	}
	if len(cohort) < 3 {
		return nil
	}

	latest := history[latestIdx]
	m := mean(cohort)
	delta := math.Abs(latest.Value - m)
	if delta <= stddevFloor {
		return nil
	}
	sd := stddev(cohort, m)
	if sd < stddevFloor {
		sd = stddevFloor
	}

	z := delta / sd
	if z < d.cfg.PointSigma {
		return nil
	}

	return &models.Anomaly{
		SubjectID:  subjectID,
		Metric:     metric,
		Type:       models.AnomalyContextual,
		Confidence: sigmaConfidence(z, d.cfg.PointSigma),
		Timestamp:  latest.Timestamp,
		Value:      latest.Value,
		Detail: models.StatisticalDetail{
			ZScore:       z,
			Statistic:    latest.Value - m,
			Threshold:    d.cfg.PointSigma,
			Window:       len(history),
			BaselineSize: len(cohort),
			Period:       d.cfg.Period,
		},
	}
}

// trendReversal fires when the last TrendSustained moves all run against a
// prior sustained run of at least the same length in the opposite direction.
// The sign test runs on the smoothed first derivative: raw single-step deltas
// flip sign on noise alone, which would hide the direction of a zigzagging
// trend.
func (d *Detector) trendReversal(subjectID, metric string, history []models.MetricPoint) *models.Anomaly {
	k := d.cfg.TrendSustained
	raw := make([]float64, len(history)-1)
	for i := 1; i < len(history); i++ {
		raw[i-1] = history[i].Value - history[i-1].Value
	}
	if len(raw) < 2*k {
		return nil
	}
	deltas := movingAverage(raw, k)

	dir := sign(deltas[len(deltas)-1])
	if dir == 0 {
		return nil
	}
	for i := len(deltas) - k; i < len(deltas); i++ {
		if sign(deltas[i]) != dir {
			return nil
		}
	}

	// Length of the opposing run immediately before the reversal.
	run := 0
	for i := len(deltas) - k - 1; i >= 0 && sign(deltas[i]) == -dir; i-- {
		run++
	}
	if run < k {
		return nil
	}

	latest := history[len(history)-1]
	return &models.Anomaly{
		SubjectID:  subjectID,
		Metric:     metric,
		Type:       models.AnomalyTrendReversal,
		Confidence: clamp(0.5+0.05*float64(run), 0.5, 0.95),
		Timestamp:  latest.Timestamp,
		Value:      latest.Value,
		Detail: models.StatisticalDetail{
			Statistic:    float64(dir) * float64(k),
			Threshold:    float64(k),
			Window:       len(history),
			BaselineSize: run,
			SustainedFor: k,
		},
	}
}

// volatilitySpike splits the series in half and fires when the recent half's
// variance exceeds the older half's by at least VolatilityRatio.
func (d *Detector) volatilitySpike(subjectID, metric string, history []models.MetricPoint) *models.Anomaly {
	half := len(history) / 2
	older := values(history[:half])
	recent := values(history[half:])

	baseVar := variance(older)
	recentVar := variance(recent)
	if recentVar < stddevFloor {
		return nil
	}
	if baseVar < stddevFloor {
		baseVar = stddevFloor
	}

	ratio := recentVar / baseVar
	if ratio < d.cfg.VolatilityRatio {
		return nil
	}

	latest := history[len(history)-1]
	return &models.Anomaly{
		SubjectID:  subjectID,
		Metric:     metric,
		Type:       models.AnomalyVolatilitySpike,
		Confidence: clamp(0.5*ratio/d.cfg.VolatilityRatio, 0, 1),
		Timestamp:  latest.Timestamp,
		Value:      latest.Value,
		Detail: models.StatisticalDetail{
			Statistic:     recentVar,
			Threshold:     d.cfg.VolatilityRatio,
			Window:        len(history),
			BaselineSize:  len(older),
			VarianceRatio: ratio,
		},
	}
}

// sigmaConfidence maps a z-score at the threshold to 0.5 and a z-score at
// twice the threshold (or beyond) to 1.
func sigmaConfidence(z, sigma float64) float64 {
	return clamp(0.5+0.5*(z-sigma)/sigma, 0.5, 1)
}

func values(points []models.MetricPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// movingAverage smooths a series with a trailing window of width w.
func movingAverage(vals []float64, w int) []float64 {
	out := make([]float64, len(vals))
	for i := range vals {
		lo := i - w + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = mean(vals[lo : i+1])
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64, m float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}

func variance(vals []float64) float64 {
	sd := stddev(vals, mean(vals))
	return sd * sd
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
