package snapshot

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vantagestack/vantage-intel/internal/models"
)

const (
	// missingValueConfidence applies when a metric appeared or disappeared
	// between two snapshots, regardless of magnitude.
	missingValueConfidence = 0.5
	// deltaEpsilon suppresses float noise; below it two values are equal.
	deltaEpsilon = 1e-9
)

// Aggregator diffs snapshots into typed Change records. It is stateless and
// pure: the same pair of snapshots always yields the same changes.
type Aggregator struct {
	classifier *Classifier
}

// NewAggregator constructs an Aggregator. classifier may be nil, in which
// case built-in namespace defaults are used.
func NewAggregator(classifier *Classifier) *Aggregator {
	if classifier == nil {
		classifier, _ = NewClassifier("")
	}
	return &Aggregator{classifier: classifier}
}

// Diff compares two snapshots of the same subject without volatility context.
func (a *Aggregator) Diff(prev, curr models.Snapshot) []models.Change {
	return a.DiffWithVolatility(prev, curr, nil)
}

// DiffWithVolatility compares two snapshots, scaling change confidence by the
// per-metric historical volatility when supplied (standard deviation of the
// metric's recent values). Confidence is identical under argument reversal;
// only delta signs invert.
func (a *Aggregator) DiffWithVolatility(prev, curr models.Snapshot, volatility map[string]float64) []models.Change {
	metrics := make(map[string]struct{}, len(prev.Metrics)+len(curr.Metrics))
	for name := range prev.Metrics {
		metrics[name] = struct{}{}
	}
	for name := range curr.Metrics {
		metrics[name] = struct{}{}
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	detectedAt := curr.Timestamp
	if detectedAt.IsZero() {
		detectedAt = prev.Timestamp
	}

	changes := make([]models.Change, 0)
	for _, name := range names {
		prevVal, hasPrev := prev.Metrics[name]
		currVal, hasCurr := curr.Metrics[name]

		change := models.Change{
			SubjectID:  curr.SubjectID,
			Type:       a.classifier.Classify(name),
			Metric:     name,
			DetectedAt: detectedAt,
		}

		switch {
		case hasPrev && hasCurr:
			delta := currVal - prevVal
			if math.Abs(delta) <= deltaEpsilon {
				continue
			}
			pv, cv := prevVal, currVal
			change.PreviousValue = &pv
			change.CurrentValue = &cv
			change.AbsoluteDelta = delta
			change.RelativeDelta = relativeDelta(prevVal, currVal)
			change.Confidence = deltaConfidence(delta, prevVal, currVal, volatility[name])
			change.Title = fmt.Sprintf("%s changed by %+.2f", name, delta)
			change.Description = fmt.Sprintf("%s moved from %.4g to %.4g (%+.1f%%)",
				name, prevVal, currVal, change.RelativeDelta*100)
		case hasCurr:
			cv := currVal
			change.CurrentValue = &cv
			change.AbsoluteDelta = currVal
			change.Confidence = missingValueConfidence
			change.Title = fmt.Sprintf("%s appeared", name)
			change.Description = fmt.Sprintf("%s was first observed at %.4g", name, currVal)
		default:
			pv := prevVal
			change.PreviousValue = &pv
			change.AbsoluteDelta = -prevVal
			change.Confidence = missingValueConfidence
			change.Title = fmt.Sprintf("%s disappeared", name)
			change.Description = fmt.Sprintf("%s (last %.4g) is no longer reported", name, prevVal)
		}

		changes = append(changes, change)
	}
	return changes
}

// Rollup pre-aggregates a window of snapshots into one synthetic snapshot:
// the mean per metric, or the last value when a metric has a single sample.
func Rollup(snaps []models.Snapshot) models.Snapshot {
	if len(snaps) == 0 {
		return models.Snapshot{}
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	last := make(map[string]float64)
	var latest time.Time
	subject := snaps[0].SubjectID

	for _, snap := range snaps {
		if snap.Timestamp.After(latest) {
			latest = snap.Timestamp
		}
		for name, value := range snap.Metrics {
			sums[name] += value
			counts[name]++
			last[name] = value
		}
	}

	merged := make(map[string]float64, len(sums))
	for name, sum := range sums {
		if counts[name] < 2 {
			merged[name] = last[name]
			continue
		}
		merged[name] = sum / float64(counts[name])
	}

	return models.Snapshot{SubjectID: subject, Timestamp: latest, Metrics: merged}
}

// DiffWindowed rolls up two windows of snapshots and diffs the synthetic
// results, supporting hourly/daily/weekly aggregation at the call site.
func (a *Aggregator) DiffWindowed(prevWindow, currWindow []models.Snapshot) []models.Change {
	return a.Diff(Rollup(prevWindow), Rollup(currWindow))
}

// relativeDelta normalizes the delta by the larger magnitude of the two
// values, so reversing the arguments only flips the sign.
func relativeDelta(prev, curr float64) float64 {
	denom := math.Max(math.Abs(prev), math.Abs(curr))
	if denom <= deltaEpsilon {
		return 0
	}
	return (curr - prev) / denom
}

// deltaConfidence grows with the delta's size relative to historical
// volatility when known, otherwise relative to the values themselves.
// Symmetric in prev/curr, capped at 1.
func deltaConfidence(delta, prev, curr, volatility float64) float64 {
	if volatility > 0 {
		z := math.Abs(delta) / volatility
		return clamp(z/4.0, 0, 1)
	}
	rel := math.Abs(relativeDelta(prev, curr))
	return clamp(rel*2.0, 0, 1)
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
