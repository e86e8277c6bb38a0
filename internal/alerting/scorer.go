// Package alerting converts detected changes and anomalies into prioritized,
// deduplicated, rate-limited alerts.
package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vantagestack/vantage-intel/internal/models"
)

const (
	confidenceWeight = 6.0
	typeWeight       = 1.0
	maxTypeCredit    = 4

	defaultDailyCap = 5
	// emissionWindow is the rolling period the daily cap applies to.
	emissionWindow = 24 * time.Hour
)

// throttleWindow returns how long an emitted alert suppresses equivalent
// follow-ups, keyed by the emitted alert's own urgency.
func throttleWindow(u models.Urgency) time.Duration {
	switch u {
	case models.UrgencyCritical:
		return time.Hour
	case models.UrgencyLow:
		return 24 * time.Hour
	default:
		return 4 * time.Hour
	}
}

// ScorerConfig tunes alert emission. Now is injectable for tests.
type ScorerConfig struct {
	DailyCap int
	Now      func() time.Time
}

// Scorer is a pure decision function over changes, anomalies and the
// subject's recent alert history. It never persists anything itself.
type Scorer struct {
	cfg    ScorerConfig
	logger *slog.Logger
}

func NewScorer(cfg ScorerConfig, logger *slog.Logger) *Scorer {
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = defaultDailyCap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Score turns a batch of findings into at most one alert. It returns nil when
// nothing clears the subject's threshold, and a Suppressed alert (kept for
// audit, never dispatched) when throttling or the daily cap applies. history
// must hold the subject's alerts from at least the last 24 hours.
func (s *Scorer) Score(subjectID string, threshold float64, changes []models.Change, anomalies []models.Anomaly, history []models.Alert) *models.Alert {
	if len(changes) == 0 && len(anomalies) == 0 {
		return nil
	}

	maxConf := 0.0
	for _, c := range changes {
		maxConf = math.Max(maxConf, c.Confidence)
	}
	for _, a := range anomalies {
		maxConf = math.Max(maxConf, a.Confidence)
	}

	types := typeSet(changes, anomalies)
	typeCredit := len(types)
	if typeCredit > maxTypeCredit {
		typeCredit = maxTypeCredit
	}

	priority := confidenceWeight*maxConf + typeWeight*float64(typeCredit)
	priority = math.Min(math.Max(priority, 0), 10)
	if priority < threshold {
		return nil
	}

	now := s.cfg.Now()
	alert := &models.Alert{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Priority:  priority,
		Urgency:   models.UrgencyFromPriority(priority),
		DedupHash: dedupHash(subjectID, types, priority),
		Changes:   changes,
		Anomalies: anomalies,
		CreatedAt: now,
	}

	sig := strings.Join(types, ",")
	if prior, until := s.throttledBy(sig, now, history); prior != nil {
		alert.Suppressed = true
		alert.SuppressedUntil = until
		s.logger.Debug("alert throttled",
			"subject_id", subjectID, "dedup_hash", alert.DedupHash,
			"prior_alert", prior.ID, "until", until)
		return alert
	}

	if until, capped := s.capped(priority, now, history); capped {
		alert.Suppressed = true
		alert.SuppressedUntil = until
		s.logger.Debug("alert capped",
			"subject_id", subjectID, "priority", priority, "until", until)
		return alert
	}

	return alert
}

// throttledBy finds an emitted alert with the same type signature whose
// throttling window still covers now.
func (s *Scorer) throttledBy(sig string, now time.Time, history []models.Alert) (*models.Alert, time.Time) {
	for i := range history {
		prior := &history[i]
		if prior.Suppressed {
			continue
		}
		if strings.Join(typeSet(prior.Changes, prior.Anomalies), ",") != sig {
			continue
		}
		until := prior.CreatedAt.Add(throttleWindow(prior.Urgency))
		if now.Before(until) {
			return prior, until
		}
	}
	return nil, time.Time{}
}

// capped applies the rolling 24h emission cap. Once the cap is hit only a
// strictly higher priority than everything already emitted may still fire.
func (s *Scorer) capped(priority float64, now time.Time, history []models.Alert) (time.Time, bool) {
	cutoff := now.Add(-emissionWindow)
	emitted := 0
	maxEmitted := 0.0
	var earliest time.Time
	for _, prior := range history {
		if prior.Suppressed || prior.CreatedAt.Before(cutoff) {
			continue
		}
		emitted++
		maxEmitted = math.Max(maxEmitted, prior.Priority)
		if earliest.IsZero() || prior.CreatedAt.Before(earliest) {
			earliest = prior.CreatedAt
		}
	}
	if emitted < s.cfg.DailyCap || priority > maxEmitted {
		return time.Time{}, false
	}
	return earliest.Add(emissionWindow), true
}

// typeSet returns the sorted distinct change and anomaly type labels.
func typeSet(changes []models.Change, anomalies []models.Anomaly) []string {
	seen := make(map[string]struct{}, len(changes)+len(anomalies))
	for _, c := range changes {
		seen[string(c.Type)] = struct{}{}
	}
	for _, a := range anomalies {
		seen[string(a.Type)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// dedupHash collapses equivalent alerts: same subject, same type set, same
// rounded priority.
func dedupHash(subjectID string, types []string, priority float64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d",
		subjectID, strings.Join(types, ","), int(math.Round(priority)))))
	return hex.EncodeToString(sum[:])
}
