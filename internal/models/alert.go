package models

import "time"

// Urgency buckets alert priority for throttling and display.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// UrgencyFromPriority maps a [0,10] priority onto an urgency bucket.
func UrgencyFromPriority(priority float64) Urgency {
	switch {
	case priority >= 8:
		return UrgencyCritical
	case priority >= 5:
		return UrgencyHigh
	case priority >= 2:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// Alert is a scored, deduplicated, throttled notification-worthy event.
// Alerts are never deleted; suppressed ones are kept for audit.
type Alert struct {
	ID              string    `json:"id"`
	SubjectID       string    `json:"subject_id"`
	Priority        float64   `json:"priority"`
	Urgency         Urgency   `json:"urgency"`
	DedupHash       string    `json:"dedup_hash"`
	Changes         []Change  `json:"changes,omitempty"`
	Anomalies       []Anomaly `json:"anomalies,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	Suppressed      bool      `json:"suppressed"`
	SuppressedUntil time.Time `json:"suppressed_until,omitempty"`
	Read            bool      `json:"read"`
}

// MonitorConfig is the immutable per-subject scheduling configuration.
// Snapshots and alerts reference it but never own it.
type MonitorConfig struct {
	SubjectID            string        `json:"subject_id" yaml:"subjectID"`
	Frequency            time.Duration `json:"frequency" yaml:"frequency"`
	Workers              []string      `json:"worker_set" yaml:"workers"`
	AlertThreshold       float64       `json:"alert_threshold" yaml:"alertThreshold"`
	NotificationChannels []string      `json:"notification_channels" yaml:"notificationChannels"`
}
