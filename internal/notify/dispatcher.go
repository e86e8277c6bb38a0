// Package notify delivers emitted alerts over pluggable channels. Delivery
// failures are logged and dropped; any retry policy belongs to the channel
// implementation, not the dispatcher.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vantagestack/vantage-intel/internal/models"
)

// Channel delivers one alert to one destination. Implementations must be
// safe for concurrent use.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert models.Alert) error
}

// Dispatcher fans an alert out to a subject's configured channels.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, channels: make(map[string]Channel)}
}

// Register adds a channel, replacing any previous one with the same name.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// Dispatch sends the alert to every named channel and returns how many
// deliveries succeeded. Unknown channels and send failures are logged and
// skipped; one bad channel never blocks the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.Alert, channelNames []string) int {
	delivered := 0
	for _, name := range channelNames {
		d.mu.RLock()
		ch, ok := d.channels[name]
		d.mu.RUnlock()
		if !ok {
			d.logger.Warn("unknown notification channel",
				"channel", name, "alert_id", alert.ID, "subject_id", alert.SubjectID)
			continue
		}
		if err := ch.Send(ctx, alert); err != nil {
			d.logger.Error("alert delivery failed",
				"channel", name, "alert_id", alert.ID,
				"subject_id", alert.SubjectID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
