package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vantagestack/vantage-intel/internal/models"
)

const alertPrefix = "alert|"

// ErrAlertNotFound is returned when no alert matches the given key.
var ErrAlertNotFound = errors.New("alert not found")

// Store persists alerts in the shared Badger database, keyed by
// (subject, dedup hash, created-at) so throttling-window lookups stay cheap.
// Alerts are never deleted; MarkRead is the only mutation.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewStore wraps an already-open database, typically the snapshot store's.
func NewStore(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Save persists one alert, suppressed or not.
func (s *Store) Save(_ context.Context, alert models.Alert) error {
	if alert.SubjectID == "" {
		return errors.New("alert subject is required")
	}
	if strings.Contains(alert.SubjectID, "|") {
		return fmt.Errorf("subject id %q contains reserved separator", alert.SubjectID)
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(alertKey(alert), data)
	})
}

// Recent returns the subject's alerts created at or after since, oldest
// first. Suppressed alerts are included; callers filter as needed.
func (s *Store) Recent(_ context.Context, subjectID string, since time.Time) ([]models.Alert, error) {
	var out []models.Alert

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(alertPrefix + subjectID + "|")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var alert models.Alert
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &alert)
			}); err != nil {
				return err
			}
			if alert.CreatedAt.Before(since) {
				continue
			}
			out = append(out, alert)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys order by dedup hash before time; callers want chronology.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkRead flags an alert as read without touching anything else.
func (s *Store) MarkRead(_ context.Context, subjectID, dedupHash string, createdAt time.Time) error {
	key := []byte(fmt.Sprintf("%s%s|%s|%020d", alertPrefix, subjectID, dedupHash, createdAt.UnixNano()))
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrAlertNotFound, subjectID, dedupHash)
		}
		if err != nil {
			return err
		}
		var alert models.Alert
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &alert)
		}); err != nil {
			return err
		}
		if alert.Read {
			return nil
		}
		alert.Read = true
		data, err := json.Marshal(alert)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func alertKey(alert models.Alert) []byte {
	return []byte(fmt.Sprintf("%s%s|%s|%020d",
		alertPrefix, alert.SubjectID, alert.DedupHash, alert.CreatedAt.UnixNano()))
}
