// Package snapshot persists time-ordered analysis snapshots per monitored
// subject and derives typed changes from consecutive (or windowed) pairs.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vantagestack/vantage-intel/internal/models"
)

const snapPrefix = "snap|"

// ErrOutOfOrder is returned when an append would violate the strict
// time-ordering of a subject's snapshot stream.
var ErrOutOfOrder = errors.New("snapshot older than latest for subject")

// ErrNotFound is returned when no snapshot exists for the requested subject.
var ErrNotFound = errors.New("snapshot not found")

// StoreConfig controls the embedded Badger database.
type StoreConfig struct {
	Path     string
	InMemory bool
}

// Store is an append-only, time-ordered snapshot store backed by BadgerDB.
// Appends for a given subject are linearizable: a per-subject lock spans the
// latest-read and the write, so the aggregator never observes interleaved
// partial histories.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore opens (or creates) the snapshot database.
func NewStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	// Badger's own logging is noisy at Info; route everything through slog
	// at debug level instead.
	opts = opts.WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &Store{db: db, logger: logger, locks: make(map[string]*sync.Mutex)}, nil
}

// DB exposes the underlying database so sibling stores (alerts) can share it.
func (s *Store) DB() *badger.DB { return s.db }

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Append persists a new snapshot for its subject. The snapshot timestamp must
// be strictly after the subject's latest; equal or earlier timestamps are
// rejected with ErrOutOfOrder.
func (s *Store) Append(ctx context.Context, snap models.Snapshot) error {
	if snap.SubjectID == "" {
		return errors.New("snapshot subject is required")
	}
	if strings.Contains(snap.SubjectID, "|") {
		return fmt.Errorf("subject id %q contains reserved separator", snap.SubjectID)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	lock := s.subjectLock(snap.SubjectID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := s.Latest(ctx, snap.SubjectID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil && !snap.Timestamp.After(latest.Timestamp) {
		return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder, snap.Timestamp, latest.Timestamp)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := snapKey(snap.SubjectID, snap.Timestamp)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Latest returns the most recent snapshot for a subject, or ErrNotFound.
func (s *Store) Latest(_ context.Context, subjectID string) (models.Snapshot, error) {
	var snap models.Snapshot
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := subjectPrefix(subjectID)
		// Seek past the last possible key for this subject.
		seek := append(append([]byte(nil), prefix...), 0xff)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	if !found {
		return models.Snapshot{}, fmt.Errorf("%w: subject %s", ErrNotFound, subjectID)
	}
	return snap, nil
}

// Previous returns the most recent snapshot strictly before the given time.
func (s *Store) Previous(_ context.Context, subjectID string, before time.Time) (models.Snapshot, error) {
	var snap models.Snapshot
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := subjectPrefix(subjectID)
		it.Seek(snapKey(subjectID, before))
		for ; it.ValidForPrefix(prefix); it.Next() {
			ts, err := timestampFromKey(it.Item().Key())
			if err != nil {
				return err
			}
			if !ts.Before(before) {
				continue
			}
			found = true
			return it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			})
		}
		return nil
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	if !found {
		return models.Snapshot{}, fmt.Errorf("%w: subject %s before %s", ErrNotFound, subjectID, before)
	}
	return snap, nil
}

// History returns snapshots for a subject within [from, to], ascending.
func (s *Store) History(_ context.Context, subjectID string, from, to time.Time) ([]models.Snapshot, error) {
	var out []models.Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := subjectPrefix(subjectID)
		for it.Seek(snapKey(subjectID, from)); it.ValidForPrefix(prefix); it.Next() {
			ts, err := timestampFromKey(it.Item().Key())
			if err != nil {
				return err
			}
			if !to.IsZero() && ts.After(to) {
				break
			}
			var snap models.Snapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	return out, err
}

// Window returns up to n most recent snapshots for a subject, ascending.
func (s *Store) Window(_ context.Context, subjectID string, n int) ([]models.Snapshot, error) {
	if n <= 0 {
		return nil, nil
	}
	var reversed []models.Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := subjectPrefix(subjectID)
		seek := append(append([]byte(nil), prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(reversed) < n; it.Next() {
			var snap models.Snapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			reversed = append(reversed, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Snapshot, len(reversed))
	for i, snap := range reversed {
		out[len(reversed)-1-i] = snap
	}
	return out, nil
}

// MetricHistory extracts the ordered (timestamp, value) series of one metric
// from up to limit most recent snapshots.
func (s *Store) MetricHistory(ctx context.Context, subjectID, metric string, limit int) ([]models.MetricPoint, error) {
	snaps, err := s.Window(ctx, subjectID, limit)
	if err != nil {
		return nil, err
	}
	points := make([]models.MetricPoint, 0, len(snaps))
	for _, snap := range snaps {
		if v, ok := snap.Metrics[metric]; ok {
			points = append(points, models.MetricPoint{Timestamp: snap.Timestamp, Value: v})
		}
	}
	return points, nil
}

func (s *Store) subjectLock(subjectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[subjectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[subjectID] = lock
	}
	return lock
}

// Keys are "snap|<subject>|<zero-padded unix nanos>" so that a forward badger
// iteration over the subject prefix yields snapshots in time order.
func snapKey(subjectID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s|%020d", snapPrefix, subjectID, ts.UnixNano()))
}

func subjectPrefix(subjectID string) []byte {
	return []byte(snapPrefix + subjectID + "|")
}

func timestampFromKey(key []byte) (time.Time, error) {
	parts := strings.Split(string(key), "|")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("malformed snapshot key %q", key)
	}
	nanos, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed snapshot key %q: %w", key, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// badgerLogger adapts slog to Badger's logger interface, demoting everything
// to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}
