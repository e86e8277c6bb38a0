package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vantagestack/vantage-intel/internal/models"
)

const resultKeyPrefix = "analysis:"

// SimilarityIndex describes the semantic recall operations the result cache
// can fall back to on an exact-fingerprint miss.
type SimilarityIndex interface {
	Upsert(ctx context.Context, id string, embedding []float32, payload []byte) error
	Nearest(ctx context.Context, embedding []float32, threshold float64) (payload []byte, score float64, ok bool, err error)
}

// ResultCache stores serialized analysis results keyed by request
// fingerprint, with an optional semantic-similarity fallback. The cache is an
// optimization, never a correctness dependency: every provider or index error
// degrades to a miss.
type ResultCache struct {
	provider     Provider
	index        SimilarityIndex
	logger       *slog.Logger
	singleFlight bool
	group        singleflight.Group
}

// NewResultCache constructs a ResultCache over the given provider. index may
// be nil to disable semantic recall.
func NewResultCache(provider Provider, index SimilarityIndex, logger *slog.Logger) *ResultCache {
	if provider == nil {
		provider = NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{provider: provider, index: index, logger: logger}
}

// WithSingleFlight enables per-fingerprint in-flight deduplication in Do.
// Off by default: two identical concurrent requests may both execute, which
// is the documented relaxed behaviour.
func (c *ResultCache) WithSingleFlight() *ResultCache {
	c.singleFlight = true
	return c
}

// Get returns the cached result for an exact fingerprint match, or
// ErrCacheMiss.
func (c *ResultCache) Get(ctx context.Context, fingerprint string) (*models.AnalysisResult, error) {
	data, err := c.provider.Get(ctx, resultKeyPrefix+fingerprint)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("result cache get failed", slog.String("fingerprint", fingerprint), slog.Any("error", err))
		}
		return nil, ErrCacheMiss
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupt entry is treated as a miss and evicted.
		_ = c.provider.Del(ctx, resultKeyPrefix+fingerprint)
		return nil, ErrCacheMiss
	}
	result.FromCache = true
	return &result, nil
}

// GetSimilar returns a previously cached result whose embedding is at least
// threshold-similar to the given one, or ErrCacheMiss.
func (c *ResultCache) GetSimilar(ctx context.Context, embedding []float32, threshold float64) (*models.AnalysisResult, error) {
	if c.index == nil || len(embedding) == 0 {
		return nil, ErrCacheMiss
	}

	payload, score, ok, err := c.index.Nearest(ctx, embedding, threshold)
	if err != nil {
		c.logger.Warn("similarity lookup failed", slog.Any("error", err))
		return nil, ErrCacheMiss
	}
	if !ok {
		return nil, ErrCacheMiss
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, ErrCacheMiss
	}
	c.logger.Debug("similarity cache hit", slog.Float64("score", score), slog.String("fingerprint", result.Fingerprint))
	result.FromCache = true
	return &result, nil
}

// Put stores the result under its fingerprint with the given TTL and, when an
// embedding is provided, registers it with the similarity index. Population
// happens strictly after execution; no lock is held across worker runs.
func (c *ResultCache) Put(ctx context.Context, fingerprint string, result *models.AnalysisResult, ttl time.Duration, embedding []float32) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.provider.Set(ctx, resultKeyPrefix+fingerprint, data, ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}

	if c.index != nil && len(embedding) > 0 {
		if err := c.index.Upsert(ctx, fingerprint, embedding, data); err != nil {
			c.logger.Warn("similarity upsert failed", slog.String("fingerprint", fingerprint), slog.Any("error", err))
		}
	}
	return nil
}

// Do invokes compute, collapsing concurrent calls for the same fingerprint
// into one execution when single-flight is enabled. The shared execution runs
// on a context detached from the initiating caller: one caller cancelling
// must not fail every waiter that coalesced onto its flight. Each caller
// still honours its own ctx while waiting. The shared result is safe to hand
// to every caller because AnalysisResult is immutable once assembled.
func (c *ResultCache) Do(ctx context.Context, fingerprint string, compute func(context.Context) (*models.AnalysisResult, error)) (*models.AnalysisResult, error) {
	if !c.singleFlight {
		return compute(ctx)
	}
	ch := c.group.DoChan(fingerprint, func() (any, error) {
		return compute(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.AnalysisResult), nil
	}
}
