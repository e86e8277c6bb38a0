package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vantagestack/vantage-intel/internal/models"
)

type fakeIndex struct {
	payload []byte
	score   float64
	upserts int
}

func (f *fakeIndex) Upsert(ctx context.Context, id string, embedding []float32, payload []byte) error {
	f.upserts++
	f.payload = payload
	return nil
}

func (f *fakeIndex) Nearest(ctx context.Context, embedding []float32, threshold float64) ([]byte, float64, bool, error) {
	if f.payload == nil || f.score < threshold {
		return nil, 0, false, nil
	}
	return f.payload, f.score, true, nil
}

func TestResultCachePutGet(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(NewMemoryProvider(), nil, nil)

	result := &models.AnalysisResult{
		AnalysisID:  "a-1",
		SubjectID:   "acme",
		Fingerprint: "fp-1",
		Confidence:  0.9,
		CreatedAt:   time.Now().UTC(),
	}
	if err := rc.Put(ctx, "fp-1", result, time.Minute, nil); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := rc.Get(ctx, "fp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AnalysisID != "a-1" || !got.FromCache {
		t.Fatalf("unexpected cached result: %+v", got)
	}
}

func TestResultCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(NewMemoryProvider(), nil, nil)

	result := &models.AnalysisResult{Fingerprint: "fp-ttl", Confidence: 1}
	if err := rc.Put(ctx, "fp-ttl", result, 10*time.Millisecond, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	if _, err := rc.Get(ctx, "fp-ttl"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after TTL, got %v", err)
	}

	// A fresh put after expiry creates a new entry rather than reviving the old.
	if err := rc.Put(ctx, "fp-ttl", result, time.Minute, nil); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	if _, err := rc.Get(ctx, "fp-ttl"); err != nil {
		t.Fatalf("expected hit after re-put, got %v", err)
	}
}

func TestResultCacheSimilarFallback(t *testing.T) {
	ctx := context.Background()
	idx := &fakeIndex{score: 0.92}
	rc := NewResultCache(NewMemoryProvider(), idx, nil)

	result := &models.AnalysisResult{Fingerprint: "fp-sim", SubjectID: "acme"}
	embedding := []float32{0.1, 0.2, 0.7}
	if err := rc.Put(ctx, "fp-sim", result, time.Minute, embedding); err != nil {
		t.Fatalf("put: %v", err)
	}
	if idx.upserts != 1 {
		t.Fatalf("expected embedding upsert, got %d", idx.upserts)
	}

	got, err := rc.GetSimilar(ctx, embedding, 0.85)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if got.Fingerprint != "fp-sim" {
		t.Fatalf("unexpected similar result: %+v", got)
	}

	if _, err := rc.GetSimilar(ctx, embedding, 0.99); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss above index score, got %v", err)
	}
}

func TestResultCacheSingleFlight(t *testing.T) {
	rc := NewResultCache(NewMemoryProvider(), nil, nil).WithSingleFlight()

	var mu sync.Mutex
	executions := 0
	gate := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = rc.Do(context.Background(), "fp-sf", func(context.Context) (*models.AnalysisResult, error) {
				mu.Lock()
				executions++
				mu.Unlock()
				<-gate
				return &models.AnalysisResult{Fingerprint: "fp-sf"}, nil
			})
		}()
	}

	// Give the goroutines time to pile onto the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if executions != 1 {
		t.Fatalf("expected one collapsed execution, got %d", executions)
	}
}

func TestResultCacheSingleFlightSurvivesInitiatorCancel(t *testing.T) {
	rc := NewResultCache(NewMemoryProvider(), nil, nil).WithSingleFlight()

	gate := make(chan struct{})
	initiatorCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initiatorErr := make(chan error, 1)
	go func() {
		_, err := rc.Do(initiatorCtx, "fp-detach", func(ctx context.Context) (*models.AnalysisResult, error) {
			<-gate
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &models.AnalysisResult{Fingerprint: "fp-detach"}, nil
		})
		initiatorErr <- err
	}()

	waiterRes := make(chan *models.AnalysisResult, 1)
	waiterErr := make(chan error, 1)
	go func() {
		// Let the initiator register the flight first.
		time.Sleep(10 * time.Millisecond)
		res, err := rc.Do(context.Background(), "fp-detach", func(context.Context) (*models.AnalysisResult, error) {
			t.Error("waiter must coalesce, not start a second execution")
			return nil, nil
		})
		waiterRes <- res
		waiterErr <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	if err := <-initiatorErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("initiator should see its own cancellation, got %v", err)
	}

	close(gate)
	res := <-waiterRes
	if err := <-waiterErr; err != nil {
		t.Fatalf("waiter inherited the initiator's cancellation: %v", err)
	}
	if res == nil || res.Fingerprint != "fp-detach" {
		t.Fatalf("unexpected waiter result: %+v", res)
	}
}

func TestMemoryProviderSetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()

	ok, err := m.SetNX(ctx, "k", []byte("v1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = m.SetNX(ctx, "k", []byte("v2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX should not win: ok=%v err=%v", ok, err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v1" {
		t.Fatalf("expected v1, got %q err=%v", got, err)
	}
}
