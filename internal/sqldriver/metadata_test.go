package sqldriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeExecutor counts queries and serves scripted results.
type fakeExecutor struct {
	calls atomic.Int64
	delay time.Duration
	rows  []Row
	err   error
}

func (f *fakeExecutor) ExecuteQuery(ctx context.Context, query string, args ...any) ([]Row, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.rows, f.err
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestCache(exec *fakeExecutor) *MetadataCache {
	return NewMetadataCache(func() Executor { return exec }, testLogger())
}

// ---------------------------------------------------------------------------
// Key recognition
// ---------------------------------------------------------------------------

func Test_MetadataCache_UnknownKey(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{}
	cache := newTestCacheWithValue(exec)

	_, err := cache.Get(context.Background(), "unknown-key")
	if !errors.Is(err, ErrUnknownMetadataKey) {
		t.Errorf("Get(unknown-key) err = %v, want ErrUnknownMetadataKey", err)
	}
	if exec.calls.Load() != 0 {
		t.Errorf("unknown key issued %d queries, want 0", exec.calls.Load())
	}

	// Independent of cache state: still fails after other keys are cached.
	if _, err := cache.Get(context.Background(), "version"); err != nil {
		t.Fatalf("Get(version) unexpected error: %v", err)
	}
	if _, err := cache.Get(context.Background(), "unknown-key"); !errors.Is(err, ErrUnknownMetadataKey) {
		t.Errorf("Get(unknown-key) after population err = %v, want ErrUnknownMetadataKey", err)
	}
}

func newTestCacheWithValue(exec *fakeExecutor) *MetadataCache {
	exec.rows = []Row{{Cells: map[string]any{"version": "PostgreSQL 16.1"}}}
	return newTestCache(exec)
}

func Test_MetadataCache_Keys(t *testing.T) {
	t.Parallel()

	cache := newTestCache(&fakeExecutor{})
	keys := cache.Keys()
	sort.Strings(keys)

	want := []string{"extensions", "settings", "version"}
	if fmt.Sprintf("%v", keys) != fmt.Sprintf("%v", want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}
}

// ---------------------------------------------------------------------------
// Lazy population and caching
// ---------------------------------------------------------------------------

func Test_MetadataCache_FirstGetIssuesOneQuery(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{rows: []Row{{Cells: map[string]any{"version": "PostgreSQL 16.1"}}}}
	cache := newTestCache(exec)

	rows, err := cache.Get(context.Background(), "version")
	if err != nil {
		t.Fatalf("Get(version) unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Cells["version"] != "PostgreSQL 16.1" {
		t.Errorf("Get(version) = %v, want the scripted row", rows)
	}
	if got := exec.calls.Load(); got != 1 {
		t.Errorf("first Get issued %d queries, want 1", got)
	}
}

func Test_MetadataCache_SecondGetHitsCache(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{rows: []Row{{Cells: map[string]any{"version": "PostgreSQL 16.1"}}}}
	cache := newTestCache(exec)

	ctx := context.Background()
	if _, err := cache.Get(ctx, "version"); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := cache.Get(ctx, "version"); err != nil {
		t.Fatalf("second Get: %v", err)
	}

	if got := exec.calls.Load(); got != 1 {
		t.Errorf("two sequential Gets issued %d queries, want 1 (second must be served from cache)", got)
	}
}

func Test_MetadataCache_ConcurrentMissesSingleFlight(t *testing.T) {
	t.Parallel()

	const requesters = 25

	exec := &fakeExecutor{
		rows:  []Row{{Cells: map[string]any{"version": "PostgreSQL 16.1"}}},
		delay: 20 * time.Millisecond, // hold the flight open so all requesters pile up
	}
	cache := newTestCache(exec)

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, requesters)

	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			rows, err := cache.Get(context.Background(), "version")
			if err != nil {
				errs <- err
				return
			}
			if len(rows) != 1 {
				errs <- fmt.Errorf("got %d rows, want 1", len(rows))
			}
		}()
	}

	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Get: %v", err)
	}

	if got := exec.calls.Load(); got != 1 {
		t.Errorf("%d concurrent misses issued %d queries, want exactly 1 (single-flight)", requesters, got)
	}
}

// ---------------------------------------------------------------------------
// Fetch failure: advisory semantics
// ---------------------------------------------------------------------------

func Test_MetadataCache_FetchFailureReturnsNeutral(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{err: errors.New("connection refused")}
	cache := newTestCache(exec)

	rows, err := cache.Get(context.Background(), "extensions")
	if err != nil {
		t.Fatalf("Get on fetch failure must not propagate the error, got: %v", err)
	}
	if rows != nil {
		t.Errorf("Get on fetch failure = %v, want nil (neutral unknown)", rows)
	}
}

func Test_MetadataCache_FailureNotCachedRetryLater(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{err: errors.New("connection refused")}
	cache := newTestCache(exec)

	ctx := context.Background()
	if _, err := cache.Get(ctx, "extensions"); err != nil {
		t.Fatalf("first Get: %v", err)
	}

	// Database comes back: the next Get must retry and cache the result.
	exec.err = nil
	exec.rows = []Row{{Cells: map[string]any{"name": "hypopg", "version": "1.4.0"}}}

	rows, err := cache.Get(ctx, "extensions")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("second Get = %v, want the fetched row", rows)
	}
	if got := exec.calls.Load(); got != 2 {
		t.Errorf("failure then retry issued %d queries, want 2", got)
	}

	// And the retried success is now cached.
	if _, err := cache.Get(ctx, "extensions"); err != nil {
		t.Fatalf("third Get: %v", err)
	}
	if got := exec.calls.Load(); got != 2 {
		t.Errorf("Get after successful retry issued %d total queries, want still 2", got)
	}
}
