package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"melostream/searchservice/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ---------------------------------------------------------------------------
// Debouncer
// ---------------------------------------------------------------------------

func TestDebouncerCoalescesRapidCalls(t *testing.T) {
	debouncer := newDebouncer(50 * time.Millisecond)
	defer debouncer.Stop()

	var runs atomic.Int32
	for i := 0; i < 5; i++ {
		debouncer.schedule(func(context.Context, uint64) {
			runs.Add(1)
		})
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
	// Give a superseded timer a chance to misfire.
	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected exactly one execution, got %d", got)
	}
}

func TestDebouncerCancelsInFlightWork(t *testing.T) {
	debouncer := newDebouncer(10 * time.Millisecond)
	defer debouncer.Stop()

	cancelled := make(chan struct{})
	started := make(chan struct{})
	debouncer.schedule(func(ctx context.Context, generation uint64) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})

	<-started
	debouncer.schedule(func(context.Context, uint64) {})

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected the superseded execution to be cancelled")
	}
}

func TestDebouncerStaleGenerationRejected(t *testing.T) {
	debouncer := newDebouncer(time.Millisecond)
	defer debouncer.Stop()

	first := debouncer.schedule(func(context.Context, uint64) {})
	second := debouncer.schedule(func(context.Context, uint64) {})

	if debouncer.current(first) {
		t.Fatal("superseded generation must not be current")
	}
	if !debouncer.current(second) {
		t.Fatal("latest generation must be current")
	}
}

func TestDebouncerStop(t *testing.T) {
	debouncer := newDebouncer(10 * time.Millisecond)

	var runs atomic.Int32
	debouncer.schedule(func(context.Context, uint64) { runs.Add(1) })
	debouncer.Stop()

	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("expected no execution after Stop")
	}
}

// ---------------------------------------------------------------------------
// SearchDebounced
// ---------------------------------------------------------------------------

func TestSearchDebouncedOnlyLatestQueryExecutes(t *testing.T) {
	source := &countingSource{fakeSource: fakeSource{
		name:  "saavn",
		items: []domain.Track{saavnTrack("1", "abc", "Artist")},
	}}
	service := NewService([]Source{source}, 2*time.Second,
		WithDebounceInterval(30*time.Millisecond), WithCacheDisabled(true))
	defer service.Close()

	var mu sync.Mutex
	var got []domain.SearchResponse
	onResult := func(response domain.SearchResponse) {
		mu.Lock()
		got = append(got, response)
		mu.Unlock()
	}

	for _, query := range []string{"a", "ab", "abc"} {
		service.SearchDebounced(domain.SearchRequest{Query: query}, nil, onResult, nil)
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].Query != "abc" {
		t.Fatalf("expected only the final query to execute, got %q", got[0].Query)
	}
	if hits := source.hits.Load(); hits != 1 {
		t.Fatalf("expected one source call, got %d", hits)
	}
}

func TestSearchDebouncedBlankQueryClearsImmediately(t *testing.T) {
	source := &countingSource{fakeSource: fakeSource{name: "saavn"}}
	service := NewService([]Source{source}, time.Second,
		WithDebounceInterval(20*time.Millisecond))
	defer service.Close()

	// A pending non-blank query first, then a blank one superseding it.
	service.SearchDebounced(domain.SearchRequest{Query: "pending"}, nil, func(domain.SearchResponse) {}, nil)

	done := make(chan domain.SearchResponse, 1)
	service.SearchDebounced(domain.SearchRequest{Query: "   "}, nil, func(response domain.SearchResponse) {
		done <- response
	}, nil)

	select {
	case response := <-done:
		if len(response.Items) != 0 || !response.Final {
			t.Fatalf("expected an immediate empty final response, got %#v", response)
		}
	default:
		t.Fatal("blank query must resolve synchronously")
	}

	// The superseded pending query must never run.
	time.Sleep(80 * time.Millisecond)
	if hits := source.hits.Load(); hits != 0 {
		t.Fatalf("expected superseded query to be dropped, got %d source calls", hits)
	}
}

func TestSearchDebouncedErrorCallback(t *testing.T) {
	service := NewService([]Source{
		&fakeSource{name: "saavn", err: errors.New("bad gateway")},
	}, time.Second, WithDebounceInterval(10*time.Millisecond), WithCacheDisabled(true))
	defer service.Close()

	errCh := make(chan error, 1)
	service.SearchDebounced(domain.SearchRequest{Query: "test"}, nil, nil, func(err error) {
		errCh <- err
	})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the error callback to fire")
	}
}
