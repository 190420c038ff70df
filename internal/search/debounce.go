package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"melostream/searchservice/internal/domain"
)

const defaultDebounceInterval = 300 * time.Millisecond

// Debouncer coalesces rapid query submissions: only the latest one executes,
// and results from superseded executions are dropped even when they finish
// after a newer call has been made.
type Debouncer struct {
	mu         sync.Mutex
	interval   time.Duration
	timer      *time.Timer
	generation uint64
	cancel     context.CancelFunc
	stopped    bool
}

func newDebouncer(interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = defaultDebounceInterval
	}
	return &Debouncer{interval: interval}
}

// schedule arms the debounce timer for fn, superseding any pending or
// in-flight execution. fn receives a context that is cancelled when a newer
// call arrives, and the generation it must check before surfacing results.
func (d *Debouncer) schedule(fn func(ctx context.Context, generation uint64)) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.generation++
	generation := d.generation

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.stopped {
		return generation
	}

	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		if d.stopped || generation != d.generation {
			d.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		d.mu.Unlock()

		fn(ctx, generation)
	})
	return generation
}

// current reports whether generation still is the latest scheduled one.
func (d *Debouncer) current(generation uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped && generation == d.generation
}

// Stop cancels the pending timer and any in-flight execution. The debouncer
// accepts no further work afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// SearchDebounced schedules an aggregated search after the debounce interval.
// Calling it again before the interval elapses replaces the pending query;
// results from superseded searches never reach the callbacks. A blank query
// short-circuits synchronously with an empty response so the caller can clear
// its result list at once.
func (s *Service) SearchDebounced(request domain.SearchRequest, sourceNames []string, onResult func(domain.SearchResponse), onError func(error)) {
	if strings.TrimSpace(request.Query) == "" {
		s.debouncer.schedule(func(context.Context, uint64) {})
		if onResult != nil {
			onResult(emptyResponse())
		}
		return
	}

	s.debouncer.schedule(func(ctx context.Context, generation uint64) {
		response, err := s.Search(ctx, request, sourceNames)
		if !s.debouncer.current(generation) {
			return
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onResult != nil {
			onResult(response)
		}
	})
}
