package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"melostream/searchservice/internal/metrics"
)

// Op names a logical upstream operation. Each op carries its own attempt
// timeout budget: searches and cover lookups should fail fast, track
// resolution may involve upstream transcoding and gets more room.
type Op string

const (
	OpSearch Op = "search"
	OpTrack  Op = "track"
	OpLyrics Op = "lyrics"
	OpCover  Op = "cover"
)

const (
	shortAttemptTimeout = 8 * time.Second
	longAttemptTimeout  = 20 * time.Second
)

func attemptTimeout(op Op) time.Duration {
	switch op {
	case OpTrack, OpLyrics:
		return longAttemptTimeout
	default:
		return shortAttemptTimeout
	}
}

// ExhaustedError is the terminal failure returned when every endpoint was
// tried and none succeeded. Callers treat it as an expected outcome (a source
// contributing zero results), not a panic-worthy fault.
type ExhaustedError struct {
	Source string
	Op     Op
	Tried  int
	Last   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s %s: all %d endpoints failed: %v", e.Source, e.Op, e.Tried, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Executor runs logical operations against a registry's endpoints, failing
// over to the next healthy endpoint until one succeeds or all are exhausted.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

func (e *Executor) Registry() *Registry { return e.registry }

// Do attempts fn against the current endpoint with the op's timeout budget.
// On failure the outcome is recorded and the next healthy endpoint is tried,
// up to the total endpoint count. Cancellation of the parent context aborts
// the loop immediately and is NOT recorded against the endpoint: a superseded
// request says nothing about endpoint health.
func (e *Executor) Do(ctx context.Context, op Op, fn func(ctx context.Context, ep Endpoint) error) error {
	total := e.registry.Len()
	if total == 0 {
		return &ExhaustedError{Source: e.registry.Source(), Op: op, Tried: 0, Last: errors.New("no endpoints configured")}
	}

	current, ok := e.registry.Current()
	if !ok {
		return &ExhaustedError{Source: e.registry.Source(), Op: op, Tried: 0, Last: errors.New("no endpoints configured")}
	}

	var lastErr error
	for attempt := 0; attempt < total; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout(op))
		startedAt := time.Now()
		err := fn(attemptCtx, current)
		cancel()
		metrics.EndpointRequestDuration.WithLabelValues(e.registry.Source(), string(op)).Observe(time.Since(startedAt).Seconds())

		if err == nil {
			e.registry.RecordOutcome(current.ID, true, nil)
			metrics.EndpointRequestsTotal.WithLabelValues(e.registry.Source(), string(op), "ok").Inc()
			return nil
		}

		// A cancelled parent means this whole request sequence is obsolete;
		// stop without further attempts and without blaming the endpoint.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		e.registry.RecordOutcome(current.ID, false, err)
		metrics.EndpointRequestsTotal.WithLabelValues(e.registry.Source(), string(op), "error").Inc()
		e.logger.Warn("endpoint attempt failed",
			slog.String("source", e.registry.Source()),
			slog.String("op", string(op)),
			slog.String("endpoint", current.BaseURL),
			slog.String("mode", string(current.Mode)),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		next, ok := e.registry.NextHealthy(current.ID)
		if !ok {
			break
		}
		current = next
	}

	return &ExhaustedError{Source: e.registry.Source(), Op: op, Tried: total, Last: lastErr}
}
