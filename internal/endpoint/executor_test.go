package endpoint

import (
	"context"
	"errors"
	"testing"
)

func TestExecutorFailsOverUntilSuccess(t *testing.T) {
	registry := NewRegistry("saavn", threeEndpoints())
	executor := NewExecutor(registry, nil)

	var tried []string
	err := executor.Do(context.Background(), OpSearch, func(_ context.Context, ep Endpoint) error {
		tried = append(tried, ep.ID)
		if ep.ID == "c" {
			return nil
		}
		return errors.New("bad gateway")
	})
	if err != nil {
		t.Fatalf("expected success on the third endpoint: %v", err)
	}
	if len(tried) != 3 || tried[0] != "a" || tried[1] != "b" || tried[2] != "c" {
		t.Fatalf("unexpected attempt order: %v", tried)
	}

	// One failure each for a and b; c succeeded.
	if registry.ConsecutiveFailures("a") != 1 || registry.ConsecutiveFailures("b") != 1 {
		t.Fatalf("unexpected failure counts: a=%d b=%d",
			registry.ConsecutiveFailures("a"), registry.ConsecutiveFailures("b"))
	}
	if registry.ConsecutiveFailures("c") != 0 {
		t.Fatalf("expected no failures on c, got %d", registry.ConsecutiveFailures("c"))
	}
	current, _ := registry.Current()
	if current.ID != "c" {
		t.Fatalf("expected the succeeding endpoint to become current, got %q", current.ID)
	}
}

func TestExecutorExhaustsAllEndpoints(t *testing.T) {
	registry := NewRegistry("saavn", threeEndpoints())
	executor := NewExecutor(registry, nil)

	attempts := 0
	err := executor.Do(context.Background(), OpSearch, func(context.Context, Endpoint) error {
		attempts++
		return errors.New("bad gateway")
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Tried != 3 || attempts != 3 {
		t.Fatalf("expected 3 attempts, got tried=%d attempts=%d", exhausted.Tried, attempts)
	}
	if exhausted.Source != "saavn" || exhausted.Op != OpSearch {
		t.Fatalf("unexpected error metadata: %#v", exhausted)
	}
}

func TestExecutorCancellationNotRecordedAsFailure(t *testing.T) {
	registry := NewRegistry("saavn", threeEndpoints())
	executor := NewExecutor(registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := executor.Do(ctx, OpSearch, func(context.Context, Endpoint) error {
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// An aborted request sequence says nothing about endpoint health.
	for _, id := range []string{"a", "b", "c"} {
		if registry.ConsecutiveFailures(id) != 0 {
			t.Fatalf("cancellation must not count against %q, got %d failures",
				id, registry.ConsecutiveFailures(id))
		}
	}
}

func TestExecutorCancelledBeforeFirstAttempt(t *testing.T) {
	registry := NewRegistry("saavn", threeEndpoints())
	executor := NewExecutor(registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := executor.Do(ctx, OpSearch, func(context.Context, Endpoint) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("expected no attempt on a cancelled context")
	}
}

func TestExecutorNoEndpoints(t *testing.T) {
	registry := NewRegistry("saavn", nil)
	executor := NewExecutor(registry, nil)

	err := executor.Do(context.Background(), OpSearch, func(context.Context, Endpoint) error {
		return nil
	})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Tried != 0 {
		t.Fatalf("expected zero attempts, got %d", exhausted.Tried)
	}
}

func TestExecutorStartsFromCurrentEndpoint(t *testing.T) {
	registry := NewRegistry("saavn", threeEndpoints())
	registry.RecordOutcome("b", true, nil)
	executor := NewExecutor(registry, nil)

	var first string
	err := executor.Do(context.Background(), OpSearch, func(_ context.Context, ep Endpoint) error {
		if first == "" {
			first = ep.ID
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "b" {
		t.Fatalf("expected attempts to start from the current endpoint, got %q", first)
	}
}
