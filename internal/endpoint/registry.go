package endpoint

import (
	"strings"
	"sync"
	"time"

	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/metrics"
)

// DefaultFailureThreshold is the number of consecutive failures after which an
// endpoint is considered unhealthy. Empirical constant carried over from the
// original deployment; override with WithFailureThreshold.
const DefaultFailureThreshold = 3

// Mode describes how requests reach an endpoint.
type Mode string

const (
	// ModeProxy routes through a same-origin reverse proxy.
	ModeProxy Mode = "proxy"
	// ModeDirect calls the upstream host directly.
	ModeDirect Mode = "direct"
	// ModeRelay wraps the call in a cross-origin relay.
	ModeRelay Mode = "relay"
)

// Endpoint is one candidate network path to an upstream catalog API.
type Endpoint struct {
	ID      string
	BaseURL string
	Mode    Mode
}

type health struct {
	consecutiveFailures int
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastError           string
}

// Registry holds the ordered endpoint list for one source together with each
// endpoint's rolling health record. It performs no network I/O itself; the
// Executor consults it and reports outcomes back. Registries are plain
// injected values, never process-wide globals, so tests and multiple service
// instances can hold independent ones.
type Registry struct {
	source    string
	threshold int

	mu        sync.Mutex
	endpoints []Endpoint
	health    map[string]*health
	currentID string
}

type RegistryOption func(*Registry)

func WithFailureThreshold(threshold int) RegistryOption {
	return func(r *Registry) {
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

// NewRegistry builds a registry for a source. Endpoints with empty base URLs
// are dropped; duplicates (same base URL) keep their first registration.
func NewRegistry(source string, endpoints []Endpoint, opts ...RegistryOption) *Registry {
	registry := &Registry{
		source:    strings.ToLower(strings.TrimSpace(source)),
		threshold: DefaultFailureThreshold,
		health:    make(map[string]*health),
	}
	seen := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		ep.BaseURL = strings.TrimSpace(ep.BaseURL)
		if ep.BaseURL == "" {
			continue
		}
		if ep.ID == "" {
			ep.ID = ep.BaseURL
		}
		if ep.Mode == "" {
			ep.Mode = ModeDirect
		}
		if _, exists := seen[ep.ID]; exists {
			continue
		}
		seen[ep.ID] = struct{}{}
		registry.endpoints = append(registry.endpoints, ep)
		registry.health[ep.ID] = &health{}
	}
	if len(registry.endpoints) > 0 {
		registry.currentID = registry.endpoints[0].ID
	}
	for _, opt := range opts {
		opt(registry)
	}
	return registry
}

func (r *Registry) Source() string { return r.source }

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}

// Endpoints returns a copy of the registration-ordered endpoint list.
func (r *Registry) Endpoints() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Endpoint(nil), r.endpoints...)
}

// Current returns the endpoint new request sequences should start from.
func (r *Registry) Current() (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ep := range r.endpoints {
		if ep.ID == r.currentID {
			return ep, true
		}
	}
	if len(r.endpoints) == 0 {
		return Endpoint{}, false
	}
	return r.endpoints[0], true
}

// RecordOutcome updates an endpoint's health after a completed attempt.
// Success resets the failure streak; failure increments it. Healthiness is
// derived from the streak against the threshold, never set independently.
func (r *Registry) RecordOutcome(endpointID string, success bool, attemptErr error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.health[endpointID]
	if !ok {
		return
	}
	if success {
		state.consecutiveFailures = 0
		state.lastSuccessAt = now
		state.lastError = ""
		r.currentID = endpointID
		metrics.EndpointHealthy.WithLabelValues(r.source, endpointID).Set(1)
		return
	}
	state.consecutiveFailures++
	state.lastFailureAt = now
	if attemptErr != nil {
		state.lastError = attemptErr.Error()
	}
	if state.consecutiveFailures >= r.threshold {
		metrics.EndpointHealthy.WithLabelValues(r.source, endpointID).Set(0)
	}
}

// NextHealthy returns the next healthy endpoint after currentID in
// registration order, wrapping around. When every endpoint is unhealthy it
// grants amnesty: all health state resets and the first endpoint is returned,
// so a transient global outage can never wedge the source permanently.
func (r *Registry) NextHealthy(currentID string) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.endpoints) == 0 {
		return Endpoint{}, false
	}

	start := 0
	for i, ep := range r.endpoints {
		if ep.ID == currentID {
			start = i + 1
			break
		}
	}
	for offset := 0; offset < len(r.endpoints); offset++ {
		ep := r.endpoints[(start+offset)%len(r.endpoints)]
		if r.healthyLocked(ep.ID) {
			r.currentID = ep.ID
			return ep, true
		}
	}

	// Failure amnesty: everything is marked down, so forget the streaks and
	// start over from the first endpoint.
	r.resetLocked()
	first := r.endpoints[0]
	r.currentID = first.ID
	return first, true
}

// Reset unconditionally clears all health state. Manual operator action.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	if len(r.endpoints) > 0 {
		r.currentID = r.endpoints[0].ID
	}
}

func (r *Registry) resetLocked() {
	for id := range r.health {
		r.health[id] = &health{}
		metrics.EndpointHealthy.WithLabelValues(r.source, id).Set(1)
	}
}

func (r *Registry) healthyLocked(endpointID string) bool {
	state, ok := r.health[endpointID]
	if !ok {
		return false
	}
	return state.consecutiveFailures < r.threshold
}

// Healthy reports whether the endpoint's failure streak is below threshold.
func (r *Registry) Healthy(endpointID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthyLocked(endpointID)
}

// ConsecutiveFailures returns the endpoint's current failure streak.
func (r *Registry) ConsecutiveFailures(endpointID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.health[endpointID]; ok {
		return state.consecutiveFailures
	}
	return 0
}

// Snapshot renders every endpoint's health record for the diagnostics surface.
func (r *Registry) Snapshot() []domain.EndpointHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]domain.EndpointHealth, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		state := r.health[ep.ID]
		item := domain.EndpointHealth{
			Source:   r.source,
			Endpoint: ep.BaseURL,
			Mode:     string(ep.Mode),
			Current:  ep.ID == r.currentID,
		}
		if state != nil {
			item.Healthy = state.consecutiveFailures < r.threshold
			item.ConsecutiveFailures = state.consecutiveFailures
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				at := state.lastSuccessAt
				item.LastSuccessAt = &at
			}
			if !state.lastFailureAt.IsZero() {
				at := state.lastFailureAt
				item.LastFailureAt = &at
			}
		}
		items = append(items, item)
	}
	return items
}
