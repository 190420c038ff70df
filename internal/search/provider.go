package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/endpoint"
	"melostream/searchservice/internal/kv"
)

var (
	ErrNoSources     = errors.New("no catalog sources configured")
	ErrUnknownSource = errors.New("unknown source")
	// ErrAllSourcesFailed marks an aggregation where every source errored.
	// Distinct from a valid empty answer: the UI shows "could not reach any
	// source" for this and "no results found" for an empty set.
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// Source is one upstream catalog adapter.
type Source interface {
	Name() string
	Info() domain.SourceInfo
	Search(ctx context.Context, query string, limit int) ([]domain.Track, error)
	ResolveTrack(ctx context.Context, nativeID string) (domain.Track, error)
	Lyrics(ctx context.Context, nativeID string) (domain.Lyrics, error)
}

// RegistryHolder is implemented by sources backed by an endpoint registry;
// the diagnostics surface reads health through it.
type RegistryHolder interface {
	Registry() *endpoint.Registry
}

// CoverLookup is an optional source capability for free-text cover lookup.
type CoverLookup interface {
	Cover(ctx context.Context, query string) (string, error)
}

// ScoringWeights parameterizes the confidence formula. The defaults are the
// empirically tuned values observed in production; there is no deeper
// derivation behind them.
type ScoringWeights struct {
	ExactTitle     float64
	TitleContains  float64
	ArtistContains float64
	Position       float64
	LosslessBonus  float64
}

func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		ExactTitle:     0.5,
		TitleContains:  0.3,
		ArtistContains: 0.2,
		Position:       0.2,
		LosslessBonus:  0.05,
	}
}

type Service struct {
	sources     map[string]Source
	sourceOrder []string
	timeout     time.Duration
	weights     ScoringWeights
	logger      *slog.Logger

	cacheDisabled bool
	cacheMu       sync.Mutex
	cache         map[string]*cachedResults
	cacheTTL      time.Duration
	cacheCapacity int
	popular       map[string]*popularQuery
	warmerRun     atomic.Bool
	redisCache    *RedisCacheBackend

	history *History

	filtersMu sync.Mutex
	filters   domain.FilterState
	store     kv.Store

	lastMu    sync.Mutex
	lastQuery string
	lastRaw   []domain.Track

	debouncer *Debouncer
}

type ServiceOption func(*Service)

func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithCacheCapacity(capacity int) ServiceOption {
	return func(s *Service) {
		if capacity > 0 {
			s.cacheCapacity = capacity
		}
	}
}

func WithCacheDisabled(disabled bool) ServiceOption {
	return func(s *Service) {
		s.cacheDisabled = disabled
	}
}

func WithRedisCache(backend *RedisCacheBackend) ServiceOption {
	return func(s *Service) {
		s.redisCache = backend
	}
}

func WithScoringWeights(weights ScoringWeights) ServiceOption {
	return func(s *Service) {
		s.weights = weights
	}
}

func WithStore(store kv.Store) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

func WithHistoryCapacity(capacity int) ServiceOption {
	return func(s *Service) {
		if capacity > 0 && s.history != nil {
			s.history.capacity = capacity
		}
	}
}

func WithDebounceInterval(interval time.Duration) ServiceOption {
	return func(s *Service) {
		if interval > 0 && s.debouncer != nil {
			s.debouncer.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(sources []Source, timeout time.Duration, opts ...ServiceOption) *Service {
	registry := make(map[string]Source, len(sources))
	order := make([]string, 0, len(sources))
	for _, source := range sources {
		if source == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(source.Name()))
		if name == "" {
			continue
		}
		if _, exists := registry[name]; exists {
			continue
		}
		registry[name] = source
		order = append(order, name)
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	svc := &Service{
		sources:       registry,
		sourceOrder:   order,
		timeout:       timeout,
		weights:       DefaultScoringWeights(),
		logger:        slog.Default(),
		cache:         make(map[string]*cachedResults),
		cacheTTL:      defaultCacheTTL,
		cacheCapacity: defaultCacheCapacity,
		popular:       make(map[string]*popularQuery),
		store:         kv.NewMemoryStore(),
		filters:       domain.DefaultFilterState(),
	}
	svc.debouncer = newDebouncer(defaultDebounceInterval)
	svc.history = &History{capacity: defaultHistoryCapacity}
	for _, opt := range opts {
		opt(svc)
	}
	svc.history.store = svc.store
	svc.history.load()
	svc.filters = svc.loadFilters()
	return svc
}

// StartBackground launches the cache warmer. Explicit lifecycle: nothing
// spawns at construction time, and cancelling ctx stops it.
func (s *Service) StartBackground(ctx context.Context) {
	if s.warmerRun.CompareAndSwap(false, true) {
		go s.runWarmer(ctx)
	}
}

// Close stops the debounce coordinator and cancels any in-flight debounced
// aggregation.
func (s *Service) Close() {
	s.debouncer.Stop()
}

func (s *Service) Sources() []domain.SourceInfo {
	items := make([]domain.SourceInfo, 0, len(s.sourceOrder))
	for _, name := range s.sourceOrder {
		source := s.sources[name]
		info := source.Info()
		if info.Name == "" {
			info.Name = name
		}
		if info.Label == "" {
			info.Label = info.Name
		}
		items = append(items, info)
	}
	return items
}

func (s *Service) resolveSources(names []string) ([]Source, error) {
	if len(s.sources) == 0 {
		return nil, ErrNoSources
	}
	if len(names) == 0 {
		all := make([]Source, 0, len(s.sourceOrder))
		for _, name := range s.sourceOrder {
			all = append(all, s.sources[name])
		}
		return all, nil
	}

	selected := make([]Source, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, rawName := range names {
		name := strings.ToLower(strings.TrimSpace(rawName))
		if name == "" {
			continue
		}
		source, ok := s.sources[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		selected = append(selected, source)
	}
	if len(selected) == 0 {
		return nil, ErrNoSources
	}
	return selected, nil
}

// EndpointHealth snapshots every registry for the operator health panel.
func (s *Service) EndpointHealth() []domain.EndpointHealth {
	items := make([]domain.EndpointHealth, 0, len(s.sourceOrder)*3)
	for _, name := range s.sourceOrder {
		holder, ok := s.sources[name].(RegistryHolder)
		if !ok {
			continue
		}
		items = append(items, holder.Registry().Snapshot()...)
	}
	return items
}

// ResetEndpointHealth clears all health state across all sources.
// Manual operator recovery action.
func (s *Service) ResetEndpointHealth() {
	for _, name := range s.sourceOrder {
		if holder, ok := s.sources[name].(RegistryHolder); ok {
			holder.Registry().Reset()
		}
	}
}

func (s *Service) Lyrics(ctx context.Context, sourceName, nativeID string) (domain.Lyrics, error) {
	source, ok := s.sources[strings.ToLower(strings.TrimSpace(sourceName))]
	if !ok {
		return domain.Lyrics{}, ErrUnknownSource
	}
	return source.Lyrics(ctx, nativeID)
}

// Cover returns a cover art URL for a free-text query from the first source
// that supports cover lookup.
func (s *Service) Cover(ctx context.Context, query string) (string, error) {
	for _, name := range s.sourceOrder {
		lookup, ok := s.sources[name].(CoverLookup)
		if !ok {
			continue
		}
		url, err := lookup.Cover(ctx, query)
		if err != nil || url == "" {
			continue
		}
		return url, nil
	}
	return "", errors.New("no cover found")
}

func (s *Service) ResolveTrack(ctx context.Context, sourceName, nativeID string) (domain.Track, error) {
	source, ok := s.sources[strings.ToLower(strings.TrimSpace(sourceName))]
	if !ok {
		return domain.Track{}, ErrUnknownSource
	}
	return source.ResolveTrack(ctx, nativeID)
}
