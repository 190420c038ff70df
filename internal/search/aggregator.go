package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"golang.org/x/sync/semaphore"
	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/metrics"
)

// maxConcurrentSources limits how many catalog queries run simultaneously.
// Two sources today, but relay deployments can register several Source
// instances per catalog.
const maxConcurrentSources = 4

type preparedSearch struct {
	query       string
	normQuery   string
	limit       int
	filters     domain.FilterState
	selected    []Source
	sourceNames []string
}

func (s *Service) Search(ctx context.Context, request domain.SearchRequest, sourceNames []string) (domain.SearchResponse, error) {
	prepared, err := s.prepareSearch(request, sourceNames)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if prepared.query == "" {
		// Blank input clears the result list without touching the network.
		return emptyResponse(), nil
	}

	s.history.Add(prepared.query)

	startedAt := time.Now()
	cacheKey := buildSearchCacheKey(prepared.query, prepared.limit, prepared.sourceNames)

	if !s.cacheDisabled && !request.NoCache {
		if cached, ok := s.cacheLookup(cacheKey, startedAt); ok {
			// Track popularity even on cache hits, so the warmer can keep hot queries fresh.
			s.markPopular(cacheKey, prepared, startedAt)
			s.rememberRaw(prepared.query, cached.tracks)
			return s.buildResponse(prepared, cached.tracks, cached.statuses, startedAt, true), nil
		}
	}

	tracks, statuses, err := s.executeAggregate(ctx, prepared)
	if err != nil {
		return domain.SearchResponse{Query: prepared.query, Sources: statuses, Final: true}, err
	}

	if !s.cacheDisabled && !request.NoCache {
		s.cacheStore(cacheKey, tracks, statuses, time.Now())
		s.markPopular(cacheKey, prepared, time.Now())
	}
	s.rememberRaw(prepared.query, tracks)
	return s.buildResponse(prepared, tracks, statuses, startedAt, true), nil
}

func (s *Service) prepareSearch(request domain.SearchRequest, sourceNames []string) (preparedSearch, error) {
	query := strings.TrimSpace(request.Query)

	limit := request.MaxResults
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	selected, err := s.resolveSources(sourceNames)
	if err != nil {
		return preparedSearch{}, err
	}

	keys := make([]string, 0, len(selected))
	for _, source := range selected {
		name := strings.ToLower(strings.TrimSpace(source.Name()))
		if name != "" {
			keys = append(keys, name)
		}
	}

	return preparedSearch{
		query:       query,
		normQuery:   normalizeText(query),
		limit:       limit,
		filters:     domain.NormalizeFilterState(request.Filters),
		selected:    selected,
		sourceNames: keys,
	}, nil
}

// executeAggregate fans the query out to every selected source, scores and
// merges the per-source lists, and returns the merged tracks sorted by
// confidence. The slice is unfiltered; callers apply the filter state on top
// so cached entries can be refiltered without another network round.
func (s *Service) executeAggregate(ctx context.Context, prepared preparedSearch) ([]domain.Track, []domain.SourceStatus, error) {
	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	statuses := make([]domain.SourceStatus, len(prepared.selected))
	perSource := make([][]domain.Track, len(prepared.selected))

	var mu sync.Mutex
	sem := semaphore.NewWeighted(maxConcurrentSources)
	var wg sync.WaitGroup
	for i, source := range prepared.selected {
		wg.Add(1)
		go func(index int, current Source) {
			defer wg.Done()

			if err := sem.Acquire(runCtx, 1); err != nil {
				mu.Lock()
				statuses[index] = domain.SourceStatus{
					Name:  strings.ToLower(strings.TrimSpace(current.Name())),
					OK:    false,
					Error: "context cancelled",
				}
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			status, items := s.querySource(runCtx, current, prepared)
			mu.Lock()
			statuses[index] = status
			perSource[index] = items
			mu.Unlock()
		}(i, source)
	}
	wg.Wait()

	anyOK := false
	for _, status := range statuses {
		if status.OK {
			anyOK = true
			break
		}
	}
	if !anyOK {
		return nil, statuses, fmt.Errorf("%w: %s", ErrAllSourcesFailed, strings.Join(prepared.sourceNames, ", "))
	}

	merged := mergeScored(s.weights, prepared.normQuery, perSource)
	if len(merged) > prepared.limit {
		merged = merged[:prepared.limit]
	}
	return merged, statuses, nil
}

// querySource runs a single catalog search with retry, records metrics, and
// converts the outcome to a SourceStatus.
func (s *Service) querySource(ctx context.Context, current Source, prepared preparedSearch) (domain.SourceStatus, []domain.Track) {
	sourceKey := strings.ToLower(strings.TrimSpace(current.Name()))

	sourceStartedAt := time.Now()
	var items []domain.Track
	searchErr := RetryWithBackoff(ctx, DefaultRetryConfig(), func() error {
		var err error
		items, err = current.Search(ctx, prepared.query, prepared.limit)
		return err
	})
	elapsed := time.Since(sourceStartedAt)

	outcome := "ok"
	if searchErr != nil {
		outcome = "error"
	}
	metrics.SourceRequestsTotal.WithLabelValues(sourceKey, outcome).Inc()

	if searchErr != nil {
		s.logger.Warn("source search failed",
			slog.String("source", sourceKey),
			slog.String("query", prepared.query),
			slog.Int64("elapsedMs", elapsed.Milliseconds()),
			slog.String("error", searchErr.Error()),
		)
	}

	status := domain.SourceStatus{
		Name:  sourceKey,
		OK:    searchErr == nil,
		Count: len(items),
	}
	if searchErr != nil {
		status.Error = searchErr.Error()
	}
	return status, items
}

// mergeScored assigns a confidence score to every track, collapses duplicates
// across sources (the higher-confidence copy wins), and returns the union
// ordered by confidence descending. Sources are merged in registration order
// so ties stay deterministic.
func mergeScored(weights ScoringWeights, normQuery string, perSource [][]domain.Track) []domain.Track {
	index := make(map[string]int)
	merged := make([]domain.Track, 0, 32)

	for _, items := range perSource {
		total := len(items)
		for rank, item := range items {
			item.Confidence = scoreTrack(weights, normQuery, item, rank, total)
			key := dedupeKey(item)
			at, exists := index[key]
			if !exists {
				index[key] = len(merged)
				merged = append(merged, item)
				continue
			}
			if item.Confidence > merged[at].Confidence {
				merged[at] = item
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged
}

func (s *Service) buildResponse(prepared preparedSearch, tracks []domain.Track, statuses []domain.SourceStatus, startedAt time.Time, final bool) domain.SearchResponse {
	filtered := Process(tracks, prepared.filters)

	statusesCopy := make([]domain.SourceStatus, len(statuses))
	copy(statusesCopy, statuses)

	response := domain.SearchResponse{
		Query:         prepared.query,
		Items:         filtered,
		Sources:       statusesCopy,
		TotalItems:    len(tracks),
		FilteredItems: len(filtered),
		ElapsedMS:     time.Since(startedAt).Milliseconds(),
		Final:         final,
	}
	if final {
		response.Phase = "complete"
	}
	return response
}

func emptyResponse() domain.SearchResponse {
	return domain.SearchResponse{
		Items:   []domain.Track{},
		Sources: []domain.SourceStatus{},
		Final:   true,
		Phase:   "complete",
	}
}

func (s *Service) rememberRaw(query string, tracks []domain.Track) {
	s.lastMu.Lock()
	s.lastQuery = query
	s.lastRaw = append(s.lastRaw[:0], tracks...)
	s.lastMu.Unlock()
}

// SearchStream runs the same aggregation as Search but emits a snapshot after
// each source completes, so clients can render partial results while the
// slower catalog is still answering.
func (s *Service) SearchStream(ctx context.Context, request domain.SearchRequest, sourceNames []string) <-chan domain.SearchResponse {
	ch := make(chan domain.SearchResponse, 8)

	prepared, err := s.prepareSearch(request, sourceNames)
	if err != nil {
		close(ch)
		return ch
	}
	if prepared.query == "" {
		ch <- emptyResponse()
		close(ch)
		return ch
	}

	s.history.Add(prepared.query)

	if !s.cacheDisabled && !request.NoCache {
		startedAt := time.Now()
		cacheKey := buildSearchCacheKey(prepared.query, prepared.limit, prepared.sourceNames)
		if cached, ok := s.cacheLookup(cacheKey, startedAt); ok {
			s.markPopular(cacheKey, prepared, startedAt)
			s.rememberRaw(prepared.query, cached.tracks)
			ch <- s.buildResponse(prepared, cached.tracks, cached.statuses, startedAt, true)
			close(ch)
			return ch
		}
	}

	go s.executeStreamSearch(ctx, prepared, ch)
	return ch
}

func (s *Service) executeStreamSearch(ctx context.Context, prepared preparedSearch, ch chan<- domain.SearchResponse) {
	defer close(ch)

	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	statuses := make([]domain.SourceStatus, len(prepared.selected))
	perSource := make([][]domain.Track, len(prepared.selected))

	s.logger.Info("stream search started",
		slog.String("query", prepared.query),
		slog.Any("sources", prepared.sourceNames),
		slog.Int("limit", prepared.limit),
	)

	var mu sync.Mutex
	sem := semaphore.NewWeighted(maxConcurrentSources)
	var wg sync.WaitGroup

	for i, source := range prepared.selected {
		wg.Add(1)
		go func(index int, current Source) {
			defer wg.Done()

			sourceKey := strings.ToLower(strings.TrimSpace(current.Name()))

			if err := sem.Acquire(runCtx, 1); err != nil {
				mu.Lock()
				statuses[index] = domain.SourceStatus{Name: sourceKey, OK: false, Error: "context cancelled"}
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			status, items := s.querySource(runCtx, current, prepared)

			mu.Lock()
			statuses[index] = status
			perSource[index] = items

			merged := mergeScored(s.weights, prepared.normQuery, perSource)
			if len(merged) > prepared.limit {
				merged = merged[:prepared.limit]
			}
			snapshot := s.buildResponse(prepared, merged, statuses, startedAt, false)
			snapshot.Phase = sourceKey
			mu.Unlock()

			select {
			case ch <- snapshot:
			case <-ctx.Done():
			}
		}(i, source)
	}
	wg.Wait()

	merged := mergeScored(s.weights, prepared.normQuery, perSource)
	if len(merged) > prepared.limit {
		merged = merged[:prepared.limit]
	}

	anyOK := false
	failed := 0
	for _, status := range statuses {
		if status.OK {
			anyOK = true
		} else {
			failed++
		}
	}

	final := s.buildResponse(prepared, merged, statuses, startedAt, true)
	if !anyOK {
		final.Error = "could not reach any source"
	} else if !s.cacheDisabled {
		cacheKey := buildSearchCacheKey(prepared.query, prepared.limit, prepared.sourceNames)
		s.cacheStore(cacheKey, merged, statuses, time.Now())
		s.markPopular(cacheKey, prepared, time.Now())
	}
	s.rememberRaw(prepared.query, merged)

	s.logger.Info("stream search completed",
		slog.String("query", prepared.query),
		slog.Int("totalResults", final.TotalItems),
		slog.Int("sources", len(statuses)),
		slog.Int("failed", failed),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)

	select {
	case ch <- final:
	case <-ctx.Done():
	}
}
