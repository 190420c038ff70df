package search

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/metrics"
)

const (
	defaultCacheTTL      = 5 * time.Minute
	defaultCacheCapacity = 50

	warmInterval               = time.Minute
	warmTopQueries             = 5
	popularMaxEntries          = 100
	maxConcurrentWarmRefreshes = 2 // keep warm traffic well below interactive traffic
)

// cachedResults holds the merged, confidence-sorted, unfiltered track list
// for one query. Filters are applied on read so a filter change never costs
// a network round.
type cachedResults struct {
	tracks     []domain.Track
	statuses   []domain.SourceStatus
	insertedAt time.Time
}

type popularQuery struct {
	query    string
	limit    int
	sources  []string
	hits     int
	lastSeen time.Time
	lastWarm time.Time
}

type warmSpec struct {
	key     string
	query   string
	limit   int
	sources []string
}

func (s *Service) runWarmer(ctx context.Context) {
	ticker := time.NewTicker(warmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runWarmCycle(ctx)
		}
	}
}

func (s *Service) runWarmCycle(ctx context.Context) {
	now := time.Now()
	specs := s.collectWarmSpecs(now)
	if len(specs) == 0 {
		return
	}

	sem := semaphore.NewWeighted(maxConcurrentWarmRefreshes)
	var wg sync.WaitGroup
	for _, spec := range specs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		wg.Add(1)
		go func(spec warmSpec) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			refreshCtx, cancel := context.WithTimeout(ctx, s.timeout+2*time.Second)
			defer cancel()

			prepared, err := s.prepareSearch(domain.SearchRequest{Query: spec.query, MaxResults: spec.limit}, spec.sources)
			if err != nil || prepared.query == "" {
				return
			}
			tracks, statuses, err := s.executeAggregate(refreshCtx, prepared)
			if err != nil {
				return
			}
			s.cacheStore(spec.key, tracks, statuses, time.Now())
		}(spec)
	}
	wg.Wait()
}

// collectWarmSpecs picks the hottest queries whose cache entries have expired
// or are about to. Each spec is warmed at most once per interval.
func (s *Service) collectWarmSpecs(now time.Time) []warmSpec {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if len(s.popular) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.popular))
	for key := range s.popular {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		left := s.popular[keys[i]]
		right := s.popular[keys[j]]
		if left.hits != right.hits {
			return left.hits > right.hits
		}
		return left.lastSeen.After(right.lastSeen)
	})

	limit := warmTopQueries
	if len(keys) < limit {
		limit = len(keys)
	}

	specs := make([]warmSpec, 0, limit)
	for _, key := range keys[:limit] {
		pop := s.popular[key]
		if pop == nil || pop.hits < 2 {
			continue
		}
		if !pop.lastWarm.IsZero() && now.Sub(pop.lastWarm) < warmInterval {
			continue
		}
		if entry, ok := s.cache[key]; ok && now.Sub(entry.insertedAt) < s.cacheTTL {
			continue
		}
		pop.lastWarm = now
		specs = append(specs, warmSpec{
			key:     key,
			query:   pop.query,
			limit:   pop.limit,
			sources: append([]string(nil), pop.sources...),
		})
	}
	return specs
}

func (s *Service) cacheLookup(key string, now time.Time) (cachedResults, bool) {
	s.cacheMu.Lock()
	entry, ok := s.cache[key]
	if ok && now.Sub(entry.insertedAt) < s.cacheTTL {
		metrics.CacheHitsTotal.Inc()
		cloned := cloneCachedResults(*entry)
		s.cacheMu.Unlock()
		return cloned, true
	}
	if ok {
		// Lazy expiry: entries are only dropped when a lookup finds them stale.
		delete(s.cache, key)
	}
	s.cacheMu.Unlock()

	if s.redisCache != nil {
		cached, found, err := s.redisCache.Get(context.Background(), key)
		if err == nil && found {
			metrics.CacheHitsTotal.Inc()
			s.cacheStoreMemoryOnly(key, cached, now)
			return cached, true
		}
	}

	metrics.CacheMissesTotal.Inc()
	return cachedResults{}, false
}

func (s *Service) cacheStore(key string, tracks []domain.Track, statuses []domain.SourceStatus, now time.Time) {
	entry := cachedResults{
		tracks:     append([]domain.Track(nil), tracks...),
		statuses:   append([]domain.SourceStatus(nil), statuses...),
		insertedAt: now,
	}

	if s.redisCache != nil {
		_ = s.redisCache.Set(context.Background(), key, entry, s.cacheTTL)
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[key] = &entry
	s.trimCacheLocked(now)
}

func (s *Service) cacheStoreMemoryOnly(key string, cached cachedResults, now time.Time) {
	cached.insertedAt = now
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[key] = &cached
	s.trimCacheLocked(now)
}

// ClearCache drops every cached result set and the popularity counters.
func (s *Service) ClearCache() {
	s.cacheMu.Lock()
	s.cache = make(map[string]*cachedResults)
	s.popular = make(map[string]*popularQuery)
	s.cacheMu.Unlock()

	if s.redisCache != nil {
		_ = s.redisCache.Clear(context.Background())
	}
}

func (s *Service) markPopular(key string, prepared preparedSearch, now time.Time) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	pop, ok := s.popular[key]
	if !ok {
		s.popular[key] = &popularQuery{
			query:    prepared.query,
			limit:    prepared.limit,
			sources:  append([]string(nil), prepared.sourceNames...),
			hits:     1,
			lastSeen: now,
		}
	} else {
		pop.hits++
		pop.lastSeen = now
	}

	if len(s.popular) <= popularMaxEntries {
		return
	}

	// Drop least popular + oldest query.
	type pair struct {
		key   string
		value *popularQuery
	}
	items := make([]pair, 0, len(s.popular))
	for popKey, value := range s.popular {
		items = append(items, pair{key: popKey, value: value})
	}
	sort.Slice(items, func(i, j int) bool {
		left := items[i].value
		right := items[j].value
		if left.hits != right.hits {
			return left.hits < right.hits
		}
		return left.lastSeen.Before(right.lastSeen)
	})
	for i := 0; i < len(items)-popularMaxEntries; i++ {
		delete(s.popular, items[i].key)
	}
}

// trimCacheLocked evicts the oldest entry while the cache is over capacity.
func (s *Service) trimCacheLocked(now time.Time) {
	for key, entry := range s.cache {
		if now.Sub(entry.insertedAt) >= s.cacheTTL {
			delete(s.cache, key)
		}
	}

	for len(s.cache) > s.cacheCapacity {
		oldestKey := ""
		var oldestAt time.Time
		for key, entry := range s.cache {
			if oldestKey == "" || entry.insertedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.insertedAt
			}
		}
		delete(s.cache, oldestKey)
	}
}

func cloneCachedResults(entry cachedResults) cachedResults {
	return cachedResults{
		tracks:     append([]domain.Track(nil), entry.tracks...),
		statuses:   append([]domain.SourceStatus(nil), entry.statuses...),
		insertedAt: entry.insertedAt,
	}
}

func buildSearchCacheKey(query string, limit int, sources []string) string {
	names := normalizeSourceNames(sources)
	return strings.Join([]string{
		"q=" + normalizeText(query),
		"l=" + strconv.Itoa(limit),
		"s=" + strings.Join(names, ","),
	}, "|")
}

func normalizeSourceNames(sourceNames []string) []string {
	if len(sourceNames) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(sourceNames))
	names := make([]string, 0, len(sourceNames))
	for _, raw := range sourceNames {
		value := strings.ToLower(strings.TrimSpace(raw))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		names = append(names, value)
	}
	sort.Strings(names)
	return names
}
