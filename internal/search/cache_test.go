package search

import (
	"testing"
	"time"

	"melostream/searchservice/internal/domain"
)

func newCacheTestService(opts ...ServiceOption) *Service {
	return NewService([]Source{&fakeSource{name: "saavn"}}, time.Second, opts...)
}

// ---------------------------------------------------------------------------
// cacheLookup / cacheStore
// ---------------------------------------------------------------------------

func TestCacheLookupMissOnEmpty(t *testing.T) {
	svc := newCacheTestService()
	_, found := svc.cacheLookup("key", time.Now())
	if found {
		t.Fatal("expected miss on empty cache")
	}
}

func TestCacheStoreRoundTrip(t *testing.T) {
	svc := newCacheTestService()
	now := time.Now()
	tracks := []domain.Track{saavnTrack("1", "A", "B")}
	statuses := []domain.SourceStatus{{Name: "saavn", OK: true, Count: 1}}

	svc.cacheStore("key", tracks, statuses, now)

	got, found := svc.cacheLookup("key", now.Add(time.Minute))
	if !found {
		t.Fatal("expected hit")
	}
	if len(got.tracks) != 1 || got.tracks[0].ID != "saavn:1" {
		t.Fatalf("unexpected tracks: %#v", got.tracks)
	}
	if len(got.statuses) != 1 || !got.statuses[0].OK {
		t.Fatalf("unexpected statuses: %#v", got.statuses)
	}
}

func TestCacheLookupExpiredEntry(t *testing.T) {
	svc := newCacheTestService()
	now := time.Now()
	svc.cacheStore("key", []domain.Track{saavnTrack("1", "A", "B")}, nil, now)

	_, found := svc.cacheLookup("key", now.Add(defaultCacheTTL+time.Second))
	if found {
		t.Fatal("expected miss after TTL")
	}
	// The stale entry must also be dropped from the map.
	svc.cacheMu.Lock()
	_, stillThere := svc.cache["key"]
	svc.cacheMu.Unlock()
	if stillThere {
		t.Fatal("expected stale entry to be evicted on lookup")
	}
}

func TestCacheLookupReturnsCopy(t *testing.T) {
	svc := newCacheTestService()
	now := time.Now()
	svc.cacheStore("key", []domain.Track{saavnTrack("1", "Original", "B")}, nil, now)

	got, _ := svc.cacheLookup("key", now)
	got.tracks[0].Title = "Mutated"

	again, _ := svc.cacheLookup("key", now)
	if again.tracks[0].Title != "Original" {
		t.Fatal("cacheLookup must hand out a copy, not the stored slice")
	}
}

func TestCacheCapacityEvictsOldest(t *testing.T) {
	svc := newCacheTestService(WithCacheCapacity(3))
	base := time.Now()

	track := []domain.Track{saavnTrack("1", "A", "B")}
	svc.cacheStore("a", track, nil, base)
	svc.cacheStore("b", track, nil, base.Add(time.Second))
	svc.cacheStore("c", track, nil, base.Add(2*time.Second))
	svc.cacheStore("d", track, nil, base.Add(3*time.Second))

	if _, found := svc.cacheLookup("a", base.Add(3*time.Second)); found {
		t.Fatal("expected oldest entry to be evicted at capacity")
	}
	for _, key := range []string{"b", "c", "d"} {
		if _, found := svc.cacheLookup(key, base.Add(3*time.Second)); !found {
			t.Fatalf("expected %q to survive eviction", key)
		}
	}
}

func TestCacheCustomTTL(t *testing.T) {
	svc := newCacheTestService(WithCacheTTL(time.Minute))
	now := time.Now()
	svc.cacheStore("key", []domain.Track{saavnTrack("1", "A", "B")}, nil, now)

	if _, found := svc.cacheLookup("key", now.Add(30*time.Second)); !found {
		t.Fatal("expected hit within custom TTL")
	}
	if _, found := svc.cacheLookup("key", now.Add(2*time.Minute)); found {
		t.Fatal("expected miss past custom TTL")
	}
}

func TestClearCacheDropsEverything(t *testing.T) {
	svc := newCacheTestService()
	now := time.Now()
	svc.cacheStore("key", []domain.Track{saavnTrack("1", "A", "B")}, nil, now)
	svc.markPopular("key", preparedSearch{query: "a", limit: 10}, now)

	svc.ClearCache()

	if _, found := svc.cacheLookup("key", now); found {
		t.Fatal("expected empty cache after ClearCache")
	}
	svc.cacheMu.Lock()
	popCount := len(svc.popular)
	svc.cacheMu.Unlock()
	if popCount != 0 {
		t.Fatalf("expected popularity counters to reset, got %d", popCount)
	}
}

// ---------------------------------------------------------------------------
// cache keys
// ---------------------------------------------------------------------------

func TestBuildSearchCacheKeyNormalizesQuery(t *testing.T) {
	a := buildSearchCacheKey("Test Song", 50, nil)
	b := buildSearchCacheKey("  test   SONG!  ", 50, nil)
	if a != b {
		t.Fatalf("expected equivalent queries to share a key: %q vs %q", a, b)
	}
}

func TestBuildSearchCacheKeyDistinguishesLimitAndSources(t *testing.T) {
	base := buildSearchCacheKey("test", 50, nil)
	if buildSearchCacheKey("test", 25, nil) == base {
		t.Fatal("expected limit to affect the key")
	}
	if buildSearchCacheKey("test", 50, []string{"saavn"}) == base {
		t.Fatal("expected source selection to affect the key")
	}
}

func TestBuildSearchCacheKeySourceOrderIrrelevant(t *testing.T) {
	a := buildSearchCacheKey("test", 50, []string{"tidal", "saavn"})
	b := buildSearchCacheKey("test", 50, []string{"saavn", "TIDAL", "saavn"})
	if a != b {
		t.Fatalf("expected source name order and case to be normalized: %q vs %q", a, b)
	}
}

// ---------------------------------------------------------------------------
// popularity tracking and warm candidates
// ---------------------------------------------------------------------------

func TestMarkPopularCountsHits(t *testing.T) {
	svc := newCacheTestService()
	now := time.Now()
	prepared := preparedSearch{query: "hot", limit: 20, sourceNames: []string{"saavn"}}

	svc.markPopular("key", prepared, now)
	svc.markPopular("key", prepared, now.Add(time.Second))

	svc.cacheMu.Lock()
	pop := svc.popular["key"]
	svc.cacheMu.Unlock()
	if pop == nil || pop.hits != 2 {
		t.Fatalf("expected 2 hits, got %#v", pop)
	}
}

func TestCollectWarmSpecsSkipsColdAndFresh(t *testing.T) {
	svc := newCacheTestService()
	now := time.Now()

	// One hit only: not popular enough.
	svc.markPopular("cold", preparedSearch{query: "cold", limit: 10}, now)

	// Popular but its cache entry is still fresh.
	freshPrepared := preparedSearch{query: "fresh", limit: 10}
	svc.markPopular("fresh", freshPrepared, now)
	svc.markPopular("fresh", freshPrepared, now)
	svc.cacheStore("fresh", []domain.Track{saavnTrack("1", "A", "B")}, nil, now)

	// Popular and expired: the one worth warming.
	stalePrepared := preparedSearch{query: "stale", limit: 10}
	svc.markPopular("stale", stalePrepared, now)
	svc.markPopular("stale", stalePrepared, now)

	specs := svc.collectWarmSpecs(now.Add(time.Second))
	if len(specs) != 1 {
		t.Fatalf("expected exactly one warm candidate, got %d", len(specs))
	}
	if specs[0].query != "stale" {
		t.Fatalf("expected the stale popular query, got %q", specs[0].query)
	}
}
