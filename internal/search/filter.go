package search

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"melostream/searchservice/internal/domain"
)

// Duration buckets in seconds. A track with no known duration passes every
// duration filter rather than disappearing from the list.
const (
	shortTrackMaxSeconds = 180
	longTrackMinSeconds  = 300
)

// Process applies the filter state to an already scored track list: filter
// first, then sort. The input slice is never mutated, so the same merged set
// can be refiltered repeatedly.
func Process(tracks []domain.Track, state domain.FilterState) []domain.Track {
	state = domain.NormalizeFilterState(state)

	filtered := make([]domain.Track, 0, len(tracks))
	for _, track := range tracks {
		if !matchesSource(track, state.Source) {
			continue
		}
		if !matchesDuration(track, state.Duration) {
			continue
		}
		if !matchesQuality(track, state.Quality) {
			continue
		}
		filtered = append(filtered, track)
	}

	sortTracks(filtered, state.SortBy, state.SortOrder)
	return filtered
}

func matchesSource(track domain.Track, filter domain.SourceFilter) bool {
	if filter == domain.SourceFilterAll {
		return true
	}
	return string(track.Source) == string(filter)
}

func matchesDuration(track domain.Track, filter domain.DurationFilter) bool {
	if filter == domain.DurationFilterAny {
		return true
	}
	seconds := track.DurationSeconds
	if seconds <= 0 {
		// Unknown duration: keep the track visible under every bucket.
		return true
	}
	switch filter {
	case domain.DurationFilterShort:
		return seconds < shortTrackMaxSeconds
	case domain.DurationFilterMedium:
		return seconds >= shortTrackMaxSeconds && seconds < longTrackMinSeconds
	case domain.DurationFilterLong:
		return seconds >= longTrackMinSeconds
	default:
		return true
	}
}

func matchesQuality(track domain.Track, filter domain.QualityFilter) bool {
	// "high" is a playback preference resolved when the stream URL is built;
	// only "lossless" narrows the visible result set.
	if filter == domain.QualityFilterLossless {
		return track.Lossless()
	}
	return true
}

func sortTracks(tracks []domain.Track, sortBy domain.SearchSortBy, sortOrder domain.SearchSortOrder) {
	if len(tracks) < 2 {
		return
	}

	// A Collator is not safe for concurrent use, so build one per call.
	var coll *collate.Collator
	if sortBy == domain.SearchSortByTitle || sortBy == domain.SearchSortByArtist {
		coll = collate.New(language.Und, collate.Numeric, collate.IgnoreCase)
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		cmp := compareTracks(tracks[i], tracks[j], sortBy, coll)
		if sortOrder == domain.SearchSortOrderAsc {
			return cmp < 0
		}
		return cmp > 0
	})
}

func compareTracks(left, right domain.Track, sortBy domain.SearchSortBy, coll *collate.Collator) int {
	switch sortBy {
	case domain.SearchSortByTitle:
		if cmp := coll.CompareString(left.Title, right.Title); cmp != 0 {
			return cmp
		}
	case domain.SearchSortByArtist:
		if cmp := coll.CompareString(left.Artist, right.Artist); cmp != 0 {
			return cmp
		}
	case domain.SearchSortByDuration:
		if cmp := compareInt(left.DurationSeconds, right.DurationSeconds); cmp != 0 {
			return cmp
		}
	default:
		// Relevance and popularity both fall back to the confidence score.
		if cmp := compareFloat64(left.Confidence, right.Confidence); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func compareInt(left, right int) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

func compareFloat64(left, right float64) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}
