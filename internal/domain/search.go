package domain

import "time"

// Source identifies one of the upstream music catalogs.
type Source string

const (
	SourceSaavn Source = "saavn"
	SourceTidal Source = "tidal"
)

// LosslessSource is the catalog known to serve lossless audio. The quality
// filter and the ranking source bonus both key off it.
const LosslessSource = SourceTidal

func NormalizeSource(raw string) Source {
	switch Source(raw) {
	case SourceSaavn:
		return SourceSaavn
	case SourceTidal:
		return SourceTidal
	default:
		return ""
	}
}

type SearchSortBy string

const (
	SearchSortByRelevance  SearchSortBy = "relevance"
	SearchSortByTitle      SearchSortBy = "title"
	SearchSortByArtist     SearchSortBy = "artist"
	SearchSortByDuration   SearchSortBy = "duration"
	SearchSortByPopularity SearchSortBy = "popularity"
)

type SearchSortOrder string

const (
	SearchSortOrderAsc  SearchSortOrder = "asc"
	SearchSortOrderDesc SearchSortOrder = "desc"
)

type SourceFilter string

const (
	SourceFilterAll   SourceFilter = "all"
	SourceFilterSaavn SourceFilter = "saavn"
	SourceFilterTidal SourceFilter = "tidal"
)

type DurationFilter string

const (
	DurationFilterAny    DurationFilter = "any"
	DurationFilterShort  DurationFilter = "short"  // < 180s
	DurationFilterMedium DurationFilter = "medium" // 180s..299s
	DurationFilterLong   DurationFilter = "long"   // >= 300s
)

type QualityFilter string

const (
	QualityFilterAny      QualityFilter = "any"
	QualityFilterHigh     QualityFilter = "high"
	QualityFilterLossless QualityFilter = "lossless"
)

// FilterState holds the user-selected narrowing and ordering criteria.
// Every field always carries one of its enumerated values; unrecognized
// persisted or query-string input is coerced to the default, never rejected.
type FilterState struct {
	Source    SourceFilter    `json:"source"`
	Duration  DurationFilter  `json:"duration"`
	Quality   QualityFilter   `json:"quality"`
	SortBy    SearchSortBy    `json:"sortBy"`
	SortOrder SearchSortOrder `json:"sortOrder"`
}

// FilterPatch is a partial FilterState update; nil fields keep current values.
type FilterPatch struct {
	Source    *string `json:"source,omitempty"`
	Duration  *string `json:"duration,omitempty"`
	Quality   *string `json:"quality,omitempty"`
	SortBy    *string `json:"sortBy,omitempty"`
	SortOrder *string `json:"sortOrder,omitempty"`
}

func DefaultFilterState() FilterState {
	return FilterState{
		Source:    SourceFilterAll,
		Duration:  DurationFilterAny,
		Quality:   QualityFilterAny,
		SortBy:    SearchSortByRelevance,
		SortOrder: SearchSortOrderDesc,
	}
}

func NormalizeSortBy(raw string) SearchSortBy {
	switch SearchSortBy(raw) {
	case SearchSortByTitle:
		return SearchSortByTitle
	case SearchSortByArtist:
		return SearchSortByArtist
	case SearchSortByDuration:
		return SearchSortByDuration
	case SearchSortByPopularity:
		return SearchSortByPopularity
	default:
		return SearchSortByRelevance
	}
}

func NormalizeSortOrder(raw string) SearchSortOrder {
	switch SearchSortOrder(raw) {
	case SearchSortOrderAsc:
		return SearchSortOrderAsc
	default:
		return SearchSortOrderDesc
	}
}

func NormalizeSourceFilter(raw string) SourceFilter {
	switch SourceFilter(raw) {
	case SourceFilterSaavn:
		return SourceFilterSaavn
	case SourceFilterTidal:
		return SourceFilterTidal
	default:
		return SourceFilterAll
	}
}

func NormalizeDurationFilter(raw string) DurationFilter {
	switch DurationFilter(raw) {
	case DurationFilterShort:
		return DurationFilterShort
	case DurationFilterMedium:
		return DurationFilterMedium
	case DurationFilterLong:
		return DurationFilterLong
	default:
		return DurationFilterAny
	}
}

func NormalizeQualityFilter(raw string) QualityFilter {
	switch QualityFilter(raw) {
	case QualityFilterHigh:
		return QualityFilterHigh
	case QualityFilterLossless:
		return QualityFilterLossless
	default:
		return QualityFilterAny
	}
}

// NormalizeFilterState coerces every field of a possibly-invalid FilterState
// (e.g. loaded from persisted storage) back onto its enumerated values.
func NormalizeFilterState(state FilterState) FilterState {
	return FilterState{
		Source:    NormalizeSourceFilter(string(state.Source)),
		Duration:  NormalizeDurationFilter(string(state.Duration)),
		Quality:   NormalizeQualityFilter(string(state.Quality)),
		SortBy:    NormalizeSortBy(string(state.SortBy)),
		SortOrder: NormalizeSortOrder(string(state.SortOrder)),
	}
}

// ApplyFilterPatch merges a partial update into a FilterState, coercing each
// supplied field onto its enumerated values.
func ApplyFilterPatch(state FilterState, patch FilterPatch) FilterState {
	if patch.Source != nil {
		state.Source = NormalizeSourceFilter(*patch.Source)
	}
	if patch.Duration != nil {
		state.Duration = NormalizeDurationFilter(*patch.Duration)
	}
	if patch.Quality != nil {
		state.Quality = NormalizeQualityFilter(*patch.Quality)
	}
	if patch.SortBy != nil {
		state.SortBy = NormalizeSortBy(*patch.SortBy)
	}
	if patch.SortOrder != nil {
		state.SortOrder = NormalizeSortOrder(*patch.SortOrder)
	}
	return state
}

// Track is the canonical normalized search hit. Constructed once by a source
// adapter and replaced, never patched, downstream.
type Track struct {
	// ID is globally unique via source-prefixing: "{source}_{nativeId}".
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Artist          string         `json:"artist"`
	Album           string         `json:"album,omitempty"`
	DurationSeconds int            `json:"durationSeconds,omitempty"`
	Source          Source         `json:"source"`
	ImageURL        string         `json:"imageUrl,omitempty"`
	AudioURL        string         `json:"audioUrl,omitempty"`
	Confidence      float64        `json:"confidence"`
	Raw             map[string]any `json:"raw,omitempty"`
}

// Lossless reports whether the track comes from the lossless-capable catalog.
func (t Track) Lossless() bool {
	return t.Source == LosslessSource
}

type Lyrics struct {
	TrackID string `json:"trackId"`
	Source  Source `json:"source"`
	Body    string `json:"body"`
	Synced  bool   `json:"synced"`
}

type SearchRequest struct {
	Query      string
	MaxResults int
	NoCache    bool
	Filters    FilterState
}

type SourceStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

type SearchResponse struct {
	Query         string         `json:"query"`
	Items         []Track        `json:"items"`
	Sources       []SourceStatus `json:"sources"`
	TotalItems    int            `json:"totalItems"`
	FilteredItems int            `json:"filteredItems"`
	ElapsedMS     int64          `json:"elapsedMs"`
	Final         bool           `json:"final"`
	Phase         string         `json:"phase,omitempty"`
	Error         string         `json:"error,omitempty"`
}

type SourceInfo struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Lossless bool   `json:"lossless"`
	Enabled  bool   `json:"enabled"`
}

// EndpointHealth is one endpoint's resilience snapshot as exposed to the
// operator-facing health panel.
type EndpointHealth struct {
	Source              string     `json:"source"`
	Endpoint            string     `json:"endpoint"`
	Mode                string     `json:"mode"`
	Healthy             bool       `json:"healthy"`
	Current             bool       `json:"current"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
}

// EndpointProbe is the outcome of actively probing one endpoint during
// diagnostics.
type EndpointProbe struct {
	Source    string `json:"source"`
	Endpoint  string `json:"endpoint"`
	OK        bool   `json:"ok"`
	ElapsedMS int64  `json:"elapsedMs"`
	Error     string `json:"error,omitempty"`
}
