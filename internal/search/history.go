package search

import (
	"encoding/json"
	"strings"
	"sync"

	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/kv"
)

const (
	defaultHistoryCapacity = 20

	historyStoreKey = "search:history"
	filtersStoreKey = "search:filters"
)

// History keeps the most recent successful queries, newest first. Repeating
// a query moves it to the front instead of duplicating it. Every mutation is
// persisted synchronously so a crash never loses more than nothing.
type History struct {
	mu       sync.Mutex
	store    kv.Store
	capacity int
	items    []string
}

func (h *History) load() {
	if h.store == nil {
		return
	}
	data, ok, err := h.store.Get(historyStoreKey)
	if err != nil || !ok {
		return
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		// Corrupt persisted state starts over empty rather than erroring.
		return
	}
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			cleaned = append(cleaned, item)
		}
	}
	if len(cleaned) > h.capacity {
		cleaned = cleaned[:h.capacity]
	}
	h.mu.Lock()
	h.items = cleaned
	h.mu.Unlock()
}

func (h *History) Add(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}

	h.mu.Lock()
	next := make([]string, 0, len(h.items)+1)
	next = append(next, query)
	for _, item := range h.items {
		if strings.EqualFold(item, query) {
			continue
		}
		next = append(next, item)
	}
	if len(next) > h.capacity {
		next = next[:h.capacity]
	}
	h.items = next
	snapshot := append([]string(nil), h.items...)
	h.mu.Unlock()

	h.persist(snapshot)
}

func (h *History) Remove(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}

	h.mu.Lock()
	next := h.items[:0]
	for _, item := range h.items {
		if strings.EqualFold(item, query) {
			continue
		}
		next = append(next, item)
	}
	h.items = next
	snapshot := append([]string(nil), h.items...)
	h.mu.Unlock()

	h.persist(snapshot)
}

func (h *History) Clear() {
	h.mu.Lock()
	h.items = nil
	h.mu.Unlock()

	h.persist([]string{})
}

func (h *History) Items() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.items...)
}

func (h *History) persist(items []string) {
	if h.store == nil {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = h.store.Set(historyStoreKey, data)
}

// History returns the recent queries, newest first.
func (s *Service) History() []string {
	return s.history.Items()
}

func (s *Service) RemoveHistory(query string) {
	s.history.Remove(query)
}

func (s *Service) ClearHistory() {
	s.history.Clear()
}

// Filters returns the persisted filter state.
func (s *Service) Filters() domain.FilterState {
	s.filtersMu.Lock()
	defer s.filtersMu.Unlock()
	return s.filters
}

// SetFilters merges a partial update into the persisted filter state and
// returns the last merged result set refiltered under the new state. No
// network traffic is involved.
func (s *Service) SetFilters(patch domain.FilterPatch) (domain.FilterState, []domain.Track) {
	s.filtersMu.Lock()
	s.filters = domain.ApplyFilterPatch(s.filters, patch)
	state := s.filters
	s.filtersMu.Unlock()

	s.saveFilters(state)
	return state, s.Refilter()
}

// Refilter re-applies the current filter state to the most recent merged
// result set.
func (s *Service) Refilter() []domain.Track {
	state := s.Filters()

	s.lastMu.Lock()
	raw := append([]domain.Track(nil), s.lastRaw...)
	s.lastMu.Unlock()

	return Process(raw, state)
}

func (s *Service) loadFilters() domain.FilterState {
	if s.store == nil {
		return domain.DefaultFilterState()
	}
	data, ok, err := s.store.Get(filtersStoreKey)
	if err != nil || !ok {
		return domain.DefaultFilterState()
	}
	var state domain.FilterState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.DefaultFilterState()
	}
	return domain.NormalizeFilterState(state)
}

func (s *Service) saveFilters(state domain.FilterState) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := s.store.Set(filtersStoreKey, data); err != nil {
		s.logger.Warn("persist filters failed", "error", err)
	}
}
