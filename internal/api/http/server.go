package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/search"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type SearchService interface {
	Search(ctx context.Context, request domain.SearchRequest, sources []string) (domain.SearchResponse, error)
	SearchStream(ctx context.Context, request domain.SearchRequest, sources []string) <-chan domain.SearchResponse
	Sources() []domain.SourceInfo
	Suggestions(partial string) []string
	History() []string
	RemoveHistory(query string)
	ClearHistory()
	ClearCache()
	Filters() domain.FilterState
	SetFilters(patch domain.FilterPatch) (domain.FilterState, []domain.Track)
	EndpointHealth() []domain.EndpointHealth
	ResetEndpointHealth()
	TestSource(ctx context.Context, sourceName string) domain.SourceStatus
	RunDiagnostics(ctx context.Context, probe func(ctx context.Context, source, baseURL string) error) []domain.EndpointProbe
	Lyrics(ctx context.Context, sourceName, nativeID string) (domain.Lyrics, error)
	ResolveTrack(ctx context.Context, sourceName, nativeID string) (domain.Track, error)
	Cover(ctx context.Context, query string) (string, error)
}

type Server struct {
	search SearchService
	client *http.Client
	logger *slog.Logger
}

const maxQueryLength = 500

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHTTPClient sets the client used for diagnostics probes and the cover
// art proxy.
func WithHTTPClient(client *http.Client) ServerOption {
	return func(s *Server) {
		if client != nil {
			s.client = client
		}
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search: searchService,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search/sources", s.handleSources)
	mux.HandleFunc("/search/sources/health", s.handleSourcesHealth)
	mux.HandleFunc("/search/sources/test", s.handleSourceTest)
	mux.HandleFunc("/search/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/search/stream", s.handleSearchStream)
	mux.HandleFunc("/search/suggest", s.handleSearchSuggest)
	mux.HandleFunc("/search/history", s.handleSearchHistory)
	mux.HandleFunc("/search/filters", s.handleSearchFilters)
	mux.HandleFunc("/search/cache", s.handleSearchCache)
	mux.HandleFunc("/search/image", s.handleImageProxy)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/tracks/resolve", s.handleTrackResolve)
	mux.HandleFunc("/tracks/lyrics", s.handleTrackLyrics)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "music-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	request, sources, ok := s.parseSearchRequest(w, r)
	if !ok {
		return
	}

	response, err := s.search.Search(r.Context(), request, sources)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(request.Query, 80)),
			slog.Any("sources", sources),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, search.ErrUnknownSource):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, search.ErrNoSources):
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		case errors.Is(err, search.ErrAllSourcesFailed):
			writeError(w, http.StatusBadGateway, "all_sources_failed", "could not reach any source")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		}
		return
	}

	failedSources := make([]string, 0, len(response.Sources))
	for _, status := range response.Sources {
		if !status.OK {
			failedSources = append(failedSources, status.Name)
		}
	}
	s.logger.Info("search completed",
		slog.String("query", truncate(request.Query, 80)),
		slog.Any("sources", sources),
		slog.Int("totalItems", response.TotalItems),
		slog.Int64("elapsedMs", response.ElapsedMS),
		slog.Int("failedSources", len(failedSources)),
	)
	if len(failedSources) > 0 {
		s.logger.Warn("search sources partially failed",
			slog.String("query", truncate(request.Query, 80)),
			slog.Any("failedSources", failedSources),
		)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	request, sources, ok := s.parseSearchRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "bootstrap", map[string]any{
		"phase":  "bootstrap",
		"final":  false,
		"query":  request.Query,
		"status": "started",
	}); err != nil {
		return // Client disconnected
	}

	ch := s.search.SearchStream(r.Context(), request, sources)
	for response := range ch {
		select {
		case <-r.Context().Done():
			return // Client disconnected
		default:
		}
		if response.Error != "" {
			_ = writeSSEEvent(w, flusher, "error", map[string]any{
				"message": response.Error,
			})
			_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true})
			return
		}
		event := "update"
		if response.Final {
			event = "final"
		}
		if err := writeSSEEvent(w, flusher, event, response); err != nil {
			return // Client disconnected
		}
	}

	_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true})
}

// parseSearchRequest reads the shared /search and /search/stream query
// parameters. Filter params patch the persisted filter state for this
// request only.
func (s *Server) parseSearchRequest(w http.ResponseWriter, r *http.Request) (domain.SearchRequest, []string, bool) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return domain.SearchRequest{}, nil, false
	}
	limit, err := parsePositiveInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return domain.SearchRequest{}, nil, false
	}

	sources := parseCSV(r.URL.Query().Get("sources"))
	noCache := parseOptionalBool(r.URL.Query().Get("nocache")) || parseOptionalBool(r.URL.Query().Get("noCache"))

	filters := domain.ApplyFilterPatch(s.search.Filters(), parseFilterPatch(r))

	return domain.SearchRequest{
		Query:      query,
		MaxResults: limit,
		NoCache:    noCache,
		Filters:    filters,
	}, sources, true
}

func (s *Server) handleSearchSuggest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/suggest" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.search.Suggestions(query),
	})
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/history" {
		http.NotFound(w, r)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"items": s.search.History(),
		})
	case http.MethodDelete:
		if query := strings.TrimSpace(r.URL.Query().Get("q")); query != "" {
			s.search.RemoveHistory(query)
		} else {
			s.search.ClearHistory()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": s.search.History(),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSearchFilters(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/filters" {
		http.NotFound(w, r)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.search.Filters())
	case http.MethodPatch:
		var payload struct {
			Source    *string `json:"source"`
			Duration  *string `json:"duration"`
			Quality   *string `json:"quality"`
			SortBy    *string `json:"sortBy"`
			SortOrder *string `json:"sortOrder"`
		}
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		state, items := s.search.SetFilters(domain.FilterPatch{
			Source:    payload.Source,
			Duration:  payload.Duration,
			Quality:   payload.Quality,
			SortBy:    payload.SortBy,
			SortOrder: payload.SortOrder,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"filters": state,
			"items":   items,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSearchCache(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/cache" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	s.search.ClearCache()
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/sources" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.search.Sources(),
	})
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/sources/health" {
		http.NotFound(w, r)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"checkedAt": time.Now().UTC(),
			"items":     s.search.EndpointHealth(),
		})
	case http.MethodDelete:
		s.search.ResetEndpointHealth()
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "reset",
			"items":  s.search.EndpointHealth(),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSourceTest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/sources/test" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	source := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))
	if source == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source is required")
		return
	}

	startedAt := time.Now()
	status := s.search.TestSource(r.Context(), source)
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    source,
		"ok":        status.OK,
		"count":     status.Count,
		"elapsedMs": time.Since(startedAt).Milliseconds(),
		"error":     status.Error,
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/diagnostics" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	probes := s.search.RunDiagnostics(r.Context(), s.probeEndpoint)
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     probes,
	})
}

// probeEndpoint issues a lightweight GET against an endpoint's base URL. Any
// answer below 500 counts as reachable; redirects and auth walls still mean
// the host is up.
func (s *Server) probeEndpoint(ctx context.Context, _ string, baseURL string) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (s *Server) handleTrackResolve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/tracks/resolve" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	source := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if source == "" || id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source and id are required")
		return
	}

	track, err := s.search.ResolveTrack(r.Context(), source, id)
	if err != nil {
		if errors.Is(err, search.ErrUnknownSource) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "resolve_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleTrackLyrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/tracks/lyrics" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	source := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if source == "" || id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source and id are required")
		return
	}

	lyrics, err := s.search.Lyrics(r.Context(), source, id)
	if err != nil {
		if errors.Is(err, search.ErrUnknownSource) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "lyrics_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lyrics)
}

func parseFilterPatch(r *http.Request) domain.FilterPatch {
	q := r.URL.Query()
	var patch domain.FilterPatch
	if q.Has("source") {
		value := q.Get("source")
		patch.Source = &value
	}
	if q.Has("duration") {
		value := q.Get("duration")
		patch.Duration = &value
	}
	if q.Has("quality") {
		value := q.Get("quality")
		patch.Quality = &value
	}
	if q.Has("sortBy") {
		value := q.Get("sortBy")
		patch.SortBy = &value
	}
	if q.Has("sortOrder") {
		value := q.Get("sortOrder")
		patch.SortOrder = &value
	}
	return patch
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.ToLower(strings.TrimSpace(part))
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
