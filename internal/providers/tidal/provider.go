// Package tidal adapts the unofficial Tidal-compatible catalog API. Search
// rows carry no stream URL; each candidate needs a dependent track-resolution
// call that returns a signed URL inside a heterogeneous array-or-object
// payload. Candidates whose resolution fails are dropped, not surfaced as
// errors, so one bad track never empties the result set.
package tidal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/endpoint"
	"melostream/searchservice/internal/providers/common"
)

const (
	defaultUserAgent = "melostream-search/1.0"
	defaultQuality   = "LOSSLESS"
	maxBodyBytes     = 4 * 1024 * 1024

	// maxConcurrentResolves bounds the dependent per-candidate track calls.
	maxConcurrentResolves = 4
)

type Config struct {
	Registry  *endpoint.Registry
	UserAgent string
	Quality   string
	Client    *http.Client
	Logger    *slog.Logger
}

type Provider struct {
	executor  *endpoint.Executor
	client    *http.Client
	userAgent string
	quality   string
	logger    *slog.Logger
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	quality := strings.TrimSpace(cfg.Quality)
	if quality == "" {
		quality = defaultQuality
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		executor:  endpoint.NewExecutor(cfg.Registry, logger),
		client:    client,
		userAgent: userAgent,
		quality:   quality,
		logger:    logger,
	}
}

func (p *Provider) Name() string {
	return string(domain.SourceTidal)
}

func (p *Provider) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:     p.Name(),
		Label:    "Tidal",
		Lossless: true,
		Enabled:  true,
	}
}

func (p *Provider) Registry() *endpoint.Registry {
	return p.executor.Registry()
}

func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.Track, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.searchRows(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.Track{}, nil
	}

	candidates := make([]domain.Track, 0, len(rows))
	for _, row := range rows {
		var raw map[string]any
		if err := json.Unmarshal(row, &raw); err != nil {
			continue
		}
		track, ok := p.toTrack(raw)
		if !ok {
			continue
		}
		candidates = append(candidates, track)
		if len(candidates) >= limit {
			break
		}
	}

	// Resolve stream URLs concurrently, bounded. Order is preserved; the
	// position in the source's own list feeds the ranking engine.
	sem := semaphore.NewWeighted(maxConcurrentResolves)
	var wg sync.WaitGroup
	resolved := make([]string, len(candidates))
	for i := range candidates {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			nativeID := strings.TrimPrefix(candidates[index].ID, p.Name()+"_")
			streamURL, err := p.resolveStreamURL(ctx, nativeID)
			if err != nil {
				p.logger.Debug("tidal candidate dropped: stream resolution failed",
					slog.String("id", nativeID),
					slog.String("error", err.Error()),
				)
				return
			}
			resolved[index] = streamURL
		}(i)
	}
	wg.Wait()

	tracks := make([]domain.Track, 0, len(candidates))
	for i, track := range candidates {
		if resolved[i] == "" {
			continue
		}
		track.AudioURL = resolved[i]
		tracks = append(tracks, track)
	}
	return tracks, nil
}

func (p *Provider) ResolveTrack(ctx context.Context, nativeID string) (domain.Track, error) {
	nativeID = strings.TrimSpace(nativeID)
	if nativeID == "" {
		return domain.Track{}, fmt.Errorf("track id is required")
	}

	var payload json.RawMessage
	err := p.executor.Do(ctx, endpoint.OpTrack, func(ctx context.Context, ep endpoint.Endpoint) error {
		target := strings.TrimRight(ep.BaseURL, "/") + "/track/?id=" + url.QueryEscape(nativeID) +
			"&quality=" + url.QueryEscape(p.quality)
		return p.getJSON(ctx, target, &payload)
	})
	if err != nil {
		return domain.Track{}, err
	}

	meta, streamURL := parseTrackPayload(payload)
	if meta == nil {
		return domain.Track{}, fmt.Errorf("track %s not found", nativeID)
	}
	track, ok := p.toTrack(meta)
	if !ok {
		return domain.Track{}, fmt.Errorf("track %s has no usable metadata", nativeID)
	}
	if streamURL == "" {
		return domain.Track{}, fmt.Errorf("track %s has no stream url", nativeID)
	}
	track.AudioURL = streamURL
	return track, nil
}

func (p *Provider) Lyrics(ctx context.Context, nativeID string) (domain.Lyrics, error) {
	nativeID = strings.TrimSpace(nativeID)
	if nativeID == "" {
		return domain.Lyrics{}, fmt.Errorf("track id is required")
	}

	var payload struct {
		Lyrics    string `json:"lyrics"`
		Subtitles string `json:"subtitles"`
	}
	err := p.executor.Do(ctx, endpoint.OpLyrics, func(ctx context.Context, ep endpoint.Endpoint) error {
		target := strings.TrimRight(ep.BaseURL, "/") + "/lyrics/?id=" + url.QueryEscape(nativeID)
		return p.getJSON(ctx, target, &payload)
	})
	if err != nil {
		return domain.Lyrics{}, err
	}

	body := strings.TrimSpace(payload.Subtitles)
	synced := body != ""
	if body == "" {
		body = strings.TrimSpace(payload.Lyrics)
	}
	if body == "" {
		return domain.Lyrics{}, fmt.Errorf("no lyrics for track %s", nativeID)
	}
	return domain.Lyrics{
		TrackID: p.Name() + "_" + nativeID,
		Source:  domain.SourceTidal,
		Body:    body,
		Synced:  synced,
	}, nil
}

// Cover looks up album art by free-text query, for results that arrived
// without an embedded image.
func (p *Provider) Cover(ctx context.Context, query string) (string, error) {
	var payload json.RawMessage
	err := p.executor.Do(ctx, endpoint.OpCover, func(ctx context.Context, ep endpoint.Endpoint) error {
		target := strings.TrimRight(ep.BaseURL, "/") + "/cover/?q=" + url.QueryEscape(strings.TrimSpace(query))
		return p.getJSON(ctx, target, &payload)
	})
	if err != nil {
		return "", err
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("tidal malformed cover response: %w", err)
	}
	if link := common.ImageURL(decoded); link != "" {
		return link, nil
	}
	return "", fmt.Errorf("no cover for %q", query)
}

func (p *Provider) searchRows(ctx context.Context, query string, limit int) ([]json.RawMessage, error) {
	var payload json.RawMessage
	err := p.executor.Do(ctx, endpoint.OpSearch, func(ctx context.Context, ep endpoint.Endpoint) error {
		target := fmt.Sprintf("%s/search/?s=%s&limit=%d",
			strings.TrimRight(ep.BaseURL, "/"), url.QueryEscape(strings.TrimSpace(query)), limit)
		return p.getJSON(ctx, target, &payload)
	})
	if err != nil {
		return nil, err
	}

	// Items arrive either at the top level or nested under data.
	var direct struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(payload, &direct); err == nil && len(direct.Items) > 0 {
		return direct.Items, nil
	}
	var nested struct {
		Data struct {
			Items []json.RawMessage `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &nested); err == nil {
		return nested.Data.Items, nil
	}
	return nil, nil
}

// resolveStreamURL performs the dependent track call for one candidate with
// its own resilience wrapper.
func (p *Provider) resolveStreamURL(ctx context.Context, nativeID string) (string, error) {
	var payload json.RawMessage
	err := p.executor.Do(ctx, endpoint.OpTrack, func(ctx context.Context, ep endpoint.Endpoint) error {
		target := strings.TrimRight(ep.BaseURL, "/") + "/track/?id=" + url.QueryEscape(nativeID) +
			"&quality=" + url.QueryEscape(p.quality)
		return p.getJSON(ctx, target, &payload)
	})
	if err != nil {
		return "", err
	}
	_, streamURL := parseTrackPayload(payload)
	if streamURL == "" {
		return "", fmt.Errorf("no stream url in track response")
	}
	return streamURL, nil
}

// parseTrackPayload digs track metadata and a signed stream URL out of the
// track endpoint's response, which is sometimes a bare object and sometimes
// an array mixing metadata and URL-bearing objects.
func parseTrackPayload(payload json.RawMessage) (map[string]any, string) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, ""
	}

	var meta map[string]any
	var streamURL string
	var walk func(value any)
	walk = func(value any) {
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				walk(item)
			}
		case map[string]any:
			if inner, ok := v["data"]; ok {
				walk(inner)
			}
			if meta == nil {
				if _, hasTitle := v["title"]; hasTitle {
					meta = v
				}
			}
			if streamURL == "" {
				for _, field := range []string{"OriginalTrackUrl", "originalTrackUrl", "url"} {
					if link := common.StringField(v, field); strings.HasPrefix(link, "http") {
						streamURL = link
						break
					}
				}
			}
			if streamURL == "" {
				if urls, ok := v["urls"].([]any); ok && len(urls) > 0 {
					if link, ok := urls[0].(string); ok && strings.HasPrefix(link, "http") {
						streamURL = link
					}
				}
			}
		}
	}
	walk(decoded)
	return meta, streamURL
}

func (p *Provider) toTrack(raw map[string]any) (domain.Track, bool) {
	nativeID := common.StringField(raw, "id")
	if nativeID == "" {
		// Numeric ids decode as float64.
		if idNum, ok := raw["id"].(float64); ok {
			nativeID = fmt.Sprintf("%.0f", idNum)
		}
	}
	title := common.DecodeEntities(common.StringField(raw, "title"))
	if nativeID == "" || title == "" {
		return domain.Track{}, false
	}

	album := ""
	imageURL := ""
	if albumRaw, ok := raw["album"].(map[string]any); ok {
		album = common.DecodeEntities(common.StringField(albumRaw, "title"))
		imageURL = coverURL(common.StringField(albumRaw, "cover"))
	}
	if imageURL == "" {
		imageURL = common.ImageURL(raw["image"])
	}

	return domain.Track{
		ID:              p.Name() + "_" + nativeID,
		Title:           title,
		Artist:          common.ArtistName(raw, "artist"),
		Album:           album,
		DurationSeconds: common.DurationSeconds(raw["duration"]),
		Source:          domain.SourceTidal,
		ImageURL:        imageURL,
		Raw:             raw,
	}, true
}

// coverURL expands Tidal's dash-separated cover id into the public image CDN
// path.
func coverURL(coverID string) string {
	coverID = strings.TrimSpace(coverID)
	if coverID == "" {
		return ""
	}
	if strings.HasPrefix(coverID, "http") {
		return coverID
	}
	return "https://resources.tidal.com/images/" + strings.ReplaceAll(coverID, "-", "/") + "/640x640.jpg"
}

func (p *Provider) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("tidal HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("tidal malformed response: %w", err)
	}
	return nil
}
