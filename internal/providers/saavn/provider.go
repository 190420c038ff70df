// Package saavn adapts the unofficial JioSaavn-compatible catalog API to the
// normalized track model. Search responses embed quality-annotated download
// URLs, so no second resolution call is needed per candidate.
package saavn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/endpoint"
	"melostream/searchservice/internal/providers/common"
)

const (
	defaultUserAgent = "melostream-search/1.0"
	preferredQuality = "320kbps"
	maxBodyBytes     = 4 * 1024 * 1024
)

type Config struct {
	Registry  *endpoint.Registry
	UserAgent string
	Client    *http.Client
	Logger    *slog.Logger
}

type Provider struct {
	executor  *endpoint.Executor
	client    *http.Client
	userAgent string
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
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		executor:  endpoint.NewExecutor(cfg.Registry, logger),
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}
}

func (p *Provider) Name() string {
	return string(domain.SourceSaavn)
}

func (p *Provider) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:     p.Name(),
		Label:    "JioSaavn",
		Lossless: false,
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

	var payload struct {
		Data struct {
			Results []json.RawMessage `json:"results"`
		} `json:"data"`
		Results []json.RawMessage `json:"results"`
	}
	err := p.executor.Do(ctx, endpoint.OpSearch, func(ctx context.Context, ep endpoint.Endpoint) error {
		target := fmt.Sprintf("%s/search/songs?query=%s&limit=%d",
			strings.TrimRight(ep.BaseURL, "/"), url.QueryEscape(strings.TrimSpace(query)), limit)
		return p.getJSON(ctx, target, &payload)
	})
	if err != nil {
		return nil, err
	}

	rows := payload.Data.Results
	if len(rows) == 0 {
		rows = payload.Results
	}
	tracks := make([]domain.Track, 0, len(rows))
	for _, row := range rows {
		track, ok := p.toTrack(row)
		if !ok {
			continue
		}
		tracks = append(tracks, track)
		if len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

func (p *Provider) ResolveTrack(ctx context.Context, nativeID string) (domain.Track, error) {
	nativeID = strings.TrimSpace(nativeID)
	if nativeID == "" {
		return domain.Track{}, fmt.Errorf("track id is required")
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	err := p.executor.Do(ctx, endpoint.OpTrack, func(ctx context.Context, ep endpoint.Endpoint) error {
		target := strings.TrimRight(ep.BaseURL, "/") + "/songs/" + url.PathEscape(nativeID)
		return p.getJSON(ctx, target, &payload)
	})
	if err != nil {
		return domain.Track{}, err
	}
	for _, row := range payload.Data {
		if track, ok := p.toTrack(row); ok {
			return track, nil
		}
	}
	return domain.Track{}, fmt.Errorf("track %s not found", nativeID)
}

func (p *Provider) Lyrics(ctx context.Context, nativeID string) (domain.Lyrics, error) {
	nativeID = strings.TrimSpace(nativeID)
	if nativeID == "" {
		return domain.Lyrics{}, fmt.Errorf("track id is required")
	}

	var payload struct {
		Data struct {
			Lyrics  string `json:"lyrics"`
			Snippet string `json:"snippet"`
		} `json:"data"`
	}
	err := p.executor.Do(ctx, endpoint.OpLyrics, func(ctx context.Context, ep endpoint.Endpoint) error {
		target := strings.TrimRight(ep.BaseURL, "/") + "/lyrics?id=" + url.QueryEscape(nativeID)
		return p.getJSON(ctx, target, &payload)
	})
	if err != nil {
		return domain.Lyrics{}, err
	}
	body := strings.TrimSpace(payload.Data.Lyrics)
	if body == "" {
		body = strings.TrimSpace(payload.Data.Snippet)
	}
	if body == "" {
		return domain.Lyrics{}, fmt.Errorf("no lyrics for track %s", nativeID)
	}
	return domain.Lyrics{
		TrackID: p.Name() + "_" + nativeID,
		Source:  domain.SourceSaavn,
		Body:    body,
		Synced:  strings.Contains(body, "["),
	}, nil
}

// toTrack maps one raw result row to the normalized model. Rows without an id,
// title, or resolvable audio URL are dropped silently: partial results are
// still useful and a malformed row is not worth failing the batch for.
func (p *Provider) toTrack(row json.RawMessage) (domain.Track, bool) {
	var raw map[string]any
	if err := json.Unmarshal(row, &raw); err != nil {
		return domain.Track{}, false
	}

	nativeID := common.StringField(raw, "id")
	title := common.DecodeEntities(common.StringField(raw, "name"))
	if title == "" {
		title = common.DecodeEntities(common.StringField(raw, "title"))
	}
	if nativeID == "" || title == "" {
		return domain.Track{}, false
	}

	audioURL := common.AudioURL(raw["downloadUrl"], preferredQuality)
	if audioURL == "" {
		audioURL = common.AudioURL(raw["media_url"], preferredQuality)
	}
	if audioURL == "" {
		p.logger.Debug("saavn row dropped: no audio url", slog.String("id", nativeID))
		return domain.Track{}, false
	}

	album := ""
	if albumRaw, ok := raw["album"].(map[string]any); ok {
		album = common.DecodeEntities(common.StringField(albumRaw, "name"))
	} else {
		album = common.DecodeEntities(common.StringField(raw, "album"))
	}

	return domain.Track{
		ID:              p.Name() + "_" + nativeID,
		Title:           title,
		Artist:          common.ArtistName(raw, "primaryArtists", "artist", "singers"),
		Album:           album,
		DurationSeconds: common.DurationSeconds(raw["duration"]),
		Source:          domain.SourceSaavn,
		ImageURL:        common.ImageURL(raw["image"]),
		AudioURL:        audioURL,
		Raw:             raw,
	}, true
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
		return fmt.Errorf("saavn HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		// A garbage body warrants failover the same as a down host.
		return fmt.Errorf("saavn malformed response: %w", err)
	}
	return nil
}
