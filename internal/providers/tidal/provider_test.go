package tidal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/endpoint"
)

const searchBody = `{
	"items": [
		{
			"id": 7001,
			"title": "Lossless Song",
			"artist": {"name": "Tidal Artist"},
			"album": {"title": "Tidal Album", "cover": "aa-bb-cc"},
			"duration": 312
		},
		{
			"id": 7002,
			"title": "Broken Song",
			"artist": {"name": "Tidal Artist"},
			"duration": 200
		}
	]
}`

func trackBody(id int) string {
	return fmt.Sprintf(`[
		{"id": %d, "title": "Lossless Song", "duration": 312},
		{"OriginalTrackUrl": "https://stream.example/%d.flac"}
	]`, id, id)
}

func newTestProvider(t *testing.T, handler http.Handler) (*Provider, *endpoint.Registry) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	registry := endpoint.NewRegistry("tidal", []endpoint.Endpoint{
		{ID: "test", BaseURL: server.URL},
	})
	return NewProvider(Config{Registry: registry, Client: server.Client()}), registry
}

func TestSearchResolvesStreamURLsAndDropsFailures(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/search/"):
			w.Write([]byte(searchBody))
		case strings.HasPrefix(r.URL.Path, "/track/"):
			id := r.URL.Query().Get("id")
			if id == "7002" {
				http.Error(w, "no such track", http.StatusNotFound)
				return
			}
			w.Write([]byte(trackBody(7001)))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))

	tracks, err := provider.Search(context.Background(), "lossless song", 10)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected the unresolvable candidate to be dropped, got %d tracks", len(tracks))
	}

	track := tracks[0]
	if track.ID != "tidal_7001" {
		t.Fatalf("expected numeric id to be stringified and prefixed, got %q", track.ID)
	}
	if track.AudioURL != "https://stream.example/7001.flac" {
		t.Fatalf("expected resolved stream url, got %q", track.AudioURL)
	}
	if track.Artist != "Tidal Artist" || track.Album != "Tidal Album" {
		t.Fatalf("unexpected artist/album: %q / %q", track.Artist, track.Album)
	}
	if track.ImageURL != "https://resources.tidal.com/images/aa/bb/cc/640x640.jpg" {
		t.Fatalf("expected expanded cover url, got %q", track.ImageURL)
	}
	if !track.Lossless() {
		t.Fatal("tidal tracks must report lossless")
	}
}

func TestSearchEmptyResults(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items": []}`))
	}))

	tracks, err := provider.Search(context.Background(), "nothing", 10)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(tracks) != 0 {
		t.Fatalf("expected empty result set, got %d", len(tracks))
	}
}

func TestSearchNestedDataShape(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/search/"):
			w.Write([]byte(`{"data": {"items": [
				{"id": 7001, "title": "Nested Song", "artist": {"name": "A"}, "duration": 100}
			]}}`))
		case strings.HasPrefix(r.URL.Path, "/track/"):
			w.Write([]byte(trackBody(7001)))
		}
	}))

	tracks, err := provider.Search(context.Background(), "nested", 10)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Title != "Nested Song" {
		t.Fatalf("expected the nested shape to parse, got %#v", tracks)
	}
}

func TestResolveTrack(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("quality"); got != "LOSSLESS" {
			t.Errorf("expected default LOSSLESS quality, got %q", got)
		}
		w.Write([]byte(trackBody(7001)))
	}))

	track, err := provider.ResolveTrack(context.Background(), "7001")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if track.AudioURL != "https://stream.example/7001.flac" {
		t.Fatalf("unexpected stream url %q", track.AudioURL)
	}
}

func TestResolveTrackNoStreamURL(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 7001, "title": "No URL Song"}]`))
	}))

	if _, err := provider.ResolveTrack(context.Background(), "7001"); err == nil {
		t.Fatal("expected error when the payload carries no stream url")
	}
}

func TestLyricsPrefersSubtitles(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lyrics": "plain text", "subtitles": "[00:01.00] synced line"}`))
	}))

	lyrics, err := provider.Lyrics(context.Background(), "7001")
	if err != nil {
		t.Fatalf("lyrics error: %v", err)
	}
	if !lyrics.Synced || lyrics.Body != "[00:01.00] synced line" {
		t.Fatalf("expected synced subtitles to win, got %#v", lyrics)
	}
	if lyrics.Source != domain.SourceTidal {
		t.Fatalf("unexpected source %q", lyrics.Source)
	}
}

func TestCover(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/cover/") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`[{"url": "https://img.example/cover.jpg"}]`))
	}))

	cover, err := provider.Cover(context.Background(), "some album")
	if err != nil {
		t.Fatalf("cover error: %v", err)
	}
	if cover != "https://img.example/cover.jpg" {
		t.Fatalf("unexpected cover url %q", cover)
	}
}

func TestCoverMissing(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	if _, err := provider.Cover(context.Background(), "unknown"); err == nil {
		t.Fatal("expected error when no cover exists")
	}
}

func TestParseTrackPayloadShapes(t *testing.T) {
	meta, streamURL := parseTrackPayload([]byte(`{
		"data": [
			{"id": 1, "title": "Object Shape"},
			{"urls": ["https://stream.example/a.flac"]}
		]
	}`))
	if meta == nil || meta["title"] != "Object Shape" {
		t.Fatalf("expected metadata from the data wrapper, got %#v", meta)
	}
	if streamURL != "https://stream.example/a.flac" {
		t.Fatalf("expected url from the urls array, got %q", streamURL)
	}

	if meta, _ := parseTrackPayload([]byte(`not json`)); meta != nil {
		t.Fatal("garbage payload must yield nil metadata")
	}
}
