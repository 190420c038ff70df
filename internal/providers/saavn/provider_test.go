package saavn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"melostream/searchservice/internal/domain"
	"melostream/searchservice/internal/endpoint"
)

const searchBody = `{
	"data": {
		"results": [
			{
				"id": "abc123",
				"name": "Test Song &amp; More",
				"primaryArtists": "Test Artist",
				"album": {"name": "Test Album"},
				"duration": "245",
				"image": [
					{"quality": "50x50", "link": "https://img.example/small.jpg"},
					{"quality": "500x500", "link": "https://img.example/large.jpg"}
				],
				"downloadUrl": [
					{"quality": "96kbps", "link": "https://audio.example/low.mp4"},
					{"quality": "320kbps", "link": "https://audio.example/high.mp4"}
				]
			},
			{
				"id": "",
				"name": "No ID",
				"downloadUrl": "https://audio.example/x.mp4"
			},
			{
				"id": "noaudio",
				"name": "No Audio"
			}
		]
	}
}`

func newTestProvider(t *testing.T, handler http.Handler) (*Provider, *endpoint.Registry) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	registry := endpoint.NewRegistry("saavn", []endpoint.Endpoint{
		{ID: "test", BaseURL: server.URL},
	})
	return NewProvider(Config{Registry: registry, Client: server.Client()}), registry
}

func TestSearchParsesAndFiltersRows(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/songs" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "test song" {
			t.Errorf("unexpected query %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchBody))
	}))

	tracks, err := provider.Search(context.Background(), "test song", 20)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected rows without id or audio to be dropped, got %d tracks", len(tracks))
	}

	track := tracks[0]
	if track.ID != "saavn_abc123" {
		t.Fatalf("expected source-prefixed id, got %q", track.ID)
	}
	if track.Title != `Test Song & More` {
		t.Fatalf("expected entity-decoded title, got %q", track.Title)
	}
	if track.Artist != "Test Artist" || track.Album != "Test Album" {
		t.Fatalf("unexpected artist/album: %q / %q", track.Artist, track.Album)
	}
	if track.DurationSeconds != 245 {
		t.Fatalf("expected duration 245, got %d", track.DurationSeconds)
	}
	if track.AudioURL != "https://audio.example/high.mp4" {
		t.Fatalf("expected preferred 320kbps url, got %q", track.AudioURL)
	}
	if track.ImageURL != "https://img.example/large.jpg" {
		t.Fatalf("expected largest image variant, got %q", track.ImageURL)
	}
	if track.Source != domain.SourceSaavn || track.Lossless() {
		t.Fatalf("unexpected source flags: %#v", track)
	}
}

func TestSearchMalformedBodyFails(t *testing.T) {
	provider, registry := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))

	_, err := provider.Search(context.Background(), "test", 10)
	var exhausted *endpoint.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected endpoint exhaustion on garbage body, got %v", err)
	}
	if registry.ConsecutiveFailures("test") != 1 {
		t.Fatalf("expected the failure to be recorded, got %d", registry.ConsecutiveFailures("test"))
	}
}

func TestSearchServerErrorFails(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	if _, err := provider.Search(context.Background(), "test", 10); err == nil {
		t.Fatal("expected error on HTTP 502")
	}
}

func TestSearchFailsOverBetweenEndpoints(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchBody))
	}))
	t.Cleanup(good.Close)

	registry := endpoint.NewRegistry("saavn", []endpoint.Endpoint{
		{ID: "bad", BaseURL: bad.URL},
		{ID: "good", BaseURL: good.URL},
	})
	provider := NewProvider(Config{Registry: registry})

	tracks, err := provider.Search(context.Background(), "test", 10)
	if err != nil {
		t.Fatalf("expected failover to succeed: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected results from the healthy endpoint, got %d", len(tracks))
	}
	if registry.ConsecutiveFailures("bad") != 1 {
		t.Fatalf("expected one recorded failure on the bad endpoint, got %d",
			registry.ConsecutiveFailures("bad"))
	}
	current, _ := registry.Current()
	if current.ID != "good" {
		t.Fatalf("expected the healthy endpoint to become current, got %q", current.ID)
	}
}

func TestResolveTrack(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/songs/abc123" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"data": [{
			"id": "abc123",
			"name": "Resolved Song",
			"primaryArtists": "Someone",
			"downloadUrl": [{"quality": "320kbps", "link": "https://audio.example/a.mp4"}]
		}]}`))
	}))

	track, err := provider.ResolveTrack(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if track.Title != "Resolved Song" {
		t.Fatalf("unexpected track: %#v", track)
	}
}

func TestResolveTrackEmptyID(t *testing.T) {
	provider, _ := newTestProvider(t, http.NotFoundHandler())
	if _, err := provider.ResolveTrack(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestLyrics(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "abc123" {
			t.Errorf("unexpected id %q", got)
		}
		w.Write([]byte(`{"data": {"lyrics": "[00:01] la la la"}}`))
	}))

	lyrics, err := provider.Lyrics(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("lyrics error: %v", err)
	}
	if lyrics.Body != "[00:01] la la la" || !lyrics.Synced {
		t.Fatalf("unexpected lyrics: %#v", lyrics)
	}
}

func TestLyricsMissing(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"lyrics": ""}}`))
	}))

	if _, err := provider.Lyrics(context.Background(), "abc123"); err == nil {
		t.Fatal("expected error when no lyrics exist")
	}
}
