package search

import (
	"testing"

	"melostream/searchservice/internal/domain"
)

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Test Song", "test song"},
		{"  test   SONG!  ", "test song"},
		{"Don't Stop (Remix)", "don t stop remix"},
		{"", ""},
		{"...", ""},
	}
	for _, tc := range cases {
		if got := normalizeText(tc.in); got != tc.want {
			t.Fatalf("normalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDedupeKeyCollapsesVariants(t *testing.T) {
	a := domain.Track{Title: "Test Song", Artist: "Test Artist"}
	b := domain.Track{Title: "test   song!", Artist: "TEST ARTIST"}
	if dedupeKey(a) != dedupeKey(b) {
		t.Fatalf("expected matching keys: %q vs %q", dedupeKey(a), dedupeKey(b))
	}

	c := domain.Track{Title: "Test Song", Artist: "Other Artist"}
	if dedupeKey(a) == dedupeKey(c) {
		t.Fatal("different artists must not collide")
	}
}

func TestScoreTrackExactBeatsContains(t *testing.T) {
	weights := DefaultScoringWeights()
	query := normalizeText("Test Song")

	exact := scoreTrack(weights, query, domain.Track{Title: "Test Song"}, 0, 1)
	contains := scoreTrack(weights, query, domain.Track{Title: "Test Song Remix"}, 0, 1)
	if exact <= contains {
		t.Fatalf("exact title must outrank substring match: %f vs %f", exact, contains)
	}
}

func TestScoreTrackArtistBonus(t *testing.T) {
	weights := DefaultScoringWeights()
	query := normalizeText("test artist")

	without := scoreTrack(weights, query, domain.Track{Title: "Song", Artist: "Someone"}, 0, 1)
	with := scoreTrack(weights, query, domain.Track{Title: "Song", Artist: "Test Artist"}, 0, 1)
	if with-without < weights.ArtistContains-0.001 {
		t.Fatalf("expected artist bonus of %f, got delta %f", weights.ArtistContains, with-without)
	}
}

func TestScoreTrackPositionDecay(t *testing.T) {
	weights := DefaultScoringWeights()
	query := normalizeText("song")

	first := scoreTrack(weights, query, domain.Track{Title: "Song"}, 0, 10)
	last := scoreTrack(weights, query, domain.Track{Title: "Song"}, 9, 10)
	if first <= last {
		t.Fatalf("earlier positions must score higher: %f vs %f", first, last)
	}
}

func TestScoreTrackLosslessBonus(t *testing.T) {
	weights := DefaultScoringWeights()
	query := normalizeText("song")

	lossy := scoreTrack(weights, query, domain.Track{Title: "Song", Source: domain.SourceSaavn}, 0, 1)
	lossless := scoreTrack(weights, query, domain.Track{Title: "Song", Source: domain.SourceTidal}, 0, 1)
	if lossless-lossy < weights.LosslessBonus-0.001 {
		t.Fatalf("expected lossless bonus of %f, got delta %f", weights.LosslessBonus, lossless-lossy)
	}
}

func TestScoreTrackClamped(t *testing.T) {
	weights := ScoringWeights{ExactTitle: 0.9, ArtistContains: 0.9, Position: 0.9, LosslessBonus: 0.9}
	query := normalizeText("test artist song")

	score := scoreTrack(weights, query, domain.Track{
		Title:  "test artist song",
		Artist: "test artist song",
		Source: domain.SourceTidal,
	}, 0, 1)
	if score > 1 {
		t.Fatalf("score must be clamped to 1, got %f", score)
	}
}
