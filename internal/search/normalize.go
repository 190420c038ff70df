package search

import (
	"strings"
	"unicode"

	"melostream/searchservice/internal/domain"
)

// normalizeText lowercases, strips punctuation, and collapses internal
// whitespace to single spaces. Dedupe keys and confidence matching both run
// on this form so "Test Song" and "test   song!" compare equal.
func normalizeText(raw string) string {
	var builder strings.Builder
	builder.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			builder.WriteRune(r)
		case unicode.IsSpace(r):
			builder.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(builder.String()), " ")
}

// dedupeKey identifies near-identical tracks across sources.
func dedupeKey(track domain.Track) string {
	return normalizeText(track.Title) + "_" + normalizeText(track.Artist)
}

// scoreTrack computes the confidence for one result:
// exact-title match outweighs substring match, an artist hit adds a fixed
// bonus, earlier positions in the source's own list score higher, and the
// lossless-capable source gets a small documented preference. Clamped to
// [0, 1].
func scoreTrack(weights ScoringWeights, normalizedQuery string, track domain.Track, rank, total int) float64 {
	score := 0.0

	title := normalizeText(track.Title)
	switch {
	case title == normalizedQuery:
		score += weights.ExactTitle
	case normalizedQuery != "" && strings.Contains(title, normalizedQuery):
		score += weights.TitleContains
	}

	if normalizedQuery != "" && strings.Contains(normalizeText(track.Artist), normalizedQuery) {
		score += weights.ArtistContains
	}

	if total > 0 && rank >= 0 && rank < total {
		score += weights.Position * float64(total-rank) / float64(total)
	}

	if track.Lossless() {
		score += weights.LosslessBonus
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
