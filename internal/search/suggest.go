package search

import "strings"

const maxSuggestions = 8

// popularTerms seeds suggestions before the user has any history. Loosely
// the evergreen top of the charts; order matters, earlier wins.
var popularTerms = []string{
	"the weeknd",
	"taylor swift",
	"drake",
	"billie eilish",
	"kendrick lamar",
	"daft punk",
	"radiohead",
	"pink floyd",
}

// Suggestions returns completions for a partial query: recent history
// entries first, then popular terms, deduplicated case-insensitively.
func (s *Service) Suggestions(partial string) []string {
	prefix := strings.ToLower(strings.TrimSpace(partial))

	seen := make(map[string]struct{}, maxSuggestions)
	items := make([]string, 0, maxSuggestions)
	add := func(candidate string) {
		if len(items) >= maxSuggestions {
			return
		}
		key := strings.ToLower(strings.TrimSpace(candidate))
		if key == "" {
			return
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		items = append(items, strings.TrimSpace(candidate))
	}

	for _, item := range s.history.Items() {
		add(item)
	}
	for _, term := range popularTerms {
		add(term)
	}
	return items
}
