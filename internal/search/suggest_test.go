package search

import (
	"fmt"
	"testing"
	"time"
)

func TestSuggestionsHistoryBeforePopularTerms(t *testing.T) {
	service := NewService([]Source{&fakeSource{name: "saavn"}}, time.Second)
	service.history.Add("the beatles")

	got := service.Suggestions("the")
	if len(got) < 2 {
		t.Fatalf("expected history plus popular matches, got %v", got)
	}
	if got[0] != "the beatles" {
		t.Fatalf("expected history entry first, got %q", got[0])
	}
	if got[1] != "the weeknd" {
		t.Fatalf("expected popular term second, got %q", got[1])
	}
}

func TestSuggestionsEmptyPrefixReturnsRecentAndPopular(t *testing.T) {
	service := NewService([]Source{&fakeSource{name: "saavn"}}, time.Second)
	service.history.Add("some query")

	got := service.Suggestions("")
	if len(got) == 0 || got[0] != "some query" {
		t.Fatalf("expected recent history to lead, got %v", got)
	}
	if len(got) > maxSuggestions {
		t.Fatalf("expected at most %d suggestions, got %d", maxSuggestions, len(got))
	}
}

func TestSuggestionsCapped(t *testing.T) {
	service := NewService([]Source{&fakeSource{name: "saavn"}}, time.Second)
	for i := 0; i < 15; i++ {
		service.history.Add(fmt.Sprintf("query %d", i))
	}

	if got := service.Suggestions("query"); len(got) != maxSuggestions {
		t.Fatalf("expected %d suggestions, got %d", maxSuggestions, len(got))
	}
}

func TestSuggestionsDedupesAgainstHistory(t *testing.T) {
	service := NewService([]Source{&fakeSource{name: "saavn"}}, time.Second)
	service.history.Add("Drake")

	got := service.Suggestions("dra")
	if len(got) != 1 {
		t.Fatalf("expected the popular term to be deduped against history, got %v", got)
	}
}

func TestSuggestionsNoMatch(t *testing.T) {
	service := NewService([]Source{&fakeSource{name: "saavn"}}, time.Second)

	if got := service.Suggestions("zzzzzz"); len(got) != 0 {
		t.Fatalf("expected no suggestions, got %v", got)
	}
}
