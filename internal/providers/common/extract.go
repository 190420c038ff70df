// Package common holds the defensive field-extraction helpers shared by the
// catalog adapters. The upstream APIs are unofficial and their response
// shapes drift: the same field arrives as a bare string, an array of strings,
// or an array of objects depending on deployment. Every helper here is an
// ordered "try this shape, then that shape" ladder returning a value or a
// fallback — extraction never returns an error and never panics.
package common

import (
	"strconv"
	"strings"
)

// UnknownArtist is the sentinel used when no artist shape matches.
const UnknownArtist = "Unknown Artist"

// ArtistName resolves a display artist name from a decoded JSON object,
// trying, in order: a set of known string fields, the first element of an
// array of strings, the first element of an array of {name: ...} objects.
func ArtistName(raw map[string]any, fields ...string) string {
	if len(fields) == 0 {
		fields = []string{"primaryArtists", "artist", "singers"}
	}
	for _, field := range fields {
		value, ok := raw[field]
		if !ok {
			continue
		}
		if name := firstName(value); name != "" {
			return name
		}
	}
	if value, ok := raw["artists"]; ok {
		if name := firstName(value); name != "" {
			return name
		}
	}
	return UnknownArtist
}

func firstName(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		for _, item := range v {
			if name := firstName(item); name != "" {
				return name
			}
		}
	case map[string]any:
		// {"name": ...} or a nested {"primary": [...]} container.
		if name := StringField(v, "name"); name != "" {
			return name
		}
		if nested, ok := v["primary"]; ok {
			return firstName(nested)
		}
	}
	return ""
}

// StringField returns a trimmed string field, or "" when absent or not a string.
func StringField(raw map[string]any, field string) string {
	value, ok := raw[field]
	if !ok {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// ImageURL resolves an image URL that may arrive as a bare string, an object
// with a link/url field, or an array of quality-annotated variants. Arrays
// pick the last entry, which the upstreams order smallest-first.
func ImageURL(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		for i := len(v) - 1; i >= 0; i-- {
			if link := ImageURL(v[i]); link != "" {
				return link
			}
		}
	case map[string]any:
		for _, field := range []string{"link", "url", "src"} {
			if link := StringField(v, field); link != "" {
				return link
			}
		}
	}
	return ""
}

// AudioURL picks a stream URL from an array of quality-annotated download
// variants, preferring the requested quality and falling back to the highest
// listed. A bare string or single object passes through unchanged.
func AudioURL(value any, preferredQuality string) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, field := range []string{"link", "url"} {
			if link := StringField(v, field); link != "" {
				return link
			}
		}
	case []any:
		preferred := strings.ToLower(strings.TrimSpace(preferredQuality))
		fallback := ""
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			link := StringField(obj, "link")
			if link == "" {
				link = StringField(obj, "url")
			}
			if link == "" {
				continue
			}
			fallback = link
			if preferred != "" && strings.EqualFold(StringField(obj, "quality"), preferred) {
				return link
			}
		}
		return fallback
	}
	return ""
}

// DurationSeconds tolerates numeric and string duration fields; anything
// unparseable or negative reads as 0 (unknown).
func DurationSeconds(value any) int {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return int(v)
	case int:
		if v < 0 {
			return 0
		}
		return v
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || parsed < 0 {
			return 0
		}
		return parsed
	}
	return 0
}

// DecodeEntities undoes the HTML entity escaping some upstreams apply to
// title and album fields.
func DecodeEntities(raw string) string {
	value := strings.ReplaceAll(raw, "&quot;", `"`)
	value = strings.ReplaceAll(value, "&amp;", "&")
	value = strings.ReplaceAll(value, "&#039;", "'")
	value = strings.ReplaceAll(value, "&apos;", "'")
	return strings.TrimSpace(value)
}
