package search

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps a raw user query to its cache key: compatibility-normalized,
// case-folded, with whitespace runs collapsed and the ends trimmed.
// Normalize(Normalize(q)) == Normalize(q) for every q.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	value := foldOnce(raw)
	// A handful of code points only settle after a second pass.
	for i := 0; i < 2; i++ {
		next := foldOnce(value)
		if next == value {
			break
		}
		value = next
	}
	return value
}

func foldOnce(value string) string {
	value = norm.NFKC.String(value)
	// Folding can leave sequences that are no longer in NFKC.
	value = norm.NFKC.String(cases.Fold().String(value))
	return strings.Join(strings.Fields(value), " ")
}

// sourceKey is the identity used to dedupe candidates across providers.
func sourceKey(rawURL string) string {
	value := strings.TrimSpace(rawURL)
	if value == "" {
		return ""
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" {
		return value
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String()
}
