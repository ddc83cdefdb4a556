package download

import "strings"

// authMarkers are fragments of extractor output that mean the source wants
// a signed-in session rather than failing for some other reason.
var authMarkers = []string{
	"sign in to confirm",
	"confirm you're not a bot",
	"confirm you’re not a bot",
	"confirm your age",
	"verify you are human",
	"login required",
	"requires authentication",
	"members-only content",
	"use --cookies",
	"--cookies-from-browser",
}

// IsAuthChallenge reports whether output from a failed fetch looks like a
// sign-in or bot check.
func IsAuthChallenge(output string) bool {
	text := strings.ToLower(output)
	if text == "" {
		return false
	}
	for _, marker := range authMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
