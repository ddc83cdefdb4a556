package download

import "testing"

func TestIsAuthChallenge(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"bot check", signInError, true},
		{"curly apostrophe", "Confirm you’re not a bot", true},
		{"age gate", "ERROR: Sign in to confirm your age. This video may be inappropriate", true},
		{"login required", "ERROR: [instagram] login required", true},
		{"cookies hint", "use --cookies to pass a cookie file", true},
		{"unavailable", "ERROR: Video unavailable", false},
		{"network", "ERROR: unable to download webpage: timed out", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAuthChallenge(tc.output); got != tc.want {
				t.Fatalf("IsAuthChallenge(%q) = %v, want %v", tc.output, got, tc.want)
			}
		})
	}
}
