package request

import (
	"strings"
	"testing"
)

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"plain", "lab-01", 0, "lab-01"},
		{"control chars dropped", " A\nB\rC\tD\x00 ", 0, "ABCD"},
		{"allowed punctuation kept", "Az09-_.()", 0, "Az09-_.()"},
		{"slashes replaced", "team/a\\b", 0, "team_a_b"},
		{"inner space replaced", "night shift", 0, "night_shift"},
		{"unicode letters kept", "실험실", 0, "실험실"},
		{"truncated", "abcdefghij", 4, "abcd"},
		{"dots only", "..", 0, ""},
		{"empty", "   ", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeSegment(tt.in, tt.max); got != tt.want {
				t.Errorf("SanitizeSegment(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestSanitizeSegment_NoSeparatorSurvives(t *testing.T) {
	got := SanitizeSegment("../../etc/passwd", MaxSegmentLen)
	if strings.ContainsAny(got, "/\\") {
		t.Fatalf("separator survived: %q", got)
	}
}
