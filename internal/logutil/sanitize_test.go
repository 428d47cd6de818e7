package logutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"r1.baldi", "r1.baldi"},
		{"line1\nfake entry", "line1 fake entry"},
		{"a\r\nb", "a  b"},
		{"tab\there", "tab here"},
		{"bell\x07del\x7f", "belldel"},
	}
	for _, tt := range tests {
		if got := SanitizeForLog(tt.in); got != tt.want {
			t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateKeepsTail(t *testing.T) {
	long := strings.Repeat("x", 2000) + "avg-rtt=23ms"
	got := Truncate(long)
	if !strings.HasSuffix(got, "avg-rtt=23ms") {
		t.Fatalf("expected tail to be kept, got %q", got[len(got)-20:])
	}
	if len(got) != maxLogValue+3 {
		t.Fatalf("len = %d, want %d", len(got), maxLogValue+3)
	}
	if Truncate("  short\n") != "short" {
		t.Fatalf("short values should only be sanitized")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// 3-byte runes: any tail length that is not a multiple of 3 would split one.
	long := strings.Repeat("é", 10) + strings.Repeat("日", 400)
	got := Truncate(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated value is not valid UTF-8: %q", got[:12])
	}
	if len(got) > maxLogValue+3 {
		t.Fatalf("len = %d, want at most %d", len(got), maxLogValue+3)
	}
	if !strings.HasSuffix(got, "日日日") {
		t.Fatalf("tail not kept: %q", got[len(got)-9:])
	}
}
