package transport

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{"short", "pong", 10, []string{"pong"}},
		{"exact", "abcde", 5, []string{"abcde"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline", "abcd\nefghij", 8, []string{"abcd\n", "efghij"}},
		{"rune boundary", "aññ", 4, []string{"añ", "ñ"}},
	}
	for _, tc := range cases {
		got := SplitText(tc.in, tc.limit)
		if strings.Join(got, "|") != strings.Join(tc.want, "|") {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSplitTextKeepsUTF8(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("📅 recordatorio ñandú ", 30)
	parts := SplitText(in, DefaultTextLimit)
	if strings.Join(parts, "") != in {
		t.Fatalf("chunks do not reassemble")
	}
	for _, p := range parts {
		if len(p) > DefaultTextLimit || !utf8.ValidString(p) {
			t.Fatalf("bad chunk (%d bytes): %q", len(p), p)
		}
	}
}

func TestHopsUsed(t *testing.T) {
	t.Parallel()
	if got := (Message{HopStart: 3, HopLimit: 1}).HopsUsed(); got != 2 {
		t.Fatalf("hops = %d", got)
	}
	if got := (Message{HopLimit: 5}).HopsUsed(); got != 0 {
		t.Fatalf("hops without start = %d", got)
	}
}
