package utils

import (
	"strings"
	"testing"
)

func TestIDPrefixes(t *testing.T) {
	if !strings.HasPrefix(GenThreadID(), "th_") {
		t.Fatalf("thread id prefix")
	}
	if !strings.HasPrefix(GenMessageID(), "msg_") {
		t.Fatalf("message id prefix")
	}
	if !strings.HasPrefix(GenStreamID(), "st_") {
		t.Fatalf("stream id prefix")
	}
	if GenMessageID() == GenMessageID() {
		t.Fatalf("ids must be unique")
	}
}

func TestMakeSlug(t *testing.T) {
	cases := []struct {
		title string
		id    string
		want  string
	}{
		{"Trip Planning", "th_abcdef1234567890", "trip-planning-abcdef12"},
		{"  Hello,   World!  ", "th_12345678", "hello-world-12345678"},
		{"", "th_abcdef1234", "abcdef12"},
		{"!!!", "th_abcdef1234", "abcdef12"},
	}
	for _, c := range cases {
		if got := MakeSlug(c.title, c.id); got != c.want {
			t.Fatalf("MakeSlug(%q, %q) = %q, want %q", c.title, c.id, got, c.want)
		}
	}
}
