package utils

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Opaque id helpers. Prefixes keep the three id spaces distinguishable in
// logs and stored keys; the uuid body is what guarantees uniqueness.

func GenThreadID() string { return "th_" + uuid.NewString() }

func GenMessageID() string { return "msg_" + uuid.NewString() }

func GenStreamID() string { return "st_" + uuid.NewString() }

// MakeSlug derives a URL-friendly slug from a thread title and id. The id
// tail keeps slugs unique when titles collide.
func MakeSlug(title, id string) string {
	var b strings.Builder
	prevDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		case !prevDash:
			b.WriteByte('-')
			prevDash = true
		}
	}
	s := strings.Trim(b.String(), "-")
	tail := id
	if i := strings.IndexByte(tail, '_'); i >= 0 {
		tail = tail[i+1:]
	}
	if len(tail) > 8 {
		tail = tail[:8]
	}
	if s == "" {
		return tail
	}
	return s + "-" + tail
}
