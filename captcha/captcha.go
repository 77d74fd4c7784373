// Package captcha defines the CAPTCHA solver boundary and its
// production implementation against an OpenAI-compatible vision
// endpoint.
//
// The solver is an untrusted oracle: its output may be wrong, and an
// empty transcription means "unsolvable, fetch a fresh image". Accuracy
// is the retry state machine's problem, not this package's.
package captcha

import (
	"context"
	"strings"
)

// MinLength is the shortest transcription the portal accepts. Anything
// shorter is treated as unsolvable.
const MinLength = 4

// Solver transcribes a CAPTCHA image. An empty string with a nil error
// signals an unsolvable image; a non-nil error signals the solving
// endpoint itself failed.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// Clean normalises a raw transcription: uppercase, alphanumerics only.
// Transcriptions shorter than MinLength after cleaning come back empty.
func Clean(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) < MinLength {
		return ""
	}
	return out
}
