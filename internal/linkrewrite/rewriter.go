// Package linkrewrite rewrites sandbox-scheme markdown links embedded in a
// streamed response as the tokens arrive. A link is never split across
// chunk boundaries, and the internal buffer is bounded: a tail that keeps
// looking like a partial link is force-flushed after a configurable number
// of consecutive hold decisions.
package linkrewrite

import (
	"regexp"
	"strings"
)

// DefaultSentinel is the link scheme recognized in generated markdown.
const DefaultSentinel = "sandbox:"

// DefaultPartialThreshold bounds consecutive hold decisions. Empirically
// chosen; treat as a tunable.
const DefaultPartialThreshold = 30

// Resolver maps a matched link to its replacement text. match is the full
// markdown link, sentinelURL the sandbox URL inside it, and path the
// portion after the sentinel scheme.
type Resolver func(match, sentinelURL, path string) string

// Config controls the rewriter.
type Config struct {
	Sentinel         string
	PartialThreshold int
}

// Rewriter is a sequential, single-consumer token processor. Discard at
// any time; it holds no resources beyond its text buffer.
type Rewriter struct {
	sentinel  string
	threshold int
	pattern   *regexp.Regexp
	resolver  Resolver
	buffer    strings.Builder
	streak    int
}

// New constructs a rewriter. A nil resolver passes matches through
// unchanged.
func New(cfg Config, resolver Resolver) *Rewriter {
	sentinel := cfg.Sentinel
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	threshold := cfg.PartialThreshold
	if threshold <= 0 {
		threshold = DefaultPartialThreshold
	}
	if resolver == nil {
		resolver = func(match, sentinelURL, path string) string { return match }
	}
	pattern := regexp.MustCompile(`\[[^\]]*\]\((` + regexp.QuoteMeta(sentinel) + `([^)]*))\)`)
	return &Rewriter{
		sentinel:  sentinel,
		threshold: threshold,
		pattern:   pattern,
		resolver:  resolver,
	}
}

// ProcessToken consumes one streamed chunk and returns the text safe to
// emit now. Complete links are rewritten in place; a tail that could still
// grow into a link is retained for the next call.
func (r *Rewriter) ProcessToken(token string) string {
	r.buffer.WriteString(token)
	text := r.buffer.String()
	r.buffer.Reset()

	var out strings.Builder
	for {
		loc := r.pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}
		out.WriteString(text[:loc[0]])
		match := text[loc[0]:loc[1]]
		sentinelURL := text[loc[2]:loc[3]]
		path := text[loc[4]:loc[5]]
		out.WriteString(r.resolver(match, sentinelURL, path))
		text = text[loc[1]:]
	}

	hold := r.partialStart(text)
	if hold == -1 {
		out.WriteString(text)
		r.streak = 0
		return out.String()
	}

	out.WriteString(text[:hold])
	tail := text[hold:]
	r.streak++
	if r.streak > r.threshold {
		// The tail has looked "almost a link" for too long; emit it raw
		// rather than buffering without bound.
		out.WriteString(tail)
		r.streak = 0
		return out.String()
	}
	r.buffer.WriteString(tail)
	return out.String()
}

// Flush emits whatever remains, with no pattern matching. Call exactly
// once when no more tokens are coming.
func (r *Rewriter) Flush() string {
	tail := r.buffer.String()
	r.buffer.Reset()
	r.streak = 0
	return tail
}

// Buffered reports the current buffer size; exposed for bound checks.
func (r *Rewriter) Buffered() int {
	return r.buffer.Len()
}

// partialStart returns the earliest index from which the remaining text
// could still extend into a complete link, or -1 when it cannot.
func (r *Rewriter) partialStart(text string) int {
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		if r.couldBeLinkPrefix(text[i:]) {
			return i
		}
	}
	return -1
}

// couldBeLinkPrefix is the relaxed test: does s prefix some string the
// full pattern would match?
func (r *Rewriter) couldBeLinkPrefix(s string) bool {
	i := 0
	n := len(s)
	if n == 0 || s[0] != '[' {
		return false
	}
	i++
	for i < n && s[i] != ']' {
		i++
	}
	if i == n {
		return true // still inside the label
	}
	i++
	if i == n {
		return true // label closed, '(' may follow
	}
	if s[i] != '(' {
		return false
	}
	i++
	for j := 0; j < len(r.sentinel); j++ {
		if i == n {
			return true // mid-sentinel
		}
		if s[i] != r.sentinel[j] {
			return false
		}
		i++
	}
	for i < n && s[i] != ')' {
		i++
	}
	// A closing paren here would have been consumed as a complete match
	// already; an open tail can still complete.
	return i == n
}
