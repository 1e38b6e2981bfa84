// Package names turns free-form team and worker names into identifiers
// that are safe to use as tmux session names and state-directory
// components.
package names

import (
	"fmt"
	"strings"
)

// MaxLen is the longest sanitized name.
const MaxLen = 50

// minLen is the shortest sanitized name accepted.
const minLen = 2

// InvalidNameError reports a name that sanitizes to fewer than two
// characters. It is a configuration error and is never retried.
type InvalidNameError struct {
	Input     string
	Sanitized string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name %q: sanitized form %q must be %d-%d characters of [a-z0-9-]",
		e.Input, e.Sanitized, minLen, MaxLen)
}

// Sanitize lowercases s, replaces every character outside [a-z0-9-] with
// '-', strips leading and trailing '-', truncates to MaxLen and strips any
// '-' the cut left at the end. The result
// always matches ^[a-z0-9-]{2,50}$; shorter results are rejected with
// *InvalidNameError. Sanitize is idempotent.
func Sanitize(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('-')
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > MaxLen {
		out = strings.TrimRight(out[:MaxLen], "-")
	}
	if len(out) < minLen {
		return "", &InvalidNameError{Input: s, Sanitized: out}
	}
	return out, nil
}

// SessionName returns the tmux session name for a worker:
// prefix-sanitize(team)-sanitize(worker). It is pure and idempotent.
func SessionName(prefix, team, worker string) (string, error) {
	t, err := Sanitize(team)
	if err != nil {
		return "", fmt.Errorf("team name: %w", err)
	}
	w, err := Sanitize(worker)
	if err != nil {
		return "", fmt.Errorf("worker name: %w", err)
	}
	return prefix + "-" + t + "-" + w, nil
}
