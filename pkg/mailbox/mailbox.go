// Package mailbox carries messages between the leader and its workers.
//
// Two transports exist. The legacy transport is one append-only JSONL file
// per worker plus a leader-owned byte cursor. The protocol transport is a
// SQLite table with per-message delivery flags, and also carries
// leader-to-worker directives. A team uses exactly one of them.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LeaderRecipient is the recipient name of messages addressed to the leader.
const LeaderRecipient = "leader"

// Message is one mailbox record.
type Message struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	From       string          `json:"from,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	SessionKey string          `json:"session_key,omitempty"`
}

// Transport moves worker messages to the leader. Read consumes what it
// returns; Peek has no side effects.
type Transport interface {
	Append(ctx context.Context, team, worker string, msg Message) error
	Read(ctx context.Context, team, worker string) ([]Message, error)
	Peek(ctx context.Context, team, worker string) ([]Message, error)
}

// Mode names a transport.
type Mode string

const (
	ModeLegacy   Mode = "legacy"
	ModeProtocol Mode = "protocol"
)

// ParseMode parses a transport name. The empty string selects legacy.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLegacy:
		return ModeLegacy, nil
	case ModeProtocol:
		return ModeProtocol, nil
	}
	return "", fmt.Errorf("unknown mailbox transport %q (want %s or %s)", s, ModeLegacy, ModeProtocol)
}

// ReadTeam consumes every listed worker's pending messages, grouped by
// worker. A failure for one worker does not stop the others; the failures
// are joined into the returned error.
func ReadTeam(ctx context.Context, t Transport, team string, workers []string) (map[string][]Message, error) {
	return collect(ctx, team, workers, t.Read)
}

// PeekTeam is ReadTeam without consuming anything.
func PeekTeam(ctx context.Context, t Transport, team string, workers []string) (map[string][]Message, error) {
	return collect(ctx, team, workers, t.Peek)
}

func collect(ctx context.Context, team string, workers []string,
	fetch func(context.Context, string, string) ([]Message, error),
) (map[string][]Message, error) {
	out := make(map[string][]Message, len(workers))
	var errs []error
	for _, w := range workers {
		msgs, err := fetch(ctx, team, w)
		if err != nil {
			errs = append(errs, fmt.Errorf("mailbox %s/%s: %w", team, w, err))
			continue
		}
		if len(msgs) > 0 {
			out[w] = msgs
		}
	}
	return out, errors.Join(errs...)
}
