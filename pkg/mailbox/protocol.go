package mailbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const protocolSchema = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    team TEXT NOT NULL,
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL,
    type TEXT NOT NULL,
    payload TEXT,
    session_key TEXT,
    created_at TEXT NOT NULL,
    delivered INTEGER NOT NULL DEFAULT 0,
    delivered_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_pending
    ON messages(team, recipient, sender, delivered);
`

// Protocol is the SQLite-backed transport. Workers send to the leader and
// the leader sends directives back; each message is delivered once.
type Protocol struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenProtocol opens (creating if needed) the database at path.
func OpenProtocol(path string, logger *slog.Logger) (*Protocol, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), protocolSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply mailbox schema: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Protocol{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// openDB opens a SQLite database with WAL journaling and a 5-second busy
// timeout, and pings it before returning. The busy timeout is also set in
// the DSN so every pooled connection carries it.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	return db, nil
}

// Close closes the database.
func (p *Protocol) Close() error {
	return p.db.Close()
}

// Append records a worker-to-leader message.
func (p *Protocol) Append(ctx context.Context, team, worker string, msg Message) error {
	return p.Send(ctx, team, worker, LeaderRecipient, msg)
}

// Send records a message from one participant to another.
func (p *Protocol) Send(ctx context.Context, team, from, to string, msg Message) error {
	fillDefaults(&msg, from, p.now())
	var payload sql.NullString
	if len(msg.Payload) > 0 {
		payload = sql.NullString{String: string(msg.Payload), Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO messages (id, team, sender, recipient, type, payload, session_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, team, from, to, msg.Type, payload, msg.SessionKey, msg.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// Read returns the worker's undelivered messages to the leader and marks
// each one delivered. A failed mark is logged and the message may be
// returned again by a later Read.
func (p *Protocol) Read(ctx context.Context, team, worker string) ([]Message, error) {
	msgs, err := p.pending(ctx, team, worker, LeaderRecipient)
	if err != nil {
		return nil, err
	}
	p.markDelivered(ctx, team, msgs)
	return msgs, nil
}

// Peek returns the worker's undelivered messages to the leader.
func (p *Protocol) Peek(ctx context.Context, team, worker string) ([]Message, error) {
	return p.pending(ctx, team, worker, LeaderRecipient)
}

// Inbox consumes the undelivered messages addressed to worker.
func (p *Protocol) Inbox(ctx context.Context, team, worker string) ([]Message, error) {
	msgs, err := p.pending(ctx, team, "", worker)
	if err != nil {
		return nil, err
	}
	p.markDelivered(ctx, team, msgs)
	return msgs, nil
}

// pending lists undelivered messages to recipient in insertion order. An
// empty sender matches any sender.
func (p *Protocol) pending(ctx context.Context, team, sender, recipient string) ([]Message, error) {
	query := `SELECT id, sender, type, payload, session_key, created_at
	          FROM messages
	          WHERE team = ? AND recipient = ? AND delivered = 0`
	args := []any{team, recipient}
	if sender != "" {
		query += ` AND sender = ?`
		args = append(args, sender)
	}
	query += ` ORDER BY rowid`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m          Message
			payload    sql.NullString
			sessionKey sql.NullString
			created    string
		)
		if err := rows.Scan(&m.ID, &m.From, &m.Type, &payload, &sessionKey, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if payload.Valid && json.Valid([]byte(payload.String)) {
			m.Payload = json.RawMessage(payload.String)
		}
		m.SessionKey = sessionKey.String
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			m.Timestamp = ts
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func (p *Protocol) markDelivered(ctx context.Context, team string, msgs []Message) {
	at := p.now().Format(time.RFC3339Nano)
	for _, m := range msgs {
		if _, err := p.db.ExecContext(ctx,
			`UPDATE messages SET delivered = 1, delivered_at = ? WHERE id = ?`, at, m.ID); err != nil {
			p.logger.Warn("mark message delivered failed", "team", team, "message", m.ID, "err", err)
		}
	}
}
