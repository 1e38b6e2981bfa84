package config

import "path/filepath"

// Paths resolves file locations inside the state directory.
type Paths struct {
	StateDir string
}

// Paths returns the state layout for c.
func (c Config) Paths() Paths {
	return Paths{StateDir: c.StateDir}
}

// MailboxDB is the protocol transport database.
func (p Paths) MailboxDB() string { return filepath.Join(p.StateDir, "mailbox.db") }

// TeamsDir holds one directory per team.
func (p Paths) TeamsDir() string { return filepath.Join(p.StateDir, "teams") }

// TeamDir is the team's state directory.
func (p Paths) TeamDir(team string) string { return filepath.Join(p.TeamsDir(), team) }

// AuditLog is the team's audit file.
func (p Paths) AuditLog(team string) string { return filepath.Join(p.TeamDir(team), "audit.jsonl") }

// TasksDir holds the team's task files.
func (p Paths) TasksDir(team string) string { return filepath.Join(p.TeamDir(team), "tasks") }

// MailboxDir holds the team's legacy mailbox files.
func (p Paths) MailboxDir(team string) string { return filepath.Join(p.TeamDir(team), "mailbox") }

// WorkersDir holds one directory per worker.
func (p Paths) WorkersDir(team string) string { return filepath.Join(p.TeamDir(team), "workers") }

// WorkerDir is a worker's state directory.
func (p Paths) WorkerDir(team, worker string) string {
	return filepath.Join(p.WorkersDir(team), worker)
}

// IdentityPath is the leader-written worker identity record.
func (p Paths) IdentityPath(team, worker string) string {
	return filepath.Join(p.WorkerDir(team, worker), "identity.json")
}

// HeartbeatPath is the worker-written heartbeat.
func (p Paths) HeartbeatPath(team, worker string) string {
	return filepath.Join(p.WorkerDir(team, worker), "heartbeat.json")
}
