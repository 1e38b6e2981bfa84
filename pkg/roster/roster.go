// Package roster records which workers the leader has spawned for a team.
// Each worker has an identity file next to its heartbeat.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"crewmux/internal/fsutil"
)

// Worker is the leader's record of a spawned worker.
type Worker struct {
	Team      string    `json:"team"`
	Name      string    `json:"name"`
	AgentType string    `json:"agent_type,omitempty"`
	Model     string    `json:"model,omitempty"`
	Binary    string    `json:"binary,omitempty"`
	Session   string    `json:"session,omitempty"`
	PaneID    string    `json:"pane_id,omitempty"`
	Cwd       string    `json:"cwd,omitempty"`
	SpawnedAt time.Time `json:"spawned_at,omitzero"`
}

// Roster stores identities under <TeamsDir>/<team>/workers/<worker>/.
type Roster struct {
	TeamsDir string
}

// New returns a Roster rooted at teamsDir.
func New(teamsDir string) *Roster {
	return &Roster{TeamsDir: teamsDir}
}

func (r *Roster) workersDir(team string) string {
	return filepath.Join(r.TeamsDir, team, "workers")
}

func (r *Roster) identityPath(team, worker string) string {
	return filepath.Join(r.workersDir(team), worker, "identity.json")
}

// Save writes w's identity.
func (r *Roster) Save(w Worker) error {
	if w.Team == "" || w.Name == "" {
		return errors.New("worker identity needs team and name")
	}
	if err := fsutil.WriteJSONAtomic(r.identityPath(w.Team, w.Name), w); err != nil {
		return fmt.Errorf("save identity %s/%s: %w", w.Team, w.Name, err)
	}
	return nil
}

// Get returns a worker's identity. ok is false when no readable identity
// exists.
func (r *Roster) Get(team, worker string) (Worker, bool) {
	data, err := os.ReadFile(r.identityPath(team, worker))
	if err != nil {
		return Worker{}, false
	}
	var w Worker
	if err := json.Unmarshal(data, &w); err != nil {
		return Worker{}, false
	}
	w.Team, w.Name = team, worker
	return w, true
}

// List returns every worker with a state directory, sorted by name.
// Workers without a readable identity are listed by name only.
func (r *Roster) List(team string) []Worker {
	entries, err := os.ReadDir(r.workersDir(team))
	if err != nil {
		return nil
	}
	var out []Worker
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		w, ok := r.Get(team, e.Name())
		if !ok {
			w = Worker{Team: team, Name: e.Name()}
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the names of List(team).
func (r *Roster) Names(team string) []string {
	var names []string
	for _, w := range r.List(team) {
		names = append(names, w.Name)
	}
	return names
}

// Remove deletes the worker's state directory, identity and heartbeat
// included. Removing an unknown worker is not an error.
func (r *Roster) Remove(team, worker string) error {
	if worker == "" || worker == "." || worker == ".." {
		return fmt.Errorf("remove worker: invalid name %q", worker)
	}
	if err := os.RemoveAll(filepath.Join(r.workersDir(team), worker)); err != nil {
		return fmt.Errorf("remove worker %s/%s: %w", team, worker, err)
	}
	return nil
}

// Teams lists team directories.
func (r *Roster) Teams() []string {
	entries, err := os.ReadDir(r.TeamsDir)
	if err != nil {
		return nil
	}
	var teams []string
	for _, e := range entries {
		if e.IsDir() {
			teams = append(teams, e.Name())
		}
	}
	sort.Strings(teams)
	return teams
}
