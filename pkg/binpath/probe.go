package binpath

import (
	"context"
	"strings"
	"time"

	"crewmux/pkg/procrun"
)

// DefaultProbeTimeout bounds a version probe.
const DefaultProbeTimeout = 5 * time.Second

// Availability is the outcome of Probe.
type Availability struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Err       string `json:"error,omitempty"`
}

// Probe checks whether name can be run by resolving it leniently and
// running "<name> --version" under timeout. A probe that times out or
// exits non-zero reports the binary as unavailable.
func (r *Resolver) Probe(ctx context.Context, name string, timeout time.Duration) Availability {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	out := Availability{Name: name}
	path, err := r.Resolve(name, Lenient)
	if err != nil {
		out.Err = err.Error()
		return out
	}
	out.Path = path

	res := procrun.Run(ctx, procrun.Command{Name: path, Args: []string{"--version"}, Timeout: timeout})
	if res.Err != nil {
		out.Err = res.Err.Error()
		return out
	}
	out.Available = true
	out.Version = firstLine(res.Output())
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
