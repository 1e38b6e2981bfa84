// Package binpath resolves agent command names to absolute paths and
// checks where they live before the leader launches them.
//
// Resolution has one contract with two modes. Strict mode returns every
// failure and is used before any launch. Lenient mode logs a not-found
// failure and falls back to the bare name; availability probes use it.
// A binary under a shared temp location is refused in both modes.
package binpath

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Mode selects how Resolve reports recoverable failures.
type Mode int

const (
	// Strict returns every failure to the caller.
	Strict Mode = iota
	// Lenient logs not-found failures and returns the bare name instead.
	// Unsafe references and untrusted locations still fail.
	Lenient
)

func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// TrustedDirsEnv names the colon-separated list of extra trusted
// directories.
const TrustedDirsEnv = "CREWMUX_TRUSTED_DIRS"

var safeName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var systemPrefixes = []string{
	"/usr/bin",
	"/bin",
	"/usr/local/bin",
	"/usr/sbin",
	"/sbin",
	"/opt/homebrew/bin",
	"/opt/local/bin",
	"/snap/bin",
	"/nix/",
	"/run/current-system/sw/bin",
}

// Home-relative install locations for user-local and toolchain binaries.
var homePrefixes = []string{
	".local/bin",
	"bin",
	"go/bin",
	".cargo/bin",
	".bun/bin",
	".npm-global/bin",
	".nvm/",
	".volta/bin",
	".asdf/shims",
	".deno/bin",
	".nix-profile/bin",
}

// Options configures a Resolver. Zero values select the real
// environment.
type Options struct {
	LookPath    func(string) (string, error)
	Getenv      func(string) string
	HomeDir     func() (string, error)
	TrustedDirs []string // extra trusted directories from config
	TempDirs    []string // overrides the shared temp list (tests)
	Logger      *slog.Logger
}

// Resolver resolves and validates binaries, caching successful strict
// resolutions per name until Invalidate is called.
type Resolver struct {
	lookPath    func(string) (string, error)
	getenv      func(string) string
	homeDir     func() (string, error)
	trustedDirs []string
	tempDirs    []string
	logger      *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		lookPath:    opts.LookPath,
		getenv:      opts.Getenv,
		homeDir:     opts.HomeDir,
		trustedDirs: opts.TrustedDirs,
		tempDirs:    opts.TempDirs,
		logger:      opts.Logger,
		cache:       make(map[string]string),
	}
	if r.lookPath == nil {
		r.lookPath = exec.LookPath
	}
	if r.getenv == nil {
		r.getenv = os.Getenv
	}
	if r.homeDir == nil {
		r.homeDir = os.UserHomeDir
	}
	if r.tempDirs == nil {
		r.tempDirs = defaultTempDirs()
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

func defaultTempDirs() []string {
	dirs := []string{"/tmp", "/var/tmp", "/dev/shm"}
	if tmp := os.TempDir(); tmp != "" && !containsPath(dirs, tmp) {
		dirs = append(dirs, tmp)
	}
	return dirs
}

// Resolve returns the absolute path for ref.
func (r *Resolver) Resolve(ref string, mode Mode) (string, error) {
	if !filepath.IsAbs(ref) && !safeName.MatchString(ref) {
		return "", &UnsafeReferenceError{Ref: ref}
	}

	r.mu.Lock()
	cached, ok := r.cache[ref]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	path, err := r.resolve(ref)
	if err != nil {
		var nf *NotFoundError
		if mode == Lenient && errors.As(err, &nf) {
			r.logger.Warn("binary resolution failed; falling back to bare name",
				"binary", ref, "err", err)
			return ref, nil
		}
		return "", err
	}

	r.mu.Lock()
	r.cache[ref] = path
	r.mu.Unlock()
	return path, nil
}

func (r *Resolver) resolve(ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(ref) {
		found, err := r.lookPath(ref)
		if err != nil {
			return "", &NotFoundError{Name: ref, Err: err}
		}
		path = found
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path for %s: %w", path, err)
	}
	path = abs

	resolved := path
	if evaluated, err := filepath.EvalSymlinks(path); err == nil {
		resolved = evaluated
	}
	for _, candidate := range []string{path, resolved} {
		for _, tmp := range r.tempDirs {
			if underDir(candidate, tmp) {
				return "", &UntrustedLocationError{Name: ref, Path: candidate, Dir: tmp}
			}
		}
	}

	if !r.trusted(path) && !r.trusted(resolved) {
		r.logger.Warn("binary is outside trusted install locations",
			"binary", ref, "path", path, "hint", "add its directory to "+TrustedDirsEnv)
	}
	return path, nil
}

// TrustedPrefixes returns the directories considered standard install
// locations, including configured and environment-supplied ones.
func (r *Resolver) TrustedPrefixes() []string {
	prefixes := append([]string(nil), systemPrefixes...)
	if home, err := r.homeDir(); err == nil && home != "" {
		for _, rel := range homePrefixes {
			p := filepath.Join(home, rel)
			if strings.HasSuffix(rel, "/") {
				p += string(filepath.Separator)
			}
			prefixes = append(prefixes, p)
		}
	}
	prefixes = append(prefixes, r.trustedDirs...)
	for _, dir := range strings.Split(r.getenv(TrustedDirsEnv), ":") {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			r.logger.Warn("ignoring non-absolute trusted directory", "dir", dir, "env", TrustedDirsEnv)
			continue
		}
		prefixes = append(prefixes, dir)
	}
	return prefixes
}

func (r *Resolver) trusted(path string) bool {
	for _, prefix := range r.TrustedPrefixes() {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if underDir(path, prefix) {
			return true
		}
	}
	return false
}

// Invalidate drops the cached resolution for name.
func (r *Resolver) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

// InvalidateAll empties the cache.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]string)
	r.mu.Unlock()
}

// IsConfigError reports whether err is a non-retryable reference or
// location problem rather than an availability problem.
func IsConfigError(err error) bool {
	var unsafe *UnsafeReferenceError
	var untrusted *UntrustedLocationError
	return errors.As(err, &unsafe) || errors.As(err, &untrusted)
}

// underDir reports whether path is dir or lies beneath it.
func underDir(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func containsPath(list []string, p string) bool {
	for _, item := range list {
		if filepath.Clean(item) == filepath.Clean(p) {
			return true
		}
	}
	return false
}
