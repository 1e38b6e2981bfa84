package tmux

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// fakeRunner records tmux calls without a real server. Outputs and errors
// are keyed by the joined argument list.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	output map[string]string
	errs   map[string]error
	seqOut map[string][]string
	seqIdx map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		output: make(map[string]string),
		errs:   make(map[string]error),
		seqOut: make(map[string][]string),
		seqIdx: make(map[string]int),
	}
}

func key(args ...string) string {
	return strings.Join(args, " ")
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), args...))
	k := key(args...)
	if seq, ok := f.seqOut[k]; ok {
		idx := f.seqIdx[k]
		if idx < len(seq) {
			f.seqIdx[k] = idx + 1
			return seq[idx], f.errs[k]
		}
		return seq[len(seq)-1], f.errs[k]
	}
	return f.output[k], f.errs[k]
}

func (f *fakeRunner) called(args ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := key(args...)
	for _, c := range f.calls {
		if key(c...) == want {
			return true
		}
	}
	return false
}

func (f *fakeRunner) countSub(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > 0 && c[0] == sub {
			n++
		}
	}
	return n
}

func missingSession(args ...string) error {
	return &CommandError{Args: args, Output: "can't find session: x", Err: errors.New("exit status 1")}
}

func envFunc(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}
