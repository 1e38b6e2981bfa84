package agentcli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewmux/pkg/procrun"
)

// DefaultInvokeTimeout bounds a one-shot invocation when the request sets
// no timeout.
const DefaultInvokeTimeout = 10 * time.Minute

// ErrNoPromptMode is returned by Invoke for agents without a
// non-interactive mode.
var ErrNoPromptMode = errors.New("agent has no non-interactive prompt mode")

// InvokeRequest describes a one-shot, non-interactive agent run.
type InvokeRequest struct {
	Model       string
	ExtraFlags  []string
	Instruction string
	Dir         string
	Env         []string
	Timeout     time.Duration
}

// InvokeResult carries the parsed answer alongside the raw process result.
type InvokeResult struct {
	Text   string
	Result procrun.Result
}

// Invoke runs binaryPath once in prompt mode and parses its output with
// the contract. A run that exceeds its timeout is killed; the returned
// error then wraps the timeout and Result.TimedOut is set.
func Invoke(ctx context.Context, c Contract, binaryPath string, req InvokeRequest) (InvokeResult, error) {
	if !c.SupportsPromptMode() {
		return InvokeResult{}, fmt.Errorf("%s: %w", c.Type(), ErrNoPromptMode)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	args := c.BuildLaunchArgs(req.Model, req.ExtraFlags)
	args = append(args, PromptModeArgs(c.Type(), req.Instruction)...)

	res := procrun.Run(ctx, procrun.Command{
		Name:    binaryPath,
		Args:    args,
		Dir:     req.Dir,
		Env:     req.Env,
		Timeout: timeout,
	})
	out := InvokeResult{Result: res, Text: c.ParseOutput(res.Stdout)}
	if res.Err != nil {
		return out, fmt.Errorf("invoke %s: %w", c.Type(), res.Err)
	}
	return out, nil
}
