// Package agentcli describes how each supported CLI coding agent is
// launched inside a pane and how its output is read back. The Contract
// interface is the boundary between the leader and agent-specific
// behavior; one implementation exists per agent variant.
package agentcli

import (
	"fmt"
	"sort"
	"strings"
)

// Type identifies an agent variant.
type Type string

// Supported agent variants.
const (
	TypeClaude Type = "claude" // interactive, skip-permissions
	TypeCodex  Type = "codex"  // sandboxed full-auto, JSONL output
	TypeGemini Type = "gemini" // auto-approve, optional one-shot prompt flag
)

// Contract is implemented once per agent variant.
type Contract interface {
	// Type returns the variant tag injected into the worker environment.
	Type() Type

	// Binary returns the bare command name to resolve on PATH.
	Binary() string

	// BuildLaunchArgs returns the argv (without the binary) that starts
	// the agent. The model flag is present only when model is non-empty;
	// extraFlags are appended verbatim.
	BuildLaunchArgs(model string, extraFlags []string) []string

	// ParseOutput extracts the agent's final answer from raw output.
	ParseOutput(raw string) string

	// SupportsPromptMode reports whether the agent accepts a one-shot
	// non-interactive instruction.
	SupportsPromptMode() bool

	// PromptModeFlag returns the flag preceding the instruction, or ""
	// when the instruction is a bare positional argument.
	PromptModeFlag() string
}

// UnknownTypeError reports an agent type with no registered contract.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown agent type %q (supported: %s)", e.Type, strings.Join(typeNames(), ", "))
}

var contracts = map[Type]Contract{
	TypeClaude: claudeContract{},
	TypeCodex:  codexContract{},
	TypeGemini: geminiContract{},
}

// Lookup returns the contract for t.
func Lookup(t Type) (Contract, error) {
	c, ok := contracts[t]
	if !ok {
		return nil, &UnknownTypeError{Type: string(t)}
	}
	return c, nil
}

// Types returns every supported agent type in stable order.
func Types() []Type {
	out := make([]Type, 0, len(contracts))
	for t := range contracts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func typeNames() []string {
	var names []string
	for _, t := range Types() {
		names = append(names, string(t))
	}
	return names
}

// PromptModeArgs returns the arguments that hand instruction to agent t
// non-interactively: nil when t has no prompt mode, [flag, instruction]
// when it uses a flag, and [instruction] when it takes a positional
// argument. Unknown types get nil.
func PromptModeArgs(t Type, instruction string) []string {
	c, err := Lookup(t)
	if err != nil || !c.SupportsPromptMode() {
		return nil
	}
	if flag := c.PromptModeFlag(); flag != "" {
		return []string{flag, instruction}
	}
	return []string{instruction}
}

func withModel(base []string, model string, extraFlags []string) []string {
	args := append([]string(nil), base...)
	if model != "" {
		args = append(args, "--model", model)
	}
	return append(args, extraFlags...)
}
