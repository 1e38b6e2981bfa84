package agentcli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestBuildLaunchArgs(t *testing.T) {
	tests := []struct {
		typ   Type
		model string
		extra []string
		want  []string
	}{
		{TypeClaude, "", nil, []string{"--dangerously-skip-permissions"}},
		{TypeClaude, "opus", nil, []string{"--dangerously-skip-permissions", "--model", "opus"}},
		{TypeCodex, "", nil, []string{"--full-auto"}},
		{TypeCodex, "gpt-5", []string{"--search"}, []string{"--full-auto", "--model", "gpt-5", "--search"}},
		{TypeGemini, "", []string{"--debug"}, []string{"--yolo", "--debug"}},
	}
	for _, tt := range tests {
		c, err := Lookup(tt.typ)
		if err != nil {
			t.Fatal(err)
		}
		got := c.BuildLaunchArgs(tt.model, tt.extra)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s.BuildLaunchArgs(%q, %v) = %v, want %v", tt.typ, tt.model, tt.extra, got, tt.want)
		}
	}
}

func TestPromptModeArgs(t *testing.T) {
	if got := PromptModeArgs(TypeClaude, "do it"); len(got) != 0 {
		t.Errorf("claude: got %v, want empty", got)
	}
	if got := PromptModeArgs(TypeGemini, "do it"); !reflect.DeepEqual(got, []string{"-p", "do it"}) {
		t.Errorf("gemini: got %v", got)
	}
	if got := PromptModeArgs(TypeCodex, "do it"); !reflect.DeepEqual(got, []string{"do it"}) {
		t.Errorf("codex: got %v", got)
	}
	if got := PromptModeArgs("cursor", "do it"); got != nil {
		t.Errorf("unknown type: got %v", got)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("aider")
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want *UnknownTypeError", err)
	}
	if got := Types(); !reflect.DeepEqual(got, []Type{TypeClaude, TypeCodex, TypeGemini}) {
		t.Errorf("Types = %v", got)
	}
}

func TestCodexParseOutputTakesLastAssistantMessage(t *testing.T) {
	raw := `{"type":"thread.started","thread_id":"t1"}
{"type":"item.completed","item":{"type":"agent_message","text":"first draft"}}
not json at all
{"type":"item.completed","item":{"type":"command_execution","text":"ls"}}
{"type":"message","role":"user","content":"ignored"}
{"type":"item.completed","item":{"type":"agent_message","text":"  final answer  "}}
{"type":"turn.completed"}
`
	c, _ := Lookup(TypeCodex)
	if got := c.ParseOutput(raw); got != "final answer" {
		t.Errorf("ParseOutput = %q, want %q", got, "final answer")
	}
}

func TestCodexParseOutputMessageShapes(t *testing.T) {
	c, _ := Lookup(TypeCodex)
	raw := `{"type":"message","role":"assistant","content":[{"type":"output_text","text":"part one "},{"type":"output_text","text":"part two"}]}`
	if got := c.ParseOutput(raw); got != "part one part two" {
		t.Errorf("ParseOutput = %q", got)
	}
	if got := c.ParseOutput("  plain text output \n"); got != "plain text output" {
		t.Errorf("fallback = %q", got)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInvokeParsesOutput(t *testing.T) {
	script := writeScript(t, `echo '{"type":"item.completed","item":{"type":"agent_message","text":"args:'"$*"'"}}'`+"\n")
	c, _ := Lookup(TypeCodex)
	res, err := Invoke(context.Background(), c, script, InvokeRequest{Model: "m1", Instruction: "fix"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "args:--full-auto --model m1 fix" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestInvokeTimeoutKillsAndReports(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	c, _ := Lookup(TypeGemini)
	res, err := Invoke(context.Background(), c, script, InvokeRequest{Instruction: "x", Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !res.Result.TimedOut {
		t.Errorf("TimedOut not set: %+v", res.Result)
	}
}

func TestInvokeRejectsInteractiveOnly(t *testing.T) {
	c, _ := Lookup(TypeClaude)
	_, err := Invoke(context.Background(), c, "/bin/true", InvokeRequest{Instruction: "x"})
	if !errors.Is(err, ErrNoPromptMode) {
		t.Fatalf("err = %v, want ErrNoPromptMode", err)
	}
}
