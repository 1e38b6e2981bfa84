package agentcli

import (
	"bufio"
	"encoding/json"
	"strings"
)

type claudeContract struct{}

func (claudeContract) Type() Type     { return TypeClaude }
func (claudeContract) Binary() string { return "claude" }

func (claudeContract) BuildLaunchArgs(model string, extraFlags []string) []string {
	return withModel([]string{"--dangerously-skip-permissions"}, model, extraFlags)
}

func (claudeContract) ParseOutput(raw string) string { return strings.TrimSpace(raw) }
func (claudeContract) SupportsPromptMode() bool      { return false }
func (claudeContract) PromptModeFlag() string        { return "" }

type codexContract struct{}

func (codexContract) Type() Type     { return TypeCodex }
func (codexContract) Binary() string { return "codex" }

func (codexContract) BuildLaunchArgs(model string, extraFlags []string) []string {
	return withModel([]string{"--full-auto"}, model, extraFlags)
}

// codexRecord covers the two record shapes that carry assistant text in
// codex's JSONL stream.
type codexRecord struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Item *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
	Content json.RawMessage `json:"content"`
}

// ParseOutput returns the text of the last completed assistant message in
// the stream. Earlier messages are progress chatter, so the scan keeps
// going after the first match. Raw output without any such record is
// returned trimmed.
func (codexContract) ParseOutput(raw string) string {
	var last string
	found := false
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var rec codexRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if text, ok := rec.assistantText(); ok {
			last = text
			found = true
		}
	}
	if !found {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(last)
}

func (r codexRecord) assistantText() (string, bool) {
	switch {
	case r.Type == "item.completed" && r.Item != nil &&
		(r.Item.Type == "agent_message" || r.Item.Type == "assistant_message"):
		return r.Item.Text, true
	case r.Type == "message" && r.Role == "assistant":
		return contentText(r.Content), true
	}
	return "", false
}

// contentText accepts either a plain string or a list of {type,text}
// parts.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (codexContract) SupportsPromptMode() bool { return true }
func (codexContract) PromptModeFlag() string   { return "" }

type geminiContract struct{}

func (geminiContract) Type() Type     { return TypeGemini }
func (geminiContract) Binary() string { return "gemini" }

func (geminiContract) BuildLaunchArgs(model string, extraFlags []string) []string {
	return withModel([]string{"--yolo"}, model, extraFlags)
}

func (geminiContract) ParseOutput(raw string) string { return strings.TrimSpace(raw) }
func (geminiContract) SupportsPromptMode() bool      { return true }
func (geminiContract) PromptModeFlag() string        { return "-p" }
