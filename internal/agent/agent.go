// Package agent holds the static table of known agent backends and the
// resume-capability rules gating which ones support conversation resume.
package agent

import (
	"os/exec"

	"github.com/google/shlex"
)

// Backend describes one agent kind's invocation surface.
type Backend struct {
	Name                string
	DisplayName         string
	BinaryName          string
	DefaultCommand      string
	ProcessMatchPatterns []string
	YoloFlags           []string
}

var table = map[string]Backend{
	"amp": {
		Name: "amp", DisplayName: "Amp", BinaryName: "amp",
		DefaultCommand:       "amp",
		ProcessMatchPatterns: []string{"amp"},
	},
	"claude": {
		Name: "claude", DisplayName: "Claude Code", BinaryName: "claude",
		DefaultCommand:       "claude",
		ProcessMatchPatterns: []string{"claude"},
		YoloFlags:            []string{"--dangerously-skip-permissions"},
	},
	"codex": {
		Name: "codex", DisplayName: "Codex", BinaryName: "codex",
		DefaultCommand:       "codex",
		ProcessMatchPatterns: []string{"codex"},
		YoloFlags:            []string{"--dangerously-bypass-approvals-and-sandbox"},
	},
	"gemini": {
		Name: "gemini", DisplayName: "Gemini", BinaryName: "gemini",
		DefaultCommand:       "gemini",
		ProcessMatchPatterns: []string{"gemini"},
		YoloFlags:            []string{"--yolo"},
	},
	"kiro": {
		Name: "kiro", DisplayName: "Kiro", BinaryName: "kiro-cli",
		DefaultCommand:       "kiro-cli chat",
		ProcessMatchPatterns: []string{"kiro-cli", "kiro"},
	},
	"opencode": {
		Name: "opencode", DisplayName: "opencode", BinaryName: "opencode",
		DefaultCommand:       "opencode",
		ProcessMatchPatterns: []string{"opencode"},
	},
}

// All returns every known kind name, for listing/validation.
func All() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}

// Lookup returns the backend for kind, if known.
func Lookup(kind string) (Backend, bool) {
	b, ok := table[kind]
	return b, ok
}

// Available reports whether the backend's binary is on PATH.
func (b Backend) Available() bool {
	_, err := exec.LookPath(b.BinaryName)
	return err == nil
}

// Argv splits the backend's default command into argv, honoring
// multi-word commands like kiro's "kiro-cli chat".
func (b Backend) Argv() ([]string, error) {
	return shlex.Split(b.DefaultCommand)
}

// resumeCapable is the set of agent kinds that support --session-id on
// create and --resume on reattach. Only "claude" qualifies today.
var resumeCapable = map[string]bool{"claude": true}

// SupportsResume reports whether kind can resume a prior conversation.
func SupportsResume(kind string) bool {
	return resumeCapable[kind]
}

// CreateSessionArgs returns the argv fragment that binds a fresh invocation
// of kind to sessionID so it can later be resumed. Empty for kinds that
// don't support resume.
func CreateSessionArgs(kind, sessionID string) []string {
	if !SupportsResume(kind) {
		return nil
	}
	return []string{"--session-id", sessionID}
}

// ResumeSessionArgs returns the argv fragment that resumes sessionID.
// Empty for kinds that don't support resume.
func ResumeSessionArgs(kind, sessionID string) []string {
	if !SupportsResume(kind) {
		return nil
	}
	return []string{"--resume", sessionID}
}
