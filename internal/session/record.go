// Package session owns the in-memory session record type and the manager
// that creates, attaches to, stops, and destroys sessions.
package session

import (
	"sync"
	"time"

	"kild/internal/pty"
)

// Status is a session's lifecycle state.
type Status int

const (
	Creating Status = iota
	Running
	Stopped
	Exited
)

func (s Status) String() string {
	switch s {
	case Creating:
		return "creating"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// RuntimeMode says whether the daemon owns the PTY (Daemon) or an external
// window does (Terminal) — the latter carries no PTY handle or broadcaster.
type RuntimeMode int

const (
	ModeDaemon RuntimeMode = iota
	ModeTerminal
)

// AgentProcess is one spawn of an agent binary within a session.
type AgentProcess struct {
	SpawnID          string
	PID              int
	StartTime        time.Time
	DaemonSessionID  string
	TerminalWindowID string
	TerminalType     string
}

// Record is the authoritative in-memory state for one session. Mutators
// hold mu and maintain these invariants: Daemon-mode sessions own exactly one PTY host and broadcaster while
// Running; Terminal-mode sessions own neither.
type Record struct {
	mu sync.RWMutex

	SID          string
	ProjectID    string
	Branch       string
	WorktreePath string
	Agent        string
	CreatedAt    time.Time
	Note         string
	InitialPrompt string

	status      Status
	exitCode    *int
	runtimeMode RuntimeMode

	host        *pty.Host
	broadcaster *pty.Broadcaster

	processes []AgentProcess
}

// NewRecord constructs a fresh record in Creating status.
func NewRecord(sid, projectID, branch, worktreePath, agentKind string, mode RuntimeMode) *Record {
	return &Record{
		SID:          sid,
		ProjectID:    projectID,
		Branch:       branch,
		WorktreePath: worktreePath,
		Agent:        agentKind,
		CreatedAt:    time.Now(),
		status:       Creating,
		runtimeMode:  mode,
	}
}

// MarkRunning transitions Creating->Running (or Stopped->Running on reopen)
// and attaches the live PTY host/broadcaster for Daemon-mode sessions.
func (r *Record) MarkRunning(host *pty.Host, broadcaster *pty.Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = Running
	r.exitCode = nil
	if r.runtimeMode == ModeDaemon {
		r.host = host
		r.broadcaster = broadcaster
	}
}

// MarkStopped transitions Running->Stopped and drops the PTY handle and
// broadcaster (the caller is responsible for having stopped the child).
func (r *Record) MarkStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = Stopped
	r.host = nil
	r.broadcaster = nil
}

// MarkExited transitions Running->Exited(code). A no-op if the session is
// already Stopped, matching the "stop races PTY-exit" rule in §4.5.
func (r *Record) MarkExited(code *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == Stopped {
		return
	}
	r.status = Exited
	r.exitCode = code
	r.host = nil
	r.broadcaster = nil
}

func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Record) ExitCode() *int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exitCode
}

func (r *Record) RuntimeMode() RuntimeMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtimeMode
}

// Host returns the live PTY host, or nil if the session isn't running in
// Daemon mode.
func (r *Record) Host() *pty.Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host
}

// Broadcaster returns the live output broadcaster, or nil.
func (r *Record) Broadcaster() *pty.Broadcaster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcaster
}

func (r *Record) AddAgentProcess(p AgentProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes = append(r.processes, p)
}

// ReplaceAgentProcess swaps the process with the given spawn ID, or appends
// it if no such spawn is tracked yet.
func (r *Record) ReplaceAgentProcess(p AgentProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.processes {
		if existing.SpawnID == p.SpawnID {
			r.processes[i] = p
			return
		}
	}
	r.processes = append(r.processes, p)
}

func (r *Record) AgentProcesses() []AgentProcess {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentProcess, len(r.processes))
	copy(out, r.processes)
	return out
}

// PTYPid returns the current PTY child's PID, or 0 if none is running.
func (r *Record) PTYPid() int {
	r.mu.RLock()
	host := r.host
	r.mu.RUnlock()
	if host == nil {
		return 0
	}
	return host.Pid()
}
