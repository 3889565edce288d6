package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// AgentStatus is the coarse liveness sidecar an agent process writes
// independently of the daemon.
type AgentStatus struct {
	State     string    `json:"state"` // Working, Idle, Waiting, Done, Error
	Timestamp time.Time `json:"timestamp"`
}

// PRInfo is the sidecar describing an associated pull-request, if any.
type PRInfo struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
	State  string `json:"state"`
}

func (s *Store) statusPath(sid string) string {
	return filepath.Join(s.sessionDir(sid), "status")
}

func (s *Store) prPath(sid string) string {
	return filepath.Join(s.sessionDir(sid), "pr")
}

// WriteAgentStatus atomically writes the status sidecar.
func (s *Store) WriteAgentStatus(sid string, status AgentStatus) error {
	if err := os.MkdirAll(s.sessionDir(sid), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return writeAtomic(s.statusPath(sid), data)
}

// ReadAgentStatus is best-effort: a missing or corrupt sidecar yields nil
// (a corrupt one after logging a warning), rather than failing the caller.
func (s *Store) ReadAgentStatus(sid string) *AgentStatus {
	data, err := os.ReadFile(s.statusPath(sid))
	if err != nil {
		return nil
	}
	var status AgentStatus
	if err := json.Unmarshal(data, &status); err != nil {
		slog.Warn("corrupt agent status sidecar", "event", "store.sidecar.corrupt", "sid", sid, "error", err)
		return nil
	}
	return &status
}

// RemoveAgentStatus is best-effort; a missing file is not an error.
func (s *Store) RemoveAgentStatus(sid string) {
	_ = os.Remove(s.statusPath(sid))
}

// WritePRInfo atomically writes the pr sidecar.
func (s *Store) WritePRInfo(sid string, info PRInfo) error {
	if err := os.MkdirAll(s.sessionDir(sid), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return writeAtomic(s.prPath(sid), data)
}

// ReadPRInfo is best-effort, matching ReadAgentStatus.
func (s *Store) ReadPRInfo(sid string) *PRInfo {
	data, err := os.ReadFile(s.prPath(sid))
	if err != nil {
		return nil
	}
	var info PRInfo
	if err := json.Unmarshal(data, &info); err != nil {
		slog.Warn("corrupt pr info sidecar", "event", "store.sidecar.corrupt", "sid", sid, "error", err)
		return nil
	}
	return &info
}

// RemovePRInfo is best-effort.
func (s *Store) RemovePRInfo(sid string) {
	_ = os.Remove(s.prPath(sid))
}
