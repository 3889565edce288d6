// Package pane bridges the daemon to the optional terminal-multiplexer shim:
// it parses the pane registry a shim writes per session and keeps it fresh
// by watching the file, so multi-pane ("teammate") setups can be routed.
package pane

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Pane is one entry in a shim's panes.json.
type Pane struct {
	DaemonSessionID string `json:"daemon_session_id"`
	Title           string `json:"title"`
	BorderStyle     string `json:"border_style"`
	Hidden          bool   `json:"hidden"`
}

type registryFile struct {
	Panes map[string]Pane `json:"panes"`
}

// Registry holds the parsed, non-hidden panes for one session's shim, keyed
// by pane ID ("%0" is always the leader).
type Registry struct {
	mu    sync.RWMutex
	panes map[string]Pane
}

// ParseRegistry reads and parses a panes.json file. A missing file yields
// an empty Registry rather than an error — the bridge never writes
// panes.json and must tolerate its absence.
func ParseRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{panes: map[string]Pane{}}, nil
		}
		return nil, err
	}

	var doc registryFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	visible := make(map[string]Pane, len(doc.Panes))
	for id, p := range doc.Panes {
		if !p.Hidden {
			visible[id] = p
		}
	}
	return &Registry{panes: visible}, nil
}

// Leader returns the "%0" pane, if present.
func (r *Registry) Leader() (Pane, bool) {
	return r.Pane("%0")
}

// Pane returns the pane with the given shim-assigned ID.
func (r *Registry) Pane(id string) (Pane, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.panes[id]
	return p, ok
}

// SIDs returns the daemon session IDs of every visible, resolved pane.
func (r *Registry) SIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.panes))
	for _, p := range r.panes {
		if p.DaemonSessionID != "" {
			out = append(out, p.DaemonSessionID)
		}
	}
	return out
}

func (r *Registry) replace(other *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panes = other.panes
}

// Watch reloads the Registry whenever path changes on disk, via fsnotify
// rather than polling. The returned stop function releases the watcher.
func Watch(path string, reg *Registry) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fresh, err := ParseRegistry(path)
				if err != nil {
					slog.Warn("reload pane registry", "event", "pane.registry.reload_failed", "error", err)
					continue
				}
				reg.replace(fresh)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}
