package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const indexFile = "branch_index.json"

// BranchIndex caches the branch->sid mapping for O(1) lookup, with a
// full-directory-scan fallback when the on-disk index is missing or
// corrupt, and an fsnotify watch so out-of-process writers are picked up
// without polling.
type BranchIndex struct {
	store *Store
	path  string

	mu    sync.RWMutex
	byBranch map[string]string

	watcher *fsnotify.Watcher
}

func NewBranchIndex(s *Store) *BranchIndex {
	return &BranchIndex{
		store:    s,
		path:     filepath.Join(s.dir, indexFile),
		byBranch: make(map[string]string),
	}
}

// Load reads the index from disk, falling back to a full directory scan of
// session records if the file is missing or corrupt.
func (bi *BranchIndex) Load() error {
	data, err := os.ReadFile(bi.path)
	if err != nil {
		return bi.rebuildFromScan()
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("corrupt branch index, rebuilding from scan", "event", "store.index.corrupt", "error", err)
		return bi.rebuildFromScan()
	}

	bi.mu.Lock()
	bi.byBranch = m
	bi.mu.Unlock()
	return nil
}

func (bi *BranchIndex) rebuildFromScan() error {
	sids, err := bi.store.ListSIDs()
	if err != nil {
		return err
	}
	m := make(map[string]string)
	for _, sid := range sids {
		record, err := bi.store.ReadRecord(sid)
		if err != nil {
			continue
		}
		if record.Branch != "" {
			m[record.Branch] = sid
		}
	}
	bi.mu.Lock()
	bi.byBranch = m
	bi.mu.Unlock()
	return nil
}

// Lookup returns the sid mapped to branch, if any.
func (bi *BranchIndex) Lookup(branch string) (string, bool) {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	sid, ok := bi.byBranch[branch]
	return sid, ok
}

// Update records branch->sid and persists the index atomically. Best-effort:
// a write failure is logged, not returned, since the index is a cache.
func (bi *BranchIndex) Update(branch, sid string) {
	bi.mu.Lock()
	bi.byBranch[branch] = sid
	bi.mu.Unlock()
	bi.persist()
}

// Purge removes every entry mapped to sid (used on session destroy).
func (bi *BranchIndex) Purge(sid string) {
	bi.mu.Lock()
	for branch, mapped := range bi.byBranch {
		if mapped == sid {
			delete(bi.byBranch, branch)
		}
	}
	bi.mu.Unlock()
	bi.persist()
}

func (bi *BranchIndex) persist() {
	bi.mu.RLock()
	data, err := json.Marshal(bi.byBranch)
	bi.mu.RUnlock()
	if err != nil {
		slog.Warn("encode branch index", "event", "store.index.encode_failed", "error", err)
		return
	}
	if err := writeAtomic(bi.path, data); err != nil {
		slog.Warn("persist branch index", "event", "store.index.write_failed", "error", err)
	}
}

// Watch starts an fsnotify watch on the index file's directory and reloads
// the in-memory cache whenever the index changes underneath this process
// (e.g. written by another daemon invocation during a brief overlap at
// restart). The returned stop function releases the watcher.
func (bi *BranchIndex) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(bi.store.dir, 0o755); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(bi.store.dir); err != nil {
		w.Close()
		return nil, err
	}
	bi.watcher = w

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == indexFile && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					if err := bi.Load(); err != nil {
						slog.Warn("reload branch index", "event", "store.index.reload_failed", "error", err)
					}
				}
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
