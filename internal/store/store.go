// Package store implements the on-disk session registry: atomic record
// files, sidecars, the branch index, and unknown-field-preserving patches.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"kild/internal/errors"
	"kild/internal/protocol"
)

// Store roots every session's files under <dir>/sessions/<sid>/.
type Store struct {
	dir string
}

func New(baseDir string) *Store {
	return &Store{dir: filepath.Join(baseDir, "sessions")}
}

func (s *Store) sessionDir(sid string) string {
	return filepath.Join(s.dir, sid)
}

func (s *Store) recordPath(sid string) string {
	return filepath.Join(s.sessionDir(sid), "kild.json")
}

// ShimPanesPath returns the path a terminal-multiplexer shim writes its
// pane map to for a leader session. The shim never writes through Store;
// this just names where internal/pane should look.
func (s *Store) ShimPanesPath(sid string) string {
	return filepath.Join(filepath.Dir(s.dir), "shim", sid, "panes.json")
}

// writeAtomic writes data to path via a ".tmp" sibling then rename, removing
// the temp file if anything fails along the way.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return errors.IO(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.IO(err, "rename %s to %s", tmp, path)
	}
	return nil
}

// WriteRecord writes the full session record, overwriting any existing one.
// Used only when every field is owned by the writer (record creation).
func (s *Store) WriteRecord(sid string, info *protocol.SessionInfo) error {
	if err := os.MkdirAll(s.sessionDir(sid), 0o755); err != nil {
		return errors.IO(err, "create session dir")
	}
	data, err := json.Marshal(info)
	if err != nil {
		return errors.Serialization(err, "marshal session record")
	}
	return writeAtomic(s.recordPath(sid), data)
}

// ReadRecord reads the session record for sid. Missing or malformed records
// are reported as errors (unlike sidecars, the primary record is not
// best-effort).
func (s *Store) ReadRecord(sid string) (*protocol.SessionInfo, error) {
	data, err := os.ReadFile(s.recordPath(sid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("session %q not found", sid)
		}
		return nil, errors.IO(err, "read record")
	}
	var info protocol.SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.Serialization(err, "decode record")
	}
	return &info, nil
}

// DeleteRecord removes a session's entire directory tree.
func (s *Store) DeleteRecord(sid string) error {
	if err := os.RemoveAll(s.sessionDir(sid)); err != nil {
		return errors.IO(err, "delete session dir")
	}
	return nil
}

// PatchField updates a single field of an existing record while preserving
// every other key verbatim, including keys this binary does not know about.
func (s *Store) PatchField(sid, field string, value any) error {
	return s.PatchFields(sid, map[string]any{field: value})
}

// PatchFields updates multiple fields of an existing record while
// preserving unknown keys, so an older binary never clobbers fields written
// by a newer one.
func (s *Store) PatchFields(sid string, fields map[string]any) error {
	path := s.recordPath(sid)
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.IO(err, "read record for patch")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Serialization(err, "decode record for patch")
	}

	for field, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			return errors.Serialization(err, "encode patch value for %q", field)
		}
		doc[field] = encoded
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return errors.Serialization(err, "re-encode patched record")
	}
	return writeAtomic(path, out)
}

// ListSIDs scans the store for session directories, used as the fallback
// when the branch index is missing or corrupt.
func (s *Store) ListSIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IO(err, "list sessions dir")
	}
	var sids []string
	for _, e := range entries {
		if e.IsDir() {
			sids = append(sids, e.Name())
		}
	}
	return sids, nil
}
