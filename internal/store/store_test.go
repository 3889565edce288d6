package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"kild/internal/protocol"
)

func TestWriteReadDeleteRecord(t *testing.T) {
	s := New(t.TempDir())
	info := &protocol.SessionInfo{ID: "sid1", Branch: "main", Status: "running"}

	if err := s.WriteRecord("sid1", info); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	got, err := s.ReadRecord("sid1")
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if got.ID != "sid1" || got.Branch != "main" {
		t.Fatalf("ReadRecord = %+v", got)
	}

	if err := s.DeleteRecord("sid1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := s.ReadRecord("sid1"); err == nil {
		t.Fatalf("expected error reading deleted record")
	}
}

func TestPatchFieldPreservesUnknownKeys(t *testing.T) {
	base := t.TempDir()
	s := New(base)
	sid := "sid1"
	if err := os.MkdirAll(filepath.Join(base, "sessions", sid), 0o755); err != nil {
		t.Fatal(err)
	}
	raw := `{"id":"sid1","status":"running","future_field":{"nested":true}}`
	if err := os.WriteFile(s.recordPath(sid), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.PatchField(sid, "status", "stopped"); err != nil {
		t.Fatalf("PatchField: %v", err)
	}

	data, err := os.ReadFile(s.recordPath(sid))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if string(doc["status"]) != `"stopped"` {
		t.Fatalf("status = %s, want \"stopped\"", doc["status"])
	}
	if _, ok := doc["future_field"]; !ok {
		t.Fatalf("expected unknown field to survive the patch")
	}
}

func TestListSIDsOnMissingDirReturnsEmpty(t *testing.T) {
	s := New(t.TempDir())
	sids, err := s.ListSIDs()
	if err != nil {
		t.Fatalf("ListSIDs: %v", err)
	}
	if len(sids) != 0 {
		t.Fatalf("ListSIDs = %v, want empty", sids)
	}
}
