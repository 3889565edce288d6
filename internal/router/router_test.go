package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"kild/internal/errors"
	"kild/internal/protocol"
	"kild/internal/pty"
	"kild/internal/session"
)

type fakeManager struct {
	sessions  map[string]*protocol.SessionInfo
	panes     map[string]string // leaderSID+paneID -> sid
	lastCreate session.CreateRequest
}

func newFakeManager() *fakeManager {
	return &fakeManager{sessions: map[string]*protocol.SessionInfo{}, panes: map[string]string{}}
}

func (f *fakeManager) CreateSession(req session.CreateRequest) (*protocol.SessionInfo, error) {
	f.lastCreate = req
	if _, ok := f.sessions[req.SID]; ok {
		return nil, errors.AlreadyExists("session %q already exists", req.SID)
	}
	info := &protocol.SessionInfo{ID: req.SID, ProjectID: req.ProjectID, Agent: req.AgentKind, Status: "running"}
	f.sessions[req.SID] = info
	return info, nil
}

func (f *fakeManager) ListSessions(projectID string) []protocol.SessionInfo {
	var out []protocol.SessionInfo
	for _, s := range f.sessions {
		if projectID == "" || s.ProjectID == projectID {
			out = append(out, *s)
		}
	}
	return out
}

func (f *fakeManager) GetSession(sid string) (*protocol.SessionInfo, error) {
	s, ok := f.sessions[sid]
	if !ok {
		return nil, errors.NotFound("session %q not found", sid)
	}
	return s, nil
}

func (f *fakeManager) WriteStdin(sid string, data []byte) error { return nil }
func (f *fakeManager) ResizePTY(sid string, rows, cols int) error { return nil }
func (f *fakeManager) ReadScrollback(sid string) ([]byte, error) { return []byte("scroll"), nil }

func (f *fakeManager) Attach(sid string, rows, cols int) ([]byte, *pty.Receiver, error) {
	if _, ok := f.sessions[sid]; !ok {
		return nil, nil, errors.NotFound("session %q not found", sid)
	}
	return []byte("backlog"), nil, nil
}

func (f *fakeManager) StopSession(sid string, force bool) error    { return nil }
func (f *fakeManager) DestroySession(sid string, force bool) error { return nil }

func (f *fakeManager) ResolvePane(leaderSID, paneID string) (string, bool) {
	if paneID == "" || paneID == "%0" {
		return leaderSID, true
	}
	sid, ok := f.panes[leaderSID+paneID]
	return sid, ok
}

func runConn(t *testing.T, mgr Manager) (client net.Conn, wait func()) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	c := NewConn(serverConn, mgr, nil)
	done := make(chan struct{})
	go func() {
		c.Serve(context.Background())
		close(done)
	}()
	return clientConn, func() { <-done }
}

func sendAndRecv(t *testing.T, client net.Conn, req protocol.Request) protocol.Response {
	t.Helper()
	client.SetDeadline(time.Now().Add(2 * time.Second))
	enc, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := client.Write(append(enc, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestPingReturnsAck(t *testing.T) {
	client, wait := runConn(t, newFakeManager())
	defer func() { client.Close(); wait() }()

	resp := sendAndRecv(t, client, protocol.Request{Type: protocol.TypePing, ID: "1"})
	if resp.Type != protocol.TypeAck || resp.ID != "1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateSessionThenGetSession(t *testing.T) {
	client, wait := runConn(t, newFakeManager())
	defer func() { client.Close(); wait() }()

	created := sendAndRecv(t, client, protocol.Request{
		Type: protocol.TypeCreateSession, ID: "1", SessionID: "sid-1", ProjectID: "proj",
	})
	if created.Type != protocol.TypeSessionCreated || created.Session == nil || created.Session.ID != "sid-1" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	got := sendAndRecv(t, client, protocol.Request{Type: protocol.TypeGetSession, ID: "2", SessionID: "sid-1"})
	if got.Type != protocol.TypeSessionInfo || got.Session == nil || got.Session.ID != "sid-1" {
		t.Fatalf("unexpected get response: %+v", got)
	}
}

func TestCreateSessionThreadsAgentKind(t *testing.T) {
	mgr := newFakeManager()
	client, wait := runConn(t, mgr)
	defer func() { client.Close(); wait() }()

	created := sendAndRecv(t, client, protocol.Request{
		Type: protocol.TypeCreateSession, ID: "1", SessionID: "sid-claude", ProjectID: "proj", Agent: "claude",
	})
	if created.Type != protocol.TypeSessionCreated || created.Session == nil {
		t.Fatalf("unexpected create response: %+v", created)
	}
	if mgr.lastCreate.AgentKind != "claude" {
		t.Fatalf("AgentKind = %q, want %q", mgr.lastCreate.AgentKind, "claude")
	}
	if created.Session.Agent != "claude" {
		t.Fatalf("Session.Agent = %q, want %q", created.Session.Agent, "claude")
	}
}

func TestCreateSessionThreadsBranch(t *testing.T) {
	mgr := newFakeManager()
	client, wait := runConn(t, mgr)
	defer func() { client.Close(); wait() }()

	sendAndRecv(t, client, protocol.Request{
		Type: protocol.TypeCreateSession, ID: "1", SessionID: "sid-1", ProjectID: "proj", Branch: "feature/x",
	})
	if mgr.lastCreate.Branch != "feature/x" {
		t.Fatalf("Branch = %q, want %q", mgr.lastCreate.Branch, "feature/x")
	}
}

func TestGetUnknownSessionReturnsErrorResponse(t *testing.T) {
	client, wait := runConn(t, newFakeManager())
	defer func() { client.Close(); wait() }()

	resp := sendAndRecv(t, client, protocol.Request{Type: protocol.TypeGetSession, ID: "1", SessionID: "missing"})
	if resp.Type != protocol.TypeErrorResponse || resp.Code != string(errors.SessionNotFound) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestInitializeRegistersLeaderContext(t *testing.T) {
	mgr := newFakeManager()
	serverConn, clientConn := net.Pipe()
	c := NewConn(serverConn, mgr, nil)
	done := make(chan struct{})
	go func() {
		c.Serve(context.Background())
		close(done)
	}()
	defer func() { clientConn.Close(); <-done }()

	resp := sendAndRecv(t, clientConn, protocol.Request{
		Type: protocol.TypeInitialize, ID: "1", ClientKind: "shim", SessionHint: "sid-leader",
	})
	if resp.Type != protocol.TypeInitialized || resp.ProtocolVersion != protocol.ProtocolVersion {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if sid, ok := c.ctxMap.SessionFor("ctx_0"); !ok || sid != "sid-leader" {
		t.Fatalf("leader context not registered: %q, %v", sid, ok)
	}
}

func TestAllocateContextResolvesPaneIDAgainstLeader(t *testing.T) {
	mgr := newFakeManager()
	mgr.panes["sid-leader%1"] = "sid-teammate"
	serverConn, clientConn := net.Pipe()
	c := NewConn(serverConn, mgr, nil)
	done := make(chan struct{})
	go func() {
		c.Serve(context.Background())
		close(done)
	}()
	defer func() { clientConn.Close(); <-done }()

	init := sendAndRecv(t, clientConn, protocol.Request{
		Type: protocol.TypeInitialize, ID: "1", ClientKind: "shim", SessionHint: "sid-leader",
	})
	if init.Type != protocol.TypeInitialized {
		t.Fatalf("unexpected initialize response: %+v", init)
	}

	resp := sendAndRecv(t, clientConn, protocol.Request{
		Type: protocol.TypeAllocateContext, ID: "2", SessionID: "%1",
	})
	if resp.Type != protocol.TypeContextAllocated {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if sid, ok := c.ctxMap.SessionFor(resp.CtxID); !ok || sid != "sid-teammate" {
		t.Fatalf("pane %%1 did not resolve to sid-teammate: %q, %v", sid, ok)
	}
}

func TestAllocateContextUnknownPaneReturnsErrorResponse(t *testing.T) {
	mgr := newFakeManager()
	serverConn, clientConn := net.Pipe()
	c := NewConn(serverConn, mgr, nil)
	done := make(chan struct{})
	go func() {
		c.Serve(context.Background())
		close(done)
	}()
	defer func() { clientConn.Close(); <-done }()

	sendAndRecv(t, clientConn, protocol.Request{
		Type: protocol.TypeInitialize, ID: "1", ClientKind: "shim", SessionHint: "sid-leader",
	})
	resp := sendAndRecv(t, clientConn, protocol.Request{
		Type: protocol.TypeAllocateContext, ID: "2", SessionID: "%9",
	})
	if resp.Type != protocol.TypeErrorResponse {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAttachToUnknownSessionReturnsErrorResponse(t *testing.T) {
	client, wait := runConn(t, newFakeManager())
	defer func() { client.Close(); wait() }()

	resp := sendAndRecv(t, client, protocol.Request{
		Type: protocol.TypeAttach, ID: "1", SessionID: "missing", Rows: 24, Cols: 80,
	})
	if resp.Type != protocol.TypeErrorResponse || resp.Code != string(errors.SessionNotFound) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
