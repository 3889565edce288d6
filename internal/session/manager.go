package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kild/internal/agent"
	"kild/internal/errors"
	"kild/internal/pane"
	"kild/internal/protocol"
	"kild/internal/pty"
	"kild/internal/store"
)

// Config bounds the resources a manager allocates per session.
type Config struct {
	ScrollbackCapacity int
	ChannelCapacity    int
	ShutdownTimeout    time.Duration
}

// CreateRequest mirrors the wire CreateSession request.
type CreateRequest struct {
	SID              string
	ProjectID        string
	Branch           string
	WorkingDirectory string
	Command          string
	Args             []string
	Env              map[string]string
	Rows, Cols       int
	UseLoginShell    bool
	AgentKind        string
}

// Manager owns every live session and is the single in-process writer of
// session state; it is constructed once and injected into the server loop.
type Manager struct {
	cfg   Config
	store *store.Store
	index *store.BranchIndex

	mu       sync.RWMutex
	sessions map[string]*Record

	panesMu sync.Mutex
	panes   map[string]*paneWatch

	exitCh chan pty.ExitEvent

	stopIndexWatch func()
}

type paneWatch struct {
	registry *pane.Registry
	stop     func()
}

func NewManager(cfg Config, st *store.Store) *Manager {
	index := store.NewBranchIndex(st)
	if err := index.Load(); err != nil {
		slog.Warn("load branch index", "event", "session.manager.index_load_failed", "error", err)
	}
	stopIndexWatch, err := index.Watch()
	if err != nil {
		// Best-effort, matching the index's own persistence guarantees: the
		// in-memory cache still serves reads, it just won't pick up writes
		// from another process sharing this store.
		slog.Warn("watch branch index", "event", "session.manager.index_watch_failed", "error", err)
		stopIndexWatch = func() {}
	}

	m := &Manager{
		cfg:            cfg,
		store:          st,
		index:          index,
		sessions:       make(map[string]*Record),
		panes:          make(map[string]*paneWatch),
		exitCh:         make(chan pty.ExitEvent, 64),
		stopIndexWatch: stopIndexWatch,
	}
	go m.watchExits()
	return m
}

// ExitEvents exposes the PTY-exit channel. The manager's own watchExits
// goroutine already drains it into HandlePTYExit, so any other reader
// competes with it for events.
func (m *Manager) ExitEvents() <-chan pty.ExitEvent {
	return m.exitCh
}

func (m *Manager) watchExits() {
	for ev := range m.exitCh {
		m.HandlePTYExit(ev.SID, ev.ExitCode)
	}
}

// CreateSession spawns a new Daemon-mode session. Fails with
// SessionAlreadyExists if the SID is already present; the write-lock is
// held only for the map insertion, matching §4.5's concurrency note.
func (m *Manager) CreateSession(req CreateRequest) (*protocol.SessionInfo, error) {
	m.mu.Lock()
	if _, exists := m.sessions[req.SID]; exists {
		m.mu.Unlock()
		return nil, errors.AlreadyExists("session %q already exists", req.SID)
	}
	// Reserve the SID immediately so a concurrent create for the same SID
	// fails fast rather than racing the PTY spawn below.
	placeholder := NewRecord(req.SID, req.ProjectID, req.Branch, req.WorkingDirectory, req.AgentKind, ModeDaemon)
	m.sessions[req.SID] = placeholder
	m.mu.Unlock()

	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	command, args := resolveCommand(req)

	broadcaster := pty.NewBroadcaster(m.cfg.ScrollbackCapacity, m.cfg.ChannelCapacity)
	host, err := pty.Spawn(req.SID, pty.Spec{
		Dir:           req.WorkingDirectory,
		Command:       command,
		Args:          args,
		Env:           env,
		Rows:          req.Rows,
		Cols:          req.Cols,
		UseLoginShell: req.UseLoginShell,
	}, broadcaster, m.exitCh)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, req.SID)
		m.mu.Unlock()
		return nil, err
	}

	placeholder.MarkRunning(host, broadcaster)
	placeholder.AddAgentProcess(AgentProcess{
		SpawnID:   uuid.NewString(),
		PID:       host.Pid(),
		StartTime: time.Now(),
	})

	info := m.snapshot(placeholder)
	if err := m.store.WriteRecord(req.SID, info); err != nil {
		// Primary-record failure fails the request atomically: no record,
		// no in-memory session either.
		_ = host.Stop(context.Background(), true)
		m.mu.Lock()
		delete(m.sessions, req.SID)
		m.mu.Unlock()
		return nil, err
	}

	if req.Branch != "" {
		m.index.Update(req.Branch, req.SID)
	}

	return info, nil
}

// resolveCommand fills in the argv for a new session: an explicit command
// wins outright; otherwise it falls back to the agent kind's default argv.
// Either way, a resume-capable agent kind gets its --session-id binding
// argument prepended so a later reattach can pass --resume with the same id.
func resolveCommand(req CreateRequest) (command string, args []string) {
	command, args = req.Command, req.Args
	if command == "" {
		if b, ok := agent.Lookup(req.AgentKind); ok {
			argv, err := b.Argv()
			if err == nil && len(argv) > 0 {
				command = argv[0]
				args = append(argv[1:], args...)
			}
		}
	}
	args = append(agent.CreateSessionArgs(req.AgentKind, uuid.NewString()), args...)
	return command, args
}

func (m *Manager) snapshot(r *Record) *protocol.SessionInfo {
	pid := r.PTYPid()
	var pidPtr *int
	if pid != 0 {
		pidPtr = &pid
	}
	clientCount := m.clientCount(r.SID)
	return &protocol.SessionInfo{
		ID:           r.SID,
		ProjectID:    r.ProjectID,
		Branch:       r.Branch,
		WorktreePath: r.WorktreePath,
		Agent:        r.Agent,
		Status:       r.Status().String(),
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
		Note:         r.Note,
		ClientCount:  &clientCount,
		PTYPid:       pidPtr,
	}
}

// clientCount reports how many receivers are subscribed to the session's
// broadcaster; the manager itself doesn't track connections.
func (m *Manager) clientCount(sid string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[sid]
	if !ok {
		return 0
	}
	b := r.Broadcaster()
	if b == nil {
		return 0
	}
	return b.ReceiverCount()
}

// ListSessions returns a read-locked snapshot of sessions, optionally
// filtered by project ID.
func (m *Manager) ListSessions(projectID string) []protocol.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []protocol.SessionInfo
	for _, r := range m.sessions {
		if projectID != "" && r.ProjectID != projectID {
			continue
		}
		out = append(out, *m.snapshot(r))
	}
	return out
}

func (m *Manager) get(sid string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[sid]
	if !ok {
		return nil, errors.NotFound("session %q not found", sid)
	}
	return r, nil
}

// GetSession returns a read-locked snapshot of one session.
func (m *Manager) GetSession(sid string) (*protocol.SessionInfo, error) {
	r, err := m.get(sid)
	if err != nil {
		return nil, err
	}
	return m.snapshot(r), nil
}

// WriteStdin requires the session to be Running in Daemon mode.
func (m *Manager) WriteStdin(sid string, data []byte) error {
	r, err := m.get(sid)
	if err != nil {
		return err
	}
	if r.Status() != Running || r.RuntimeMode() != ModeDaemon {
		return errors.NotRunning("session %q is not running", sid)
	}
	host := r.Host()
	if host == nil {
		return errors.NotRunning("session %q has no active pty", sid)
	}
	_, err = host.Write(data)
	if err != nil {
		return errors.PTY(err, "write stdin")
	}
	return nil
}

// ResizePTY is best-effort; it errors for Terminal-mode sessions.
func (m *Manager) ResizePTY(sid string, rows, cols int) error {
	r, err := m.get(sid)
	if err != nil {
		return err
	}
	if r.RuntimeMode() != ModeDaemon {
		return errors.NotRunning("session %q has no daemon-owned pty to resize", sid)
	}
	host := r.Host()
	if host == nil {
		return errors.NotRunning("session %q is not running", sid)
	}
	return host.Resize(rows, cols)
}

// ReadScrollback returns the current ring snapshot for Daemon sessions, or
// an empty slice for Terminal sessions.
func (m *Manager) ReadScrollback(sid string) ([]byte, error) {
	r, err := m.get(sid)
	if err != nil {
		return nil, err
	}
	b := r.Broadcaster()
	if b == nil {
		return []byte{}, nil
	}
	return b.ScrollbackContents(), nil
}

// Attach resizes the PTY, subscribes the caller, and hands back a
// (scrollback, receiver) pair. The connection router then promotes the
// connection to streaming mode.
func (m *Manager) Attach(sid string, rows, cols int) ([]byte, *pty.Receiver, error) {
	r, err := m.get(sid)
	if err != nil {
		return nil, nil, err
	}
	host := r.Host()
	if host != nil {
		_ = host.Resize(rows, cols)
	}
	b := r.Broadcaster()
	if b == nil {
		return []byte{}, nil, nil
	}
	return b.ScrollbackContents(), b.Subscribe(), nil
}

// ResolvePane translates a pane ID ("%0", "%1", ...) scoped to a leader
// session into the daemon SID it resolves to, per the shim's panes.json.
// "%0" always means the leader itself, even before any panes.json exists.
// The registry is lazily watched on first use and kept live for the life of
// the leader session.
func (m *Manager) ResolvePane(leaderSID, paneID string) (string, bool) {
	if paneID == "" || paneID == "%0" {
		return leaderSID, true
	}
	reg, err := m.paneRegistry(leaderSID)
	if err != nil {
		return "", false
	}
	p, ok := reg.Pane(paneID)
	if !ok || p.DaemonSessionID == "" {
		return "", false
	}
	return p.DaemonSessionID, true
}

func (m *Manager) paneRegistry(leaderSID string) (*pane.Registry, error) {
	m.panesMu.Lock()
	defer m.panesMu.Unlock()
	if w, ok := m.panes[leaderSID]; ok {
		return w.registry, nil
	}

	path := m.store.ShimPanesPath(leaderSID)
	reg, err := pane.ParseRegistry(path)
	if err != nil {
		return nil, err
	}
	stop, err := pane.Watch(path, reg)
	if err != nil {
		// Watching is best-effort: the shim may not exist yet, or the
		// directory may not be creatable. Serve the one-shot parse.
		stop = func() {}
	}
	m.panes[leaderSID] = &paneWatch{registry: reg, stop: stop}
	return reg, nil
}

func (m *Manager) closePaneWatch(leaderSID string) {
	m.panesMu.Lock()
	defer m.panesMu.Unlock()
	if w, ok := m.panes[leaderSID]; ok {
		w.stop()
		delete(m.panes, leaderSID)
	}
}

// StopSession marks the session Stopped and kills the PTY child, graceful
// first unless force is set.
func (m *Manager) StopSession(sid string, force bool) error {
	r, err := m.get(sid)
	if err != nil {
		return err
	}
	host := r.Host()
	r.MarkStopped()
	if host == nil {
		return nil
	}

	ctx := context.Background()
	if !force {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := host.Stop(ctx, force); err != nil {
		return errors.PTY(err, "stop session %q", sid)
	}
	return m.store.PatchField(sid, "status", Stopped.String())
}

// DestroySession stops the session if running, then removes its record and
// branch-index entries.
func (m *Manager) DestroySession(sid string, force bool) error {
	if _, err := m.get(sid); err != nil {
		return err
	}
	if err := m.StopSession(sid, force); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, sid)
	m.mu.Unlock()
	m.closePaneWatch(sid)
	m.index.Purge(sid)

	return m.store.DeleteRecord(sid)
}

// HandlePTYExit transitions a session Running->Exited(code), closes its
// broadcaster (ending every streaming subscriber), and returns it.
// A no-op if the record is gone or already Stopped.
func (m *Manager) HandlePTYExit(sid string, code *int) *pty.Broadcaster {
	r, err := m.get(sid)
	if err != nil {
		return nil
	}
	if r.Status() == Stopped {
		return nil
	}
	b := r.Broadcaster()
	r.MarkExited(code)
	if b != nil {
		b.Close()
	}
	_ = m.store.PatchFields(sid, map[string]any{
		"status": Exited.String(),
	})
	return b
}

// StopAll gracefully stops every session within the configured shutdown
// window, then force-kills stragglers.
func (m *Manager) StopAll() {
	defer m.stopIndexWatch()

	m.mu.RLock()
	sids := make([]string, 0, len(m.sessions))
	for sid := range m.sessions {
		sids = append(sids, sid)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sid := range sids {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			_ = m.StopSession(sid, false)
		}(sid)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownTimeout):
		m.mu.RLock()
		for _, sid := range sids {
			if r, ok := m.sessions[sid]; ok && r.Status() == Running {
				if host := r.Host(); host != nil {
					_ = host.Stop(context.Background(), true)
				}
			}
		}
		m.mu.RUnlock()
	}
}
