package router

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"strings"
	"sync"

	"kild/internal/errors"
	"kild/internal/protocol"
	"kild/internal/pty"
	"kild/internal/session"
)

// Manager is the subset of *session.Manager the router depends on, kept as
// an interface so the router can be tested against a fake.
type Manager interface {
	CreateSession(req session.CreateRequest) (*protocol.SessionInfo, error)
	ListSessions(projectID string) []protocol.SessionInfo
	GetSession(sid string) (*protocol.SessionInfo, error)
	WriteStdin(sid string, data []byte) error
	ResizePTY(sid string, rows, cols int) error
	ReadScrollback(sid string) ([]byte, error)
	Attach(sid string, rows, cols int) ([]byte, *pty.Receiver, error)
	StopSession(sid string, force bool) error
	DestroySession(sid string, force bool) error
	ResolvePane(leaderSID, paneID string) (string, bool)
}

// Conn handles one client connection end to end: Initialize handshake,
// request/response dispatch, and — after a successful Attach — streaming.
type Conn struct {
	codec   *protocol.Codec
	mgr     Manager
	ctxMap  *ContextMap
	onStop  func()

	writeMu sync.Mutex
}

// NewConn wraps rw in a Conn. onStop is invoked when the client sends
// DaemonStop; it is typically the server's shutdown trigger.
func NewConn(rw io.ReadWriter, mgr Manager, onStop func()) *Conn {
	return &Conn{
		codec:  protocol.NewCodec(rw),
		mgr:    mgr,
		ctxMap: NewContextMap(),
		onStop: onStop,
	}
}

// Serve runs the connection's read/dispatch loop until the client disconnects,
// a transport error occurs, or ctx is cancelled.
func (c *Conn) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := c.codec.ReadRequest()
		if err != nil {
			slog.Warn("connection read failed", "event", "router.read_failed", "error", err)
			return
		}
		if req == nil {
			return
		}

		if req.Type == protocol.TypeAttach {
			c.handleAttach(ctx, req)
			continue
		}

		resp := c.dispatch(req)
		if err := c.writeFlush(resp); err != nil {
			slog.Warn("connection write failed", "event", "router.write_failed", "error", err)
			return
		}
		if req.Type == protocol.TypeDaemonStop && c.onStop != nil {
			c.onStop()
		}
	}
}

func (c *Conn) writeFlush(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteMessageFlush(v)
}

// dispatch handles every request type except Attach, which needs to take
// over the connection for streaming.
func (c *Conn) dispatch(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.TypePing:
		return &protocol.Response{Type: protocol.TypeAck, ID: req.ID}

	case protocol.TypeInitialize:
		if req.SessionHint != "" {
			c.ctxMap.RegisterLeader(req.SessionHint)
		}
		return &protocol.Response{
			Type:            protocol.TypeInitialized,
			ID:              req.ID,
			ProtocolVersion: protocol.ProtocolVersion,
			Features:        []string{"attach", "contexts"},
		}

	case protocol.TypeCreateSession:
		info, err := c.mgr.CreateSession(session.CreateRequest{
			SID:              req.SessionID,
			Branch:           req.Branch,
			WorkingDirectory: req.WorkingDirectory,
			Command:          req.Command,
			Args:             req.Args,
			Env:              req.EnvVars,
			Rows:             req.Rows,
			Cols:             req.Cols,
			UseLoginShell:    req.UseLoginShell,
			ProjectID:        req.ProjectID,
			AgentKind:        req.Agent,
		})
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return &protocol.Response{Type: protocol.TypeSessionCreated, ID: req.ID, Session: info}

	case protocol.TypeListSessions:
		sessions := c.mgr.ListSessions(req.ProjectID)
		return &protocol.Response{Type: protocol.TypeSessionList, ID: req.ID, Sessions: sessions}

	case protocol.TypeGetSession:
		info, err := c.mgr.GetSession(req.SessionID)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return &protocol.Response{Type: protocol.TypeSessionInfo, ID: req.ID, Session: info}

	case protocol.TypeWriteStdin:
		data, err := base64.StdEncoding.DecodeString(req.DataBase64)
		if err != nil {
			return errorResponse(req.ID, errors.Base64(err))
		}
		if err := c.mgr.WriteStdin(req.SessionID, data); err != nil {
			return errorResponse(req.ID, err)
		}
		return &protocol.Response{Type: protocol.TypeAck, ID: req.ID}

	case protocol.TypeResizePty:
		if err := c.mgr.ResizePTY(req.SessionID, req.Rows, req.Cols); err != nil {
			return errorResponse(req.ID, err)
		}
		return &protocol.Response{Type: protocol.TypeAck, ID: req.ID}

	case protocol.TypeReadScrollback:
		data, err := c.mgr.ReadScrollback(req.SessionID)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return &protocol.Response{
			Type:             protocol.TypeScrollbackContent,
			ID:               req.ID,
			ScrollbackBase64: base64.StdEncoding.EncodeToString(data),
		}

	case protocol.TypeStopSession:
		if err := c.mgr.StopSession(req.SessionID, req.Force); err != nil {
			return errorResponse(req.ID, err)
		}
		return &protocol.Response{Type: protocol.TypeAck, ID: req.ID}

	case protocol.TypeDestroySession:
		if err := c.mgr.DestroySession(req.SessionID, req.Force); err != nil {
			return errorResponse(req.ID, err)
		}
		return &protocol.Response{Type: protocol.TypeAck, ID: req.ID}

	case protocol.TypeAllocateContext:
		sid := req.SessionID
		if leader, ok := c.ctxMap.SessionFor("ctx_0"); ok && strings.HasPrefix(sid, "%") {
			resolved, ok := c.mgr.ResolvePane(leader, sid)
			if !ok {
				return errorResponse(req.ID, errors.NotFound("pane %q not found", sid))
			}
			sid = resolved
		}
		ctxID := c.ctxMap.Allocate(sid)
		return &protocol.Response{Type: protocol.TypeContextAllocated, ID: req.ID, CtxID: ctxID}

	case protocol.TypeRemoveContext:
		c.ctxMap.Remove(req.CtxID)
		return &protocol.Response{Type: protocol.TypeAck, ID: req.ID}

	case protocol.TypeDaemonStop:
		return &protocol.Response{Type: protocol.TypeAck, ID: req.ID}

	default:
		return errorResponse(req.ID, errors.Protocol("unknown request type %q", req.Type))
	}
}

// handleAttach promotes the connection to streaming mode: a writer goroutine
// pumps broadcaster chunks out as PtyOutput/PtyLagged frames while this
// goroutine keeps reading WriteStdin/ResizePty/RemoveContext requests until
// the broadcaster closes (PTY exit) or the client disconnects.
func (c *Conn) handleAttach(ctx context.Context, req *protocol.Request) {
	scrollback, recv, err := c.mgr.Attach(req.SessionID, req.Rows, req.Cols)
	if err != nil {
		_ = c.writeFlush(errorResponse(req.ID, err))
		return
	}

	if err := c.writeFlush(&protocol.Response{
		Type:             protocol.TypeAttachOk,
		ID:               req.ID,
		ScrollbackBase64: base64.StdEncoding.EncodeToString(scrollback),
	}); err != nil {
		return
	}

	if recv == nil {
		return
	}

	streamDone := make(chan struct{})
	go c.streamOutput(req.SessionID, recv, streamDone)

	defer func() {
		<-streamDone
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-streamDone:
			return
		default:
		}

		next, err := c.codec.ReadRequest()
		if err != nil || next == nil {
			return
		}

		switch next.Type {
		case protocol.TypeWriteStdin:
			data, derr := base64.StdEncoding.DecodeString(next.DataBase64)
			if derr != nil {
				_ = c.writeFlush(errorResponse(next.ID, errors.Base64(derr)))
				continue
			}
			werr := c.mgr.WriteStdin(req.SessionID, data)
			if werr != nil {
				_ = c.writeFlush(errorResponse(next.ID, werr))
				continue
			}
			_ = c.writeFlush(&protocol.Response{Type: protocol.TypeAck, ID: next.ID})

		case protocol.TypeResizePty:
			if rerr := c.mgr.ResizePTY(req.SessionID, next.Rows, next.Cols); rerr != nil {
				_ = c.writeFlush(errorResponse(next.ID, rerr))
				continue
			}
			_ = c.writeFlush(&protocol.Response{Type: protocol.TypeAck, ID: next.ID})

		case protocol.TypeRemoveContext:
			c.ctxMap.Remove(next.CtxID)
			_ = c.writeFlush(&protocol.Response{Type: protocol.TypeAck, ID: next.ID})

		default:
			// A detach, or any other control message, ends streaming.
			return
		}
	}
}

// streamOutput pumps broadcaster chunks to the client until the broadcaster
// closes. It never blocks on the reader goroutine above beyond the write
// itself, matching the backpressure-avoidance contract of the broadcaster.
func (c *Conn) streamOutput(sid string, recv *pty.Receiver, done chan<- struct{}) {
	defer close(done)
	for {
		chunk, ok := recv.Recv()
		if !ok {
			_ = c.writeFlush(&protocol.Response{Type: protocol.TypePtyExit, SessionIDField: sid})
			return
		}
		if chunk.Lagged {
			if err := c.writeFlush(&protocol.Response{
				Type:           protocol.TypePtyLagged,
				SessionIDField: sid,
				DroppedBytes:   chunk.Dropped,
			}); err != nil {
				return
			}
			continue
		}
		if err := c.writeFlush(&protocol.Response{
			Type:           protocol.TypePtyOutput,
			SessionIDField: sid,
			DataBase64:     base64.StdEncoding.EncodeToString(chunk.Data),
		}); err != nil {
			return
		}
	}
}

func errorResponse(id string, err error) *protocol.Response {
	var de *errors.Error
	if e, ok := err.(*errors.Error); ok {
		de = e
	} else {
		de = errors.New(errors.ProtocolError, false, "%v", err)
	}
	return &protocol.Response{
		Type:        protocol.TypeErrorResponse,
		ID:          id,
		Code:        string(de.Code),
		Message:     de.Message,
		IsUserError: de.IsUserError,
	}
}
