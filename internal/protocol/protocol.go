// Package protocol defines the daemon's wire message types: the
// ClientMessage/DaemonMessage discriminated unions exchanged as one JSON
// object per line over the transport.
package protocol

// SessionInfo is the wire snapshot of a session record. Optional fields are
// omitted from the JSON when unset, mirroring the original's
// skip_serializing_if behavior.
type SessionInfo struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Branch       string `json:"branch"`
	WorktreePath string `json:"worktree_path"`
	Agent        string `json:"agent"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	Note         string `json:"note,omitempty"`
	ClientCount  *int   `json:"client_count,omitempty"`
	PTYPid       *int   `json:"pty_pid,omitempty"`
}

// Request is a client->daemon message. Type discriminates the variant; only
// the fields relevant to that variant are populated. ID correlates the
// response.
type Request struct {
	Type string `json:"type"`
	ID   string `json:"id"`

	// Initialize
	ClientKind  string `json:"client_kind,omitempty"`
	SessionHint string `json:"session_hint,omitempty"`

	// CreateSession
	SessionID       string            `json:"session_id,omitempty"`
	Branch          string            `json:"branch,omitempty"`
	WorkingDirectory string           `json:"working_directory,omitempty"`
	Command         string            `json:"command,omitempty"`
	Args            []string          `json:"args,omitempty"`
	EnvVars         map[string]string `json:"env_vars,omitempty"`
	Rows            int               `json:"rows,omitempty"`
	Cols            int               `json:"cols,omitempty"`
	UseLoginShell   bool              `json:"use_login_shell,omitempty"`
	Agent           string            `json:"agent,omitempty"`

	// ListSessions
	ProjectID string `json:"project_id,omitempty"`

	// WriteStdin
	DataBase64 string `json:"data_base64,omitempty"`

	// StopSession / DestroySession
	Force bool `json:"force,omitempty"`

	// RemoveContext
	CtxID string `json:"ctx_id,omitempty"`
}

// Response is a daemon->client message answering a Request, or an
// unsolicited streaming frame sent after Attach promotes the connection.
type Response struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Initialized
	ProtocolVersion int      `json:"protocol_version,omitempty"`
	Features        []string `json:"features,omitempty"`

	// SessionCreated / GetSession
	Session *SessionInfo `json:"session,omitempty"`

	// SessionList
	Sessions []SessionInfo `json:"sessions,omitempty"`

	// AttachOk / ReadScrollback
	ScrollbackBase64 string `json:"scrollback_base64,omitempty"`

	// AllocateContext
	CtxID string `json:"ctx_id,omitempty"`

	// PtyOutput / PtyExit (streaming)
	SessionIDField string `json:"session_id,omitempty"`
	DataBase64     string `json:"data_base64,omitempty"`
	ExitCode       *int   `json:"exit_code,omitempty"`
	DroppedBytes   int    `json:"dropped_bytes,omitempty"`

	// ErrorResponse
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	IsUserError bool   `json:"is_user_error,omitempty"`
}

// Request type discriminators.
const (
	TypePing            = "Ping"
	TypeInitialize      = "Initialize"
	TypeCreateSession   = "CreateSession"
	TypeListSessions    = "ListSessions"
	TypeGetSession      = "GetSession"
	TypeAttach          = "Attach"
	TypeWriteStdin      = "WriteStdin"
	TypeResizePty       = "ResizePty"
	TypeReadScrollback  = "ReadScrollback"
	TypeStopSession     = "StopSession"
	TypeDestroySession  = "DestroySession"
	TypeAllocateContext = "AllocateContext"
	TypeRemoveContext   = "RemoveContext"
	TypeDaemonStop      = "DaemonStop"
)

// Response/frame type discriminators.
const (
	TypeAck               = "Ack"
	TypeInitialized       = "Initialized"
	TypeSessionCreated    = "SessionCreated"
	TypeSessionList       = "SessionList"
	TypeSessionInfo       = "SessionInfo"
	TypeAttachOk          = "AttachOk"
	TypeScrollbackContent = "ScrollbackContents"
	TypeContextAllocated  = "ContextAllocated"
	TypePtyOutput         = "PtyOutput"
	TypePtyExit           = "PtyExit"
	TypePtyLagged         = "PtyLagged"
	TypeErrorResponse     = "ErrorResponse"
)

// ProtocolVersion is advertised in Initialized responses.
const ProtocolVersion = 1
