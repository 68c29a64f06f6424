package schema

// TenantID identifies the account owning a remote server and its notebooks.
type TenantID string

// ConversationID scopes one notebook document and one kernel session.
type ConversationID string

// SessionID identifies a kernel session on the notebook server.
type SessionID string

// KernelID identifies a live kernel on the notebook server.
type KernelID string

// ServerPhase enumerates the remote server lifecycle states.
type ServerPhase string

const (
	// ServerNotRequested means no start attempt has been made.
	ServerNotRequested ServerPhase = "not_requested"
	// ServerStarting means the server is cold-starting.
	ServerStarting ServerPhase = "starting"
	// ServerReady means the server accepts kernel traffic.
	ServerReady ServerPhase = "ready"
	// ServerFailed means the start attempt failed. Terminal for the
	// attempt; a fresh attempt may follow.
	ServerFailed ServerPhase = "failed"
)

// ServerState is a snapshot of the remote server lifecycle.
type ServerState struct {
	Phase    ServerPhase
	Progress int
	Message  string
	Endpoint string
	Reason   string
}

// Ready reports whether the server accepts traffic.
func (s ServerState) Ready() bool { return s.Phase == ServerReady }

// ProgressEvent is one cold-start status update from the hub. Progress is
// not guaranteed monotonic across a stream, but Ready or Failed always
// terminates it.
type ProgressEvent struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Ready    bool   `json:"ready"`
	Failed   bool   `json:"failed"`
}

// Terminal reports whether the event ends its stream.
func (e ProgressEvent) Terminal() bool { return e.Ready || e.Failed }

// UserRecord is the hub's view of a tenant.
type UserRecord struct {
	Name    TenantID          `json:"name"`
	Servers map[string]Server `json:"servers,omitempty"`
}

// Server describes one named server owned by a tenant.
type Server struct {
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Pending  string `json:"pending,omitempty"`
	URL      string `json:"url,omitempty"`
	Progress string `json:"progress_url,omitempty"`
}

// HasReadyServer reports whether the default server is already up.
func (u UserRecord) HasReadyServer() bool {
	server, ok := u.Servers[""]
	return ok && server.Ready
}

// Session is a kernel session bound to a logical notebook path.
type Session struct {
	ID     SessionID `json:"id"`
	Path   string    `json:"path"`
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Kernel KernelRef `json:"kernel"`
}

// KernelRef identifies the kernel backing a session.
type KernelRef struct {
	ID   KernelID `json:"id"`
	Name string   `json:"name"`
}
