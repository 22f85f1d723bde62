package server

// Wire messages for the evaluation service. The same structs travel as JSON
// over Connect and as CBOR over Connect or gRPC.

// EvaluateRequest asks a session to interpret one source unit. An empty
// SessionID selects the default session.
type EvaluateRequest struct {
	SessionID string `json:"session_id,omitempty" cbor:"1,keyasint,omitempty"`
	Source    string `json:"source" cbor:"2,keyasint"`
}

// Evaluation status values.
const (
	StatusOK           = "ok"
	StatusCompileError = "compile_error"
	StatusRuntimeError = "runtime_error"
)

// EvaluateResponse carries the outcome of one Interpret call.
type EvaluateResponse struct {
	SessionID   string   `json:"session_id" cbor:"1,keyasint"`
	Status      string   `json:"status" cbor:"2,keyasint"`
	Output      string   `json:"output" cbor:"3,keyasint"`
	Diagnostics []string `json:"diagnostics,omitempty" cbor:"4,keyasint,omitempty"`
	Error       string   `json:"error,omitempty" cbor:"5,keyasint,omitempty"`
	Line        int      `json:"line,omitempty" cbor:"6,keyasint,omitempty"`
}

// CreateSessionRequest creates a session with fresh globals.
type CreateSessionRequest struct {
	Name string `json:"name,omitempty" cbor:"1,keyasint,omitempty"`
}

// CreateSessionResponse returns the new session's ID.
type CreateSessionResponse struct {
	SessionID string `json:"session_id" cbor:"1,keyasint"`
}

// DestroySessionRequest removes a session.
type DestroySessionRequest struct {
	SessionID string `json:"session_id" cbor:"1,keyasint"`
}

// DestroySessionResponse is empty.
type DestroySessionResponse struct{}

// ForkSessionRequest copies a session's globals into a new session.
type ForkSessionRequest struct {
	SessionID string `json:"session_id" cbor:"1,keyasint"`
	Name      string `json:"name,omitempty" cbor:"2,keyasint,omitempty"`
}

// ForkSessionResponse returns the fork's ID.
type ForkSessionResponse struct {
	SessionID string `json:"session_id" cbor:"1,keyasint"`
}

// ListSessionsRequest is empty.
type ListSessionsRequest struct{}

// SessionInfo describes one session.
type SessionInfo struct {
	SessionID string   `json:"session_id" cbor:"1,keyasint"`
	Name      string   `json:"name,omitempty" cbor:"2,keyasint,omitempty"`
	Globals   []string `json:"globals,omitempty" cbor:"3,keyasint,omitempty"`
	CreatedAt int64    `json:"created_at" cbor:"4,keyasint"`
}

// ListSessionsResponse lists sessions oldest first.
type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions" cbor:"1,keyasint"`
}

// DisassembleRequest compiles source without running it.
type DisassembleRequest struct {
	Source string `json:"source" cbor:"1,keyasint"`
}

// DisassembleResponse holds the bytecode listing, or diagnostics when the
// source does not compile.
type DisassembleResponse struct {
	Listing     string   `json:"listing,omitempty" cbor:"1,keyasint,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty" cbor:"2,keyasint,omitempty"`
}

// HistoryRequest asks for a session's most recent inputs.
type HistoryRequest struct {
	SessionID string `json:"session_id,omitempty" cbor:"1,keyasint,omitempty"`
	Limit     int    `json:"limit,omitempty" cbor:"2,keyasint,omitempty"`
}

// HistoryEntry is one recorded input.
type HistoryEntry struct {
	ID        string `json:"id" cbor:"1,keyasint"`
	Source    string `json:"source" cbor:"2,keyasint"`
	Status    string `json:"status" cbor:"3,keyasint"`
	CreatedAt int64  `json:"created_at" cbor:"4,keyasint"`
}

// HistoryResponse lists entries oldest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries" cbor:"1,keyasint"`
}
