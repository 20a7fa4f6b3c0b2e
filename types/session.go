package types

import "github.com/google/uuid"

// SessionState is the lifecycle state of one analysis session.
//
//	Idle -> Streaming -> Completed
//	             \-----> Failed
//
// Idle may also move directly to Failed when the transport fails before
// the first chunk arrives.
type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionStreaming SessionState = "streaming"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// IsTerminal returns true for Completed and Failed.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case SessionIdle:
		return next == SessionStreaming || next == SessionFailed
	case SessionStreaming:
		return next == SessionCompleted || next == SessionFailed
	default:
		return false
	}
}

// SessionMeta identifies one analysis session.
type SessionMeta struct {
	// SessionID is a unique identifier for the session (UUID).
	SessionID string
	// Endpoint is the analysis endpoint the session streams from.
	Endpoint string
	// Filename is the uploaded drawing's name, if known.
	Filename string
}

// OutcomeStatus classifies how a session ended.
type OutcomeStatus string

const (
	// OutcomeSuccess: clean end of stream, no server errors.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeServerError: clean end of stream, at least one error event.
	OutcomeServerError OutcomeStatus = "server_error"
	// OutcomeTransportFailure: connection, status or framing failure.
	OutcomeTransportFailure OutcomeStatus = "transport_failure"
	// OutcomeCanceled: the caller abandoned the session.
	OutcomeCanceled OutcomeStatus = "canceled"
)

// Outcome is the final result classification of a session.
type Outcome struct {
	Status  OutcomeStatus `json:"status" yaml:"status"`
	Message string        `json:"message" yaml:"message"`
}

// NewSessionMeta creates session metadata with a fresh random id.
func NewSessionMeta(endpoint, filename string) *SessionMeta {
	return &SessionMeta{
		SessionID: uuid.NewString(),
		Endpoint:  endpoint,
		Filename:  filename,
	}
}
