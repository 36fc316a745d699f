// Package approval defines the human-approval channel the permission gate
// defers to when no local policy decides a tool invocation.
//
// The gate treats the channel as an opaque collaborator: it sends a request
// keyed by a generated id and waits for a matching response. The concrete
// transport (in-process channels, sockets, files) is the host's choice; this
// package ships the in-process implementation used by the session manager and
// by tests.
//
// There is deliberately no internal timeout on the wait: if the engine is
// willing to wait indefinitely for a permission answer, so are we. Callers
// that need a bound (headless or automated hosts) impose one through the
// context they pass to Ask.
package approval

import (
	"context"

	"github.com/google/uuid"
)

// Request is one tool invocation awaiting a human decision.
type Request struct {
	ID          string         `json:"id"`          // Generated correlation id
	SessionID   string         `json:"session_id"`  // Session the tool call belongs to
	Tool        string         `json:"tool"`        // Tool name (e.g., "Edit", "Bash")
	Description string         `json:"description"` // Human-readable description
	Input       map[string]any `json:"input"`       // Tool input for context
}

// Response is the user's answer to a Request.
type Response struct {
	ID         string `json:"id"`                    // Correlates with Request.ID
	Allowed    bool   `json:"allowed"`               // Whether permission was granted
	Always     bool   `json:"always"`                // Remember this decision for the session
	TargetMode string `json:"target_mode,omitempty"` // For exit-plan approvals: mode to switch into
	Message    string `json:"message"`               // Optional denial message
}

// Result is the encoding the query engine expects from its permission hook.
type Result struct {
	Behavior     string         `json:"behavior"`               // "allow" or "deny"
	UpdatedInput map[string]any `json:"updatedInput,omitempty"` // Original or modified input
	Message      string         `json:"message,omitempty"`      // Reason for denial
}

// Channel is the request/response contract with the approval surface.
//
// Ask blocks until a response correlated with the request arrives, the
// context is cancelled, or the transport fails. Implementations must return
// an error rather than fabricating a response.
type Channel interface {
	Ask(ctx context.Context, req Request) (Response, error)
}

// NewRequest builds a Request with a fresh correlation id.
func NewRequest(sessionID, tool, description string, input map[string]any) Request {
	return Request{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Tool:        tool,
		Description: description,
		Input:       input,
	}
}
