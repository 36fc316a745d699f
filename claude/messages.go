package claude

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// MessageType tags the known stream message kinds. Anything else is carried
// as-is and ignored by consumers — the engine may introduce new types and an
// unrecognized tag must be a no-op, not a crash.
type MessageType string

const (
	MessageTypeSystem    MessageType = "system"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeUser      MessageType = "user"
	MessageTypeResult    MessageType = "result"
)

// ContentBlock is one block of an assistant or user message.
type ContentBlock struct {
	Type      string          `json:"type"` // "text", "thinking", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`          // tool use id (for tool_use)
	Name      string          `json:"name,omitempty"`        // tool name (for tool_use)
	Input     json.RawMessage `json:"input,omitempty"`       // tool input (for tool_use)
	ToolUseID string          `json:"tool_use_id,omitempty"` // reference (for tool_result)
	Content   json.RawMessage `json:"content,omitempty"`     // tool result payload
}

// StreamMessage is one tagged message from the engine's stream.
type StreamMessage struct {
	Type    MessageType `json:"type"`
	Subtype string      `json:"subtype,omitempty"` // "init" on the system message carrying the session id
	Message struct {
		Content []ContentBlock `json:"content"`
	} `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UUID      string `json:"uuid,omitempty"`

	// Result fields (type == "result")
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`

	// Raw preserves the original line for stream logging and for consumers
	// that understand message types this package does not.
	Raw string `json:"-"`
}

// IsInit reports whether this is the system init event that first carries
// the session id — the trigger for registering the stream handle.
func (m *StreamMessage) IsInit() bool {
	return m.Type == MessageTypeSystem && m.Subtype == "init" && m.SessionID != ""
}

// ErrorText returns the best error description on a result message.
func (m *StreamMessage) ErrorText() string {
	if m.Error != "" {
		return m.Error
	}
	return m.Result
}

// ToolUses returns the tool_use blocks of an assistant message.
func (m *StreamMessage) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, block := range m.Message.Content {
		if block.Type == "tool_use" {
			uses = append(uses, block)
		}
	}
	return uses
}

// ParseLine parses one line of the engine's stream-json output. Returns nil
// for blank lines, non-JSON noise, and unparseable input — all logged and
// skipped rather than surfaced, since the engine interleaves informational
// output with the message stream.
func ParseLine(line string, log *slog.Logger) *StreamMessage {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		log.Debug("skipping non-JSON stream line", "line", truncateForLog(trimmed))
		return nil
	}

	var msg StreamMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		log.Warn("failed to parse stream message", "error", err, "line", truncateForLog(trimmed))
		return nil
	}
	if msg.Type == "" {
		log.Warn("stream message without type", "line", truncateForLog(trimmed))
		return nil
	}
	msg.Raw = trimmed
	return &msg
}

// truncateForLog truncates long strings for log messages.
func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
