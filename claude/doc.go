// Package claude defines the consumed boundary with the Claude Agent query
// engine: the tagged stream-message union, the query options this system is
// allowed to set, and the stream handle the session layer operates on
// (rewind, interrupt).
//
// The engine itself is an external collaborator — its tool execution, model
// transport, and checkpointing are opaque. This package only pins down the
// shapes this system depends on:
//   - messages.go: stream message parsing and classification
//   - options.go: query options, including permission-mode substitution and
//     the PreToolUse hook that routes tool calls through the gate
//   - engine.go: Engine and Stream interfaces
//   - subprocess.go: production engine backed by the CLI process and its
//     stream-json control protocol
//   - mock.go: scripted in-memory engine for tests
package claude
