// ABOUTME: Agent runtime contract: turns in, streamed events out.
// ABOUTME: Runners are pluggable; the gateway only sees this interface.

package agent

import "context"

// Runner produces a reply for one conversation turn. Implementations stream
// events on the returned channel and close it when the turn is finished. The
// channel must terminate with a Done or Error event; cancelling the context
// obliges the runner to wind down and close the channel.
type Runner interface {
	Reply(ctx context.Context, turn *Turn) (<-chan *Event, error)
}

// Turn is one inbound message handed to an agent.
type Turn struct {
	// TurnID is assigned by the manager before the runner sees the turn.
	TurnID string

	SessionID string
	ChannelID string
	ThreadID  string
	Sender    string
	Content   string
	MediaURLs []string
}

// EventKind discriminates streamed reply events.
type EventKind int

const (
	EventThinking EventKind = iota
	EventText
	EventToolCall
	EventToolResult
	EventDone
	EventError
)

// Event is one element of a reply stream.
type Event struct {
	Kind EventKind

	// Text carries content for Thinking, Text, and Done events. For Done it
	// holds the full assembled response when the runner provides one.
	Text string

	ToolCall   *ToolCall
	ToolResult *ToolResult

	// Err describes the failure for Error events.
	Err string
}

// ToolCall announces that the runner is about to invoke a tool.
type ToolCall struct {
	ID     string
	Name   string
	Params map[string]any
}

// ToolResult reports a finished tool invocation.
type ToolResult struct {
	ID      string
	Output  string
	IsError bool
}

// Info describes a registered agent.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
