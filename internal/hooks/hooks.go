// ABOUTME: Lifecycle hook runner: registry of named extension points invoked around pipeline operations.
// ABOUTME: Handlers can observe, rewrite, or cancel sends and tool calls in flight.

package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Name identifies a lifecycle hook point.
type Name string

const (
	MessageSending Name = "message_sending"
	MessageSent    Name = "message_sent"
	BeforeToolCall Name = "before_tool_call"
	SessionStart   Name = "session_start"
	SessionEnd     Name = "session_end"
)

// Handler is the hook module contract: it receives the hook payload and
// returns a hook-specific result, or nil to leave the operation unchanged.
// The concrete payload and result types are documented per run method.
type Handler func(ctx context.Context, payload any) (any, error)

// registration is one (plugin, hook, handler, priority) tuple. Handlers for a
// hook run ordered by priority, then registration order.
type registration struct {
	pluginID string
	priority int
	seq      int
	fn       Handler
}

// Runner dispatches registered handlers at pipeline points. It is constructed
// explicitly and passed through the call chain; there is no package-level
// registry. Registration happens at startup; after that the registry is
// read-only, so concurrent runs for independent operations need no lock
// beyond the read lock.
type Runner struct {
	mu      sync.RWMutex
	hooks   map[Name][]registration
	nextSeq int

	params *ParamStore
	logger *slog.Logger
}

// NewRunner creates a hook runner. The adjusted-params store is capped at
// maxAdjustedParams entries.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		hooks:  make(map[Name][]registration),
		params: newParamStore(maxAdjustedParams),
		logger: logger.With("component", "hooks"),
	}
}

// Register adds a handler for a hook point. Lower priority runs first; ties
// keep registration order.
func (r *Runner) Register(pluginID string, hook Name, priority int, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	regs := append(r.hooks[hook], registration{
		pluginID: pluginID,
		priority: priority,
		seq:      r.nextSeq,
		fn:       fn,
	})
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
	r.hooks[hook] = regs
}

// HasHooks reports whether any handler is registered for the hook point.
// Callers use it as a fast path to skip payload construction entirely.
func (r *Runner) HasHooks(hook Name) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[hook]) > 0
}

// handlers returns a snapshot of the registrations for a hook.
func (r *Runner) handlers(hook Name) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hooks[hook]
}

// SendingPayload is the payload for message_sending handlers. Handlers see
// content rewrites applied by earlier handlers; the metadata identifies the
// routing target but rewriting it has no effect on where the send lands.
type SendingPayload struct {
	To       string
	Content  string
	Metadata SendMetadata
}

// SendMetadata describes the send target for hook observation.
type SendMetadata struct {
	ThreadKey string
	ChannelID string
	MediaURL  string
}

// SendingResult is what a message_sending handler may return.
type SendingResult struct {
	// Content, when non-empty, replaces the text sent downstream.
	Content string

	// Replaced applies Content even when it is empty, so a handler can
	// blank the text instead of cancelling the send outright.
	Replaced bool

	// Cancel short-circuits the send without calling the platform API.
	Cancel bool
}

// RunMessageSending invokes message_sending handlers sequentially. A handler
// returning Cancel stops the chain. Handler errors are advisory: logged,
// then the chain continues with the pre-handler content.
func (r *Runner) RunMessageSending(ctx context.Context, p *SendingPayload) *SendingResult {
	for _, reg := range r.handlers(MessageSending) {
		res, err := reg.fn(ctx, p)
		if err != nil {
			r.logger.Warn("message_sending handler failed",
				"plugin", reg.pluginID,
				"error", err,
			)
			continue
		}
		sr, ok := res.(*SendingResult)
		if !ok || sr == nil {
			continue
		}
		if sr.Cancel {
			return &SendingResult{Cancel: true}
		}
		if sr.Replaced || sr.Content != "" {
			p.Content = sr.Content
		}
	}
	return &SendingResult{Content: p.Content}
}

// SentPayload is the payload for the observational message_sent hook.
type SentPayload struct {
	To        string
	Content   string
	MessageID string
	Success   bool
	Error     string
}

// RunMessageSent invokes message_sent handlers. Results are ignored and
// handler errors only logged; delivery outcome is already decided.
func (r *Runner) RunMessageSent(ctx context.Context, p *SentPayload) {
	for _, reg := range r.handlers(MessageSent) {
		if _, err := reg.fn(ctx, p); err != nil {
			r.logger.Warn("message_sent handler failed",
				"plugin", reg.pluginID,
				"error", err,
			)
		}
	}
}

// ToolCallPayload is the payload for before_tool_call handlers. Params is the
// live parameter map: patches from earlier handlers are visible to later ones.
type ToolCallPayload struct {
	ID     string
	Name   string
	Params map[string]any
}

// ToolCallResult is what a before_tool_call handler may return.
type ToolCallResult struct {
	// Block stops the tool invocation; Reason is surfaced to the caller.
	Block  bool
	Reason string

	// Params is shallow-merged into the existing params. Nested values are
	// replaced wholesale, not deep-merged.
	Params map[string]any
}

// BlockedError is returned when a handler blocks a tool call. Tool execution
// callers expect errors for failure, so a block surfaces as one.
type BlockedError struct {
	Tool   string
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %q blocked by hook", e.Tool)
	}
	return fmt.Sprintf("tool %q blocked by hook: %s", e.Tool, e.Reason)
}

// RunBeforeToolCall invokes before_tool_call handlers sequentially. The first
// handler that blocks short-circuits with a *BlockedError; there is no
// rollback of param patches applied by earlier handlers. Unlike advisory
// hooks, a handler error here aborts the call, since the contract includes
// blocking. When any patch was applied, the adjusted params are stored under
// the tool call ID for consume-once retrieval after the tool executes.
func (r *Runner) RunBeforeToolCall(ctx context.Context, p *ToolCallPayload) error {
	adjusted := false

	for _, reg := range r.handlers(BeforeToolCall) {
		res, err := reg.fn(ctx, p)
		if err != nil {
			return fmt.Errorf("before_tool_call handler %s: %w", reg.pluginID, err)
		}
		tr, ok := res.(*ToolCallResult)
		if !ok || tr == nil {
			continue
		}
		if tr.Block {
			return &BlockedError{Tool: p.Name, Reason: tr.Reason}
		}
		if tr.Params != nil && p.Params != nil {
			for k, v := range tr.Params {
				p.Params[k] = v
			}
			adjusted = true
		}
	}

	if adjusted && p.ID != "" {
		r.params.Put(p.ID, p.Params)
	}
	return nil
}

// ConsumeAdjustedParams returns and removes the adjusted params recorded for
// a tool call, if any. Each entry can be retrieved exactly once.
func (r *Runner) ConsumeAdjustedParams(toolCallID string) (map[string]any, bool) {
	return r.params.Consume(toolCallID)
}

// SessionPayload is the payload for session_start and session_end handlers.
type SessionPayload struct {
	SessionID string
	ChannelID string
	ThreadID  string
	AgentID   string
}

// RunSessionStart invokes session_start handlers. Advisory: errors are logged.
func (r *Runner) RunSessionStart(ctx context.Context, p *SessionPayload) {
	r.runAdvisory(ctx, SessionStart, p)
}

// RunSessionEnd invokes session_end handlers. Advisory: errors are logged.
func (r *Runner) RunSessionEnd(ctx context.Context, p *SessionPayload) {
	r.runAdvisory(ctx, SessionEnd, p)
}

func (r *Runner) runAdvisory(ctx context.Context, hook Name, payload any) {
	for _, reg := range r.handlers(hook) {
		if _, err := reg.fn(ctx, payload); err != nil {
			r.logger.Warn("hook handler failed",
				"hook", string(hook),
				"plugin", reg.pluginID,
				"error", err,
			)
		}
	}
}
