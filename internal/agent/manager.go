// ABOUTME: Manages registered agent runners and drives conversation turns.
// ABOUTME: Central coordinator: assigns turn IDs, streams events, and gates tool calls through hooks.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/parley-gateway/internal/hooks"
)

// ErrAgentAlreadyRegistered indicates an agent with the same ID is already registered.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// registered pairs a runner with its public info.
type registered struct {
	info   Info
	runner Runner
}

// Manager coordinates registered agent runners and routes turns to them.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*registered

	hooks  *hooks.Runner
	logger *slog.Logger
}

// NewManager creates a Manager. The hook runner may be nil; tool calls then
// run ungated and session hooks are skipped.
func NewManager(hookRunner *hooks.Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agents: make(map[string]*registered),
		hooks:  hookRunner,
		logger: logger.With("component", "agent"),
	}
}

// Register adds an agent runner under the given ID.
// Returns ErrAgentAlreadyRegistered if the ID is taken.
func (m *Manager) Register(id, name string, runner Runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[id]; exists {
		return ErrAgentAlreadyRegistered
	}

	m.agents[id] = &registered{info: Info{ID: id, Name: name}, runner: runner}
	m.logger.Info("agent registered",
		"agent_id", id,
		"name", name,
		"total_agents", len(m.agents),
	)
	return nil
}

// Unregister removes an agent.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reg, exists := m.agents[id]; exists {
		delete(m.agents, id)
		m.logger.Info("agent unregistered",
			"agent_id", id,
			"name", reg.info.Name,
			"total_agents", len(m.agents),
		)
	}
}

// List returns info for all registered agents.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.agents))
	for _, reg := range m.agents {
		infos = append(infos, reg.info)
	}
	return infos
}

// IsOnline reports whether an agent with the given ID is registered.
func (m *Manager) IsOnline(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.agents[id]
	return ok
}

func (m *Manager) get(id string) (*registered, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.agents[id]
	return reg, ok
}

// Reply is the assembled outcome of one turn.
type Reply struct {
	TurnID string
	Text   string
}

// RunTurn hands a turn to the named agent and drains its event stream into a
// single reply. Session hooks fire around the turn. Tool calls announced by
// the runner pass through before_tool_call; a blocked tool aborts the turn.
func (m *Manager) RunTurn(ctx context.Context, agentID string, turn *Turn) (*Reply, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent_id is required")
	}
	reg, ok := m.get(agentID)
	if !ok {
		return nil, ErrAgentNotFound
	}

	turn.TurnID = uuid.New().String()

	if m.hooks != nil {
		session := &hooks.SessionPayload{
			SessionID: turn.SessionID,
			ChannelID: turn.ChannelID,
			ThreadID:  turn.ThreadID,
			AgentID:   agentID,
		}
		m.hooks.RunSessionStart(ctx, session)
		defer m.hooks.RunSessionEnd(ctx, session)
	}

	events, err := reg.runner.Reply(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}

	m.logger.Debug("turn started",
		"agent_id", agentID,
		"turn_id", turn.TurnID,
		"thread_id", turn.ThreadID,
	)

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				// Stream ended without an explicit Done; use what we have.
				return &Reply{TurnID: turn.TurnID, Text: strings.Join(parts, "")}, nil
			}

			switch ev.Kind {
			case EventText:
				parts = append(parts, ev.Text)

			case EventToolCall:
				if err := m.gateToolCall(ctx, ev.ToolCall); err != nil {
					return nil, err
				}

			case EventToolResult:
				if ev.ToolResult != nil && ev.ToolResult.IsError {
					m.logger.Warn("tool failed",
						"agent_id", agentID,
						"turn_id", turn.TurnID,
						"tool_call_id", ev.ToolResult.ID,
					)
				}

			case EventDone:
				text := ev.Text
				if text == "" {
					text = strings.Join(parts, "")
				}
				return &Reply{TurnID: turn.TurnID, Text: text}, nil

			case EventError:
				return nil, fmt.Errorf("agent %s: %s", agentID, ev.Err)
			}
		}
	}
}

// gateToolCall runs before_tool_call for a tool announcement. Param patches
// applied by hooks land in the shared payload map, which the runner also
// holds, so adjustments are visible to the executing side.
func (m *Manager) gateToolCall(ctx context.Context, tc *ToolCall) error {
	if m.hooks == nil || tc == nil {
		return nil
	}
	return m.hooks.RunBeforeToolCall(ctx, &hooks.ToolCallPayload{
		ID:     tc.ID,
		Name:   tc.Name,
		Params: tc.Params,
	})
}
