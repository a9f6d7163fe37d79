// ABOUTME: Tests for hook dispatch ordering, cancellation, error isolation, and param merging.
// ABOUTME: Covers message_sending rewrite/cancel and before_tool_call block/merge semantics.

package hooks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_HasHooks(t *testing.T) {
	r := NewRunner(nil)
	assert.False(t, r.HasHooks(MessageSending))

	r.Register("p1", MessageSending, 0, func(ctx context.Context, payload any) (any, error) {
		return nil, nil
	})
	assert.True(t, r.HasHooks(MessageSending))
	assert.False(t, r.HasHooks(MessageSent))
}

func TestRunMessageSending_ContentRewrite(t *testing.T) {
	r := NewRunner(nil)
	r.Register("rewriter", MessageSending, 0, func(ctx context.Context, payload any) (any, error) {
		return &SendingResult{Content: "X"}, nil
	})

	res := r.RunMessageSending(context.Background(), &SendingPayload{To: "C1", Content: "original"})
	assert.False(t, res.Cancel)
	assert.Equal(t, "X", res.Content)
}

func TestRunMessageSending_RewriteToEmpty(t *testing.T) {
	r := NewRunner(nil)
	r.Register("blanker", MessageSending, 0, func(ctx context.Context, payload any) (any, error) {
		return &SendingResult{Replaced: true}, nil
	})

	res := r.RunMessageSending(context.Background(), &SendingPayload{To: "C1", Content: "original"})
	assert.False(t, res.Cancel)
	assert.Empty(t, res.Content)
}

func TestRunMessageSending_Cancel(t *testing.T) {
	r := NewRunner(nil)
	later := false
	r.Register("canceller", MessageSending, 0, func(ctx context.Context, payload any) (any, error) {
		return &SendingResult{Cancel: true}, nil
	})
	r.Register("after", MessageSending, 1, func(ctx context.Context, payload any) (any, error) {
		later = true
		return nil, nil
	})

	res := r.RunMessageSending(context.Background(), &SendingPayload{Content: "hi"})
	assert.True(t, res.Cancel)
	assert.False(t, later, "handlers after a cancel must not run")
}

func TestRunMessageSending_LaterHandlersSeeRewrites(t *testing.T) {
	r := NewRunner(nil)
	var seen string
	r.Register("first", MessageSending, 0, func(ctx context.Context, payload any) (any, error) {
		return &SendingResult{Content: "rewritten"}, nil
	})
	r.Register("second", MessageSending, 1, func(ctx context.Context, payload any) (any, error) {
		seen = payload.(*SendingPayload).Content
		return nil, nil
	})

	res := r.RunMessageSending(context.Background(), &SendingPayload{Content: "original"})
	assert.Equal(t, "rewritten", seen)
	assert.Equal(t, "rewritten", res.Content)
}

func TestRunMessageSending_HandlerErrorIsIsolated(t *testing.T) {
	r := NewRunner(nil)
	r.Register("broken", MessageSending, 0, func(ctx context.Context, payload any) (any, error) {
		return nil, errors.New("boom")
	})
	r.Register("ok", MessageSending, 1, func(ctx context.Context, payload any) (any, error) {
		return &SendingResult{Content: "survived"}, nil
	})

	res := r.RunMessageSending(context.Background(), &SendingPayload{Content: "original"})
	assert.Equal(t, "survived", res.Content)
}

func TestRunner_PriorityThenRegistrationOrder(t *testing.T) {
	r := NewRunner(nil)
	var order []string
	mk := func(name string) Handler {
		return func(ctx context.Context, payload any) (any, error) {
			order = append(order, name)
			return nil, nil
		}
	}
	r.Register("c", MessageSending, 10, mk("c"))
	r.Register("a", MessageSending, 0, mk("a"))
	r.Register("b", MessageSending, 0, mk("b"))

	r.RunMessageSending(context.Background(), &SendingPayload{})
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunBeforeToolCall_FirstBlockShortCircuits(t *testing.T) {
	r := NewRunner(nil)
	later := false
	r.Register("guard", BeforeToolCall, 0, func(ctx context.Context, payload any) (any, error) {
		return &ToolCallResult{Block: true, Reason: "not allowed"}, nil
	})
	r.Register("after", BeforeToolCall, 1, func(ctx context.Context, payload any) (any, error) {
		later = true
		return nil, nil
	})

	err := r.RunBeforeToolCall(context.Background(), &ToolCallPayload{ID: "t1", Name: "exec"})

	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "exec", blocked.Tool)
	assert.Equal(t, "not allowed", blocked.Reason)
	assert.False(t, later)
}

func TestRunBeforeToolCall_ShallowMergeVisibleDownstream(t *testing.T) {
	r := NewRunner(nil)
	r.Register("patcher", BeforeToolCall, 0, func(ctx context.Context, payload any) (any, error) {
		return &ToolCallResult{Params: map[string]any{
			"timeout": 30,
			"nested":  map[string]any{"replaced": true},
		}}, nil
	})
	var downstream map[string]any
	r.Register("observer", BeforeToolCall, 1, func(ctx context.Context, payload any) (any, error) {
		p := payload.(*ToolCallPayload)
		downstream = map[string]any{}
		for k, v := range p.Params {
			downstream[k] = v
		}
		return nil, nil
	})

	params := map[string]any{
		"cmd":    "ls",
		"nested": map[string]any{"old": 1},
	}
	err := r.RunBeforeToolCall(context.Background(), &ToolCallPayload{ID: "t1", Name: "exec", Params: params})
	require.NoError(t, err)

	assert.Equal(t, "ls", downstream["cmd"])
	assert.Equal(t, 30, downstream["timeout"])
	// Shallow merge: the nested object is replaced wholesale.
	assert.Equal(t, map[string]any{"replaced": true}, downstream["nested"])
}

func TestRunBeforeToolCall_HandlerErrorAborts(t *testing.T) {
	r := NewRunner(nil)
	r.Register("broken", BeforeToolCall, 0, func(ctx context.Context, payload any) (any, error) {
		return nil, errors.New("boom")
	})

	err := r.RunBeforeToolCall(context.Background(), &ToolCallPayload{ID: "t1", Name: "exec"})
	require.Error(t, err)

	var blocked *BlockedError
	assert.False(t, errors.As(err, &blocked), "handler error is not a block")
}

func TestConsumeAdjustedParams_ConsumeOnce(t *testing.T) {
	r := NewRunner(nil)
	r.Register("patcher", BeforeToolCall, 0, func(ctx context.Context, payload any) (any, error) {
		return &ToolCallResult{Params: map[string]any{"extra": "yes"}}, nil
	})

	err := r.RunBeforeToolCall(context.Background(), &ToolCallPayload{
		ID:     "call-1",
		Name:   "exec",
		Params: map[string]any{"cmd": "ls"},
	})
	require.NoError(t, err)

	params, ok := r.ConsumeAdjustedParams("call-1")
	require.True(t, ok)
	assert.Equal(t, "yes", params["extra"])
	assert.Equal(t, "ls", params["cmd"])

	_, ok = r.ConsumeAdjustedParams("call-1")
	assert.False(t, ok, "second consume must miss")
}

func TestConsumeAdjustedParams_NoPatchNoEntry(t *testing.T) {
	r := NewRunner(nil)
	r.Register("observer", BeforeToolCall, 0, func(ctx context.Context, payload any) (any, error) {
		return nil, nil
	})

	err := r.RunBeforeToolCall(context.Background(), &ToolCallPayload{
		ID:     "call-1",
		Name:   "exec",
		Params: map[string]any{"cmd": "ls"},
	})
	require.NoError(t, err)

	_, ok := r.ConsumeAdjustedParams("call-1")
	assert.False(t, ok)
}

func TestParamStore_EvictsOldest(t *testing.T) {
	s := newParamStore(3)
	for i := 0; i < 4; i++ {
		s.Put(fmt.Sprintf("call-%d", i), map[string]any{"i": i})
	}

	_, ok := s.Consume("call-0")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = s.Consume("call-3")
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestRunSessionHooks_Advisory(t *testing.T) {
	r := NewRunner(nil)
	var events []string
	r.Register("broken", SessionStart, 0, func(ctx context.Context, payload any) (any, error) {
		return nil, errors.New("boom")
	})
	r.Register("tracker", SessionStart, 1, func(ctx context.Context, payload any) (any, error) {
		events = append(events, "start:"+payload.(*SessionPayload).SessionID)
		return nil, nil
	})
	r.Register("tracker", SessionEnd, 0, func(ctx context.Context, payload any) (any, error) {
		events = append(events, "end:"+payload.(*SessionPayload).SessionID)
		return nil, nil
	})

	r.RunSessionStart(context.Background(), &SessionPayload{SessionID: "s1"})
	r.RunSessionEnd(context.Background(), &SessionPayload{SessionID: "s1"})

	assert.Equal(t, []string{"start:s1", "end:s1"}, events)
}
