// ABOUTME: Bounded store for hook-adjusted tool call parameters.
// ABOUTME: Keyed by tool call ID with consume-and-delete retrieval.

package hooks

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// maxAdjustedParams bounds how many adjusted-params entries are retained.
// Oldest entries are evicted first when the cap is reached.
const maxAdjustedParams = 1024

// ParamStore holds params rewritten by before_tool_call handlers until the
// downstream consumer retrieves them after the tool executes. The LRU cap
// keeps abandoned tool calls from accumulating forever.
type ParamStore struct {
	cache *lru.Cache[string, map[string]any]
}

func newParamStore(size int) *ParamStore {
	// lru.New only fails on a non-positive size.
	cache, err := lru.New[string, map[string]any](size)
	if err != nil {
		panic(err)
	}
	return &ParamStore{cache: cache}
}

// Put records the adjusted params for a tool call ID.
func (s *ParamStore) Put(toolCallID string, params map[string]any) {
	s.cache.Add(toolCallID, params)
}

// Consume returns and removes the entry for a tool call ID. A second call
// for the same ID reports not found.
func (s *ParamStore) Consume(toolCallID string) (map[string]any, bool) {
	params, ok := s.cache.Get(toolCallID)
	if !ok {
		return nil, false
	}
	s.cache.Remove(toolCallID)
	return params, true
}

// Len reports the number of retained entries.
func (s *ParamStore) Len() int {
	return s.cache.Len()
}
