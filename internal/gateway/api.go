// ABOUTME: Local HTTP API: health probes and an authenticated status endpoint.
// ABOUTME: Status reports per-channel connection state, registered agents, and uptime.

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/parley-gateway/internal/agent"
	"github.com/2389/parley-gateway/internal/channel"
)

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	AgentID       string                    `json:"agent_id"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Channels      map[string]channel.Status `json:"channels"`
	Agents        []agent.Info              `json:"agents"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one agent runner is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	agents := g.agents.List()
	if len(agents) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(agents))
}

// handleStatus reports the gateway's connection and agent state.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := StatusResponse{
		AgentID:       g.config.Agent.ID,
		UptimeSeconds: int64(time.Since(g.startedAt) / time.Second),
		Channels:      g.board.snapshot(),
		Agents:        g.agents.List(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("failed to encode status response", "error", err)
	}
}

// sendJSONError writes a JSON error response with the given status code.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
