// ABOUTME: Webhook-delivered channel monitor for platforms that push events over HTTP.
// ABOUTME: Resolves inbound requests against (secret, path) registrations; ambiguity is rejected.

package monitor

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/parley-gateway/internal/channel"
)

// WebhookEvent is the decoded body of an accepted webhook request.
type WebhookEvent struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
}

// WebhookHandler receives accepted webhook events.
type WebhookHandler func(ev WebhookEvent)

type webhookRegistration struct {
	secret  string
	path    string
	handler WebhookHandler
	sink    channel.StatusSink
}

// WebhookRegistry routes inbound webhook requests to registered channel
// accounts. A request is accepted only when exactly one registration matches
// its (secret, path) pair: zero matches means unknown, more than one means
// the registration set is ambiguous and no handler can be safely chosen.
type WebhookRegistry struct {
	mu     sync.RWMutex
	regs   []webhookRegistration
	logger *slog.Logger
}

// NewWebhookRegistry creates an empty webhook registry.
func NewWebhookRegistry(logger *slog.Logger) *WebhookRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookRegistry{logger: logger.With("component", "webhook")}
}

// Register adds a (secret, path) target. Duplicate registrations are
// accepted here and rejected at request time, so a misconfigured account
// set fails loudly instead of delivering to an arbitrary winner.
func (r *WebhookRegistry) Register(secret, path string, handler WebhookHandler, sink channel.StatusSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = append(r.regs, webhookRegistration{
		secret:  secret,
		path:    path,
		handler: handler,
		sink:    sink,
	})
}

// ServeHTTP handles an inbound webhook request.
func (r *WebhookRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	secret := req.Header.Get("X-Webhook-Secret")
	if secret == "" {
		secret = req.URL.Query().Get("secret")
	}

	matches := r.match(secret, req.URL.Path)
	if len(matches) != 1 {
		if len(matches) > 1 {
			r.logger.Warn("ambiguous webhook registration",
				"path", req.URL.Path,
				"matches", len(matches),
			)
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	reg := matches[0]

	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		// Dropped silently toward the handler; the sender still gets a 400.
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if reg.sink != nil {
		connected := true
		now := time.Now()
		reg.sink.OnStatusChange(channel.StatusPatch{
			Connected:       &connected,
			LastConnectedAt: &now,
		})
	}

	reg.handler(ev)
	w.WriteHeader(http.StatusOK)
}

func (r *WebhookRegistry) match(secret, path string) []webhookRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []webhookRegistration
	for _, reg := range r.regs {
		if reg.secret == secret && reg.path == path {
			matches = append(matches, reg)
		}
	}
	return matches
}
