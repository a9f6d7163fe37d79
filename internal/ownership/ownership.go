// ABOUTME: Thread ownership coordination between concurrent agent instances.
// ABOUTME: Mention-TTL exemptions plus an HTTP claim protocol with fail-open semantics.

package ownership

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds a claim request to the forwarder.
	DefaultTimeout = 3 * time.Second

	// DefaultMentionTTL is how long a direct mention exempts a thread from
	// ownership checks.
	DefaultMentionTTL = 5 * time.Minute
)

// Config tunes the ownership service.
type Config struct {
	// ForwarderURL is the base URL of the external ownership forwarder.
	ForwarderURL string

	// AgentID identifies this agent instance in claim requests.
	AgentID string

	// Channels is the allow-set of channel IDs the check gates. An empty
	// set disables the check entirely.
	Channels []string

	// FailClosed flips the policy for forwarder failures: deny instead of
	// the default proceed.
	FailClosed bool

	Timeout    time.Duration
	MentionTTL time.Duration
}

// Decision is the outcome of a pre-send ownership check.
type Decision struct {
	// Proceed is false only when another agent holds the claim.
	Proceed bool

	// Owner is the claiming agent when Proceed is false, if reported.
	Owner string
}

// Service tracks recent mentions and consults the forwarder before threaded
// sends in gated channels. All mention-map mutations happen under one mutex;
// expired entries are pruned lazily on every read and write.
type Service struct {
	cfg    Config
	gated  map[string]struct{}
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	mentioned map[string]time.Time

	now func() time.Time
}

// New creates an ownership service.
func New(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MentionTTL <= 0 {
		cfg.MentionTTL = DefaultMentionTTL
	}

	gated := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		gated[ch] = struct{}{}
	}

	return &Service{
		cfg:       cfg,
		gated:     gated,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger.With("component", "ownership"),
		mentioned: make(map[string]time.Time),
		now:       time.Now,
	}
}

// MentionsAgent reports whether the text references the agent directly,
// either as @name or as a raw <@USERID> mention token.
func MentionsAgent(text, name, userID string) bool {
	if name != "" && strings.Contains(text, "@"+name) {
		return true
	}
	if userID != "" && strings.Contains(text, "<@"+userID+">") {
		return true
	}
	return false
}

// RecordMention marks the thread as recently mentioned.
func (s *Service) RecordMention(channelID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	s.mentioned[threadKey(channelID, threadID)] = s.now()
}

// MentionedRecently reports whether the thread was mentioned within the TTL.
func (s *Service) MentionedRecently(channelID, threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	_, ok := s.mentioned[threadKey(channelID, threadID)]
	return ok
}

// pruneLocked drops expired mention entries. Must hold mu.
func (s *Service) pruneLocked() {
	cutoff := s.now().Add(-s.cfg.MentionTTL)
	for key, ts := range s.mentioned {
		if ts.Before(cutoff) {
			delete(s.mentioned, key)
		}
	}
}

// CheckSend decides whether this agent may reply in the thread. Top-level
// sends and ungated channels always pass; a recently-mentioned thread passes
// without a network call. Otherwise the forwarder is asked for the claim:
// 200 grants it, 409 denies it, and anything else (including transport
// failure) falls back to the configured availability policy.
func (s *Service) CheckSend(ctx context.Context, channelID, threadID string) Decision {
	if len(s.gated) == 0 {
		return Decision{Proceed: true}
	}
	if _, gatedChannel := s.gated[channelID]; !gatedChannel {
		return Decision{Proceed: true}
	}
	if threadID == "" {
		return Decision{Proceed: true}
	}
	if s.MentionedRecently(channelID, threadID) {
		return Decision{Proceed: true}
	}
	return s.claim(ctx, channelID, threadID)
}

// claim issues the ownership claim request.
func (s *Service) claim(ctx context.Context, channelID, threadID string) Decision {
	url := fmt.Sprintf("%s/api/v1/ownership/%s/%s",
		strings.TrimSuffix(s.cfg.ForwarderURL, "/"), channelID, threadID)

	body, _ := json.Marshal(map[string]string{"agent_id": s.cfg.AgentID})

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return s.unavailable(channelID, threadID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return s.unavailable(channelID, threadID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Decision{Proceed: true}

	case http.StatusConflict:
		var conflict struct {
			Owner string `json:"owner"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&conflict)
		s.logger.Info("thread owned by another agent",
			"channel_id", channelID,
			"thread_id", threadID,
			"owner", conflict.Owner,
		)
		return Decision{Proceed: false, Owner: conflict.Owner}

	default:
		return s.unavailable(channelID, threadID, fmt.Errorf("forwarder returned %d", resp.StatusCode))
	}
}

// unavailable maps a forwarder failure to the configured policy. The default
// fails open: availability wins over strict ownership correctness.
func (s *Service) unavailable(channelID, threadID string, err error) Decision {
	if s.cfg.FailClosed {
		s.logger.Warn("ownership check unavailable, denying send (fail-closed)",
			"channel_id", channelID,
			"thread_id", threadID,
			"error", err,
		)
		return Decision{Proceed: false}
	}
	s.logger.Warn("ownership check unavailable, proceeding (fail-open)",
		"channel_id", channelID,
		"thread_id", threadID,
		"error", err,
	)
	return Decision{Proceed: true}
}

func threadKey(channelID, threadID string) string {
	return channelID + ":" + threadID
}
