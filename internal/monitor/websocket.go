// ABOUTME: WebSocket channel monitor: one long-lived connection with challenge auth and frame decoding.
// ABOUTME: Distinguishes close-before-open (retryable failure) from drop-after-open (clean disconnect).

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/parley-gateway/internal/channel"
)

// ClosedBeforeOpenError reports a connection that closed before it ever
// opened. The reconnect loop treats it as a failure, so backoff escalates;
// a drop after a working connection returns nil instead.
type ClosedBeforeOpenError struct {
	Code   int
	Reason string
	Err    error
}

func (e *ClosedBeforeOpenError) Error() string {
	return fmt.Sprintf("websocket closed before open (code=%d reason=%q): %v", e.Code, e.Reason, e.Err)
}

func (e *ClosedBeforeOpenError) Unwrap() error { return e.Err }

// Handler receives decoded posts from the wire. Errors and panics inside the
// handler are contained by the monitor; they never reach the transport.
type Handler func(post Post)

// WebSocketMonitor owns one long-lived WebSocket connection to a channel
// backend (Mattermost-shaped wire protocol). Each ConnectOnce call is a
// single connection attempt; pair it with reconnect.Run to keep the channel
// alive across failures.
type WebSocketMonitor struct {
	url     string
	token   string
	handler Handler
	sink    channel.StatusSink
	logger  *slog.Logger
	dialer  *websocket.Dialer
}

// NewWebSocketMonitor creates a monitor for the given WebSocket URL. The
// token is sent as an authentication challenge after the socket opens.
func NewWebSocketMonitor(url, token string, handler Handler, sink channel.StatusSink, logger *slog.Logger) *WebSocketMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketMonitor{
		url:     url,
		token:   token,
		handler: handler,
		sink:    sink,
		logger:  logger.With("component", "ws-monitor"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// ConnectOnce performs one connection attempt and blocks until the
// connection ends. It returns nil if the socket opened and later closed
// (clean disconnect, backoff resets), a *ClosedBeforeOpenError if it closed
// before opening, and nil without reporting when ctx cancellation tore the
// socket down.
func (m *WebSocketMonitor) ConnectOnce(ctx context.Context) error {
	conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		code := 0
		reason := ""
		if resp != nil {
			code = resp.StatusCode
			reason = resp.Status
		}
		m.patchError(err.Error())
		return &ClosedBeforeOpenError{Code: code, Reason: reason, Err: err}
	}

	// Hard-close the socket when the context fires; the read loop below
	// unblocks with an error. The watcher is always released on exit.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()
	defer conn.Close()

	m.patchConnected()
	m.logger.Info("websocket connected", "url", m.url)

	// Auth is asynchronous: the challenge is written over the open socket
	// and the backend authenticates in the background, not as a blocking
	// handshake step.
	if err := conn.WriteJSON(authChallenge(m.token)); err != nil {
		m.patchDisconnect(0, "", err)
		return nil
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			code, reason := closeDetails(err)
			m.patchDisconnect(code, reason, err)
			m.logger.Info("websocket disconnected", "code", code, "reason", reason)
			// The connection worked before dropping: clean disconnect.
			return nil
		}

		post, ok := decodePostedFrame(data)
		if !ok {
			// Expected noise from heterogeneous wire formats; not an error.
			continue
		}
		m.dispatch(post)
	}
}

// dispatch forwards a decoded post to the handler, containing panics so a
// misbehaving handler cannot tear down the transport.
func (m *WebSocketMonitor) dispatch(post Post) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("message handler panicked",
				"panic", r,
				"post_id", post.ID,
			)
		}
	}()
	m.handler(post)
}

// authChallenge builds the authentication frame sent right after open.
func authChallenge(token string) map[string]any {
	return map[string]any{
		"seq":    1,
		"action": "authentication_challenge",
		"data":   map[string]string{"token": token},
	}
}

// closeDetails extracts the close code and reason from a read error.
func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return 0, ""
}

func (m *WebSocketMonitor) patchConnected() {
	if m.sink == nil {
		return
	}
	connected := true
	now := time.Now()
	m.sink.OnStatusChange(channel.StatusPatch{
		Connected:       &connected,
		LastConnectedAt: &now,
	})
}

func (m *WebSocketMonitor) patchError(msg string) {
	if m.sink == nil {
		return
	}
	m.sink.OnStatusChange(channel.StatusPatch{LastError: msg})
}

func (m *WebSocketMonitor) patchDisconnect(code int, reason string, err error) {
	if m.sink == nil {
		return
	}
	connected := false
	m.sink.OnStatusChange(channel.StatusPatch{
		Connected: &connected,
		LastError: err.Error(),
		LastDisconnect: &channel.Disconnect{
			At:     time.Now(),
			Code:   code,
			Reason: reason,
		},
	})
}
