// Package feed keeps the push side of the market view fed: venue websocket
// streams decoded into the trade tape and the liquidation book.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second
)

// MessageHandler consumes one raw frame. Errors are logged and the frame
// dropped; they never tear down the connection.
type MessageHandler func(raw []byte) error

// Stream is a self-healing websocket subscription. It dials URL, hands every
// frame to the handler and reconnects with exponential backoff until the
// context is cancelled.
type Stream struct {
	url          string
	handler      MessageHandler
	reconnectMin time.Duration
	reconnectMax time.Duration
	dialer       websocket.Dialer
	logger       *slog.Logger

	onConnect func()
}

// NewStream creates a stream. name labels log lines.
func NewStream(name, url string, handler MessageHandler, logger *slog.Logger) *Stream {
	return &Stream{
		url:          url,
		handler:      handler,
		reconnectMin: defaultReconnectMin,
		reconnectMax: defaultReconnectMax,
		dialer:       websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:       logger.With(slog.String("component", "feed"), slog.String("stream", name)),
	}
}

// WithBackoff overrides the reconnect delay bounds.
func (s *Stream) WithBackoff(minDelay, maxDelay time.Duration) *Stream {
	if minDelay > 0 {
		s.reconnectMin = minDelay
	}
	if maxDelay >= s.reconnectMin {
		s.reconnectMax = maxDelay
	}
	return s
}

// URL returns the endpoint the stream dials.
func (s *Stream) URL() string { return s.url }

// Run blocks until ctx is done. It only returns ctx's error.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.reconnectMin
	for {
		connected, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = s.reconnectMin
		}
		s.logger.WarnContext(ctx, "stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(time.Duration(float64(delay)*1.8)+200*time.Millisecond, s.reconnectMax)
	}
}

// runConnection serves one connection. connected reports whether the dial
// succeeded, which resets the backoff.
func (s *Stream) runConnection(ctx context.Context) (connected bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := s.dialer.DialContext(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	s.logger.InfoContext(ctx, "stream connected")
	if s.onConnect != nil {
		s.onConnect()
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, errors.New("feed: closed by peer")
			}
			return true, fmt.Errorf("feed: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := s.handler(msg); err != nil {
			s.logger.DebugContext(ctx, "dropping frame", slog.String("error", err.Error()))
		}
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
