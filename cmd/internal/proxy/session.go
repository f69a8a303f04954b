package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"syncgate/cmd/internal/metrics"

	"github.com/coder/websocket"
)

// Session owns one client leg and one backend leg and relays frames between them.
type Session struct {
	ID         string
	DocumentID string

	client  *websocket.Conn
	backend *websocket.Conn

	state     stateBox
	closeOnce sync.Once
	closed    chan struct{}

	// ctx and cancel are set by open, before the session is visible to any other goroutine.
	ctx    context.Context
	cancel context.CancelFunc

	log     *slog.Logger
	metrics *metrics.Metrics

	writeTimeout     time.Duration
	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

func newSession(id, documentID string, cfg Config, log *slog.Logger, m *metrics.Metrics) *Session {
	return &Session{
		ID:               id,
		DocumentID:       documentID,
		closed:           make(chan struct{}),
		log:              log,
		metrics:          m,
		writeTimeout:     cfg.WriteTimeout,
		heartbeatEvery:   cfg.HeartbeatInterval,
		heartbeatTimeout: cfg.HeartbeatTimeout,
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State { return s.state.load() }

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close shuts both legs with code and reason and waits for them to be released.
// Only the first call has an effect; later calls return immediately.
func (s *Session) Close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.state.advance(StateClosing)

		code = wireCode(code)
		reason = truncateReason(reason)

		var wg sync.WaitGroup
		for _, c := range []*websocket.Conn{s.client, s.backend} {
			if c == nil {
				continue
			}
			wg.Add(1)
			go func(c *websocket.Conn) {
				defer wg.Done()
				if err := c.Close(code, reason); err != nil && !errors.Is(err, net.ErrClosed) {
					s.log.Debug("session.close.leg", "session_id", s.ID, "err", err)
					_ = c.CloseNow()
				}
			}(c)
		}
		wg.Wait()

		if s.cancel != nil {
			s.cancel()
		}
		s.state.advance(StateClosed)
		close(s.closed)
	})
}

// open attaches both established legs and moves the session to Open. The relay context
// derives from ctx.
func (s *Session) open(ctx context.Context, client, backend *websocket.Conn) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	client.SetReadLimit(MaxMessageBytes)
	backend.SetReadLimit(MaxMessageBytes)
	s.client = client
	s.backend = backend
	s.state.advance(StateOpen)
}

type legName string

const (
	legClient    legName = "client"
	legBackend   legName = "backend"
	legHeartbeat legName = "heartbeat"
)

// legEnd reports why one relay direction (or the heartbeat) stopped.
type legEnd struct {
	leg   legName
	err   error
	write bool
}

// run relays until either leg ends, then tears the session down.
// The returned error describes the first ending; nil means a clean close.
func (s *Session) run() (outcome string, err error) {
	ctx := s.ctx
	defer s.cancel()

	ends := make(chan legEnd, 3)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ends <- s.relay(ctx, legClient, s.client, s.backend, metrics.DirUpstream)
	}()
	go func() {
		defer wg.Done()
		ends <- s.relay(ctx, legBackend, s.backend, s.client, metrics.DirDownstream)
	}()
	if s.heartbeatEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e, failed := s.heartbeat(ctx); failed {
				ends <- e
			}
		}()
	}

	first := <-ends
	code, reason, outcome, err := classifyEnd(ctx, first)
	s.Close(code, reason)
	wg.Wait()

	return outcome, err
}

// relay copies messages from src to dst. It is the only writer of dst's data frames.
func (s *Session) relay(ctx context.Context, leg legName, src, dst *websocket.Conn, dir string) legEnd {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return legEnd{leg: leg, err: err}
		}

		wctx, wcancel := context.WithTimeout(ctx, s.writeTimeout)
		err = dst.Write(wctx, typ, data)
		wcancel()
		if err != nil {
			return legEnd{leg: leg, err: err, write: true}
		}

		s.metrics.Frame(dir, messageTypeLabel(typ), len(data))
	}
}

// heartbeat pings the client leg. failed=true after maxPingFailures consecutive misses.
func (s *Session) heartbeat(ctx context.Context) (legEnd, bool) {
	t := time.NewTicker(s.heartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return legEnd{}, false
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, s.heartbeatTimeout)
			err := s.client.Ping(hbCtx)
			hbCancel()

			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return legEnd{}, false
			}
			failures++
			s.log.Info("session.ping.fail", "session_id", s.ID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				return legEnd{leg: legHeartbeat, err: err}, true
			}
		}
	}
}

// classifyEnd maps the first leg ending to the close code sent on both legs,
// a metrics outcome, and the error returned to the caller.
func classifyEnd(ctx context.Context, e legEnd) (websocket.StatusCode, string, string, error) {
	switch {
	case e.leg == legHeartbeat:
		return websocket.StatusGoingAway, "heartbeat failed", "heartbeat_failed", e.err

	case errors.Is(e.err, websocket.ErrMessageTooBig):
		return websocket.StatusMessageTooBig, "message too big", "protocol_violation",
			fmt.Errorf("%w: %s leg: %v", ErrProtocolViolation, e.leg, e.err)

	case e.write:
		return websocket.StatusGoingAway, "relay write failed", "write_failed",
			fmt.Errorf("relay to peer of %s leg: %w", e.leg, e.err)
	}

	var ce websocket.CloseError
	if errors.As(e.err, &ce) {
		return ce.Code, ce.Reason, string(e.leg) + "_closed", nil
	}

	if ctx.Err() != nil || errors.Is(e.err, context.Canceled) || errors.Is(e.err, context.DeadlineExceeded) {
		return websocket.StatusGoingAway, "shutting down", "shutdown", nil
	}

	if errors.Is(e.err, net.ErrClosed) || errors.Is(e.err, io.EOF) {
		return websocket.StatusGoingAway, "peer gone", string(e.leg) + "_lost", nil
	}

	return websocket.StatusInternalError, "relay failed", "error",
		fmt.Errorf("%s leg: %w", e.leg, e.err)
}

// wireCode maps codes that must not appear in a close frame to sendable ones.
func wireCode(code websocket.StatusCode) websocket.StatusCode {
	switch code {
	case websocket.StatusNoStatusRcvd:
		return websocket.StatusNormalClosure
	case websocket.StatusAbnormalClosure, websocket.StatusTLSHandshake:
		return websocket.StatusGoingAway
	}
	if code < 1000 || code >= 5000 {
		return websocket.StatusGoingAway
	}
	return code
}

// Close frame payloads are limited to 125 bytes, two of which hold the code.
const maxCloseReason = 123

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	return reason[:maxCloseReason]
}

func messageTypeLabel(typ websocket.MessageType) string {
	if typ == websocket.MessageBinary {
		return "binary"
	}
	return "text"
}
