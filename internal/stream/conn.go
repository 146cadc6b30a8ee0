// Package stream maintains the realtime websocket session for one robot:
// login, channel join, heartbeats, reconnection with backoff, and delivery
// of decoded state payloads to a sink.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"kobold-bridge/internal/state"
	"kobold-bridge/internal/wire"
)

// ConnState is the lifecycle state of a robot session.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateJoining
	StateLive
	StateClosing
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoining:
		return "joining"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Sink receives decoded stream traffic. Calls arrive from the session
// goroutine, one at a time.
type Sink interface {
	HandleState(robotID string, ds *state.DeviceState)
	HandleCleaning(robotID string, cs *state.CleaningState)
	ConnectionChanged(robotID string, st ConnState)
}

// Config describes one robot session.
type Config struct {
	// URL is the websocket endpoint, including any query parameters.
	URL string
	// RobotID selects the robots:<id> channel.
	RobotID string
	// Login produces a session bearer. It is called lazily and its result
	// cached until the server rejects it.
	Login func(ctx context.Context) (string, error)

	HeartbeatInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

type dialFunc func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

// Conn is a self-healing websocket session. Connect starts it, Disconnect
// stops it; everything in between (login, join, heartbeats, reconnects) is
// driven by a single session goroutine.
type Conn struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger
	dial   dialFunc

	writeMu sync.Mutex // serializes frames onto the socket

	mu              sync.Mutex
	state           ConnState
	ws              *websocket.Conn
	bearer          string
	attempt         int
	ref             int
	shouldReconnect bool
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewConn creates a session for one robot. Zero durations in cfg take the
// defaults: 30s heartbeat, 1s initial backoff, 300s backoff cap.
func NewConn(cfg Config, sink Sink, logger *slog.Logger) *Conn {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 300 * time.Second
	}
	return &Conn{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "stream", "robot_id", cfg.RobotID),
		dial:   websocket.Dial,
	}
}

// Connect starts the session goroutine. Calling it while a session is
// already running is a no-op.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.shouldReconnect = true
	c.attempt = 0
	c.mu.Unlock()

	go c.run(runCtx, done)
}

// Disconnect stops the session and waits for it to wind down. Safe to call
// when not connected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.shouldReconnect = false
	cancel := c.cancel
	done := c.done
	ws := c.ws
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	c.setState(StateClosing)
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "shutdown")
	}
	cancel()
	<-done
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StateDisconnected)

	for {
		err := c.session(ctx)
		if ctx.Err() != nil || !c.reconnectEnabled() {
			return
		}
		if err != nil {
			c.logger.Warn("session ended", "error", err)
		}

		delay := c.nextBackoff()
		c.setState(StateReconnecting)
		c.logger.Info("reconnecting", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one full connect cycle: bearer, dial, join, then serve until
// the socket dies or the context is cancelled.
func (c *Conn) session(ctx context.Context) error {
	c.setState(StateConnecting)
	bearer, err := c.bearerToken(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	c.setState(StateAuthenticating)
	hdr := http.Header{}
	hdr.Set("Authorization", bearer)
	ws, resp, err := c.dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			// The cached bearer is dead; the next attempt logs in again.
			c.invalidateBearer()
			c.logger.Info("session bearer rejected, dropping cache")
		}
		return fmt.Errorf("dial: %w", err)
	}
	ws.SetReadLimit(1 << 20)

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		ws.Close(websocket.StatusInternalError, "session over")
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
	}()

	c.setState(StateJoining)
	joinRef := c.nextRef()
	join, err := wire.JoinFrame(joinRef, joinRef, c.cfg.RobotID)
	if err != nil {
		return fmt.Errorf("build join frame: %w", err)
	}
	if err := c.write(ctx, ws, join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	last, err := wire.LastStateFrame(joinRef, c.nextRef(), c.cfg.RobotID)
	if err != nil {
		return fmt.Errorf("build last_state frame: %w", err)
	}
	if err := c.write(ctx, ws, last); err != nil {
		return fmt.Errorf("request last_state: %w", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	hbDone := make(chan struct{})
	go c.heartbeat(hbCtx, ws, hbDone)
	defer func() { hbCancel(); <-hbDone }()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(data)
	}
}

// heartbeat sends a Phoenix keepalive on a fixed cadence. A failed send
// closes the socket, which surfaces in the read loop and drives a reconnect.
func (c *Conn) heartbeat(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := wire.HeartbeatFrame(c.nextRef())
			if err != nil {
				c.logger.Error("build heartbeat frame", "error", err)
				return
			}
			if err := c.write(ctx, ws, frame); err != nil {
				c.logger.Warn("heartbeat send failed", "error", err)
				ws.Close(websocket.StatusAbnormalClosure, "heartbeat failed")
				return
			}
		}
	}
}

func (c *Conn) handleFrame(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		// A frame we cannot parse never tears the session down.
		c.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	switch msg.Event {
	case wire.EventPhxReply:
		c.handleReply(msg)
	case wire.EventLastState:
		if body, ok := wire.LastStateBody(msg.Payload); ok {
			c.applyState(body)
		}
	case wire.EventStateChanged:
		if body, ok := wire.StateChangedBody(msg.Payload); ok {
			c.applyState(body)
		}
	case wire.EventCleaningState:
		cs, err := state.NormalizeCleaning(msg.Payload)
		if err != nil {
			c.logger.Warn("dropping cleaning payload", "error", err)
			return
		}
		c.sink.HandleCleaning(c.cfg.RobotID, cs)
	case wire.EventServiceStatus:
		c.logger.Debug("service status", "payload", string(msg.Payload))
	case wire.EventHeartbeat:
		// server-initiated keepalive, nothing to do
	default:
		c.logger.Debug("unhandled event", "event", msg.Event, "topic", msg.Topic)
	}
}

func (c *Conn) handleReply(msg *wire.Message) {
	if msg.Topic == wire.TopicPhoenix {
		return // heartbeat ack
	}

	var reply struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(msg.Payload, &reply)
	if reply.Status != "" && reply.Status != "ok" {
		c.logger.Warn("channel reply not ok", "topic", msg.Topic, "status", reply.Status)
		return
	}

	c.mu.Lock()
	joined := c.state == StateJoining
	if joined {
		c.attempt = 0
	}
	c.mu.Unlock()
	if joined {
		c.setState(StateLive)
		c.logger.Info("channel joined", "topic", msg.Topic)
	}

	// last_state replies carry the full device state in response.body.
	if body, ok := wire.ReplyBody(msg.Payload); ok {
		c.applyState(body)
	}
}

func (c *Conn) applyState(body json.RawMessage) {
	ds, err := state.Normalize(body)
	if err != nil {
		// Keep the previous state in effect; one bad payload is not fatal.
		c.logger.Warn("dropping state payload", "error", err)
		return
	}
	c.sink.HandleState(c.cfg.RobotID, ds)
}

func (c *Conn) write(ctx context.Context, ws *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.bearer
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	bearer, err := c.cfg.Login(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearer = bearer
	c.mu.Unlock()
	return bearer, nil
}

func (c *Conn) invalidateBearer() {
	c.mu.Lock()
	c.bearer = ""
	c.mu.Unlock()
}

func (c *Conn) reconnectEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldReconnect
}

// nextBackoff doubles the delay per failed attempt, capped at MaxBackoff.
// The counter resets when a channel join succeeds.
func (c *Conn) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt++
	d := c.cfg.InitialBackoff
	for i := 1; i < c.attempt; i++ {
		d *= 2
		if d >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}

func (c *Conn) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.Itoa(c.ref)
}

func (c *Conn) setState(st ConnState) {
	c.mu.Lock()
	if c.state == st {
		c.mu.Unlock()
		return
	}
	c.state = st
	c.mu.Unlock()
	c.sink.ConnectionChanged(c.cfg.RobotID, st)
}
