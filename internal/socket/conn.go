package socket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberside/firebot/internal/auth"
)

// State is the connection lifecycle state. Transitions are serialized:
// only one connect attempt may be in flight per connection.
type State int

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Authenticator resolves a connection host and one-time token. Resolve
// blocks until it succeeds or the context is canceled.
type Authenticator interface {
	Resolve(ctx context.Context) (auth.Session, error)
}

// Config tunes the connection.
type Config struct {
	// HeartbeatInterval is the ping cadence used to detect half-open
	// connections.
	HeartbeatInterval time.Duration
	// RestartDelay is the pause before tearing down and redialing after
	// an established connection drops.
	RestartDelay time.Duration
	// MaxFrameBytes raises the inbound frame limit; media payloads can
	// be large.
	MaxFrameBytes int64
	// RequestTimeout bounds join/leave round-trips.
	RequestTimeout time.Duration
}

// DefaultConfig returns the baseline connection tuning.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		RestartDelay:      2 * time.Second,
		MaxFrameBytes:     8 << 20,
		RequestTimeout:    10 * time.Second,
	}
}

// Conn owns exactly one authenticated transport connection plus its
// reconnect policy. Inbound frames are routed to the channel session
// subscribed to their topic; reply frames are matched to pending requests
// by ref.
type Conn struct {
	auth   Authenticator
	dialer Dialer
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	tr            Transport
	sessions      map[string]*Session
	pending       map[string]chan *Frame
	connected     chan struct{}
	everConnected bool
	restarting    bool
	closed        bool
	loopCancel    context.CancelFunc

	// runCtx is the long-lived context the connection reconnects under.
	runCtx context.Context

	done chan struct{}

	// onDisconnect, when set, runs after Disconnect clears session state
	// so owners can reset their own caches.
	onDisconnect func()

	// onConnected, when set, runs on its own goroutine after each
	// successful connect so owners can re-establish channel sessions.
	onConnected func(ctx context.Context)
}

// New creates a connection. A nil dialer uses the production websocket
// dialer.
func New(authGateway Authenticator, dialer Dialer, cfg Config, logger *slog.Logger) *Conn {
	if dialer == nil {
		dialer = &WebsocketDialer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Conn{
		auth:      authGateway,
		dialer:    dialer,
		cfg:       cfg,
		logger:    logger.With("component", "socket"),
		sessions:  make(map[string]*Session),
		pending:   make(map[string]chan *Frame),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetOnDisconnect registers a hook invoked after each teardown.
func (c *Conn) SetOnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// SetOnConnected registers a hook invoked after each successful connect.
func (c *Conn) SetOnConnected(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect resolves auth, dials the transport, and starts the read and
// heartbeat loops. Auth failures retry inside the gateway; dial failures
// loop back through auth for a fresh host and token. Connect returns nil
// once the socket is open, or the context error if canceled first. Calling
// Connect while not disconnected is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewError(ErrCodeClosed, "connection closed", nil)
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateAuthenticating
	c.runCtx = ctx
	c.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		sess, err := c.auth.Resolve(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			return err
		}

		c.setState(StateConnecting)
		tr, err := c.dialer.Dial(ctx, sess.Host, sess.Token)
		if err != nil {
			c.logger.Warn("dial failed, resolving fresh session", "host", sess.Host, "error", err)
			c.setState(StateAuthenticating)
			continue
		}
		tr.SetReadLimit(c.cfg.MaxFrameBytes)

		loopCtx, cancel := context.WithCancel(context.Background())

		c.mu.Lock()
		c.tr = tr
		c.state = StateConnected
		c.everConnected = true
		c.loopCancel = cancel
		close(c.connected)
		hook := c.onConnected
		c.mu.Unlock()

		go c.readLoop(loopCtx, tr)
		go c.heartbeat(loopCtx, tr)
		if hook != nil {
			go hook(ctx)
		}

		c.logger.Info("socket connected", "host", sess.Host)
		return nil
	}
}

// WaitConnected blocks until the socket is open or the context ends.
func (c *Conn) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ch := c.connected
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart waits the given delay, then tears down and reconnects, but only
// if the connection had actually been established. A connection that never
// opened relies on the auth gateway's own retry loop instead.
func (c *Conn) Restart(delay time.Duration) {
	c.mu.Lock()
	if c.restarting || c.closed {
		c.mu.Unlock()
		return
	}
	c.restarting = true
	ctx := c.runCtx
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.restarting = false
		c.mu.Unlock()
	}()

	if delay <= 0 {
		delay = c.cfg.RestartDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.done:
		return
	}

	c.mu.Lock()
	ever := c.everConnected
	c.mu.Unlock()
	if !ever {
		return
	}

	c.logger.Info("restarting socket connection", "delay", delay)
	c.Disconnect()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Connect(ctx); err != nil {
		c.logger.Error("reconnect failed", "error", err)
	}
}

// Disconnect tears the connection down: every active session is left, the
// session registry and pending requests are cleared, and the transport is
// closed. It is idempotent and a no-op when already disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	tr := c.tr
	c.tr = nil
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	for ref, ch := range c.pending {
		delete(c.pending, ref)
		close(ch)
	}
	c.state = StateDisconnected
	c.connected = make(chan struct{})
	hook := c.onDisconnect
	c.mu.Unlock()

	for topic, s := range sessions {
		s.markLeft()
		if tr != nil {
			if f, err := NewFrame(topic, EventLeave, nil); err == nil {
				_ = tr.WriteFrame(f)
			}
		}
	}
	if tr != nil {
		_ = tr.Close()
	}
	if hook != nil {
		hook()
	}
	c.logger.Info("socket disconnected", "sessions_left", len(sessions))
}

// Close permanently shuts the connection down. No restart will run after
// Close returns.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.Disconnect()
}

// Subscribe returns the channel session for a topic, creating and
// registering one if needed.
func (c *Conn) Subscribe(topic string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[topic]; ok {
		return s
	}
	s := newSession(c, topic)
	c.sessions[topic] = s
	return s
}

// Sessions returns the topics currently registered.
func (c *Conn) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.sessions))
	for t := range c.sessions {
		topics = append(topics, t)
	}
	return topics
}

func (c *Conn) removeSession(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, topic)
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send writes a frame if the transport is up.
func (c *Conn) Send(f *Frame) error {
	c.mu.Lock()
	tr := c.tr
	state := c.state
	c.mu.Unlock()
	if state != StateConnected || tr == nil {
		return NewError(ErrCodeClosed, "not connected", nil)
	}
	return tr.WriteFrame(f)
}

// request writes a frame with a fresh ref and waits for the matching
// reply.
func (c *Conn) request(ctx context.Context, f *Frame) (*Reply, error) {
	f.Ref = uuid.NewString()
	ch := make(chan *Frame, 1)

	c.mu.Lock()
	c.pending[f.Ref] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.Ref)
		c.mu.Unlock()
	}()

	if err := c.Send(f); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, NewError(ErrCodeClosed, "connection reset while waiting for reply", nil)
		}
		var r Reply
		if err := unmarshalReply(reply, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case <-timer.C:
		return nil, NewError(ErrCodeTimeout, "reply timeout for "+f.Event+" on "+f.Topic, nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) readLoop(ctx context.Context, tr Transport) {
	for {
		f, err := tr.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("socket read failed", "error", err)
			go c.Restart(c.cfg.RestartDelay)
			return
		}
		c.route(f)
	}
}

func (c *Conn) heartbeat(ctx context.Context, tr Transport) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tr.Ping(); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("heartbeat failed", "error", err)
				go c.Restart(c.cfg.RestartDelay)
				return
			}
		}
	}
}

// route delivers a frame either to the request waiting on its ref or to
// the session subscribed to its topic. Frames for unknown topics are
// dropped; the server may still push briefly after a local leave.
func (c *Conn) route(f *Frame) {
	if f.Event == EventReply && f.Ref != "" {
		c.mu.Lock()
		ch, ok := c.pending[f.Ref]
		if ok {
			delete(c.pending, f.Ref)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}
		return
	}

	c.mu.Lock()
	s := c.sessions[f.Topic]
	c.mu.Unlock()
	if s == nil {
		c.logger.Debug("frame for unknown topic", "topic", f.Topic, "event", f.Event)
		return
	}
	s.deliver(f.Event, f.Payload)
}
