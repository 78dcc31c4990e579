// ABOUTME: Client-side websocket channel with a bounded reconnect state machine
// ABOUTME: One socket per user; explicit states with a cancellable retry timer

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/2389/courier/internal/event"
)

// ErrChannelNotConnected is returned by Send outside the Connected state.
var ErrChannelNotConnected = errors.New("channel is not connected")

// State is the channel lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is delivered to status handlers on every state change. Terminal
// means the channel is at rest: no reconnect is pending or will be
// scheduled, either because the user disconnected or because the retry
// budget ran out.
type Status struct {
	State    State
	Terminal bool
}

const (
	defaultRetryDelay  = 3 * time.Second
	defaultMaxAttempts = 5

	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// ChannelConfig configures a push channel.
type ChannelConfig struct {
	// Endpoint is the full websocket URL including user ID and token (see
	// WSEndpoint).
	Endpoint string
	// RetryDelay is the fixed delay between reconnect attempts. Zero uses
	// the default.
	RetryDelay time.Duration
	// MaxAttempts bounds consecutive failed dials before the channel gives
	// up. Zero uses the default.
	MaxAttempts int
	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Channel maintains one push connection to the gateway. Dropped connections
// reconnect automatically after a fixed delay until the attempt budget runs
// out; an explicit Disconnect cancels any pending reconnect immediately.
//
// Connect while Connecting or Connected is a no-op, so a channel never holds
// two sockets for the same user.
type Channel struct {
	endpoint    string
	dialer      *websocket.Dialer
	retryDelay  time.Duration
	maxAttempts int
	logger      *slog.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	failures   int
	retryTimer *time.Timer
	manualStop bool

	// Gorilla allows one concurrent writer per connection
	writeMu sync.Mutex

	handlersMu     sync.RWMutex
	nextHandlerID  int
	eventHandlers  map[int]func(evt any)
	statusHandlers map[int]func(st Status)
}

// NewChannel creates a push channel. Pass nil logger for default.
func NewChannel(cfg ChannelConfig, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Channel{
		endpoint:       cfg.Endpoint,
		dialer:         dialer,
		retryDelay:     retryDelay,
		maxAttempts:    maxAttempts,
		logger:         logger.With("component", "channel"),
		eventHandlers:  make(map[int]func(any)),
		statusHandlers: make(map[int]func(Status)),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnEvent registers a handler for decoded push events. The returned func
// unregisters it.
func (c *Channel) OnEvent(fn func(evt any)) (remove func()) {
	c.handlersMu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.eventHandlers[id] = fn
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		delete(c.eventHandlers, id)
		c.handlersMu.Unlock()
	}
}

// OnStatus registers a handler for state changes. The returned func
// unregisters it.
func (c *Channel) OnStatus(fn func(st Status)) (remove func()) {
	c.handlersMu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.statusHandlers[id] = fn
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		delete(c.statusHandlers, id)
		c.handlersMu.Unlock()
	}
}

// Connect opens the channel. A call while Connecting or Connected is a
// no-op. A failed dial starts the reconnect sequence; the returned error
// reports only the first attempt.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.manualStop = false
	c.failures = 0
	c.cancelRetryLocked()
	c.mu.Unlock()

	c.notifyStatus(Status{State: StateConnecting})
	return c.dial(ctx)
}

// Disconnect closes the channel and cancels any pending reconnect. No
// reconnect fires after this call until the next Connect. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.manualStop = true
	c.cancelRetryLocked()

	conn := c.conn
	if conn == nil {
		already := c.state == StateDisconnected
		c.state = StateDisconnected
		c.mu.Unlock()
		if !already {
			c.notifyStatus(Status{State: StateDisconnected, Terminal: true})
		}
		return
	}

	c.state = StateClosing
	c.mu.Unlock()

	c.notifyStatus(Status{State: StateClosing})

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	// readLoop observes the closing socket and finishes the transition to
	// Disconnected
	conn.Close()
}

// Send writes a JSON payload to the gateway. Valid only while Connected;
// otherwise the caller gets ErrChannelNotConnected instead of a silent
// drop.
func (c *Channel) Send(payload any) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrChannelNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

// dial performs one connection attempt and hands the socket to the read
// loop on success.
func (c *Channel) dial(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}

		c.mu.Lock()
		c.state = StateDisconnected
		c.failures++
		attempt := c.failures
		c.mu.Unlock()

		c.logger.Warn("connect failed", "attempt", attempt, "error", err)
		c.notifyStatus(Status{State: StateDisconnected})
		c.scheduleRetry()
		return err
	}

	c.mu.Lock()
	if c.manualStop {
		// Disconnect raced the dial; release the fresh socket
		c.state = StateDisconnected
		c.mu.Unlock()
		conn.Close()
		c.notifyStatus(Status{State: StateDisconnected, Terminal: true})
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.failures = 0
	c.mu.Unlock()

	c.notifyStatus(Status{State: StateConnected})
	go c.readLoop(conn)
	return nil
}

// readLoop decodes push events until the socket dies, then drives the
// disconnect transition and, unless the user stopped the channel, the
// reconnect schedule.
func (c *Channel) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection lost", "error", err)
			}
			break
		}

		evt, err := event.Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable event", "error", err)
			continue
		}
		c.dispatch(evt)
	}

	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer socket owns the channel
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	manual := c.manualStop
	c.mu.Unlock()

	c.notifyStatus(Status{State: StateDisconnected, Terminal: manual})
	if !manual {
		c.scheduleRetry()
	}
}

// scheduleRetry arms the reconnect timer, or reports a terminal disconnect
// once the failure budget is spent.
func (c *Channel) scheduleRetry() {
	c.mu.Lock()
	if c.manualStop || c.retryTimer != nil {
		c.mu.Unlock()
		return
	}
	if c.failures >= c.maxAttempts {
		attempts := c.failures
		c.mu.Unlock()
		c.logger.Warn("reconnect budget exhausted", "attempts", attempts)
		c.notifyStatus(Status{State: StateDisconnected, Terminal: true})
		return
	}
	attempt := c.failures + 1
	c.retryTimer = time.AfterFunc(c.retryDelay, func() { c.retry(attempt) })
	c.mu.Unlock()
}

// retry fires from the reconnect timer.
func (c *Channel) retry(attempt int) {
	c.mu.Lock()
	c.retryTimer = nil
	if c.manualStop || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.notifyStatus(Status{State: StateConnecting})
	c.logger.Info("reconnecting", "attempt", attempt)
	c.dial(context.Background())
}

// cancelRetryLocked stops a pending reconnect timer. Must be called with mu
// held.
func (c *Channel) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// dispatch fans a push event out to every registered handler.
func (c *Channel) dispatch(evt any) {
	c.handlersMu.RLock()
	handlers := lo.Values(c.eventHandlers)
	c.handlersMu.RUnlock()

	for _, fn := range handlers {
		c.invoke(func() { fn(evt) })
	}
}

// notifyStatus fans a state change out to every registered handler.
func (c *Channel) notifyStatus(st Status) {
	c.handlersMu.RLock()
	handlers := lo.Values(c.statusHandlers)
	c.handlersMu.RUnlock()

	for _, fn := range handlers {
		c.invoke(func() { fn(st) })
	}
}

// invoke shields dispatch from a panicking handler so the remaining
// handlers still run.
func (c *Channel) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "panic", r)
		}
	}()
	fn()
}
