package feed

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tradedesk/internal/errors"
	"tradedesk/internal/logging"
	"tradedesk/pkg/utils"
)

// Config holds configuration for a push connection.
type Config struct {
	Name                 string
	URL                  string
	HealthURL            string
	Token                string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	HTTPClient           *http.Client
	Logger               zerolog.Logger
}

// Conn implements Socket over a websocket carrying JSON envelopes.
type Conn struct {
	cfg    Config
	dialer *websocket.Dialer
	prober *Prober
	logger zerolog.Logger

	// Handlers
	onEvent   func(Event)
	onConnect func(reconnected bool)
	onState   func(State)
	onError   func(error)

	// State
	ws           *websocket.Conn
	done         chan struct{}
	state        State
	connected    bool
	closed       bool
	reconnecting bool

	// Lifecycle context; cancelled by Disconnect to stop reconnection.
	ctx    context.Context
	cancel context.CancelFunc

	received atomic.Int64
	dropped  atomic.Int64

	mu      sync.RWMutex
	writeMu sync.Mutex // Protects websocket writes
}

// Ensure Conn implements Socket.
var _ Socket = (*Conn)(nil)

// NewConn creates a new push connection.
func NewConn(cfg Config) *Conn {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	return &Conn{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		prober: NewProber(cfg.HealthURL, cfg.HTTPClient),
		logger: logging.WithFeed(cfg.Logger, cfg.Name),
		state:  StateDisconnected,
	}
}

// Name returns the connection name.
func (c *Conn) Name() string {
	return c.cfg.Name
}

// Connect probes readiness, then dials. It never returns an error; failures
// are reported through OnError and the return value.
func (c *Conn) Connect(ctx context.Context) bool {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return true
	}
	if c.cfg.Token == "" {
		c.mu.Unlock()
		c.emitError(errors.NewFeedError(c.cfg.Name, "connect", errors.ErrNotAuthenticated))
		return false
	}
	c.closed = false
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	ready, err := c.prober.Probe(ctx)
	if err != nil {
		c.setState(StateOffline, 0)
		c.emitError(errors.NewFeedError(c.cfg.Name, "probe", err))
		return false
	}
	if !ready.Ready() {
		c.logger.Warn().
			Bool("broker_ws", ready.BrokerWSConnected).
			Bool("redis", ready.RedisConnected).
			Msg("Push server not ready, not connecting")
		c.setState(StateOffline, 0)
		c.emitError(errors.NewFeedError(c.cfg.Name, "probe", errors.ErrNotReady))
		return false
	}

	c.setState(StateConnecting, 0)

	retryCfg := utils.FixedRetryConfig(c.cfg.MaxReconnectAttempts, c.cfg.ReconnectDelay)
	retryCfg.OnAttempt = func(attempt int, err error) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Dial failed")
	}
	ws, err := utils.RetryWithResult(ctx, retryCfg, func() (*websocket.Conn, error) {
		return c.dial(ctx)
	})
	if err != nil {
		c.setState(StateOffline, 0)
		c.emitError(errors.NewFeedError(c.cfg.Name, "connect", err))
		return false
	}

	c.attach(ws, false)
	return true
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.NewAPIError(resp.StatusCode, c.cfg.URL, "handshake rejected", errors.ErrConnectionFailed)
		}
		return nil, errors.Wrap(errors.ErrConnectionFailed, err.Error())
	}
	return ws, nil
}

// attach installs an open socket and starts its loops.
func (c *Conn) attach(ws *websocket.Conn, reconnected bool) {
	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.done = done
	c.connected = true
	c.mu.Unlock()

	c.setState(StateConnected, 0)

	go c.readLoop(ws)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(ws, done)
	}

	c.mu.RLock()
	handler := c.onConnect
	c.mu.RUnlock()
	if handler != nil {
		handler(reconnected)
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			c.handleDrop(ws, err)
			return
		}

		ev, err := Decode(frame, time.Now())
		if err != nil {
			c.dropped.Add(1)
			c.logger.Debug().Err(err).Msg("Dropping malformed frame")
			continue
		}
		c.received.Add(1)

		c.mu.RLock()
		handler := c.onEvent
		c.mu.RUnlock()
		if handler != nil {
			handler(ev)
		}
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.HandshakeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

// handleDrop tears down a socket that stopped reading and starts
// reconnection unless the drop was requested.
func (c *Conn) handleDrop(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		// Stale socket, already replaced or closed.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.connected = false
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	closed := c.closed
	c.mu.Unlock()

	ws.Close()
	if closed {
		return
	}

	c.logger.Warn().Err(cause).Msg("Connection dropped")
	c.emitError(errors.NewFeedError(c.cfg.Name, "read", cause))
	go c.reconnect()
}

// reconnect retries with a fixed delay, at most MaxReconnectAttempts times.
func (c *Conn) reconnect() {
	c.mu.Lock()
	if c.reconnecting || c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	ctx := c.ctx
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	var ws *websocket.Conn
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		c.setState(StateReconnecting, attempt)

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ws, lastErr = c.dial(ctx)
		if lastErr == nil {
			break
		}
		c.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("Reconnect attempt failed")
	}

	if ws == nil {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateOffline, c.cfg.MaxReconnectAttempts)
		c.emitError(errors.NewFeedError(c.cfg.Name, "reconnect",
			errors.Wrap(errors.ErrReconnectExhausted, errorText(lastErr))))
		return
	}

	c.attach(ws, true)
}

func errorText(err error) string {
	if err == nil {
		return "no attempts made"
	}
	return err.Error()
}

// Disconnect closes the connection, stops reconnection and clears every
// registered handler.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.connected = false
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		ws.Close()
	}

	c.setState(StateDisconnected, 0)

	c.mu.Lock()
	c.onEvent = nil
	c.onConnect = nil
	c.onState = nil
	c.onError = nil
	c.mu.Unlock()
}

// Send writes one outbound event.
func (c *Conn) Send(event string, payload interface{}) error {
	c.mu.RLock()
	ws := c.ws
	connected := c.connected
	c.mu.RUnlock()

	if !connected || ws == nil {
		return errors.NewFeedError(c.cfg.Name, "send "+event, errors.ErrNotConnected)
	}

	frame, err := sonic.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return errors.Wrapf(err, "encoding %s", event)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.NewFeedError(c.cfg.Name, "send "+event, err)
	}
	return nil
}

type outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// IsConnected returns whether the socket is open.
func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns the number of delivered and dropped frames.
func (c *Conn) Stats() (received, dropped int64) {
	return c.received.Load(), c.dropped.Load()
}

// OnEvent sets the handler for decoded inbound events.
func (c *Conn) OnEvent(handler func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = handler
}

// OnConnect sets the connection handler.
func (c *Conn) OnConnect(handler func(reconnected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = handler
}

// OnStateChange sets the state transition handler.
func (c *Conn) OnStateChange(handler func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnError sets the error handler.
func (c *Conn) OnError(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

func (c *Conn) setState(s State, attempt int) {
	c.mu.Lock()
	if c.state == s && s != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = s
	handler := c.onState
	c.mu.Unlock()

	logging.LogFeedState(c.logger, c.cfg.Name, string(s), attempt)
	if handler != nil {
		handler(s)
	}
}

func (c *Conn) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		handler(err)
	}
}
