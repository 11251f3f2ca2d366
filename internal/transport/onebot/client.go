package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/model/event"
	"github.com/zhouzirui/tavern-link/backend/internal/observability"
)

// ErrNotConnected is returned by actions issued while no connection is up.
var ErrNotConnected = errors.New("onebot: not connected")

// ActionError is a failed OneBot action response.
type ActionError struct {
	Action  string
	Status  string
	Retcode int
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("onebot %s failed: status=%s retcode=%d %s", e.Action, e.Status, e.Retcode, e.Message)
}

// Handler receives normalized inbound messages. It must not block for long;
// the read loop waits for it.
type Handler func(ev event.Inbound)

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

type actionResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
}

// Client is a forward websocket OneBot v11 client that reconnects with
// exponential backoff until its context ends.
type Client struct {
	url          string
	token        string
	audioBaseURL string
	selfID       atomic.Int64

	dialer       *websocket.Dialer
	pingInterval time.Duration
	callTimeout  time.Duration
	backoffBase  time.Duration
	backoffCap   time.Duration

	metrics *observability.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan actionResponse

	writeMu sync.Mutex
}

// Option customizes a Client.
type Option func(*Client)

// WithPingInterval sets the keepalive ping period.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

// WithCallTimeout bounds how long an action waits for its echo.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffCap = cap
	}
}

// WithMetrics reports connection state and inbound counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for cfg. Run must be called to connect.
func New(cfg config.OneBotConfig, opts ...Option) *Client {
	c := &Client{
		url:          cfg.URL,
		token:        cfg.AccessToken,
		audioBaseURL: cfg.AudioBaseURL,
		dialer:       &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		pingInterval: 30 * time.Second,
		callTimeout:  10 * time.Second,
		backoffBase:  time.Second,
		backoffCap:   30 * time.Second,
		logger:       log.With().Str("component", "onebot").Logger(),
		pending:      make(map[string]chan actionResponse),
	}
	c.selfID.Store(cfg.SelfID)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelfID returns the bot account id, learned from events when not configured.
func (c *Client) SelfID() int64 {
	return c.selfID.Load()
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and serves events until ctx is cancelled, reconnecting after
// every disconnect.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	attempt := 0
	for {
		established, err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			attempt = 0
		}

		delay := backoff(attempt, c.backoffBase, c.backoffCap)
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("onebot connection lost, reconnecting")
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// backoff doubles base per attempt, capped.
func backoff(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

func (c *Client) session(ctx context.Context, handle Handler) (bool, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return false, fmt.Errorf("dial onebot: %w", err)
	}
	c.attach(conn)
	defer c.detach(conn)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.logger.Info().Str("url", c.url).Msg("connected to onebot")

	sessCtx, cancel := context.WithCancel(ctx)
	var pinger sync.WaitGroup
	pinger.Add(1)
	go func() {
		defer pinger.Done()
		c.pingLoop(sessCtx, conn)
	}()
	defer func() {
		cancel()
		pinger.Wait()
	}()

	readWait := 2 * c.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		c.route(data, handle)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.metrics.SetTransportConnected(true)
}

// detach drops the connection and fails every in-flight action.
func (c *Client) detach(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = make(map[string]chan actionResponse)
	for _, ch := range pending {
		close(ch)
	}
	c.mu.Unlock()
	c.metrics.SetTransportConnected(false)
}

// route sends action responses to their waiters and normalized messages to handle.
func (c *Client) route(data []byte, handle Handler) {
	var probe struct {
		PostType string `json:"post_type"`
		Echo     string `json:"echo"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		c.logger.Warn().Err(err).Msg("dropping unparsable onebot frame")
		return
	}

	if probe.PostType == "" {
		if probe.Echo == "" {
			return
		}
		var resp actionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("dropping unparsable action response")
			return
		}
		c.mu.Lock()
		if ch, ok := c.pending[resp.Echo]; ok {
			delete(c.pending, resp.Echo)
			ch <- resp
		}
		c.mu.Unlock()
		return
	}

	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		c.logger.Warn().Err(err).Msg("dropping unparsable onebot event")
		return
	}
	if w.SelfID != 0 && c.selfID.Load() == 0 {
		c.selfID.Store(w.SelfID)
		c.logger.Info().Int64("self_id", w.SelfID).Msg("learned bot account id")
	}

	ev, ok := w.normalize(c.selfID.Load())
	if !ok {
		return
	}
	c.metrics.InboundEvent(string(ev.Kind))
	if handle != nil {
		handle(ev)
	}
}

// call issues an action and waits for the response carrying the same echo.
func (c *Client) call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	echo := uuid.NewString()
	ch := make(chan actionResponse, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[echo] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, echo)
		c.mu.Unlock()
	}()

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := conn.WriteJSON(actionRequest{Action: action, Params: params, Echo: echo})
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onebot %s: %w", action, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("onebot %s: %w", action, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Status == "failed" || resp.Retcode != 0 {
			msg := resp.Wording
			if msg == "" {
				msg = resp.Message
			}
			return nil, &ActionError{Action: action, Status: resp.Status, Retcode: resp.Retcode, Message: msg}
		}
		return resp.Data, nil
	}
}
