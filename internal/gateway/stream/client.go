// Package stream owns the physical duplex connection to the broker
// gateway: one websocket per account, carrying quote ticks, account
// snapshots and position lifecycle events. Incoming frames fan out
// through typed hubs; the latest quote per symbol and the latest
// account snapshot are cached so late subscribers start with data.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fxlink/internal/bus"
	"fxlink/internal/gateway/exchange"
	"fxlink/internal/logger"
	"fxlink/internal/pkg/symbol"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	hubBuffer               = 64
)

// ErrSessionActive is returned by Connect when a session is already
// running for this client.
var ErrSessionActive = errors.New("stream session already active")

var _ exchange.QuoteSource = (*Client)(nil)

// Options tunes one streaming session. OnUp fires after the gateway
// accepts the auth frame; OnDown fires on any transport loss that was
// not an explicit Disconnect.
type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	OnUp         func()
	OnDown       func(error)
}

// Client is one account's streaming connection.
type Client struct {
	url       string
	accountID string
	opts      Options

	quotes    *bus.Hub[exchange.Quote]
	accounts  *bus.Hub[exchange.AccountSnapshot]
	positions *bus.Hub[exchange.PositionEvent]
	orders    *bus.Hub[exchange.Order]

	lastMu      sync.RWMutex
	lastQuotes  map[string]exchange.Quote
	lastAccount exchange.AccountSnapshot
	hasAccount  bool

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewClient prepares a streaming client for one account. No I/O happens
// until Connect.
func NewClient(streamURL, accountID string, opts Options) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	return &Client{
		url:        streamURL,
		accountID:  accountID,
		opts:       opts,
		quotes:     bus.NewHub[exchange.Quote](hubBuffer),
		accounts:   bus.NewHub[exchange.AccountSnapshot](hubBuffer),
		positions:  bus.NewHub[exchange.PositionEvent](hubBuffer),
		orders:     bus.NewHub[exchange.Order](hubBuffer),
		lastQuotes: make(map[string]exchange.Quote),
	}
}

// Connect dispatches the connection attempt and returns immediately.
// Transport outcomes are reported through the OnUp/OnDown callbacks,
// never as an error from Connect itself.
func (c *Client) Connect(token string) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrSessionActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, token)
	return nil
}

// Disconnect closes the session and waits for the read and ping loops
// to exit. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Quotes is the quote tick hub.
func (c *Client) Quotes() *bus.Hub[exchange.Quote] { return c.quotes }

// Accounts is the account snapshot hub.
func (c *Client) Accounts() *bus.Hub[exchange.AccountSnapshot] { return c.accounts }

// PositionEvents is the position lifecycle hub.
func (c *Client) PositionEvents() *bus.Hub[exchange.PositionEvent] { return c.positions }

// Orders is the pending-order hub.
func (c *Client) Orders() *bus.Hub[exchange.Order] { return c.orders }

// LatestQuote returns the cached tick for a symbol.
func (c *Client) LatestQuote(sym string) (exchange.Quote, bool) {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	q, ok := c.lastQuotes[symbol.Normalize(sym)]
	return q, ok
}

// LatestAccountSnapshot returns the cached account snapshot.
func (c *Client) LatestAccountSnapshot() (exchange.AccountSnapshot, bool) {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	return c.lastAccount, c.hasAccount
}

func (c *Client) run(ctx context.Context, token string) {
	defer c.wg.Done()

	conn, err := c.dial(ctx)
	if err != nil {
		c.failUnlessStopped(ctx, fmt.Errorf("dialing gateway stream failed: %w", err))
		return
	}
	c.mu.Lock()
	if !c.running || ctx.Err() != nil {
		// Disconnect won the race while we were dialing
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.authenticate(conn, token); err != nil {
		conn.Close()
		c.failUnlessStopped(ctx, err)
		return
	}
	logger.Infof("stream up account=%s", c.accountID)
	if c.opts.OnUp != nil {
		c.opts.OnUp()
	}

	pingDone := make(chan struct{})
	go c.pingLoop(ctx, conn, pingDone)
	err = c.readLoop(conn)
	close(pingDone)

	c.failUnlessStopped(ctx, err)
}

// failUnlessStopped suppresses the OnDown callback when the session was
// torn down by an explicit Disconnect.
func (c *Client) failUnlessStopped(ctx context.Context, err error) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	c.fail(err)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("account", c.accountID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

func (c *Client) authenticate(conn *websocket.Conn, token string) error {
	frame := map[string]string{"type": "auth", "account_id": c.accountID, "token": token}
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("sending auth frame failed: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading auth response failed: %w", err)
	}
	kind, errMsg := parseAuthAck(data)
	if kind != "welcome" {
		return &exchange.ConnectionError{Kind: exchange.ConnAuthFailed, AccountID: c.accountID,
			Err: fmt.Errorf("gateway refused session: %s", errMsg)}
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(data)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// read loop will observe the broken pipe
				return
			}
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	switch frameType(data) {
	case "tick":
		quote, err := parseQuote(data)
		if err != nil {
			logger.Debugf("dropping malformed tick: %v", err)
			return
		}
		c.lastMu.Lock()
		c.lastQuotes[quote.Symbol] = quote
		c.lastMu.Unlock()
		c.quotes.Publish(quote)
	case "account":
		snap := parseAccountSnapshot(data, c.accountID)
		c.lastMu.Lock()
		c.lastAccount = snap
		c.hasAccount = true
		c.lastMu.Unlock()
		c.accounts.Publish(snap)
	case "position_open":
		c.positions.Publish(parsePositionEvent(data, exchange.PositionOpened, c.accountID))
	case "position_update":
		c.positions.Publish(parsePositionEvent(data, exchange.PositionUpdated, c.accountID))
	case "position_close":
		c.positions.Publish(parsePositionEvent(data, exchange.PositionClosed, c.accountID))
	case "order":
		c.orders.Publish(parseOrder(data, c.accountID))
	default:
		logger.Debugf("ignoring frame type=%q account=%s", frameType(data), c.accountID)
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.running = false
	c.conn = nil
	c.mu.Unlock()
	logger.Warnf("stream down account=%s: %v", c.accountID, err)
	if c.opts.OnDown != nil {
		c.opts.OnDown(err)
	}
}
