// ws_client.go is the reference WebSocket DataClient: a gorilla/websocket
// feed with auto-reconnect, exponential backoff, and ping/pong keepalive.
// Adapted from the teacher's dual-channel book/trade feed, generalized from
// Polymarket's book/price_change/trade/order event shapes to the generic
// QuoteTick/TradeTick/Bar model the kernel's Cache and Book understand.
package adapters

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradekernel/pkg/types"
)

const (
	wsInitialBackoff = 500 * time.Millisecond
	wsMaxBackoff     = 30 * time.Second
	wsPingInterval   = 15 * time.Second
	wsPongTimeout    = 45 * time.Second
)

// WSConfig configures a WSDataClient.
type WSConfig struct {
	URL string
}

// wireMessage is the generic envelope the reference feed expects: a
// discriminator plus the raw payload for whichever tick type it names.
type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WSDataClient is the reference DataClient implementation.
type WSDataClient struct {
	cfg    WSConfig
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	quoteTicks chan types.QuoteTick
	tradeTicks chan types.TradeTick
	bars       chan types.Bar

	subscribedQuotes []types.InstrumentID
	subscribedTrades []types.InstrumentID
	subscribedBars   []types.BarType
}

// NewWSDataClient builds a reconnecting WebSocket data feed.
func NewWSDataClient(cfg WSConfig, logger *slog.Logger) *WSDataClient {
	return &WSDataClient{
		cfg:        cfg,
		logger:     logger.With("component", "adapters.ws"),
		quoteTicks: make(chan types.QuoteTick, 1024),
		tradeTicks: make(chan types.TradeTick, 1024),
		bars:       make(chan types.Bar, 256),
	}
}

// Connect dials the feed and starts the reconnecting read loop in the
// background. It returns once the first connection attempt succeeds.
func (c *WSDataClient) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(runCtx, c.cfg.URL, nil)
	if err != nil {
		cancel()
		return err
	}
	c.mu.Lock()
	c.conn = conn
	quotes, trades, bars := c.subscribedQuotes, c.subscribedTrades, c.subscribedBars
	c.mu.Unlock()
	c.resubscribeAll(runCtx, quotes, trades, bars)

	go c.runLoop(runCtx, conn)
	return nil
}

// Disconnect stops the read loop and closes the socket.
func (c *WSDataClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *WSDataClient) SubscribeQuoteTicks(ctx context.Context, instruments []types.InstrumentID) error {
	c.mu.Lock()
	c.subscribedQuotes = instruments
	c.mu.Unlock()
	return c.sendSubscribe(ctx, "quote_ticks", instruments)
}

func (c *WSDataClient) SubscribeTradeTicks(ctx context.Context, instruments []types.InstrumentID) error {
	c.mu.Lock()
	c.subscribedTrades = instruments
	c.mu.Unlock()
	return c.sendSubscribe(ctx, "trade_ticks", instruments)
}

func (c *WSDataClient) SubscribeOrderBook(ctx context.Context, instruments []types.InstrumentID) error {
	return c.sendSubscribe(ctx, "order_book", instruments)
}

func (c *WSDataClient) SubscribeBars(ctx context.Context, barTypes []types.BarType) error {
	c.mu.Lock()
	c.subscribedBars = barTypes
	c.mu.Unlock()
	names := make([]string, len(barTypes))
	for i, bt := range barTypes {
		names[i] = bt.InstrumentID.String()
	}
	return c.sendSubscribe(ctx, "bars", names)
}

func (c *WSDataClient) sendSubscribe(ctx context.Context, kind string, ids any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil // queued implicitly: resubscribeAll replays on connect and on every reconnect
	}
	payload, err := json.Marshal(struct {
		Op   string `json:"op"`
		Kind string `json:"kind"`
		IDs  any    `json:"ids"`
	}{Op: "subscribe", Kind: kind, IDs: ids})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSDataClient) QuoteTicks() <-chan types.QuoteTick { return c.quoteTicks }
func (c *WSDataClient) TradeTicks() <-chan types.TradeTick { return c.tradeTicks }
func (c *WSDataClient) Bars() <-chan types.Bar             { return c.bars }

// runLoop owns one connection's lifetime: it reads until the connection
// drops, then reconnects with exponential backoff until ctx is cancelled.
func (c *WSDataClient) runLoop(ctx context.Context, conn *websocket.Conn) {
	backoff := wsInitialBackoff
	for {
		err := c.readUntilClosed(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxBackoff {
			backoff = wsMaxBackoff
		}
		newConn, _, dialErr := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if dialErr != nil {
			continue
		}
		c.mu.Lock()
		c.conn = newConn
		quotes, trades, bars := c.subscribedQuotes, c.subscribedTrades, c.subscribedBars
		c.mu.Unlock()
		c.resubscribeAll(ctx, quotes, trades, bars)
		backoff = wsInitialBackoff
		conn = newConn
	}
}

func (c *WSDataClient) resubscribeAll(ctx context.Context, quotes []types.InstrumentID, trades []types.InstrumentID, bars []types.BarType) {
	if len(quotes) > 0 {
		_ = c.sendSubscribe(ctx, "quote_ticks", quotes)
	}
	if len(trades) > 0 {
		_ = c.sendSubscribe(ctx, "trade_ticks", trades)
	}
	if len(bars) > 0 {
		_ = c.SubscribeBars(ctx, bars)
	}
}

func (c *WSDataClient) readUntilClosed(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	pingStop := make(chan struct{})
	go c.pingLoop(conn, pingStop)
	defer close(pingStop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debug("dropping malformed message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *WSDataClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSDataClient) dispatch(msg wireMessage) {
	switch msg.Type {
	case "quote_tick":
		var tick types.QuoteTick
		if err := json.Unmarshal(msg.Payload, &tick); err != nil {
			c.logger.Debug("dropping malformed quote tick", "error", err)
			return
		}
		select {
		case c.quoteTicks <- tick:
		default:
			c.logger.Warn("quote tick channel full, dropping")
		}
	case "trade_tick":
		var tick types.TradeTick
		if err := json.Unmarshal(msg.Payload, &tick); err != nil {
			c.logger.Debug("dropping malformed trade tick", "error", err)
			return
		}
		select {
		case c.tradeTicks <- tick:
		default:
			c.logger.Warn("trade tick channel full, dropping")
		}
	case "bar":
		var bar types.Bar
		if err := json.Unmarshal(msg.Payload, &bar); err != nil {
			c.logger.Debug("dropping malformed bar", "error", err)
			return
		}
		select {
		case c.bars <- bar:
		default:
			c.logger.Warn("bar channel full, dropping")
		}
	default:
		c.logger.Debug("unhandled message type", "type", msg.Type)
	}
}
