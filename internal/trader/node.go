package trader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradekernel/internal/adapters"
	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/internal/clock"
	"tradekernel/internal/execution"
	"tradekernel/internal/portfolio"
	"tradekernel/internal/risk"
	"tradekernel/internal/strategy"
	"tradekernel/pkg/types"
)

// execClientShim adapts an adapters.ExecClient to execution.Venue so a live
// TradingNode can drive the same ExecutionEngine a BacktestEngine does.
// Live execution has no simulated latency queue, so arrivalNs is ignored —
// the venue itself is the source of any real-world latency.
type execClientShim struct {
	client adapters.ExecClient
	logger *slog.Logger
}

func (s *execClientShim) Submit(cmd types.SubmitOrder, _ int64) {
	if err := s.client.SubmitOrder(context.Background(), cmd.Order); err != nil {
		s.logger.Error("submit order failed", "client_order_id", cmd.Order.ClientOrderID, "error", err)
	}
}

func (s *execClientShim) SubmitList(cmd types.SubmitOrderList, _ int64) {
	for _, o := range cmd.OrderList.Orders {
		if err := s.client.SubmitOrder(context.Background(), o); err != nil {
			s.logger.Error("submit order (list) failed", "client_order_id", o.ClientOrderID, "error", err)
		}
	}
}

func (s *execClientShim) Modify(cmd types.ModifyOrder, _ int64) {
	if err := s.client.ModifyOrder(context.Background(), cmd); err != nil {
		s.logger.Error("modify order failed", "client_order_id", cmd.ClientOrderID, "error", err)
	}
}

func (s *execClientShim) Cancel(cmd types.CancelOrder, _ int64) {
	if err := s.client.CancelOrder(context.Background(), cmd); err != nil {
		s.logger.Error("cancel order failed", "client_order_id", cmd.ClientOrderID, "error", err)
	}
}

func (s *execClientShim) CancelAll(cmd types.CancelAllOrders, _ int64) {
	// The generic ExecClient contract has no blanket-cancel endpoint;
	// a live venue adapter that supports one can override this shim.
	s.logger.Warn("cancel-all requested but the live exec client has no blanket cancel", "instrument", cmd.InstrumentID)
}

// Node is the live TradingNode described in spec §5/§6: a single
// cooperative event loop over one or more DataClients, driving the same
// ExecutionEngine/RiskEngine/Strategy stack a BacktestEngine does. The
// RiskEngine calls the ExecutionEngine directly and the ExecutionEngine
// drives the exec client directly; order events are published on the
// MessageBus.
type Node struct {
	traderID string

	clock     *clock.LiveClock
	bus       *bus.Bus
	cache     *cache.Cache
	execution *execution.Engine
	risk      *risk.Manager
	portfolio *portfolio.Portfolio

	dataClients map[string]adapters.DataClient
	execClients map[string]adapters.ExecClient

	strategies []*strategy.Strategy

	timeouts TimeoutConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger *slog.Logger
}

// TimeoutConfig bounds the shutdown sequence (spec §5's Cancellation).
type TimeoutConfig struct {
	Disconnection time.Duration
	PostStop      time.Duration
}

// NewNode constructs a live TradingNode. execVenueName selects which
// registered ExecClient the ExecutionEngine drives commands through.
func NewNode(traderID string, oms types.OMSType, riskLimits risk.Limits, timeouts TimeoutConfig, execVenueName string, execClient adapters.ExecClient, logger *slog.Logger) *Node {
	logger = logger.With("component", "trader.node", "trader_id", traderID)

	c := cache.New()
	b := bus.New(logger)
	clk := clock.NewLiveClock()

	venue := &execClientShim{client: execClient, logger: logger}
	exec := execution.New(c, b, venue, clk, oms, logger)
	riskMgr := risk.NewManager(riskLimits, c, b, exec, logger)
	port := portfolio.New(c, b, logger)

	return &Node{
		traderID:    traderID,
		clock:       clk,
		bus:         b,
		cache:       c,
		execution:   exec,
		risk:        riskMgr,
		portfolio:   port,
		dataClients: make(map[string]adapters.DataClient),
		execClients: map[string]adapters.ExecClient{execVenueName: execClient},
		timeouts:    timeouts,
		logger:      logger,
	}
}

// Cache exposes the shared Cache for host-side registration of instruments
// and accounts before Start.
func (n *Node) Cache() *cache.Cache { return n.cache }

// Risk exposes the RiskEngine so strategies submit through the pre-trade
// gate.
func (n *Node) Risk() *risk.Manager { return n.risk }

// Bus exposes the MessageBus for host-level subscriptions (e.g. a reporting
// sink) and for wiring strategies.
func (n *Node) Bus() *bus.Bus { return n.bus }

// AddDataClient registers a named market-data source. Its tick channels are
// drained by the event loop started in Start.
func (n *Node) AddDataClient(name string, client adapters.DataClient) {
	n.dataClients[name] = client
}

// AddStrategy registers a strategy to receive dispatched market events.
func (n *Node) AddStrategy(s *strategy.Strategy) {
	n.strategies = append(n.strategies, s)
}

// Start connects every registered client, starts the RiskEngine's queue
// consumer and each strategy, and begins the cooperative event loop. It
// returns once every client has connected.
func (n *Node) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.running = true
	n.mu.Unlock()

	for name, dc := range n.dataClients {
		if err := dc.Connect(runCtx); err != nil {
			cancel()
			return fmt.Errorf("trader: connect data client %s: %w", name, err)
		}
	}
	for name, ec := range n.execClients {
		if err := ec.Connect(runCtx); err != nil {
			cancel()
			return fmt.Errorf("trader: connect exec client %s: %w", name, err)
		}
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.risk.Run(runCtx)
	}()

	for _, s := range n.strategies {
		s.Start()
	}

	for _, dc := range n.dataClients {
		n.runDataClientLoop(runCtx, dc)
	}
	return nil
}

// runDataClientLoop fans one DataClient's tick channels into the Cache and
// every registered strategy — the bounded-queue, single-consumer shape
// spec §5 describes for each live engine.
func (n *Node) runDataClientLoop(ctx context.Context, dc adapters.DataClient) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case q, ok := <-dc.QuoteTicks():
				if !ok {
					return
				}
				n.cache.UpdateQuote(q)
				n.bus.Publish("data.quote_tick", q)
				for _, s := range n.strategies {
					s.OnQuoteTick(q)
				}
			case t, ok := <-dc.TradeTicks():
				if !ok {
					return
				}
				n.cache.UpdateTrade(t)
				n.bus.Publish("data.trade_tick", t)
				for _, s := range n.strategies {
					s.OnTradeTick(t)
				}
			case bar, ok := <-dc.Bars():
				if !ok {
					return
				}
				n.bus.Publish("data.bar", bar)
				for _, s := range n.strategies {
					s.OnBar(bar)
				}
			}
		}
	}()
}

// Stop runs the shutdown sequence spec §5 describes: strategy.stop() for
// every strategy, then engine drain with a timeout, then dispose().
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	cancel := n.cancel
	n.mu.Unlock()

	for _, s := range n.strategies {
		s.Stop()
	}

	if cancel != nil {
		cancel()
	}

	drained := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(n.timeouts.Disconnection):
		n.logger.Warn("engine drain timed out", "timeout", n.timeouts.Disconnection)
	}

	for name, dc := range n.dataClients {
		if err := dc.Disconnect(); err != nil {
			n.logger.Warn("data client disconnect failed", "client", name, "error", err)
		}
	}
	for name, ec := range n.execClients {
		if err := ec.Disconnect(); err != nil {
			n.logger.Warn("exec client disconnect failed", "client", name, "error", err)
		}
	}

	time.Sleep(n.timeouts.PostStop)

	for _, s := range n.strategies {
		s.Dispose()
	}
}
