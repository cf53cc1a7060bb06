// Package trader hosts the two top-level runners spec §5 names: a
// BacktestEngine that replays merged market-data streams through a single
// deterministic virtual-time loop, and a live TradingNode that drives the
// same ExecutionEngine/RiskEngine/Strategy stack off real venue adapters.
// Grounded on the teacher's central orchestrator: the same register →
// dispatch → drain-on-shutdown shape, generalized from Polymarket-specific
// market polling to the instrument-agnostic event sources spec §5 and §6
// describe.
package trader

import (
	"fmt"
	"log/slog"
	"sort"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/internal/clock"
	"tradekernel/internal/exchange"
	"tradekernel/internal/execution"
	"tradekernel/internal/portfolio"
	"tradekernel/internal/risk"
	"tradekernel/internal/strategy"
	"tradekernel/pkg/types"
)

// marketEvent is one entry in a backtest's merged, timestamp-sorted data
// feed. Exactly one of QuoteTick, TradeTick, Bar is set.
type marketEvent struct {
	ts        int64
	quoteTick *types.QuoteTick
	tradeTick *types.TradeTick
	bar       *types.Bar
}

// BacktestEngine replays a fixed, pre-loaded set of market-data events
// through the kernel stack with no wall-clock dependency: every run over
// the same inputs produces the same outputs (spec §5's determinism
// requirement).
type BacktestEngine struct {
	traderID string

	clock      *clock.TestClock
	bus        *bus.Bus
	cache      *cache.Cache
	exchange   *exchange.Exchange
	execution  *execution.Engine
	risk       *risk.Manager
	portfolio  *portfolio.Portfolio
	strategies []*strategy.Strategy

	events []marketEvent
	logger *slog.Logger
}

// NewBacktestEngine wires a full kernel stack against a single simulated
// venue. cfg describes the venue's account model and behavior models;
// exchange.Exchange satisfies execution.Venue directly, so no adapter shim
// is needed in backtest mode.
func NewBacktestEngine(traderID string, venueCfg exchange.Config, riskLimits risk.Limits, logger *slog.Logger) *BacktestEngine {
	logger = logger.With("component", "trader.backtest", "trader_id", traderID)

	c := cache.New()
	b := bus.New(logger)
	clk := clock.NewTestClock(0)

	// Exchange and Engine are mutually referential (the exchange emits
	// events to the engine; the engine submits commands to the exchange).
	// sinkProxy breaks the cycle: the exchange is built first against the
	// proxy, the engine second against the exchange, then the proxy is
	// pointed at the engine.
	sink := &sinkProxy{}
	ex := exchange.New(venueCfg, sink, logger)
	exec := execution.New(c, b, ex, clk, venueCfg.OMSType, logger)
	sink.target = exec

	riskMgr := risk.NewManager(riskLimits, c, b, exec, logger)
	port := portfolio.New(c, b, logger)

	return &BacktestEngine{
		traderID:  traderID,
		clock:     clk,
		bus:       b,
		cache:     c,
		exchange:  ex,
		execution: exec,
		risk:      riskMgr,
		portfolio: port,
		logger:    logger,
	}
}

// Cache exposes the shared Cache so a host can register instruments/accounts
// before Run.
func (e *BacktestEngine) Cache() *cache.Cache { return e.cache }

// Exchange exposes the simulated venue so a host can register instruments
// and fund accounts before Run.
func (e *BacktestEngine) Exchange() *exchange.Exchange { return e.exchange }

// Risk exposes the RiskEngine so strategies can be wired to submit through
// the pre-trade gate rather than straight to the ExecutionEngine.
func (e *BacktestEngine) Risk() *risk.Manager { return e.risk }

// Bus exposes the MessageBus for host-level subscriptions (e.g. a reporting
// sink).
func (e *BacktestEngine) Bus() *bus.Bus { return e.bus }

// Portfolio exposes the read-side aggregator for end-of-run reporting.
func (e *BacktestEngine) Portfolio() *portfolio.Portfolio { return e.portfolio }

// AddStrategy registers a strategy to receive dispatched market events.
func (e *BacktestEngine) AddStrategy(s *strategy.Strategy) {
	e.strategies = append(e.strategies, s)
}

// LoadQuoteTicks adds quote ticks to the merged event stream.
func (e *BacktestEngine) LoadQuoteTicks(ticks []types.QuoteTick) {
	for i := range ticks {
		t := ticks[i]
		e.events = append(e.events, marketEvent{ts: t.TsEvent.UnixNano(), quoteTick: &t})
	}
}

// LoadTradeTicks adds trade ticks to the merged event stream.
func (e *BacktestEngine) LoadTradeTicks(ticks []types.TradeTick) {
	for i := range ticks {
		t := ticks[i]
		e.events = append(e.events, marketEvent{ts: t.TsEvent.UnixNano(), tradeTick: &t})
	}
}

// LoadBars adds bars to the merged event stream.
func (e *BacktestEngine) LoadBars(bars []types.Bar) {
	for i := range bars {
		bar := bars[i]
		e.events = append(e.events, marketEvent{ts: bar.TsEvent.UnixNano(), bar: &bar})
	}
}

// Run replays the loaded events in timestamp order: for each event, the
// virtual clock advances, the event updates the Cache and the simulated
// Exchange's book, strategies observe it, and any exchange commands whose
// latency-adjusted effective time has arrived are processed — the single-
// threaded loop spec §5 describes.
func (e *BacktestEngine) Run() error {
	sort.SliceStable(e.events, func(i, j int) bool { return e.events[i].ts < e.events[j].ts })

	for _, s := range e.strategies {
		s.Start()
	}

	for _, ev := range e.events {
		e.clock.SetTime(ev.ts)

		switch {
		case ev.quoteTick != nil:
			e.cache.UpdateQuote(*ev.quoteTick)
			e.exchange.OnQuoteTick(*ev.quoteTick)
			for _, s := range e.strategies {
				s.OnQuoteTick(*ev.quoteTick)
			}
		case ev.tradeTick != nil:
			e.cache.UpdateTrade(*ev.tradeTick)
			e.exchange.OnTradeTick(*ev.tradeTick)
			for _, s := range e.strategies {
				s.OnTradeTick(*ev.tradeTick)
			}
		case ev.bar != nil:
			for _, s := range e.strategies {
				s.OnBar(*ev.bar)
			}
		default:
			return fmt.Errorf("trader: empty market event at ts=%d", ev.ts)
		}

		e.exchange.Process(e.clock.NowNs())
		e.execution.ExpireGTDOrders(e.clock.Now())
	}

	for _, s := range e.strategies {
		s.Stop()
		s.Dispose()
	}
	return nil
}

// sinkProxy lets the Exchange and ExecutionEngine reference each other at
// construction despite each needing the other to already exist.
type sinkProxy struct {
	target exchange.EventSink
}

func (p *sinkProxy) OnOrderEvent(instrumentID types.InstrumentID, event any) {
	if p.target != nil {
		p.target.OnOrderEvent(instrumentID, event)
	}
}
