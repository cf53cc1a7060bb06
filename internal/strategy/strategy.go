// Package strategy implements the base Strategy contract described in
// spec §4.8: lifecycle hooks, an OrderFactory for trader-unique client order
// ids, submit/cancel/close convenience methods routed through the
// RiskEngine, and an indicator fanout registry over quote ticks, trade
// ticks, and bars.
package strategy

import (
	"fmt"
	"log/slog"
	"sync"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/pkg/types"
)

// LifecycleState enforces spec §4.8's "commands before start() are queued;
// after dispose() all operations error" rule.
type LifecycleState string

const (
	StatePreStart LifecycleState = "PRE_START"
	StateRunning  LifecycleState = "RUNNING"
	StateStopped  LifecycleState = "STOPPED"
	StateDisposed LifecycleState = "DISPOSED"
)

// Handler is the set of hooks a concrete strategy implements. BaseHandler
// provides no-op defaults so a strategy only overrides what it needs, the
// way net/http handlers embed a default implementation.
type Handler interface {
	OnStart()
	OnStop()
	OnResume()
	OnReset()
	OnDispose()
	OnSave() (map[string][]byte, error)
	OnLoad(map[string][]byte) error
	OnQuoteTick(types.QuoteTick)
	OnTradeTick(types.TradeTick)
	OnBar(types.Bar)
	OnOrderEvent(topic string, event any)
	OnPositionEvent(topic string, event any)
}

// BaseHandler implements Handler with no-ops. Concrete strategies embed it
// and override only the hooks they care about.
type BaseHandler struct{}

func (BaseHandler) OnStart()                         {}
func (BaseHandler) OnStop()                          {}
func (BaseHandler) OnResume()                        {}
func (BaseHandler) OnReset()                         {}
func (BaseHandler) OnDispose()                       {}
func (BaseHandler) OnSave() (map[string][]byte, error) { return nil, nil }
func (BaseHandler) OnLoad(map[string][]byte) error   { return nil }
func (BaseHandler) OnQuoteTick(types.QuoteTick)      {}
func (BaseHandler) OnTradeTick(types.TradeTick)      {}
func (BaseHandler) OnBar(types.Bar)                  {}
func (BaseHandler) OnOrderEvent(string, any)         {}
func (BaseHandler) OnPositionEvent(string, any)      {}

// RiskGateway is the subset of risk.Manager a strategy submits commands
// through; every command still passes the pre-trade gate.
type RiskGateway interface {
	Submit(types.SubmitOrder) error
	Modify(types.ModifyOrder) error
	Cancel(types.CancelOrder) error
	CancelAll(types.CancelAllOrders)
}

// Strategy is the runtime container for one Handler instance: it owns the
// OrderFactory, the indicator fanout registry, lifecycle enforcement, and
// the submit/cancel primitives described in spec §4.8.
type Strategy struct {
	ID         string
	OrderIDTag string

	OrderFactory *OrderFactory

	handler Handler
	cache   *cache.Cache
	bus     *bus.Bus
	risk    RiskGateway
	logger  *slog.Logger

	indicators *indicatorRegistry

	mu      sync.Mutex
	state   LifecycleState
	pending []func()
}

// New constructs a Strategy bound to id/orderIDTag, wraps handler with
// lifecycle enforcement, and subscribes to order/position events on the bus
// so handler.OnOrderEvent/OnPositionEvent fire automatically.
func New(id, orderIDTag string, handler Handler, c *cache.Cache, b *bus.Bus, risk RiskGateway, logger *slog.Logger) *Strategy {
	s := &Strategy{
		ID:           id,
		OrderIDTag:   orderIDTag,
		OrderFactory: NewOrderFactory(id, orderIDTag),
		handler:      handler,
		cache:        c,
		bus:          b,
		risk:         risk,
		logger:       logger.With("component", "strategy", "strategy_id", id),
		indicators:   newIndicatorRegistry(),
		state:        StatePreStart,
	}
	b.Subscribe("events.order.>", func(topic string, msg any) { s.handler.OnOrderEvent(topic, msg) }, 0)
	b.Subscribe("events.position.>", func(topic string, msg any) { s.handler.OnPositionEvent(topic, msg) }, 0)
	return s
}

// ————————————————————————————————————————————————————————————————————————
// Lifecycle
// ————————————————————————————————————————————————————————————————————————

// Start transitions PRE_START → RUNNING, flushes any commands queued while
// pre-start, and invokes handler.OnStart.
func (s *Strategy) Start() {
	s.mu.Lock()
	s.state = StateRunning
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
	s.logger.Info("strategy started")
	s.handler.OnStart()
}

// Stop invokes handler.OnStop while still RUNNING, so its commands (e.g.
// cancelling resting orders) are accepted, then transitions to STOPPED.
func (s *Strategy) Stop() {
	s.handler.OnStop()
	s.setState(StateStopped)
	s.logger.Info("strategy stopped")
}

// Resume transitions STOPPED → RUNNING and invokes handler.OnResume.
func (s *Strategy) Resume() {
	s.setState(StateRunning)
	s.handler.OnResume()
}

// Reset invokes handler.OnReset without changing lifecycle state; a
// strategy uses this to clear its own accumulated state (indicators,
// inventory) without a full dispose/recreate cycle.
func (s *Strategy) Reset() {
	s.handler.OnReset()
}

// Dispose transitions to DISPOSED. Every command method after this errors.
func (s *Strategy) Dispose() {
	s.setState(StateDisposed)
	s.logger.Info("strategy disposed")
	s.handler.OnDispose()
}

func (s *Strategy) setState(state LifecycleState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Strategy) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Save delegates to handler.OnSave for the opaque per-strategy persistence
// blob described in spec §6.
func (s *Strategy) Save() (map[string][]byte, error) { return s.handler.OnSave() }

// Load delegates to handler.OnLoad.
func (s *Strategy) Load(state map[string][]byte) error { return s.handler.OnLoad(state) }

// guard runs fn immediately if RUNNING, queues it if PRE_START, and errors
// if STOPPED or DISPOSED — the command-lifecycle rule from spec §4.8.
func (s *Strategy) guard(fn func() error) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return fn()
	case StatePreStart:
		s.pending = append(s.pending, func() { _ = fn() })
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		return fmt.Errorf("strategy %s: command issued in state %s", s.ID, s.state)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Order/position commands
// ————————————————————————————————————————————————————————————————————————

// SubmitOrder submits a single order through the RiskEngine.
func (s *Strategy) SubmitOrder(o *types.Order) error {
	return s.guard(func() error {
		return s.risk.Submit(types.SubmitOrder{Order: o, ClientID: s.ID})
	})
}

// SubmitOrderList submits an OCO/OTO order group. The RiskEngine gate runs
// over the list's entry order only; children ride along atomically via
// SubmitOrderList, matching the ExecutionEngine/Exchange bracket contract.
// A strategy composing brackets from OrderFactory.BracketList should prefer
// SubmitOrder on just the entry, letting the Exchange activate the children
// on fill; SubmitOrderList is for venues/tests that want the whole group
// accepted as one unit up front.
func (s *Strategy) SubmitOrderList(list *types.OrderList) error {
	return s.guard(func() error {
		if len(list.Orders) == 0 {
			return fmt.Errorf("strategy %s: empty order list %s", s.ID, list.ID)
		}
		return s.risk.Submit(types.SubmitOrder{Order: list.Orders[0], ClientID: s.ID})
	})
}

// ModifyOrder amends a resting order's price and/or quantity.
func (s *Strategy) ModifyOrder(id types.ClientOrderID, price *types.Price, qty *types.Quantity) error {
	o, ok := s.cache.Order(id)
	if !ok {
		return fmt.Errorf("strategy %s: modify unknown order %s", s.ID, id)
	}
	return s.guard(func() error {
		return s.risk.Modify(types.ModifyOrder{ClientOrderID: id, InstrumentID: o.InstrumentID, Price: price, Quantity: qty, ClientID: s.ID})
	})
}

// CancelOrder cancels a single resting order.
func (s *Strategy) CancelOrder(id types.ClientOrderID) error {
	o, ok := s.cache.Order(id)
	if !ok {
		return fmt.Errorf("strategy %s: cancel unknown order %s", s.ID, id)
	}
	return s.guard(func() error {
		return s.risk.Cancel(types.CancelOrder{ClientOrderID: id, InstrumentID: o.InstrumentID, ClientID: s.ID})
	})
}

// CancelAllOrders cancels every open order for an instrument.
func (s *Strategy) CancelAllOrders(instrumentID types.InstrumentID) error {
	return s.guard(func() error {
		s.risk.CancelAll(types.CancelAllOrders{InstrumentID: instrumentID, ClientID: s.ID})
		return nil
	})
}

// ClosePosition submits an offsetting MARKET order sized to the position's
// current quantity.
func (s *Strategy) ClosePosition(posID types.PositionID) error {
	pos, ok := s.cache.Position(posID)
	if !ok || pos.IsFlat() {
		return nil
	}
	side := types.OrderSideSell
	if pos.Side == types.PositionSideShort {
		side = types.OrderSideBuy
	}
	return s.SubmitOrder(s.OrderFactory.Market(posID.InstrumentID, side, pos.Quantity))
}

// CloseAllPositions closes every open position the strategy's cache knows
// about.
func (s *Strategy) CloseAllPositions() error {
	for _, pos := range s.cache.PositionsOpen() {
		if err := s.ClosePosition(pos.ID); err != nil {
			return err
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Market data dispatch — a host (BacktestEngine/TradingNode) calls these as
// ticks/bars arrive; indicators are updated before the handler's own hook,
// per spec §4.8.
// ————————————————————————————————————————————————————————————————————————

// RegisterIndicatorForQuoteTicks subscribes ind to an instrument's quote
// tick stream.
func (s *Strategy) RegisterIndicatorForQuoteTicks(id types.InstrumentID, ind Indicator) {
	s.indicators.registerForQuoteTicks(id, ind)
}

// RegisterIndicatorForTradeTicks subscribes ind to an instrument's trade
// tick stream.
func (s *Strategy) RegisterIndicatorForTradeTicks(id types.InstrumentID, ind Indicator) {
	s.indicators.registerForTradeTicks(id, ind)
}

// RegisterIndicatorForBars subscribes ind to a bar series built from
// (step, aggregation, priceType), matching the original's BarSpecification
// tuple construction.
func (s *Strategy) RegisterIndicatorForBars(instrumentID types.InstrumentID, step int, aggregation types.BarAggregation, priceType types.PriceType, ind Indicator) {
	bt := types.BarType{InstrumentID: instrumentID, Step: step, Aggregation: aggregation, PriceType: priceType, Source: "INTERNAL"}
	s.indicators.registerForBars(bt, ind)
}

// OnQuoteTick dispatches to registered indicators then the handler.
func (s *Strategy) OnQuoteTick(q types.QuoteTick) {
	s.indicators.dispatchQuoteTick(q)
	s.handler.OnQuoteTick(q)
}

// OnTradeTick dispatches to registered indicators then the handler.
func (s *Strategy) OnTradeTick(tr types.TradeTick) {
	s.indicators.dispatchTradeTick(tr)
	s.handler.OnTradeTick(tr)
}

// OnBar dispatches to registered indicators then the handler.
func (s *Strategy) OnBar(b types.Bar) {
	s.indicators.dispatchBar(b)
	s.handler.OnBar(b)
}
