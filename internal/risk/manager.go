// Package risk implements the RiskEngine pre-trade gate: trading-state
// checks, max-quantity/notional limits, price-sanity bands, and a throttle,
// sitting between Strategy and ExecutionEngine on every outgoing command.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/internal/metrics"
	"tradekernel/pkg/types"
)

// Submitter is the subset of the ExecutionEngine the RiskEngine forwards
// approved commands to.
type Submitter interface {
	SubmitOrder(cmd types.SubmitOrder) error
	ModifyOrder(cmd types.ModifyOrder) error
	CancelOrder(cmd types.CancelOrder) error
	CancelAllOrders(cmd types.CancelAllOrders)
}

// Limits configures the RiskEngine's pre-trade checks, the live-mode queue
// depth, and the bypass escape hatch used by test harnesses (grounded on the
// original's `test_live_risk_engine.py` bypass flag).
type Limits struct {
	MaxQuantity        map[types.InstrumentID]types.Quantity
	MaxNotional        map[types.InstrumentID]types.Money
	PriceBandPct       decimal.Decimal // e.g. 0.10 = reject orders priced >10% from the last quote mid
	MaxOrdersPerWindow int
	Window             time.Duration
	QSize              int
	Bypass             bool
}

// Manager is the RiskEngine described in spec §4.7.
type Manager struct {
	cfg       Limits
	cache     *cache.Cache
	bus       *bus.Bus
	submitter Submitter
	logger    *slog.Logger

	mu    sync.Mutex
	state types.TradingState

	limiter *rate.Limiter

	queue chan queuedCommand
}

type queuedCommand struct {
	submit    *types.SubmitOrder
	modify    *types.ModifyOrder
	cancel    *types.CancelOrder
	cancelAll *types.CancelAllOrders
}

// NewManager constructs a RiskEngine. A zero Limits.Window/MaxOrdersPerWindow
// disables the throttle.
func NewManager(cfg Limits, c *cache.Cache, b *bus.Bus, submitter Submitter, logger *slog.Logger) *Manager {
	var limiter *rate.Limiter
	if cfg.MaxOrdersPerWindow > 0 && cfg.Window > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.MaxOrdersPerWindow)/cfg.Window.Seconds()), cfg.MaxOrdersPerWindow)
	}
	qsize := cfg.QSize
	if qsize <= 0 {
		qsize = 1
	}
	return &Manager{
		cfg:       cfg,
		cache:     c,
		bus:       b,
		submitter: submitter,
		logger:    logger.With("component", "risk"),
		state:     types.TradingStateActive,
		limiter:   limiter,
		queue:     make(chan queuedCommand, qsize),
	}
}

// SetTradingState flips the global gate and publishes TradingStateChanged.
func (m *Manager) SetTradingState(state types.TradingState, reason string) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.logger.Info("trading state changed", "state", state, "reason", reason)
	m.bus.Publish("events.risk.trading_state_changed", types.TradingStateChanged{State: state, Reason: reason, TsEvent: time.Now()})
	if state == types.TradingStateHalted {
		metrics.IncTradingHalt()
	}
}

// TradingState returns the current gate.
func (m *Manager) TradingState() types.TradingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ————————————————————————————————————————————————————————————————————————
// Live-mode bounded queue (spec §4.7: enqueuing past qsize blocks, drops
// nothing)
// ————————————————————————————————————————————————————————————————————————

// Run drains the live-mode queue until ctx is done, applying the pre-trade
// gate to each command in arrival order.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qc := <-m.queue:
			m.dispatch(qc)
		}
	}
}

// EnqueueSubmit blocks until the command is accepted onto the queue or ctx
// is canceled.
func (m *Manager) EnqueueSubmit(ctx context.Context, cmd types.SubmitOrder) error {
	select {
	case m.queue <- queuedCommand{submit: &cmd}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueModify blocks until the command is accepted onto the queue or ctx
// is canceled.
func (m *Manager) EnqueueModify(ctx context.Context, cmd types.ModifyOrder) error {
	select {
	case m.queue <- queuedCommand{modify: &cmd}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueCancel blocks until the command is accepted onto the queue or ctx
// is canceled.
func (m *Manager) EnqueueCancel(ctx context.Context, cmd types.CancelOrder) error {
	select {
	case m.queue <- queuedCommand{cancel: &cmd}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) dispatch(qc queuedCommand) {
	switch {
	case qc.submit != nil:
		_ = m.Submit(*qc.submit)
	case qc.modify != nil:
		_ = m.Modify(*qc.modify)
	case qc.cancel != nil:
		_ = m.Cancel(*qc.cancel)
	case qc.cancelAll != nil:
		m.submitter.CancelAllOrders(*qc.cancelAll)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Pre-trade gate — backtest mode calls these directly; live mode calls them
// from Run via the queue.
// ————————————————————————————————————————————————————————————————————————

// Submit runs the pre-trade gate on cmd and, if it passes, forwards it to the
// ExecutionEngine. On failure it emits OrderDenied and returns nil (a denial
// is not itself an error — it is the gate working as designed).
func (m *Manager) Submit(cmd types.SubmitOrder) error {
	if reason := m.check(cmd.Order, true); reason != "" {
		m.deny(cmd.Order, reason)
		return nil
	}
	return m.submitter.SubmitOrder(cmd)
}

// Modify runs the pre-trade gate on the amended order and forwards it if it
// passes.
func (m *Manager) Modify(cmd types.ModifyOrder) error {
	o, ok := m.cache.Order(cmd.ClientOrderID)
	if !ok {
		return fmt.Errorf("risk: modify order: %s not found in cache", cmd.ClientOrderID)
	}
	probe := *o
	if cmd.Price != nil {
		probe.Price = cmd.Price
	}
	if cmd.Quantity != nil {
		probe.Quantity = *cmd.Quantity
	}
	if reason := m.check(&probe, true); reason != "" {
		m.deny(&probe, reason)
		return nil
	}
	return m.submitter.ModifyOrder(cmd)
}

// Cancel never denies — reducing or flattening exposure is always permitted,
// including while REDUCING or HALTED.
func (m *Manager) Cancel(cmd types.CancelOrder) error {
	return m.submitter.CancelOrder(cmd)
}

// CancelAll never denies, for the same reason as Cancel.
func (m *Manager) CancelAll(cmd types.CancelAllOrders) {
	m.submitter.CancelAllOrders(cmd)
}

// check returns a non-empty denial reason if cmd fails the gate, or "" if it
// passes. enforceThrottle controls whether the throttle gate runs and takes
// a token; every current caller, including Modify's probe, passes true.
func (m *Manager) check(o *types.Order, enforceThrottle bool) string {
	if m.cfg.Bypass {
		return ""
	}

	state := m.TradingState()
	if state == types.TradingStateHalted {
		return "TRADING_HALTED"
	}
	if state == types.TradingStateReducing && !m.reducesExposure(o) {
		return "TRADING_REDUCING_ONLY"
	}

	if max, ok := m.cfg.MaxQuantity[o.InstrumentID]; ok && o.Quantity.GreaterThan(max) {
		return "MAX_QUANTITY_EXCEEDED"
	}

	if reason := m.checkNotional(o); reason != "" {
		return reason
	}

	if reason := m.checkPriceSanity(o); reason != "" {
		return reason
	}

	if enforceThrottle && m.limiter != nil && !m.limiter.Allow() {
		return "THROTTLE_EXCEEDED"
	}

	return ""
}

// reducesExposure reports whether o would reduce or flatten the current
// position for its instrument, per the REDUCING trading-state carve-out.
func (m *Manager) reducesExposure(o *types.Order) bool {
	posID := types.PositionID{InstrumentID: o.InstrumentID, VenuePosID: o.InstrumentID.String()}
	pos, ok := m.cache.Position(posID)
	if !ok || pos.IsFlat() {
		return false
	}
	if pos.Side == types.PositionSideLong {
		return o.Side == types.OrderSideSell
	}
	return o.Side == types.OrderSideBuy
}

func (m *Manager) checkNotional(o *types.Order) string {
	max, ok := m.cfg.MaxNotional[o.InstrumentID]
	if !ok || o.Price == nil {
		return ""
	}
	notional := o.Price.Decimal().Mul(o.Quantity.Decimal())
	if notional.GreaterThan(max.Decimal()) {
		return "MAX_NOTIONAL_EXCEEDED"
	}
	return ""
}

// checkPriceSanity rejects limit-bearing orders priced further than
// PriceBandPct from the last known quote mid. No quote yet, or no price
// band configured, always passes (nothing to sanity-check against).
func (m *Manager) checkPriceSanity(o *types.Order) string {
	if m.cfg.PriceBandPct.IsZero() || o.Price == nil {
		return ""
	}
	q, ok := m.cache.Quote(o.InstrumentID)
	if !ok {
		return ""
	}
	mid := q.Mid().Decimal()
	if mid.IsZero() {
		return ""
	}
	deviation := o.Price.Decimal().Sub(mid).Div(mid).Abs()
	if deviation.GreaterThan(m.cfg.PriceBandPct) {
		return "PRICE_OUT_OF_BAND"
	}
	return ""
}

func (m *Manager) deny(o *types.Order, reason string) {
	m.logger.Warn("order denied", "client_order_id", o.ClientOrderID, "instrument", o.InstrumentID, "reason", reason)
	m.bus.Publish("events.order.denied", types.OrderDenied{ClientOrderID: o.ClientOrderID, InstrumentID: o.InstrumentID, Reason: reason, TsEvent: time.Now()})
	m.bus.Publish("events.risk.threshold_breached", types.RiskThresholdBreached{ClientOrderID: o.ClientOrderID, InstrumentID: o.InstrumentID, LimitName: reason, TsEvent: time.Now()})
	metrics.IncOrdersDenied(reason)
}
