// MarketMaker implements the Avellaneda-Stoikov algorithm on top of the base
// Strategy contract: post a bid below and an ask above a reservation price
// that accounts for inventory risk. When the strategy is long, it lowers
// quotes to attract sellers; when short, it raises quotes to attract buyers.
//
// Per-tick flow (every quote tick, throttled to RefreshInterval):
//  1. Check quote staleness; cancel and stand down if stale.
//  2. Compute reservation price:  r = mid - q * gamma * sigma^2 * T
//  3. Compute optimal spread:     delta = gamma * sigma^2 * T + (2/gamma) * ln(1 + gamma/k)
//  4. Widen delta by the current flow-toxicity multiplier.
//  5. Derive bid = r - delta/2, ask = r + delta/2, rounded to the
//     instrument's tick size.
//  6. Cancel the previous quote pair and submit the new one.
package strategy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradekernel/internal/cache"
	"tradekernel/pkg/types"
)

// MakerConfig configures one MarketMaker instance.
type MakerConfig struct {
	InstrumentID            types.InstrumentID
	OrderSize               types.Quantity
	RefreshInterval         time.Duration
	StaleQuoteTimeout       time.Duration
	Gamma                   float64 // risk aversion
	Sigma                   float64 // volatility estimate (price units)
	Horizon                 time.Duration
	K                       float64 // order book liquidity density
	MaxExposure             decimal.Decimal
	FlowWindow              time.Duration
	FlowToxicityThreshold   float64
	FlowCooldownPeriod      time.Duration
	FlowMaxSpreadMultiplier float64
}

// MarketMaker is a Handler implementing the quoting algorithm described
// above. Embedding BaseHandler covers every hook MarketMaker doesn't
// override.
type MarketMaker struct {
	BaseHandler

	cfg       MakerConfig
	strat     *Strategy
	cache     *cache.Cache
	inventory *Inventory
	flow      *FlowTracker
	logger    *slog.Logger

	mu          sync.Mutex
	lastQuote   types.QuoteTick
	lastQuoteAt time.Time
	lastRefresh time.Time
	bidOrderID  types.ClientOrderID
	askOrderID  types.ClientOrderID
}

// NewMarketMaker wires a MarketMaker to strat; the caller still owns
// strat.Start()/Stop()/Dispose() lifecycle calls. strat may be nil at
// construction — a host building Strategy and Handler together (they
// reference each other) should finish the wiring with SetStrategy once
// both exist.
func NewMarketMaker(cfg MakerConfig, strat *Strategy, c *cache.Cache, logger *slog.Logger) *MarketMaker {
	return &MarketMaker{
		cfg:       cfg,
		strat:     strat,
		cache:     c,
		inventory: NewInventory(c, cfg.InstrumentID, cfg.MaxExposure),
		flow:      NewFlowTracker(cfg.FlowWindow, cfg.FlowToxicityThreshold, cfg.FlowCooldownPeriod, cfg.FlowMaxSpreadMultiplier),
		logger:    logger.With("component", "market_maker", "instrument", cfg.InstrumentID),
	}
}

// SetStrategy completes the wiring when strat wasn't available yet at
// construction time.
func (m *MarketMaker) SetStrategy(strat *Strategy) {
	m.mu.Lock()
	m.strat = strat
	m.mu.Unlock()
}

// OnStart logs startup; the first quote is posted off the next quote tick.
func (m *MarketMaker) OnStart() {
	m.logger.Info("market maker started", "order_size", m.cfg.OrderSize)
}

// OnStop cancels any resting quote.
func (m *MarketMaker) OnStop() {
	_ = m.strat.CancelAllOrders(m.cfg.InstrumentID)
}

// OnQuoteTick records the latest quote and re-quotes, throttled to
// RefreshInterval.
func (m *MarketMaker) OnQuoteTick(q types.QuoteTick) {
	if q.InstrumentID != m.cfg.InstrumentID {
		return
	}
	m.mu.Lock()
	m.lastQuote = q
	m.lastQuoteAt = time.Now()
	due := time.Since(m.lastRefresh) >= m.cfg.RefreshInterval
	if due {
		m.lastRefresh = time.Now()
	}
	m.mu.Unlock()

	if due {
		m.requote()
	}
}

// makerState is the maker's persisted state shape: just enough for a
// restarted process to recognize its own resting orders rather than
// quote blind into a book it may already have orders in.
type makerState struct {
	BidOrderID string `json:"bid_order_id"`
	AskOrderID string `json:"ask_order_id"`
}

// OnSave persists the maker's resting order ids. The kernel stores the
// returned bytes opaquely; only OnLoad ever interprets them again.
func (m *MarketMaker) OnSave() (map[string][]byte, error) {
	m.mu.Lock()
	state := makerState{BidOrderID: string(m.bidOrderID), AskOrderID: string(m.askOrderID)}
	m.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("market maker: marshal state: %w", err)
	}
	return map[string][]byte{"resting_orders": data}, nil
}

// OnLoad restores resting order ids from a prior OnSave so requote can
// cancel them on its first pass instead of quoting alongside stale orders.
func (m *MarketMaker) OnLoad(saved map[string][]byte) error {
	raw, ok := saved["resting_orders"]
	if !ok {
		return nil
	}
	var state makerState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("market maker: unmarshal state: %w", err)
	}
	m.mu.Lock()
	m.bidOrderID = types.ClientOrderID(state.BidOrderID)
	m.askOrderID = types.ClientOrderID(state.AskOrderID)
	m.mu.Unlock()
	return nil
}

// OnOrderEvent feeds fills into the flow tracker so toxicity detection
// widens the next quote.
func (m *MarketMaker) OnOrderEvent(topic string, event any) {
	ev, ok := event.(types.OrderFilled)
	if !ok {
		return
	}
	size, _ := ev.FillQty.Decimal().Float64()
	price, _ := ev.FillPrice.Decimal().Float64()
	m.flow.AddFill(Fill{Timestamp: time.Now(), Side: ev.Side, Price: price, Size: size})
}

func (m *MarketMaker) requote() {
	m.mu.Lock()
	q := m.lastQuote
	stale := m.cfg.StaleQuoteTimeout > 0 && time.Since(m.lastQuoteAt) > m.cfg.StaleQuoteTimeout
	bidID, askID := m.bidOrderID, m.askOrderID
	m.mu.Unlock()

	if stale {
		m.logger.Warn("quote is stale, cancelling")
		_ = m.strat.CancelAllOrders(m.cfg.InstrumentID)
		m.clearOrderIDs()
		return
	}
	if q.InstrumentID == (types.InstrumentID{}) {
		return
	}

	inst, ok := m.cache.Instrument(m.cfg.InstrumentID)
	if !ok {
		return
	}

	bid, ask := m.computeQuote(q, inst)

	m.cancelIfOpen(bidID)
	m.cancelIfOpen(askID)

	bidOrder := m.strat.OrderFactory.Limit(m.cfg.InstrumentID, types.OrderSideBuy, m.cfg.OrderSize, bid, true)
	askOrder := m.strat.OrderFactory.Limit(m.cfg.InstrumentID, types.OrderSideSell, m.cfg.OrderSize, ask, true)
	if err := m.strat.SubmitOrder(bidOrder); err != nil {
		m.logger.Warn("submit bid failed", "error", err)
	}
	if err := m.strat.SubmitOrder(askOrder); err != nil {
		m.logger.Warn("submit ask failed", "error", err)
	}

	m.mu.Lock()
	m.bidOrderID = bidOrder.ClientOrderID
	m.askOrderID = askOrder.ClientOrderID
	m.mu.Unlock()
}

// computeQuote derives the bid/ask pair from the Avellaneda-Stoikov
// reservation price and optimal spread, clamped to the instrument's tick
// size.
func (m *MarketMaker) computeQuote(q types.QuoteTick, inst types.Instrument) (types.Price, types.Price) {
	mid, _ := q.Mid().Decimal().Float64()
	tHorizon := m.cfg.Horizon.Seconds()
	skew := m.inventory.NetDelta()

	reservation := mid - skew*m.cfg.Gamma*m.cfg.Sigma*m.cfg.Sigma*tHorizon

	optimalSpread := m.cfg.Gamma*m.cfg.Sigma*m.cfg.Sigma*tHorizon + (2/m.cfg.Gamma)*math.Log(1+m.cfg.Gamma/m.cfg.K)
	optimalSpread *= m.flow.GetSpreadMultiplier()

	bid := reservation - optimalSpread/2
	ask := reservation + optimalSpread/2

	tick, _ := inst.TickSize.Float64()
	if tick > 0 {
		bid = math.Floor(bid/tick) * tick
		ask = math.Ceil(ask/tick) * tick
	}
	if bid <= 0 {
		bid = tick
	}

	return inst.MakePrice(decimal.NewFromFloat(bid)), inst.MakePrice(decimal.NewFromFloat(ask))
}

func (m *MarketMaker) cancelIfOpen(id types.ClientOrderID) {
	if id == "" {
		return
	}
	if o, ok := m.cache.Order(id); ok && o.IsOpen() {
		_ = m.strat.CancelOrder(id)
	}
}

func (m *MarketMaker) clearOrderIDs() {
	m.mu.Lock()
	m.bidOrderID, m.askOrderID = "", ""
	m.mu.Unlock()
}
