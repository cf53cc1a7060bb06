// Package portfolio aggregates Cache positions and account balances into
// per-account equity, unrealized PnL, and margin figures, derived from the
// Cache on each request; its MessageBus subscriptions only trace events.
package portfolio

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/internal/metrics"
	"tradekernel/pkg/types"
)

// Portfolio is the read-side aggregator described informally in spec §2's
// component table (account PnL, margin, equity), built on top of the same
// Cache the ExecutionEngine owns.
type Portfolio struct {
	cache  *cache.Cache
	logger *slog.Logger
}

// New constructs a Portfolio over cache and subscribes to the bus so its
// logger can trace position/account churn; it holds no state of its own —
// every figure is derived fresh from the Cache on request.
func New(c *cache.Cache, b *bus.Bus, logger *slog.Logger) *Portfolio {
	p := &Portfolio{cache: c, logger: logger.With("component", "portfolio")}
	b.Subscribe("events.position.>", func(topic string, msg any) {
		p.logger.Debug("position event observed", "topic", topic)
	}, 0)
	b.Subscribe("events.account.>", func(topic string, msg any) {
		p.logger.Debug("account event observed", "topic", topic)
	}, 0)
	return p
}

// UnrealizedPnL returns the mark-to-market PnL for a single position against
// the instrument's latest quote mid. Returns zero if no quote is available
// yet (the position is unmarkable, not the PnL being actually zero).
func (p *Portfolio) UnrealizedPnL(pos *types.Position) types.Money {
	q, ok := p.cache.Quote(pos.ID.InstrumentID)
	if !ok || pos.IsFlat() {
		return types.NewMoney(decimal.Zero, pos.RealizedPnL.Currency)
	}
	mid := q.Mid().Decimal()
	entry := pos.AvgEntryPrice.Decimal()
	diff := mid.Sub(entry)
	if pos.Side == types.PositionSideShort {
		diff = diff.Neg()
	}
	return types.NewMoney(diff.Mul(pos.Quantity.Decimal()), pos.RealizedPnL.Currency)
}

// Equity returns an account's equity in one currency: that currency's free
// balance plus unrealized PnL across every open position denominated in
// that currency (or with no currency set). Other currencies' balances are
// not converted or included.
func (p *Portfolio) Equity(accountID string, currency string) (types.Money, bool) {
	acct, ok := p.cache.Account(accountID)
	if !ok {
		return types.Money{}, false
	}
	total := acct.FreeBalance(currency).Decimal()
	for _, pos := range p.cache.PositionsOpen() {
		if pos.RealizedPnL.Currency != currency && pos.RealizedPnL.Currency != "" {
			continue
		}
		total = total.Add(p.UnrealizedPnL(pos).Decimal())
	}
	equity := types.NewMoney(total, currency)
	f, _ := total.Float64()
	metrics.SetEquity(accountID, currency, f)
	return equity, true
}

// MarginUsed sums an account's InitialMargin across every instrument it has
// a margin requirement registered for. MARGIN accounts only; CASH/BETTING
// accounts never carry margin.
func (p *Portfolio) MarginUsed(accountID string) types.Money {
	acct, ok := p.cache.Account(accountID)
	if !ok {
		return types.NewMoney(decimal.Zero, "")
	}
	if acct.Type != types.AccountTypeMargin {
		return types.NewMoney(decimal.Zero, acct.BaseCurrency)
	}
	total := decimal.Zero
	currency := acct.BaseCurrency
	for instID, m := range acct.InitialMargin {
		total = total.Add(m.Decimal())
		if currency == "" {
			if inst, ok := p.cache.Instrument(instID); ok {
				currency = inst.QuoteCurrency
			}
		}
	}
	return types.NewMoney(total, currency)
}

// NetExposure returns the instrument-level signed exposure (quantity * mid
// price) for every open position, keyed by instrument, for risk/reporting
// consumers that need dollar exposure rather than raw quantity.
func (p *Portfolio) NetExposure() map[types.InstrumentID]types.Money {
	out := make(map[types.InstrumentID]types.Money)
	for _, pos := range p.cache.PositionsOpen() {
		q, ok := p.cache.Quote(pos.ID.InstrumentID)
		if !ok {
			continue
		}
		exposure := q.Mid().Decimal().Mul(pos.SignedQty())
		out[pos.ID.InstrumentID] = types.NewMoney(exposure, pos.RealizedPnL.Currency)
	}
	return out
}
