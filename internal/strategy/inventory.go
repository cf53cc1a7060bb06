package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"tradekernel/internal/cache"
	"tradekernel/pkg/types"
)

// Inventory tracks a single instrument's position skew for one strategy,
// deriving the "q" term the Avellaneda-Stoikov reservation price subtracts
// from mid to bias quotes away from the side that would grow inventory
// further. Unlike the Cache's Position (the single source of truth for
// filled quantity and realized PnL), Inventory only ever reads the Cache —
// it adds no state that could diverge from it.
type Inventory struct {
	mu           sync.RWMutex
	cache        *cache.Cache
	instrumentID types.InstrumentID
	maxExposure  decimal.Decimal // quantity at which NetDelta saturates to ±1
}

// NewInventory returns an Inventory reading instrumentID's position out of
// c, saturating skew at ±maxExposure units.
func NewInventory(c *cache.Cache, instrumentID types.InstrumentID, maxExposure decimal.Decimal) *Inventory {
	return &Inventory{cache: c, instrumentID: instrumentID, maxExposure: maxExposure}
}

func (inv *Inventory) positionID() types.PositionID {
	return types.PositionID{InstrumentID: inv.instrumentID, VenuePosID: inv.instrumentID.String()}
}

// NetDelta returns inventory skew in [-1, 1]: +1 fully long at maxExposure,
// -1 fully short, 0 flat. This is the "q" parameter the reservation price
// adjustment uses to skew quotes and reduce directional exposure.
func (inv *Inventory) NetDelta() float64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	if inv.maxExposure.IsZero() {
		return 0
	}
	pos, ok := inv.cache.Position(inv.positionID())
	if !ok {
		return 0
	}
	ratio := pos.SignedQty().Div(inv.maxExposure)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		return 1
	}
	if ratio.LessThan(decimal.NewFromInt(-1)) {
		return -1
	}
	f, _ := ratio.Float64()
	return f
}

// ExposureValue returns the position's dollar value at mid (quantity *
// signed side * mid price), or zero if flat or no quote is available.
func (inv *Inventory) ExposureValue() types.Money {
	pos, ok := inv.cache.Position(inv.positionID())
	if !ok || pos.IsFlat() {
		return types.NewMoney(decimal.Zero, "")
	}
	q, ok := inv.cache.Quote(inv.instrumentID)
	if !ok {
		return types.NewMoney(decimal.Zero, pos.RealizedPnL.Currency)
	}
	return types.NewMoney(q.Mid().Decimal().Mul(pos.SignedQty()), pos.RealizedPnL.Currency)
}
