package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradekernel/internal/cache"
	"tradekernel/pkg/types"
)

func mustQty(s string) types.Quantity { q, _ := types.ParseQuantity(s, 0); return q }
func mustPrice(s string) types.Price  { p, _ := types.ParsePrice(s, 2); return p }

func TestNetDeltaFlatWithoutPosition(t *testing.T) {
	t.Parallel()

	c := cache.New()
	inv := NewInventory(c, testInstrumentID(), decimal.NewFromInt(100))
	if inv.NetDelta() != 0 {
		t.Errorf("NetDelta = %v, want 0", inv.NetDelta())
	}
}

func TestNetDeltaSaturatesAtMaxExposure(t *testing.T) {
	t.Parallel()

	c := cache.New()
	posID := types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: testInstrumentID().String()}
	c.AddPosition(&types.Position{ID: posID, Side: types.PositionSideLong, Quantity: mustQty("200")})

	inv := NewInventory(c, testInstrumentID(), decimal.NewFromInt(100))
	if inv.NetDelta() != 1 {
		t.Errorf("NetDelta = %v, want 1 (saturated long)", inv.NetDelta())
	}
}

func TestNetDeltaNegativeWhenShort(t *testing.T) {
	t.Parallel()

	c := cache.New()
	posID := types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: testInstrumentID().String()}
	c.AddPosition(&types.Position{ID: posID, Side: types.PositionSideShort, Quantity: mustQty("50")})

	inv := NewInventory(c, testInstrumentID(), decimal.NewFromInt(100))
	if inv.NetDelta() != -0.5 {
		t.Errorf("NetDelta = %v, want -0.5", inv.NetDelta())
	}
}
