package portfolio

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/pkg/types"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testInstrumentID() types.InstrumentID { return types.InstrumentID{Symbol: "ETHUSD", Venue: "SIM"} }

func mustPrice(s string) types.Price  { p, _ := types.ParsePrice(s, 2); return p }
func mustQty(s string) types.Quantity { q, _ := types.ParseQuantity(s, 0); return q }

func TestUnrealizedPnLLongPosition(t *testing.T) {
	t.Parallel()

	c := cache.New()
	c.UpdateQuote(types.QuoteTick{InstrumentID: testInstrumentID(), BidPrice: mustPrice("110.00"), AskPrice: mustPrice("110.20")})
	p := New(c, bus.New(testLogger()), testLogger())

	pos := &types.Position{
		ID: types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: testInstrumentID().String()},
		Side: types.PositionSideLong, Quantity: mustQty("10"), AvgEntryPrice: mustPrice("100.00"),
		RealizedPnL: types.NewMoney(decimal.Zero, "USD"),
	}

	pnl := p.UnrealizedPnL(pos)
	if pnl.Decimal().Cmp(decimal.NewFromInt(101)) != 0 {
		t.Errorf("UnrealizedPnL = %v, want 101.00 (10 * (110.10 - 100.00))", pnl)
	}
}

func TestUnrealizedPnLFlatPositionIsZero(t *testing.T) {
	t.Parallel()

	c := cache.New()
	p := New(c, bus.New(testLogger()), testLogger())
	pos := &types.Position{ID: types.PositionID{InstrumentID: testInstrumentID()}, Side: types.PositionSideFlat}

	if !p.UnrealizedPnL(pos).IsZero() {
		t.Error("expected zero PnL for a flat position")
	}
}

func TestEquitySumsFreeBalanceAndUnrealizedPnL(t *testing.T) {
	t.Parallel()

	c := cache.New()
	c.UpdateQuote(types.QuoteTick{InstrumentID: testInstrumentID(), BidPrice: mustPrice("110.00"), AskPrice: mustPrice("110.00")})
	c.AddAccount(&types.Account{ID: "ACC-1", Type: types.AccountTypeCash, Balances: map[string]types.Balance{
		"USD": {Currency: "USD", Free: types.NewMoney(decimal.NewFromInt(1000), "USD")},
	}})
	c.AddPosition(&types.Position{
		ID: types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: testInstrumentID().String()},
		Side: types.PositionSideLong, Quantity: mustQty("10"), AvgEntryPrice: mustPrice("100.00"),
		RealizedPnL: types.NewMoney(decimal.Zero, "USD"),
	})
	p := New(c, bus.New(testLogger()), testLogger())

	equity, ok := p.Equity("ACC-1", "USD")
	if !ok {
		t.Fatal("expected account to exist")
	}
	if equity.Decimal().Cmp(decimal.NewFromInt(1100)) != 0 {
		t.Errorf("Equity = %v, want 1100.00 (1000 free + 100 unrealized)", equity)
	}
}
