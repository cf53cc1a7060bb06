package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/pkg/types"
)

type fakeSubmitter struct {
	submitted []types.SubmitOrder
}

func (f *fakeSubmitter) SubmitOrder(cmd types.SubmitOrder) error {
	f.submitted = append(f.submitted, cmd)
	return nil
}
func (f *fakeSubmitter) ModifyOrder(cmd types.ModifyOrder) error  { return nil }
func (f *fakeSubmitter) CancelOrder(cmd types.CancelOrder) error  { return nil }
func (f *fakeSubmitter) CancelAllOrders(cmd types.CancelAllOrders) {}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testInstrumentID() types.InstrumentID { return types.InstrumentID{Symbol: "ETHUSD", Venue: "SIM"} }

func newTestManager(cfg Limits) (*Manager, *cache.Cache, *fakeSubmitter) {
	c := cache.New()
	b := bus.New(testLogger())
	f := &fakeSubmitter{}
	m := NewManager(cfg, c, b, f, testLogger())
	return m, c, f
}

func testOrder(q string) *types.Order {
	qty, _ := types.ParseQuantity(q, 0)
	return &types.Order{ClientOrderID: "O-1", InstrumentID: testInstrumentID(), Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: qty}
}

func TestHaltedStateDeniesSubmit(t *testing.T) {
	t.Parallel()

	m, _, f := newTestManager(Limits{})
	m.SetTradingState(types.TradingStateHalted, "test")

	if err := m.Submit(types.SubmitOrder{Order: testOrder("10")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(f.submitted) != 0 {
		t.Error("expected order to be denied, not forwarded")
	}
}

func TestMaxQuantityDenied(t *testing.T) {
	t.Parallel()

	maxQty, _ := types.ParseQuantity("5", 0)
	m, _, f := newTestManager(Limits{MaxQuantity: map[types.InstrumentID]types.Quantity{testInstrumentID(): maxQty}})

	if err := m.Submit(types.SubmitOrder{Order: testOrder("10")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(f.submitted) != 0 {
		t.Error("expected order exceeding max quantity to be denied")
	}
}

func TestWithinLimitsForwarded(t *testing.T) {
	t.Parallel()

	m, _, f := newTestManager(Limits{})
	if err := m.Submit(types.SubmitOrder{Order: testOrder("10")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(f.submitted) != 1 {
		t.Fatalf("expected order to be forwarded, got %d", len(f.submitted))
	}
}

func TestBypassSkipsAllChecks(t *testing.T) {
	t.Parallel()

	m, _, f := newTestManager(Limits{Bypass: true})
	m.SetTradingState(types.TradingStateHalted, "test")

	if err := m.Submit(types.SubmitOrder{Order: testOrder("10")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(f.submitted) != 1 {
		t.Error("expected bypass to forward despite HALTED state")
	}
}

func TestReducingStateAllowsOnlyReducingOrders(t *testing.T) {
	t.Parallel()

	m, c, f := newTestManager(Limits{})
	longQty, _ := types.ParseQuantity("10", 0)
	c.AddPosition(&types.Position{
		ID:       types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: testInstrumentID().String()},
		Side:     types.PositionSideLong,
		Quantity: longQty,
	})
	m.SetTradingState(types.TradingStateReducing, "test")

	// A further BUY increases long exposure: denied.
	if err := m.Submit(types.SubmitOrder{Order: testOrder("5")}); err != nil {
		t.Fatal(err)
	}
	if len(f.submitted) != 0 {
		t.Error("expected increasing order to be denied while REDUCING")
	}

	// A SELL reduces the long position: allowed.
	sell := testOrder("5")
	sell.Side = types.OrderSideSell
	if err := m.Submit(types.SubmitOrder{Order: sell}); err != nil {
		t.Fatal(err)
	}
	if len(f.submitted) != 1 {
		t.Error("expected reducing order to be forwarded while REDUCING")
	}
}

func TestThrottleDeniesBeyondWindow(t *testing.T) {
	t.Parallel()

	m, _, f := newTestManager(Limits{MaxOrdersPerWindow: 1, Window: time.Minute})

	if err := m.Submit(types.SubmitOrder{Order: testOrder("1")}); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(types.SubmitOrder{Order: testOrder("1")}); err != nil {
		t.Fatal(err)
	}
	if len(f.submitted) != 1 {
		t.Errorf("expected only the first order within the window to be forwarded, got %d", len(f.submitted))
	}
}

func TestPriceSanityBandDenied(t *testing.T) {
	t.Parallel()

	m, c, f := newTestManager(Limits{PriceBandPct: decimal.NewFromFloat(0.10)})
	c.UpdateQuote(types.QuoteTick{InstrumentID: testInstrumentID(), BidPrice: mustPrice("100.00"), AskPrice: mustPrice("100.10")})

	o := testOrder("1")
	o.Type = types.OrderTypeLimit
	o.Price = priceRef(mustPrice("200.00"))
	if err := m.Submit(types.SubmitOrder{Order: o}); err != nil {
		t.Fatal(err)
	}
	if len(f.submitted) != 0 {
		t.Error("expected order far outside the price band to be denied")
	}
}

func mustPrice(s string) types.Price      { p, _ := types.ParsePrice(s, 2); return p }
func priceRef(p types.Price) *types.Price { return &p }
