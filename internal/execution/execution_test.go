package execution

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/internal/clock"
	"tradekernel/pkg/types"
)

type fakeVenue struct {
	submitted []types.SubmitOrder
}

func (f *fakeVenue) Submit(cmd types.SubmitOrder, arrivalNs int64)         { f.submitted = append(f.submitted, cmd) }
func (f *fakeVenue) SubmitList(cmd types.SubmitOrderList, arrivalNs int64) {}
func (f *fakeVenue) Modify(cmd types.ModifyOrder, arrivalNs int64)         {}
func (f *fakeVenue) Cancel(cmd types.CancelOrder, arrivalNs int64)         {}
func (f *fakeVenue) CancelAll(cmd types.CancelAllOrders, arrivalNs int64)  {}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testInstrumentID() types.InstrumentID { return types.InstrumentID{Symbol: "ETHUSD", Venue: "SIM"} }

func newEngine() (*Engine, *cache.Cache, *bus.Bus, *fakeVenue) {
	c := cache.New()
	c.AddInstrument(types.Instrument{ID: testInstrumentID(), PricePrecision: 2, SizePrecision: 0, QuoteCurrency: "USD"})
	b := bus.New(testLogger())
	v := &fakeVenue{}
	clk := clock.NewTestClock(0)
	e := New(c, b, v, clk, types.OMSTypeNetting, testLogger())
	return e, c, b, v
}

func testOrder(id types.ClientOrderID, side types.OrderSide, q string) *types.Order {
	qty, _ := types.ParseQuantity(q, 0)
	return &types.Order{ClientOrderID: id, InstrumentID: testInstrumentID(), Side: side, Type: types.OrderTypeMarket, Quantity: qty}
}

func TestSubmitOrderRegistersAndForwards(t *testing.T) {
	t.Parallel()

	e, c, _, v := newEngine()
	o := testOrder("O-1", types.OrderSideBuy, "10")
	if err := e.SubmitOrder(types.SubmitOrder{Order: o}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if len(v.submitted) != 1 {
		t.Fatalf("expected venue to receive the command, got %d", len(v.submitted))
	}
	got, ok := c.Order("O-1")
	if !ok || got.Status != types.OrderStatusSubmitted {
		t.Fatalf("cached order = %v, %v", got, ok)
	}
}

func TestFillEventForTerminalOrderDropped(t *testing.T) {
	t.Parallel()

	e, c, b, _ := newEngine()
	o := testOrder("O-1", types.OrderSideBuy, "10")
	o.Status = types.OrderStatusFilled
	o.FilledQty = o.Quantity
	if err := c.AddOrder(o); err != nil {
		t.Fatal(err)
	}

	var published int
	b.Subscribe("events.>", func(topic string, msg any) { published++ }, 0)

	e.OnOrderEvent(testInstrumentID(), types.OrderFilled{ClientOrderID: "O-1", FillQty: mustQty("5"), FillPrice: mustPrice("100.00")})
	if published != 0 {
		t.Errorf("expected no event published for a fill on a terminal order, got %d", published)
	}
}

func TestFillOpensAndClosesPosition(t *testing.T) {
	t.Parallel()

	e, c, _, _ := newEngine()
	o := testOrder("O-1", types.OrderSideBuy, "10")
	if err := e.SubmitOrder(types.SubmitOrder{Order: o}); err != nil {
		t.Fatal(err)
	}
	e.OnOrderEvent(testInstrumentID(), types.OrderAccepted{ClientOrderID: "O-1", InstrumentID: testInstrumentID()})
	e.OnOrderEvent(testInstrumentID(), types.OrderFilled{ClientOrderID: "O-1", Side: types.OrderSideBuy, FillQty: mustQty("10"), FillPrice: mustPrice("100.00")})

	posID := types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: testInstrumentID().String()}
	pos, ok := c.Position(posID)
	if !ok || pos.IsFlat() || pos.Side != types.PositionSideLong {
		t.Fatalf("position after opening fill = %+v, %v", pos, ok)
	}

	// Close it out with an offsetting sell.
	o2 := testOrder("O-2", types.OrderSideSell, "10")
	if err := e.SubmitOrder(types.SubmitOrder{Order: o2}); err != nil {
		t.Fatal(err)
	}
	e.OnOrderEvent(testInstrumentID(), types.OrderAccepted{ClientOrderID: "O-2", InstrumentID: testInstrumentID()})
	e.OnOrderEvent(testInstrumentID(), types.OrderFilled{ClientOrderID: "O-2", Side: types.OrderSideSell, FillQty: mustQty("10"), FillPrice: mustPrice("110.00")})

	pos, _ = c.Position(posID)
	if !pos.IsFlat() {
		t.Fatalf("position should be flat after the offsetting fill, got %+v", pos)
	}
	if pos.RealizedPnL.Decimal().Cmp(decimal.NewFromInt(100)) != 0 {
		t.Errorf("RealizedPnL = %v, want 100.00 (10 units * 10.00 gain)", pos.RealizedPnL)
	}
}

func mustQty(s string) types.Quantity { q, _ := types.ParseQuantity(s, 0); return q }
func mustPrice(s string) types.Price  { p, _ := types.ParsePrice(s, 2); return p }
