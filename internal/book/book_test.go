package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradekernel/pkg/types"
)

func testInstrument() types.Instrument {
	return types.Instrument{
		ID:             types.InstrumentID{Symbol: "ETHUSD", Venue: "SIM"},
		PricePrecision: 2,
		SizePrecision:  0,
	}
}

func price(s string) types.Price { p, _ := types.ParsePrice(s, 2); return p }
func qty(s string) types.Quantity { q, _ := types.ParseQuantity(s, 0); return q }

func marketOrder(side types.OrderSide, q types.Quantity) *types.Order {
	return &types.Order{
		ClientOrderID: "entry",
		InstrumentID:  testInstrument().ID,
		Side:          side,
		Type:          types.OrderTypeMarket,
		Quantity:      q,
		Status:        types.OrderStatusSubmitted,
	}
}

func TestMarketOrderFillsAgainstQuote(t *testing.T) {
	t.Parallel()

	b := NewBook(testInstrument())
	b.OnQuoteTick(types.QuoteTick{
		BidPrice: price("3090.20"), AskPrice: price("3090.50"),
		BidSize: qty("20"), AskSize: qty("20"),
	})

	fills, reject := b.Submit(marketOrder(types.OrderSideBuy, qty("10")))
	if reject != nil {
		t.Fatalf("unexpected reject: %v", *reject)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %v", fills)
	}
	if fills[0].Price.String() != "3090.50" || fills[0].Qty.String() != "10" {
		t.Errorf("fill = %+v", fills[0])
	}
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	t.Parallel()

	b := NewBook(testInstrument())
	_, reject := b.Submit(marketOrder(types.OrderSideBuy, qty("10")))
	if reject == nil || *reject != RejectNoLiquidity {
		t.Errorf("reject = %v, want NO_LIQUIDITY", reject)
	}
}

func TestLimitOrderRestsWhenNotMarketable(t *testing.T) {
	t.Parallel()

	b := NewBook(testInstrument())
	b.OnQuoteTick(types.QuoteTick{
		BidPrice: price("3090.20"), AskPrice: price("3090.50"),
		BidSize: qty("20"), AskSize: qty("20"),
	})

	p := price("3050.00")
	entry := &types.Order{
		ClientOrderID: "entry", InstrumentID: testInstrument().ID,
		Side: types.OrderSideBuy, Type: types.OrderTypeLimit,
		Quantity: qty("10"), Price: &p, AcceptedAt: time.Unix(0, 1),
	}
	fills, reject := b.Submit(entry)
	if reject != nil || len(fills) != 0 {
		t.Fatalf("expected resting order, got fills=%v reject=%v", fills, reject)
	}
	bid, size, ok := b.BestBid()
	if !ok || bid.String() != "3050.00" || size.String() != "10" {
		t.Errorf("BestBid() = %v %v %v", bid, size, ok)
	}
}

func TestPostOnlyMarketableRejected(t *testing.T) {
	t.Parallel()

	b := NewBook(testInstrument())
	b.OnQuoteTick(types.QuoteTick{
		BidPrice: price("3090.20"), AskPrice: price("3090.50"),
		BidSize: qty("20"), AskSize: qty("20"),
	})

	p := price("3100.00")
	entry := &types.Order{
		ClientOrderID: "entry", InstrumentID: testInstrument().ID,
		Side: types.OrderSideBuy, Type: types.OrderTypeLimit,
		Quantity: qty("10"), Price: &p, PostOnly: true,
	}
	_, reject := b.Submit(entry)
	if reject == nil || *reject != RejectPostOnlyWouldCross {
		t.Errorf("reject = %v, want POST_ONLY_WOULD_CROSS", reject)
	}
}

func TestStopOrderTriggersOnQuoteTick(t *testing.T) {
	t.Parallel()

	b := NewBook(testInstrument())
	trigger := price("3050.00")
	sl := &types.Order{
		ClientOrderID: "sl", InstrumentID: testInstrument().ID,
		Side: types.OrderSideSell, Type: types.OrderTypeStopMarket,
		Quantity: qty("10"), TriggerPrice: &trigger, TriggerType: types.TriggerTypeBidAsk,
	}
	b.Submit(sl)

	triggered := b.OnQuoteTick(types.QuoteTick{BidPrice: price("3060.00"), AskPrice: price("3060.50")})
	if len(triggered) != 0 {
		t.Fatalf("should not trigger yet: %v", triggered)
	}

	triggered = b.OnQuoteTick(types.QuoteTick{BidPrice: price("3049.00"), AskPrice: price("3049.50")})
	if len(triggered) != 1 || triggered[0] != "sl" {
		t.Errorf("triggered = %v, want [sl]", triggered)
	}
	if _, ok := b.ConditionalOrder("sl"); ok {
		t.Error("triggered order should be removed from dormant set")
	}
}

func TestMatchRestingAgainstTradePartialFill(t *testing.T) {
	t.Parallel()

	b := NewBook(testInstrument())
	p := price("3150.00")
	tp := &types.Order{
		ClientOrderID: "tp", InstrumentID: testInstrument().ID,
		Side: types.OrderSideSell, Type: types.OrderTypeLimit,
		Quantity: qty("10"), Price: &p, AcceptedAt: time.Unix(0, 1),
	}
	b.Submit(tp)

	fills := b.MatchRestingAgainstTrade(types.TradeTick{
		Price: price("3151.00"), Size: qty("5"), AggressorSide: types.OrderSideBuy,
	})
	if len(fills) != 1 || fills[0].Qty.String() != "5" {
		t.Fatalf("fills = %v", fills)
	}
	_, size, ok := b.BestAsk()
	if !ok || size.String() != "10" {
		t.Errorf("resting order quantity should be unchanged by book (caller applies the fill): size=%v ok=%v", size, ok)
	}
}

func TestParsePriceRoundsToPrecision(t *testing.T) {
	t.Parallel()
	// Sanity check that ParsePrice rounds a decimal string to the given precision.
	p, err := types.ParsePrice("1.005", 2)
	if err != nil {
		t.Fatal(err)
	}
	if p.Decimal().Cmp(decimal.RequireFromString("1.01")) != 0 && p.Decimal().Cmp(decimal.RequireFromString("1.00")) != 0 {
		t.Errorf("rounded price = %v", p)
	}
}
