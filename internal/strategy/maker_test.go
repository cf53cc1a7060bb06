package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/pkg/types"
)

func testMakerConfig() MakerConfig {
	return MakerConfig{
		InstrumentID:            testInstrumentID(),
		OrderSize:               mustQty("10"),
		RefreshInterval:         0,
		StaleQuoteTimeout:       30 * time.Second,
		Gamma:                   0.5,
		Sigma:                   0.2,
		Horizon:                 30 * time.Minute,
		K:                       10.0,
		MaxExposure:             decimal.NewFromInt(1000),
		FlowWindow:              60 * time.Second,
		FlowToxicityThreshold:   0.6,
		FlowCooldownPeriod:      120 * time.Second,
		FlowMaxSpreadMultiplier: 3.0,
	}
}

func TestQuoteTickPostsBidAndAsk(t *testing.T) {
	t.Parallel()

	c := cache.New()
	c.AddInstrument(types.Instrument{ID: testInstrumentID(), PricePrecision: 2, SizePrecision: 0, TickSize: decimal.NewFromFloat(0.01)})
	b := bus.New(testLogger())
	r := &fakeRisk{}

	m := NewMarketMaker(testMakerConfig(), nil, c, testLogger())
	s := New("MAKER-1", "001", m, c, b, r, testLogger())
	m.strat = s
	s.Start()

	s.OnQuoteTick(types.QuoteTick{InstrumentID: testInstrumentID(), BidPrice: mustPrice("100.00"), AskPrice: mustPrice("100.10")})

	if len(r.submitted) != 2 {
		t.Fatalf("expected a bid and an ask submitted, got %d", len(r.submitted))
	}
	var sawBuy, sawSell bool
	for _, cmd := range r.submitted {
		if cmd.Order.Type != types.OrderTypeLimit || !cmd.Order.PostOnly {
			t.Errorf("expected post-only LIMIT orders, got %+v", cmd.Order)
		}
		if cmd.Order.Side == types.OrderSideBuy {
			sawBuy = true
		}
		if cmd.Order.Side == types.OrderSideSell {
			sawSell = true
		}
	}
	if !sawBuy || !sawSell {
		t.Error("expected both a buy and a sell quote")
	}
}

func TestStaleQuoteCancelsAndStandsDown(t *testing.T) {
	t.Parallel()

	c := cache.New()
	c.AddInstrument(types.Instrument{ID: testInstrumentID(), PricePrecision: 2, SizePrecision: 0, TickSize: decimal.NewFromFloat(0.01)})
	b := bus.New(testLogger())
	r := &fakeRisk{}

	cfg := testMakerConfig()
	cfg.StaleQuoteTimeout = 1 * time.Nanosecond
	m := NewMarketMaker(cfg, nil, c, testLogger())
	s := New("MAKER-1", "001", m, c, b, r, testLogger())
	m.strat = s
	s.Start()

	s.OnQuoteTick(types.QuoteTick{InstrumentID: testInstrumentID(), BidPrice: mustPrice("100.00"), AskPrice: mustPrice("100.10")})
	time.Sleep(time.Millisecond)
	m.requote()

	if len(r.submitted) != 0 {
		t.Errorf("expected no orders submitted once the quote is stale, got %d", len(r.submitted))
	}
	if len(r.cancelAll) == 0 {
		t.Error("expected CancelAllOrders to be issued for a stale quote")
	}
}
