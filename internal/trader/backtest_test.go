package trader

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradekernel/internal/exchange"
	"tradekernel/internal/risk"
	"tradekernel/internal/strategy"
	"tradekernel/pkg/types"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testInstrumentID() types.InstrumentID { return types.InstrumentID{Symbol: "ETHUSD", Venue: "SIM"} }

func mustPrice(s string) types.Price { p, _ := types.ParsePrice(s, 2); return p }
func mustQty(s string) types.Quantity { q, _ := types.ParseQuantity(s, 0); return q }

func newTestBacktestEngine(t *testing.T) *BacktestEngine {
	t.Helper()
	venueCfg := exchange.Config{
		OMSType:      types.OMSTypeNetting,
		AccountType:  types.AccountTypeMargin,
		BaseCurrency: "USD",
	}
	riskLimits := risk.Limits{Bypass: true}
	engine := NewBacktestEngine("TRADER-001", venueCfg, riskLimits, testLogger())

	engine.Cache().AddInstrument(types.Instrument{
		ID: testInstrumentID(), PricePrecision: 2, SizePrecision: 0,
		TickSize: decimal.NewFromFloat(0.01), QuoteCurrency: "USD",
	})
	engine.Exchange().RegisterInstrument(types.Instrument{
		ID: testInstrumentID(), PricePrecision: 2, SizePrecision: 0,
		TickSize: decimal.NewFromFloat(0.01), QuoteCurrency: "USD",
	})
	engine.Exchange().RegisterAccount(&types.Account{
		ID: "ACC-1", Type: types.AccountTypeMargin, BaseCurrency: "USD",
		Balances: map[string]types.Balance{"USD": {Currency: "USD", Free: types.NewMoney(decimal.NewFromInt(100000), "USD")}},
	})
	return engine
}

func TestBacktestEngineRunsDeterministically(t *testing.T) {
	t.Parallel()

	engine := newTestBacktestEngine(t)

	mk := strategy.NewMarketMaker(strategy.MakerConfig{
		InstrumentID:    testInstrumentID(),
		OrderSize:       mustQty("10"),
		RefreshInterval: 0,
		StaleQuoteTimeout: time.Hour,
		Gamma:           0.5,
		Sigma:           0.2,
		Horizon:         30 * time.Minute,
		K:               10.0,
		MaxExposure:     decimal.NewFromInt(1000),
	}, nil, engine.Cache(), testLogger())
	strat := strategy.New("MAKER-1", "001", mk, engine.Cache(), engine.Bus(), engine.Risk(), testLogger())
	mk.SetStrategy(strat)
	engine.AddStrategy(strat)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.LoadQuoteTicks([]types.QuoteTick{
		{InstrumentID: testInstrumentID(), BidPrice: mustPrice("100.00"), AskPrice: mustPrice("100.10"), TsEvent: base},
		{InstrumentID: testInstrumentID(), BidPrice: mustPrice("100.05"), AskPrice: mustPrice("100.15"), TsEvent: base.Add(time.Second)},
	})

	if err := engine.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(engine.Exchange().OpenOrders()) == 0 {
		t.Error("expected the market maker to have resting orders after quote ticks")
	}
}

func TestBacktestEngineEmptyRun(t *testing.T) {
	t.Parallel()

	engine := newTestBacktestEngine(t)
	if err := engine.Run(); err != nil {
		t.Fatalf("Run with no events and no strategies: %v", err)
	}
}
