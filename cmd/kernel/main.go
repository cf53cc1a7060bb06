// Command kernel is the host launcher spec §6 names: it loads a
// TradingNodeConfig or BacktestEngineConfig, wires the corresponding runner
// (trader.Node or trader.BacktestEngine), and on backtest completion prints
// an account/fill summary.
//
// Architecture:
//
//	main.go                  — entry point: loads config, wires a runner, waits for SIGINT/SIGTERM
//	internal/config          — viper-backed TradingNode/Backtest configuration surface
//	internal/trader          — BacktestEngine (virtual-time replay) and Node (live event loop)
//	internal/adapters        — DataClient/ExecClient contracts plus one REST+WS reference adapter
//	internal/store           — opaque per-strategy state persistence (JSON or sqlite)
//	internal/metrics         — Prometheus counters/gauges served over HTTP when metrics are enabled
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"tradekernel/internal/adapters"
	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/internal/config"
	"tradekernel/internal/exchange"
	"tradekernel/internal/risk"
	"tradekernel/internal/store"
	"tradekernel/internal/strategy"
	"tradekernel/internal/trader"
	"tradekernel/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("KERNEL_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = ":9090"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", addr)
	}

	switch {
	case cfg.Backtest != nil:
		runBacktest(cfg, logger)
	case cfg.TradingNode != nil:
		runLive(cfg, logger)
	}
}

// runBacktest wires a single-venue BacktestEngine, replays its configured
// strategies over no-op market data (a host embedding the kernel loads real
// ticks via BacktestEngine.LoadQuoteTicks/LoadTradeTicks/LoadBars before
// Run; CSV/Parquet ingestion is out of scope here), and prints an
// end-of-run account/fill report.
func runBacktest(cfg *config.Config, logger *slog.Logger) {
	bt := cfg.Backtest
	if len(bt.Venues) == 0 {
		logger.Error("backtest config has no venues")
		os.Exit(1)
	}
	venue := bt.Venues[0]

	venueCfg := exchange.Config{
		OMSType:      venue.OMSType,
		AccountType:  venue.AccountType,
		BaseCurrency: venue.BaseCurrency,
		IsFrozen:     venue.IsFrozenAccount,
		Latency: exchange.LatencyModel{
			InsertLatency: time.Duration(venue.LatencyModel.InsertLatencyMs) * time.Millisecond,
			UpdateLatency: time.Duration(venue.LatencyModel.UpdateLatencyMs) * time.Millisecond,
			CancelLatency: time.Duration(venue.LatencyModel.CancelLatencyMs) * time.Millisecond,
		},
		Fill: exchange.FillModel{
			ProbFillOnLimit: venue.FillModel.ProbFillOnLimit,
			ProbFillOnStop:  venue.FillModel.ProbFillOnStop,
			ProbSlippage:    venue.FillModel.ProbSlippage,
			RandomSeed:      venue.FillModel.RandomSeed,
		},
	}

	riskLimits, err := buildRiskLimits(cfg.RiskEngine)
	if err != nil {
		logger.Error("invalid risk engine config", "error", err)
		os.Exit(1)
	}

	engine := trader.NewBacktestEngine(bt.TraderID, venueCfg, riskLimits, logger)

	accountID := bt.TraderID + "-ACCT"
	engine.Exchange().RegisterAccount(&types.Account{
		ID:              accountID,
		Type:            venue.AccountType,
		BaseCurrency:    venue.BaseCurrency,
		Balances:        parseStartingBalances(venue.StartingBalances),
		DefaultLeverage: decimal.NewFromFloat(venue.DefaultLeverage),
		Leverage:        parseLeverages(venue.Leverages, logger),
		IsFrozen:        venue.IsFrozenAccount,
	})

	st := openStore(cfg.Store, logger)
	defer st.Close()

	strategies := buildStrategies(cfg.Strategies, engine.Cache(), engine.Bus(), engine.Risk(), engine.Exchange(), st, logger)
	for _, s := range strategies {
		engine.AddStrategy(s)
	}

	if err := engine.Run(); err != nil {
		logger.Error("backtest run failed", "error", err)
		os.Exit(1)
	}

	for _, s := range strategies {
		saveStrategyState(st, s, logger)
	}

	printBacktestReport(os.Stdout, engine, accountID, venue.BaseCurrency)
}

// runLive wires a TradingNode against the configured exec client and blocks
// until SIGINT/SIGTERM, then runs the shutdown sequence.
func runLive(cfg *config.Config, logger *slog.Logger) {
	tn := cfg.TradingNode

	riskLimits, err := buildRiskLimits(cfg.RiskEngine)
	if err != nil {
		logger.Error("invalid risk engine config", "error", err)
		os.Exit(1)
	}

	var execVenueName string
	var execClient adapters.ExecClient
	for name, raw := range tn.ExecClients {
		execVenueName = name
		execClient = newRESTExecClient(raw, logger)
		break
	}
	if execClient == nil {
		logger.Error("trading_node.exec_clients must name at least one client")
		os.Exit(1)
	}

	timeouts := trader.TimeoutConfig{
		Disconnection: tn.Timeouts.Disconnection,
		PostStop:      tn.Timeouts.PostStop,
	}
	node := trader.NewNode(tn.TraderID, types.OMSTypeNetting, riskLimits, timeouts, execVenueName, execClient, logger)

	for name, raw := range tn.DataClients {
		node.AddDataClient(name, newWSDataClient(raw, logger))
	}

	st := openStore(cfg.Store, logger)
	defer st.Close()

	strategies := buildStrategies(cfg.Strategies, node.Cache(), node.Bus(), node.Risk(), nil, st, logger)
	for _, s := range strategies {
		node.AddStrategy(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := node.Start(ctx); err != nil {
		logger.Error("failed to start trading node", "error", err)
		os.Exit(1)
	}

	logger.Info("trading node started", "trader_id", tn.TraderID, "strategies", len(strategies))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	node.Stop()
	for _, s := range strategies {
		saveStrategyState(st, s, logger)
	}
}

// newRESTExecClient decodes a ClientConfig blob into adapters.RESTConfig.
// Unrecognized/missing fields fall back to the adapter's zero-value
// defaults (resty treats a zero Timeout as "no timeout").
func newRESTExecClient(raw config.ClientConfig, logger *slog.Logger) adapters.ExecClient {
	var cfg adapters.RESTConfig
	if err := config.DecodeParams(raw, &cfg); err != nil {
		logger.Error("invalid exec client config", "error", err)
	}
	return adapters.NewRESTExecClient(cfg, logger)
}

// newWSDataClient decodes a ClientConfig blob into adapters.WSConfig.
func newWSDataClient(raw config.ClientConfig, logger *slog.Logger) adapters.DataClient {
	var cfg adapters.WSConfig
	if err := config.DecodeParams(raw, &cfg); err != nil {
		logger.Error("invalid data client config", "error", err)
	}
	return adapters.NewWSDataClient(cfg, logger)
}

func buildRiskLimits(cfg config.LiveRiskEngineConfig) (risk.Limits, error) {
	limits := risk.Limits{
		MaxOrdersPerWindow: cfg.MaxOrdersPerWindow,
		Window:             cfg.Window,
		QSize:              cfg.QSize,
		Bypass:             cfg.Bypass,
		PriceBandPct:       decimal.NewFromFloat(cfg.PriceBandPct),
	}
	if len(cfg.MaxQuantity) > 0 {
		limits.MaxQuantity = make(map[types.InstrumentID]types.Quantity, len(cfg.MaxQuantity))
		for sym, raw := range cfg.MaxQuantity {
			id, err := types.ParseInstrumentID(sym)
			if err != nil {
				return limits, fmt.Errorf("risk_engine.max_quantity: %w", err)
			}
			q, err := types.ParseQuantity(raw, 8)
			if err != nil {
				return limits, fmt.Errorf("risk_engine.max_quantity[%s]: %w", sym, err)
			}
			limits.MaxQuantity[id] = q
		}
	}
	if len(cfg.MaxNotional) > 0 {
		limits.MaxNotional = make(map[types.InstrumentID]types.Money, len(cfg.MaxNotional))
		for sym, raw := range cfg.MaxNotional {
			id, err := types.ParseInstrumentID(sym)
			if err != nil {
				return limits, fmt.Errorf("risk_engine.max_notional: %w", err)
			}
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return limits, fmt.Errorf("risk_engine.max_notional[%s]: %w", sym, err)
			}
			limits.MaxNotional[id] = types.NewMoney(d, "")
		}
	}
	return limits, nil
}

// parseStartingBalances parses "AMOUNT CCY" entries (e.g. "100000 USD")
// into an account's balance map, free==total with nothing locked.
func parseStartingBalances(entries []string) map[string]types.Balance {
	balances := make(map[string]types.Balance, len(entries))
	for _, entry := range entries {
		fields := strings.Fields(entry)
		if len(fields) != 2 {
			continue
		}
		amount, err := decimal.NewFromString(fields[0])
		if err != nil {
			continue
		}
		currency := fields[1]
		money := types.NewMoney(amount, currency)
		balances[currency] = types.Balance{Currency: currency, Free: money, Total: money}
	}
	return balances
}

// parseLeverages resolves a venue's per-instrument leverage overrides,
// skipping (with a warning) any symbol that doesn't parse — a typo here
// shouldn't block startup, since DefaultLeverage still applies.
func parseLeverages(entries map[string]float64, logger *slog.Logger) map[types.InstrumentID]decimal.Decimal {
	out := make(map[types.InstrumentID]decimal.Decimal, len(entries))
	for sym, lev := range entries {
		id, err := types.ParseInstrumentID(sym)
		if err != nil {
			logger.Warn("skipping leverage override: invalid instrument", "symbol", sym, "error", err)
			continue
		}
		out[id] = decimal.NewFromFloat(lev)
	}
	return out
}

// buildStrategies decodes each configured strategy's Params into a
// strategy.MakerConfig and wires it to the shared Cache/Bus/RiskEngine. The
// exchange parameter registers the instrument with the simulated venue in
// backtest mode; it is nil in live mode, where instrument registration is
// the venue adapter's responsibility.
func buildStrategies(cfgs []config.StrategyConfig, c *cache.Cache, b *bus.Bus, riskGateway strategy.RiskGateway, ex *exchange.Exchange, st strategyStore, logger *slog.Logger) []*strategy.Strategy {
	out := make([]*strategy.Strategy, 0, len(cfgs))
	for i, sc := range cfgs {
		var makerCfg strategy.MakerConfig
		if err := config.DecodeParams(sc.Params, &makerCfg); err != nil {
			logger.Error("failed to decode strategy params", "index", i, "error", err)
			continue
		}
		if ex != nil {
			if _, ok := c.Instrument(makerCfg.InstrumentID); !ok {
				c.AddInstrument(types.Instrument{ID: makerCfg.InstrumentID, PricePrecision: 2, SizePrecision: 2})
			}
			ex.RegisterInstrument(types.Instrument{ID: makerCfg.InstrumentID, PricePrecision: 2, SizePrecision: 2})
		}

		strategyID := fmt.Sprintf("STRAT-%d", i)
		mk := strategy.NewMarketMaker(makerCfg, nil, c, logger)
		s := strategy.New(strategyID, sc.OrderIDTag, mk, c, b, riskGateway, logger)
		mk.SetStrategy(s)

		if state, err := st.LoadState(strategyID); err != nil {
			logger.Warn("failed to load strategy state", "strategy_id", strategyID, "error", err)
		} else if state != nil {
			if err := s.Load(state); err != nil {
				logger.Warn("strategy rejected loaded state", "strategy_id", strategyID, "error", err)
			}
		}

		out = append(out, s)
	}
	return out
}

func saveStrategyState(st strategyStore, s *strategy.Strategy, logger *slog.Logger) {
	state, err := s.Save()
	if err != nil {
		logger.Warn("strategy state save failed", "strategy_id", s.ID, "error", err)
		return
	}
	if state == nil {
		return
	}
	if err := st.SaveState(s.ID, state); err != nil {
		logger.Warn("persisting strategy state failed", "strategy_id", s.ID, "error", err)
	}
}

// printBacktestReport renders the post-run order/fill and account summary,
// the ambient CLI's one genuinely out-of-core-scope but still useful piece
// of ceremony.
func printBacktestReport(w *os.File, engine *trader.BacktestEngine, accountID, currency string) {
	fmt.Fprintln(w, "\n=== BACKTEST REPORT ===")

	table := tablewriter.NewWriter(w)
	table.Header("Client Order ID", "Instrument", "Side", "Qty", "Filled", "Status")
	for _, o := range engine.Cache().OrdersClosed() {
		table.Append(
			string(o.ClientOrderID),
			o.InstrumentID.String(),
			string(o.Side),
			o.Quantity.String(),
			o.FilledQty.String(),
			string(o.Status),
		)
	}
	table.Render()

	if equity, ok := engine.Portfolio().Equity(accountID, currency); ok {
		fmt.Fprintf(w, "\nAccount %s equity: %s\n", accountID, equity.String())
	}
	fmt.Fprintf(w, "Margin used: %s\n", engine.Portfolio().MarginUsed(accountID).String())
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) strategyStore {
	path := cfg.Path
	if path == "" {
		path = "./state"
	}
	if cfg.Backend == "sqlite" {
		s, err := store.OpenSQLite(path)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		return s
	}
	s, err := store.Open(path)
	if err != nil {
		logger.Error("failed to open json store", "error", err)
		os.Exit(1)
	}
	return s
}

// strategyStore is the subset of store.JSONStore/store.SQLiteStore the
// launcher needs, so either backend can be selected at runtime.
type strategyStore interface {
	SaveState(strategyID string, state store.StrategyState) error
	LoadState(strategyID string) (store.StrategyState, error)
	Close() error
}
