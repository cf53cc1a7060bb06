package config

import (
	"os"
	"path/filepath"
	"testing"

	"tradekernel/pkg/types"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadBacktestConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
backtest:
  trader_id: TRADER-001
  exec_engine:
    reconciliation_lookback_mins: 5
  venues:
    - name: SIM
      oms_type: NETTING
      account_type: MARGIN
      base_currency: USD
      starting_balances: ["100000 USD"]
      default_leverage: 1.0
risk_engine:
  qsize: 1000
  bypass: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Backtest == nil {
		t.Fatal("expected backtest config to be populated")
	}
	if cfg.Backtest.TraderID != "TRADER-001" {
		t.Errorf("trader id = %q", cfg.Backtest.TraderID)
	}
	if len(cfg.Backtest.Venues) != 1 || cfg.Backtest.Venues[0].OMSType != types.OMSTypeNetting {
		t.Errorf("unexpected venues: %+v", cfg.Backtest.Venues)
	}
	if cfg.RiskEngine.QSize != 1000 {
		t.Errorf("risk engine qsize = %d", cfg.RiskEngine.QSize)
	}
}

func TestValidateRejectsNoRunMode(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error with no run mode configured")
	}
}

func TestValidateRejectsBothRunModes(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		TradingNode: &TradingNodeConfig{TraderID: "T-1"},
		Backtest:    &BacktestEngineConfig{TraderID: "T-1", Venues: []VenueConfig{{Name: "SIM", OMSType: types.OMSTypeNetting, AccountType: types.AccountTypeCash}}},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error when both run modes are set")
	}
}

func TestValidateRejectsUnknownOMSType(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Backtest: &BacktestEngineConfig{
			TraderID: "T-1",
			Venues:   []VenueConfig{{Name: "SIM", OMSType: "BOGUS", AccountType: types.AccountTypeCash}},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown oms_type")
	}
}
