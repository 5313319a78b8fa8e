package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TradingMode != TradingPaused {
		t.Fatalf("expected default trading mode Paused, got %v", cfg.TradingMode)
	}
	if cfg.StrategyParams.SLAtrMultiplier != 1.5 {
		t.Fatalf("expected default SL multiplier 1.5, got %v", cfg.StrategyParams.SLAtrMultiplier)
	}
}

func TestLoad_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"trading_mode":"Live","symbols":["ETHUSDT"]}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Symbols[0] != "ETHUSDT" {
		t.Fatalf("expected loaded symbol to survive, got %v", cfg.Symbols)
	}
	if cfg.MaxDailyLossPct != 3.0 {
		t.Fatalf("expected missing field to fall back to default, got %v", cfg.MaxDailyLossPct)
	}
}

func TestApplyStartupSafety_AlwaysForcesPausedDemo(t *testing.T) {
	cfg := Default()
	cfg.TradingMode = TradingLive
	cfg.AccountMode = AccountLive

	cfg.ApplyStartupSafety()

	if cfg.TradingMode != TradingPaused || cfg.AccountMode != AccountDemo {
		t.Fatalf("expected startup safety to force Paused/Demo, got %v/%v", cfg.TradingMode, cfg.AccountMode)
	}
}

func TestSave_RoundTripsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}

	if err := Save(path, &cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load after save failed: %v", err)
	}
	if len(loaded.Symbols) != 2 || loaded.Symbols[1] != "ETHUSDT" {
		t.Fatalf("expected round-tripped symbols, got %v", loaded.Symbols)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("expected no leftover temp file, found %s", e.Name())
		}
	}
}
