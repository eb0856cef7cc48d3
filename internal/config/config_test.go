package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/odds"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if !cfg.StartingBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected starting balance 1000, got %s", cfg.StartingBalance)
	}
	if !cfg.TopUpAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected top-up 100, got %s", cfg.TopUpAmount)
	}
	if !cfg.MinStake.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("expected min stake 0.01, got %s", cfg.MinStake)
	}
	if cfg.TickInterval != 50*time.Millisecond || cfg.SessionTTL != 24*time.Hour {
		t.Errorf("unexpected intervals %v / %v", cfg.TickInterval, cfg.SessionTTL)
	}
	if cfg.PersistMaxTries != 3 {
		t.Errorf("expected 3 tries, got %d", cfg.PersistMaxTries)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STARTING_BALANCE", "250.50")
	t.Setenv("MAX_STAKE", "500")
	t.Setenv("TICK_INTERVAL", "20ms")
	t.Setenv("SQLITE_PATH", "/var/lib/wager/ledger.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.SQLitePath != "/var/lib/wager/ledger.db" {
		t.Errorf("unexpected strings %+v", cfg)
	}
	if !cfg.StartingBalance.Equal(decimal.RequireFromString("250.5")) {
		t.Errorf("expected 250.50, got %s", cfg.StartingBalance)
	}
	if !cfg.MaxStake.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected max stake 500, got %s", cfg.MaxStake)
	}
	if cfg.TickInterval != 20*time.Millisecond {
		t.Errorf("expected 20ms, got %v", cfg.TickInterval)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unparsable balance", "STARTING_BALANCE", "lots"},
		{"negative balance", "STARTING_BALANCE", "-1"},
		{"fractional cents", "TOP_UP_AMOUNT", "1.001"},
		{"zero top-up", "TOP_UP_AMOUNT", "0"},
		{"zero min stake", "MIN_STAKE", "0"},
		{"min above max", "MIN_STAKE", "20000"},
		{"zero tick", "TICK_INTERVAL", "0s"},
		{"zero tries", "PERSIST_MAX_TRIES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

// --- Odds file ---

func TestLoadOdds_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadOdds("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != odds.DefaultConfig() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestParseOdds_PartialOverride(t *testing.T) {
	cfg, err := ParseOdds([]byte(`
mines:
  house_edge: 0.97
crash:
  growth_base: 1.0
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mines.HouseEdge != 0.97 || cfg.Crash.GrowthBase != 1.0 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	def := odds.DefaultConfig()
	if cfg.Mines.TotalTiles != def.Mines.TotalTiles || cfg.Crash.Mid != def.Crash.Mid {
		t.Errorf("unspecified keys should keep defaults: %+v", cfg)
	}
}

func TestParseOdds_EmptyDocument(t *testing.T) {
	cfg, err := ParseOdds(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg != odds.DefaultConfig() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestParseOdds_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"weights off", "crash:\n  low: {weight: 0.6, min: 1.0, max: 1.5}\n", odds.ErrInvalidBands},
		{"house edge of one", "mines:\n  house_edge: 1\n", odds.ErrInvalidHouseEdge},
		{"tiny board", "mines:\n  total_tiles: 1\n", odds.ErrInvalidBoard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseOdds([]byte(tt.doc)); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := ParseOdds([]byte("mines:\n  edge: 0.9\n")); err == nil {
		t.Error("unknown keys should be rejected")
	}
}

func TestLoadOdds_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odds.yaml")
	if err := os.WriteFile(path, []byte("mines:\n  total_tiles: 36\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadOdds(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mines.TotalTiles != 36 {
		t.Errorf("expected 36 tiles, got %d", cfg.Mines.TotalTiles)
	}

	if _, err := LoadOdds(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
