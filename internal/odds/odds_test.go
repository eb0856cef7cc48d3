package odds

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/rng"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultConfig())
	if err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	return c
}

// --- Config validation ---

func TestDefaultConfig_WeightsSumToOne(t *testing.T) {
	cfg := DefaultConfig()
	sum := 0.0
	for _, b := range cfg.Crash.Bands() {
		sum += b.Weight
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("weights should sum to 1, got %v", sum)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"weights short", func(c *Config) { c.Crash.High.Weight = 0.05 }, ErrInvalidBands},
		{"gap between bands", func(c *Config) { c.Crash.Mid.Min = 1.6 }, ErrInvalidBands},
		{"inverted band", func(c *Config) { c.Crash.High.Max = 2.0 }, ErrInvalidBands},
		{"below one", func(c *Config) { c.Crash.Low.Min = 0.5 }, ErrInvalidBands},
		{"negative weight", func(c *Config) { c.Crash.Low.Weight = -0.1 }, ErrInvalidBands},
		{"zero growth", func(c *Config) { c.Crash.GrowthBase = 0 }, ErrInvalidGrowth},
		{"edge of one", func(c *Config) { c.Mines.HouseEdge = 1 }, ErrInvalidHouseEdge},
		{"edge of zero", func(c *Config) { c.Mines.HouseEdge = 0 }, ErrInvalidHouseEdge},
		{"tiny board", func(c *Config) { c.Mines.TotalTiles = 1 }, ErrInvalidBoard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := NewCalculator(cfg); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// --- Crash point distribution ---

func TestCrashPoint_AlwaysAtLeastOne(t *testing.T) {
	c := newCalc(t)
	src := rng.NewSeeded(7)
	for i := 0; i < 100000; i++ {
		if x := c.CrashPoint(src); x < 1.0 {
			t.Fatalf("crash point below 1.0: %v", x)
		}
	}
}

func TestCrashPointAt_Boundaries(t *testing.T) {
	c := newCalc(t)
	if x := c.CrashPointAt(0); x != 1.0 {
		t.Errorf("u=0 should map to 1.0, got %v", x)
	}
	if x := c.CrashPointAt(0.55); x != 1.5 {
		t.Errorf("u=0.55 should map to start of mid band, got %v", x)
	}
	top := c.CrashPointAt(math.Nextafter(1, 0))
	if top >= 20 || top < 19.99 {
		t.Errorf("u→1 should approach the high band max, got %v", top)
	}
	if x := c.CrashPointAt(-0.5); x != 1.0 {
		t.Errorf("negative u should clamp to 1.0, got %v", x)
	}
}

func TestCrashPointAt_Monotone(t *testing.T) {
	c := newCalc(t)
	prev := 0.0
	for i := 0; i < 10000; i++ {
		x := c.CrashPointAt(float64(i) / 10000)
		if x < prev {
			t.Fatalf("inverse CDF must be non-decreasing: u=%v x=%v prev=%v", float64(i)/10000, x, prev)
		}
		prev = x
	}
}

func TestCrashPoint_BandFrequencies(t *testing.T) {
	c := newCalc(t)
	const n = 200000
	src := rng.NewSeeded(42)
	var counts [3]int
	for i := 0; i < n; i++ {
		counts[c.BandOf(c.CrashPoint(src))]++
	}
	for i, b := range c.Config().Crash.Bands() {
		freq := float64(counts[i]) / n
		if diff := freq - b.Weight; diff > 0.01 || diff < -0.01 {
			t.Errorf("band %d frequency %v not close to weight %v", i, freq, b.Weight)
		}
	}
}

func TestCrashPoint_EmpiricalMean(t *testing.T) {
	c := newCalc(t)
	const n = 200000
	src := rng.NewSeeded(99)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += c.CrashPoint(src)
	}
	mean := sum / n
	if want := c.ExpectedCrashPoint(); math.Abs(mean-want) > 0.05 {
		t.Errorf("empirical mean %v not close to %v", mean, want)
	}
}

func TestExpectedCrashPoint_Documented(t *testing.T) {
	c := newCalc(t)
	if got := c.ExpectedCrashPoint(); math.Abs(got-2.625) > 1e-12 {
		t.Errorf("expected E[X]=2.625, got %v", got)
	}
}

// --- Crash return-to-player ---

func TestCrashReturn_BreakEvenAtOne(t *testing.T) {
	c := newCalc(t)
	if r := c.CrashReturn(1.0); math.Abs(r-1) > 1e-12 {
		t.Errorf("cashing out at 1.0x should return the stake, got %v", r)
	}
}

func TestCrashReturn_HouseEdgeForEveryTarget(t *testing.T) {
	c := newCalc(t)
	for cents := 101; cents <= 2500; cents++ {
		target := float64(cents) / 100
		if r := c.CrashReturn(target); r >= 1 {
			t.Fatalf("target %.2f returns %v, expected < 1", target, r)
		}
	}
}

func TestCrashReturn_KnownValues(t *testing.T) {
	c := newCalc(t)
	tests := []struct {
		target, want float64
	}{
		{1.25, 1.25 * (2.1 - 1.1*1.25)},
		{1.5, 1.5 * 0.45},
		{3.0, 3.0 * 0.10},
		{10.0, 10.0 * 0.10 * 10 / 17},
		{20.0, 0},
	}
	for _, tt := range tests {
		if got := c.CrashReturn(tt.target); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CrashReturn(%v) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestCrashReturn_MatchesSimulation(t *testing.T) {
	c := newCalc(t)
	const n = 200000
	const target = 2.0
	src := rng.NewSeeded(5)
	won := 0
	for i := 0; i < n; i++ {
		if c.CrashPoint(src) > target {
			won++
		}
	}
	empirical := target * float64(won) / n
	if math.Abs(empirical-c.CrashReturn(target)) > 0.01 {
		t.Errorf("simulated return %v not close to analytic %v", empirical, c.CrashReturn(target))
	}
}

// --- Crash growth ---

func TestCrashGrowth_StrictlyIncreasing(t *testing.T) {
	c := newCalc(t)
	m := 1.0
	for i := 0; i < 1000; i++ {
		next := c.CrashGrowth(m, 0.016)
		if next <= m {
			t.Fatalf("growth must increase: %v -> %v", m, next)
		}
		m = next
	}
}

func TestCrashGrowth_NonPositiveDtIsNoop(t *testing.T) {
	c := newCalc(t)
	if got := c.CrashGrowth(1.7, 0); got != 1.7 {
		t.Errorf("dt=0 should not move the multiplier, got %v", got)
	}
	if got := c.CrashGrowth(1.7, -1); got != 1.7 {
		t.Errorf("negative dt should not move the multiplier, got %v", got)
	}
}

func TestCrashGrowth_SpeedAtOne(t *testing.T) {
	c := newCalc(t)
	// At 1.0x the speed equals the base rate.
	if got := c.CrashGrowth(1.0, 1.0); math.Abs(got-1.7) > 1e-12 {
		t.Errorf("expected 1.7 after one second, got %v", got)
	}
}

// --- Mines multiplier ---

func TestMinesMultiplier_ZeroRevealsIsHouseEdge(t *testing.T) {
	m, err := MinesMultiplier(0, 3, 25, 0.985)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != 0.985 {
		t.Errorf("expected multiplier(0)=h=0.985, got %v", m)
	}
}

func TestMinesMultiplier_KnownValue(t *testing.T) {
	// One safe reveal with 3 mines on 25 tiles: fair = 25/22.
	m, err := MinesMultiplier(1, 3, 25, 0.985)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 25.0 / 22.0 * 0.985
	if math.Abs(m-want) > 1e-12 {
		t.Errorf("expected %v, got %v", want, m)
	}
}

func TestMinesMultiplier_StrictlyIncreasingInReveals(t *testing.T) {
	const tiles = 25
	for mines := 1; mines <= tiles-1; mines++ {
		prev := 0.0
		for k := 0; k <= tiles-mines; k++ {
			m, err := MinesMultiplier(k, mines, tiles, 0.985)
			if err != nil {
				t.Fatalf("mines=%d k=%d: %v", mines, k, err)
			}
			if m <= prev {
				t.Fatalf("mines=%d: multiplier not strictly increasing at k=%d (%v <= %v)", mines, k, m, prev)
			}
			prev = m
		}
	}
}

func TestMinesMultiplier_IncreasingInMineCount(t *testing.T) {
	const tiles = 25
	for k := 1; k <= 5; k++ {
		prev := 0.0
		for mines := 1; mines <= tiles-k; mines++ {
			m, err := MinesMultiplier(k, mines, tiles, 0.985)
			if err != nil {
				t.Fatalf("k=%d mines=%d: %v", k, mines, err)
			}
			if m <= prev {
				t.Fatalf("k=%d: multiplier should grow with mines, mines=%d gives %v <= %v", k, mines, m, prev)
			}
			prev = m
		}
	}
}

func TestMinesReturn_IsHouseEdgeForEveryK(t *testing.T) {
	const tiles = 25
	for _, mines := range []int{1, 3, 10, 24} {
		for k := 0; k <= tiles-mines; k++ {
			ev, err := MinesReturn(k, mines, tiles, 0.985)
			if err != nil {
				t.Fatalf("mines=%d k=%d: %v", mines, k, err)
			}
			if math.Abs(ev-0.985) > 1e-9 {
				t.Errorf("mines=%d k=%d: expected return %v, want 0.985", mines, k, ev)
			}
		}
	}
}

func TestMinesMultiplier_InvalidInputs(t *testing.T) {
	tests := []struct {
		k, mines, tiles int
		edge            float64
		want            error
	}{
		{0, 0, 25, 0.985, ErrInvalidBoard},
		{0, 25, 25, 0.985, ErrInvalidBoard},
		{-1, 3, 25, 0.985, ErrInvalidBoard},
		{23, 3, 25, 0.985, ErrInvalidBoard},
		{1, 3, 25, 1.2, ErrInvalidHouseEdge},
	}
	for _, tt := range tests {
		if _, err := MinesMultiplier(tt.k, tt.mines, tt.tiles, tt.edge); !errors.Is(err, tt.want) {
			t.Errorf("MinesMultiplier(%d,%d,%d,%v): expected %v, got %v",
				tt.k, tt.mines, tt.tiles, tt.edge, tt.want, err)
		}
	}
}

func TestCalculator_MinesMultiplierUsesConfig(t *testing.T) {
	c := newCalc(t)
	got, err := c.MinesMultiplier(5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := MinesMultiplier(5, 3, 25, 0.985)
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

// --- Payout rounding ---

func TestSettle_ProfitExactAfterRounding(t *testing.T) {
	tests := []struct {
		stake      float64
		multiplier float64
		payout     float64
	}{
		{10, 1.5, 15},
		{10, 1.23456, 12.35},
		{3.33, 2.0, 6.66},
		{0.01, 1.004, 0.01},
		{7, 0.985, 6.9},
	}
	for _, tt := range tests {
		payout, profit := Settle(d(tt.stake), tt.multiplier)
		if !payout.Equal(d(tt.payout)) {
			t.Errorf("stake %v × %v: expected payout %v, got %s", tt.stake, tt.multiplier, tt.payout, payout)
		}
		if !profit.Equal(payout.Sub(d(tt.stake))) {
			t.Errorf("profit must equal payout - stake exactly, got %s", profit)
		}
		if payout.Exponent() < -2 {
			t.Errorf("payout should have at most 2 decimals, got %s", payout)
		}
	}
}
