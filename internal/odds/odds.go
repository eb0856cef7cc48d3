// Package odds implements the payout math for the Crash and Mines games.
//
// Everything here is pure: given its inputs (and, for crash points, one
// uniform draw) a function always returns the same value. Money is only
// touched at the edge, in Payout, where the float multiplier is converted to
// decimal and rounded to cents.
//
// Crash points follow a three-band mixture. A single uniform draw u selects
// the band by cumulative weight and is then rescaled to a position inside the
// band, so the mapping u → crash point is the inverse CDF of the mixture and
// is monotone non-decreasing in u.
//
// With the default bands the expected crash point is
//
//	E[X] = 0.55·1.25 + 0.35·2.25 + 0.10·11.5 = 2.625
//
// and a player who always cashes out at target t receives on average
// CrashReturn(t) = t·P(X > t) per unit staked, which is exactly 1 at t = 1
// and strictly below 1 for every t > 1 (the house edge). Mines uses a single
// multiplicative edge h on top of fair odds, so its expected return is h for
// every number of reveals.
package odds

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/rng"
)

var (
	// ErrInvalidBands is returned when crash bands are not contiguous,
	// ascending and weighted to exactly 1.
	ErrInvalidBands = errors.New("odds: invalid crash bands")

	// ErrInvalidHouseEdge is returned when h is outside (0, 1).
	ErrInvalidHouseEdge = errors.New("odds: house edge must be in (0, 1)")

	// ErrInvalidBoard is returned for impossible mines parameters.
	ErrInvalidBoard = errors.New("odds: invalid mines board parameters")

	// ErrInvalidGrowth is returned when the crash growth curve would not
	// increase.
	ErrInvalidGrowth = errors.New("odds: growth parameters must be positive")
)

// weightTolerance bounds float error when checking that band weights sum to 1.
const weightTolerance = 1e-9

// Band is one segment of the crash point mixture: with probability Weight the
// crash point is drawn uniformly from [Min, Max).
type Band struct {
	Weight float64 `yaml:"weight" json:"weight"`
	Min    float64 `yaml:"min" json:"min"`
	Max    float64 `yaml:"max" json:"max"`
}

func (b Band) width() float64 { return b.Max - b.Min }

// CrashConfig holds the crash distribution and the multiplier growth curve.
type CrashConfig struct {
	Low  Band `yaml:"low" json:"low"`
	Mid  Band `yaml:"mid" json:"mid"`
	High Band `yaml:"high" json:"high"`

	// GrowthBase is the multiplier speed per second at 1.0x.
	GrowthBase float64 `yaml:"growth_base" json:"growth_base"`
	// GrowthAccel is the exponent controlling how speed rises with the
	// multiplier: speed = base * m^(accel-1).
	GrowthAccel float64 `yaml:"growth_accel" json:"growth_accel"`
}

// Bands returns the bands in ascending order.
func (c CrashConfig) Bands() [3]Band {
	return [3]Band{c.Low, c.Mid, c.High}
}

// MinesConfig holds the Mines board size and house edge.
type MinesConfig struct {
	TotalTiles int     `yaml:"total_tiles" json:"total_tiles"`
	HouseEdge  float64 `yaml:"house_edge" json:"house_edge"`
}

// Config is the full set of game math tunables.
type Config struct {
	Crash CrashConfig `yaml:"crash" json:"crash"`
	Mines MinesConfig `yaml:"mines" json:"mines"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Crash: CrashConfig{
			Low:         Band{Weight: 0.55, Min: 1.0, Max: 1.5},
			Mid:         Band{Weight: 0.35, Min: 1.5, Max: 3.0},
			High:        Band{Weight: 0.10, Min: 3.0, Max: 20.0},
			GrowthBase:  0.7,
			GrowthAccel: 1.6,
		},
		Mines: MinesConfig{
			TotalTiles: 25,
			HouseEdge:  0.985,
		},
	}
}

// Validate checks every invariant the calculators rely on.
func (c Config) Validate() error {
	bands := c.Crash.Bands()
	sum := 0.0
	for i, b := range bands {
		if b.Weight < 0 || b.Min >= b.Max {
			return fmt.Errorf("%w: band %d", ErrInvalidBands, i)
		}
		if i > 0 && b.Min != bands[i-1].Max {
			return fmt.Errorf("%w: band %d does not start where band %d ends", ErrInvalidBands, i, i-1)
		}
		sum += b.Weight
	}
	if bands[0].Min < 1 {
		return fmt.Errorf("%w: crash points must be >= 1.0", ErrInvalidBands)
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v", ErrInvalidBands, sum)
	}
	if c.Crash.GrowthBase <= 0 || c.Crash.GrowthAccel <= 0 {
		return ErrInvalidGrowth
	}
	if c.Mines.HouseEdge <= 0 || c.Mines.HouseEdge >= 1 {
		return ErrInvalidHouseEdge
	}
	if c.Mines.TotalTiles < 2 {
		return fmt.Errorf("%w: need at least 2 tiles", ErrInvalidBoard)
	}
	return nil
}

// Calculator binds the pure odds functions to a validated Config.
// It is stateless and safe for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator validates cfg and returns a calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// Config returns the tuning in use.
func (c *Calculator) Config() Config { return c.cfg }

// TotalTiles returns the Mines board size.
func (c *Calculator) TotalTiles() int { return c.cfg.Mines.TotalTiles }

// --- Crash ---

// CrashPoint draws one crash multiplier from src.
func (c *Calculator) CrashPoint(src rng.Source) float64 {
	return c.CrashPointAt(src.Float64())
}

// CrashPointAt maps a uniform u in [0, 1) to a crash point. It is the
// inverse CDF of the band mixture.
func (c *Calculator) CrashPointAt(u float64) float64 {
	bands := c.cfg.Crash.Bands()
	if u < 0 {
		u = 0
	}
	cum := 0.0
	last := bands[0]
	for _, b := range bands {
		if b.Weight == 0 {
			continue
		}
		last = b
		if u < cum+b.Weight {
			v := math.Max((u-cum)/b.Weight, 0)
			x := b.Min + v*b.width()
			if x >= b.Max {
				x = math.Nextafter(b.Max, b.Min)
			}
			return x
		}
		cum += b.Weight
	}
	// Float error can leave u just past the cumulative weight.
	return math.Nextafter(last.Max, last.Min)
}

// BandOf returns the index (0 low, 1 mid, 2 high) of the band containing x.
func (c *Calculator) BandOf(x float64) int {
	bands := c.cfg.Crash.Bands()
	for i := len(bands) - 1; i > 0; i-- {
		if x >= bands[i].Min {
			return i
		}
	}
	return 0
}

// CrashSurvival returns P(X > t).
func (c *Calculator) CrashSurvival(t float64) float64 {
	p := 0.0
	for _, b := range c.cfg.Crash.Bands() {
		switch {
		case t < b.Min:
			p += b.Weight
		case t < b.Max:
			p += b.Weight * (b.Max - t) / b.width()
		}
	}
	return p
}

// CrashReturn is the expected payout per unit staked for a player who
// always cashes out at target t: t·P(X > t).
func (c *Calculator) CrashReturn(t float64) float64 {
	if t < 1 {
		return t
	}
	return t * c.CrashSurvival(t)
}

// ExpectedCrashPoint returns E[X] = Σ w·(min+max)/2.
func (c *Calculator) ExpectedCrashPoint() float64 {
	e := 0.0
	for _, b := range c.cfg.Crash.Bands() {
		e += b.Weight * (b.Min + b.Max) / 2
	}
	return e
}

// CrashGrowth advances the live multiplier m by dt seconds. Speed rises
// with the multiplier, so the curve is continuous and strictly increasing for
// dt > 0.
func (c *Calculator) CrashGrowth(m, dt float64) float64 {
	if dt <= 0 {
		return m
	}
	speed := c.cfg.Crash.GrowthBase * math.Pow(math.Max(1, m), c.cfg.Crash.GrowthAccel-1)
	return m + dt*speed
}

// --- Mines ---

// MinesMultiplier returns the payout multiplier after safeRevealed safe
// reveals using the configured board size and house edge.
func (c *Calculator) MinesMultiplier(safeRevealed, mineCount int) (float64, error) {
	return MinesMultiplier(safeRevealed, mineCount, c.cfg.Mines.TotalTiles, c.cfg.Mines.HouseEdge)
}

// MinesMultiplier computes
//
//	fair(k) = 1 / Π_{i=0}^{k-1} (tiles - mines - i) / (tiles - i)
//	multiplier(k) = fair(k) · h
//
// so multiplier(0) = h. Every factor of fair(k) exceeds 1, which makes the
// multiplier strictly increasing in k; more mines shrink each survival ratio,
// which makes it increasing in the mine count. No clamping is applied.
func MinesMultiplier(safeRevealed, mineCount, totalTiles int, houseEdge float64) (float64, error) {
	if err := ValidateBoard(mineCount, totalTiles); err != nil {
		return 0, err
	}
	safeTiles := totalTiles - mineCount
	if safeRevealed < 0 || safeRevealed > safeTiles {
		return 0, fmt.Errorf("%w: %d safe reveals on a board with %d safe tiles",
			ErrInvalidBoard, safeRevealed, safeTiles)
	}
	if houseEdge <= 0 || houseEdge >= 1 {
		return 0, ErrInvalidHouseEdge
	}

	fair := 1.0
	for i := 0; i < safeRevealed; i++ {
		fair *= float64(totalTiles-i) / float64(safeTiles-i)
	}
	return fair * houseEdge, nil
}

// ValidateBoard checks mineCount ∈ [1, totalTiles-1].
func ValidateBoard(mineCount, totalTiles int) error {
	if totalTiles < 2 || mineCount < 1 || mineCount > totalTiles-1 {
		return fmt.Errorf("%w: %d mines on %d tiles", ErrInvalidBoard, mineCount, totalTiles)
	}
	return nil
}

// MinesSurvival returns the probability of k consecutive safe reveals.
func MinesSurvival(k, mineCount, totalTiles int) float64 {
	p := 1.0
	for i := 0; i < k; i++ {
		p *= float64(totalTiles-mineCount-i) / float64(totalTiles-i)
	}
	return p
}

// MinesReturn is the expected payout per unit staked for a player who always
// cashes out after k safe reveals: multiplier(k)·P(k safe reveals). With a
// single multiplicative edge it equals h for every k.
func MinesReturn(k, mineCount, totalTiles int, houseEdge float64) (float64, error) {
	m, err := MinesMultiplier(k, mineCount, totalTiles, houseEdge)
	if err != nil {
		return 0, err
	}
	return m * MinesSurvival(k, mineCount, totalTiles), nil
}

// --- Money ---

// Payout converts a multiplier into a cent-rounded payout for stake.
func Payout(stake decimal.Decimal, multiplier float64) decimal.Decimal {
	return stake.Mul(decimal.NewFromFloat(multiplier)).Round(model.MoneyScale)
}

// Settle returns the rounded payout and the exact profit (payout - stake).
func Settle(stake decimal.Decimal, multiplier float64) (payout, profit decimal.Decimal) {
	payout = Payout(stake, multiplier)
	return payout, payout.Sub(stake)
}
