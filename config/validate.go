package config

import (
	"fmt"

	"github.com/holiman/uint256"

	"levmarket/fixedpoint"
	"levmarket/native/lending"
)

// Validate checks the configuration's invariants and rate fractions. It is
// called on every load so a bad file fails at startup rather than in the
// first accrual.
func (c *Config) Validate() error {
	if c.RPCAddress == "" {
		return fmt.Errorf("config: RPCAddress must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	if _, err := c.Pool.InterestModel(); err != nil {
		return err
	}
	if _, err := c.Pool.PerformanceFeeWad(); err != nil {
		return err
	}
	return nil
}

// InterestModel converts the configured annual fractions into the pool's
// per-second kinked rate model.
func (p Pool) InterestModel() (*lending.InterestModel, error) {
	optimal, err := parseFraction("Pool.OptimalUtilization", p.OptimalUtilization)
	if err != nil {
		return nil, err
	}
	if optimal.IsZero() || !optimal.Lt(fixedpoint.Wad) {
		return nil, fmt.Errorf("config: Pool.OptimalUtilization must be in (0, 1)")
	}
	slope1, err := parseFraction("Pool.AnnualSlope1", p.AnnualSlope1)
	if err != nil {
		return nil, err
	}
	slope2, err := parseFraction("Pool.AnnualSlope2", p.AnnualSlope2)
	if err != nil {
		return nil, err
	}
	maxRate, err := parseFraction("Pool.AnnualMaxBorrowRate", p.AnnualMaxBorrowRate)
	if err != nil {
		return nil, err
	}
	if maxRate.IsZero() {
		return nil, fmt.Errorf("config: Pool.AnnualMaxBorrowRate must be positive")
	}
	return lending.NewInterestModel(optimal, slope1, slope2, maxRate), nil
}

// PerformanceFeeWad converts the configured fee fraction into wad form.
func (p Pool) PerformanceFeeWad() (*uint256.Int, error) {
	fee, err := parseFraction("Pool.PerformanceFee", p.PerformanceFee)
	if err != nil {
		return nil, err
	}
	if !fee.Lt(fixedpoint.Wad) {
		return nil, fmt.Errorf("config: Pool.PerformanceFee must be below 1")
	}
	return fee, nil
}

func parseFraction(field, value string) (*uint256.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("config: %s must be set", field)
	}
	out, err := fixedpoint.WadFromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("config: invalid %s %q: %w", field, value, err)
	}
	return out, nil
}
