// Package config loads the daemon's TOML configuration and converts its
// human-readable rate fractions into runtime wad values.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	LogPath    string `toml:"LogPath"`

	Pool      Pool      `toml:"Pool"`
	Rebalance Rebalance `toml:"Rebalance"`
	Pauses    Pauses    `toml:"Pauses"`
	RateLimit RateLimit `toml:"RateLimit"`
}

// Pool configures the shared lending pool. Rates are annualized decimal
// fractions, e.g. "0.10" for 10% per year.
type Pool struct {
	OptimalUtilization  string `toml:"OptimalUtilization"`
	AnnualSlope1        string `toml:"AnnualSlope1"`
	AnnualSlope2        string `toml:"AnnualSlope2"`
	AnnualMaxBorrowRate string `toml:"AnnualMaxBorrowRate"`
	PerformanceFee      string `toml:"PerformanceFee"`
}

// Rebalance configures the periodic-rebalance scheduler.
type Rebalance struct {
	IntervalSeconds          uint64 `toml:"IntervalSeconds"`
	CooldownSeconds          uint64 `toml:"CooldownSeconds"`
	BypassCooldownForPartial bool   `toml:"BypassCooldownForPartial"`
}

// Pauses holds the operator kill switches per module.
type Pauses struct {
	Lending  bool `toml:"Lending"`
	LevToken bool `toml:"LevToken"`
}

// IsPaused reports whether the named module's flows are halted.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "lending":
		return p.Lending
	case "levtoken":
		return p.LevToken
	default:
		return false
	}
}

// RateLimit bounds inbound gateway requests per client.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Load loads the configuration from the given path, writing a default
// file when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration the daemon runs with out of the box.
func Default() *Config {
	return &Config{
		RPCAddress: ":8080",
		DataDir:    "./levmarket-data",
		LogPath:    "",
		Pool: Pool{
			OptimalUtilization:  "0.9",
			AnnualSlope1:        "0.10",
			AnnualSlope2:        "2.00",
			AnnualMaxBorrowRate: "10.00",
			PerformanceFee:      "0.10",
		},
		Rebalance: Rebalance{
			IntervalSeconds:          60,
			CooldownSeconds:          3600,
			BypassCooldownForPartial: true,
		},
		RateLimit: RateLimit{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
