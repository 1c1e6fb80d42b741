// Package daemon assembles and runs the oracle node: configuration,
// wiring, the HTTP server and background maintenance.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	API        APIConfig        `toml:"api"`
	Oracle     OracleConfig     `toml:"oracle"`
	Reputation ReputationConfig `toml:"reputation"`
	Rewards    RewardsConfig    `toml:"rewards"`
	Providers  ProvidersConfig  `toml:"providers"`
	Storage    StorageConfig    `toml:"storage"`
	Chains     ChainsConfig     `toml:"chains"`
	Log        LogConfig        `toml:"log"`
}

type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

type OracleConfig struct {
	Strategy             string  `toml:"strategy"`
	AutoFinalize         bool    `toml:"auto_finalize"`
	DefaultMinProviders  int     `toml:"default_min_providers"`
	DefaultMinReputation float64 `toml:"default_min_reputation"`
}

type ReputationConfig struct {
	DefaultScore      float64 `toml:"default_score"`
	AccuracyWeight    float64 `toml:"accuracy_weight"`
	ConsistencyWeight float64 `toml:"consistency_weight"`
	DecayFactor       float64 `toml:"decay_factor"`
	MaxHistory        int     `toml:"max_history"`
	// DecayInterval is how often the maintenance sweep runs, e.g. "24h".
	// Empty disables the sweep.
	DecayInterval string `toml:"decay_interval"`
}

type RewardsConfig struct {
	BaseReward        float64 `toml:"base_reward"`
	AccuracyBonus     float64 `toml:"accuracy_bonus"`
	AccuracyThreshold float64 `toml:"accuracy_threshold"`
}

type ProvidersConfig struct {
	Carbon       BuiltinProvider `toml:"carbon"`
	Certificates BuiltinProvider `toml:"certificates"`
}

// BuiltinProvider configures one of the bundled data providers.
type BuiltinProvider struct {
	Enabled     bool   `toml:"enabled"`
	SigningKey  string `toml:"signing_key"`
	MaxInFlight int    `toml:"max_in_flight"`
}

type StorageConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `toml:"path"`
}

type ChainsConfig struct {
	// Simulated lists chain names to attach simulated adapters for.
	Simulated []string `toml:"simulated"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the standard node configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8790,
			Metrics: true,
		},
		Oracle: OracleConfig{
			Strategy:             "weighted_mean",
			AutoFinalize:         true,
			DefaultMinProviders:  3,
			DefaultMinReputation: 50.0,
		},
		Reputation: ReputationConfig{
			DefaultScore:      50.0,
			AccuracyWeight:    2.0,
			ConsistencyWeight: 1.0,
			DecayFactor:       0.995,
			MaxHistory:        100,
			DecayInterval:     "24h",
		},
		Rewards: RewardsConfig{
			BaseReward:        1.0,
			AccuracyBonus:     0.5,
			AccuracyThreshold: 0.9,
		},
		Providers: ProvidersConfig{
			Carbon:       BuiltinProvider{Enabled: true, MaxInFlight: 4},
			Certificates: BuiltinProvider{Enabled: true, MaxInFlight: 4},
		},
		Storage: StorageConfig{
			Path: defaultDBPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ecooracle.db"
	}
	return filepath.Join(home, ".ecooracle", "oracle.db")
}
