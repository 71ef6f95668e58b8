package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Contract identifies one tracked vault contract on a network.
type Contract struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
}

// Addr returns the parsed contract address. Config addresses may use any
// casing; comparisons go through common.Address so case never matters.
func (c Contract) Addr() common.Address {
	return common.HexToAddress(c.Address)
}

// Network is the static per-chain configuration, immutable after load.
type Network struct {
	Name      string     `mapstructure:"name"`
	RPCURL    string     `mapstructure:"rpc_url"`
	ChainID   uint64     `mapstructure:"chain_id"`
	Contracts []Contract `mapstructure:"contracts"`
}

// Validate reports a configuration error for this network. A failing
// network is skipped by the caller; it never aborts the whole process.
func (n Network) Validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("network name is required")
	}
	if strings.TrimSpace(n.RPCURL) == "" {
		return fmt.Errorf("network %s: rpc url is required", n.Name)
	}
	if len(n.Contracts) == 0 {
		return fmt.Errorf("network %s: at least one contract is required", n.Name)
	}
	for _, contract := range n.Contracts {
		if !common.IsHexAddress(contract.Address) {
			return fmt.Errorf("network %s: invalid contract address: %s", n.Name, contract.Address)
		}
	}
	return nil
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	PostgresDSN       string
	MetricsAddr       string
	WindowSize        uint64
	MaxRetries        int
	RetryBackoff      time.Duration
	ReconcileDelay    time.Duration
	ReconcileInterval time.Duration
	ReconcileLookback uint64
	LogLevel          string
	Networks          []Network
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VAULTSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("metrics-addr", ":9091")
	v.SetDefault("window-size", uint64(1000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("reconcile-delay", 5*time.Minute)
	v.SetDefault("reconcile-interval", 60*time.Minute)
	v.SetDefault("reconcile-lookback", uint64(10000))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		PostgresDSN:       v.GetString("pg-dsn"),
		MetricsAddr:       v.GetString("metrics-addr"),
		WindowSize:        v.GetUint64("window-size"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		ReconcileDelay:    v.GetDuration("reconcile-delay"),
		ReconcileInterval: v.GetDuration("reconcile-interval"),
		ReconcileLookback: v.GetUint64("reconcile-lookback"),
		LogLevel:          v.GetString("log-level"),
	}

	if err := v.UnmarshalKey("networks", &cfg.Networks); err != nil {
		return Config{}, fmt.Errorf("parse networks: %w", err)
	}

	return cfg, nil
}
