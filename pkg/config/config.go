package config

// Package config provides a reusable loader for swarmnode configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"swarmnode/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a swarmnode instance. Its
// fields map to the keys of the default.yaml file Load looks for under
// cmd/config or config; no such file ships in this repository.
type Config struct {
	Network struct {
		NetworkID      uint64   `mapstructure:"network_id" json:"network_id"`
		NodeKind       string   `mapstructure:"node_kind" json:"node_kind"` // bootnode|client|storer
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		Welcome        string   `mapstructure:"welcome" json:"welcome"`
	} `mapstructure:"network" json:"network"`

	Topology struct {
		MaxPO            int `mapstructure:"max_po" json:"max_po"`
		SaturationTarget int `mapstructure:"saturation_target" json:"saturation_target"`
		BinCapacity      int `mapstructure:"bin_capacity" json:"bin_capacity"`
	} `mapstructure:"topology" json:"topology"`

	Accounting struct {
		BasePriceAU          int64 `mapstructure:"base_price_au" json:"base_price_au"`
		PaymentThresholdAU   int64 `mapstructure:"payment_threshold_au" json:"payment_threshold_au"`
		DisconnectToleranceP int   `mapstructure:"disconnect_tolerance_percent" json:"disconnect_tolerance_percent"`
		EarlyPaymentPercent  int   `mapstructure:"early_payment_percent" json:"early_payment_percent"`
	} `mapstructure:"accounting" json:"accounting"`

	Settlement struct {
		Mode               string `mapstructure:"mode" json:"mode"` // none|pseudosettle|swap|both
		RefreshRateAUPerS  int64  `mapstructure:"refresh_rate_au_per_sec" json:"refresh_rate_au_per_sec"`
		LightNodeDivisor   int64  `mapstructure:"light_node_divisor" json:"light_node_divisor"`
		ChequebookAddress  string `mapstructure:"chequebook_address" json:"chequebook_address"`
		ChainID            int64  `mapstructure:"chain_id" json:"chain_id"`
	} `mapstructure:"settlement" json:"settlement"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SWARMNODE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SWARMNODE_ENV", ""))
}
