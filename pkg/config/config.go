// Package config provides a reusable loader for jstz kernel configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/jstz-dev/jstz-core/core"
	"github.com/jstz-dev/jstz-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// KernelConfig is the unified configuration for one jstzd process: where its
// durable state lives, how aggressively it snapshots, the gas schedule it
// charges against, the reveal chunking parameters, and the oracle bridge's
// allow-list and rate limit.
type KernelConfig struct {
	Store struct {
		Dir              string `mapstructure:"dir" json:"dir"`
		SnapshotInterval int    `mapstructure:"snapshot_interval" json:"snapshot_interval"`
	} `mapstructure:"store" json:"store"`

	Gas struct {
		Limit            uint64 `mapstructure:"limit" json:"limit"`
		BaseOperation    uint64 `mapstructure:"base_operation" json:"base_operation"`
		StorageWriteByte uint64 `mapstructure:"storage_write_byte" json:"storage_write_byte"`
		StorageReadByte  uint64 `mapstructure:"storage_read_byte" json:"storage_read_byte"`
		CryptoVerify     uint64 `mapstructure:"crypto_verify" json:"crypto_verify"`
		JSStep           uint64 `mapstructure:"js_step" json:"js_step"`
		NestedCallBase   uint64 `mapstructure:"nested_call_base" json:"nested_call_base"`
	} `mapstructure:"gas" json:"gas"`

	Reveal struct {
		LeafSize int `mapstructure:"leaf_size" json:"leaf_size"`
		FanOut   int `mapstructure:"fan_out" json:"fan_out"`
	} `mapstructure:"reveal" json:"reveal"`

	Oracle struct {
		Enabled       bool     `mapstructure:"enabled" json:"enabled"`
		AllowList     []string `mapstructure:"allow_list" json:"allow_list"`
		RatePerSecond float64  `mapstructure:"rate_per_second" json:"rate_per_second"`
		Burst         int      `mapstructure:"burst" json:"burst"`
	} `mapstructure:"oracle" json:"oracle"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Devnet struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"devnet" json:"devnet"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig KernelConfig

// defaults seeds every field viper itself won't derive, so a config file
// that only overrides a couple of values still produces a fully usable
// KernelConfig.
func defaults() {
	viper.SetDefault("store.dir", "./jstz-data")
	viper.SetDefault("store.snapshot_interval", 256)
	viper.SetDefault("gas.limit", core.GasLimit)
	viper.SetDefault("gas.base_operation", core.DefaultGasSchedule.BaseOperation)
	viper.SetDefault("gas.storage_write_byte", core.DefaultGasSchedule.StorageWriteByte)
	viper.SetDefault("gas.storage_read_byte", core.DefaultGasSchedule.StorageReadByte)
	viper.SetDefault("gas.crypto_verify", core.DefaultGasSchedule.CryptoVerify)
	viper.SetDefault("gas.js_step", core.DefaultGasSchedule.JSStep)
	viper.SetDefault("gas.nested_call_base", core.DefaultGasSchedule.NestedCallBase)
	viper.SetDefault("reveal.leaf_size", core.DefaultLeafSize)
	viper.SetDefault("reveal.fan_out", core.DefaultChunkFanOut)
	viper.SetDefault("oracle.enabled", false)
	viper.SetDefault("oracle.rate_per_second", 1.0)
	viper.SetDefault("oracle.burst", 5)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("devnet.listen_addr", "127.0.0.1:7070")
}

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
func Load(env string) (*KernelConfig, error) {
	defaults()
	viper.SetConfigName("default")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("JSTZ")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the JSTZ_ENV environment variable.
func LoadFromEnv() (*KernelConfig, error) {
	return Load(utils.EnvOrDefault("JSTZ_ENV", ""))
}

// GasSchedule derives a core.GasSchedule from the loaded configuration,
// falling back to core.DefaultGasSchedule for any field left at its zero
// value.
func (c *KernelConfig) GasSchedule() core.GasSchedule {
	s := core.DefaultGasSchedule
	if c.Gas.BaseOperation != 0 {
		s.BaseOperation = c.Gas.BaseOperation
	}
	if c.Gas.StorageWriteByte != 0 {
		s.StorageWriteByte = c.Gas.StorageWriteByte
	}
	if c.Gas.StorageReadByte != 0 {
		s.StorageReadByte = c.Gas.StorageReadByte
	}
	if c.Gas.CryptoVerify != 0 {
		s.CryptoVerify = c.Gas.CryptoVerify
	}
	if c.Gas.JSStep != 0 {
		s.JSStep = c.Gas.JSStep
	}
	if c.Gas.NestedCallBase != 0 {
		s.NestedCallBase = c.Gas.NestedCallBase
	}
	return s
}
