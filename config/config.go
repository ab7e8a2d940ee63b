package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pow-ledger/consensus"
	"pow-ledger/core"
	"pow-ledger/logger"

	"github.com/spf13/viper"
)

// Config struct holds all configuration for the application.
// Tags are used by viper to map ENV variables and config file keys.
type Config struct {
	DataDir string `mapstructure:"datadir"`

	// Ledger policy, only used when the store is empty
	Difficulty         int     `mapstructure:"difficulty"`
	TargetBlockTime    float64 `mapstructure:"target_block_time"` // seconds
	AdjustmentInterval int     `mapstructure:"adjustment_interval"`
	MiningReward       float64 `mapstructure:"mining_reward"`
	GenesisTransaction bool    `mapstructure:"genesis_transaction"`

	// Mining configuration
	MiningWorkers    int           `mapstructure:"mining_workers"`
	MiningTimeout    time.Duration `mapstructure:"mining_timeout"` // 0 = tanpa batas
	Miner            string        `mapstructure:"miner"`
	AutoMine         bool          `mapstructure:"auto_mine"`
	AutoMineInterval time.Duration `mapstructure:"auto_mine_interval"`

	// RPC configuration
	RPCAddr string `mapstructure:"rpcaddr"`
	RPCPort int    `mapstructure:"rpcport"`

	// Balance cache
	EnableCache bool          `mapstructure:"enable_cache"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`

	// Database configuration
	DBCache   int `mapstructure:"db_cache"`   // Cache size for LevelDB (MB)
	DBHandles int `mapstructure:"db_handles"` // Number of open file handles for LevelDB

	// Logging configuration
	LogLevel  string `mapstructure:"log_level"`  // e.g., "debug", "info", "warn", "error"
	LogFormat string `mapstructure:"log_format"` // "text" or "json"
}

// defaultConfig holds the unexported default configuration values.
var defaultConfig = Config{
	DataDir:            "./ledger_data",
	Difficulty:         core.DefaultDifficulty,
	TargetBlockTime:    core.DefaultTargetBlockTime,
	AdjustmentInterval: core.DefaultAdjustmentInterval,
	MiningReward:       core.DefaultMiningReward,
	MiningWorkers:      1,
	MiningTimeout:      0,
	Miner:              "",
	AutoMine:           false,
	AutoMineInterval:   2 * time.Second,
	RPCAddr:            "127.0.0.1",
	RPCPort:            8545,
	EnableCache:        true,
	CacheTTL:           5 * time.Minute,
	DBCache:            16,
	DBHandles:          64,
	LogLevel:           "info",
	LogFormat:          "text",
}

// DefaultConfig is an exported version of defaultConfig, allowing other packages
// to access the default values, for example, when setting up CLI flags.
var DefaultConfig = defaultConfig

// SetDefaults registers every key with v. AutomaticEnv only overrides keys
// viper already knows, so without this POWLEDGER_* variables for keys that
// have no flag would be ignored by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig
	v.SetDefault("datadir", d.DataDir)
	v.SetDefault("difficulty", d.Difficulty)
	v.SetDefault("target_block_time", d.TargetBlockTime)
	v.SetDefault("adjustment_interval", d.AdjustmentInterval)
	v.SetDefault("mining_reward", d.MiningReward)
	v.SetDefault("genesis_transaction", d.GenesisTransaction)
	v.SetDefault("mining_workers", d.MiningWorkers)
	v.SetDefault("mining_timeout", d.MiningTimeout)
	v.SetDefault("miner", d.Miner)
	v.SetDefault("auto_mine", d.AutoMine)
	v.SetDefault("auto_mine_interval", d.AutoMineInterval)
	v.SetDefault("rpcaddr", d.RPCAddr)
	v.SetDefault("rpcport", d.RPCPort)
	v.SetDefault("enable_cache", d.EnableCache)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("db_cache", d.DBCache)
	v.SetDefault("db_handles", d.DBHandles)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// LoadConfig loads configuration from file, environment variables, and flags.
func LoadConfig() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v over the defaults, validates the result and creates
// the data directory.
func LoadFrom(v *viper.Viper) (*Config, error) {
	currentConfig := DefaultConfig

	if err := v.Unmarshal(&currentConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from Viper: %v", err)
	}

	logger.Debugf("Effective config: DataDir='%s', Difficulty=%d, TargetBlockTime=%v, AdjustmentInterval=%d, MiningReward=%v, Workers=%d, RPC=%s:%d, LogLevel='%s'",
		currentConfig.DataDir, currentConfig.Difficulty, currentConfig.TargetBlockTime, currentConfig.AdjustmentInterval,
		currentConfig.MiningReward, currentConfig.MiningWorkers, currentConfig.RPCAddr, currentConfig.RPCPort, currentConfig.LogLevel)

	if err := validateAndCreateDirs(&currentConfig); err != nil {
		return nil, fmt.Errorf("config validation and directory creation failed: %v", err)
	}

	return &currentConfig, nil
}

func validateAndCreateDirs(config *Config) error {
	config.DataDir = strings.TrimSpace(config.DataDir)
	if config.DataDir == "" {
		return fmt.Errorf("datadir cannot be empty")
	}
	if err := os.MkdirAll(config.GetDataSubDir("chaindata"), 0755); err != nil {
		return fmt.Errorf("failed to create data directory '%s': %v", config.DataDir, err)
	}

	if config.Difficulty < consensus.MinDifficulty || config.Difficulty > consensus.MaxDifficulty {
		return fmt.Errorf("invalid difficulty: %d. Must be between %d and %d", config.Difficulty, consensus.MinDifficulty, consensus.MaxDifficulty)
	}
	if config.TargetBlockTime <= 0 {
		return fmt.Errorf("invalid target_block_time: %v. Must be positive", config.TargetBlockTime)
	}
	if config.AdjustmentInterval < 1 {
		return fmt.Errorf("invalid adjustment_interval: %d. Must be at least 1", config.AdjustmentInterval)
	}
	if config.MiningReward < 0 {
		return fmt.Errorf("invalid mining_reward: %v. Must not be negative", config.MiningReward)
	}
	if config.RPCPort <= 0 || config.RPCPort > 65535 {
		return fmt.Errorf("invalid RPC port: %d. Must be between 1 and 65535", config.RPCPort)
	}

	if config.MiningWorkers < 1 {
		logger.Warningf("mining_workers is invalid (%d), using default: %d", config.MiningWorkers, DefaultConfig.MiningWorkers)
		config.MiningWorkers = DefaultConfig.MiningWorkers
	}
	if config.MiningTimeout < 0 {
		logger.Warningf("mining_timeout is negative (%v), disabling it", config.MiningTimeout)
		config.MiningTimeout = 0
	}
	if config.AutoMineInterval <= 0 {
		logger.Warningf("auto_mine_interval is invalid (%v), using default: %v", config.AutoMineInterval, DefaultConfig.AutoMineInterval)
		config.AutoMineInterval = DefaultConfig.AutoMineInterval
	}
	if config.AutoMine && config.Miner == "" {
		logger.Warning("auto_mine is enabled but no miner address is set. Auto mining will not start.")
	}
	if config.CacheTTL <= 0 && config.EnableCache {
		logger.Warningf("cache_ttl is invalid (%v), using default: %v", config.CacheTTL, DefaultConfig.CacheTTL)
		config.CacheTTL = DefaultConfig.CacheTTL
	}
	if config.DBCache <= 0 {
		logger.Warningf("LevelDB cache size is invalid (%d MB), using default: %d MB", config.DBCache, DefaultConfig.DBCache)
		config.DBCache = DefaultConfig.DBCache
	}
	if config.DBHandles <= 0 {
		logger.Warningf("LevelDB handles count is invalid (%d), using default: %d", config.DBHandles, DefaultConfig.DBHandles)
		config.DBHandles = DefaultConfig.DBHandles
	}

	return nil
}

// LedgerConfig is the policy for a ledger created from scratch.
func (c *Config) LedgerConfig() core.Config {
	// viper lowercases nested map keys, so addresses are seeded with
	// init-balance instead of the config file.
	return core.Config{
		Difficulty:         c.Difficulty,
		TargetBlockTime:    c.TargetBlockTime,
		AdjustmentInterval: c.AdjustmentInterval,
		MiningReward:       c.MiningReward,
		InitialBalances:    map[string]float64{},
		GenesisTransaction: c.GenesisTransaction,
	}
}

func (c *Config) GetLogLevel() logger.LogLevel {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "trace":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warn", "warning":
		return logger.WARNING
	case "error":
		return logger.ERROR
	case "fatal":
		return logger.FATAL
	default:
		logger.Warningf("Unknown log_level '%s', defaulting to INFO", c.LogLevel)
		return logger.INFO
	}
}

func (c *Config) GetDataSubDir(subdir string) string {
	return filepath.Join(c.DataDir, subdir)
}

// ChainDataDir is where the LevelDB store lives.
func (c *Config) ChainDataDir() string {
	return c.GetDataSubDir("chaindata")
}
