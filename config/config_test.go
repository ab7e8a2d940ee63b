package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pow-ledger/logger"

	"github.com/spf13/viper"
)

func TestLoadFromDefaults(t *testing.T) {
	v := viper.New()
	dir := filepath.Join(t.TempDir(), "data")
	v.Set("datadir", dir)

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Difficulty != 2 || cfg.TargetBlockTime != 10 || cfg.AdjustmentInterval != 5 || cfg.MiningReward != 10 {
		t.Errorf("policy defaults = %+v", cfg)
	}
	if _, err := os.Stat(cfg.ChainDataDir()); err != nil {
		t.Errorf("chaindata dir not created: %v", err)
	}

	ledger := cfg.LedgerConfig()
	if ledger.Difficulty != cfg.Difficulty || ledger.InitialBalances == nil || ledger.GenesisTransaction {
		t.Errorf("LedgerConfig() = %+v", ledger)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
datadir: ` + filepath.Join(dir, "ledger") + `
difficulty: 3
target_block_time: 2.5
mining_workers: 4
mining_timeout: 1500ms
genesis_transaction: true
rpcport: 9000
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Difficulty != 3 || cfg.TargetBlockTime != 2.5 || cfg.MiningWorkers != 4 || cfg.RPCPort != 9000 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.MiningTimeout != 1500*time.Millisecond {
		t.Errorf("MiningTimeout = %v, want 1.5s", cfg.MiningTimeout)
	}
	if !cfg.LedgerConfig().GenesisTransaction {
		t.Error("genesis_transaction not carried into the ledger config")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("POWLEDGER_DIFFICULTY", "4")
	t.Setenv("POWLEDGER_DATADIR", filepath.Join(t.TempDir(), "env"))

	v := viper.New()
	v.SetEnvPrefix("POWLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Difficulty != 4 {
		t.Errorf("Difficulty = %d, want 4", cfg.Difficulty)
	}
}

func TestEnvironmentReachesUnflaggedKeys(t *testing.T) {
	t.Setenv("POWLEDGER_MINING_REWARD", "2.5")
	t.Setenv("POWLEDGER_AUTO_MINE_INTERVAL", "750ms")
	t.Setenv("POWLEDGER_DATADIR", filepath.Join(t.TempDir(), "env"))

	v := viper.New()
	v.SetEnvPrefix("POWLEDGER")
	v.AutomaticEnv()
	SetDefaults(v)

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.MiningReward != 2.5 || cfg.AutoMineInterval != 750*time.Millisecond {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.RPCPort != DefaultConfig.RPCPort {
		t.Errorf("RPCPort = %d, want default", cfg.RPCPort)
	}
}

func TestLoadFromRejectsBadValues(t *testing.T) {
	tests := []struct {
		key   string
		value interface{}
	}{
		{"difficulty", 0},
		{"difficulty", 9},
		{"target_block_time", 0},
		{"adjustment_interval", 0},
		{"mining_reward", -1},
		{"rpcport", 70000},
		{"datadir", "  "},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := viper.New()
			v.Set("datadir", filepath.Join(t.TempDir(), "d"))
			v.Set(tt.key, tt.value)
			if _, err := LoadFrom(v); err == nil {
				t.Errorf("LoadFrom() with %s=%v succeeded, want error", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromRepairsSoftValues(t *testing.T) {
	v := viper.New()
	v.Set("datadir", filepath.Join(t.TempDir(), "d"))
	v.Set("mining_workers", 0)
	v.Set("db_cache", -1)
	v.Set("auto_mine_interval", "0s")

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.MiningWorkers != 1 || cfg.DBCache != DefaultConfig.DBCache || cfg.AutoMineInterval != DefaultConfig.AutoMineInterval {
		t.Errorf("soft values not repaired: %+v", cfg)
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"error":   logger.ERROR,
		"fatal":   logger.FATAL,
		"verbose": logger.INFO,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			c := &Config{LogLevel: in}
			if got := c.GetLogLevel(); got != want {
				t.Errorf("GetLogLevel(%q) = %v, want %v", in, got, want)
			}
		})
	}
}
