package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings" // Diperlukan untuk SetEnvKeyReplacer

	"pow-ledger/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "powledger",
	Short: "Proof-of-work ledger",
	Long: `powledger keeps an append-only proof-of-work ledger of value transfers
between named accounts, stored in LevelDB under the data directory.

Examples:
  powledger init-balance Alice 100
  powledger transaction Alice Bob 50
  powledger mine Miner1
  powledger view --detail
  powledger validate --verbose`,
	SilenceUsage:  true,
	SilenceErrors: true, // main mencetak error
}

// Execute menambahkan semua perintah anak ke perintah root.
// Dipanggil oleh main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(initBalanceCmd, transactionCmd, mineCmd, viewCmd, detailsCmd, summaryCmd,
		balanceCmd, historyCmd, validateCmd, statsCmd, pendingCmd, resetCmd,
		exportCmd, importCmd, serveCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.powledger/config.yaml or ./config.yaml)")

	// Default di sini hanya untuk help text; viper.Unmarshal memakai config.DefaultConfig.
	flags := rootCmd.PersistentFlags()
	flags.String("datadir", config.DefaultConfig.DataDir, "Data directory for the ledger store")
	flags.String("log_level", config.DefaultConfig.LogLevel, "Logging level (debug, info, warn, error, fatal)")
	flags.String("log_format", config.DefaultConfig.LogFormat, "Log output format (text, json)")
	flags.Int("difficulty", config.DefaultConfig.Difficulty, "Initial difficulty for a new ledger (1-8)")
	flags.Int("mining_workers", config.DefaultConfig.MiningWorkers, "Parallel nonce search workers")
	flags.Duration("mining_timeout", config.DefaultConfig.MiningTimeout, "Abort a single mining attempt after this long (0 = never)")
	flags.Bool("genesis_transaction", config.DefaultConfig.GenesisTransaction, "Start a new ledger with a transaction genesis block")

	for _, name := range []string{"datadir", "log_level", "log_format", "difficulty", "mining_workers", "mining_timeout", "genesis_transaction"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initConfig membaca file konfigurasi dan variabel ENV jika ada.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".powledger"))
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())
	viper.AutomaticEnv()
	viper.SetEnvPrefix("POWLEDGER") // misalnya POWLEDGER_DATADIR
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		fmt.Fprintf(os.Stderr, "Error reading config file '%s': %s\n", viper.ConfigFileUsed(), err)
	}
}
