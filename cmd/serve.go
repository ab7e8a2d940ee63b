package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pow-ledger/config"
	"pow-ledger/core"
	"pow-ledger/logger"
	"pow-ledger/rpc"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ledger over HTTP",
	Long:  `Serve the ledger over a JSON-RPC and REST API, optionally mining pending transactions in the background.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("rpcaddr", config.DefaultConfig.RPCAddr, "HTTP listen address (0.0.0.0 to listen on all interfaces)")
	flags.Int("rpcport", config.DefaultConfig.RPCPort, "HTTP listen port")
	flags.Bool("auto_mine", config.DefaultConfig.AutoMine, "Mine pending transactions in the background")
	flags.String("miner", config.DefaultConfig.Miner, "Address receiving background mining rewards")
	flags.Duration("auto_mine_interval", config.DefaultConfig.AutoMineInterval, "Background mining interval")

	for _, name := range []string{"rpcaddr", "rpcport", "auto_mine", "miner", "auto_mine_interval"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	feed := core.NewFeedSink()
	s, err := openSession(ctx, feed)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("Closing ledger store...")
		s.Close()
	}()
	cfg := s.cfg

	logger.Info("Starting ledger server...")
	logger.Infof("Effective Configuration: DataDir=%s, RPC=%s:%d, Difficulty=%d, Workers=%d, AutoMine=%t, Miner=%s, LogLevel=%s",
		cfg.DataDir, cfg.RPCAddr, cfg.RPCPort, s.bc.Difficulty(), cfg.MiningWorkers, cfg.AutoMine, cfg.Miner, cfg.LogLevel)

	if !s.bc.IsChainValid(true) {
		logger.Warning("Stored ledger failed validation; serving it anyway so it can be inspected")
	}

	rpcServer := rpc.NewServer(&rpc.Config{
		Host:          cfg.RPCAddr,
		Port:          cfg.RPCPort,
		MiningTimeout: cfg.MiningTimeout,
	}, s.bc, feed)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("failed to start RPC server: %v", err)
	}

	if cfg.AutoMine {
		if cfg.Miner == "" {
			logger.Warning("Auto mining enabled but no miner address specified. Mining will not start.")
		} else {
			rpcServer.Mining().StartMiner(cfg.Miner, cfg.AutoMineInterval)
		}
	} else {
		logger.Info("Background mining is disabled.")
	}

	logger.Info("Ledger server started successfully. Press Ctrl+C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Infof("Received signal: %v, initiating shutdown...", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown...")
	}
	cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := rpcServer.Stop(shutdownCtx); err != nil {
			logger.Errorf("RPC server graceful shutdown error: %v", err)
		}
	}()

	shutdownCompleted := make(chan struct{})
	go func() {
		wg.Wait()
		close(shutdownCompleted)
	}()

	select {
	case <-shutdownCompleted:
		logger.Info("All services stopped gracefully.")
	case <-time.After(10 * time.Second):
		logger.Warning("Timeout waiting for services to stop. Forcing exit.")
	}

	logger.Info("Ledger server stopped.")
	return nil
}
