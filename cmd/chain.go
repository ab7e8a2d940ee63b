package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pow-ledger/consensus"
	"pow-ledger/core"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var mineCmd = &cobra.Command{
	Use:   "mine <miner>",
	Short: "Mine the pending transactions into a new block",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, _ *cobra.Command, s *session, args []string) error {
		pendingCount := len(s.bc.PendingTransactions())
		if pendingCount == 0 {
			pterm.Warning.Println("No pending transactions to mine")
			return nil
		}

		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Mining %d transaction(s) at difficulty %d...", pendingCount, s.bc.Difficulty()))
		mineCtx, cancel := s.miningContext(ctx)
		defer cancel()

		start := time.Now()
		block, err := s.bc.MinePendingTransactions(mineCtx, args[0])
		if err != nil {
			if spinner != nil {
				spinner.Fail("Mining failed")
			}
			if errors.Is(err, consensus.ErrMiningCancelled) {
				return fmt.Errorf("mining aborted, the pending pool is unchanged: %w", err)
			}
			return err
		}
		if spinner != nil {
			spinner.Success(fmt.Sprintf("Block #%d mined", block.GetIndex()))
		}

		pterm.Printfln("   Hash:         %s", short(block.GetHash(), 32))
		pterm.Printfln("   Nonce:        %d", block.GetNonce())
		pterm.Printfln("   Transactions: %d", len(block.Transactions()))
		pterm.Printfln("   Mining time:  %.2fs", time.Since(start).Seconds())
		pterm.Printfln("   Reward sent to: %s", args[0])
		return nil
	}),
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the whole chain",
	Args:  cobra.NoArgs,
	RunE: withSession(func(_ context.Context, cmd *cobra.Command, s *session, _ []string) error {
		detail, _ := cmd.Flags().GetBool("detail")

		pterm.DefaultHeader.WithFullWidth().Println("LEDGER")
		pterm.Printfln("Total blocks: %d", s.bc.Len())
		pterm.Printfln("Difficulty: %d", s.bc.Difficulty())
		pterm.Printfln("Pending transactions: %d", len(s.bc.PendingTransactions()))

		for _, b := range s.bc.Blocks() {
			if err := printBlock(b, detail); err != nil {
				return err
			}
		}
		return nil
	}),
}

var detailsCmd = &cobra.Command{
	Use:   "details <index>",
	Short: "Show the transactions of one block",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(_ context.Context, _ *cobra.Command, s *session, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return &core.ValidationError{Field: "index", Reason: "block index must be an integer"}
		}
		block, err := s.bc.GetBlock(index)
		if err != nil {
			return err
		}
		return printBlock(block, true)
	}),
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show ledger totals and policy",
	Args:  cobra.NoArgs,
	RunE: withSession(func(_ context.Context, _ *cobra.Command, s *session, _ []string) error {
		params := s.bc.Params()
		var txCount, legacy int
		var volume float64
		for _, b := range s.bc.Blocks() {
			if b.Payload().Kind() == core.PayloadLegacy {
				legacy++
				continue
			}
			for _, tx := range b.Transactions() {
				txCount++
				if tx.Sender() != core.SystemAddress {
					volume += tx.Amount()
				}
			}
		}

		valid := pterm.LightGreen("valid")
		if s.bc.VerifyChain() != nil {
			valid = pterm.LightRed("INVALID")
		}
		return renderTable([]string{"Property", "Value"}, [][]string{
			{"Blocks", strconv.Itoa(s.bc.Len())},
			{"Legacy blocks", strconv.Itoa(legacy)},
			{"Confirmed transactions", strconv.Itoa(txCount)},
			{"Transfer volume", money(volume)},
			{"Pending transactions", strconv.Itoa(len(s.bc.PendingTransactions()))},
			{"Difficulty", strconv.Itoa(params.Difficulty)},
			{"Target block time", amount(params.TargetBlockTime) + "s"},
			{"Adjustment interval", strconv.Itoa(params.AdjustmentInterval)},
			{"Mining reward", amount(params.MiningReward)},
			{"Funded accounts", strconv.Itoa(len(params.InitialBalances))},
			{"Chain", valid},
		})
	}),
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify hashes, proof of work, linkage and balances",
	Args:  cobra.NoArgs,
	RunE: withSession(func(_ context.Context, cmd *cobra.Command, s *session, _ []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		pterm.Info.Println("Validating ledger...")

		if !s.bc.IsChainValid(verbose) {
			if verbose {
				printFailure(s.bc.VerifyChain())
			}
			return errors.New("ledger validation failed: chain integrity compromised")
		}
		pterm.Success.Println("Ledger is valid")
		pterm.Printfln("   Total blocks: %d", s.bc.Len())
		pterm.Printfln("   Current difficulty: %d", s.bc.Difficulty())
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show mining statistics",
	Args:  cobra.NoArgs,
	RunE: withSession(func(_ context.Context, _ *cobra.Command, s *session, _ []string) error {
		stats, ok := s.bc.GetMiningStats()
		if !ok {
			pterm.Warning.Println("Not enough data for statistics")
			return nil
		}

		err := renderTable([]string{"Metric", "Value"}, [][]string{
			{"Total blocks", strconv.Itoa(stats.TotalBlocks)},
			{"Current difficulty", strconv.Itoa(stats.CurrentDifficulty)},
			{"Average difficulty", fmt.Sprintf("%.2f", stats.AverageDifficulty)},
			{"Target block time", amount(stats.TargetBlockTime) + "s"},
			{"Average block time", fmt.Sprintf("%.2fs", stats.AverageBlockTime)},
			{"Min block time", fmt.Sprintf("%.2fs", stats.MinBlockTime)},
			{"Max block time", fmt.Sprintf("%.2fs", stats.MaxBlockTime)},
		})
		if err != nil {
			return err
		}

		ratio := stats.AverageBlockTime / stats.TargetBlockTime
		switch {
		case ratio < 0.8:
			pterm.Info.Println("Mining too fast")
		case ratio > 1.2:
			pterm.Info.Println("Mining too slow")
		default:
			pterm.Success.Println("Mining on target")
		}
		return nil
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the stored ledger and start from a new genesis block",
	Args:  cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			pterm.Warning.Println("This will reset the ledger to a new genesis block!")
			pterm.Println("   Use --confirm to proceed")
			return nil
		}
		if err := s.reset(ctx); err != nil {
			return err
		}
		pterm.Success.Println("Ledger reset to genesis block")
		return nil
	}),
}

func init() {
	viewCmd.Flags().Bool("detail", false, "Show hashes, nonces and transaction ids")
	validateCmd.Flags().Bool("verbose", false, "Log every check")
	resetCmd.Flags().Bool("confirm", false, "Confirm the reset")
}
