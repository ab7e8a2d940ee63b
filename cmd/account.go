package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"pow-ledger/core"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// withSession opens the stored ledger for the duration of one command.
// Ctrl+C cancels ctx, which aborts any mining in progress.
func withSession(fn func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(ctx, cmd, s, args)
	}
}

var initBalanceCmd = &cobra.Command{
	Use:   "init-balance <address> <amount>",
	Short: "Set the initial balance of an address",
	Args:  cobra.ExactArgs(2),
	RunE: withSession(func(_ context.Context, _ *cobra.Command, s *session, args []string) error {
		address := args[0]
		value, err := core.ParseAmount(args[1])
		if err != nil {
			return err
		}
		if prev, ok := s.bc.Params().InitialBalances[address]; ok {
			pterm.Warning.Printfln("%s already has an initial balance of %s, updating to %s", address, amount(prev), amount(value))
		}
		if err := s.bc.SetInitialBalance(address, value); err != nil {
			return err
		}
		pterm.Success.Printfln("Set initial balance: %s = %s", address, amount(value))
		return nil
	}),
}

var transactionCmd = &cobra.Command{
	Use:   "transaction <sender> <receiver> <amount>",
	Short: "Add a transfer to the pending pool",
	Args:  cobra.ExactArgs(3),
	RunE: withSession(func(_ context.Context, _ *cobra.Command, s *session, args []string) error {
		value, err := core.ParseAmount(args[2])
		if err != nil {
			return err
		}
		tx, err := s.bc.CreateTransaction(args[0], args[1], value)
		if err != nil {
			return err
		}
		pterm.Success.Println("Transaction created")
		pterm.Printfln("   %s -> %s: %s", tx.Sender(), tx.Receiver(), amount(tx.Amount()))
		pterm.Printfln("   Transaction ID: %s", short(tx.ID(), 16))
		pterm.Printfln("   Pending transactions: %d", len(s.bc.PendingTransactions()))
		return nil
	}),
}

var balanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Show the balance of an address",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(_ context.Context, cmd *cobra.Command, s *session, args []string) error {
		address := args[0]
		includePending, _ := cmd.Flags().GetBool("pending")
		balance := s.bc.GetBalance(address, includePending)

		pterm.DefaultSection.Printfln("Balance for %s", address)
		pterm.Printfln("   %s", money(balance))
		if includePending {
			confirmed := s.bc.GetBalance(address, false)
			if confirmed != balance {
				pterm.Printfln("   Confirmed: %s", money(confirmed))
				pterm.Printfln("   Pending:   %+.2f", balance-confirmed)
			}
		}
		switch {
		case balance < 0:
			pterm.Warning.Println("Negative balance")
		case balance == 0:
			pterm.Info.Println("Zero balance")
		}
		return nil
	}),
}

var historyCmd = &cobra.Command{
	Use:   "history <address>",
	Short: "List confirmed transactions of an address",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(_ context.Context, _ *cobra.Command, s *session, args []string) error {
		address := args[0]
		history := s.bc.GetTransactionHistory(address)
		if len(history) == 0 {
			pterm.Info.Printfln("No transaction history for %s", address)
			return nil
		}

		pterm.DefaultSection.Printfln("Transaction history for %s", address)
		rows := make([][]string, 0, len(history))
		for _, entry := range history {
			tx := entry.Transaction
			direction, other, signed := "<-", tx.Sender(), "+"+money(tx.Amount())
			if tx.Sender() == address {
				direction, other, signed = "->", tx.Receiver(), "-"+money(tx.Amount())
			}
			rows = append(rows, []string{strconv.Itoa(entry.BlockIndex), direction, other, signed})
		}
		return renderTable([]string{"Block", "Dir", "Counterparty", "Amount"}, rows)
	}),
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending transactions",
	Args:  cobra.NoArgs,
	RunE: withSession(func(_ context.Context, cmd *cobra.Command, s *session, _ []string) error {
		if discard, _ := cmd.Flags().GetBool("discard"); discard {
			n, err := s.bc.DiscardPending()
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Discarded %d pending transaction(s)", n)
			return nil
		}

		pending := s.bc.PendingTransactions()
		if len(pending) == 0 {
			pterm.Info.Println("No pending transactions")
			return nil
		}

		pterm.DefaultSection.Printfln("Pending transactions (%d)", len(pending))
		if err := renderTable(transactionHeader(false), transactionRows(pending, false)); err != nil {
			return err
		}
		var total float64
		for _, tx := range pending {
			total += tx.Amount()
		}
		pterm.Printfln("Total volume: %s", money(total))
		return nil
	}),
}

func init() {
	balanceCmd.Flags().Bool("pending", false, "Include pending transactions")
	pendingCmd.Flags().Bool("discard", false, "Drop every pending transaction, e.g. a pool that can no longer be mined")
}
