package cmd

import (
	"context"
	"errors"

	"pow-ledger/core"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the ledger to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(_ context.Context, _ *cobra.Command, s *session, args []string) error {
		if err := s.bc.ExportToFile(args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Ledger exported to %s", args[0])
		pterm.Printfln("   Total blocks: %d", s.bc.Len())
		pterm.Printfln("   Pending transactions: %d", len(s.bc.PendingTransactions()))
		return nil
	}),
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the stored ledger with a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(_ context.Context, _ *cobra.Command, s *session, args []string) error {
		imported, err := core.ImportFromFile(args[0])
		if err != nil {
			if errors.Is(err, core.ErrSourceNotFound) {
				pterm.Error.Printfln("File not found: %s", args[0])
			}
			return err
		}
		if err := s.replaceWith(imported.Document()); err != nil {
			return err
		}

		pterm.Success.Printfln("Ledger imported from %s", args[0])
		pterm.Printfln("   Total blocks: %d", s.bc.Len())
		pterm.Printfln("   Pending transactions: %d", len(s.bc.PendingTransactions()))
		pterm.Printfln("   Difficulty: %d", s.bc.Difficulty())
		if s.bc.IsChainValid(false) {
			pterm.Printfln("   Validation: %s", pterm.LightGreen("VALID"))
		} else {
			pterm.Printfln("   Validation: %s", pterm.LightRed("INVALID - chain may be corrupted"))
		}
		return nil
	}),
}
