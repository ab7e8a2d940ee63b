package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"pow-ledger/core"
	"pow-ledger/database"
	"pow-ledger/logger"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	pterm.DisableOutput()
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// resetFlags puts every flag back to its default; cobra keeps parsed values
// between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, dir string, args ...string) error {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	resetFlags(rootCmd)
	rootCmd.SetArgs(append([]string{"--datadir", dir, "--difficulty", "1"}, args...))
	return rootCmd.Execute()
}

func mustRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	if err := run(t, dir, args...); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
}

// stored reopens the ledger a command left behind.
func stored(t *testing.T, dir string) *core.Blockchain {
	t.Helper()
	store, err := database.OpenChainStore(filepath.Join(dir, "chaindata"), database.Options{})
	if err != nil {
		t.Fatalf("OpenChainStore() error = %v", err)
	}
	defer store.Close()
	doc, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	bc, err := core.FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument() error = %v", err)
	}
	return bc
}

func TestTransferAndMineFlow(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init-balance", "Alice", "100")
	mustRun(t, dir, "transaction", "Alice", "Bob", "50")
	mustRun(t, dir, "mine", "Miner1")

	bc := stored(t, dir)
	if bc.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", bc.Len())
	}
	for addr, want := range map[string]float64{"Alice": 50, "Bob": 50, "Miner1": 10} {
		if got := bc.GetBalance(addr, false); got != want {
			t.Errorf("GetBalance(%s) = %v, want %v", addr, got, want)
		}
	}
	if !bc.IsChainValid(false) {
		t.Errorf("stored chain invalid: %v", bc.VerifyChain())
	}

	for _, args := range [][]string{
		{"view"},
		{"view", "--detail"},
		{"details", "1"},
		{"summary"},
		{"balance", "Alice", "--pending"},
		{"history", "Bob"},
		{"pending"},
		{"stats"},
		{"validate", "--verbose"},
		{"mine", "Miner1"}, // empty pool is a warning, not an error
	} {
		if err := run(t, dir, args...); err != nil {
			t.Errorf("%v: %v", args, err)
		}
	}
	if got := stored(t, dir).Len(); got != 2 {
		t.Errorf("Len() after read-only commands = %d, want 2", got)
	}
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init-balance", "Alice", "10")

	tests := []struct {
		name string
		args []string
		kind core.ErrorKind
	}{
		{"overspend", []string{"transaction", "Alice", "Bob", "50"}, core.KindInsufficientBalance},
		{"bad amount", []string{"transaction", "Alice", "Bob", "lots"}, core.KindValidation},
		{"self transfer", []string{"transaction", "Alice", "Alice", "1"}, core.KindValidation},
		{"negative initial balance", []string{"init-balance", "Carol", "-5"}, core.KindValidation},
		{"unknown block", []string{"details", "7"}, core.KindNotFound},
		{"missing import", []string{"import", filepath.Join(dir, "nope.json")}, core.KindImportExport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(t, dir, tt.args...)
			if core.KindOf(err) != tt.kind {
				t.Errorf("error = %v, want kind %v", err, tt.kind)
			}
		})
	}

	if n := len(stored(t, dir).PendingTransactions()); n != 0 {
		t.Errorf("pending = %d after rejected commands, want 0", n)
	}
}

func TestMissingImportWrapsSourceNotFound(t *testing.T) {
	dir := t.TempDir()
	err := run(t, dir, "import", filepath.Join(dir, "missing.json"))
	if !errors.Is(err, core.ErrSourceNotFound) {
		t.Errorf("error = %v, want ErrSourceNotFound", err)
	}
}

func TestExportResetImport(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "out", "ledger.json")
	mustRun(t, dir, "init-balance", "Alice", "100")
	mustRun(t, dir, "transaction", "Alice", "Bob", "30")
	mustRun(t, dir, "mine", "Miner1")
	mustRun(t, dir, "transaction", "Bob", "Carol", "5")
	want := stored(t, dir).GetLatestBlock().GetHash()

	mustRun(t, dir, "export", file)

	mustRun(t, dir, "reset")
	if got := stored(t, dir).Len(); got != 2 {
		t.Fatalf("reset without --confirm changed the ledger: Len() = %d", got)
	}
	mustRun(t, dir, "reset", "--confirm")
	if bc := stored(t, dir); bc.Len() != 1 || len(bc.PendingTransactions()) != 0 {
		t.Fatalf("after reset Len() = %d pending = %d", bc.Len(), len(bc.PendingTransactions()))
	}

	mustRun(t, dir, "import", file)
	bc := stored(t, dir)
	if bc.Len() != 2 || bc.GetLatestBlock().GetHash() != want {
		t.Errorf("imported latest = %s, want %s", bc.GetLatestBlock().GetHash(), want)
	}
	if n := len(bc.PendingTransactions()); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
	if got := bc.GetBalance("Alice", false); got != 70 {
		t.Errorf("Alice = %v, want 70", got)
	}

	// The imported ledger keeps growing through the store.
	mustRun(t, dir, "mine", "Miner2")
	if got := stored(t, dir).GetBalance("Carol", false); got != 5 {
		t.Errorf("Carol = %v, want 5", got)
	}
}

func TestValidateReportsTamperedStore(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init-balance", "Alice", "100")
	mustRun(t, dir, "transaction", "Alice", "Bob", "50")
	mustRun(t, dir, "mine", "Miner1")

	store, err := database.OpenChainStore(filepath.Join(dir, "chaindata"), database.Options{})
	if err != nil {
		t.Fatal(err)
	}
	doc, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	doc.Blocks[1].Transactions[0].Amount = 5000
	if err := store.Reset(doc); err != nil {
		t.Fatal(err)
	}
	store.Close()

	if err := run(t, dir, "validate", "--verbose"); err == nil {
		t.Error("validate succeeded on a tampered ledger")
	}
	if err := run(t, dir, "summary"); err != nil {
		t.Errorf("summary on a tampered ledger: %v", err)
	}
}

func TestOpenSessionHonoursCacheSetting(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init-balance", "Alice", "1")

	resetFlags(rootCmd)
	rootCmd.SetArgs([]string{"--datadir", dir, "balance", "Alice"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}

	s, err := openSession(context.Background())
	if err != nil {
		t.Fatalf("openSession() error = %v", err)
	}
	defer s.Close()
	if s.cache == nil {
		t.Error("balance cache not created with enable_cache on")
	}
	if got := s.bc.GetBalance("Alice", false); got != 1 {
		t.Errorf("Alice = %v, want 1", got)
	}
}

func TestPendingDiscard(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init-balance", "Alice", "100")
	mustRun(t, dir, "transaction", "Alice", "Bob", "40")
	mustRun(t, dir, "pending", "--discard")

	bc := stored(t, dir)
	if n := len(bc.PendingTransactions()); n != 0 {
		t.Errorf("pending = %d after --discard, want 0", n)
	}
	if got := bc.GetBalance("Alice", true); got != 100 {
		t.Errorf("Alice = %v, want 100", got)
	}
}
