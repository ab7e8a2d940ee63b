package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pow-ledger/core"

	"github.com/pterm/pterm"
)

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func short(hash string, n int) string {
	if len(hash) <= n {
		return hash
	}
	return hash[:n] + "..."
}

func unixTime(ts float64) string {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).Local().Format("2006-01-02 15:04:05")
}

func legacyText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func renderTable(header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}

func transactionRows(txs []*core.Transaction, withID bool) [][]string {
	rows := make([][]string, 0, len(txs))
	for i, tx := range txs {
		row := []string{strconv.Itoa(i + 1), tx.Sender(), tx.Receiver(), amount(tx.Amount())}
		if withID {
			row = append(row, short(tx.ID(), 16), unixTime(tx.Timestamp()))
		}
		rows = append(rows, row)
	}
	return rows
}

func transactionHeader(withID bool) []string {
	header := []string{"#", "Sender", "Receiver", "Amount"}
	if withID {
		header = append(header, "ID", "Time")
	}
	return header
}

// printBlock writes one block of the chain view.
func printBlock(b *core.Block, detail bool) error {
	pterm.DefaultSection.WithLevel(2).Printfln("Block #%d", b.GetIndex())
	pterm.Printfln("  Timestamp: %s", unixTime(b.GetTimestamp()))
	pterm.Printfln("  Hash:      %s", pterm.LightCyan(b.GetHash()))
	if detail {
		pterm.Printfln("  Previous:  %s", b.GetPreviousHash())
		pterm.Printfln("  Nonce:     %d", b.GetNonce())
		pterm.Printfln("  Difficulty: %d", b.GetDifficulty())
	}

	payload := b.Payload()
	switch payload.Kind() {
	case core.PayloadTransactions:
		txs := payload.Transactions()
		pterm.Printfln("  Transactions (%d):", len(txs))
		if len(txs) == 0 {
			return nil
		}
		return renderTable(transactionHeader(detail), transactionRows(txs, detail))
	default:
		if payload.Legacy() != nil {
			pterm.Printfln("  Data: %s", legacyText(payload.Legacy()))
		}
	}
	return nil
}

func printFailure(f *core.ChainIntegrityFailure) {
	pterm.Error.Printfln("Block #%d failed the %s check", f.BlockIndex, f.Check)
	if f.Reason != "" {
		pterm.Printfln("   Reason:   %s", f.Reason)
	}
	if f.Expected != "" || f.Actual != "" {
		pterm.Printfln("   Expected: %s", f.Expected)
		pterm.Printfln("   Actual:   %s", f.Actual)
	}
}
