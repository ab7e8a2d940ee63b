package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Defaults applied to a document that omits the policy fields.
const (
	DefaultDifficulty         = 2
	DefaultTargetBlockTime    = 10.0
	DefaultAdjustmentInterval = 5
	DefaultMiningReward       = 10.0
)

// Document is the exported ledger: policy, chain and pending pool.
type Document struct {
	Difficulty          *int                `json:"difficulty"`
	TargetBlockTime     *float64            `json:"target_block_time"`
	AdjustmentInterval  *int                `json:"adjustment_interval"`
	MiningReward        *float64            `json:"mining_reward"`
	InitialBalances     map[string]float64  `json:"initial_balances"`
	Blocks              []BlockRecord       `json:"blocks"`
	PendingTransactions []TransactionRecord `json:"pending_transactions"`
}

// Document snapshots the ledger.
func (bc *Blockchain) Document() *Document {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	params := bc.paramsLocked(bc.difficulty)
	doc := &Document{
		Difficulty:          &params.Difficulty,
		TargetBlockTime:     &params.TargetBlockTime,
		AdjustmentInterval:  &params.AdjustmentInterval,
		MiningReward:        &params.MiningReward,
		InitialBalances:     params.InitialBalances,
		Blocks:              make([]BlockRecord, len(bc.chain)),
		PendingTransactions: transactionRecords(bc.mempool.GetPendingTransactions()),
	}
	for i, b := range bc.chain {
		doc.Blocks[i] = b.Record()
	}
	return doc
}

// ToJSON renders the document. indent <= 0 produces compact output.
func (bc *Blockchain) ToJSON(indent int) ([]byte, error) {
	doc := bc.Document()
	var (
		data []byte
		err  error
	)
	if indent > 0 {
		data, err = json.MarshalIndent(doc, "", strings.Repeat(" ", indent))
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return nil, &ImportExportError{Reason: "failed to encode ledger", Err: err}
	}
	return data, nil
}

// ExportTo writes the indented document to w.
func (bc *Blockchain) ExportTo(w io.Writer) error {
	data, err := bc.ToJSON(2)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return &ImportExportError{Reason: "failed to write ledger", Err: err}
	}
	return nil
}

// ExportToFile writes the document atomically through a temp file and rename.
func (bc *Blockchain) ExportToFile(path string) error {
	data, err := bc.ToJSON(2)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &ImportExportError{Path: path, Reason: "failed to create export directory", Err: err}
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &ImportExportError{Path: path, Reason: "failed to write ledger file", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &ImportExportError{Path: path, Reason: "failed to replace ledger file", Err: err}
	}

	bc.emit(EventLedgerExported, map[string]interface{}{
		"path":    path,
		"blocks":  bc.Len(),
		"pending": bc.mempool.Size(),
	})
	return nil
}

// Import decodes a document and builds a new ledger from it. The chain is
// restored verbatim and not re-validated; call IsChainValid afterwards.
func Import(r io.Reader, opts ...Option) (*Blockchain, error) {
	doc, err := DecodeDocument(r)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, opts...)
}

// ImportFromFile imports the document stored at path.
func ImportFromFile(path string, opts ...Option) (*Blockchain, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ImportExportError{Path: path, Reason: "ledger file not found", Err: errors.Join(ErrSourceNotFound, err)}
		}
		return nil, &ImportExportError{Path: path, Reason: "failed to open ledger file", Err: err}
	}
	defer f.Close()

	bc, err := Import(f, opts...)
	if err != nil {
		var ie *ImportExportError
		if errors.As(err, &ie) && ie.Path == "" {
			ie.Path = path
		}
		return nil, err
	}
	return bc, nil
}

// DecodeDocument parses a document. Legacy payload numbers keep their
// literal text so that re-hashing reproduces the stored hash.
func DecodeDocument(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ImportExportError{Reason: "failed to read ledger", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ImportExportError{Reason: "ledger document is empty"}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, &ImportExportError{Reason: "malformed ledger document", Err: err}
	}
	return &doc, nil
}

// FromDocument builds a ledger from doc, applying defaults for missing policy
// fields. It fails without side effects on any malformed block.
func FromDocument(doc *Document, opts ...Option) (*Blockchain, error) {
	if doc == nil {
		return nil, &ImportExportError{Reason: "ledger document is empty"}
	}

	bc := newBlockchain(opts)
	bc.difficulty = DefaultDifficulty
	bc.targetBlockTime = DefaultTargetBlockTime
	bc.adjustmentInterval = DefaultAdjustmentInterval
	bc.miningReward = DefaultMiningReward
	if doc.Difficulty != nil {
		bc.difficulty = *doc.Difficulty
	}
	if doc.TargetBlockTime != nil {
		bc.targetBlockTime = *doc.TargetBlockTime
	}
	if doc.AdjustmentInterval != nil {
		bc.adjustmentInterval = *doc.AdjustmentInterval
	}
	if doc.MiningReward != nil {
		bc.miningReward = *doc.MiningReward
	}

	cfg := Config{
		Difficulty:         bc.difficulty,
		TargetBlockTime:    bc.targetBlockTime,
		AdjustmentInterval: bc.adjustmentInterval,
		MiningReward:       bc.miningReward,
		InitialBalances:    doc.InitialBalances,
	}
	if err := cfg.validate(); err != nil {
		return nil, &ImportExportError{Reason: "invalid ledger policy", Err: err}
	}
	for addr, amount := range doc.InitialBalances {
		bc.initialBalances[addr] = amount
	}

	bc.chain = make([]*Block, 0, len(doc.Blocks))
	for i, rec := range doc.Blocks {
		b, err := blockFromRecord(i, rec)
		if err != nil {
			return nil, err
		}
		bc.chain = append(bc.chain, b)
	}

	pending := make([]*Transaction, 0, len(doc.PendingTransactions))
	for _, rec := range doc.PendingTransactions {
		pending = append(pending, restoreTransaction(rec))
	}
	bc.mempool.Replace(pending)

	bc.emit(EventLedgerImported, map[string]interface{}{
		"blocks":     len(bc.chain),
		"pending":    len(pending),
		"difficulty": bc.difficulty,
	})
	return bc, nil
}
