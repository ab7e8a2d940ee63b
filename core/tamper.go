package core

import "fmt"

// BlockTamper edits a committed block in place. It exists so tests and
// diagnostics can simulate corruption; ledger code never uses it.
type BlockTamper struct {
	block *Block
}

func (t *BlockTamper) SetHash(hash string)          { t.block.hash = hash }
func (t *BlockTamper) SetPreviousHash(prev string)  { t.block.previousHash = prev }
func (t *BlockTamper) SetNonce(nonce uint64)        { t.block.nonce = nonce }
func (t *BlockTamper) SetDifficulty(difficulty int) { t.block.difficulty = difficulty }
func (t *BlockTamper) SetTimestamp(ts float64) {
	t.block.timestampText = literalFor(ts, t.block.timestampText)
	t.block.timestamp = ts
}
func (t *BlockTamper) SetPayload(payload Payload) { t.block.payload = payload }

// SetTransactionAmount rewrites one transaction's amount and keeps its
// original id, the way an attacker editing stored data would.
func (t *BlockTamper) SetTransactionAmount(i int, amount float64) error {
	if t.block.payload.kind != PayloadTransactions {
		return fmt.Errorf("block %d carries a legacy payload", t.block.index)
	}
	txs := t.block.payload.transactions
	if i < 0 || i >= len(txs) {
		return fmt.Errorf("block %d has no transaction %d", t.block.index, i)
	}
	edited := *txs[i]
	edited.amountText = literalFor(amount, edited.amountText)
	edited.amount = amount
	cp := make([]*Transaction, len(txs))
	copy(cp, txs)
	cp[i] = &edited
	t.block.payload.transactions = cp
	return nil
}

// TamperBlock runs fn against the committed block at index.
func (bc *Blockchain) TamperBlock(index int, fn func(t *BlockTamper)) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if index < 0 || index >= len(bc.chain) {
		return &NotFoundError{What: "block", Key: fmt.Sprint(index)}
	}
	fn(&BlockTamper{block: bc.chain[index]})
	bc.invalidateBalances()
	return nil
}
