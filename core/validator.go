package core

import (
	"fmt"
)

// balanceSheet is a running address -> balance view used for replays.
type balanceSheet map[string]float64

func newBalanceSheet(initial map[string]float64) balanceSheet {
	sheet := make(balanceSheet, len(initial))
	for addr, amount := range initial {
		sheet[addr] = amount
	}
	return sheet
}

func (s balanceSheet) apply(tx *Transaction) {
	s[tx.sender] -= tx.amount
	s[tx.receiver] += tx.amount
}

func (s balanceSheet) applyBlock(b *Block) {
	if b.payload.kind != PayloadTransactions {
		return
	}
	for _, tx := range b.payload.transactions {
		s.apply(tx)
	}
}

// Validator checks transactions and blocks against a balance replay.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTransaction re-checks structure and that the stored id still matches.
func (v *Validator) ValidateTransaction(tx *Transaction) error {
	if tx == nil {
		return &ValidationError{Reason: "transaction is nil"}
	}
	if ok, reason := tx.IsValid(); !ok {
		return &ValidationError{Field: "transaction " + tx.id, Reason: reason}
	}
	if recomputed := tx.CalculateHash(); recomputed != tx.id {
		return &ValidationError{Field: "transaction_id", Reason: fmt.Sprintf("stored id %s does not match content hash %s", tx.id, recomputed)}
	}
	return nil
}

// ValidateBlock simulates the block's transactions in order on top of sheet.
// sheet is advanced in place, so a later transaction may spend funds credited
// earlier in the same block. Legacy blocks carry no transfers.
func (v *Validator) ValidateBlock(sheet balanceSheet, b *Block) error {
	if b.payload.kind != PayloadTransactions {
		return nil
	}
	for i, tx := range b.payload.transactions {
		if err := v.ValidateTransaction(tx); err != nil {
			return &InvalidBlockError{Index: b.index, Reason: fmt.Sprintf("transaction %d rejected", i), Err: err}
		}
		if tx.sender != SystemAddress && sheet[tx.sender] < tx.amount {
			return &InvalidBlockError{
				Index:  b.index,
				Reason: fmt.Sprintf("transaction %d overspends", i),
				Err:    &InsufficientBalanceError{Address: tx.sender, Available: sheet[tx.sender], Required: tx.amount},
			}
		}
		sheet.apply(tx)
	}
	return nil
}
