package core

import (
	"errors"
	"sync"
)

var ErrDuplicateTransaction = errors.New("transaction already exists in mempool")

// Mempool holds submitted transactions in arrival order until they are mined.
type Mempool struct {
	transactions []*Transaction
	byID         map[string]struct{}
	mu           sync.RWMutex
}

func NewMempool() *Mempool {
	return &Mempool{
		byID: make(map[string]struct{}),
	}
}

func (mp *Mempool) AddTransaction(tx *Transaction) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.byID[tx.ID()]; exists {
		return ErrDuplicateTransaction
	}
	mp.transactions = append(mp.transactions, tx)
	mp.byID[tx.ID()] = struct{}{}
	return nil
}

func (mp *Mempool) GetTransaction(id string) *Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	for _, tx := range mp.transactions {
		if tx.ID() == id {
			return tx
		}
	}
	return nil
}

// GetPendingTransactions returns a snapshot in arrival order.
func (mp *Mempool) GetPendingTransactions() []*Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]*Transaction, len(mp.transactions))
	copy(txs, mp.transactions)
	return txs
}

func (mp *Mempool) Clear() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.transactions = nil
	mp.byID = make(map[string]struct{})
}

// Replace swaps the whole pool, used when loading persisted state. Records
// are kept as given, repeated ids included; the id index only guards later
// AddTransaction calls.
func (mp *Mempool) Replace(txs []*Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.transactions = make([]*Transaction, len(txs))
	copy(mp.transactions, txs)
	mp.byID = make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		mp.byID[tx.ID()] = struct{}{}
	}
}

func (mp *Mempool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.transactions)
}
