package core

import "math"

// HistoryEntry is a confirmed transaction touching an address.
type HistoryEntry struct {
	BlockIndex  int          `json:"block"`
	Transaction *Transaction `json:"-"`
}

// GetTransactionHistory lists every confirmed transaction sent or received by
// address, in chain order.
func (bc *Blockchain) GetTransactionHistory(address string) []HistoryEntry {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	var history []HistoryEntry
	for _, b := range bc.chain {
		if b.payload.kind != PayloadTransactions {
			continue
		}
		for _, tx := range b.payload.transactions {
			if tx.sender == address || tx.receiver == address {
				history = append(history, HistoryEntry{BlockIndex: b.index, Transaction: tx})
			}
		}
	}
	return history
}

// MiningStats summarizes inter-block times and difficulty over the chain.
type MiningStats struct {
	TotalBlocks       int     `json:"total_blocks"`
	AverageBlockTime  float64 `json:"avg_block_time"`
	MinBlockTime      float64 `json:"min_block_time"`
	MaxBlockTime      float64 `json:"max_block_time"`
	CurrentDifficulty int     `json:"current_difficulty"`
	AverageDifficulty float64 `json:"avg_difficulty"`
	TargetBlockTime   float64 `json:"target_block_time"`
}

// GetMiningStats needs at least two blocks; the genesis block contributes no
// block time and its difficulty is not averaged.
func (bc *Blockchain) GetMiningStats() (*MiningStats, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if len(bc.chain) < 2 {
		return nil, false
	}

	stats := &MiningStats{
		TotalBlocks:       len(bc.chain),
		MinBlockTime:      math.Inf(1),
		MaxBlockTime:      math.Inf(-1),
		CurrentDifficulty: bc.difficulty,
		TargetBlockTime:   bc.targetBlockTime,
	}
	var totalTime, totalDifficulty float64
	for i := 1; i < len(bc.chain); i++ {
		delta := bc.chain[i].timestamp - bc.chain[i-1].timestamp
		totalTime += delta
		stats.MinBlockTime = math.Min(stats.MinBlockTime, delta)
		stats.MaxBlockTime = math.Max(stats.MaxBlockTime, delta)
		totalDifficulty += float64(bc.chain[i].difficulty)
	}
	n := float64(len(bc.chain) - 1)
	stats.AverageBlockTime = totalTime / n
	stats.AverageDifficulty = totalDifficulty / n
	return stats, true
}
