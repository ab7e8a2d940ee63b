package interfaces

import (
	"context"
	"time"
)

// BlockHeaderItf is the read-only view the difficulty controller needs.
type BlockHeaderItf interface {
	GetIndex() int
	GetTimestamp() float64
	GetDifficulty() int
}

// BlockConsensusItf is a block that can be sealed by an Engine.
type BlockConsensusItf interface {
	BlockHeaderItf
	GetHash() string
	// NonceHasher returns a function computing the block hash for a candidate nonce.
	// Payload serialization happens once, before the search starts.
	NonceHasher() (func(nonce uint64) string, error)
}

// Seal is the result of a successful nonce search.
type Seal struct {
	Nonce    uint64
	Hash     string
	Attempts uint64
	Elapsed  time.Duration
}

// Engine interface
type Engine interface {
	MineBlock(ctx context.Context, block BlockConsensusItf) (*Seal, error)
	ValidateProofOfWork(block BlockConsensusItf) bool
	CalculateDifficulty(current int, window []BlockHeaderItf, targetBlockTime float64) int
}
