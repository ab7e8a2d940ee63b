package consensus

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pow-ledger/interfaces"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// Difficulty bounds and retarget band.
const (
	MinDifficulty = 1
	MaxDifficulty = 8

	// Average block time below Target*RaiseBelow makes the next block harder,
	// above Target*LowerAbove makes it easier.
	RaiseBelow = 0.75
	LowerAbove = 1.5

	// DefaultCheckInterval is how many hashes a worker computes between cancellation checks.
	DefaultCheckInterval = 4096
)

var (
	ErrMiningCancelled = errors.New("mining cancelled")
	ErrNonceExhausted  = errors.New("nonce space exhausted")
)

// ProofOfWork seals blocks by searching for a nonce whose SHA-256 hex digest
// starts with difficulty zero digits.
type ProofOfWork struct {
	workers       int
	checkInterval uint64
}

// NewProofOfWork creates a PoW engine. One worker reproduces the plain
// sequential search starting at nonce 0.
func NewProofOfWork(workers int) *ProofOfWork {
	if workers < 1 {
		workers = 1
	}
	return &ProofOfWork{
		workers:       workers,
		checkInterval: DefaultCheckInterval,
	}
}

// SetCheckInterval changes how often workers look at the context.
func (pow *ProofOfWork) SetCheckInterval(n uint64) {
	if n == 0 {
		n = 1
	}
	pow.checkInterval = n
}

func (pow *ProofOfWork) Workers() int { return pow.workers }

// MineBlock searches the nonce space until a hash meets the block's difficulty
// or ctx is done. Workers stride the nonce space; the first hit wins.
func (pow *ProofOfWork) MineBlock(ctx context.Context, block interfaces.BlockConsensusItf) (*interfaces.Seal, error) {
	hasher, err := block.NonceHasher()
	if err != nil {
		return nil, err
	}
	difficulty := block.GetDifficulty()
	target := Target(difficulty)
	if target == nil {
		return nil, errors.New("difficulty out of range")
	}

	startTime := time.Now()
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		seal     *interfaces.Seal
		attempts atomic.Uint64
	)

	g, gctx := errgroup.WithContext(searchCtx)
	stride := uint64(pow.workers)
	for w := 0; w < pow.workers; w++ {
		first := uint64(w)
		g.Go(func() error {
			var local uint64
			defer func() { attempts.Add(local) }()

			for nonce := first; ; nonce += stride {
				hash := hasher(nonce)
				local++
				if meetsTarget(hash, target) {
					once.Do(func() {
						seal = &interfaces.Seal{Nonce: nonce, Hash: hash}
						cancel()
					})
					return nil
				}
				if nonce > ^uint64(0)-stride {
					return ErrNonceExhausted
				}
				if local%pow.checkInterval == 0 {
					select {
					case <-gctx.Done():
						return nil
					default:
					}
				}
			}
		})
	}
	werr := g.Wait()

	if seal != nil {
		seal.Attempts = attempts.Load()
		seal.Elapsed = time.Since(startTime)
		return seal, nil
	}
	if ctx.Err() != nil {
		return nil, errors.Join(ErrMiningCancelled, ctx.Err())
	}
	if werr != nil {
		return nil, werr
	}
	return nil, ErrMiningCancelled
}

// ValidateProofOfWork checks the stored hash against the block's own difficulty.
func (pow *ProofOfWork) ValidateProofOfWork(block interfaces.BlockConsensusItf) bool {
	return MeetsDifficulty(block.GetHash(), block.GetDifficulty())
}

// CalculateDifficulty averages the inter-block deltas of window and moves
// current by at most one step.
func (pow *ProofOfWork) CalculateDifficulty(current int, window []interfaces.BlockHeaderItf, targetBlockTime float64) int {
	if len(window) < 2 || targetBlockTime <= 0 {
		return clamp(current)
	}

	var total float64
	for i := 1; i < len(window); i++ {
		total += window[i].GetTimestamp() - window[i-1].GetTimestamp()
	}
	avg := total / float64(len(window)-1)
	ratio := avg / targetBlockTime

	next := current
	switch {
	case ratio < RaiseBelow:
		next = current + 1
	case ratio > LowerAbove:
		next = current - 1
	}
	return clamp(next)
}

func clamp(d int) int {
	if d < MinDifficulty {
		return MinDifficulty
	}
	if d > MaxDifficulty {
		return MaxDifficulty
	}
	return d
}

// Target returns 2^(256-4*difficulty): a hash has difficulty leading zero hex
// digits exactly when it is below this value. Nil when no hash can qualify.
func Target(difficulty int) *uint256.Int {
	if difficulty > 64 {
		return nil
	}
	if difficulty <= 0 {
		return new(uint256.Int).SetAllOne()
	}
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(256-4*difficulty))
}

// MeetsDifficulty reports whether hash is a 64 digit hex SHA-256 digest with
// at least difficulty leading zero digits.
func MeetsDifficulty(hash string, difficulty int) bool {
	target := Target(difficulty)
	if target == nil {
		return false
	}
	return meetsTarget(hash, target)
}

func meetsTarget(hash string, target *uint256.Int) bool {
	if len(hash) != 64 {
		return false
	}
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	value := new(uint256.Int).SetBytes(raw)
	if target.Eq(new(uint256.Int).SetAllOne()) {
		return true
	}
	return value.Lt(target)
}
