package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"pow-ledger/cache"
	"pow-ledger/consensus"
	"pow-ledger/interfaces"
)

// GenesisData is the legacy payload of a default genesis block.
const GenesisData = "Genesis Block"

// Config carries the policy of a new ledger.
type Config struct {
	Difficulty         int
	TargetBlockTime    float64 // seconds
	AdjustmentInterval int     // blocks
	MiningReward       float64
	InitialBalances    map[string]float64
	// GenesisTransaction makes block 0 carry a System -> Genesis transfer of 0
	// instead of the legacy "Genesis Block" literal.
	GenesisTransaction bool
}

func DefaultConfig() Config {
	return Config{
		Difficulty:         2,
		TargetBlockTime:    10,
		AdjustmentInterval: 5,
		MiningReward:       10,
		InitialBalances:    map[string]float64{},
	}
}

func (c Config) validate() error {
	if c.Difficulty < consensus.MinDifficulty || c.Difficulty > consensus.MaxDifficulty {
		return &ValidationError{Field: "difficulty", Reason: fmt.Sprintf("must be between %d and %d", consensus.MinDifficulty, consensus.MaxDifficulty)}
	}
	if !(c.TargetBlockTime > 0) || math.IsInf(c.TargetBlockTime, 0) {
		return &ValidationError{Field: "target_block_time", Reason: "must be positive"}
	}
	if c.AdjustmentInterval < 1 {
		return &ValidationError{Field: "adjustment_interval", Reason: "must be at least 1"}
	}
	if c.MiningReward < 0 || math.IsNaN(c.MiningReward) || math.IsInf(c.MiningReward, 0) {
		return &ValidationError{Field: "mining_reward", Reason: "must be a non-negative number"}
	}
	for addr, amount := range c.InitialBalances {
		if err := checkInitialBalance(addr, amount); err != nil {
			return err
		}
	}
	return nil
}

// ParamsRecord is the persisted policy state.
type ParamsRecord struct {
	Difficulty         int                `json:"difficulty"`
	TargetBlockTime    float64            `json:"target_block_time"`
	AdjustmentInterval int                `json:"adjustment_interval"`
	MiningReward       float64            `json:"mining_reward"`
	InitialBalances    map[string]float64 `json:"initial_balances"`
}

// Persister mirrors ledger writes into durable storage. Each call happens
// before the in-memory state changes; an error aborts the write. position is
// the block's slot in the chain, which an imported chain may not share with
// its recorded index.
type Persister interface {
	CommitBlock(position int, block BlockRecord, pending []TransactionRecord, params ParamsRecord) error
	SavePending(pending []TransactionRecord) error
	SaveParams(params ParamsRecord) error
}

// Blockchain is the ledger: the chain, the pending pool and the policy
// state. Writers take the exclusive lock for the whole read-check-mutate
// sequence, readers share the read lock.
type Blockchain struct {
	chain              []*Block
	mempool            *Mempool
	difficulty         int
	targetBlockTime    float64
	adjustmentInterval int
	miningReward       float64
	initialBalances    map[string]float64

	engine    interfaces.Engine
	validator *Validator
	sink      EventSink
	persister Persister
	cache     *cache.Cache
	cacheTTL  time.Duration
	clock     func() float64

	mu sync.RWMutex
}

type Option func(*Blockchain)

func WithEventSink(sink EventSink) Option {
	return func(bc *Blockchain) {
		if sink != nil {
			bc.sink = sink
		}
	}
}

// WithEngine replaces the default single-worker proof of work.
func WithEngine(engine interfaces.Engine) Option {
	return func(bc *Blockchain) {
		if engine != nil {
			bc.engine = engine
		}
	}
}

func WithPersister(p Persister) Option {
	return func(bc *Blockchain) { bc.persister = p }
}

// WithClock overrides the unix-seconds clock used for timestamps.
func WithClock(clock func() float64) Option {
	return func(bc *Blockchain) {
		if clock != nil {
			bc.clock = clock
		}
	}
}

// WithBalanceCache memoizes confirmed balances. A nil cache disables it.
func WithBalanceCache(c *cache.Cache, ttl time.Duration) Option {
	return func(bc *Blockchain) {
		bc.cache = c
		bc.cacheTTL = ttl
	}
}

func newBlockchain(opts []Option) *Blockchain {
	bc := &Blockchain{
		mempool:         NewMempool(),
		initialBalances: map[string]float64{},
		engine:          consensus.NewProofOfWork(1),
		validator:       NewValidator(),
		sink:            NopSink{},
		cache:           cache.NewCache(0),
		cacheTTL:        cache.DefaultTTL,
		clock:           nowSeconds,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// NewBlockchain creates a ledger and mines its genesis block.
func NewBlockchain(ctx context.Context, cfg Config, opts ...Option) (*Blockchain, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	bc := newBlockchain(opts)
	bc.difficulty = cfg.Difficulty
	bc.targetBlockTime = cfg.TargetBlockTime
	bc.adjustmentInterval = cfg.AdjustmentInterval
	bc.miningReward = cfg.MiningReward
	for addr, amount := range cfg.InitialBalances {
		bc.initialBalances[addr] = amount
	}

	genesis, err := bc.CreateGenesisBlock(ctx, cfg.GenesisTransaction)
	if err != nil {
		return nil, err
	}
	if bc.persister != nil {
		if err := bc.persister.CommitBlock(0, genesis.Record(), nil, bc.paramsLocked(bc.difficulty)); err != nil {
			return nil, &ImportExportError{Reason: "failed to persist genesis block", Err: err}
		}
	}
	bc.chain = []*Block{genesis}
	bc.emit(EventBlockMined, map[string]interface{}{
		"index":      0,
		"hash":       genesis.hash,
		"nonce":      genesis.nonce,
		"difficulty": genesis.difficulty,
	})
	return bc, nil
}

// CreateGenesisBlock builds and mines a block 0 at the current difficulty.
// It does not touch the chain.
func (bc *Blockchain) CreateGenesisBlock(ctx context.Context, withTransaction bool) (*Block, error) {
	now := bc.clock()
	payload := LegacyPayload(GenesisData)
	if withTransaction {
		tx, err := NewTransactionAt(SystemAddress, "Genesis", 0, now)
		if err != nil {
			return nil, err
		}
		payload = TransactionsPayload([]*Transaction{tx})
	}

	genesis, err := NewBlock(0, now, payload, GenesisPreviousHash, bc.difficulty)
	if err != nil {
		return nil, err
	}
	if _, err := genesis.mineWith(ctx, bc.engine); err != nil {
		return nil, err
	}
	return genesis, nil
}

// GetLatestBlock returns the chain tail, nil for an empty imported chain.
func (bc *Blockchain) GetLatestBlock() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.latestLocked()
}

func (bc *Blockchain) latestLocked() *Block {
	if len(bc.chain) == 0 {
		return nil
	}
	return bc.chain[len(bc.chain)-1]
}

// AdjustDifficulty returns the difficulty the next block will be mined at.
// The retarget itself is applied when that block commits, so repeated calls
// at one chain length never move difficulty more than one step.
func (bc *Blockchain) AdjustDifficulty() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.nextDifficultyLocked()
}

// nextDifficultyLocked only retargets on interval boundaries, using the
// timestamps of the last adjustmentInterval blocks.
func (bc *Blockchain) nextDifficultyLocked() int {
	n := len(bc.chain)
	interval := bc.adjustmentInterval
	if interval < 1 || n < interval || n%interval != 0 {
		return bc.difficulty
	}
	window := make([]interfaces.BlockHeaderItf, 0, interval)
	for _, b := range bc.chain[n-interval:] {
		window = append(window, b)
	}
	return bc.engine.CalculateDifficulty(bc.difficulty, window, bc.targetBlockTime)
}

func (bc *Blockchain) setDifficultyLocked(next int) {
	if next == bc.difficulty {
		return
	}
	prev := bc.difficulty
	bc.difficulty = next
	bc.emit(EventDifficultyAdjusted, map[string]interface{}{
		"from":         prev,
		"to":           next,
		"chain_length": len(bc.chain),
	})
}

// CreateTransaction validates a transfer against the pending-inclusive
// balance of the sender and queues it.
func (bc *Blockchain) CreateTransaction(sender, receiver string, amount float64) (*Transaction, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tx, err := NewTransactionAt(sender, receiver, amount, bc.clock())
	if err != nil {
		bc.emitRejected(sender, receiver, amount, err)
		return nil, err
	}

	if sender != SystemAddress {
		available := bc.balanceLocked(sender, true)
		if available < amount {
			err := &InsufficientBalanceError{Address: sender, Available: available, Required: amount}
			bc.emitRejected(sender, receiver, amount, err)
			return nil, err
		}
	}

	if bc.persister != nil {
		pending := append(bc.mempool.GetPendingTransactions(), tx)
		if err := bc.persister.SavePending(transactionRecords(pending)); err != nil {
			return nil, &ImportExportError{Reason: "failed to persist pending transaction", Err: err}
		}
	}
	if err := bc.mempool.AddTransaction(tx); err != nil {
		verr := &ValidationError{Field: "transaction_id", Reason: err.Error()}
		bc.emitRejected(sender, receiver, amount, verr)
		return nil, verr
	}

	bc.emit(EventTransactionCreated, map[string]interface{}{
		"id":       tx.id,
		"sender":   sender,
		"receiver": receiver,
		"amount":   amount,
	})
	return tx, nil
}

func (bc *Blockchain) emitRejected(sender, receiver string, amount float64, err error) {
	bc.emit(EventTransactionRejected, map[string]interface{}{
		"sender":   sender,
		"receiver": receiver,
		"amount":   amount,
		"kind":     KindOf(err).String(),
		"error":    err.Error(),
	})
}

// MinePendingTransactions seals every pending transaction plus a reward for
// minerAddress into one block. It returns a nil block when the pool is empty.
//
// The whole pool goes into the block, so a pool that fails block validation
// (an imported one that overspends, or repeats an id) fails every attempt
// with an InvalidBlockError until DiscardPending empties it.
func (bc *Blockchain) MinePendingTransactions(ctx context.Context, minerAddress string) (*Block, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	pending := bc.mempool.GetPendingTransactions()
	if len(pending) == 0 {
		return nil, nil
	}
	if minerAddress == "" {
		return nil, &MiningError{Reason: "miner address is required"}
	}

	reward, err := NewTransactionAt(SystemAddress, minerAddress, bc.miningReward, bc.clock())
	if err != nil {
		return nil, &MiningError{Reason: "cannot create reward transaction", Err: err}
	}
	txs := append(pending, reward)

	block, elapsed, err := bc.sealLocked(ctx, TransactionsPayload(txs), true)
	if err != nil {
		return nil, err
	}
	bc.emit(EventBlockMined, map[string]interface{}{
		"index":      block.index,
		"hash":       block.hash,
		"nonce":      block.nonce,
		"difficulty": block.difficulty,
		"tx_count":   len(txs),
		"miner":      minerAddress,
		"elapsed":    elapsed.String(),
	})
	return block, nil
}

// DiscardPending drops every pending transaction and returns how many were
// dropped.
func (bc *Blockchain) DiscardPending() (int, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	n := bc.mempool.Size()
	if n == 0 {
		return 0, nil
	}
	if bc.persister != nil {
		if err := bc.persister.SavePending(nil); err != nil {
			return 0, &ImportExportError{Reason: "failed to persist pending pool", Err: err}
		}
	}
	bc.mempool.Clear()
	bc.emit(EventPendingDiscarded, map[string]interface{}{"count": n})
	return n, nil
}

// AddBlock mines payload onto the chain without touching the pending pool.
func (bc *Blockchain) AddBlock(ctx context.Context, payload Payload) (*Block, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	block, elapsed, err := bc.sealLocked(ctx, payload, false)
	if err != nil {
		return nil, err
	}
	bc.emit(EventBlockMined, map[string]interface{}{
		"index":      block.index,
		"hash":       block.hash,
		"nonce":      block.nonce,
		"difficulty": block.difficulty,
		"payload":    payload.kind.String(),
		"elapsed":    elapsed.String(),
	})
	return block, nil
}

// sealLocked is validate-inputs, mine, commit. Nothing changes unless every
// step succeeds.
func (bc *Blockchain) sealLocked(ctx context.Context, payload Payload, clearPool bool) (*Block, time.Duration, error) {
	difficulty := bc.nextDifficultyLocked()

	index, prevHash := 0, GenesisPreviousHash
	if last := bc.latestLocked(); last != nil {
		index, prevHash = last.index+1, last.hash
	}

	block, err := NewBlock(index, bc.clock(), payload, prevHash, difficulty)
	if err != nil {
		bc.emitBlockRejected(index, err)
		return nil, 0, err
	}

	sheet := bc.replayLocked(len(bc.chain))
	if err := bc.validator.ValidateBlock(sheet, block); err != nil {
		bc.emitBlockRejected(index, err)
		return nil, 0, err
	}

	elapsed, err := block.mineWith(ctx, bc.engine)
	if err != nil {
		bc.emit(EventMiningFailed, map[string]interface{}{
			"index":      index,
			"difficulty": difficulty,
			"error":      err.Error(),
		})
		return nil, 0, err
	}

	if err := bc.commitLocked(block, difficulty, clearPool); err != nil {
		return nil, 0, err
	}
	return block, elapsed, nil
}

func (bc *Blockchain) emitBlockRejected(index int, err error) {
	bc.emit(EventBlockRejected, map[string]interface{}{
		"index": index,
		"kind":  KindOf(err).String(),
		"error": err.Error(),
	})
}

func (bc *Blockchain) commitLocked(block *Block, difficulty int, clearPool bool) error {
	if bc.persister != nil {
		var pending []TransactionRecord
		if !clearPool {
			pending = transactionRecords(bc.mempool.GetPendingTransactions())
		}
		if err := bc.persister.CommitBlock(len(bc.chain), block.Record(), pending, bc.paramsLocked(difficulty)); err != nil {
			return &ImportExportError{Reason: fmt.Sprintf("failed to persist block %d", block.index), Err: err}
		}
	}

	bc.setDifficultyLocked(difficulty)
	bc.chain = append(bc.chain, block)
	if clearPool {
		bc.mempool.Clear()
	}
	bc.invalidateBalances()
	return nil
}

// GetBalance folds the initial balance and every confirmed transfer touching
// address, plus the pending pool when includePending is set.
func (bc *Blockchain) GetBalance(address string, includePending bool) float64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.balanceLocked(address, includePending)
}

func (bc *Blockchain) balanceLocked(address string, includePending bool) float64 {
	balance := bc.confirmedBalanceLocked(address)
	if includePending {
		for _, tx := range bc.mempool.GetPendingTransactions() {
			if tx.sender == address {
				balance -= tx.amount
			}
			if tx.receiver == address {
				balance += tx.amount
			}
		}
	}
	return balance
}

func (bc *Blockchain) confirmedBalanceLocked(address string) float64 {
	key := "balance:" + address
	if bc.cache != nil {
		if v, ok := bc.cache.Get(key); ok {
			return v.(float64)
		}
	}

	balance := bc.initialBalances[address]
	for _, b := range bc.chain {
		if b.payload.kind != PayloadTransactions {
			continue
		}
		for _, tx := range b.payload.transactions {
			if tx.sender == address {
				balance -= tx.amount
			}
			if tx.receiver == address {
				balance += tx.amount
			}
		}
	}

	if bc.cache != nil {
		bc.cache.Set(key, balance, bc.cacheTTL)
	}
	return balance
}

func (bc *Blockchain) invalidateBalances() {
	if bc.cache != nil {
		bc.cache.Clear()
	}
}

// replayLocked returns the balances after applying chain[:upto].
func (bc *Blockchain) replayLocked(upto int) balanceSheet {
	sheet := newBalanceSheet(bc.initialBalances)
	for _, b := range bc.chain[:upto] {
		sheet.applyBlock(b)
	}
	return sheet
}

// ValidateBlockTransactions replays balances up to the block's position and
// simulates its transactions in order.
func (bc *Blockchain) ValidateBlockTransactions(block *Block) error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	pos := -1
	for i, b := range bc.chain {
		if b == block {
			pos = i
			break
		}
	}
	if pos < 0 {
		pos = block.index
		if pos > len(bc.chain) {
			pos = len(bc.chain)
		}
		if pos < 0 {
			pos = 0
		}
	}
	return bc.validator.ValidateBlock(bc.replayLocked(pos), block)
}

// VerifyChain scans the chain and returns the first failure, or nil.
func (bc *Blockchain) VerifyChain() *ChainIntegrityFailure {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.verifyLocked()
}

func (bc *Blockchain) verifyLocked() *ChainIntegrityFailure {
	sheet := newBalanceSheet(bc.initialBalances)
	for i, b := range bc.chain {
		recomputed, err := b.CalculateHash()
		if err != nil {
			return &ChainIntegrityFailure{BlockIndex: i, Check: CheckHash, Reason: err.Error()}
		}
		if recomputed != b.hash {
			return &ChainIntegrityFailure{BlockIndex: i, Check: CheckHash, Expected: recomputed, Actual: b.hash, Reason: "stored hash does not match block content"}
		}

		if !bc.engine.ValidateProofOfWork(b) {
			return &ChainIntegrityFailure{
				BlockIndex: i,
				Check:      CheckProofOfWork,
				Expected:   fmt.Sprintf("%d leading zeros", b.difficulty),
				Actual:     b.hash,
				Reason:     "hash does not meet difficulty",
			}
		}

		wantPrev := GenesisPreviousHash
		if i > 0 {
			wantPrev = bc.chain[i-1].hash
		}
		if b.previousHash != wantPrev {
			return &ChainIntegrityFailure{BlockIndex: i, Check: CheckLinkage, Expected: wantPrev, Actual: b.previousHash, Reason: "previous hash does not link"}
		}

		if err := bc.validator.ValidateBlock(sheet, b); err != nil {
			return &ChainIntegrityFailure{BlockIndex: i, Check: CheckTransactions, Reason: err.Error()}
		}
	}
	return nil
}

// IsChainValid reports whether every block passes hash, proof of work,
// linkage and transaction checks. With verbose set the failing block and
// check are emitted as an event.
func (bc *Blockchain) IsChainValid(verbose bool) bool {
	failure := bc.VerifyChain()
	if failure == nil {
		bc.emit(EventChainValidated, map[string]interface{}{"blocks": bc.Len()})
		return true
	}

	fields := map[string]interface{}{"block": failure.BlockIndex}
	if verbose {
		fields["check"] = string(failure.Check)
		fields["reason"] = failure.Reason
		fields["expected"] = failure.Expected
		fields["actual"] = failure.Actual
	}
	bc.emit(EventChainInvalid, fields)
	return false
}

// SetInitialBalance seeds an address before replay.
func (bc *Blockchain) SetInitialBalance(address string, amount float64) error {
	if err := checkInitialBalance(address, amount); err != nil {
		return err
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.persister != nil {
		params := bc.paramsLocked(bc.difficulty)
		params.InitialBalances[address] = amount
		if err := bc.persister.SaveParams(params); err != nil {
			return &ImportExportError{Reason: "failed to persist initial balance", Err: err}
		}
	}
	bc.initialBalances[address] = amount
	bc.invalidateBalances()
	bc.emit(EventBalanceSet, map[string]interface{}{"address": address, "amount": amount})
	return nil
}

func checkInitialBalance(address string, amount float64) error {
	if address == "" {
		return &ValidationError{Field: "address", Reason: "address is required"}
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return &ValidationError{Field: "amount", Reason: "amount must be a number"}
	}
	if amount < 0 {
		return &ValidationError{Field: "amount", Reason: "balance cannot be negative"}
	}
	return nil
}

// Blocks returns the committed blocks in order.
func (bc *Blockchain) Blocks() []*Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	out := make([]*Block, len(bc.chain))
	copy(out, bc.chain)
	return out
}

func (bc *Blockchain) GetBlock(index int) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if index < 0 || index >= len(bc.chain) {
		return nil, &NotFoundError{What: "block", Key: fmt.Sprint(index)}
	}
	return bc.chain[index], nil
}

func (bc *Blockchain) Len() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.chain)
}

func (bc *Blockchain) Difficulty() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.difficulty
}

// Params returns a copy of the current policy.
func (bc *Blockchain) Params() ParamsRecord {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.paramsLocked(bc.difficulty)
}

func (bc *Blockchain) paramsLocked(difficulty int) ParamsRecord {
	balances := make(map[string]float64, len(bc.initialBalances))
	for addr, amount := range bc.initialBalances {
		balances[addr] = amount
	}
	return ParamsRecord{
		Difficulty:         difficulty,
		TargetBlockTime:    bc.targetBlockTime,
		AdjustmentInterval: bc.adjustmentInterval,
		MiningReward:       bc.miningReward,
		InitialBalances:    balances,
	}
}

func (bc *Blockchain) PendingTransactions() []*Transaction {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.mempool.GetPendingTransactions()
}

func (bc *Blockchain) GetMempool() *Mempool { return bc.mempool }

func (bc *Blockchain) GetConsensusEngine() interfaces.Engine { return bc.engine }

func (bc *Blockchain) emit(t EventType, fields map[string]interface{}) {
	safeEmit(bc.sink, Event{Type: t, Time: time.Now(), Fields: fields})
}

func transactionRecords(txs []*Transaction) []TransactionRecord {
	out := make([]TransactionRecord, len(txs))
	for i, tx := range txs {
		out[i] = tx.Record()
	}
	return out
}

// IsInsufficientBalance is a convenience for callers matching on kind.
func IsInsufficientBalance(err error) bool {
	var ibe *InsufficientBalanceError
	return errors.As(err, &ibe)
}
