package database

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"pow-ledger/core"

	"github.com/syndtr/goleveldb/leveldb"
)

var (
	blockPrefix = []byte("b")
	pendingKey  = []byte("pending")
	paramsKey   = []byte("params")
)

// blockKey is keyed by chain position, not by the block's recorded index,
// so a chain with repeated or out-of-order indices loads back unchanged.
func blockKey(position int) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], uint64(position))
	return key
}

// ChainStore persists a ledger in a Database. It implements core.Persister:
// every ledger write lands here first, one batch per call.
type ChainStore struct {
	db Database
}

func NewChainStore(db Database) *ChainStore {
	return &ChainStore{db: db}
}

// OpenChainStore opens (or creates) a LevelDB-backed store at path.
func OpenChainStore(path string, o Options) (*ChainStore, error) {
	db, err := NewLevelDB(path, o)
	if err != nil {
		return nil, fmt.Errorf("failed to open chain database at %s: %w", path, err)
	}
	return NewChainStore(db), nil
}

func (s *ChainStore) Close() error {
	return s.db.Close()
}

func (s *ChainStore) CommitBlock(position int, block core.BlockRecord, pending []core.TransactionRecord, params core.ParamsRecord) error {
	if position < 0 {
		return fmt.Errorf("invalid block position %d", position)
	}
	batch := new(leveldb.Batch)
	if err := putJSON(batch, blockKey(position), block); err != nil {
		return err
	}
	if err := putJSON(batch, pendingKey, nonNil(pending)); err != nil {
		return err
	}
	if err := putJSON(batch, paramsKey, params); err != nil {
		return err
	}
	return s.db.Write(batch)
}

func (s *ChainStore) SavePending(pending []core.TransactionRecord) error {
	data, err := json.Marshal(nonNil(pending))
	if err != nil {
		return err
	}
	return s.db.Put(pendingKey, data)
}

func (s *ChainStore) SaveParams(params core.ParamsRecord) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.db.Put(paramsKey, data)
}

// Load reassembles the stored ledger as a document. ok is false when the
// store holds no ledger yet.
func (s *ChainStore) Load() (doc *core.Document, ok bool, err error) {
	rawParams, err := s.db.Get(paramsKey)
	if err != nil {
		return nil, false, err
	}
	if rawParams == nil {
		return nil, false, nil
	}

	var params core.ParamsRecord
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, false, fmt.Errorf("corrupt params record: %w", err)
	}
	doc = &core.Document{
		Difficulty:         &params.Difficulty,
		TargetBlockTime:    &params.TargetBlockTime,
		AdjustmentInterval: &params.AdjustmentInterval,
		MiningReward:       &params.MiningReward,
		InitialBalances:    params.InitialBalances,
	}

	err = s.db.ForEach(blockPrefix, func(key, value []byte) error {
		var rec core.BlockRecord
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber() // legacy payload keeps its literal numbers
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("corrupt block record %x: %w", key, err)
		}
		doc.Blocks = append(doc.Blocks, rec)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	rawPending, err := s.db.Get(pendingKey)
	if err != nil {
		return nil, false, err
	}
	if rawPending != nil {
		if err := json.Unmarshal(rawPending, &doc.PendingTransactions); err != nil {
			return nil, false, fmt.Errorf("corrupt pending record: %w", err)
		}
	}
	return doc, true, nil
}

// Reset replaces the whole store content with doc. A nil doc empties it.
func (s *ChainStore) Reset(doc *core.Document) error {
	batch := new(leveldb.Batch)
	err := s.db.ForEach(nil, func(key, _ []byte) error {
		batch.Delete(key)
		return nil
	})
	if err != nil {
		return err
	}

	if doc != nil {
		for i, rec := range doc.Blocks {
			if err := putJSON(batch, blockKey(i), rec); err != nil {
				return err
			}
		}
		if err := putJSON(batch, pendingKey, nonNil(doc.PendingTransactions)); err != nil {
			return err
		}
		if err := putJSON(batch, paramsKey, paramsOf(doc)); err != nil {
			return err
		}
	}
	return s.db.Write(batch)
}

// OpenLedger restores the stored ledger, or creates a fresh one from cfg and
// persists its genesis when the store is empty. The store is wired in as
// the ledger's persister either way. created reports which path was taken.
func (s *ChainStore) OpenLedger(ctx context.Context, cfg core.Config, opts ...core.Option) (bc *core.Blockchain, created bool, err error) {
	doc, ok, err := s.Load()
	if err != nil {
		return nil, false, err
	}
	opts = append(opts, core.WithPersister(s))
	if ok {
		bc, err = core.FromDocument(doc, opts...)
		return bc, false, err
	}
	bc, err = core.NewBlockchain(ctx, cfg, opts...)
	return bc, true, err
}

// Replace stores a complete ledger, dropping whatever was there.
func (s *ChainStore) Replace(bc *core.Blockchain) error {
	return s.Reset(bc.Document())
}

func paramsOf(doc *core.Document) core.ParamsRecord {
	p := core.ParamsRecord{
		Difficulty:         core.DefaultDifficulty,
		TargetBlockTime:    core.DefaultTargetBlockTime,
		AdjustmentInterval: core.DefaultAdjustmentInterval,
		MiningReward:       core.DefaultMiningReward,
		InitialBalances:    doc.InitialBalances,
	}
	if doc.Difficulty != nil {
		p.Difficulty = *doc.Difficulty
	}
	if doc.TargetBlockTime != nil {
		p.TargetBlockTime = *doc.TargetBlockTime
	}
	if doc.AdjustmentInterval != nil {
		p.AdjustmentInterval = *doc.AdjustmentInterval
	}
	if doc.MiningReward != nil {
		p.MiningReward = *doc.MiningReward
	}
	if p.InitialBalances == nil {
		p.InitialBalances = map[string]float64{}
	}
	return p
}

func putJSON(batch *leveldb.Batch, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	batch.Put(key, data)
	return nil
}

func nonNil(txs []core.TransactionRecord) []core.TransactionRecord {
	if txs == nil {
		return []core.TransactionRecord{}
	}
	return txs
}
