package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pow-ledger/consensus"
	"pow-ledger/interfaces"
)

// GenesisPreviousHash is the previous-hash sentinel of block 0.
const GenesisPreviousHash = "0"

// PayloadKind tags what a block carries.
type PayloadKind int

const (
	PayloadTransactions PayloadKind = iota
	PayloadLegacy
)

func (k PayloadKind) String() string {
	if k == PayloadLegacy {
		return "legacy"
	}
	return "transactions"
}

// Payload is either an ordered transaction list or an opaque legacy value.
// The caller picks the variant; nothing is inferred from the value's shape.
type Payload struct {
	kind         PayloadKind
	transactions []*Transaction
	legacy       interface{}
}

func TransactionsPayload(txs []*Transaction) Payload {
	cp := make([]*Transaction, len(txs))
	copy(cp, txs)
	return Payload{kind: PayloadTransactions, transactions: cp}
}

func LegacyPayload(v interface{}) Payload {
	return Payload{kind: PayloadLegacy, legacy: v}
}

func (p Payload) Kind() PayloadKind { return p.kind }

// Transactions returns a copy of the list, nil for legacy payloads.
func (p Payload) Transactions() []*Transaction {
	if p.kind != PayloadTransactions {
		return nil
	}
	cp := make([]*Transaction, len(p.transactions))
	copy(cp, p.transactions)
	return cp
}

func (p Payload) Legacy() interface{} { return p.legacy }

func (p Payload) hashString() (string, error) {
	if p.kind == PayloadLegacy {
		return legacyString(p.legacy)
	}
	forms := make([]interface{}, len(p.transactions))
	for i, tx := range p.transactions {
		forms[i] = tx.hashForm()
	}
	return canonicalJSON(forms)
}

// Block is sealed by mining and read-only once committed.
type Block struct {
	index         int
	timestamp     float64
	timestampText string
	previousHash  string
	difficulty    int
	nonce         uint64
	hash          string
	payload       Payload
}

// NewBlock builds an unsealed block. Its hash is computed for nonce 0 and is
// only valid once Mine succeeds.
func NewBlock(index int, timestamp float64, payload Payload, previousHash string, difficulty int) (*Block, error) {
	b := &Block{
		index:         index,
		timestamp:     timestamp,
		timestampText: formatNumber(timestamp),
		previousHash:  previousHash,
		difficulty:    difficulty,
		payload:       payload,
	}
	hash, err := b.CalculateHash()
	if err != nil {
		return nil, err
	}
	b.hash = hash
	return b, nil
}

func (b *Block) GetIndex() int           { return b.index }
func (b *Block) GetTimestamp() float64   { return b.timestamp }
func (b *Block) GetPreviousHash() string { return b.previousHash }
func (b *Block) GetDifficulty() int      { return b.difficulty }
func (b *Block) GetNonce() uint64        { return b.nonce }
func (b *Block) GetHash() string         { return b.hash }
func (b *Block) Payload() Payload        { return b.payload }

// Transactions is a shortcut for Payload().Transactions().
func (b *Block) Transactions() []*Transaction { return b.payload.Transactions() }

// CalculateHash recomputes the hash from the current fields.
func (b *Block) CalculateHash() (string, error) {
	hasher, err := b.NonceHasher()
	if err != nil {
		return "", err
	}
	return hasher(b.nonce), nil
}

// NonceHasher serializes the payload once and returns the hash function of the nonce.
func (b *Block) NonceHasher() (func(nonce uint64) string, error) {
	data, err := b.payload.hashString()
	if err != nil {
		return nil, &InvalidBlockError{Index: b.index, Reason: "payload serialization failed", Err: err}
	}
	prefix := strconv.Itoa(b.index) + b.timestampText + data + b.previousHash
	return func(nonce uint64) string {
		sum := sha256.Sum256([]byte(prefix + strconv.FormatUint(nonce, 10)))
		return hex.EncodeToString(sum[:])
	}, nil
}

// Mine runs a sequential nonce search from 0 and seals the block.
func (b *Block) Mine(ctx context.Context) (time.Duration, error) {
	return b.mineWith(ctx, consensus.NewProofOfWork(1))
}

func (b *Block) mineWith(ctx context.Context, engine interfaces.Engine) (time.Duration, error) {
	start := time.Now()
	seal, err := engine.MineBlock(ctx, b)
	if err != nil {
		if _, ok := err.(*InvalidBlockError); ok {
			return 0, err
		}
		return 0, &MiningError{Reason: "block " + strconv.Itoa(b.index) + " not sealed", Err: err}
	}
	b.nonce = seal.Nonce
	b.hash = seal.Hash
	return time.Since(start), nil
}

// BlockRecord is the persisted form of a block. Pointer fields are required
// on import; Transactions and Data select the payload variant. Like
// TransactionRecord it keeps the timestamp literal it was decoded from.
type BlockRecord struct {
	Index        *int                `json:"index"`
	Timestamp    *float64            `json:"timestamp"`
	PreviousHash *string             `json:"previous_hash"`
	Hash         *string             `json:"hash"`
	Nonce        *uint64             `json:"nonce"`
	Difficulty   *int                `json:"difficulty"`
	Transactions []TransactionRecord `json:"transactions"`
	Data         interface{}         `json:"data"`

	timestampText string
}

type blockRecordFields BlockRecord

func (r BlockRecord) MarshalJSON() ([]byte, error) {
	aux := struct {
		blockRecordFields
		Timestamp *json.Number `json:"timestamp"`
	}{blockRecordFields: blockRecordFields(r)}
	if r.Timestamp != nil {
		ts := json.Number(literalFor(*r.Timestamp, r.timestampText))
		aux.Timestamp = &ts
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes legacy data with json.Number so its numbers keep
// their literal text.
func (r *BlockRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		blockRecordFields
		Timestamp *json.Number `json:"timestamp"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	*r = BlockRecord(aux.blockRecordFields)
	if aux.Timestamp != nil {
		ts, err := aux.Timestamp.Float64()
		if err != nil {
			return fmt.Errorf("block timestamp %q is not a number", *aux.Timestamp)
		}
		r.Timestamp = &ts
		r.timestampText = aux.Timestamp.String()
	}
	return nil
}

func (b *Block) Record() BlockRecord {
	index, ts, prev, hash, nonce, diff := b.index, b.timestamp, b.previousHash, b.hash, b.nonce, b.difficulty
	rec := BlockRecord{
		Index:         &index,
		Timestamp:     &ts,
		PreviousHash:  &prev,
		Hash:          &hash,
		Nonce:         &nonce,
		Difficulty:    &diff,
		timestampText: b.timestampText,
	}
	if b.payload.kind == PayloadTransactions {
		rec.Transactions = make([]TransactionRecord, len(b.payload.transactions))
		for i, tx := range b.payload.transactions {
			rec.Transactions[i] = tx.Record()
		}
	} else {
		rec.Data = exportLegacy(b.payload.legacy)
	}
	return rec
}

// blockFromRecord rebuilds a block verbatim, keeping the stored nonce and hash.
func blockFromRecord(pos int, rec BlockRecord) (*Block, error) {
	missing := ""
	switch {
	case rec.Index == nil:
		missing = "index"
	case rec.Timestamp == nil:
		missing = "timestamp"
	case rec.PreviousHash == nil:
		missing = "previous_hash"
	case rec.Difficulty == nil:
		missing = "difficulty"
	case rec.Hash == nil:
		missing = "hash"
	case rec.Nonce == nil:
		missing = "nonce"
	}
	if missing != "" {
		return nil, &ImportExportError{Reason: "block at position " + strconv.Itoa(pos) + " is missing required field " + missing}
	}

	var payload Payload
	if rec.Transactions != nil {
		txs := make([]*Transaction, len(rec.Transactions))
		for i, tr := range rec.Transactions {
			txs[i] = restoreTransaction(tr)
		}
		payload = Payload{kind: PayloadTransactions, transactions: txs}
	} else {
		payload = LegacyPayload(rec.Data)
	}

	return &Block{
		index:         *rec.Index,
		timestamp:     *rec.Timestamp,
		timestampText: literalFor(*rec.Timestamp, rec.timestampText),
		previousHash:  *rec.PreviousHash,
		difficulty:    *rec.Difficulty,
		nonce:         *rec.Nonce,
		hash:          *rec.Hash,
		payload:       payload,
	}, nil
}
