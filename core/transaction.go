package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SystemAddress is the reserved sender for rewards and genesis. It is exempt
// from balance checks and from the positive-amount rule.
const SystemAddress = "System"

// Transaction is an immutable value transfer. The id is computed once at
// creation; a record restored from storage keeps its stored id so that any
// later edit shows up as a mismatch instead of being re-hashed away.
//
// amountText and timestampText are the number texts the id and the block
// hash are computed over: the literal of an imported record (so "50" and
// "50.0" from other writers keep hashing as written), formatNumber otherwise.
type Transaction struct {
	sender        string
	receiver      string
	amount        float64
	timestamp     float64
	amountText    string
	timestampText string
	id            string
}

// TransactionRecord is the persisted form of a transaction. Decoding keeps
// the literal text of amount and timestamp, and encoding writes it back as
// long as the field still holds the same value.
type TransactionRecord struct {
	Sender        string
	Receiver      string
	Amount        float64
	Timestamp     float64
	TransactionID string

	amountText    string
	timestampText string
}

type transactionRecordJSON struct {
	Sender        string      `json:"sender"`
	Receiver      string      `json:"receiver"`
	Amount        json.Number `json:"amount"`
	Timestamp     json.Number `json:"timestamp"`
	TransactionID string      `json:"transaction_id"`
}

func (r TransactionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionRecordJSON{
		Sender:        r.Sender,
		Receiver:      r.Receiver,
		Amount:        json.Number(literalFor(r.Amount, r.amountText)),
		Timestamp:     json.Number(literalFor(r.Timestamp, r.timestampText)),
		TransactionID: r.TransactionID,
	})
}

func (r *TransactionRecord) UnmarshalJSON(data []byte) error {
	var aux transactionRecordJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	amount, err := numberField("amount", aux.Amount)
	if err != nil {
		return err
	}
	ts, err := numberField("timestamp", aux.Timestamp)
	if err != nil {
		return err
	}
	*r = TransactionRecord{
		Sender:        aux.Sender,
		Receiver:      aux.Receiver,
		Amount:        amount,
		Timestamp:     ts,
		TransactionID: aux.TransactionID,
		amountText:    aux.Amount.String(),
		timestampText: aux.Timestamp.String(),
	}
	return nil
}

func numberField(name string, n json.Number) (float64, error) {
	if n == "" {
		return 0, nil
	}
	v, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("transaction %s %q is not a number", name, n)
	}
	return v, nil
}

// NewTransaction creates a transaction stamped with the current time.
func NewTransaction(sender, receiver string, amount float64) (*Transaction, error) {
	return NewTransactionAt(sender, receiver, amount, nowSeconds())
}

// NewTransactionAt creates a transaction with an explicit unix timestamp in seconds.
func NewTransactionAt(sender, receiver string, amount, timestamp float64) (*Transaction, error) {
	tx := &Transaction{
		sender:        sender,
		receiver:      receiver,
		amount:        amount,
		timestamp:     timestamp,
		amountText:    formatNumber(amount),
		timestampText: formatNumber(timestamp),
	}
	if err := tx.check(); err != nil {
		return nil, err
	}
	tx.id = tx.CalculateHash()
	return tx, nil
}

// ParseAmount converts user input into an amount.
func ParseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: "amount", Reason: "amount must be a number"}
	}
	return v, nil
}

func restoreTransaction(rec TransactionRecord) *Transaction {
	tx := &Transaction{
		sender:        rec.Sender,
		receiver:      rec.Receiver,
		amount:        rec.Amount,
		timestamp:     rec.Timestamp,
		amountText:    literalFor(rec.Amount, rec.amountText),
		timestampText: literalFor(rec.Timestamp, rec.timestampText),
		id:            rec.TransactionID,
	}
	if tx.id == "" {
		tx.id = tx.CalculateHash()
	}
	return tx
}

func (tx *Transaction) Sender() string     { return tx.sender }
func (tx *Transaction) Receiver() string   { return tx.receiver }
func (tx *Transaction) Amount() float64    { return tx.amount }
func (tx *Transaction) Timestamp() float64 { return tx.timestamp }
func (tx *Transaction) ID() string         { return tx.id }

// CalculateHash is the SHA-256 of sender, receiver, amount and timestamp concatenated.
func (tx *Transaction) CalculateHash() string {
	sum := sha256.Sum256([]byte(tx.sender + tx.receiver + tx.amountText + tx.timestampText))
	return hex.EncodeToString(sum[:])
}

// IsValid re-applies the construction rules without touching the id.
func (tx *Transaction) IsValid() (bool, string) {
	if err := tx.check(); err != nil {
		return false, err.(*ValidationError).Reason
	}
	return true, ""
}

func (tx *Transaction) check() error {
	switch {
	case tx.sender == "":
		return &ValidationError{Field: "sender", Reason: "sender is required"}
	case tx.receiver == "":
		return &ValidationError{Field: "receiver", Reason: "receiver is required"}
	case math.IsNaN(tx.amount) || math.IsInf(tx.amount, 0):
		return &ValidationError{Field: "amount", Reason: "amount must be a number"}
	case tx.amount <= 0 && tx.sender != SystemAddress:
		return &ValidationError{Field: "amount", Reason: "amount must be positive"}
	case tx.sender == tx.receiver:
		return &ValidationError{Field: "receiver", Reason: "sender and receiver cannot be the same"}
	}
	return nil
}

func (tx *Transaction) Record() TransactionRecord {
	return TransactionRecord{
		Sender:        tx.sender,
		Receiver:      tx.receiver,
		Amount:        tx.amount,
		Timestamp:     tx.timestamp,
		TransactionID: tx.id,
		amountText:    tx.amountText,
		timestampText: tx.timestampText,
	}
}

// hashForm is the dict form folded into the block hash.
func (tx *Transaction) hashForm() map[string]interface{} {
	return map[string]interface{}{
		"sender":         tx.sender,
		"receiver":       tx.receiver,
		"amount":         json.Number(tx.amountText),
		"timestamp":      json.Number(tx.timestampText),
		"transaction_id": tx.id,
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
