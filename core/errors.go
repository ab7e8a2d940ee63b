package core

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorKind tags every error the ledger returns.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindInsufficientBalance
	KindInvalidBlock
	KindChainIntegrity
	KindMining
	KindImportExport
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindInvalidBlock:
		return "invalid_block"
	case KindChainIntegrity:
		return "chain_integrity"
	case KindMining:
		return "mining"
	case KindImportExport:
		return "import_export"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// LedgerError is implemented by every typed ledger error.
type LedgerError interface {
	error
	Kind() ErrorKind
}

// KindOf returns the kind of the first LedgerError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var le LedgerError
	if errors.As(err, &le) {
		return le.Kind()
	}
	return 0
}

// ErrSourceNotFound is wrapped by ImportExportError when the import source does not exist.
var ErrSourceNotFound = errors.New("import source not found")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Kind() ErrorKind { return KindValidation }

type InsufficientBalanceError struct {
	Address   string
	Available float64
	Required  float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, required %s",
		e.Address, strconv.FormatFloat(e.Available, 'f', -1, 64), strconv.FormatFloat(e.Required, 'f', -1, 64))
}

func (e *InsufficientBalanceError) Kind() ErrorKind { return KindInsufficientBalance }

type InvalidBlockError struct {
	Index  int
	Reason string
	Err    error
}

func (e *InvalidBlockError) Error() string {
	msg := fmt.Sprintf("invalid block %d: %s", e.Index, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidBlockError) Unwrap() error   { return e.Err }
func (e *InvalidBlockError) Kind() ErrorKind { return KindInvalidBlock }

type MiningError struct {
	Reason string
	Err    error
}

func (e *MiningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mining failed: %s: %v", e.Reason, e.Err)
	}
	return "mining failed: " + e.Reason
}

func (e *MiningError) Unwrap() error   { return e.Err }
func (e *MiningError) Kind() ErrorKind { return KindMining }

type ImportExportError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ImportExportError) Error() string {
	msg := e.Reason
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", e.Reason, e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ImportExportError) Unwrap() error   { return e.Err }
func (e *ImportExportError) Kind() ErrorKind { return KindImportExport }

type NotFoundError struct {
	What string
	Key  string
}

func (e *NotFoundError) Error() string   { return fmt.Sprintf("%s %s not found", e.What, e.Key) }
func (e *NotFoundError) Kind() ErrorKind { return KindNotFound }

// IntegrityCheck names the chain check that failed.
type IntegrityCheck string

const (
	CheckHash         IntegrityCheck = "hash"
	CheckProofOfWork  IntegrityCheck = "proof_of_work"
	CheckLinkage      IntegrityCheck = "previous_hash"
	CheckTransactions IntegrityCheck = "transactions"
)

// ChainIntegrityFailure describes the first failing block found by VerifyChain.
// It is returned as a diagnostic value, not raised.
type ChainIntegrityFailure struct {
	BlockIndex int
	Check      IntegrityCheck
	Expected   string
	Actual     string
	Reason     string
}

func (f *ChainIntegrityFailure) Error() string {
	msg := "chain integrity failure at block " + strconv.Itoa(f.BlockIndex) + " (" + string(f.Check) + ")"
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Expected != "" || f.Actual != "" {
		msg += fmt.Sprintf(" [expected %s, got %s]", f.Expected, f.Actual)
	}
	return msg
}

func (f *ChainIntegrityFailure) Kind() ErrorKind { return KindChainIntegrity }
