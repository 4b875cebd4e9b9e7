package blockchain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Block-level integrity failures.
var (
	ErrChainLinkage   = errors.New("block last_hash does not match the previous block hash")
	ErrProofOfWork    = errors.New("proof of work requirement not met")
	ErrDifficultyJump = errors.New("block difficulty must only adjust by 1")
	ErrHashMismatch   = errors.New("block hash does not match its contents")
)

// Chain-level failures.
var (
	ErrEmptyChain     = errors.New("chain has no blocks")
	ErrInvalidGenesis = errors.New("the genesis block must be valid")
	ErrInvalidChain   = errors.New("the incoming chain is invalid")
	ErrChainNotLonger = errors.New("the incoming chain must be longer")
)

// Payload-level failures reported by LedgerRules.
var (
	ErrDuplicateTransaction  = errors.New("transaction is not unique")
	ErrMultipleMiningRewards = errors.New("there can only be one mining reward per block")
	ErrTransactionInvalid    = errors.New("transaction is invalid")
	ErrLedgerViolation       = errors.New("block breaks the ledger rules")
	errLedgerRulesIncomplete = errors.New("ledger rules need a transaction codec")
)

// RuleError is returned by IsValidBlockPair. It names the offending field and unwraps to one
// of the block-level sentinel errors.
type RuleError struct {
	Field string
	Got   string
	Want  string
	Err   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%v: %s is %s, want %s", e.Err, e.Field, e.Got, e.Want)
}

func (e *RuleError) Unwrap() error { return e.Err }

// BlockError locates a failure at a position in a chain.
type BlockError struct {
	Index int
	Hash  string
	Err   error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %d (%s): %v", e.Index, e.Hash, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }

// FailedIndex returns the chain position carried by err, if any.
func FailedIndex(err error) (int, bool) {
	var be *BlockError
	if errors.As(err, &be) {
		return be.Index, true
	}
	return 0, false
}
