package blockchain

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Transaction is what the ledger rules need to know about a decoded payload element.
type Transaction interface {
	ID() string
	InputSource() string
}

// TransactionCodec decodes and validates the transactions carried in block payloads.
type TransactionCodec interface {
	Decode(raw json.RawMessage) (Transaction, error)
	Validate(tx Transaction) error
}

// LedgerRules are the chain-wide rules over a chain whose payloads are transactions:
//   - a block holds at most one transaction paid from MiningRewardSource
//   - a transaction id appears at most once in the whole chain
//   - every transaction passes the codec's own validation
type LedgerRules struct {
	Codec              TransactionCodec
	MiningRewardSource string
}

// Check applies the rules to blocks in order and reports the first violation as a *BlockError.
func (r LedgerRules) Check(blocks []Block) error {
	if r.Codec == nil {
		return errors.WithStack(errLedgerRulesIncomplete)
	}

	seen := make(map[string]struct{})
	for i, block := range blocks {
		hasMiningReward := false

		for n, raw := range block.Data {
			tx, err := r.Codec.Decode(raw)
			if err != nil {
				return &BlockError{Index: i, Hash: block.Hash, Err: errors.Mark(errors.Wrapf(err, "payload element %d", n), ErrTransactionInvalid)}
			}

			if tx.InputSource() == r.MiningRewardSource {
				if hasMiningReward {
					return &BlockError{Index: i, Hash: block.Hash, Err: errors.Wrapf(ErrMultipleMiningRewards, "transaction %s", tx.ID())}
				}
				hasMiningReward = true
			}

			if _, ok := seen[tx.ID()]; ok {
				return &BlockError{Index: i, Hash: block.Hash, Err: errors.Wrapf(ErrDuplicateTransaction, "transaction %s", tx.ID())}
			}
			seen[tx.ID()] = struct{}{}

			if err := r.Codec.Validate(tx); err != nil {
				return &BlockError{Index: i, Hash: block.Hash, Err: errors.Mark(errors.Wrapf(err, "transaction %s", tx.ID()), ErrTransactionInvalid)}
			}
		}
	}
	return nil
}
