package blockchain

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// Chain is the local copy of the ledger. It only grows by Append/AddBlock and is only ever
// swapped wholesale by Replace.
type Chain struct {
	mu     sync.RWMutex
	blocks []Block
	params Params
	rules  *LedgerRules

	hooksMu     sync.Mutex
	onBlockFn   []func(block Block)
	onReplaceFn []func(blocks []Block)
}

type Option func(*Chain)

// WithLedgerRules makes Replace also enforce the payload-wide transaction rules.
func WithLedgerRules(rules LedgerRules) Option {
	return func(c *Chain) {
		c.rules = &rules
	}
}

// New returns a chain holding only the genesis block from params.
func New(params Params, opts ...Option) *Chain {
	c := &Chain{
		blocks: []Block{params.Genesis},
		params: params,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Chain) Params() Params { return c.params }

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

func (c *Chain) Tip() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Blocks returns a copy of the chain.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Range returns blocks newest first, from position start up to but not including end.
// Bounds are clamped to the chain.
func (c *Chain) Range(start, end int) []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.blocks)
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return []Block{}
	}

	out := make([]Block, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, c.blocks[n-1-i])
	}
	return out
}

func (c *Chain) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Blocks())
}

// Append mines a block carrying data on top of the current tip and appends it. The chain lock
// is not held while mining; if the tip moved in the meantime the block is discarded and the
// search restarts on the new tip. With ledger rules configured, data that would break them is
// refused before mining starts and the error is marked ErrLedgerViolation.
func (c *Chain) Append(ctx context.Context, data Payload) (Block, error) {
	c.mu.RLock()
	err := c.checkLedger(c.blocks, Block{Data: data})
	c.mu.RUnlock()
	if err != nil {
		return Block{}, err
	}

	for {
		tip := c.Tip()
		block, err := c.params.Mine(ctx, tip, data)
		if err != nil {
			return Block{}, err
		}

		c.mu.Lock()
		if c.blocks[len(c.blocks)-1].Hash != tip.Hash {
			c.mu.Unlock()
			logrus.Debugf("tip moved while mining on %s, restarting", tip.Hash)
			continue
		}
		// the new tip may carry transactions that now clash with data
		if err := c.checkLedger(c.blocks, block); err != nil {
			c.mu.Unlock()
			return Block{}, err
		}
		c.blocks = append(c.blocks, block)
		height := len(c.blocks) - 1
		c.mu.Unlock()

		logrus.WithFields(logrus.Fields{"height": height, "hash": block.Hash, "difficulty": block.Difficulty}).Debug("appended block")
		c.notifyBlock(block)
		return block, nil
	}
}

// AddBlock appends a block mined elsewhere. It must be a valid successor of the current tip and,
// with ledger rules configured, keep the chain within them.
func (c *Chain) AddBlock(block Block) error {
	c.mu.Lock()
	tip := c.blocks[len(c.blocks)-1]
	if err := IsValidBlockPair(tip, block); err != nil {
		height := len(c.blocks)
		c.mu.Unlock()
		return &BlockError{Index: height, Hash: block.Hash, Err: err}
	}
	if err := c.checkLedger(c.blocks, block); err != nil {
		c.mu.Unlock()
		return err
	}
	c.blocks = append(c.blocks, block)
	height := len(c.blocks) - 1
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{"height": height, "hash": block.Hash, "difficulty": block.Difficulty}).Debug("added block")
	c.notifyBlock(block)
	return nil
}

// checkLedger applies the ledger rules, if any, to blocks extended by next. The caller holds c.mu.
func (c *Chain) checkLedger(blocks []Block, next Block) error {
	if c.rules == nil {
		return nil
	}
	extended := make([]Block, len(blocks), len(blocks)+1)
	copy(extended, blocks)
	if err := c.rules.Check(append(extended, next)); err != nil {
		return errors.Mark(err, ErrLedgerViolation)
	}
	return nil
}

// IsValidChain validates blocks against this chain's genesis. It does not touch local state.
func (c *Chain) IsValidChain(blocks []Block) error {
	return IsValidChain(c.params.Genesis, blocks)
}

// IsValidChain checks that blocks start with genesis and that every block is a valid successor
// of the one before it. The first failure is returned wrapped in a *BlockError.
func IsValidChain(genesis Block, blocks []Block) error {
	if len(blocks) == 0 {
		return errors.WithStack(ErrEmptyChain)
	}

	if !blocks[0].Equal(genesis) {
		return &BlockError{Index: 0, Hash: blocks[0].Hash, Err: ErrInvalidGenesis}
	}

	for i := 1; i < len(blocks); i++ {
		if err := IsValidBlockPair(blocks[i-1], blocks[i]); err != nil {
			return &BlockError{Index: i, Hash: blocks[i].Hash, Err: err}
		}
	}
	return nil
}

// Replace swaps the local chain for candidate if candidate is strictly longer and fully valid.
// Ties are rejected. Validation failures are marked with ErrInvalidChain and keep their cause.
func (c *Chain) Replace(candidate []Block) error {
	replaced, err := c.replace(candidate)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{"length": len(replaced), "tip": replaced[len(replaced)-1].Hash}).Info("replaced chain")
	c.notifyReplace(replaced)
	return nil
}

func (c *Chain) replace(candidate []Block) ([]Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(candidate) <= len(c.blocks) {
		return nil, errors.Wrapf(ErrChainNotLonger, "incoming length %d, local length %d", len(candidate), len(c.blocks))
	}

	if err := IsValidChain(c.params.Genesis, candidate); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "cannot replace chain"), ErrInvalidChain)
	}

	if c.rules != nil {
		if err := c.rules.Check(candidate); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "cannot replace chain"), ErrInvalidChain)
		}
	}

	c.blocks = make([]Block, len(candidate))
	copy(c.blocks, candidate)

	out := make([]Block, len(candidate))
	copy(out, candidate)
	return out, nil
}

// OnBlock registers fn to be called after a block is appended to the chain.
func (c *Chain) OnBlock(fn func(Block)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onBlockFn = append(c.onBlockFn, fn)
}

// OnReplace registers fn to be called with the new chain after a replacement.
func (c *Chain) OnReplace(fn func([]Block)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onReplaceFn = append(c.onReplaceFn, fn)
}

func (c *Chain) notifyBlock(block Block) {
	c.hooksMu.Lock()
	fns := append([]func(Block){}, c.onBlockFn...)
	c.hooksMu.Unlock()

	for _, fn := range fns {
		fn(block)
	}
}

func (c *Chain) notifyReplace(blocks []Block) {
	c.hooksMu.Lock()
	fns := append([]func([]Block){}, c.onReplaceFn...)
	c.hooksMu.Unlock()

	for _, fn := range fns {
		fn(blocks)
	}
}
