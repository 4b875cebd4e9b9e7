package miner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/OdyseeTeam/powchain/blockchain"
	"github.com/OdyseeTeam/powchain/transaction"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// Source supplies the payload for the next block.
type Source func() (blockchain.Payload, error)

// RewardSource pays the mining reward of every block to address.
func RewardSource(address string) Source {
	return func() (blockchain.Payload, error) {
		tx, err := transaction.Reward(address)
		if err != nil {
			return nil, err
		}
		return blockchain.NewPayload(tx)
	}
}

// Miner keeps appending blocks to a chain. A search in progress is abandoned as soon as the chain
// reports a tip other than the one the search extends.
type Miner struct {
	chain  *blockchain.Chain
	source Source

	mu     sync.Mutex
	base   string // tip hash the current round extends
	data   blockchain.Payload
	cancel context.CancelFunc
	mined  atomic.Int64
}

func New(chain *blockchain.Chain, source Source) *Miner {
	m := &Miner{chain: chain, source: source}
	chain.OnBlock(m.interrupt)
	chain.OnReplace(func(blocks []blockchain.Block) {
		if len(blocks) > 0 {
			m.interrupt(blocks[len(blocks)-1])
		}
	})
	return m
}

// Mined returns the number of blocks this miner has appended.
func (m *Miner) Mined() int {
	return int(m.mined.Load())
}

// interrupt abandons the current round when tip moves the chain away from the block it extends.
// Late notifications for that block and the round's own block are ignored.
func (m *Miner) interrupt(tip blockchain.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil || tip.Hash == m.base {
		return
	}
	if tip.LastHash == m.base && tip.Data.Equal(m.data) {
		return
	}
	m.cancel()
	m.cancel = nil
}

// Run mines until ctx is done. It returns nil on cancellation and the error otherwise.
func (m *Miner) Run(ctx context.Context) error {
	logrus.Info("miner started")
	defer logrus.Info("miner stopped")

	for ctx.Err() == nil {
		_, err := m.mineOne(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			logrus.Debug("chain tip changed, restarting search")
			continue
		}
		return err
	}
	return nil
}

func (m *Miner) mineOne(ctx context.Context) (blockchain.Block, error) {
	data, err := m.source()
	if err != nil {
		return blockchain.Block{}, errors.Wrap(err, "build payload")
	}

	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	base := m.chain.Tip().Hash
	m.mu.Lock()
	m.base, m.data, m.cancel = base, data, cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
	}()
	// a block may have landed between reading the tip and registering the round
	if m.chain.Tip().Hash != base {
		cancel()
	}

	block, err := m.chain.Append(roundCtx, data)
	if err != nil {
		return blockchain.Block{}, err
	}

	m.mined.Add(1)
	logrus.WithFields(logrus.Fields{"hash": block.Hash, "difficulty": block.Difficulty}).Info("mined block")
	return block, nil
}
