package storage

import (
	"sync"

	"github.com/OdyseeTeam/powchain/blockchain"

	"github.com/sirupsen/logrus"
)

// Syncer mirrors a chain into a BlockStore and an Index. Blocks that extend the mirrored tip are
// written one by one; anything else, replacements included, rewrites both from the chain.
type Syncer struct {
	mu    sync.Mutex
	chain *blockchain.Chain
	store *BlockStore
	index *Index

	tip    string
	height int
}

func NewSyncer(chain *blockchain.Chain, store *BlockStore, index *Index) *Syncer {
	return &Syncer{chain: chain, store: store, index: index, height: -1}
}

// Attach writes the current chain and subscribes to its changes.
func (s *Syncer) Attach() error {
	s.mu.Lock()
	err := s.resync()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.chain.OnBlock(s.onBlock)
	s.chain.OnReplace(func([]blockchain.Block) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.resync(); err != nil {
			logrus.Errorf("%+v", err)
		}
	})
	return nil
}

func (s *Syncer) onBlock(block blockchain.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if block.LastHash != s.tip {
		// notifications can arrive out of order, the chain is the source of truth
		if err := s.resync(); err != nil {
			logrus.Errorf("%+v", err)
		}
		return
	}

	height := s.height + 1
	if err := s.store.Put(height, block); err != nil {
		logrus.Errorf("%+v", err)
		return
	}
	if err := s.index.Add(height, block); err != nil {
		logrus.Errorf("%+v", err)
		return
	}
	s.tip, s.height = block.Hash, height
}

func (s *Syncer) resync() error {
	blocks := s.chain.Blocks()
	if err := s.store.Rewrite(blocks); err != nil {
		return err
	}
	if err := s.index.Rebuild(blocks); err != nil {
		return err
	}
	s.tip, s.height = blocks[len(blocks)-1].Hash, len(blocks)-1
	logrus.Debugf("synced %d blocks to storage", len(blocks))
	return nil
}
