package storage

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/OdyseeTeam/powchain/blockchain"

	"github.com/cockroachdb/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var blockPrefix = []byte("b")

// BlockStore persists the chain in leveldb, one JSON record per block keyed by height.
type BlockStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

func OpenBlockStore(path string) (*BlockStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open block store %s", path)
	}
	return &BlockStore{db: db}, nil
}

func (s *BlockStore) Close() error {
	return errors.WithStack(s.db.Close())
}

func blockKey(height int) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], uint64(height))
	return key
}

// Put writes block at height, overwriting whatever was there.
func (s *BlockStore) Put(height int, block blockchain.Block) error {
	value, err := json.Marshal(block)
	if err != nil {
		return errors.WithStack(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.WithStack(s.db.Put(blockKey(height), value, nil))
}

// Rewrite replaces the stored chain with blocks in a single batch.
func (s *BlockStore) Rewrite(blocks []blockchain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	for iter.Next() {
		// the iterator reuses its key buffer
		key := append([]byte{}, iter.Key()...)
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.WithStack(err)
	}

	for height, block := range blocks {
		value, err := json.Marshal(block)
		if err != nil {
			return errors.WithStack(err)
		}
		batch.Put(blockKey(height), value)
	}

	return errors.WithStack(s.db.Write(batch, nil))
}

// Iterate calls fn for every stored block in height order. Iteration stops at the first error.
func (s *BlockStore) Iterate(fn func(height int, block blockchain.Block) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		height := int(binary.BigEndian.Uint64(iter.Key()[len(blockPrefix):]))

		var block blockchain.Block
		if err := json.Unmarshal(iter.Value(), &block); err != nil {
			return errors.Wrapf(err, "decode block at height %d", height)
		}
		if err := fn(height, block); err != nil {
			return err
		}
	}
	return errors.WithStack(iter.Error())
}

// Load returns the stored chain. Height gaps are reported as errors.
func (s *BlockStore) Load() ([]blockchain.Block, error) {
	var blocks []blockchain.Block
	err := s.Iterate(func(height int, block blockchain.Block) error {
		if height != len(blocks) {
			return errors.Newf("block store has a gap: expected height %d, found %d", len(blocks), height)
		}
		blocks = append(blocks, block)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}
