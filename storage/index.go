package storage

import (
	"sync"

	"github.com/OdyseeTeam/powchain/blockchain"

	"github.com/cockroachdb/errors"
	"github.com/genjidb/genji"
	"github.com/genjidb/genji/document"
	"github.com/genjidb/genji/types"
	"github.com/sirupsen/logrus"
)

// Index is an in-memory SQL view of the chain with two tables:
//
//	blocks(height, hash, last_hash, mined_at, difficulty, nonce, tx_count)
//	transactions(height, block_hash, pos, id, source, raw)
//
// id and source are only set when the payload element decodes with the index's codec.
type Index struct {
	mu    sync.Mutex
	db    *genji.DB
	codec blockchain.TransactionCodec
}

// OpenIndex creates an empty index. codec may be nil, in which case payload elements are stored raw.
func OpenIndex(codec blockchain.TransactionCodec) (*Index, error) {
	db, err := genji.Open(":memory:")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, q := range []string{
		"CREATE TABLE blocks",
		"CREATE TABLE transactions",
		"CREATE INDEX blocks_hash ON blocks (hash)",
		"CREATE INDEX transactions_id ON transactions (id)",
	} {
		if err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "index setup: %s", q)
		}
	}
	return &Index{db: db, codec: codec}, nil
}

func (i *Index) Close() error {
	return errors.WithStack(i.db.Close())
}

// Add indexes one block at height.
func (i *Index) Add(height int, block blockchain.Block) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.Begin(true)
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()

	if err := i.insert(tx, height, block); err != nil {
		return err
	}
	return errors.WithStack(tx.Commit())
}

// Rebuild drops everything and indexes blocks from scratch.
func (i *Index) Rebuild(blocks []blockchain.Block) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.Begin(true)
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()

	if err := tx.Exec("DELETE FROM blocks"); err != nil {
		return errors.WithStack(err)
	}
	if err := tx.Exec("DELETE FROM transactions"); err != nil {
		return errors.WithStack(err)
	}
	for height, block := range blocks {
		if err := i.insert(tx, height, block); err != nil {
			return err
		}
	}
	return errors.WithStack(tx.Commit())
}

func (i *Index) insert(tx *genji.Tx, height int, block blockchain.Block) error {
	err := tx.Exec(`INSERT INTO blocks (height, hash, last_hash, mined_at, difficulty, nonce, tx_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		height, block.Hash, block.LastHash, block.Timestamp, block.Difficulty, block.Nonce, len(block.Data))
	if err != nil {
		return errors.Wrapf(err, "index block %d", height)
	}

	for pos, raw := range block.Data {
		if i.codec != nil {
			if t, err := i.codec.Decode(raw); err == nil {
				err = tx.Exec(`INSERT INTO transactions (height, block_hash, pos, id, source, raw) VALUES (?, ?, ?, ?, ?, ?)`,
					height, block.Hash, pos, t.ID(), t.InputSource(), string(raw))
				if err != nil {
					return errors.Wrapf(err, "index transaction %d of block %d", pos, height)
				}
				continue
			}
			logrus.Debugf("block %d element %d is not a transaction", height, pos)
		}

		err = tx.Exec(`INSERT INTO transactions (height, block_hash, pos, raw) VALUES (?, ?, ?, ?)`,
			height, block.Hash, pos, string(raw))
		if err != nil {
			return errors.Wrapf(err, "index payload %d of block %d", pos, height)
		}
	}
	return nil
}

// Query runs q in a read-only transaction and returns every row as a map.
func (i *Index) Query(q string, args ...interface{}) ([]map[string]interface{}, error) {
	tx, err := i.db.Begin(false)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer tx.Rollback()

	res, err := tx.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	defer res.Close()

	var results = make([]map[string]interface{}, 0)
	err = res.Iterate(func(d types.Document) error {
		var m map[string]interface{}
		if err := document.MapScan(d, &m); err != nil {
			return errors.WithStack(err)
		}
		results = append(results, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
