package loader

import (
	"github.com/OdyseeTeam/powchain/blockchain"
	"github.com/OdyseeTeam/powchain/storage"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

var errMaxHeight = errors.New("max height reached")

// LoadChain reads the persisted chain from store and adopts it through chain.Replace. Loading
// stops after maxHeight when maxHeight > 0. If the stored chain fails validation, the longest
// valid prefix is adopted instead. The number of blocks adopted is returned; 0 means the chain
// was left untouched.
func LoadChain(chain *blockchain.Chain, store *storage.BlockStore, maxHeight int) (int, error) {
	var blocks []blockchain.Block
	err := store.Iterate(func(height int, block blockchain.Block) error {
		if maxHeight > 0 && height > maxHeight {
			return errMaxHeight
		}
		if height != len(blocks) {
			return errors.Newf("block store has a gap at height %d", len(blocks))
		}
		if height > 0 && height%1000 == 0 {
			logrus.Infof("loading block %dk", height/1000)
		}
		blocks = append(blocks, block)
		return nil
	})
	if err != nil && !errors.Is(err, errMaxHeight) {
		// keep whatever loaded cleanly before the failure
		logrus.Errorf("%+v", err)
	}

	for len(blocks) > 0 {
		err := chain.Replace(blocks)
		switch {
		case err == nil:
			logrus.Infof("loaded %d blocks", len(blocks))
			return len(blocks), nil
		case errors.Is(err, blockchain.ErrChainNotLonger):
			logrus.Infof("stored chain of %d blocks is not longer than the local chain", len(blocks))
			return 0, nil
		case errors.Is(err, blockchain.ErrInvalidChain):
			i, ok := blockchain.FailedIndex(err)
			if !ok || i == 0 {
				return 0, err
			}
			logrus.Warnf("stored block %d is invalid, keeping the first %d blocks: %v", i, i, err)
			blocks = blocks[:i]
		default:
			return 0, err
		}
	}

	logrus.Info("block store is empty")
	return 0, nil
}
