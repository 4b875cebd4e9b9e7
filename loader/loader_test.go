package loader

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/OdyseeTeam/powchain/blockchain"
	"github.com/OdyseeTeam/powchain/storage"
)

func storeWith(t *testing.T, blocks []blockchain.Block) *storage.BlockStore {
	t.Helper()
	s, err := storage.OpenBlockStore(filepath.Join(t.TempDir(), "blocks"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Rewrite(blocks); err != nil {
		t.Fatal(err)
	}
	return s
}

func minedBlocks(t *testing.T, n int) []blockchain.Block {
	t.Helper()
	c := blockchain.New(blockchain.DefaultParams())
	for i := 0; i < n; i++ {
		if _, err := c.Append(context.Background(), blockchain.MustPayload(i)); err != nil {
			t.Fatal(err)
		}
	}
	return c.Blocks()
}

func TestLoadChain(t *testing.T) {
	blocks := minedBlocks(t, 3)
	chain := blockchain.New(blockchain.DefaultParams())

	n, err := LoadChain(chain, storeWith(t, blocks), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 || chain.Len() != 4 {
		t.Fatalf("expected 4 blocks loaded, got %d (chain length %d)", n, chain.Len())
	}
	if !chain.Tip().Equal(blocks[3]) {
		t.Error("loaded tip does not match the stored tip")
	}
}

func TestLoadChainMaxHeight(t *testing.T) {
	chain := blockchain.New(blockchain.DefaultParams())
	n, err := LoadChain(chain, storeWith(t, minedBlocks(t, 3)), 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected heights 0 through 2, got %d blocks", n)
	}
}

func TestLoadChainEmptyStore(t *testing.T) {
	chain := blockchain.New(blockchain.DefaultParams())
	n, err := LoadChain(chain, storeWith(t, nil), 0)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing loaded, got %d, %v", n, err)
	}
	if chain.Len() != 1 {
		t.Errorf("chain changed")
	}
}

func TestLoadChainKeepsValidPrefix(t *testing.T) {
	blocks := minedBlocks(t, 4)
	blocks[3].Data = blockchain.MustPayload("tampered")

	chain := blockchain.New(blockchain.DefaultParams())
	n, err := LoadChain(chain, storeWith(t, blocks), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || !chain.Tip().Equal(blocks[2]) {
		t.Fatalf("expected the first 3 blocks to be adopted, got %d", n)
	}
}

func TestLoadChainBadGenesis(t *testing.T) {
	blocks := minedBlocks(t, 2)
	blocks[0].Hash = "other_genesis"

	chain := blockchain.New(blockchain.DefaultParams())
	if _, err := LoadChain(chain, storeWith(t, blocks), 0); err == nil {
		t.Fatal("expected a foreign genesis to be rejected")
	}
}

func TestLoadChainNotLonger(t *testing.T) {
	chain := blockchain.New(blockchain.DefaultParams())
	if err := chain.Replace(minedBlocks(t, 5)); err != nil {
		t.Fatal(err)
	}
	n, err := LoadChain(chain, storeWith(t, minedBlocks(t, 2)), 0)
	if err != nil || n != 0 {
		t.Fatalf("expected shorter stored chain to be skipped, got %d, %v", n, err)
	}
}
