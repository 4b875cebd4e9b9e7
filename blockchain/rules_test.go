package blockchain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
)

const testRewardSource = "*reward*"

type fakeTx struct {
	TxID   string `json:"id"`
	Source string `json:"source"`
	Valid  bool   `json:"valid"`
}

func (t fakeTx) ID() string          { return t.TxID }
func (t fakeTx) InputSource() string { return t.Source }

var errFakeInvalid = errors.New("fake transaction marked invalid")

type fakeCodec struct{}

func (fakeCodec) Decode(raw json.RawMessage) (Transaction, error) {
	var t fakeTx
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func (fakeCodec) Validate(tx Transaction) error {
	if !tx.(fakeTx).Valid {
		return errFakeInvalid
	}
	return nil
}

func testRules() LedgerRules {
	return LedgerRules{Codec: fakeCodec{}, MiningRewardSource: testRewardSource}
}

func chainOf(t *testing.T, payloads ...Payload) []Block {
	t.Helper()
	c := New(DefaultParams())
	for _, p := range payloads {
		if _, err := c.Append(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	return c.Blocks()
}

func tx(id, source string) fakeTx {
	return fakeTx{TxID: id, Source: source, Valid: true}
}

func TestLedgerRulesAcceptValidChain(t *testing.T) {
	blocks := chainOf(t,
		MustPayload(tx("a", "alice"), tx("r1", testRewardSource)),
		MustPayload(tx("b", "bob"), tx("r2", testRewardSource)),
	)
	if err := testRules().Check(blocks); err != nil {
		t.Fatalf("expected valid ledger, got %+v", err)
	}
}

func TestLedgerRulesDuplicateAcrossBlocks(t *testing.T) {
	blocks := chainOf(t,
		MustPayload(tx("a", "alice")),
		MustPayload(tx("b", "bob")),
		MustPayload(tx("a", "alice")),
	)
	err := testRules().Check(blocks)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	if i, ok := FailedIndex(err); !ok || i != 3 {
		t.Errorf("expected failure at index 3, got %d (%v)", i, ok)
	}
}

func TestLedgerRulesMultipleRewards(t *testing.T) {
	blocks := chainOf(t, MustPayload(tx("r1", testRewardSource), tx("r2", testRewardSource)))
	err := testRules().Check(blocks)
	if !errors.Is(err, ErrMultipleMiningRewards) {
		t.Fatalf("expected ErrMultipleMiningRewards, got %v", err)
	}
}

func TestLedgerRulesInvalidTransaction(t *testing.T) {
	bad := fakeTx{TxID: "x", Source: "mallory"}
	blocks := chainOf(t, MustPayload(bad))

	err := testRules().Check(blocks)
	if !errors.Is(err, ErrTransactionInvalid) {
		t.Fatalf("expected ErrTransactionInvalid, got %v", err)
	}
	if !errors.Is(err, errFakeInvalid) {
		t.Errorf("expected the codec's error to be kept, got %v", err)
	}
}

func TestLedgerRulesUndecodable(t *testing.T) {
	blocks := chainOf(t, MustPayload("not an object"))
	if err := testRules().Check(blocks); !errors.Is(err, ErrTransactionInvalid) {
		t.Fatalf("expected ErrTransactionInvalid, got %v", err)
	}
}

func TestLedgerRulesWithoutCodec(t *testing.T) {
	if err := (LedgerRules{}).Check(chainOf(t)); err == nil {
		t.Fatal("expected an error for rules without a codec")
	}
}

func TestReplaceEnforcesLedgerRules(t *testing.T) {
	local := New(DefaultParams(), WithLedgerRules(testRules()))

	incoming := chainOf(t,
		MustPayload(tx("a", "alice")),
		MustPayload(tx("a", "alice")),
	)
	err := local.Replace(incoming)
	if !errors.Is(err, ErrInvalidChain) || !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrInvalidChain caused by ErrDuplicateTransaction, got %v", err)
	}
	if local.Len() != 1 {
		t.Errorf("local chain changed after rejected replace")
	}

	good := chainOf(t, MustPayload(tx("a", "alice")), MustPayload(tx("b", "alice")))
	if err := local.Replace(good); err != nil {
		t.Fatalf("expected replacement, got %+v", err)
	}
}

func TestAppendEnforcesLedgerRules(t *testing.T) {
	node := New(DefaultParams(), WithLedgerRules(testRules()))

	_, err := node.Append(context.Background(), MustPayload("hello"))
	if !errors.Is(err, ErrLedgerViolation) || !errors.Is(err, ErrTransactionInvalid) {
		t.Fatalf("expected ErrLedgerViolation caused by ErrTransactionInvalid, got %v", err)
	}
	if node.Len() != 1 {
		t.Fatalf("rejected payload was appended")
	}

	if _, err := node.Append(context.Background(), MustPayload(tx("a", "alice"), tx("r1", testRewardSource))); err != nil {
		t.Fatalf("expected valid payload to be mined, got %+v", err)
	}
	_, err = node.Append(context.Background(), MustPayload(tx("a", "alice")))
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	if i, ok := FailedIndex(err); !ok || i != 2 {
		t.Errorf("expected failure at index 2, got %d (%v)", i, ok)
	}

	// whatever the node mined, a peer with the same rules adopts
	peer := New(DefaultParams(), WithLedgerRules(testRules()))
	if _, err := peer.Append(context.Background(), MustPayload(tx("p", "peer"))); err != nil {
		t.Fatal(err)
	}
	if err := peer.Replace(node.Blocks()); err != nil {
		t.Fatalf("expected a peer to adopt the node's chain, got %+v", err)
	}
}

func TestAddBlockEnforcesLedgerRules(t *testing.T) {
	node := New(DefaultParams(), WithLedgerRules(testRules()))

	bad := mustMine(t, node.Params(), node.Tip(), MustPayload("hello"))
	err := node.AddBlock(bad)
	if !errors.Is(err, ErrLedgerViolation) || !errors.Is(err, ErrTransactionInvalid) {
		t.Fatalf("expected ErrLedgerViolation caused by ErrTransactionInvalid, got %v", err)
	}
	if i, ok := FailedIndex(err); !ok || i != 1 {
		t.Errorf("expected failure at index 1, got %d (%v)", i, ok)
	}

	good := mustMine(t, node.Params(), node.Tip(), MustPayload(tx("a", "alice")))
	if err := node.AddBlock(good); err != nil {
		t.Fatalf("expected block to be added, got %+v", err)
	}
	if node.Len() != 2 {
		t.Errorf("expected 2 blocks, got %d", node.Len())
	}
}
