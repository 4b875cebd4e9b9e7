package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OdyseeTeam/powchain/blockchain"
	"github.com/OdyseeTeam/powchain/storage"
	"github.com/OdyseeTeam/powchain/transaction"
)

func newTestServer(t *testing.T) (*blockchain.Chain, *httptest.Server) {
	t.Helper()
	chain := blockchain.New(blockchain.DefaultParams())

	index, err := storage.OpenIndex(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = index.Close() })
	if err := index.Rebuild(chain.Blocks()); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(New(chain, index).Handler())
	t.Cleanup(ts.Close)
	return chain, ts
}

func mined(t *testing.T, n int) []blockchain.Block {
	t.Helper()
	c := blockchain.New(blockchain.DefaultParams())
	for i := 0; i < n; i++ {
		if _, err := c.Append(context.Background(), blockchain.MustPayload(i)); err != nil {
			t.Fatal(err)
		}
	}
	return c.Blocks()
}

func post(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func TestGetChain(t *testing.T) {
	chain, ts := newTestServer(t)
	if _, err := chain.Append(context.Background(), blockchain.MustPayload("a")); err != nil {
		t.Fatal(err)
	}

	var blocks []blockchain.Block
	get(t, ts.URL+"/blockchain", &blocks)
	if len(blocks) != 2 || !blocks[1].Equal(chain.Tip()) {
		t.Fatalf("unexpected chain %v", blocks)
	}

	var length map[string]int
	get(t, ts.URL+"/blockchain/length", &length)
	if length["length"] != 2 {
		t.Errorf("expected length 2, got %v", length)
	}
}

func TestGetRange(t *testing.T) {
	chain, ts := newTestServer(t)
	if err := chain.Replace(mined(t, 3)); err != nil {
		t.Fatal(err)
	}

	var blocks []blockchain.Block
	get(t, ts.URL+"/blockchain/range?start=0&end=2", &blocks)
	if len(blocks) != 2 || !blocks[0].Equal(chain.Tip()) {
		t.Fatalf("expected the two newest blocks, got %v", blocks)
	}

	if resp := get(t, ts.URL+"/blockchain/range?start=x&end=2", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad start, got %d", resp.StatusCode)
	}
}

func TestMine(t *testing.T) {
	chain, ts := newTestServer(t)

	resp := post(t, ts.URL+"/blockchain/mine", []interface{}{"hello", map[string]int{"n": 1}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var block blockchain.Block
	if err := json.NewDecoder(resp.Body).Decode(&block); err != nil {
		t.Fatal(err)
	}
	if !block.Equal(chain.Tip()) || len(block.Data) != 2 {
		t.Errorf("unexpected block %s", block)
	}

	if resp := post(t, ts.URL+"/blockchain/mine", map[string]int{"not": 1}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-array payload, got %d", resp.StatusCode)
	}

	if resp := get(t, ts.URL+"/blockchain/mine", nil); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestReplace(t *testing.T) {
	chain, ts := newTestServer(t)

	longer := mined(t, 3)
	if resp := post(t, ts.URL+"/blockchain/replace", longer); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if chain.Len() != 4 {
		t.Fatalf("expected chain of 4, got %d", chain.Len())
	}

	if resp := post(t, ts.URL+"/blockchain/replace", mined(t, 2)); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for a shorter chain, got %d", resp.StatusCode)
	}

	bad := mined(t, 5)
	bad[4].LastHash = "evil"
	resp := post(t, ts.URL+"/blockchain/replace", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for an invalid chain, got %d", resp.StatusCode)
	}
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.Index == nil || *e.Index != 4 {
		t.Errorf("expected failing index 4, got %+v", e)
	}
	if chain.Len() != 4 {
		t.Errorf("invalid chain must not be adopted")
	}
}

func TestQuery(t *testing.T) {
	_, ts := newTestServer(t)

	var rows []map[string]interface{}
	resp := get(t, ts.URL+"/sql?query=SELECT+hash+FROM+blocks", &rows)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(rows) != 1 || rows[0]["hash"] != blockchain.Genesis().Hash {
		t.Errorf("unexpected rows %v", rows)
	}

	if resp := get(t, ts.URL+"/sql", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without a query, got %d", resp.StatusCode)
	}
}

func TestMineEnforcesLedgerRules(t *testing.T) {
	chain := blockchain.New(blockchain.DefaultParams(), blockchain.WithLedgerRules(transaction.Rules()))
	ts := httptest.NewServer(New(chain, nil).Handler())
	defer ts.Close()

	if resp := post(t, ts.URL+"/blockchain/mine", []string{"hello"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a payload that is not transactions, got %d", resp.StatusCode)
	}
	if chain.Len() != 1 {
		t.Fatalf("rejected payload was mined")
	}

	reward, err := transaction.Reward("miner")
	if err != nil {
		t.Fatal(err)
	}
	if resp := post(t, ts.URL+"/blockchain/mine", []interface{}{reward}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for a reward transaction, got %d", resp.StatusCode)
	}

	resp, err := http.Post(ts.URL+"/blockchain/mine", "application/json", bytes.NewReader([]byte("[\"\xff\"]")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid UTF-8, got %d", resp.StatusCode)
	}
}
