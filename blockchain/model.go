package blockchain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/OdyseeTeam/powchain/hashing"

	"github.com/cockroachdb/errors"
)

// Payload is the opaque application data a block carries, one raw JSON value per element.
type Payload []json.RawMessage

// NewPayload marshals each value into its own payload element.
func NewPayload(values ...interface{}) (Payload, error) {
	p := make(Payload, 0, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "payload element %d", i)
		}
		p = append(p, b)
	}
	return p, nil
}

// MustPayload is like NewPayload but panics on error.
func MustPayload(values ...interface{}) Payload {
	p, err := NewPayload(values...)
	if err != nil {
		panic(err)
	}
	return p
}

// MarshalJSON encodes a nil payload as an empty array so it hashes the same as an empty one.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]json.RawMessage(p))
}

// UnmarshalJSON rejects invalid UTF-8, which would otherwise hash the same as U+FFFD.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if !utf8.Valid(data) {
		return errors.Mark(errors.New("payload is not valid UTF-8"), hashing.ErrSerialization)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return errors.WithStack(err)
	}
	if elems == nil {
		elems = []json.RawMessage{}
	}
	*p = elems
	return nil
}

// Equal compares payloads element by element on their canonical JSON form.
func (p Payload) Equal(o Payload) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if bytes.Equal(p[i], o[i]) {
			continue
		}
		a, err := hashing.Canonical(p[i])
		if err != nil {
			return false
		}
		b, err := hashing.Canonical(o[i])
		if err != nil || a != b {
			return false
		}
	}
	return true
}

type Block struct {
	Timestamp  int64   `json:"timestamp"`
	LastHash   string  `json:"last_hash"`
	Hash       string  `json:"hash"`
	Data       Payload `json:"data"`
	Difficulty int     `json:"difficulty"`
	Nonce      int64   `json:"nonce"`
}

// ComputeHash hashes every field of the block except Hash itself.
func (b Block) ComputeHash() (string, error) {
	return hashing.CanonicalHash(b.Timestamp, b.LastHash, b.Data, b.Difficulty, b.Nonce)
}

// Equal reports whether all fields of b and o match.
func (b Block) Equal(o Block) bool {
	return b.Timestamp == o.Timestamp &&
		b.LastHash == o.LastHash &&
		b.Hash == o.Hash &&
		b.Difficulty == o.Difficulty &&
		b.Nonce == o.Nonce &&
		b.Data.Equal(o.Data)
}

func (b Block) String() string {
	return fmt.Sprintf("Block(timestamp: %d, last_hash: %s, hash: %s, data: %d elements, difficulty: %d, nonce: %d)",
		b.Timestamp, b.LastHash, b.Hash, len(b.Data), b.Difficulty, b.Nonce)
}

// Genesis returns the hard-coded first block shared by every node. It is never mined, so its
// hash is a sentinel rather than the hash of its fields.
func Genesis() Block {
	return Block{
		Timestamp:  1,
		LastHash:   "genesis_last_hash",
		Hash:       "genesis_hash",
		Data:       Payload{},
		Difficulty: 3,
		Nonce:      0,
	}
}

// DecodeChain parses a serialized chain, a JSON array of blocks.
func DecodeChain(data []byte) ([]Block, error) {
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, errors.Wrap(err, "decode chain")
	}
	return blocks, nil
}
