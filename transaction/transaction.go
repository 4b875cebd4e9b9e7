package transaction

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"math/bits"
	"time"

	"github.com/OdyseeTeam/powchain/blockchain"
	"github.com/OdyseeTeam/powchain/hashing"

	"github.com/cockroachdb/errors"
)

const (
	// MiningRewardAddress is the input address of the transaction that pays a block's miner.
	MiningRewardAddress        = "*--official-mining-reward--*"
	MiningReward        uint64 = 50
)

var (
	ErrInsufficientFunds = errors.New("amount exceeds balance")
	ErrInvalidOutput     = errors.New("invalid transaction output values")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidReward     = errors.New("invalid mining reward")
)

type Input struct {
	Timestamp int64  `json:"timestamp"`
	Amount    uint64 `json:"amount"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Transaction moves currency from the input address to one or more output addresses.
type Transaction struct {
	TxID   string            `json:"id"`
	Output map[string]uint64 `json:"output"`
	Input  Input             `json:"input"`
}

func (t *Transaction) ID() string { return t.TxID }

func (t *Transaction) InputSource() string { return t.Input.Address }

// New sends amount from the sender's balance to recipient, returning the change to the sender.
func New(sender *Wallet, balance uint64, recipient string, amount uint64) (*Transaction, error) {
	if amount > balance {
		return nil, errors.Wrapf(ErrInsufficientFunds, "amount %d, balance %d", amount, balance)
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	output := map[string]uint64{recipient: amount}
	if sender.Address() != recipient {
		output[sender.Address()] = balance - amount
	} else {
		output[recipient] = balance
	}

	msg, err := outputMessage(output)
	if err != nil {
		return nil, err
	}

	return &Transaction{
		TxID:   id,
		Output: output,
		Input: Input{
			Timestamp: time.Now().UnixNano(),
			Amount:    balance,
			Address:   sender.Address(),
			PublicKey: sender.PublicKeyHex(),
			Signature: sender.Sign(msg),
		},
	}, nil
}

// Reward pays the mining reward to minerAddress.
func Reward(minerAddress string) (*Transaction, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	return &Transaction{
		TxID:   id,
		Output: map[string]uint64{minerAddress: MiningReward},
		Input:  Input{Timestamp: time.Now().UnixNano(), Address: MiningRewardAddress},
	}, nil
}

// Validate checks reward transactions pay exactly the reward, and that regular transactions
// balance and are signed by the owner of the input address.
func Validate(t *Transaction) error {
	if t.Input.Address == MiningRewardAddress {
		if len(t.Output) != 1 {
			return errors.Wrapf(ErrInvalidReward, "%d outputs", len(t.Output))
		}
		for _, v := range t.Output {
			if v != MiningReward {
				return errors.Wrapf(ErrInvalidReward, "pays %d", v)
			}
		}
		return nil
	}

	var total, carry uint64
	for _, v := range t.Output {
		total, carry = bits.Add64(total, v, 0)
		if carry != 0 {
			return errors.Wrap(ErrInvalidOutput, "outputs overflow")
		}
	}
	if total != t.Input.Amount {
		return errors.Wrapf(ErrInvalidOutput, "outputs total %d, input %d", total, t.Input.Amount)
	}

	pub, err := hex.DecodeString(t.Input.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.Wrap(ErrInvalidSignature, "bad public key")
	}
	if Address(pub) != t.Input.Address {
		return errors.Wrap(ErrInvalidSignature, "public key does not own the input address")
	}

	msg, err := outputMessage(t.Output)
	if err != nil {
		return err
	}
	if !Verify(t.Input.PublicKey, msg, t.Input.Signature) {
		return errors.WithStack(ErrInvalidSignature)
	}
	return nil
}

// outputMessage is the signed form of an output map.
func outputMessage(output map[string]uint64) ([]byte, error) {
	s, err := hashing.Canonical(output)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func newID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", errors.WithStack(err)
	}
	return hex.EncodeToString(b), nil
}

// Codec plugs transactions into blockchain.LedgerRules.
type Codec struct{}

func (Codec) Decode(raw json.RawMessage) (blockchain.Transaction, error) {
	var t Transaction
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errors.Wrap(err, "decode transaction")
	}
	if t.TxID == "" {
		return nil, errors.New("transaction has no id")
	}
	return &t, nil
}

func (Codec) Validate(tx blockchain.Transaction) error {
	t, ok := tx.(*Transaction)
	if !ok {
		return errors.Newf("unexpected transaction type %T", tx)
	}
	return Validate(t)
}

// Rules returns the ledger rules for chains whose payloads are transactions.
func Rules() blockchain.LedgerRules {
	return blockchain.LedgerRules{Codec: Codec{}, MiningRewardSource: MiningRewardAddress}
}
