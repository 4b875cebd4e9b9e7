package transaction

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/ripemd160"
)

// Wallet holds a signing key and the address derived from it.
type Wallet struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
}

func NewWallet() (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Wallet{priv: priv, pub: pub, address: Address(pub)}, nil
}

// WalletFromKey restores a wallet from a raw ed25519 private key.
func WalletFromKey(priv ed25519.PrivateKey) (*Wallet, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.Newf("invalid ed25519 private key size %d", len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{priv: priv, pub: pub, address: Address(pub)}, nil
}

func (w *Wallet) Address() string { return w.address }

func (w *Wallet) PublicKeyHex() string { return hex.EncodeToString(w.pub) }

// Sign returns the hex encoded signature of msg.
func (w *Wallet) Sign(msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(w.priv, msg))
}

// Address is hex(ripemd160(sha256(pub))).
func Address(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	r := ripemd160.New()
	_, _ = r.Write(h[:])
	return hex.EncodeToString(r.Sum(nil))
}

// Verify checks a hex signature made by the hex public key over msg.
func Verify(pubHex string, msg []byte, sigHex string) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
