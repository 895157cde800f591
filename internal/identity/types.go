package identity

import (
	"crypto/ed25519"
	"encoding/hex"

	"talk.mini/talk/internal/types"
)

var _ types.Signer = (*Identity)(nil)

// Identity is the key a client or node signs talk transactions with. The
// ledger user it may act as is its public key hex, or any name a Keyring binds
// to that key.
type Identity struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	pubHex string
}

// NewIdentity wraps an ed25519 private key.
func NewIdentity(priv ed25519.PrivateKey) *Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{priv: priv, pub: pub, pubHex: hex.EncodeToString(pub)}
}

// Sign signs the marshalled inner transaction.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.priv, message)
}

// Verify checks a signature made by this identity.
func (i *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(i.pub, message, signature)
}

// PublicKey is carried in every SignedTransaction so nodes can verify it.
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.pub
}

// PublicKeyHex is the ledger user name of an identity no Keyring entry
// covers.
func (i *Identity) PublicKeyHex() string {
	return i.pubHex
}
