package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// Keyring binds ledger identities (account names) to the public key allowed
// to act for them. It is safe for concurrent use.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewKeyring builds a keyring from identity -> hex public key entries.
func NewKeyring(entries map[string]string) (*Keyring, error) {
	kr := &Keyring{keys: make(map[string]ed25519.PublicKey, len(entries))}
	for user, keyHex := range entries {
		if err := kr.Register(user, keyHex); err != nil {
			return nil, err
		}
	}
	return kr, nil
}

// Register binds user to the given hex public key, replacing any earlier
// binding.
func (k *Keyring) Register(user, keyHex string) error {
	if user == "" {
		return fmt.Errorf("keyring: empty identity")
	}
	pub, err := ParsePublicKeyHex(keyHex)
	if err != nil {
		return fmt.Errorf("keyring: %s: %w", user, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[user] = pub
	return nil
}

// Authorizes reports whether a signature made with pub attests user.
// Registered identities accept only their bound key; any other identity is
// self-certifying and must equal the hex encoding of pub.
func (k *Keyring) Authorizes(user string, pub ed25519.PublicKey) bool {
	if user == "" || len(pub) != ed25519.PublicKeySize {
		return false
	}
	if k != nil {
		k.mu.RLock()
		bound, ok := k.keys[user]
		k.mu.RUnlock()
		if ok {
			return bytes.Equal(bound, pub)
		}
	}
	return user == hex.EncodeToString(pub)
}

// Users lists registered identities in sorted order.
func (k *Keyring) Users() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.keys))
	for u := range k.keys {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
