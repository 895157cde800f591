package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// TxType names the operation a transaction carries.
type TxType string

const (
	TxPost TxType = "post"
	TxLike TxType = "like"
)

// Transaction is the unsigned operation envelope. Nonce makes otherwise
// identical operations produce distinct transaction bytes.
type Transaction struct {
	Type    TxType          `json:"type"`
	Nonce   string          `json:"nonce"`
	Payload json.RawMessage `json:"payload"`
}

// PostPayload carries the arguments of a post operation.
type PostPayload struct {
	ID      uint64 `json:"id"`
	ReplyTo uint64 `json:"reply_to"`
	User    string `json:"user"`
	Content string `json:"content"`
}

// LikePayload carries the arguments of a like operation.
type LikePayload struct {
	ID   uint64 `json:"id"`
	User string `json:"user"`
}

// Signer is anything able to sign bytes with an ed25519 key.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() ed25519.PublicKey
}

// SignedTransaction is what travels through consensus: the marshalled inner
// Transaction plus the signer's public key and signature over it.
type SignedTransaction struct {
	Tx        json.RawMessage   `json:"tx"`
	PublicKey ed25519.PublicKey `json:"public_key"`
	Signature []byte            `json:"signature"`
}

// NewTransaction builds a transaction of the given type with a fresh nonce.
func NewTransaction(txType TxType, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Type:    txType,
		Nonce:   uuid.NewString(),
		Payload: raw,
	}, nil
}

// Sign marshals the transaction and signs the resulting bytes.
func (t *Transaction) Sign(s Signer) (*SignedTransaction, error) {
	if s == nil {
		return nil, errors.New("signer is required")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Tx:        raw,
		PublicKey: s.PublicKey(),
		Signature: s.Sign(raw),
	}, nil
}

// Verify checks the signature against the embedded public key.
func (st *SignedTransaction) Verify() bool {
	if len(st.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(st.PublicKey, st.Tx, st.Signature)
}

// SignerHex returns the signer's public key hex, the canonical form of a
// key-derived identity.
func (st *SignedTransaction) SignerHex() string {
	return hex.EncodeToString(st.PublicKey)
}

// GetTransaction decodes the inner transaction.
func (st *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(st.Tx, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// DecodeSignedTransaction parses raw transaction bytes as delivered by the
// consensus engine.
func DecodeSignedTransaction(b []byte) (*SignedTransaction, error) {
	var st SignedTransaction
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
