// Package crypto wraps Ed25519 signing and verification over the
// canonical byte encodings used for votes, proposals and transactions.
//
// The teacher repo (flow-go) vendors its own BLS-based crypto module via a
// local replace directive we cannot fetch; golang.org/x/crypto/ed25519 is
// the real upstream signature library the teacher's go.mod already names,
// used the same way: sign/verify over a message's canonical bytes.
package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"
)

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [ed25519.PublicKeySize]byte

// PrivateKey is a 64-byte Ed25519 private key (seed || public key).
type PrivateKey [ed25519.PrivateKeySize]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [ed25519.SignatureSize]byte

func (pk PublicKey) String() string  { return hex.EncodeToString(pk[:]) }
func (sk PrivateKey) String() string { return "<redacted>" }

// MarshalJSON encodes the public key as a hex string so structs holding
// it (e.g. Account) remain canonical under the JSON wire codec.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + pk.String() + `"`), nil
}

// UnmarshalJSON parses a public key from its hex string form.
func (pk *PublicKey) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return errors.New("invalid public key encoding")
	}
	raw, err := hex.DecodeString(string(b[1 : len(b)-1]))
	if err != nil {
		return errors.Wrap(err, "could not decode public key")
	}
	if len(raw) != len(pk) {
		return errors.Errorf("invalid public key length (have %d, want %d)", len(raw), len(pk))
	}
	copy(pk[:], raw)
	return nil
}

// GenerateKeyPair generates a fresh Ed25519 keypair using crypto/rand.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, PrivateKey{}, errors.Wrap(err, "could not generate key pair")
	}
	var pk PublicKey
	var sk PrivateKey
	copy(pk[:], pub)
	copy(sk[:], priv)
	return pk, sk, nil
}

// KeyPairFromHex parses a hex-encoded private key (as loaded from the
// SECRET_KEY_i environment variable) and derives its public key.
func KeyPairFromHex(secretHex string) (PublicKey, PrivateKey, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return PublicKey{}, PrivateKey{}, errors.Wrap(err, "could not decode secret key")
	}
	if len(raw) != ed25519.PrivateKeySize {
		return PublicKey{}, PrivateKey{}, errors.Errorf("invalid secret key length (have %d, want %d)", len(raw), ed25519.PrivateKeySize)
	}
	var sk PrivateKey
	copy(sk[:], raw)
	pub := ed25519.PrivateKey(raw).Public().(ed25519.PublicKey)
	var pk PublicKey
	copy(pk[:], pub)
	return pk, sk, nil
}

// PublicKeyFromHex parses a hex-encoded public key (as loaded from the
// PUBLIC_KEY_i environment variable).
func PublicKeyFromHex(publicHex string) (PublicKey, error) {
	raw, err := hex.DecodeString(publicHex)
	if err != nil {
		return PublicKey{}, errors.Wrap(err, "could not decode public key")
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, errors.Errorf("invalid public key length (have %d, want %d)", len(raw), ed25519.PublicKeySize)
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}

// Sign signs the given canonical message bytes with the private key.
func Sign(sk PrivateKey, msg []byte) Signature {
	raw := ed25519.Sign(ed25519.PrivateKey(sk[:]), msg)
	var sig Signature
	copy(sig[:], raw)
	return sig
}

// Verify checks a signature against a message under the given public key.
func Verify(pk PublicKey, msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig[:])
}
