package noise

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// StaticKey is a node's long-term secp256k1 identity keypair. It is owned by
// the handshake that uses it and is zeroized once that handshake has
// produced its transport keys or failed.
type StaticKey struct {
	priv *secp256k1.PrivateKey
	pub  *secp256k1.PublicKey
}

// NewStaticKey wraps a 32-byte secp256k1 secret key.
func NewStaticKey(secret [KeySize]byte) *StaticKey {
	priv := secp256k1.PrivKeyFromBytes(secret[:])
	return &StaticKey{priv: priv, pub: priv.PubKey()}
}

// PubKey returns the 33-byte compressed public key.
func (k *StaticKey) PubKey() [PubKeySize]byte {
	var out [PubKeySize]byte
	copy(out[:], k.pub.SerializeCompressed())
	return out
}

// Zero overwrites the private scalar. Called once the handshake that used
// the key has completed Act 3 or failed.
func (k *StaticKey) Zero() {
	if k.priv != nil {
		k.priv.Zero()
	}
}

// EphemeralKey is a fresh secp256k1 keypair generated once per handshake and
// discarded immediately after Act 3 completes.
type EphemeralKey struct {
	priv *secp256k1.PrivateKey
	pub  *secp256k1.PublicKey
}

// GenerateEphemeralKey creates a new random ephemeral keypair using
// crypto/rand via the secp256k1 library's key generator.
func GenerateEphemeralKey() (*EphemeralKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return &EphemeralKey{priv: priv, pub: priv.PubKey()}, nil
}

// PubKey returns the 33-byte compressed public key.
func (k *EphemeralKey) PubKey() [PubKeySize]byte {
	var out [PubKeySize]byte
	copy(out[:], k.pub.SerializeCompressed())
	return out
}

// Zero overwrites the private scalar.
func (k *EphemeralKey) Zero() {
	if k.priv != nil {
		k.priv.Zero()
	}
}

// parsePubKey parses a 33-byte compressed secp256k1 public key.
func parsePubKey(compressed [PubKeySize]byte) (*secp256k1.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(compressed[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return pub, nil
}

// zeroBytes overwrites a byte slice with zeros. Mirrors the teacher's
// crypto.ZeroBytes helper.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// zeroArray32 overwrites a 32-byte array with zeros. Mirrors the teacher's
// crypto.ZeroKey helper.
func zeroArray32(a *[32]byte) {
	for i := range a {
		a[i] = 0
	}
}
