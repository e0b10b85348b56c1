// Package noise implements the BOLT #8 Noise_XK handshake and the
// post-handshake transport cipher used to secure a Lightning Network peer
// connection.
package noise

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of a secp256k1 private key and a derived
	// symmetric key in bytes.
	KeySize = 32

	// PubKeySize is the size of a compressed secp256k1 public key.
	PubKeySize = 33

	// TagSize is the size of the Poly1305 authentication tag.
	TagSize = 16
)

// ecdh performs secp256k1 scalar multiplication between a private key and a
// remote public key and returns SHA-256 of the resulting point in
// compressed form, per BOLT #8.
func ecdh(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) [KeySize]byte {
	var point secp256k1.JacobianPoint
	pub.AsJacobian(&point)

	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	shared := secp256k1.NewPublicKey(&result.X, &result.Y)
	return sha256.Sum256(shared.SerializeCompressed())
}

// hkdf2 runs HKDF-SHA256 with the given salt and input keying material,
// empty info, and L=64, returning the first and second 32-byte halves of
// the output keying material.
func hkdf2(salt, ikm [KeySize]byte) (first, second [KeySize]byte, err error) {
	reader := hkdf.New(sha256.New, ikm[:], salt[:], nil)
	var okm [64]byte
	if _, err := io.ReadFull(reader, okm[:]); err != nil {
		return first, second, fmt.Errorf("hkdf2: %w", err)
	}
	copy(first[:], okm[:32])
	copy(second[:], okm[32:])
	return first, second, nil
}

// encodeNonce encodes a Noise nonce: 4 zero bytes followed by a little-endian u64
// counter, per BOLT #8.
func encodeNonce(n uint64) [12]byte {
	var out [12]byte
	out[4] = byte(n)
	out[5] = byte(n >> 8)
	out[6] = byte(n >> 16)
	out[7] = byte(n >> 24)
	out[8] = byte(n >> 32)
	out[9] = byte(n >> 40)
	out[10] = byte(n >> 48)
	out[11] = byte(n >> 56)
	return out
}

// aeadEncrypt encrypts plaintext with ChaCha20-Poly1305 under key, the given
// nonce counter, and associated data ad, returning ciphertext||tag.
func aeadEncrypt(key [KeySize]byte, n uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	nonce := encodeNonce(n)
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

// aeadDecrypt decrypts ciphertext||tag with ChaCha20-Poly1305 under key, the
// given nonce counter, and associated data ad. A tag mismatch is reported as
// ErrAuthFailure.
func aeadDecrypt(key [KeySize]byte, n uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	nonce := encodeNonce(n)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
