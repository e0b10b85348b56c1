package noise

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// rekeyThreshold is the number of AEAD operations a CipherState half may
// perform before it must rekey, per BOLT #8.
const rekeyThreshold = 1000

// CipherState is one direction (send or receive) of the post-handshake
// transport cipher. It is single-owner per the concurrency model: the
// sending half is used only by whoever holds the socket's write lock, the
// receiving half only by the background reader.
type CipherState struct {
	mu sync.Mutex

	key         [32]byte
	chainingKey [32]byte
	nonce       uint64
}

func newCipherState(key, chainingKey [32]byte) *CipherState {
	return &CipherState{key: key, chainingKey: chainingKey}
}

// nextOp returns the nonce to use for the next AEAD operation, rekeying
// first if the threshold has been reached.
func (c *CipherState) nextOp() (uint64, error) {
	if c.nonce >= rekeyThreshold {
		if err := c.rekey(); err != nil {
			return 0, err
		}
	}
	n := c.nonce
	c.nonce++
	return n, nil
}

// rekey derives a new key and chaining key and resets the nonce counter to
// zero, per spec.md's CipherState rekey rule.
func (c *CipherState) rekey() error {
	newCk, newKey, err := hkdf2(c.chainingKey, c.key)
	if err != nil {
		return fmt.Errorf("rekey: %w", err)
	}
	zeroArray32(&c.key)
	c.chainingKey = newCk
	c.key = newKey
	c.nonce = 0
	return nil
}

func (c *CipherState) encrypt(ad, plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.nextOp()
	if err != nil {
		return nil, err
	}
	return aeadEncrypt(c.key, n, ad, plaintext)
}

func (c *CipherState) decrypt(ad, ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.nextOp()
	if err != nil {
		return nil, err
	}
	return aeadDecrypt(c.key, n, ad, ciphertext)
}

// zero wipes the key material. Called when the owning socket closes or the
// state is poisoned by a decrypt failure.
func (c *CipherState) zero() {
	c.mu.Lock()
	defer c.mu.Unlock()
	zeroArray32(&c.key)
	zeroArray32(&c.chainingKey)
}

// TransportState holds the two independent CipherState halves produced by a
// completed handshake, plus the poisoned flag a decrypt failure sets.
type TransportState struct {
	Send *CipherState
	Recv *CipherState

	mu       sync.Mutex
	poisoned bool
}

func newTransportState(sendKey, recvKey, chainingKey [32]byte) *TransportState {
	return &TransportState{
		Send: newCipherState(sendKey, chainingKey),
		Recv: newCipherState(recvKey, chainingKey),
	}
}

// Poisoned reports whether a prior decrypt failure has terminally disabled
// this transport state.
func (t *TransportState) Poisoned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.poisoned
}

func (t *TransportState) poison() {
	t.mu.Lock()
	t.poisoned = true
	t.mu.Unlock()
}

// EncryptMessage encrypts one LN message payload for the wire, per
// spec.md's two-AEAD-call frame format: AEAD(len) || AEAD(payload).
func (t *TransportState) EncryptMessage(plaintext []byte) ([]byte, error) {
	if t.Poisoned() {
		return nil, ErrAuthFailure
	}
	if len(plaintext) > 0xFFFF {
		return nil, fmt.Errorf("noise: message too large: %d bytes", len(plaintext))
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(plaintext)))

	lc, err := t.Send.encrypt(nil, lenBuf[:])
	if err != nil {
		return nil, err
	}
	c, err := t.Send.encrypt(nil, plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(lc)+len(c))
	out = append(out, lc...)
	out = append(out, c...)
	return out, nil
}

// DecryptLength decrypts the 18-byte encrypted length prefix of a frame and
// returns the plaintext payload length that follows.
func (t *TransportState) DecryptLength(lc []byte) (uint16, error) {
	if t.Poisoned() {
		return 0, ErrAuthFailure
	}
	plaintext, err := t.Recv.decrypt(nil, lc)
	if err != nil {
		t.poison()
		return 0, err
	}
	if len(plaintext) != 2 {
		t.poison()
		return 0, fmt.Errorf("%w: length plaintext wrong size", ErrProtocol)
	}
	return binary.BigEndian.Uint16(plaintext), nil
}

// DecryptPayload decrypts the payload+tag that follows a length prefix.
func (t *TransportState) DecryptPayload(ciphertext []byte) ([]byte, error) {
	if t.Poisoned() {
		return nil, ErrAuthFailure
	}
	plaintext, err := t.Recv.decrypt(nil, ciphertext)
	if err != nil {
		t.poison()
		return nil, err
	}
	return plaintext, nil
}

// Close zeroizes both cipher halves.
func (t *TransportState) Close() {
	t.Send.zero()
	t.Recv.zero()
}
