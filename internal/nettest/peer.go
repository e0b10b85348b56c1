// Package nettest provides a scripted mock Lightning peer for black-box
// testing of this module's handshake, framing, and Commando RPC layers. It
// deliberately reimplements the responder side of Noise_XK from scratch
// (rather than reaching into the noise package's unexported internals) so
// tests exercise the real wire format end to end, the way the teacher's
// peer tests drive connections over io.Pipe without poking at internal
// state.
package nettest

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	protocolName = "Noise_XK_secp256k1_ChaChaPoly_SHA256"
	prologue     = "lightning"

	pubKeySize = 33
	tagSize    = 16
	act1Size   = 1 + pubKeySize + tagSize
	act2Size   = 1 + pubKeySize + tagSize
	act3Size   = 1 + (pubKeySize + tagSize) + tagSize

	rekeyThreshold = 1000
)

func ecdh(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) [32]byte {
	var point secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	shared := secp256k1.NewPublicKey(&result.X, &result.Y)
	return sha256.Sum256(shared.SerializeCompressed())
}

func hkdf2(salt, ikm [32]byte) (a, b [32]byte, err error) {
	r := hkdf.New(sha256.New, ikm[:], salt[:], nil)
	var okm [64]byte
	if _, err := io.ReadFull(r, okm[:]); err != nil {
		return a, b, err
	}
	copy(a[:], okm[:32])
	copy(b[:], okm[32:])
	return a, b, nil
}

func nonceBytes(n uint64) [12]byte {
	var out [12]byte
	binary.LittleEndian.PutUint64(out[4:], n)
	return out
}

func aeadSeal(key [32]byte, n uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := nonceBytes(n)
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

func aeadOpen(key [32]byte, n uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := nonceBytes(n)
	return aead.Open(nil, nonce[:], ciphertext, ad)
}

// cipherHalf is a minimal rekeying AEAD half, independent of the production
// noise.CipherState but following the identical BOLT #8 rule.
type cipherHalf struct {
	key, ck [32]byte
	nonce   uint64
}

func (c *cipherHalf) rekey() error {
	newCk, newKey, err := hkdf2(c.ck, c.key)
	if err != nil {
		return err
	}
	c.ck, c.key, c.nonce = newCk, newKey, 0
	return nil
}

func (c *cipherHalf) encrypt(plaintext []byte) ([]byte, error) {
	if c.nonce >= rekeyThreshold {
		if err := c.rekey(); err != nil {
			return nil, err
		}
	}
	out, err := aeadSeal(c.key, c.nonce, nil, plaintext)
	c.nonce++
	return out, err
}

func (c *cipherHalf) decrypt(ciphertext []byte) ([]byte, error) {
	if c.nonce >= rekeyThreshold {
		if err := c.rekey(); err != nil {
			return nil, err
		}
	}
	out, err := aeadOpen(c.key, c.nonce, nil, ciphertext)
	c.nonce++
	return out, err
}

// Peer is a Noise_XK responder plus LN message framing, suitable for
// driving the client side of this library under test.
type Peer struct {
	conn   net.Conn
	static *secp256k1.PrivateKey

	send, recv *cipherHalf
}

// NewPeer wraps conn (one end of a net.Pipe) with a responder identity.
func NewPeer(conn net.Conn, responderSecret [32]byte) *Peer {
	return &Peer{conn: conn, static: secp256k1.PrivKeyFromBytes(responderSecret[:])}
}

// StaticPubKey returns the 33-byte compressed responder static public key,
// the value a test's client-side Handshake must be configured with.
func (p *Peer) StaticPubKey() [33]byte {
	var out [33]byte
	copy(out[:], p.static.PubKey().SerializeCompressed())
	return out
}

// Handshake performs the responder side of Noise_XK over p.conn, blocking
// until Act 3 is consumed or an error occurs.
func (p *Peer) Handshake() error {
	h := sha256.Sum256([]byte(protocolName))
	ck := h
	mix := func(data []byte) {
		s := sha256.New()
		s.Write(h[:])
		s.Write(data)
		copy(h[:], s.Sum(nil))
	}
	mix([]byte(prologue))
	mix(p.static.PubKey().SerializeCompressed())

	act1 := make([]byte, act1Size)
	if _, err := io.ReadFull(p.conn, act1); err != nil {
		return fmt.Errorf("read act1: %w", err)
	}
	if act1[0] != 0x00 {
		return fmt.Errorf("act1: bad version byte")
	}
	initE, err := secp256k1.ParsePubKey(act1[1 : 1+pubKeySize])
	if err != nil {
		return fmt.Errorf("act1: bad ephemeral pubkey: %w", err)
	}
	tag1 := act1[1+pubKeySize:]
	mix(act1[1 : 1+pubKeySize])

	ss1 := ecdh(p.static, initE)
	ck, tempK1, err := hkdf2(ck, ss1)
	if err != nil {
		return err
	}
	if _, err := aeadOpen(tempK1, 0, h[:], tag1); err != nil {
		return fmt.Errorf("act1 tag invalid: %w", err)
	}
	mix(tag1)

	e, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return err
	}
	rePub := e.PubKey().SerializeCompressed()
	mix(rePub)

	ss2 := ecdh(e, initE)
	ck, tempK2, err := hkdf2(ck, ss2)
	if err != nil {
		return err
	}
	tag2, err := aeadSeal(tempK2, 0, h[:], nil)
	if err != nil {
		return err
	}
	mix(tag2)

	act2 := make([]byte, 0, act2Size)
	act2 = append(act2, 0x00)
	act2 = append(act2, rePub...)
	act2 = append(act2, tag2...)
	if _, err := p.conn.Write(act2); err != nil {
		return fmt.Errorf("write act2: %w", err)
	}

	act3 := make([]byte, act3Size)
	if _, err := io.ReadFull(p.conn, act3); err != nil {
		return fmt.Errorf("read act3: %w", err)
	}
	if act3[0] != 0x00 {
		return fmt.Errorf("act3: bad version byte")
	}
	c := act3[1 : 1+pubKeySize+tagSize]
	tag3 := act3[1+pubKeySize+tagSize:]

	sPubBytes, err := aeadOpen(tempK2, 1, h[:], c)
	if err != nil {
		return fmt.Errorf("act3 static key decrypt failed: %w", err)
	}
	mix(c)

	sPub, err := secp256k1.ParsePubKey(sPubBytes)
	if err != nil {
		return fmt.Errorf("act3: bad static pubkey: %w", err)
	}

	ss3 := ecdh(e, sPub)
	ck, tempK3, err := hkdf2(ck, ss3)
	if err != nil {
		return err
	}
	if _, err := aeadOpen(tempK3, 0, h[:], tag3); err != nil {
		return fmt.Errorf("act3 final tag invalid: %w", err)
	}

	var zeros [32]byte
	initSend, initRecv, err := hkdf2(ck, zeros)
	if err != nil {
		return err
	}

	// Responder sends with the initiator's receive key and vice versa.
	p.send = &cipherHalf{key: initRecv, ck: ck}
	p.recv = &cipherHalf{key: initSend, ck: ck}
	return nil
}

// ReadMessage reads and decrypts one LN message.
func (p *Peer) ReadMessage() ([]byte, error) {
	lc := make([]byte, 2+tagSize)
	if _, err := io.ReadFull(p.conn, lc); err != nil {
		return nil, err
	}
	lenPlain, err := p.recv.decrypt(lc)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(lenPlain)
	body := make([]byte, int(length)+tagSize)
	if _, err := io.ReadFull(p.conn, body); err != nil {
		return nil, err
	}
	return p.recv.decrypt(body)
}

// WriteMessage encrypts and writes one LN message.
func (p *Peer) WriteMessage(plaintext []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(plaintext)))
	lc, err := p.send.encrypt(lenBuf[:])
	if err != nil {
		return err
	}
	body, err := p.send.encrypt(plaintext)
	if err != nil {
		return err
	}
	if _, err := p.conn.Write(append(lc, body...)); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}
