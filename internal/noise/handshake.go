package noise

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	protocolName = "Noise_XK_secp256k1_ChaChaPoly_SHA256"
	prologue     = "lightning"
)

// act1Size, act2Size, act3Size are the fixed wire sizes of each handshake
// message: version byte + point + tag(s).
const (
	act1Size = 1 + PubKeySize + TagSize
	act2Size = 1 + PubKeySize + TagSize
	act3Size = 1 + (PubKeySize + TagSize) + TagSize
)

// handshakeStage tracks progress through the three acts. Any operation
// attempted out of sequence returns ErrHandshakeState.
type handshakeStage int

const (
	stageUninit handshakeStage = iota
	stageAct1Sent
	stageAct2Received
	stageComplete
)

// Handshake drives the Noise_XK initiator role described in BOLT #8. Only
// the initiator side is implemented; this library never accepts
// connections.
type Handshake struct {
	stage handshakeStage

	ck [32]byte // chaining key
	h  [32]byte // running hash

	local  *StaticKey
	remote *secp256k1.PublicKey

	e               *EphemeralKey
	remoteEphemeral *secp256k1.PublicKey

	tempK1 [32]byte
	tempK2 [32]byte
}

// NewHandshake initializes handshake symmetric state for an initiator that
// knows the responder's static public key in advance, per the XK pattern.
func NewHandshake(local *StaticKey, remoteStaticPub [PubKeySize]byte) (*Handshake, error) {
	remote, err := parsePubKey(remoteStaticPub)
	if err != nil {
		return nil, fmt.Errorf("remote static pubkey: %w", err)
	}

	hs := &Handshake{local: local, remote: remote}

	h := sha256.Sum256([]byte(protocolName))
	hs.h = h
	hs.ck = h

	hs.mixHash([]byte(prologue))
	hs.mixHash(remoteStaticPub[:])

	e, err := GenerateEphemeralKey()
	if err != nil {
		return nil, err
	}
	hs.e = e

	return hs, nil
}

func (hs *Handshake) mixHash(data []byte) {
	sum := sha256.New()
	sum.Write(hs.h[:])
	sum.Write(data)
	copy(hs.h[:], sum.Sum(nil))
}

// Act1 produces the 50-byte initiator-to-responder message.
func (hs *Handshake) Act1() ([]byte, error) {
	if hs.stage != stageUninit {
		return nil, ErrHandshakeState
	}

	epub := hs.e.PubKey()
	hs.mixHash(epub[:])

	ss := ecdh(hs.e.priv, hs.remote)
	ck, tempK1, err := hkdf2(hs.ck, ss)
	if err != nil {
		return nil, fmt.Errorf("act1 hkdf: %w", err)
	}
	hs.ck = ck
	hs.tempK1 = tempK1

	tag, err := aeadEncrypt(hs.tempK1, 0, hs.h[:], nil)
	if err != nil {
		return nil, fmt.Errorf("act1 encrypt: %w", err)
	}
	hs.mixHash(tag)

	out := make([]byte, 0, act1Size)
	out = append(out, 0x00)
	out = append(out, epub[:]...)
	out = append(out, tag...)

	hs.stage = stageAct1Sent
	return out, nil
}

// Act2 consumes the 50-byte responder-to-initiator message.
func (hs *Handshake) Act2(msg []byte) error {
	if hs.stage != stageAct1Sent {
		return ErrHandshakeState
	}
	if len(msg) != act2Size {
		hs.zero()
		return fmt.Errorf("%w: act2 wrong length %d", ErrProtocol, len(msg))
	}
	if msg[0] != 0x00 {
		hs.zero()
		return fmt.Errorf("%w: act2 bad version byte 0x%02x", ErrProtocol, msg[0])
	}

	var rePub [PubKeySize]byte
	copy(rePub[:], msg[1:1+PubKeySize])
	tag := msg[1+PubKeySize:]

	re, err := parsePubKey(rePub)
	if err != nil {
		hs.zero()
		return fmt.Errorf("act2 ephemeral pubkey: %w", err)
	}

	hs.mixHash(rePub[:])

	ss := ecdh(hs.e.priv, re)
	ck, tempK2, err := hkdf2(hs.ck, ss)
	if err != nil {
		hs.zero()
		return fmt.Errorf("act2 hkdf: %w", err)
	}
	hs.ck = ck
	hs.tempK2 = tempK2

	if _, err := aeadDecrypt(hs.tempK2, 0, hs.h[:], tag); err != nil {
		hs.zero()
		return err
	}
	hs.mixHash(tag)

	hs.remoteEphemeral = re
	hs.stage = stageAct2Received
	return nil
}

// Act3 produces the 66-byte initiator-to-responder message and, on success,
// returns the resulting transport cipher state. The handshake object must
// not be reused afterward; all temporary key material is zeroized.
func (hs *Handshake) Act3() ([]byte, *TransportState, error) {
	if hs.stage != stageAct2Received {
		return nil, nil, ErrHandshakeState
	}

	ss := ecdh(hs.local.priv, hs.remoteEphemeral)
	ck, tempK3, err := hkdf2(hs.ck, ss)
	if err != nil {
		hs.zero()
		return nil, nil, fmt.Errorf("act3 hkdf: %w", err)
	}

	spub := hs.local.PubKey()
	c, err := aeadEncrypt(hs.tempK2, 1, hs.h[:], spub[:])
	if err != nil {
		hs.zero()
		return nil, nil, fmt.Errorf("act3 encrypt static: %w", err)
	}
	hs.mixHash(c)
	hs.ck = ck

	tag2, err := aeadEncrypt(tempK3, 0, hs.h[:], nil)
	if err != nil {
		hs.zero()
		return nil, nil, fmt.Errorf("act3 encrypt tag: %w", err)
	}

	out := make([]byte, 0, act3Size)
	out = append(out, 0x00)
	out = append(out, c...)
	out = append(out, tag2...)

	var zeros [32]byte
	sendKey, recvKey, err := hkdf2(hs.ck, zeros)
	if err != nil {
		hs.zero()
		return nil, nil, fmt.Errorf("act3 final hkdf: %w", err)
	}

	ts := newTransportState(sendKey, recvKey, hs.ck)

	hs.stage = stageComplete
	hs.zero()

	return out, ts, nil
}

// zero wipes every piece of secret handshake material. Called on both
// success (after deriving the transport keys) and failure.
func (hs *Handshake) zero() {
	if hs.e != nil {
		hs.e.Zero()
	}
	zeroArray32(&hs.tempK1)
	zeroArray32(&hs.tempK2)
	zeroArray32(&hs.ck)
}
