package noise

import "errors"

// ErrAuthFailure is returned when an AEAD tag fails to verify, during the
// handshake or on the transport cipher.
var ErrAuthFailure = errors.New("noise: AEAD authentication failure")

// ErrProtocol is returned for malformed handshake wire data (wrong length,
// wrong version byte).
var ErrProtocol = errors.New("noise: handshake protocol error")

// ErrHandshakeState is returned when a handshake method is called out of
// sequence (e.g. reading Act 2 before Act 1 was sent).
var ErrHandshakeState = errors.New("noise: handshake called out of sequence")
