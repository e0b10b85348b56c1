// Package lnerr defines the error taxonomy shared by every layer of the
// client: address parsing, the SOCKS5 dialer, the handshake, the transport
// cipher, and the Commando RPC client. Centralizing it here (rather than in
// each package) keeps sentinel identity stable across package boundaries,
// the way the teacher centralizes its frame/error-code vocabulary in
// internal/protocol/types.go.
package lnerr

import (
	"errors"
	"fmt"
)

var (
	// ErrAddrParse means the host/port could not be parsed.
	ErrAddrParse = errors.New("lnsocket: address could not be parsed")

	// ErrIo wraps an underlying stream I/O error.
	ErrIo = errors.New("lnsocket: i/o error")

	// ErrHandshakeProtocol means the handshake saw a wrong byte length or
	// version byte.
	ErrHandshakeProtocol = errors.New("lnsocket: handshake protocol error")

	// ErrHandshakeAuth means an AEAD tag mismatched during the handshake.
	ErrHandshakeAuth = errors.New("lnsocket: handshake authentication failure")

	// ErrCrypto means an ECDH or HKDF primitive reported failure.
	ErrCrypto = errors.New("lnsocket: crypto primitive failure")

	// ErrTransportDecrypt means a post-handshake AEAD tag mismatched. It is
	// terminal: the socket that returns it must not be used again.
	ErrTransportDecrypt = errors.New("lnsocket: transport decrypt failure")

	// ErrStreamClosed means the underlying stream hit EOF mid-frame or
	// before the peer's init was received.
	ErrStreamClosed = errors.New("lnsocket: stream closed")

	// ErrRpcMalformed means the assembled Commando response was not valid
	// JSON.
	ErrRpcMalformed = errors.New("lnsocket: malformed rpc response")

	// ErrTimeout means a call's deadline expired before a response arrived.
	ErrTimeout = errors.New("lnsocket: call timed out")

	// ErrTransportLost means a terminal transport error surfaced to a
	// caller mid-call.
	ErrTransportLost = errors.New("lnsocket: transport lost")

	// ErrCancelled means the client was dropped or the call was aborted.
	ErrCancelled = errors.New("lnsocket: cancelled")

	// ErrReconnectExhausted means the backoff policy gave up.
	ErrReconnectExhausted = errors.New("lnsocket: reconnect attempts exhausted")
)

// Socks5Error reports a SOCKS5 proxy's refusal reason.
type Socks5Error struct {
	Reason string
}

func (e *Socks5Error) Error() string {
	return fmt.Sprintf("lnsocket: socks5: %s", e.Reason)
}

// UnknownRequiredMessageError reports an unknown even-typed LN message, per
// the "it's OK to be odd" rule.
type UnknownRequiredMessageError struct {
	Type uint16
}

func (e *UnknownRequiredMessageError) Error() string {
	return fmt.Sprintf("lnsocket: unknown required message type %d", e.Type)
}

// RpcError reports a JSON-RPC error object returned by the peer.
type RpcError struct {
	Code    int
	Message string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("lnsocket: rpc error %d: %s", e.Code, e.Message)
}

// IsRetriable reports whether err is one of the retriable failure kinds
// spec.md §4.7 names: Timeout, TransportLost, and Reconnect*. RpcError and
// ErrRpcMalformed are never retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransportLost) || errors.Is(err, ErrReconnectExhausted)
}
