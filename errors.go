package lnsocket

import "github.com/lnbc1/lnsocket-go/internal/lnerr"

// Sentinel errors returned by this package's operations. Use errors.Is to
// test for them; use errors.As for the typed variants (Socks5Error,
// UnknownRequiredMessageError, RpcError) to recover structured detail.
var (
	ErrAddrParse          = lnerr.ErrAddrParse
	ErrIo                 = lnerr.ErrIo
	ErrHandshakeProtocol  = lnerr.ErrHandshakeProtocol
	ErrHandshakeAuth      = lnerr.ErrHandshakeAuth
	ErrCrypto             = lnerr.ErrCrypto
	ErrTransportDecrypt   = lnerr.ErrTransportDecrypt
	ErrStreamClosed       = lnerr.ErrStreamClosed
	ErrRpcMalformed       = lnerr.ErrRpcMalformed
	ErrTimeout            = lnerr.ErrTimeout
	ErrTransportLost      = lnerr.ErrTransportLost
	ErrCancelled          = lnerr.ErrCancelled
	ErrReconnectExhausted = lnerr.ErrReconnectExhausted
)

// Socks5Error reports a SOCKS5 proxy's refusal reason.
type Socks5Error = lnerr.Socks5Error

// UnknownRequiredMessageError reports an unknown even-typed LN message, per
// the "it's OK to be odd" rule.
type UnknownRequiredMessageError = lnerr.UnknownRequiredMessageError

// RpcError reports a JSON-RPC error object returned by the peer.
type RpcError = lnerr.RpcError

// IsRetriable reports whether err is one of the retriable failure kinds:
// Timeout, TransportLost, or ReconnectExhausted.
func IsRetriable(err error) bool {
	return lnerr.IsRetriable(err)
}
