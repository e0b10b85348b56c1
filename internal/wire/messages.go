// Package wire implements LN message framing: encrypted length-prefixed
// message I/O over a noise.TransportState (C4), plus encode/decode helpers
// for the BOLT #1 init/ping/pong messages and the Commando request/response
// message types (C6).
package wire

import "encoding/binary"

// LN message types used by this client. Unlisted types are handled
// generically by IsEven's odd/even dispatch rule.
const (
	TypeInit                  uint16 = 16
	TypePing                  uint16 = 18
	TypePong                  uint16 = 19
	TypeCommandoRequest       uint16 = 0x4c4f
	TypeCommandoResponseCont  uint16 = 0x594b
	TypeCommandoResponseFinal uint16 = 0x594d
)

// TypeName returns a human-readable name for known message types, and a
// generic label otherwise. Used only for logging.
func TypeName(t uint16) string {
	switch t {
	case TypeInit:
		return "init"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeCommandoRequest:
		return "commando_request"
	case TypeCommandoResponseCont:
		return "commando_response_continues"
	case TypeCommandoResponseFinal:
		return "commando_response"
	default:
		return "unknown"
	}
}

// IsEven reports whether a message type number is even. Per BOLT #1, a
// node that receives a message of unknown, even type MUST fail the
// connection; odd unknown types are silently discarded.
func IsEven(t uint16) bool {
	return t%2 == 0
}

// Init is the payload of an LN `init` message: two length-prefixed feature
// bitmaps followed by an (ignored, for this client) TLV stream.
type Init struct {
	GlobalFeatures []byte
	LocalFeatures  []byte
	TLVs           []byte
}

// EncodeInit serializes an Init message payload.
func EncodeInit(in Init) []byte {
	out := make([]byte, 0, 2+len(in.GlobalFeatures)+2+len(in.LocalFeatures)+len(in.TLVs))
	out = appendU16Prefixed(out, in.GlobalFeatures)
	out = appendU16Prefixed(out, in.LocalFeatures)
	out = append(out, in.TLVs...)
	return out
}

// DecodeInit parses an Init message payload. Trailing bytes after the two
// feature vectors are kept verbatim as an opaque TLV stream; this client
// does not need to interpret any TLV records to negotiate features.
func DecodeInit(payload []byte) (Init, error) {
	var in Init
	rest := payload

	gf, rest, err := readU16Prefixed(rest)
	if err != nil {
		return in, err
	}
	in.GlobalFeatures = gf

	lf, rest, err := readU16Prefixed(rest)
	if err != nil {
		return in, err
	}
	in.LocalFeatures = lf

	in.TLVs = rest
	return in, nil
}

// Ping is the payload of an LN `ping` message.
type Ping struct {
	NumPongBytes uint16
	Ignored      []byte
}

// EncodePing serializes a Ping message: num_pong_bytes(2) || byteslen(2) || ignored.
func EncodePing(numPongBytes uint16, ignoredLen int) []byte {
	out := make([]byte, 4+ignoredLen)
	binary.BigEndian.PutUint16(out[0:2], numPongBytes)
	binary.BigEndian.PutUint16(out[2:4], uint16(ignoredLen))
	return out
}

// DecodePing parses a Ping message payload.
func DecodePing(payload []byte) (Ping, error) {
	if len(payload) < 4 {
		return Ping{}, errShortMessage
	}
	numPong := binary.BigEndian.Uint16(payload[0:2])
	byteslen := binary.BigEndian.Uint16(payload[2:4])
	if len(payload) < 4+int(byteslen) {
		return Ping{}, errShortMessage
	}
	return Ping{NumPongBytes: numPong, Ignored: payload[4 : 4+int(byteslen)]}, nil
}

// EncodePong serializes a Pong message: byteslen(2) || ignored(byteslen).
func EncodePong(numBytes uint16) []byte {
	out := make([]byte, 2+int(numBytes))
	binary.BigEndian.PutUint16(out[0:2], numBytes)
	return out
}

// appendU16Prefixed appends a big-endian u16 length prefix followed by data.
func appendU16Prefixed(dst, data []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, data...)
	return dst
}

// readU16Prefixed reads a big-endian u16 length prefix followed by that
// many bytes, returning the slice and the remainder.
func readU16Prefixed(buf []byte) (data, rest []byte, err error) {
	if len(buf) < 2 {
		return nil, nil, errShortMessage
	}
	n := binary.BigEndian.Uint16(buf[0:2])
	if len(buf) < 2+int(n) {
		return nil, nil, errShortMessage
	}
	return buf[2 : 2+int(n)], buf[2+int(n):], nil
}
