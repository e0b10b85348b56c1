package wire

import (
	"fmt"
	"io"

	"github.com/lnbc1/lnsocket-go/internal/lnerr"
	"github.com/lnbc1/lnsocket-go/internal/noise"
)

// lengthPrefixSize is the wire size of the encrypted length prefix: a
// 2-byte AEAD-encrypted length plus its 16-byte tag.
const lengthPrefixSize = 2 + noise.TagSize

// Reader reads whole LN messages off an underlying byte stream, decrypting
// each frame through a noise.TransportState. It loops over short reads the
// way the teacher's protocol.FrameReader loops io.ReadFull over a socket.
type Reader struct {
	r  io.Reader
	ts *noise.TransportState
}

// NewReader wraps r, decrypting every frame with ts's receiving half.
func NewReader(r io.Reader, ts *noise.TransportState) *Reader {
	return &Reader{r: r, ts: ts}
}

// ReadMessage blocks until one full encrypted frame has arrived, decrypts
// it, and returns the plaintext LN message (type prefix included).
func (fr *Reader) ReadMessage() ([]byte, error) {
	lc := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(fr.r, lc); err != nil {
		return nil, mapReadErr(err)
	}

	length, err := fr.ts.DecryptLength(lc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lnerr.ErrTransportDecrypt, err)
	}

	body := make([]byte, int(length)+noise.TagSize)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return nil, mapReadErr(err)
	}

	plaintext, err := fr.ts.DecryptPayload(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lnerr.ErrTransportDecrypt, err)
	}
	return plaintext, nil
}

// mapReadErr maps a clean EOF, before a full length prefix or mid-frame, to
// ErrStreamClosed per spec.md §4.4; any other read error is wrapped as ErrIo.
func mapReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return lnerr.ErrStreamClosed
	}
	return fmt.Errorf("%w: %v", lnerr.ErrIo, err)
}

// Writer writes whole LN messages to an underlying byte stream, encrypting
// each through a noise.TransportState.
type Writer struct {
	w  io.Writer
	ts *noise.TransportState
}

// NewWriter wraps w, encrypting every message with ts's sending half.
func NewWriter(w io.Writer, ts *noise.TransportState) *Writer {
	return &Writer{w: w, ts: ts}
}

// WriteMessage encrypts and writes one LN message (type prefix included in
// plaintext).
func (fw *Writer) WriteMessage(plaintext []byte) error {
	frame, err := fw.ts.EncryptMessage(plaintext)
	if err != nil {
		return fmt.Errorf("%w: %v", lnerr.ErrCrypto, err)
	}
	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", lnerr.ErrIo, err)
	}
	return nil
}
