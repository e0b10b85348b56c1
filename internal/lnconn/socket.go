// Package lnconn ties the dialer (internal/socksdial), handshake
// (internal/noise), and framing (internal/wire) layers together into a
// ready-to-use encrypted connection: dial, run Noise_XK, exchange BOLT #1
// init. This is C6, grounded on the teacher's internal/peer/handshake.go
// dialerHandshake control flow (send own hello, await peer's, validate),
// retargeted from PEER_HELLO/PEER_HELLO_ACK to init/init.
package lnconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/lnbc1/lnsocket-go/internal/lnerr"
	"github.com/lnbc1/lnsocket-go/internal/logging"
	"github.com/lnbc1/lnsocket-go/internal/noise"
	"github.com/lnbc1/lnsocket-go/internal/socksdial"
	"github.com/lnbc1/lnsocket-go/internal/wire"
)

// Socket is a live, authenticated, BOLT #1-initialized connection to a
// Lightning peer. All methods are safe per the concurrency model: Send may
// be called concurrently with itself only under external serialization (the
// Commando client holds a write lock); Recv must only be called by a single
// reader goroutine.
type Socket struct {
	conn   net.Conn
	ts     *noise.TransportState
	reader *wire.Reader
	writer *wire.Writer
	log    *slog.Logger
}

// SocketOption configures optional behavior of ConnectAndInit and friends.
type SocketOption func(*socketOptions)

type socketOptions struct {
	logger *slog.Logger
}

// WithLogger attaches a structured logger; Debug for frame traffic, Info for
// handshake lifecycle transitions, Error for terminal failures. Defaults to
// a no-op logger when not supplied.
func WithLogger(l *slog.Logger) SocketOption {
	return func(o *socketOptions) { o.logger = l }
}

func resolveOptions(opts []SocketOption) *socketOptions {
	o := &socketOptions{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	return o
}

// ConnectAndInit dials host:port (direct, or via SOCKS5 if host is an onion
// address using the default Tor proxy), performs the Noise_XK handshake
// against remoteStaticPub using localSecret as this node's static key, and
// exchanges BOLT #1 init messages.
func ConnectAndInit(ctx context.Context, localSecret [32]byte, remoteStaticPub [33]byte, hostport string, opts ...SocketOption) (*Socket, error) {
	return ConnectAndInitWithTorConfig(ctx, localSecret, remoteStaticPub, hostport, nil, opts...)
}

// ConnectAndInitWithTorConfig is ConnectAndInit with an explicit SOCKS5 proxy
// override; a nil torCfg uses socksdial.DefaultTorConfig().
func ConnectAndInitWithTorConfig(ctx context.Context, localSecret [32]byte, remoteStaticPub [33]byte, hostport string, torCfg *socksdial.TorConfig, opts ...SocketOption) (*Socket, error) {
	o := resolveOptions(opts)

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lnerr.ErrAddrParse, err)
	}
	portNum, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: bad port %q: %v", lnerr.ErrAddrParse, portStr, err)
	}
	port := uint16(portNum)

	cfg := socksdial.DefaultTorConfig()
	if torCfg != nil {
		cfg = *torCfg
	}

	conn, err := socksdial.Dial(ctx, host, port, cfg)
	if err != nil {
		o.logger.Error("dial failed", logging.KeyRemoteAddr, hostport, logging.KeyError, err)
		return nil, err
	}

	sock, err := handshakeAndInit(conn, localSecret, remoteStaticPub, o.logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sock, nil
}

// NewSocketOverConn runs the Noise_XK handshake and BOLT #1 init exchange
// over an already-established net.Conn, skipping the dial step. Useful when
// the caller owns connection setup itself (a pre-proxied conn, or a test
// harness wiring two ends of a net.Pipe together).
func NewSocketOverConn(conn net.Conn, localSecret [32]byte, remoteStaticPub [33]byte, opts ...SocketOption) (*Socket, error) {
	o := resolveOptions(opts)
	return handshakeAndInit(conn, localSecret, remoteStaticPub, o.logger)
}

func handshakeAndInit(conn net.Conn, localSecret [32]byte, remoteStaticPub [33]byte, log *slog.Logger) (*Socket, error) {
	log.Info("handshake starting", logging.KeyRemoteAddr, conn.RemoteAddr())

	local := noise.NewStaticKey(localSecret)
	hs, err := noise.NewHandshake(local, remoteStaticPub)
	if err != nil {
		local.Zero()
		log.Error("handshake setup failed", logging.KeyError, err)
		return nil, fmt.Errorf("%w: %v", lnerr.ErrHandshakeProtocol, err)
	}

	act1, err := hs.Act1()
	if err != nil {
		local.Zero()
		log.Error("handshake act1 failed", logging.KeyError, err)
		return nil, wrapHandshakeErr(err)
	}
	if _, err := conn.Write(act1); err != nil {
		local.Zero()
		log.Error("handshake act1 write failed", logging.KeyError, err)
		return nil, fmt.Errorf("%w: write act1: %v", lnerr.ErrIo, err)
	}

	act2 := make([]byte, 50)
	if err := readFull(conn, act2); err != nil {
		local.Zero()
		log.Error("handshake act2 read failed", logging.KeyError, err)
		return nil, err
	}
	if err := hs.Act2(act2); err != nil {
		local.Zero()
		log.Error("handshake act2 failed", logging.KeyError, err)
		return nil, wrapHandshakeErr(err)
	}

	act3, ts, err := hs.Act3()
	local.Zero()
	if err != nil {
		log.Error("handshake act3 failed", logging.KeyError, err)
		return nil, wrapHandshakeErr(err)
	}
	if _, err := conn.Write(act3); err != nil {
		ts.Close()
		log.Error("handshake act3 write failed", logging.KeyError, err)
		return nil, fmt.Errorf("%w: write act3: %v", lnerr.ErrIo, err)
	}

	sock := &Socket{
		conn:   conn,
		ts:     ts,
		reader: wire.NewReader(conn, ts),
		writer: wire.NewWriter(conn, ts),
		log:    log,
	}

	if err := sock.exchangeInit(); err != nil {
		ts.Close()
		log.Error("init exchange failed", logging.KeyError, err)
		return nil, err
	}
	log.Info("handshake complete", logging.KeyRemoteAddr, conn.RemoteAddr())
	return sock, nil
}

func wrapHandshakeErr(err error) error {
	if errors.Is(err, noise.ErrAuthFailure) {
		return fmt.Errorf("%w: %v", lnerr.ErrHandshakeAuth, err)
	}
	return fmt.Errorf("%w: %v", lnerr.ErrHandshakeProtocol, err)
}

func readFull(conn net.Conn, buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return fmt.Errorf("%w: %v", lnerr.ErrIo, err)
		}
	}
	return nil
}

// exchangeInit sends an empty-feature BOLT #1 init and reads messages until
// the peer's own init arrives, discarding anything else. Unknown even-typed
// messages during this phase are fatal, per the "it's OK to be odd" rule.
func (s *Socket) exchangeInit() error {
	if err := s.writer.WriteMessage(encodeMessage(wire.TypeInit, wire.EncodeInit(wire.Init{}))); err != nil {
		return err
	}

	for {
		msg, err := s.reader.ReadMessage()
		if err != nil {
			return err
		}
		typ, payload, err := decodeMessage(msg)
		if err != nil {
			return fmt.Errorf("%w: %v", lnerr.ErrStreamClosed, err)
		}

		switch typ {
		case wire.TypeInit:
			if _, err := wire.DecodeInit(payload); err != nil {
				return fmt.Errorf("%w: bad peer init: %v", lnerr.ErrStreamClosed, err)
			}
			return nil
		default:
			if wire.IsEven(typ) {
				return &lnerr.UnknownRequiredMessageError{Type: typ}
			}
			// Odd unknown type: discard and keep waiting for init.
		}
	}
}

// Send writes one LN message (type prefix included in message).
func (s *Socket) Send(message []byte) error {
	s.log.Debug("frame out", logging.KeyBytes, len(message))
	return s.writer.WriteMessage(message)
}

// Recv reads and decrypts the next LN message (type prefix included).
func (s *Socket) Recv() ([]byte, error) {
	msg, err := s.reader.ReadMessage()
	if err != nil {
		return nil, err
	}
	s.log.Debug("frame in", logging.KeyBytes, len(msg))
	return msg, nil
}

// Close closes the underlying connection and zeroizes transport key material.
func (s *Socket) Close() error {
	s.ts.Close()
	return s.conn.Close()
}

func encodeMessage(typ uint16, payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	out[0] = byte(typ >> 8)
	out[1] = byte(typ)
	copy(out[2:], payload)
	return out
}

func decodeMessage(msg []byte) (uint16, []byte, error) {
	if len(msg) < 2 {
		return 0, nil, fmt.Errorf("message shorter than type prefix")
	}
	typ := uint16(msg[0])<<8 | uint16(msg[1])
	return typ, msg[2:], nil
}
