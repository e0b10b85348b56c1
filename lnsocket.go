// Package lnsocket is a client-side library for talking to a Lightning
// Network node: it establishes an encrypted, authenticated channel over
// BOLT #8 (Noise_XK) and BOLT #1 (init), optionally through a SOCKS5 proxy
// for onion addresses, and layers the Commando JSON-RPC multiplexer on top.
package lnsocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lnbc1/lnsocket-go/internal/commando"
	"github.com/lnbc1/lnsocket-go/internal/lnconn"
	"github.com/lnbc1/lnsocket-go/internal/socksdial"
)

// Socket is a live, authenticated connection to a Lightning peer: the
// Noise_XK handshake and BOLT #1 init exchange have already completed.
type Socket struct {
	inner *lnconn.Socket
}

// Option configures optional behavior of ConnectAndInit and friends.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger attaches a structured logger to the handshake and to the
// returned Socket's frame traffic: Debug logs frames, Info logs handshake
// lifecycle transitions, Error logs terminal failures. Defaults to a no-op
// logger. The logger is not passed on by Spawn; a CommandoClient logs only
// through SpawnConfig.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func resolveOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ConnectAndInit dials host:port (direct, or via the default Tor SOCKS5
// proxy if host is an onion address), performs the Noise_XK handshake using
// localSecret as this node's static key against remoteStaticPub, and
// exchanges BOLT #1 init messages.
func ConnectAndInit(ctx context.Context, localSecret [32]byte, remoteStaticPub [33]byte, hostport string, opts ...Option) (*Socket, error) {
	return ConnectAndInitWithTorConfig(ctx, localSecret, remoteStaticPub, hostport, nil, opts...)
}

// ConnectAndInitWithTorConfig is ConnectAndInit with an explicit SOCKS5
// proxy override; a nil torCfg uses DefaultTorConfig().
func ConnectAndInitWithTorConfig(ctx context.Context, localSecret [32]byte, remoteStaticPub [33]byte, hostport string, torCfg *TorConfig, opts ...Option) (*Socket, error) {
	var inner *socksdial.TorConfig
	if torCfg != nil {
		c := socksdial.TorConfig{Host: torCfg.Host, Port: torCfg.Port}
		inner = &c
	}

	o := resolveOptions(opts)
	var connOpts []lnconn.SocketOption
	if o.logger != nil {
		connOpts = append(connOpts, lnconn.WithLogger(o.logger))
	}

	sock, err := lnconn.ConnectAndInitWithTorConfig(ctx, localSecret, remoteStaticPub, hostport, inner, connOpts...)
	commando.RecordHandshake(err)
	if err != nil {
		return nil, err
	}
	return &Socket{inner: sock}, nil
}

// Send writes one LN message (type prefix included in message).
func (s *Socket) Send(message []byte) error {
	return s.inner.Send(message)
}

// Recv reads and decrypts the next LN message (type prefix included).
func (s *Socket) Recv() ([]byte, error) {
	return s.inner.Recv()
}

// Close closes the underlying connection and zeroizes transport key material.
func (s *Socket) Close() error {
	return s.inner.Close()
}

// TorConfig selects the SOCKS5 proxy used to reach onion addresses.
type TorConfig struct {
	Host string
	Port uint16
}

// DefaultTorConfig is 127.0.0.1:9050, the standard local Tor SOCKS5 port.
func DefaultTorConfig() TorConfig {
	d := socksdial.DefaultTorConfig()
	return TorConfig{Host: d.Host, Port: d.Port}
}

// CallOpts overrides a single call's timeout and retry budget.
type CallOpts struct {
	inner commando.CallOpts
}

// DefaultCallOpts is the library default: 30s timeout, 3 retries.
func DefaultCallOpts() CallOpts {
	return CallOpts{inner: commando.DefaultCallOpts()}
}

// WithTimeout returns a copy of o with Timeout replaced.
func (o CallOpts) WithTimeout(d time.Duration) CallOpts {
	o.inner = o.inner.WithTimeout(d)
	return o
}

// WithRetries returns a copy of o with Retries replaced.
func (o CallOpts) WithRetries(n int) CallOpts {
	o.inner = o.inner.WithRetries(n)
	return o
}

// SpawnConfig bundles the parameters CommandoClient.Spawn needs: the live
// socket to start from, the auth rune, and the reconnect descriptor
// (remote pubkey, host, optional Tor config, local static key) required to
// redial after the connection is lost.
type SpawnConfig struct {
	Socket          *Socket
	Rune            string
	LocalSecret     [32]byte
	RemoteStaticPub [33]byte
	HostPort        string
	TorConfig       *TorConfig

	DefaultCallOpts CallOpts
	CallsPerSecond  float64
	Logger          *slog.Logger
}

// CommandoClient is the JSON-RPC request/response multiplexer client over a
// spawned Socket.
type CommandoClient struct {
	inner *commando.Client
}

// Spawn starts the background reader over cfg.Socket and returns a
// ready-to-use CommandoClient. The returned client owns reconnect/backoff
// for the lifetime of the process.
func Spawn(cfg SpawnConfig) *CommandoClient {
	var torCfg *socksdial.TorConfig
	if cfg.TorConfig != nil {
		c := socksdial.TorConfig{Host: cfg.TorConfig.Host, Port: cfg.TorConfig.Port}
		torCfg = &c
	}

	var limiter *commando.CallLimiter
	if cfg.CallsPerSecond > 0 {
		limiter = commando.NewCallLimiter(cfg.CallsPerSecond, int(cfg.CallsPerSecond)+1)
	}

	defaultOpts := cfg.DefaultCallOpts
	if defaultOpts == (CallOpts{}) {
		defaultOpts = DefaultCallOpts()
	}

	inner := commando.Spawn(commando.SpawnConfig{
		Socket:          cfg.Socket.inner,
		Rune:            cfg.Rune,
		LocalSecret:     cfg.LocalSecret,
		RemoteStaticPub: cfg.RemoteStaticPub,
		HostPort:        cfg.HostPort,
		TorConfig:       torCfg,
		DefaultCallOpts: defaultOpts.inner,
		RateLimit:       limiter,
		Logger:          cfg.Logger,
	})
	return &CommandoClient{inner: inner}
}

// Call dispatches method with params using the client's default CallOpts,
// returning the decoded `result` field of the peer's JSON-RPC response.
func (c *CommandoClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.inner.Call(ctx, method, params)
}

// CallWithOpts dispatches method with params, overriding timeout/retries
// for this call only.
func (c *CommandoClient) CallWithOpts(ctx context.Context, method string, params any, opts CallOpts) (json.RawMessage, error) {
	return c.inner.CallWithOpts(ctx, method, params, opts.inner)
}

// Close shuts down the background reader/reconnect loop and the underlying
// socket.
func (c *CommandoClient) Close() error {
	return c.inner.Close()
}
