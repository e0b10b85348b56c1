package commando

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/lnbc1/lnsocket-go/internal/lnconn"
	"github.com/lnbc1/lnsocket-go/internal/lnerr"
	"github.com/lnbc1/lnsocket-go/internal/logging"
	"github.com/lnbc1/lnsocket-go/internal/socksdial"
	"github.com/lnbc1/lnsocket-go/internal/wire"
)

// CallOpts overrides a single call's timeout and retry budget.
type CallOpts struct {
	Timeout time.Duration
	Retries int
}

// DefaultCallOpts is spec.md §4.7's default: 30s timeout, 3 retries.
func DefaultCallOpts() CallOpts {
	return CallOpts{Timeout: 30 * time.Second, Retries: 3}
}

// WithTimeout returns a copy of o with Timeout replaced.
func (o CallOpts) WithTimeout(d time.Duration) CallOpts { o.Timeout = d; return o }

// WithRetries returns a copy of o with Retries replaced.
func (o CallOpts) WithRetries(n int) CallOpts { o.Retries = n; return o }

// SpawnConfig carries everything CommandoClient.Spawn needs: the live
// socket to start from, the auth rune, and the reconnect descriptor
// (remote pubkey, host, optional Tor config, local static key) spec.md
// §4.7 requires the Client object to own.
type SpawnConfig struct {
	Socket          *lnconn.Socket
	Rune            string
	LocalSecret     [32]byte
	RemoteStaticPub [33]byte
	HostPort        string
	TorConfig       *socksdial.TorConfig

	DefaultCallOpts CallOpts
	Backoff         BackoffConfig
	RateLimit       *CallLimiter
	Logger          *slog.Logger
}

// connState is one generation of the client's underlying connection: either
// a usable socket, or (once ready is closed with err set) a permanent
// failure that every queued call should observe.
type connState struct {
	sock  *lnconn.Socket
	ready chan struct{}
	err   error
}

// Client multiplexes concurrent JSON-RPC calls over a single Commando
// connection. It owns a background reader goroutine, a request registry,
// and a reconnect policy, per spec.md §4.7's "Client object" description.
type Client struct {
	runeToken       string
	localSecret     [32]byte
	remoteStaticPub [33]byte
	hostport        string
	torCfg          *socksdial.TorConfig

	defaultOpts CallOpts
	bo          *backoff
	limiter     *CallLimiter
	log         *slog.Logger

	reg *registry

	mu           sync.Mutex
	cs           *connState
	reconnecting bool

	writeMu sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Spawn starts the background reader over an already-handshaken,
// already-initialized socket and returns a ready-to-use Client.
func Spawn(cfg SpawnConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	bo := cfg.Backoff
	if bo == (BackoffConfig{}) {
		bo = DefaultBackoffConfig()
	}
	opts := cfg.DefaultCallOpts
	if opts == (CallOpts{}) {
		opts = DefaultCallOpts()
	}

	ready := make(chan struct{})
	close(ready)
	cs := &connState{sock: cfg.Socket, ready: ready}

	c := &Client{
		runeToken:       cfg.Rune,
		localSecret:     cfg.LocalSecret,
		remoteStaticPub: cfg.RemoteStaticPub,
		hostport:        cfg.HostPort,
		torCfg:          cfg.TorConfig,
		defaultOpts:     opts,
		bo:              newBackoff(bo),
		limiter:         cfg.RateLimit,
		log:             logger,
		reg:             newRegistry(),
		cs:              cs,
		closeCh:         make(chan struct{}),
	}

	logger.Info("commando: client spawned", logging.KeyRemoteAddr, cfg.HostPort)
	go c.readLoop(cs)
	return c
}

// Call dispatches method with params using the client's default CallOpts.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.CallWithOpts(ctx, method, params, c.defaultOpts)
}

// CallWithOpts dispatches method with params, retrying retriable failures
// up to opts.Retries additional times.
func (c *Client) CallWithOpts(ctx context.Context, method string, params any, opts CallOpts) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", lnerr.ErrCancelled, err)
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		start := time.Now()
		result, err := c.callOnce(ctx, method, params, opts.Timeout)
		recordCall(method, time.Since(start).Seconds(), resultFor(err))
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !lnerr.IsRetriable(err) {
			return nil, err
		}
		if attempt < opts.Retries {
			c.log.Warn("commando: call failed, retrying", logging.KeyMethod, method, logging.KeyAttempt, attempt, logging.KeyError, err)
		}
	}
	return nil, lastErr
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, lnerr.ErrTimeout):
		return resultTimeout
	case errors.As(err, new(*lnerr.RpcError)):
		return resultRpcErr
	default:
		return resultFailed
	}
}

func (c *Client) callOnce(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	sock, err := c.getSocket(ctx)
	if err != nil {
		return nil, err
	}

	id := c.reg.nextRequestID()
	resultCh := c.reg.register(id, timeout)
	c.log.Debug("commando: dispatching call", logging.KeyMethod, method, logging.KeyRequestID, id)

	reqPayload, err := buildRequest(id, method, params, c.runeToken)
	if err != nil {
		c.reg.cancel(id)
		return nil, fmt.Errorf("%w: %v", lnerr.ErrRpcMalformed, err)
	}

	if err := c.sendLocked(sock, encodeMessage(wire.TypeCommandoRequest, reqPayload)); err != nil {
		c.reg.cancel(id)
		return nil, fmt.Errorf("%w: %v", lnerr.ErrTransportLost, err)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return parseResponse(res.payload)
	case <-ctx.Done():
		c.reg.cancel(id)
		return nil, lnerr.ErrCancelled
	}
}

// getSocket waits for the current connection generation to become ready
// (immediately, if no reconnect is in flight), returning its socket or the
// permanent failure a previous reconnect gave up with.
func (c *Client) getSocket(ctx context.Context) (*lnconn.Socket, error) {
	c.mu.Lock()
	cs := c.cs
	c.mu.Unlock()

	select {
	case <-cs.ready:
		if cs.err != nil {
			return nil, cs.err
		}
		return cs.sock, nil
	case <-ctx.Done():
		return nil, lnerr.ErrCancelled
	case <-c.closeCh:
		return nil, lnerr.ErrCancelled
	}
}

func (c *Client) sendLocked(sock *lnconn.Socket, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := sock.Send(msg)
	if err == nil {
		bytesSent.Add(float64(len(msg)))
	}
	return err
}

// readLoop owns the inbound half of cs's socket exclusively, per spec.md
// §5's single-owner rule: dispatch ping/pong, reassemble Commando
// fragments, and fail the connection on any unknown even-typed message or
// stream error.
func (c *Client) readLoop(cs *connState) {
	for {
		msg, err := cs.sock.Recv()
		if err != nil {
			c.handleTransportLoss(err)
			return
		}
		bytesReceived.Add(float64(len(msg)))

		if len(msg) < 2 {
			continue
		}
		typ := binary.BigEndian.Uint16(msg[:2])
		payload := msg[2:]

		switch typ {
		case wire.TypePong:
			// discard
		case wire.TypePing:
			ping, err := wire.DecodePing(payload)
			if err != nil {
				continue
			}
			pong := encodeMessage(wire.TypePong, wire.EncodePong(ping.NumPongBytes))
			if err := c.sendLocked(cs.sock, pong); err != nil {
				c.handleTransportLoss(err)
				return
			}
		case wire.TypeCommandoResponseCont:
			id, body, err := parseFragment(payload)
			if err == nil {
				c.reg.appendFragment(id, body)
			}
		case wire.TypeCommandoResponseFinal:
			id, body, err := parseFragment(payload)
			if err == nil {
				c.reg.completeTerminal(id, body)
			}
		default:
			if wire.IsEven(typ) {
				c.handleTransportLoss(&lnerr.UnknownRequiredMessageError{Type: typ})
				return
			}
			// odd unknown type: discard
		}
	}
}

// handleTransportLoss fails every pending call and kicks off reconnect.
func (c *Client) handleTransportLoss(err error) {
	wrapped := fmt.Errorf("%w: %v", lnerr.ErrTransportLost, err)
	c.reg.failAll(wrapped)
	c.log.Warn("commando: transport lost, reconnecting", logging.KeyError, err)
	c.beginReconnect()
}

func (c *Client) beginReconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	next := &connState{ready: make(chan struct{})}
	c.cs = next
	c.mu.Unlock()

	go c.reconnectLoop(next)
}

func (c *Client) reconnectLoop(cs *connState) {
	for attempt := 0; ; attempt++ {
		if c.bo.exhausted(attempt) {
			cs.err = lnerr.ErrReconnectExhausted
			close(cs.ready)
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			c.log.Error("commando: reconnect attempts exhausted")
			return
		}

		select {
		case <-c.closeCh:
			cs.err = lnerr.ErrCancelled
			close(cs.ready)
			return
		case <-time.After(c.bo.delay(attempt)):
		}

		sock, err := lnconn.ConnectAndInitWithTorConfig(context.Background(), c.localSecret, c.remoteStaticPub, c.hostport, c.torCfg, lnconn.WithLogger(c.log))
		RecordHandshake(err)
		if err != nil {
			recordReconnectAttempt(false)
			c.log.Warn("commando: reconnect attempt failed", logging.KeyAttempt, attempt, logging.KeyError, err)
			continue
		}

		recordReconnectAttempt(true)
		cs.sock = sock
		close(cs.ready)
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()

		c.log.Info("commando: reconnect succeeded", logging.KeyAttempt, attempt, logging.KeyRemoteAddr, c.hostport)
		go c.readLoop(cs)
		return
	}
}

// Close closes the underlying socket and fails every pending call with
// Cancelled.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })

	c.mu.Lock()
	cs := c.cs
	c.mu.Unlock()

	c.reg.failAll(lnerr.ErrCancelled)

	select {
	case <-cs.ready:
		if cs.sock != nil {
			return cs.sock.Close()
		}
	default:
	}
	return nil
}

func encodeMessage(typ uint16, payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(out[:2], typ)
	copy(out[2:], payload)
	return out
}

func buildRequest(id uint64, method string, params any, runeToken string) ([]byte, error) {
	body := struct {
		Method string `json:"method"`
		Params any    `json:"params"`
		Rune   string `json:"rune"`
		ID     string `json:"id"`
	}{
		Method: method,
		Params: params,
		Rune:   runeToken,
		ID:     strconv.FormatUint(id, 10),
	}
	j, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(j))
	binary.BigEndian.PutUint64(out[:8], id)
	copy(out[8:], j)
	return out, nil
}

func parseFragment(payload []byte) (uint64, []byte, error) {
	if len(payload) < 8 {
		return 0, nil, fmt.Errorf("commando: fragment shorter than request id prefix")
	}
	return binary.BigEndian.Uint64(payload[:8]), payload[8:], nil
}

func parseResponse(payload []byte) (json.RawMessage, error) {
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", lnerr.ErrRpcMalformed, err)
	}
	if resp.Error != nil {
		return nil, &lnerr.RpcError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}
