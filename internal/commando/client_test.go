package commando

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lnbc1/lnsocket-go/internal/lnconn"
	"github.com/lnbc1/lnsocket-go/internal/lnerr"
	"github.com/lnbc1/lnsocket-go/internal/nettest"
	"github.com/lnbc1/lnsocket-go/internal/wire"
)

// scriptedPeer drives the responder side of a net.Pipe connection: Noise_XK
// handshake, init exchange, then a caller-supplied request handler for every
// decoded Commando request.
type scriptedPeer struct {
	peer    *nettest.Peer
	handler func(id uint64, body []byte) (result []byte, isError bool)
}

func newScriptedPeer(t *testing.T, conn net.Conn, secretByte byte, handler func(id uint64, body []byte) (result []byte, isError bool)) *scriptedPeer {
	t.Helper()
	var secret [32]byte
	secret[31] = secretByte
	return &scriptedPeer{peer: nettest.NewPeer(conn, secret), handler: handler}
}

func (sp *scriptedPeer) run(t *testing.T, done chan<- error) {
	t.Helper()
	if err := sp.peer.Handshake(); err != nil {
		done <- err
		return
	}
	// Await client's init, reply with an empty init of our own.
	for {
		msg, err := sp.peer.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		typ, payload := splitType(msg)
		if typ == wire.TypeInit {
			if err := sp.peer.WriteMessage(encodeMessage(wire.TypeInit, wire.EncodeInit(wire.Init{}))); err != nil {
				done <- err
				return
			}
			break
		}
		_ = payload
	}

	for {
		msg, err := sp.peer.ReadMessage()
		if err != nil {
			done <- nil // client closed; not an error for these tests
			return
		}
		typ, payload := splitType(msg)
		if typ != wire.TypeCommandoRequest {
			continue
		}
		id, _, err := parseFragment(payload)
		if err != nil {
			done <- err
			return
		}
		body := payload[8:]
		result, isErr := sp.handler(id, body)
		respPayload := buildFragmentPayload(id, result, isErr)
		if err := sp.peer.WriteMessage(encodeMessage(wire.TypeCommandoResponseFinal, respPayload)); err != nil {
			done <- err
			return
		}
	}
}

func splitType(msg []byte) (uint16, []byte) {
	if len(msg) < 2 {
		return 0, nil
	}
	return binary.BigEndian.Uint16(msg[:2]), msg[2:]
}

func buildFragmentPayload(id uint64, result []byte, isErr bool) []byte {
	var body []byte
	if isErr {
		body, _ = json.Marshal(struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}{})
	} else {
		body, _ = json.Marshal(struct {
			Result json.RawMessage `json:"result"`
		}{Result: result})
	}
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(out[:8], id)
	copy(out[8:], body)
	return out
}

// echoHandler replies to every request with its decoded params as the result.
func echoHandler(id uint64, body []byte) ([]byte, bool) {
	var req struct {
		Params json.RawMessage `json:"params"`
	}
	_ = json.Unmarshal(body, &req)
	return req.Params, false
}

func newSpawnedClientPipe(t *testing.T, peerSecretByte, localSecretByte byte, handler func(uint64, []byte) ([]byte, bool)) (*Client, chan error) {
	t.Helper()
	clientConn, peerConn := net.Pipe()

	sp := newScriptedPeer(t, peerConn, peerSecretByte, handler)
	peerDone := make(chan error, 1)
	go sp.run(t, peerDone)

	var localSecret [32]byte
	localSecret[31] = localSecretByte

	sock, err := lnconn.NewSocketOverConn(clientConn, localSecret, sp.peer.StaticPubKey())
	if err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}

	c := Spawn(SpawnConfig{
		Socket:          sock,
		Rune:            "test-rune",
		LocalSecret:     localSecret,
		RemoteStaticPub: sp.peer.StaticPubKey(),
		DefaultCallOpts: CallOpts{Timeout: time.Second, Retries: 1},
	})
	return c, peerDone
}

func TestCallGetinfoRoundTrip(t *testing.T) {
	c, _ := newSpawnedClientPipe(t, 0x10, 0x20, echoHandler)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.Call(ctx, "getinfo", map[string]string{"id": "testnode"})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("could not decode result: %v", err)
	}
	if decoded["id"] != "testnode" {
		t.Fatalf("expected echoed id testnode, got %q", decoded["id"])
	}
}

func TestConcurrentCallsDistinctIDs(t *testing.T) {
	c, _ := newSpawnedClientPipe(t, 0x11, 0x21, echoHandler)
	defer c.Close()

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			result, err := c.Call(ctx, "echo", map[string]int{"n": i})
			if err != nil {
				errs <- err
				return
			}
			var decoded map[string]int
			if err := json.Unmarshal(result, &decoded); err != nil {
				errs <- err
				return
			}
			if decoded["n"] != i {
				errs <- errBadEcho(i, decoded["n"])
				return
			}
			errs <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

func errBadEcho(want, got int) error {
	return &echoMismatch{want: want, got: got}
}

type echoMismatch struct{ want, got int }

func (e *echoMismatch) Error() string {
	return "echo mismatch"
}

func TestCallTimeoutIsRetriable(t *testing.T) {
	clientConn, peerConn := net.Pipe()

	var peerSecret [32]byte
	peerSecret[31] = 0x12
	peer := nettest.NewPeer(peerConn, peerSecret)

	// The peer only completes the handshake+init and then never answers
	// any Commando request, forcing every attempt to hit ErrTimeout.
	go func() {
		if err := peer.Handshake(); err != nil {
			return
		}
		for {
			msg, err := peer.ReadMessage()
			if err != nil {
				return
			}
			typ, _ := splitType(msg)
			if typ == wire.TypeInit {
				_ = peer.WriteMessage(encodeMessage(wire.TypeInit, wire.EncodeInit(wire.Init{})))
				break
			}
		}
		for {
			if _, err := peer.ReadMessage(); err != nil {
				return
			}
			// silently drop every Commando request
		}
	}()

	var localSecret [32]byte
	localSecret[31] = 0x22
	sock, err := lnconn.NewSocketOverConn(clientConn, localSecret, peer.StaticPubKey())
	if err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}

	c := Spawn(SpawnConfig{
		Socket:          sock,
		Rune:            "test-rune",
		LocalSecret:     localSecret,
		RemoteStaticPub: peer.StaticPubKey(),
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err = c.CallWithOpts(ctx, "getinfo", nil, CallOpts{Timeout: 100 * time.Millisecond, Retries: 2})
	elapsed := time.Since(start)

	if !errors.Is(err, lnerr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < 250*time.Millisecond {
		t.Fatalf("expected at least 3 attempts worth of timeout (~300ms), took %v", elapsed)
	}
}

func TestReconnectAfterTransportLoss(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	clientConn := <-dialSelf(t, ln.Addr().String())

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("initial dial was not accepted in time")
	}

	var peerSecret2 [32]byte
	peerSecret2[31] = 0x33
	peer := nettest.NewPeer(serverConn, peerSecret2)
	initDone := make(chan error, 1)
	go func() {
		if err := peer.Handshake(); err != nil {
			initDone <- err
			return
		}
		msg, err := peer.ReadMessage()
		if err != nil {
			initDone <- err
			return
		}
		typ, _ := splitType(msg)
		if typ != wire.TypeInit {
			initDone <- err
			return
		}
		initDone <- peer.WriteMessage(encodeMessage(wire.TypeInit, wire.EncodeInit(wire.Init{})))
		peer.Close() // force a transport loss right after the first init
	}()

	var localSecret [32]byte
	localSecret[31] = 0x44
	sock, err := lnconn.NewSocketOverConn(clientConn, localSecret, peer.StaticPubKey())
	if err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}
	if err := <-initDone; err != nil {
		t.Fatalf("peer init exchange failed: %v", err)
	}

	c := Spawn(SpawnConfig{
		Socket:          sock,
		Rune:            "test-rune",
		LocalSecret:     localSecret,
		RemoteStaticPub: peer.StaticPubKey(),
		HostPort:        ln.Addr().String(),
		Backoff: BackoffConfig{
			Base: 10 * time.Millisecond, Max: 50 * time.Millisecond,
			Factor: 2.0, Jitter: 0, MaxAttempts: 5,
		},
	})
	defer c.Close()

	// First call should fail: the peer closed the socket right after init,
	// so the call sees either the transport loss or, if the reader noticed
	// it first, waits on the pending reconnect until its context expires.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err = c.CallWithOpts(ctx, "getinfo", nil, CallOpts{Timeout: 200 * time.Millisecond, Retries: 0})
	cancel()
	if err == nil {
		t.Fatalf("expected first call to fail after transport loss")
	}

	// The reconnect loop should now be dialing a fresh connection; accept
	// it and serve requests on it.
	select {
	case conn := <-accepted:
		sp2 := newScriptedPeer(t, conn, 0x33, echoHandler)
		go sp2.run(t, make(chan error, 1))
	case <-time.After(2 * time.Second):
		t.Fatalf("reconnect dial was not accepted in time")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel2()
	_, err = c.CallWithOpts(ctx2, "getinfo", map[string]int{"x": 1}, CallOpts{Timeout: 2 * time.Second, Retries: 2})
	if err != nil {
		t.Fatalf("expected call to succeed after reconnect, got %v", err)
	}
}

func dialSelf(t *testing.T, addr string) <-chan net.Conn {
	t.Helper()
	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Errorf("dial: %v", err)
			close(ch)
			return
		}
		ch <- conn
	}()
	return ch
}
