package socksdial

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/lnbc1/lnsocket-go/internal/lnerr"
)

func TestIsOnion(t *testing.T) {
	cases := map[string]bool{
		"foo.onion":                     true,
		"FOO.ONION":                     true,
		"example.com":                   false,
		"onion":                         false,
		"x3jn5.b32.i2p":                 false,
		"abcdefghijklmnopqrstuvwxyz234567.onion": true,
	}
	for host, want := range cases {
		if got := IsOnion(host); got != want {
			t.Errorf("IsOnion(%q) = %v, want %v", host, got, want)
		}
	}
}

// fakeSocksServer accepts one connection, validates the greeting and
// CONNECT request, then writes back the given reply byte and a minimal
// IPv4 bound address.
func fakeSocksServer(t *testing.T, replyCode byte) (addr string, done chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done = make(chan struct{})
	go func() {
		defer close(done)
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := make([]byte, 3)
		if _, err := io.ReadFull(conn, greeting); err != nil {
			return
		}
		conn.Write([]byte{socks5Version, authNone})

		head := make([]byte, 5)
		if _, err := io.ReadFull(conn, head); err != nil {
			return
		}
		hostLen := int(head[4])
		rest := make([]byte, hostLen+2)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return
		}

		reply := []byte{socks5Version, replyCode, rsv, 0x01, 0, 0, 0, 0, 0, 0}
		conn.Write(reply)
	}()
	return ln.Addr().String(), done
}

func hostPort(t *testing.T, addr string) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	portNum, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, uint16(portNum)
}

func TestDialSocks5Success(t *testing.T) {
	addr, done := fakeSocksServer(t, 0x00)
	host, port := hostPort(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := dialSocks5(ctx, net.JoinHostPort(host, strconv.Itoa(int(port))), "test.onion", 9735)
	if err != nil {
		t.Fatalf("dialSocks5: %v", err)
	}
	conn.Close()
	<-done
}

func TestDialSocks5Refused(t *testing.T) {
	addr, done := fakeSocksServer(t, 0x05)
	host, port := hostPort(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := dialSocks5(ctx, net.JoinHostPort(host, strconv.Itoa(int(port))), "test.onion", 9735)
	if err == nil {
		t.Fatal("expected error for refused connection")
	}
	var socksErr *lnerr.Socks5Error
	if !errors.As(err, &socksErr) {
		t.Fatalf("expected Socks5Error, got %T: %v", err, err)
	}
	<-done
}

func TestDialDirectForNonOnion(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			close(accepted)
			conn.Close()
		}
	}()

	host, port := hostPort(t, ln.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Dial(ctx, host, port, DefaultTorConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted direct connection")
	}
}
