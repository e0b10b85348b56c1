// Package socksdial implements a SOCKS5 CONNECT-command client dialer (C5)
// for reaching onion-service Lightning nodes, and a direct-TCP fallback for
// everything else. The teacher only ships a SOCKS5 server
// (internal/socks5/server.go); its accept loop and auth-plugin structure do
// not transfer to a client CONNECT handshake, so this is written straight
// from the wire bytes.
package socksdial

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lnbc1/lnsocket-go/internal/lnerr"
)

const (
	socks5Version = 0x05
	cmdConnect    = 0x01
	atypDomain    = 0x03
	rsv           = 0x00
	authNone      = 0x00
)

// reply codes a SOCKS5 server may return, per RFC 1928 section 6.
var replyReasons = map[byte]string{
	0x00: "succeeded",
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

// TorConfig names the SOCKS5 proxy used to reach onion hosts.
type TorConfig struct {
	Host string
	Port uint16
}

// DefaultTorConfig is the conventional local Tor daemon SOCKS port.
func DefaultTorConfig() TorConfig {
	return TorConfig{Host: "127.0.0.1", Port: 9050}
}

func (c TorConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// IsOnion reports whether host is a Tor onion-service hostname. Matching is
// a plain ASCII-lowercase suffix check: onion names are never DNS-resolved,
// so there is nothing to look up before deciding how to dial.
func IsOnion(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), ".onion")
}

// Dial connects to host:port, routing through the SOCKS5 proxy in cfg when
// host is an onion address and dialing TCP directly otherwise.
func Dial(ctx context.Context, host string, port uint16, cfg TorConfig) (net.Conn, error) {
	if !IsOnion(host) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", lnerr.ErrIo, err)
		}
		return conn, nil
	}
	return dialSocks5(ctx, cfg.addr(), host, port)
}

func dialSocks5(ctx context.Context, proxyAddr, host string, port uint16) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial proxy: %v", lnerr.ErrIo, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	defer conn.SetDeadline(time.Time{})

	if err := greet(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := connectCmd(conn, host, port); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func greet(conn net.Conn) error {
	if _, err := conn.Write([]byte{socks5Version, 1, authNone}); err != nil {
		return fmt.Errorf("%w: write greeting: %v", lnerr.ErrIo, err)
	}
	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("%w: read greeting reply: %v", lnerr.ErrIo, err)
	}
	if resp[0] != socks5Version {
		return &lnerr.Socks5Error{Reason: fmt.Sprintf("unexpected version 0x%02x in greeting reply", resp[0])}
	}
	if resp[1] != authNone {
		return &lnerr.Socks5Error{Reason: fmt.Sprintf("proxy rejected no-auth (method 0x%02x)", resp[1])}
	}
	return nil
}

func connectCmd(conn net.Conn, host string, port uint16) error {
	if len(host) > 0xFF {
		return &lnerr.Socks5Error{Reason: "hostname too long for SOCKS5 domain address"}
	}

	req := make([]byte, 0, 7+len(host))
	req = append(req, socks5Version, cmdConnect, rsv, atypDomain, byte(len(host)))
	req = append(req, host...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	req = append(req, portBuf[:]...)

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("%w: write connect request: %v", lnerr.ErrIo, err)
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil {
		return fmt.Errorf("%w: read connect reply: %v", lnerr.ErrIo, err)
	}
	if head[0] != socks5Version {
		return &lnerr.Socks5Error{Reason: fmt.Sprintf("unexpected version 0x%02x in connect reply", head[0])}
	}
	if head[1] != 0x00 {
		reason, ok := replyReasons[head[1]]
		if !ok {
			reason = fmt.Sprintf("unknown reply code 0x%02x", head[1])
		}
		return &lnerr.Socks5Error{Reason: reason}
	}

	// Consume the bound address the proxy reports; its contents are not
	// needed, only its length on the wire.
	switch head[3] {
	case 0x01: // IPv4
		if _, err := io.ReadFull(conn, make([]byte, 4+2)); err != nil {
			return fmt.Errorf("%w: read bound ipv4 address: %v", lnerr.ErrIo, err)
		}
	case 0x03: // domain
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return fmt.Errorf("%w: read bound address length: %v", lnerr.ErrIo, err)
		}
		if _, err := io.ReadFull(conn, make([]byte, int(lenBuf[0])+2)); err != nil {
			return fmt.Errorf("%w: read bound domain address: %v", lnerr.ErrIo, err)
		}
	case 0x04: // IPv6
		if _, err := io.ReadFull(conn, make([]byte, 16+2)); err != nil {
			return fmt.Errorf("%w: read bound ipv6 address: %v", lnerr.ErrIo, err)
		}
	default:
		return &lnerr.Socks5Error{Reason: fmt.Sprintf("unsupported bound address type 0x%02x", head[3])}
	}

	return nil
}
