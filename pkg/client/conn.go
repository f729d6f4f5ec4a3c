package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/udpchat/udpchat/pkg/protocol"
)

// ErrFrameTooLarge is returned when an encoded command exceeds one datagram.
var ErrFrameTooLarge = errors.New("client: frame exceeds datagram size")

// Conn is a connected UDP socket to the chat server.
type Conn struct {
	conn *net.UDPConn
}

// DialConn opens a UDP socket connected to serverAddr.
func DialConn(serverAddr string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve server addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	_ = conn.SetReadBuffer(256 * 1024)
	return &Conn{conn: conn}, nil
}

// LocalPort is the session ID the server will know this client by.
func (c *Conn) LocalPort() int {
	return c.conn.LocalAddr().(*net.UDPAddr).Port
}

// Send encodes cmd into one datagram.
func (c *Conn) Send(cmd protocol.Command) error {
	data := cmd.Encode()
	if len(data) > protocol.MaxDatagram {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	if _, err := c.conn.Write([]byte(data)); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// ReadLoop hands every received datagram to handle until the socket is
// closed or ctx is cancelled.
func (c *Conn) ReadLoop(ctx context.Context, handle func([]byte)) error {
	buf := make([]byte, protocol.MaxDatagram)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// ICMP port unreachable surfaces as a read error on connected
			// UDP sockets while the server is down.
			slog.Debug("read error", "err", err)
			continue
		}
		handle(buf[:n])
	}
}

// Close closes the socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func itoa(n int) string { return strconv.Itoa(n) }
