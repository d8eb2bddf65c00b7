package transport

import (
	"fmt"
	"net"

	"github.com/gobwas/ws"
)

// Listener binds a TCP listener and performs the WebSocket handshake on
// each accepted connection.
type Listener struct {
	ln net.Listener
}

// Listen binds addr (host:port).
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound network address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept blocks for the next TCP connection. Callers must still call
// Upgrade on the result before using it as a WebSocket.
func (l *Listener) Accept() (net.Conn, error) {
	return l.ln.Accept()
}

// Upgrade performs the server-side WebSocket handshake on conn.
func Upgrade(conn net.Conn) error {
	_, err := ws.Upgrade(conn)
	if err != nil {
		return fmt.Errorf("transport: upgrade: %w", err)
	}
	return nil
}
