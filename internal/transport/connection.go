// Package transport wraps a raw WebSocket connection behind the narrow
// Connection interface the session package depends on: send, receive,
// close, and ping/pong keepalive.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrClosed is returned by Recv/Send once the connection has been closed,
// locally or by the peer.
var ErrClosed = errors.New("transport: connection closed")

// ErrPingTimeout names a missed keepalive pong. WSConnection does not
// return it: when the peer misses a pong, Keepalive closes the connection
// and Recv then fails with ErrClosed or a wrapped read error.
var ErrPingTimeout = errors.New("transport: ping timeout")

const writeWait = 5 * time.Second

// Connection is the narrow transport surface the session package consumes.
// A real implementation wraps one upgraded WebSocket; a fake
// implementation is used in tests.
type Connection interface {
	// Send transmits one text frame. Safe for concurrent use with Recv,
	// not with itself (the session's sender is the only writer).
	Send(data []byte) error
	// Recv blocks for the next text/binary frame, transparently
	// answering pings and absorbing pongs. Returns a non-nil error on
	// termination (ErrClosed when the connection was closed).
	Recv() ([]byte, error)
	// Close releases the underlying connection. Safe to call more than
	// once and concurrently with Send/Recv.
	Close() error
	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// WSConnection is the production Connection backed by github.com/gobwas/ws.
type WSConnection struct {
	conn   net.Conn
	reader *wsutil.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	lastPong atomic.Int64 // unix nanoseconds

	pingInterval time.Duration
	pingTimeout  time.Duration
}

// NewWSConnection wraps an already-upgraded net.Conn.
func NewWSConnection(conn net.Conn, pingInterval, pingTimeout time.Duration) *WSConnection {
	c := &WSConnection{
		conn:         conn,
		reader:       wsutil.NewReader(conn, ws.StateServerSide),
		closed:       make(chan struct{}),
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
	}
	c.lastPong.Store(time.Now().UnixNano())
	return c
}

// Send writes one text frame to the peer.
func (c *WSConnection) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := wsutil.WriteServerMessage(c.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (c *WSConnection) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(c.conn, ws.OpPing, nil)
}

func (c *WSConnection) writePong() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(c.conn, ws.OpPong, nil)
}

// Recv blocks for the next application frame, answering ping/pong control
// frames transparently along the way.
func (c *WSConnection) Recv() ([]byte, error) {
	for {
		select {
		case <-c.closed:
			return nil, ErrClosed
		default:
		}

		head, err := c.reader.NextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("transport: recv: %w", err)
		}

		switch head.OpCode {
		case ws.OpClose:
			return nil, ErrClosed
		case ws.OpPing:
			if err := c.writePong(); err != nil {
				return nil, fmt.Errorf("transport: pong: %w", err)
			}
		case ws.OpPong:
			c.lastPong.Store(time.Now().UnixNano())
		case ws.OpText, ws.OpBinary:
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(c.reader, payload); err != nil {
				return nil, fmt.Errorf("transport: recv payload: %w", err)
			}
			return payload, nil
		default:
			if _, err := io.CopyN(io.Discard, c.reader, int64(head.Length)); err != nil {
				return nil, fmt.Errorf("transport: drain frame: %w", err)
			}
		}
	}
}

// Close releases the underlying connection. Safe to call more than once.
func (c *WSConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer's network address for logging.
func (c *WSConnection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Keepalive runs until stop is closed, the connection is closed, or the
// peer misses a pong (or a ping write fails), at which point it closes
// the connection and calls onTimeout exactly once. It is
// meant to be run in its own goroutine, one per connection.
func (c *WSConnection) Keepalive(stop <-chan struct{}, onTimeout func()) {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.closed:
			return
		case <-ticker.C:
			lastPong := time.Unix(0, c.lastPong.Load())
			if time.Since(lastPong) > c.pingInterval+c.pingTimeout {
				_ = c.Close()
				if onTimeout != nil {
					onTimeout()
				}
				return
			}
			if err := c.writePing(); err != nil {
				_ = c.Close()
				if onTimeout != nil {
					onTimeout()
				}
				return
			}
		}
	}
}
