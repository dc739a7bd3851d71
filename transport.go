// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclient

import (
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/juju/errors"
)

// SocketState describes the transport's connection status.
type SocketState int

const (
	SocketUnconnected SocketState = iota
	SocketConnecting
	SocketConnected
)

func (s SocketState) String() string {
	switch s {
	case SocketUnconnected:
		return "unconnected"
	case SocketConnecting:
		return "connecting"
	case SocketConnected:
		return "connected"
	}
	return "unknown"
}

// TransportEvent is a readiness or lifecycle notification from the
// transport, consumed by the client loop.
type TransportEvent int

const (
	// EventConnected reports that the transport connection attempt
	// completed.
	EventConnected TransportEvent = iota

	// EventDisconnected reports that the connection has gone away,
	// either because Disconnect was called or the peer closed it.
	EventDisconnected

	// EventReadable reports that bytes are waiting to be read.
	EventReadable

	// EventError reports a transport fault.
	EventError
)

func (e TransportEvent) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReadable:
		return "readable"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Transport is the raw byte stream the engine session rides on. Read
// and Write are non-blocking (returning ErrWouldBlock), Connect is
// asynchronous, and completion is reported on the Events channel.
type Transport interface {
	Conn

	// Connect starts connecting to host:port. The outcome arrives as
	// an EventConnected or EventError event.
	Connect(host string, port int) error

	// Disconnect drops the connection. If a connection was
	// established, an EventDisconnected event follows.
	Disconnect()

	// State reports the current connection status.
	State() SocketState

	// Events is the stream of transport notifications. The channel is
	// never closed while the transport is in use.
	Events() <-chan TransportEvent
}

// NewTCPTransport returns a Transport over a plain TCP connection.
func NewTCPTransport() Transport {
	return &tcpTransport{
		events: make(chan TransportEvent, 16),
	}
}

type tcpTransport struct {
	mu       sync.Mutex
	conn     net.Conn
	state    SocketState
	closing  bool
	buf      []byte
	readable bool

	events chan TransportEvent
}

func (t *tcpTransport) Connect(host string, port int) error {
	t.mu.Lock()
	if t.state != SocketUnconnected {
		state := t.state
		t.mu.Unlock()
		return errors.Errorf("transport is already %s", state)
	}
	t.state = SocketConnecting
	t.closing = false
	t.buf = nil
	t.readable = false
	t.mu.Unlock()

	go t.dial(net.JoinHostPort(host, strconv.Itoa(port)))
	return nil
}

func (t *tcpTransport) dial(addr string) {
	conn, err := net.Dial("tcp", addr)
	t.mu.Lock()
	if t.closing {
		t.state = SocketUnconnected
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		t.state = SocketUnconnected
		t.mu.Unlock()
		logger.Warningf("cannot connect to %s: %v", addr, err)
		t.events <- EventError
		return
	}
	t.conn = conn
	t.state = SocketConnected
	t.mu.Unlock()
	t.events <- EventConnected
	go t.readLoop(conn)
}

// readLoop pumps bytes from the socket into the read-ahead buffer and
// surfaces readability to the client loop. A Readable event is only
// emitted when none is already pending, so a slow consumer sees one
// coalesced notification rather than a backlog.
func (t *tcpTransport) readLoop(conn net.Conn) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			t.mu.Lock()
			t.buf = append(t.buf, chunk[:n]...)
			pending := t.readable
			t.readable = true
			t.mu.Unlock()
			if !pending {
				t.events <- EventReadable
			}
		}
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			t.conn = nil
			t.state = SocketUnconnected
			t.mu.Unlock()
			if closing || err == io.EOF {
				t.events <- EventDisconnected
			} else {
				logger.Warningf("transport read: %v", err)
				t.events <- EventError
			}
			return
		}
	}
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == 0 {
		t.readable = false
		return 0, ErrWouldBlock
	}
	n := copy(p, t.buf)
	t.buf = t.buf[n:]
	if len(t.buf) == 0 {
		t.readable = false
	}
	return n, nil
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, errors.New("transport is not connected")
	}
	return conn.Write(p)
}

func (t *tcpTransport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.closing = true
	if conn == nil && t.state == SocketUnconnected {
		t.mu.Unlock()
		return
	}
	if conn == nil {
		// A dial is in flight; it will observe closing and bail out.
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	// The read loop observes the close and emits EventDisconnected.
	_ = conn.Close()
}

func (t *tcpTransport) State() SocketState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *tcpTransport) Events() <-chan TransportEvent {
	return t.events
}
