// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclienttest

import (
	"sync"

	"github.com/juju/testing"

	"github.com/juju/sshclient"
)

// StubTransport implements sshclient.Transport. Connection outcomes
// are injected by the test via Send; nothing touches the network.
type StubTransport struct {
	testing.Stub

	mu     sync.Mutex
	state  sshclient.SocketState
	events chan sshclient.TransportEvent
}

// NewStubTransport returns an idle stub transport.
func NewStubTransport() *StubTransport {
	return &StubTransport{
		events: make(chan sshclient.TransportEvent, 16),
	}
}

// Connect implements sshclient.Transport. It only records the attempt;
// the test decides the outcome by calling Send.
func (t *StubTransport) Connect(host string, port int) error {
	t.AddCall("Connect", host, port)
	if err := t.NextErr(); err != nil {
		return err
	}
	t.SetState(sshclient.SocketConnecting)
	return nil
}

// Disconnect implements sshclient.Transport. The disconnected event is
// not emitted automatically; tests inject it when they want the state
// machine to observe the drop.
func (t *StubTransport) Disconnect() {
	t.AddCall("Disconnect")
	t.SetState(sshclient.SocketUnconnected)
}

// State implements sshclient.Transport.
func (t *StubTransport) State() sshclient.SocketState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Read implements sshclient.Conn; the stub never has bytes.
func (t *StubTransport) Read(p []byte) (int, error) {
	return 0, sshclient.ErrWouldBlock
}

// Write implements sshclient.Conn; writes are swallowed whole.
func (t *StubTransport) Write(p []byte) (int, error) {
	return len(p), nil
}

// Events implements sshclient.Transport.
func (t *StubTransport) Events() <-chan sshclient.TransportEvent {
	return t.events
}

// SetState overrides the reported socket state.
func (t *StubTransport) SetState(state sshclient.SocketState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

// Send injects a transport event for the client loop to consume,
// adjusting the reported socket state for lifecycle events.
func (t *StubTransport) Send(ev sshclient.TransportEvent) {
	switch ev {
	case sshclient.EventConnected:
		t.SetState(sshclient.SocketConnected)
	case sshclient.EventDisconnected, sshclient.EventError:
		t.SetState(sshclient.SocketUnconnected)
	}
	t.events <- ev
}

// DisconnectCalls counts how many times Disconnect was invoked.
func (t *StubTransport) DisconnectCalls() int {
	n := 0
	for _, call := range t.Calls() {
		if call.FuncName == "Disconnect" {
			n++
		}
	}
	return n
}
