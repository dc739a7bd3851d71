// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclient

// State is the lifecycle state of a Client. State values are only ever
// mutated by the client's own loop goroutine; observers see changes via
// the StateChangedTopic publications or Client.State.
type State int

const (
	// Unconnected is both the initial state and the terminal state
	// reached again after a full teardown.
	Unconnected State = iota

	// SocketConnection is the transient state in which the transport
	// connection is initiated and the connection timer armed.
	SocketConnection

	// WaitingSocketConnection waits for the transport to report that
	// it is connected. Progress out of this state is driven by
	// transport events, not by process steps.
	WaitingSocketConnection

	// Initialize creates the protocol engine session bound to the
	// transport and loads the known hosts table.
	Initialize

	// HandShake drives the engine handshake and records the host key
	// presented by the server.
	HandShake

	// GetAuthenticationMethods queries the server for its advertised
	// authentication methods when the caller supplied none.
	GetAuthenticationMethods

	// Authentication walks the candidate method list in order.
	Authentication

	// Ready is the steady authenticated state in which channels are
	// multiplexed over the session.
	Ready

	// DisconnectingChannel asks every registered channel to close and
	// waits for the registry to drain.
	DisconnectingChannel

	// DisconnectingSession sends the engine-level disconnect notice
	// and waits for the transport to drop.
	DisconnectingSession

	// FreeSession releases the known hosts table and the engine
	// session before returning to Unconnected.
	FreeSession

	// Error is an absorbing failure state. There is no automatic
	// recovery; the caller must disconnect and connect again.
	Error
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case SocketConnection:
		return "socket-connection"
	case WaitingSocketConnection:
		return "waiting-socket-connection"
	case Initialize:
		return "initialize"
	case HandShake:
		return "handshake"
	case GetAuthenticationMethods:
		return "get-authentication-methods"
	case Authentication:
		return "authentication"
	case Ready:
		return "ready"
	case DisconnectingChannel:
		return "disconnecting-channel"
	case DisconnectingSession:
		return "disconnecting-session"
	case FreeSession:
		return "free-session"
	case Error:
		return "error"
	}
	return "unknown"
}

// Topics published on the client's hub.
const (
	// StateChangedTopic carries a StateChange payload every time the
	// lifecycle state moves.
	StateChangedTopic = "sshclient.state-changed"

	// ReadyTopic is published once per connection attempt, when the
	// session becomes authenticated.
	ReadyTopic = "sshclient.ready"

	// DataAvailableTopic is published on every process step taken in
	// the Ready state, so channel consumers can drain the transport.
	DataAvailableTopic = "sshclient.data-available"

	// HostKeyTopic carries a HostKeyEvent payload once per connection
	// attempt, after the handshake has produced the server's host key
	// and its known-hosts classification.
	HostKeyTopic = "sshclient.host-key"

	// DisconnectedTopic is published when the session has been fully
	// released.
	DisconnectedTopic = "sshclient.disconnected"

	// ErrorTopic is published when the client enters the Error state.
	ErrorTopic = "sshclient.error"
)

// StateChange is the payload published on StateChangedTopic.
type StateChange struct {
	Name  string
	State State
}

// SessionEvent is the payload published on the ready, data-available,
// disconnected and error topics.
type SessionEvent struct {
	Name    string
	Message string
}

// HostKeyEvent is the payload published on HostKeyTopic.
type HostKeyEvent struct {
	Name   string
	Type   string
	MD5    string
	Result string
}
