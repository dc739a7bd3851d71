// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclient

import (
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/juju/sshclient/hostkeys"
)

// ErrWouldBlock is returned by non-blocking engine and transport
// operations that cannot complete yet. It is a retry signal, not a
// failure: the caller must try again after the next readiness event.
var ErrWouldBlock = errors.New("operation would block")

// IsWouldBlock reports whether err is the would-block retry signal.
func IsWouldBlock(err error) bool {
	return errors.Cause(err) == ErrWouldBlock
}

// ErrAuthenticationRejected is returned by engine authentication calls
// when the server explicitly refused the offered credentials. It is
// non-fatal; the authentication loop moves on to the next candidate
// method.
var ErrAuthenticationRejected = errors.New("authentication rejected")

// IsAuthenticationRejected reports whether err is an explicit
// authentication rejection.
func IsAuthenticationRejected(err error) bool {
	return errors.Cause(err) == ErrAuthenticationRejected
}

// Conn is the non-blocking duplex byte stream an engine session reads
// and writes through. Both methods return ErrWouldBlock when no
// progress can be made right now.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Engine abstracts the SSH protocol implementation (key exchange,
// ciphers, packet framing) behind non-blocking primitives, in the
// manner of libssh2. The client never touches the wire format itself.
//
// Initialize and Shutdown bracket process-wide library state. The
// client reference counts live sessions per engine and calls them on
// the 0->1 and 1->0 transitions.
type Engine interface {
	// Initialize prepares process-wide engine state.
	Initialize() error

	// Shutdown releases process-wide engine state.
	Shutdown()

	// NewSession creates a session whose I/O is bridged to the given
	// connection. The session starts in non-blocking mode.
	NewSession(conn Conn) (EngineSession, error)
}

// EngineSession is the opaque per-connection handle through which all
// protocol operations are invoked. It is exclusively owned by one
// Client; only the client loop goroutine calls into it.
//
// Any operation documented as retriable may return ErrWouldBlock, in
// which case the client leaves its state unchanged and retries the
// same call on the next readiness event.
type EngineSession interface {
	// Handshake performs the protocol handshake. Retriable.
	Handshake() error

	// HostKey returns the host key presented by the server during the
	// handshake.
	HostKey() (hostkeys.HostKey, error)

	// Banner returns the server's identification banner.
	Banner() string

	// AuthenticationMethods returns the authentication method names
	// the server advertises for user. Retriable. An empty list with a
	// nil error means "none" authentication already succeeded.
	AuthenticationMethods(user string) ([]string, error)

	// AuthenticateByPublicKey attempts public key authentication.
	// Retriable; returns ErrAuthenticationRejected on refusal.
	AuthenticateByPublicKey(user string, publicKey, privateKey []byte, passphrase string) error

	// AuthenticateByPassword attempts password authentication.
	// Retriable; returns ErrAuthenticationRejected on refusal.
	AuthenticateByPassword(user, password string) error

	// IsAuthenticated reports whether the session is authenticated.
	IsAuthenticated() bool

	// ConfigureKeepalive tells the engine how often the server should
	// expect keepalive messages, and whether it should reply to them.
	ConfigureKeepalive(wantReply bool, interval time.Duration)

	// SendKeepalive emits a keepalive probe and returns the time
	// until the next one is due. An error means the write failed at
	// the transport level.
	SendKeepalive() (time.Duration, error)

	// Disconnect sends the protocol-level disconnect notice.
	// Retriable.
	Disconnect(reason string) error

	// Close releases the session. Retriable.
	Close() error
}

// Process-wide engine reference counts, keyed by engine instance.
// Multiple clients may share one engine; the first construction
// initializes it and the last teardown shuts it down.
var (
	engineMu   sync.Mutex
	engineRefs = make(map[Engine]int)
)

func engineAcquire(engine Engine) error {
	engineMu.Lock()
	defer engineMu.Unlock()
	if engineRefs[engine] == 0 {
		if err := engine.Initialize(); err != nil {
			return errors.Annotate(err, "initializing protocol engine")
		}
	}
	engineRefs[engine]++
	return nil
}

func engineRelease(engine Engine) {
	engineMu.Lock()
	defer engineMu.Unlock()
	engineRefs[engine]--
	if engineRefs[engine] <= 0 {
		delete(engineRefs, engine)
		engine.Shutdown()
	}
}
