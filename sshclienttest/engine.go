// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

// Package sshclienttest provides scriptable doubles for the protocol
// engine and the transport, so client behaviour can be driven through
// every state without a network or a real SSH implementation.
package sshclienttest

import (
	"sync"
	"time"

	"github.com/juju/testing"

	"github.com/juju/sshclient"
	"github.com/juju/sshclient/hostkeys"
)

// StubEngine implements sshclient.Engine. Calls are recorded on the
// embedded Stub; NewSession hands out the configured Session.
type StubEngine struct {
	testing.Stub

	mu sync.Mutex
	// Session is returned by NewSession. If nil, a fresh default
	// StubSession is created and remembered.
	Session *StubSession
}

// NewStubEngine returns an engine whose sessions succeed at every
// operation unless scripted otherwise.
func NewStubEngine() *StubEngine {
	return &StubEngine{Session: NewStubSession()}
}

// Initialize implements sshclient.Engine.
func (e *StubEngine) Initialize() error {
	e.AddCall("Initialize")
	return e.NextErr()
}

// Shutdown implements sshclient.Engine.
func (e *StubEngine) Shutdown() {
	e.AddCall("Shutdown")
}

// NewSession implements sshclient.Engine.
func (e *StubEngine) NewSession(conn sshclient.Conn) (sshclient.EngineSession, error) {
	e.AddCall("NewSession", conn)
	if err := e.NextErr(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Session == nil {
		e.Session = NewStubSession()
	}
	return e.Session, nil
}

// StubSession implements sshclient.EngineSession with per-operation
// result queues. An empty queue means success, so the default session
// sails through handshake and authentication. Queue entries are
// consumed one per call, letting tests script would-block sequences.
type StubSession struct {
	stub testing.Stub

	mu                sync.Mutex
	handshakeResults  []error
	methodsResults    []error
	publicKeyResults  []error
	passwordResults   []error
	disconnectResults []error
	closeResults      []error
	keepaliveResults  []error

	methods            []string
	hostKey            hostkeys.HostKey
	hostKeyErr         error
	banner             string
	authenticated      bool
	keepaliveRemaining time.Duration
}

// NewStubSession returns a session that succeeds at everything, with a
// placeholder host key and a 5 second keepalive cadence.
func NewStubSession() *StubSession {
	return &StubSession{
		hostKey: hostkeys.HostKey{
			Type: "ssh-rsa",
			Key:  []byte("stub-host-key"),
			MD5:  "00:11:22:33:44:55:66:77:88:99:aa:bb:cc:dd:ee:ff",
		},
		banner:             "SSH-2.0-StubEngine",
		keepaliveRemaining: 5 * time.Second,
	}
}

// Stub exposes the call recorder for assertions.
func (s *StubSession) Stub() *testing.Stub {
	return &s.stub
}

// QueueHandshake scripts the results of successive Handshake calls.
func (s *StubSession) QueueHandshake(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshakeResults = append(s.handshakeResults, errs...)
}

// QueueAuthenticationMethods scripts the results of successive
// AuthenticationMethods calls.
func (s *StubSession) QueueAuthenticationMethods(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methodsResults = append(s.methodsResults, errs...)
}

// QueuePublicKey scripts the results of successive public key
// authentication attempts.
func (s *StubSession) QueuePublicKey(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicKeyResults = append(s.publicKeyResults, errs...)
}

// QueuePassword scripts the results of successive password
// authentication attempts.
func (s *StubSession) QueuePassword(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwordResults = append(s.passwordResults, errs...)
}

// QueueDisconnect scripts the results of successive Disconnect calls.
func (s *StubSession) QueueDisconnect(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectResults = append(s.disconnectResults, errs...)
}

// QueueClose scripts the results of successive Close calls.
func (s *StubSession) QueueClose(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeResults = append(s.closeResults, errs...)
}

// QueueKeepalive scripts the results of successive SendKeepalive
// calls.
func (s *StubSession) QueueKeepalive(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepaliveResults = append(s.keepaliveResults, errs...)
}

// SetAdvertisedMethods sets the server-advertised method list.
func (s *StubSession) SetAdvertisedMethods(methods ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = methods
}

// SetHostKey sets the host key presented during the handshake.
func (s *StubSession) SetHostKey(key hostkeys.HostKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostKey = key
}

// SetHostKeyError makes HostKey fail.
func (s *StubSession) SetHostKeyError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostKeyErr = err
}

// SetKeepaliveRemaining sets the cadence SendKeepalive reports.
func (s *StubSession) SetKeepaliveRemaining(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepaliveRemaining = d
}

func (s *StubSession) pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

// Handshake implements sshclient.EngineSession.
func (s *StubSession) Handshake() error {
	s.stub.AddCall("Handshake")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pop(&s.handshakeResults)
}

// HostKey implements sshclient.EngineSession.
func (s *StubSession) HostKey() (hostkeys.HostKey, error) {
	s.stub.AddCall("HostKey")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostKey, s.hostKeyErr
}

// Banner implements sshclient.EngineSession.
func (s *StubSession) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

// AuthenticationMethods implements sshclient.EngineSession.
func (s *StubSession) AuthenticationMethods(user string) ([]string, error) {
	s.stub.AddCall("AuthenticationMethods", user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pop(&s.methodsResults); err != nil {
		return nil, err
	}
	return append([]string(nil), s.methods...), nil
}

// AuthenticateByPublicKey implements sshclient.EngineSession.
func (s *StubSession) AuthenticateByPublicKey(user string, publicKey, privateKey []byte, passphrase string) error {
	s.stub.AddCall("AuthenticateByPublicKey", user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pop(&s.publicKeyResults); err != nil {
		return err
	}
	s.authenticated = true
	return nil
}

// AuthenticateByPassword implements sshclient.EngineSession.
func (s *StubSession) AuthenticateByPassword(user, password string) error {
	s.stub.AddCall("AuthenticateByPassword", user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pop(&s.passwordResults); err != nil {
		return err
	}
	s.authenticated = true
	return nil
}

// IsAuthenticated implements sshclient.EngineSession.
func (s *StubSession) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// ConfigureKeepalive implements sshclient.EngineSession.
func (s *StubSession) ConfigureKeepalive(wantReply bool, interval time.Duration) {
	s.stub.AddCall("ConfigureKeepalive", wantReply, interval)
}

// SendKeepalive implements sshclient.EngineSession.
func (s *StubSession) SendKeepalive() (time.Duration, error) {
	s.stub.AddCall("SendKeepalive")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pop(&s.keepaliveResults); err != nil {
		return 0, err
	}
	return s.keepaliveRemaining, nil
}

// Disconnect implements sshclient.EngineSession.
func (s *StubSession) Disconnect(reason string) error {
	s.stub.AddCall("Disconnect", reason)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pop(&s.disconnectResults)
}

// Close implements sshclient.EngineSession.
func (s *StubSession) Close() error {
	s.stub.AddCall("Close")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pop(&s.closeResults)
}
