// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

// Package sshclient manages the lifecycle of a single asynchronous SSH
// client session: transport establishment, handshake, host key
// verification, authentication, a multiplexed ready phase and orderly
// teardown. The SSH wire protocol itself is delegated to an Engine
// collaborator exposing non-blocking, would-block-retriable
// primitives; this package owns the state machine built around it.
package sshclient

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/sshclient/hostkeys"
)

var logger = loggo.GetLogger("sshclient")

// ErrAlreadyConnected is returned by Connect when the client is not in
// the Unconnected state. The connection attempt is refused and the
// state is left unchanged.
var ErrAlreadyConnected = errors.New("already connected")

// ErrClientStopped is returned when an operation is posted to a client
// whose worker has stopped.
var ErrClientStopped = errors.New("client has stopped")

// target identifies the remote endpoint and user of one connection
// attempt.
type target struct {
	user string
	host string
	port int
}

// credentials is the material offered during authentication.
type credentials struct {
	password   string
	publicKey  []byte
	privateKey []byte
	passphrase string
}

// Client drives one SSH connection through its lifecycle. It is a
// worker.Worker: all connection state is owned by the single loop
// goroutine, which consumes transport events, timers and posted
// requests. Public methods are safe from any goroutine.
type Client struct {
	catacomb catacomb.Catacomb
	cfg      Config
	name     string
	hub      *pubsub.SimpleHub

	// requests are closures executed on the loop goroutine; process
	// carries coalesced state machine wake-ups.
	requests chan func()
	process  chan struct{}

	registry channelRegistry
	gate     creationGate

	// mu guards the observable snapshot of loop-owned state: the
	// lifecycle state, the session and known-hosts handles, the host
	// key record and the remaining authentication methods. Writes
	// happen only on the loop goroutine.
	mu            sync.Mutex
	state         State
	session       EngineSession
	knownHosts    *hostkeys.Table
	hostKey       hostkeys.HostKey
	hostKeyResult hostkeys.Result
	target        target
	creds         credentials
	methods       []string

	// knownHostsPath is the file the table is loaded from at the start
	// of each connection attempt.
	knownHostsPath string

	// Loop-owned, never read outside the loop goroutine.
	lastProofOfLive time.Time
	connectTimer    timerHandle
	keepaliveTimer  timerHandle
}

// NewClient returns a started client. The engine's process-wide state
// is initialized when the first live client for it is constructed, and
// shut down again when the last one stops.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Name == "" {
		cfg.Name = "sshclient"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.MaxLostKeepalives == 0 {
		cfg.MaxLostKeepalives = DefaultMaxLostKeepalives
	}
	hub := cfg.Hub
	if hub == nil {
		hub = pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("sshclient.hub"),
		})
	}

	if err := engineAcquire(cfg.Engine); err != nil {
		return nil, errors.Trace(err)
	}
	c := &Client{
		cfg:            cfg,
		name:           cfg.Name,
		hub:            hub,
		requests:       make(chan func()),
		process:        make(chan struct{}, 1),
		state:          Unconnected,
		knownHostsPath: cfg.KnownHostsFile,
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &c.catacomb,
		Work: c.loop,
	}); err != nil {
		engineRelease(cfg.Engine)
		return nil, errors.Trace(err)
	}
	logger.Debugf("%s: created", c.name)
	return c, nil
}

// Kill is part of the worker.Worker interface.
func (c *Client) Kill() {
	c.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (c *Client) Wait() error {
	return c.catacomb.Wait()
}

// Name returns the client's diagnostic label.
func (c *Client) Name() string {
	return c.name
}

// Hub returns the hub the client publishes its notifications on.
func (c *Client) Hub() *pubsub.SimpleHub {
	return c.hub
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState moves the lifecycle state and publishes the change. Called
// only from the loop goroutine.
func (c *Client) setState(next State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()
	logger.Debugf("%s: state is now %s", c.name, next)
	c.hub.Publish(StateChangedTopic, StateChange{Name: c.name, State: next})
}

// Process asks the state machine to run one processing pass. It is
// safe from any goroutine, coalesces with an already-pending pass, and
// is a no-op at every settled state. Call it whenever new data is
// available or a previous operation signalled would-block.
func (c *Client) Process() {
	select {
	case c.process <- struct{}{}:
	default:
	}
}

// runOnLoop executes f on the loop goroutine and waits for it. Must
// not be called from the loop itself.
func (c *Client) runOnLoop(f func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		f()
	}
	select {
	case c.requests <- wrapped:
	case <-c.catacomb.Dying():
		return ErrClientStopped
	}
	select {
	case <-done:
		return nil
	case <-c.catacomb.Dying():
		return ErrClientStopped
	}
}

// Connect starts a connection attempt to host:port as user. It is
// valid only from the Unconnected state; otherwise the attempt is
// refused and the state is left unchanged. If methods is empty the
// candidate list is populated from the server-advertised methods
// during the attempt.
func (c *Client) Connect(user, host string, port int, methods ...string) error {
	var result error
	err := c.runOnLoop(func() {
		if st := c.State(); st != Unconnected {
			logger.Errorf("%s: connect refused, state is %s", c.name, st)
			result = errors.Annotatef(ErrAlreadyConnected, "state is %s", st)
			return
		}
		c.mu.Lock()
		c.target = target{user: user, host: host, port: port}
		c.methods = append([]string(nil), methods...)
		c.mu.Unlock()
		c.setState(SocketConnection)
		c.step()
	})
	if err != nil {
		return errors.Trace(err)
	}
	return result
}

// Disconnect starts an orderly teardown. It is safe from any state and
// a no-op when already Unconnected. With registered channels the
// session drains through DisconnectingChannel; otherwise it moves
// straight to DisconnectingSession.
func (c *Client) Disconnect() {
	_ = c.runOnLoop(func() {
		if c.State() == Unconnected {
			return
		}
		logger.Debugf("%s: disconnect requested", c.name)
		if c.registry.size() == 0 {
			c.setState(DisconnectingSession)
		} else {
			c.setState(DisconnectingChannel)
		}
		c.step()
	})
}

// WaitUntilState blocks until the client reaches target, reporting
// true, or enters the Error state or stops, reporting false.
func (c *Client) WaitUntilState(targetState State) bool {
	changes := make(chan struct{}, 1)
	unsub := c.hub.Subscribe(StateChangedTopic, func(_ string, _ interface{}) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsub()
	for {
		switch st := c.State(); {
		case st == targetState:
			return true
		case st == Error:
			return false
		}
		select {
		case <-changes:
		case <-c.catacomb.Dying():
			return c.State() == targetState
		}
	}
}

// SetPassword sets the password offered for password authentication.
func (c *Client) SetPassword(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds.password = password
}

// SetKeys sets the key pair offered for public key authentication.
func (c *Client) SetKeys(publicKey, privateKey []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds.publicKey = append([]byte(nil), publicKey...)
	c.creds.privateKey = append([]byte(nil), privateKey...)
}

// SetPassphrase sets the passphrase protecting the private key.
func (c *Client) SetPassphrase(passphrase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds.passphrase = passphrase
}

// SetKnownHostsFile sets the file the known hosts table is loaded from
// at the start of the next connection attempt.
func (c *Client) SetKnownHostsFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knownHostsPath = path
}

// AddKnownHost records a host key in the live known hosts table. The
// table only exists while a connection attempt is in progress.
func (c *Client) AddKnownHost(hostname string, key hostkeys.HostKey) error {
	table := c.knownHostsTable()
	if table == nil {
		return errors.Errorf("%s: no known hosts table, not connected", c.name)
	}
	return errors.Trace(table.AddHostKey(hostname, key))
}

// SaveKnownHosts persists the live known hosts table to path.
func (c *Client) SaveKnownHosts(path string) error {
	table := c.knownHostsTable()
	if table == nil {
		return errors.Errorf("%s: no known hosts table, not connected", c.name)
	}
	return errors.Trace(table.Save(path))
}

func (c *Client) knownHostsTable() *hostkeys.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.knownHosts
}

// HostKey returns the host key presented by the server during the
// current connection's handshake.
func (c *Client) HostKey() hostkeys.HostKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostKey
}

// HostKeyResult returns the known-hosts classification of the host key
// presented during the current connection's handshake. The result is
// informational unless a HostKeyPolicy was configured.
func (c *Client) HostKeyResult() hostkeys.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostKeyResult
}

// Banner returns the server's identification banner, or empty when not
// connected.
func (c *Client) Banner() string {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return ""
	}
	return session.Banner()
}

// RemainingAuthMethods returns the candidate authentication methods
// not yet consumed by the current connection attempt.
func (c *Client) RemainingAuthMethods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.methods...)
}

// loop is the single goroutine owning all connection state.
func (c *Client) loop() error {
	defer engineRelease(c.cfg.Engine)
	defer func() {
		// Best effort teardown when killed mid-connection.
		if c.State() != Unconnected && c.cfg.Transport.State() != SocketUnconnected {
			c.cfg.Transport.Disconnect()
		}
	}()

	events := c.cfg.Transport.Events()
	for {
		var connectChan, keepaliveChan <-chan time.Time
		if c.connectTimer.timer != nil {
			connectChan = c.connectTimer.timer.Chan()
		}
		if c.keepaliveTimer.timer != nil {
			keepaliveChan = c.keepaliveTimer.timer.Chan()
		}
		select {
		case <-c.catacomb.Dying():
			return c.catacomb.ErrDying()
		case f := <-c.requests:
			f()
		case <-c.process:
			c.step()
		case ev := <-events:
			c.handleTransportEvent(ev)
		case <-connectChan:
			c.handleConnectTimeout()
		case <-keepaliveChan:
			c.handleKeepalive()
		}
	}
}

// handleTransportEvent applies the transport-driven transitions that
// sit outside the process-step dispatch.
func (c *Client) handleTransportEvent(ev TransportEvent) {
	switch ev {
	case EventConnected:
		if c.State() == WaitingSocketConnection {
			logger.Debugf("%s: socket connected", c.name)
			c.setState(Initialize)
		} else {
			logger.Warningf("%s: unexpected socket connection in state %s", c.name, c.State())
			c.setState(Error)
		}
	case EventDisconnected:
		logger.Debugf("%s: socket disconnected", c.name)
		c.setState(FreeSession)
	case EventError:
		logger.Warningf("%s: socket error in state %s", c.name, c.State())
		c.setState(Error)
	case EventReadable:
	}
	c.step()
}

func (c *Client) handleConnectTimeout() {
	c.connectTimer.stop()
	logger.Warningf("%s: socket connection timeout", c.name)
	c.cfg.Transport.Disconnect()
	c.setState(Error)
	c.step()
}
