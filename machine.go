// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclient

import (
	"github.com/juju/sshclient/hostkeys"
)

const disconnectReason = "disconnect by application"

// step runs process-step dispatch until no further progress can be
// made without a new trigger. Each state handler returns true to
// re-dispatch immediately; a would-block or a settled state returns
// false and waits for the next readiness event, timer or request.
//
// The handlers that re-dispatch are exactly the phases that complete
// synchronously: Initialize into HandShake, HandShake into
// GetAuthenticationMethods, GetAuthenticationMethods into
// Authentication, Authentication into Ready on success, and
// DisconnectingSession into FreeSession once the transport is down.
func (c *Client) step() {
	for c.dispatch() {
	}
}

func (c *Client) dispatch() bool {
	switch c.State() {
	case Unconnected:
		return false
	case SocketConnection:
		return c.stepSocketConnection()
	case WaitingSocketConnection:
		// Progress out of here is transport-driven.
		return false
	case Initialize:
		return c.stepInitialize()
	case HandShake:
		return c.stepHandshake()
	case GetAuthenticationMethods:
		return c.stepAuthenticationMethods()
	case Authentication:
		return c.stepAuthentication()
	case Ready:
		return c.stepReady()
	case DisconnectingChannel:
		return c.stepDisconnectingChannel()
	case DisconnectingSession:
		return c.stepDisconnectingSession()
	case FreeSession:
		return c.stepFreeSession()
	case Error:
		return c.stepError()
	}
	return false
}

// fail records a fatal fault and routes the machine into the Error
// state, whose handler disconnects the transport and notifies.
func (c *Client) fail(format string, args ...interface{}) bool {
	logger.Errorf("%s: "+format, append([]interface{}{c.name}, args...)...)
	c.setState(Error)
	return true
}

func (c *Client) stepSocketConnection() bool {
	c.mu.Lock()
	tgt := c.target
	c.mu.Unlock()

	c.connectTimer.arm(c.cfg.Clock, c.cfg.ConnectTimeout)
	if err := c.cfg.Transport.Connect(tgt.host, tgt.port); err != nil {
		c.connectTimer.stop()
		return c.fail("cannot start connection to %s:%d: %v", tgt.host, tgt.port, err)
	}
	c.setState(WaitingSocketConnection)
	// Fall through into the waiting state's guard; it returns without
	// progress since the socket cannot be connected yet.
	return true
}

func (c *Client) stepInitialize() bool {
	session, err := c.cfg.Engine.NewSession(c.cfg.Transport)
	if err != nil {
		logger.Errorf("%s: engine session init failed: %v", c.name, err)
		c.setState(Error)
		c.cfg.Transport.Disconnect()
		return false
	}

	table := hostkeys.NewTable()
	c.mu.Lock()
	c.session = session
	c.knownHosts = table
	path := c.knownHostsPath
	c.mu.Unlock()

	if path != "" {
		if err := table.Load(path); err != nil {
			// Absence or unreadability of the file is not fatal; the
			// table simply starts empty.
			logger.Warningf("%s: cannot load known hosts: %v", c.name, err)
		}
	}

	c.setState(HandShake)
	return true
}

func (c *Client) stepHandshake() bool {
	session := c.engineSession()
	err := session.Handshake()
	if IsWouldBlock(err) {
		return false
	}
	if err != nil {
		return c.fail("handshake failed: %v", err)
	}

	key, err := session.HostKey()
	if err != nil {
		return c.fail("cannot read host key: %v", err)
	}
	c.mu.Lock()
	c.hostKey = key
	host := c.target.host
	table := c.knownHosts
	c.mu.Unlock()

	result := table.Lookup(host, key.Key)
	c.mu.Lock()
	c.hostKeyResult = result
	c.mu.Unlock()
	logger.Debugf("%s: host key %s %s: %s in known hosts", c.name, key.Type, key.MD5, result)
	c.hub.Publish(HostKeyTopic, HostKeyEvent{
		Name:   c.name,
		Type:   key.Type,
		MD5:    key.MD5,
		Result: result.String(),
	})

	if c.cfg.HostKeyPolicy != nil {
		if err := c.cfg.HostKeyPolicy(result, key); err != nil {
			return c.fail("host key refused: %v", err)
		}
	}

	c.setState(GetAuthenticationMethods)
	return true
}

func (c *Client) stepAuthenticationMethods() bool {
	c.mu.Lock()
	have := len(c.methods) > 0
	user := c.target.user
	c.mu.Unlock()

	if !have {
		methods, err := c.engineSession().AuthenticationMethods(user)
		if IsWouldBlock(err) {
			return false
		}
		if err != nil {
			return c.fail("cannot list authentication methods: %v", err)
		}
		logger.Debugf("%s: server advertises methods %v", c.name, methods)
		c.mu.Lock()
		c.methods = methods
		c.mu.Unlock()
	}
	c.setState(Authentication)
	return true
}

// stepAuthentication walks the candidate method list in order. A
// would-block leaves both the state and the list untouched. A
// rejection removes the method; for public key the walk continues in
// the same pass, while a rejected password ends the pass unless
// configured otherwise.
func (c *Client) stepAuthentication() bool {
	session := c.engineSession()
	c.mu.Lock()
	user := c.target.user
	creds := c.creds
	c.mu.Unlock()

	for {
		method, ok := c.firstMethod()
		if !ok {
			break
		}
		switch method {
		case "publickey":
			err := session.AuthenticateByPublicKey(user, creds.publicKey, creds.privateKey, creds.passphrase)
			if IsWouldBlock(err) {
				return false
			}
			if err != nil {
				logger.Warningf("%s: public key authentication failed: %v", c.name, err)
				c.popMethod()
				continue
			}
			logger.Debugf("%s: authenticated with public key", c.name)
		case "password":
			err := session.AuthenticateByPassword(user, creds.password)
			if IsWouldBlock(err) {
				return false
			}
			if err != nil {
				logger.Warningf("%s: password authentication failed: %v", c.name, err)
				c.popMethod()
				if !c.cfg.ContinueAfterPasswordRejection {
					return false
				}
				continue
			}
			logger.Debugf("%s: authenticated with password", c.name)
		default:
			logger.Warningf("%s: skipping unsupported authentication method %q", c.name, method)
			c.popMethod()
			continue
		}
		break
	}

	if !session.IsAuthenticated() {
		return c.fail("authentication failed, no method succeeded")
	}

	logger.Infof("%s: connected and authenticated", c.name)
	c.connectTimer.stop()
	c.keepaliveTimer.arm(c.cfg.Clock, initialKeepaliveDelay)
	session.ConfigureKeepalive(true, c.cfg.KeepaliveInterval)
	c.setState(Ready)
	c.hub.Publish(ReadyTopic, SessionEvent{Name: c.name})
	return true
}

func (c *Client) stepReady() bool {
	c.lastProofOfLive = c.cfg.Clock.Now()
	c.hub.Publish(DataAvailableTopic, SessionEvent{Name: c.name})
	return false
}

// stepDisconnectingChannel asks every registered channel to close and
// is re-entered on each process step until the registry drains; the
// trigger for the advance is the Process poke issued by the final
// UnregisterChannel.
func (c *Client) stepDisconnectingChannel() bool {
	channels := c.registry.snapshot()
	if len(channels) == 0 {
		logger.Debugf("%s: no more registered channels", c.name)
		c.keepaliveTimer.stop()
		c.setState(DisconnectingSession)
		return true
	}
	for _, ch := range channels {
		ch.Close()
	}
	return false
}

func (c *Client) stepDisconnectingSession() bool {
	if session := c.engineSession(); session != nil {
		err := session.Disconnect(disconnectReason)
		if IsWouldBlock(err) {
			return false
		}
		if err != nil {
			// Teardown continues regardless.
			logger.Warningf("%s: session disconnect: %v", c.name, err)
		}
	}
	if c.cfg.Transport.State() == SocketConnected {
		c.cfg.Transport.Disconnect()
		// The transport's disconnected event moves us to FreeSession.
		return false
	}
	c.setState(FreeSession)
	return true
}

func (c *Client) stepFreeSession() bool {
	c.mu.Lock()
	c.knownHosts = nil
	session := c.session
	c.mu.Unlock()

	if session != nil {
		err := session.Close()
		if IsWouldBlock(err) {
			return false
		}
		if err != nil {
			logger.Warningf("%s: session free: %v", c.name, err)
		}
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
	}

	c.connectTimer.stop()
	c.keepaliveTimer.stop()
	c.hub.Publish(DisconnectedTopic, SessionEvent{Name: c.name})
	c.setState(Unconnected)
	return false
}

// stepError ensures the transport is down, notifies, and halts. The
// only way out is a caller-initiated teardown and a fresh Connect.
func (c *Client) stepError() bool {
	c.connectTimer.stop()
	c.keepaliveTimer.stop()
	if c.cfg.Transport.State() != SocketUnconnected {
		c.cfg.Transport.Disconnect()
	}
	logger.Warningf("%s: connection failed", c.name)
	c.hub.Publish(ErrorTopic, SessionEvent{Name: c.name, Message: "connection failed"})
	return false
}

func (c *Client) engineSession() EngineSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) firstMethod() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.methods) == 0 {
		return "", false
	}
	return c.methods[0], true
}

func (c *Client) popMethod() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.methods) > 0 {
		c.methods = c.methods[1:]
	}
}
