// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclient

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"

	"github.com/juju/sshclient/hostkeys"
)

const (
	// DefaultConnectTimeout bounds the initial transport connection.
	DefaultConnectTimeout = 60 * time.Second

	// DefaultKeepaliveInterval is the keepalive cadence advertised to
	// the server once the session is authenticated.
	DefaultKeepaliveInterval = 5 * time.Second

	// DefaultMaxLostKeepalives is the number of keepalive cycles
	// without proof of live after which the connection is considered
	// lost.
	DefaultMaxLostKeepalives = 6
)

// HostKeyPolicy decides what to do with the known-hosts lookup result
// computed during the handshake. Returning an error aborts the
// connection attempt. A nil policy accepts every key and leaves the
// result available for inspection only.
type HostKeyPolicy func(result hostkeys.Result, key hostkeys.HostKey) error

// RejectOnMismatch is a HostKeyPolicy that refuses to proceed when the
// presented host key contradicts a recorded one. Unknown hosts are
// still accepted.
func RejectOnMismatch(result hostkeys.Result, key hostkeys.HostKey) error {
	if result == hostkeys.Mismatch {
		return errors.Errorf("host key mismatch for %s key %s", key.Type, key.MD5)
	}
	return nil
}

// Config holds the dependencies and tunables of a Client.
type Config struct {
	// Name is a diagnostic label used in log messages and
	// notification payloads.
	Name string

	// Engine is the SSH protocol implementation.
	Engine Engine

	// Transport carries the raw byte stream.
	Transport Transport

	// Clock is used for the connection timer and the keepalive
	// monitor.
	Clock clock.Clock

	// Hub receives the client's notifications. If nil, the client
	// creates a private hub, available via Client.Hub.
	Hub *pubsub.SimpleHub

	// KnownHostsFile is the OpenSSH-format file loaded when a
	// connection attempt initializes. A missing file is tolerated.
	KnownHostsFile string

	// HostKeyPolicy, when set, is consulted with the known-hosts
	// lookup result after every handshake.
	HostKeyPolicy HostKeyPolicy

	// ConnectTimeout bounds the transport connection phase.
	// Defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// KeepaliveInterval is the keepalive cadence configured on the
	// engine. Defaults to DefaultKeepaliveInterval.
	KeepaliveInterval time.Duration

	// MaxLostKeepalives is the multiplier applied to the keepalive
	// interval before a silent connection is declared dead. Defaults
	// to DefaultMaxLostKeepalives.
	MaxLostKeepalives int

	// ContinueAfterPasswordRejection makes a rejected password
	// attempt fall through to the next candidate method in the same
	// pass, the way public key rejection does. The default preserves
	// the historical behaviour: the pass ends and the remaining
	// methods are only tried on the next process step.
	ContinueAfterPasswordRejection bool
}

// Validate returns an error if the configuration cannot run a client.
func (config Config) Validate() error {
	if config.Engine == nil {
		return errors.NotValidf("nil Engine")
	}
	if config.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.MaxLostKeepalives < 0 {
		return errors.NotValidf("negative MaxLostKeepalives")
	}
	return nil
}
