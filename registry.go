// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclient

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/retry"
)

// Channel is a logical multiplexed stream carried over an
// authenticated session: a process execution, a tunnel endpoint or a
// file transfer. Channels are owned by their consumers; the client
// only holds a registry entry. A channel must honour a Close request
// issued during teardown and call UnregisterChannel when it is gone.
type Channel interface {
	// Name is a diagnostic label.
	Name() string

	// Close asks the channel to shut down. It must be safe to call
	// more than once.
	Close()
}

// channelRegistry tracks the channels currently open on a session.
// Registration happens from consumer goroutines, so it carries its own
// lock; lifecycle reactions to an emptied registry are taken by the
// client loop.
type channelRegistry struct {
	mu       sync.Mutex
	channels []Channel
}

func (r *channelRegistry) add(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, ch)
}

func (r *channelRegistry) remove(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.channels {
		if existing == ch {
			r.channels = append(r.channels[:i], r.channels[i+1:]...)
			return
		}
	}
}

func (r *channelRegistry) snapshot() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Channel(nil), r.channels...)
}

func (r *channelRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// creationGate serializes channel creation against the shared engine
// session handle. It is deliberately not a blocking mutex: a caller
// that cannot take the gate gets an immediate refusal and decides for
// itself how to wait.
type creationGate struct {
	mu     sync.Mutex
	holder interface{}
}

// tryAcquire takes the gate for holder. It succeeds if the gate is
// free or already held by the same holder.
func (g *creationGate) tryAcquire(holder interface{}) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != nil && g.holder != holder {
		return false
	}
	g.holder = holder
	return true
}

// release frees the gate if holder currently holds it. Releasing a
// gate held by someone else is a programming error; the gate stays
// held and the caller is told so.
func (g *creationGate) release(holder interface{}) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != holder {
		return false
	}
	g.holder = nil
	return true
}

// RegisterChannel adds a channel to the session's registry.
func (c *Client) RegisterChannel(ch Channel) {
	logger.Debugf("%s: registering channel %q", c.name, ch.Name())
	c.registry.add(ch)
}

// UnregisterChannel removes a channel from the registry. When the last
// channel leaves while the session is draining, the state machine is
// poked so it can advance to DisconnectingSession.
func (c *Client) UnregisterChannel(ch Channel) {
	logger.Debugf("%s: unregistering channel %q", c.name, ch.Name())
	c.registry.remove(ch)
	if c.State() == DisconnectingChannel {
		c.Process()
	}
}

// TryChannelCreation attempts to take the channel creation gate for
// holder. A holder that already has the gate may take it again. On
// refusal the caller must retry later; nothing blocks.
func (c *Client) TryChannelCreation(holder interface{}) bool {
	ok := c.gate.tryAcquire(holder)
	if !ok {
		logger.Debugf("%s: channel creation in progress elsewhere, caller must wait", c.name)
	}
	return ok
}

// ReleaseChannelCreation releases the channel creation gate. A release
// by a caller that does not hold the gate is refused and reported.
func (c *Client) ReleaseChannelCreation(holder interface{}) {
	if !c.gate.release(holder) {
		logger.Errorf("%s: channel creation gate released by a non-holder", c.name)
	}
}

var errGateHeld = errors.New("channel creation gate is held")

// AcquireChannelCreation takes the creation gate for holder, retrying
// with backoff until it succeeds or stop is closed. It is a
// convenience for consumers living outside the client's event flow.
func (c *Client) AcquireChannelCreation(holder interface{}, stop <-chan struct{}) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if c.TryChannelCreation(holder) {
				return nil
			}
			return errGateHeld
		},
		IsFatalError: func(err error) bool {
			return errors.Cause(err) != errGateHeld
		},
		Attempts:    -1,
		Delay:       10 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.cfg.Clock,
		Stop:        stop,
	})
	return errors.Trace(err)
}
