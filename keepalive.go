// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclient

import (
	"time"

	"github.com/juju/clock"
)

const (
	// initialKeepaliveDelay is the single-shot delay between the
	// session becoming ready and the first keepalive probe.
	initialKeepaliveDelay = time.Second

	// minKeepaliveDelay floors the rescheduling interval so a short
	// server interval cannot degenerate into a hot loop.
	minKeepaliveDelay = 2 * time.Second
)

// timerHandle wraps an optional clock.Timer owned by the client loop.
// A nil timer means "not armed"; the loop only selects on armed
// timers.
type timerHandle struct {
	timer clock.Timer
}

func (t *timerHandle) arm(clk clock.Clock, d time.Duration) {
	if t.timer == nil {
		t.timer = clk.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *timerHandle) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// handleKeepalive is the dead-connection detector. On each firing it
// sends an engine-level probe; a send failure forces a transport
// disconnect, as does going longer than interval times
// MaxLostKeepalives without proof of live. Otherwise it reschedules
// itself to fire just ahead of the server's expected interval.
//
// Proof of live is refreshed opportunistically by every process step
// taken in the Ready state, not only by the probe itself.
func (c *Client) handleKeepalive() {
	session := c.engineSession()
	if session == nil {
		return
	}

	remaining, err := session.SendKeepalive()
	if err != nil {
		logger.Warningf("%s: keepalive i/o error: %v", c.name, err)
		c.keepaliveTimer.stop()
		c.cfg.Transport.Disconnect()
		return
	}
	if remaining <= 0 {
		remaining = c.cfg.KeepaliveInterval
	}

	elapsed := c.cfg.Clock.Now().Sub(c.lastProofOfLive)
	if elapsed > time.Duration(c.cfg.MaxLostKeepalives)*remaining {
		logger.Warningf("%s: connection lost, no activity for %v", c.name, elapsed)
		c.keepaliveTimer.stop()
		c.cfg.Transport.Disconnect()
		return
	}

	next := remaining - time.Second
	if next < minKeepaliveDelay {
		next = minKeepaliveDelay
	}
	c.keepaliveTimer.arm(c.cfg.Clock, next)
}
