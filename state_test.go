// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

package sshclient_test

import (
	"github.com/juju/errors"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/sshclient"
)

type StateSuite struct {
	jujutesting.IsolationSuite
}

var _ = gc.Suite(&StateSuite{})

func (s *StateSuite) TestStateStrings(c *gc.C) {
	c.Check(sshclient.Unconnected.String(), gc.Equals, "unconnected")
	c.Check(sshclient.WaitingSocketConnection.String(), gc.Equals, "waiting-socket-connection")
	c.Check(sshclient.GetAuthenticationMethods.String(), gc.Equals, "get-authentication-methods")
	c.Check(sshclient.Error.String(), gc.Equals, "error")
	c.Check(sshclient.State(42).String(), gc.Equals, "unknown")
}

func (s *StateSuite) TestWouldBlockIdentification(c *gc.C) {
	c.Check(sshclient.IsWouldBlock(sshclient.ErrWouldBlock), jc.IsTrue)
	c.Check(sshclient.IsWouldBlock(errors.Trace(sshclient.ErrWouldBlock)), jc.IsTrue)
	c.Check(sshclient.IsWouldBlock(errors.New("operation would block")), jc.IsFalse)
	c.Check(sshclient.IsWouldBlock(nil), jc.IsFalse)
}

func (s *StateSuite) TestAuthenticationRejectedIdentification(c *gc.C) {
	err := errors.Annotate(sshclient.ErrAuthenticationRejected, "password")
	c.Check(sshclient.IsAuthenticationRejected(err), jc.IsTrue)
	c.Check(sshclient.IsAuthenticationRejected(errors.New("nope")), jc.IsFalse)
	c.Check(sshclient.IsAuthenticationRejected(nil), jc.IsFalse)
}
