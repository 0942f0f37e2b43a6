package server

import (
	"context"
	"encoding/base64"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/sasl"
	"github.com/go-i2p/go-xmpp-server/lib/util"
)

type authPhase int

const (
	authIdle authPhase = iota
	authAwaiting
)

// authSession is the state of an in-progress SASL exchange.
type authSession struct {
	phase authPhase
	mech  sasl.Mechanism
}

func (a authSession) active() bool {
	return a.phase == authAwaiting
}

func (n *negotiator) startAuth(elem *protocol.Element) {
	c := n.c
	if c.IsAuthenticated() {
		c.Disconnect(protocol.StreamPolicyViolation, "already authenticated")
		return
	}
	if c.server.config.TLS.Required() && !c.State().Has(StateEncrypted) {
		n.failAuth(sasl.NewFailure(protocol.SASLEncryptionRequired, ""))
		return
	}

	mech, err := c.server.mechanisms.Start(elem.Attr("mechanism"))
	if err != nil {
		n.failAuth(err)
		return
	}
	n.auth = authSession{phase: authAwaiting, mech: mech}
	c.log.WithField("mechanism", mech.Name()).Debug("SASL exchange started")
	n.process(elem)
}

// continueAuth routes every element of an open exchange to the mechanism.
func (n *negotiator) continueAuth(elem *protocol.Element) {
	if elem.Is(protocol.ElemAbort, protocol.NSSASL) {
		n.failAuth(sasl.NewFailure(protocol.SASLAborted, ""))
		return
	}
	n.process(elem)
}

func (n *negotiator) process(elem *protocol.Element) {
	if err := n.auth.mech.Process(authView{n}, elem); err != nil {
		n.failAuth(err)
	}
}

// failAuth reports the failure and closes the stream.
func (n *negotiator) failAuth(err error) {
	c := n.c
	f := sasl.AsFailure(err)
	n.auth = authSession{}
	c.log.WithFields(logrus.Fields{
		"condition": f.Condition,
		"reason":    err.Error(),
	}).WithError(util.ErrAuthFailed).Info("Authentication failed")
	_ = c.SendAsync(protocol.SASLFailure(f.Condition, f.Text))
	c.Disconnect("", "")
}

// authView is the sasl.Session a mechanism sees.
type authView struct {
	n *negotiator
}

func (v authView) Context() context.Context {
	return v.n.c.Context()
}

func (v authView) Domain() string {
	return v.n.c.server.config.Domain
}

// Success marks the connection authenticated and restarts the stream.
func (v authView) Success(login string) {
	c := v.n.c
	if !c.IsConnected() || !c.state.Set(StateAuthenticated) {
		return
	}
	c.setJID(protocol.JID{Local: login, Domain: c.server.config.Domain})
	c.parser.Reset()
	_ = c.SendAsync(protocol.SASLSuccess(""))
	v.n.auth = authSession{}
	c.log.WithField("login", login).Info("Authenticated")
}

func (v authView) Challenge(data []byte) {
	_ = v.n.c.SendAsync(protocol.SASLChallenge(base64.StdEncoding.EncodeToString(data)))
}
