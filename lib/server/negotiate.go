package server

import (
	"strings"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/util"
)

// negotiator receives parser callbacks for one connection and drives
// stream negotiation. Its methods run on the parser goroutine only, so
// the auth field needs no locking.
type negotiator struct {
	c    *Connection
	auth authSession
}

// OnStreamStart answers every stream header, including the restarts after
// STARTTLS and SASL, with a fresh header and the current feature set.
func (n *negotiator) OnStreamStart(h protocol.StreamHeader) {
	c := n.c
	domain := c.server.config.Domain

	id := newStreamID()
	c.setStreamID(id)
	c.sendHeader(h.Reply(domain, id))

	if !strings.EqualFold(h.To, domain) {
		c.log.WithField("to", h.To).Info("Stream addressed to unknown host")
		c.Fail(util.ErrHostUnknown)
		return
	}
	if h.VersionMajor() < 1 {
		c.log.WithField("version", h.Version).Info("Unsupported stream version")
		c.Disconnect(protocol.StreamUnsupportedVersion, "")
		return
	}

	_ = c.SendAsync(n.features())
}

// features lists what the client may negotiate next.
func (n *negotiator) features() *protocol.Element {
	c := n.c
	f := protocol.Features()
	st := c.State()

	if !st.Has(StateAuthenticated) {
		tlsCfg := c.server.config.TLS
		if tlsCfg.Enabled() && !st.Has(StateEncrypted) {
			f.WithChild(protocol.StartTLSFeature(tlsCfg.Required()))
		}
		f.WithChild(protocol.MechanismsFeature(c.server.mechanisms.Names()))
		return f
	}

	if !st.Has(StateResourceBinded) {
		f.WithChild(protocol.BindFeature())
	}
	if !st.Has(StateSessionStarted) {
		f.WithChild(protocol.SessionFeature())
	}
	return f
}

// OnElement routes one top-level element.
func (n *negotiator) OnElement(elem *protocol.Element) {
	c := n.c
	if !c.IsConnected() {
		return
	}

	if n.auth.active() {
		n.continueAuth(elem)
		return
	}

	switch {
	case elem.Is(protocol.ElemStartTLS, protocol.NSTLS):
		n.startTLS()
	case elem.Is(protocol.ElemAuth, protocol.NSSASL):
		n.startAuth(elem)
	case elem.Is(protocol.ElemAbort, protocol.NSSASL):
		_ = c.SendAsync(protocol.SASLFailure(protocol.SASLAborted, ""))
		c.Disconnect("", "")
	case elem.Namespace() == protocol.NSSASL:
		c.Disconnect(protocol.StreamPolicyViolation, "unexpected "+elem.Name())
	case !c.IsAuthenticated():
		c.log.WithField("element", elem.Name()).Info("Element before authentication")
		c.Disconnect(protocol.StreamNotAuthorized, "")
	case elem.Is(protocol.ElemIQ, protocol.NSClient) && n.handleIQ(elem):
	default:
		c.dispatch(elem)
	}
}

// OnStreamEnd closes our side once the client has closed its stream.
func (n *negotiator) OnStreamEnd() {
	n.c.log.Debug("Stream closed by peer")
	n.c.Disconnect("", "")
}

// handleIQ consumes the iq requests the server answers itself.
func (n *negotiator) handleIQ(iq *protocol.Element) bool {
	if iq.Attr("type") != protocol.IQSet {
		return false
	}
	if b := iq.Child(protocol.ElemBind, protocol.NSBind); b != nil {
		n.bind(iq, b)
		return true
	}
	if iq.Child(protocol.ElemSession, protocol.NSSession) != nil {
		n.session(iq)
		return true
	}
	return false
}
