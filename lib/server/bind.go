package server

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
)

// randomResource returns a resource part for clients that let the server pick.
func randomResource() string {
	return "res-" + randomSuffix()
}

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// bind assigns the full JID per RFC 6120 section 7.
func (n *negotiator) bind(iq, req *protocol.Element) {
	c := n.c
	if c.State().Has(StateResourceBinded) {
		_ = c.SendAsync(protocol.IQError(iq, protocol.ErrorTypeCancel, protocol.StanzaNotAllowed))
		return
	}

	resource := ""
	if r := req.Child(protocol.ElemResource, ""); r != nil {
		resource = strings.TrimSpace(r.Text)
	}
	if resource == "" {
		resource = randomResource()
	}

	bare := c.JID().Bare()
	full := bare.WithResource(resource)
	if err := full.Validate(); err != nil {
		_ = c.SendAsync(protocol.IQError(iq, protocol.ErrorTypeModify, protocol.StanzaBadRequest))
		return
	}

	s := c.server
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	existing := s.FindConnection(func(o *Connection) bool {
		return o != c && o.State().Has(StateResourceBinded) && o.JID().Equal(full)
	})
	if existing != nil {
		log := c.log.WithFields(logrus.Fields{
			"jid":      full.String(),
			"strategy": s.config.ResourceConflict.String(),
		})
		switch s.config.ResourceConflict {
		case KickOther:
			log.Info("Resource conflict, replacing existing connection")
			existing.Disconnect(protocol.StreamConflict, "Replaced by new connection")
		case Random:
			full = bare.WithResource(resource + "-" + randomSuffix())
			log.WithField("bound", full.String()).Info("Resource conflict, randomized resource")
		default:
			log.Info("Resource conflict, rejecting bind")
			_ = c.SendAsync(protocol.IQError(iq, protocol.ErrorTypeCancel, protocol.StanzaConflict))
			c.Disconnect(protocol.StreamConflict, "")
			return
		}
	}

	c.setJID(full)
	c.state.Set(StateResourceBinded)
	_ = c.SendAsync(protocol.IQResult(iq, protocol.BindResult(full)))
	c.log.WithField("jid", full.String()).Info("Resource bound")
}

// session acknowledges the legacy session establishment request.
func (n *negotiator) session(iq *protocol.Element) {
	c := n.c
	if !c.State().Has(StateResourceBinded) {
		_ = c.SendAsync(protocol.IQError(iq, protocol.ErrorTypeCancel, protocol.StanzaNotAllowed))
		return
	}
	c.state.Set(StateSessionStarted)
	_ = c.SendAsync(protocol.IQResult(iq))
}
