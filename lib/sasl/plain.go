package sasl

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/credential"
	"github.com/go-i2p/go-xmpp-server/lib/protocol"
)

// MechanismPlain is the RFC 4616 PLAIN mechanism name.
const MechanismPlain = "PLAIN"

// PlainOptions configures the PLAIN mechanism.
type PlainOptions struct {
	// AcceptUnverified authenticates any well-formed login even when the
	// password does not match or the user is unknown. Only for local
	// testing against game clients with throwaway accounts.
	AcceptUnverified bool

	// Logger receives authentication outcomes. Defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Plain implements PLAIN: base64("[authzid]\0authcid\0password").
type Plain struct {
	store      credential.Store
	opts       PlainOptions
	challenged bool
}

// NewPlain creates a PLAIN mechanism instance for one exchange.
func NewPlain(store credential.Store, opts PlainOptions) *Plain {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Plain{store: store, opts: opts}
}

// Name implements Mechanism.
func (p *Plain) Name() string {
	return MechanismPlain
}

// Process implements Mechanism.
func (p *Plain) Process(s Session, elem *protocol.Element) error {
	text := elem.TrimmedText()

	// No initial response: ask for it with an empty challenge.
	if text == "" && elem.Name() == protocol.ElemAuth && !p.challenged {
		p.challenged = true
		s.Challenge(nil)
		return nil
	}

	var payload []byte
	if text != "=" {
		var err error
		payload, err = base64.StdEncoding.DecodeString(text)
		if err != nil {
			return NewFailure(protocol.SASLIncorrectEncoding, "")
		}
	}
	return p.verify(s, payload)
}

func (p *Plain) verify(s Session, payload []byte) error {
	fields := strings.Split(string(payload), "\x00")
	if len(fields) < 2 || len(fields) > 3 {
		return NewFailure(protocol.SASLMalformedRequest, "")
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	ofs := 0
	authzid := ""
	if len(fields) == 3 {
		authzid = fields[0]
		ofs = 1
	}
	login, password := fields[ofs], fields[ofs+1]
	if login == "" {
		return NewFailure(protocol.SASLMalformedRequest, "")
	}
	if _, err := protocol.NewJID(login, s.Domain(), ""); err != nil {
		return NewFailure(protocol.SASLMalformedRequest, "")
	}
	if authzid != "" && authzid != login && !strings.EqualFold(authzid, login+"@"+s.Domain()) {
		return NewFailure(protocol.SASLInvalidAuthzid, "")
	}

	log := p.opts.Logger.WithField("login", login)

	stored, err := p.store.Lookup(s.Context(), login)
	switch {
	case err == nil:
		if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1 {
			log.Debug("PLAIN authentication succeeded")
			s.Success(login)
			return nil
		}
	case errors.Is(err, credential.ErrUserNotFound):
	default:
		log.WithError(err).Warn("Credential lookup failed")
		return NewFailure(protocol.SASLTemporaryAuthFailure, "")
	}

	if p.opts.AcceptUnverified {
		log.Warn("Accepting unverified PLAIN credentials")
		s.Success(login)
		return nil
	}
	log.Info("PLAIN authentication rejected")
	return NewFailure(protocol.SASLNotAuthorized, "")
}
