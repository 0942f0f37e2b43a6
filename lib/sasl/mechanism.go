// Package sasl implements the pluggable SASL authentication layer of the
// XMPP stream. Mechanisms are created per authentication exchange from a
// Registry and report their verdict through the Session callbacks rather
// than a return value, so multi-step challenge/response exchanges fit the
// same interface as single-message ones.
package sasl

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
)

// Session is the connection-side view a mechanism works against.
type Session interface {
	// Context is canceled when the connection goes away.
	Context() context.Context

	// Domain is the server domain the client authenticates to.
	Domain() string

	// Success marks the connection authenticated as login and sends
	// <success/>. A mechanism must call it at most once.
	Success(login string)

	// Challenge sends a <challenge/> carrying data (base64-encoded by the
	// session) and keeps the exchange open for a <response/>.
	Challenge(data []byte)
}

// Mechanism processes the auth-related elements of one exchange.
//
// Process is called with the initial <auth/> and then with every
// <response/> until the mechanism calls Session.Success or returns an
// error. A *Failure error is reported to the client with its condition;
// any other error is reported as temporary-auth-failure.
type Mechanism interface {
	Name() string
	Process(s Session, elem *protocol.Element) error
}

// Failure is a terminal SASL failure reported to the client.
type Failure struct {
	Condition string
	Text      string
}

// NewFailure creates a Failure.
func NewFailure(condition, text string) *Failure {
	return &Failure{Condition: condition, Text: text}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Text == "" {
		return "sasl failure: " + f.Condition
	}
	return fmt.Sprintf("sasl failure: %s: %s", f.Condition, f.Text)
}

// AsFailure converts any error returned by a mechanism into the Failure
// sent to the client.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NewFailure(protocol.SASLTemporaryAuthFailure, "")
}
