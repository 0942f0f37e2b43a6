package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// JID validation errors
var (
	ErrEmptyDomain     = errors.New("jid domain cannot be empty")
	ErrJIDPartTooLong  = errors.New("jid part exceeds 1023 bytes")
	ErrInvalidJIDLocal = errors.New("jid localpart contains invalid characters")
	ErrEmptyJIDPart    = errors.New("jid part cannot be empty")
)

// JID is an XMPP address of the form local@domain/resource.
type JID struct {
	Local    string
	Domain   string
	Resource string
}

// NewJID builds and validates a JID from its parts.
func NewJID(local, domain, resource string) (JID, error) {
	j := JID{Local: local, Domain: strings.ToLower(domain), Resource: resource}
	if err := j.Validate(); err != nil {
		return JID{}, err
	}
	return j, nil
}

// ParseJID parses "local@domain/resource". Local and resource are optional.
func ParseJID(s string) (JID, error) {
	var j JID
	rest := s
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		j.Resource = rest[i+1:]
		rest = rest[:i]
		if j.Resource == "" {
			return JID{}, fmt.Errorf("resource: %w", ErrEmptyJIDPart)
		}
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		j.Local = rest[:i]
		rest = rest[i+1:]
		if j.Local == "" {
			return JID{}, fmt.Errorf("localpart: %w", ErrEmptyJIDPart)
		}
	}
	j.Domain = strings.ToLower(rest)
	if err := j.Validate(); err != nil {
		return JID{}, err
	}
	return j, nil
}

// Validate checks the JID parts against the RFC 7622 length and
// character rules the server relies on.
func (j JID) Validate() error {
	if j.Domain == "" {
		return ErrEmptyDomain
	}
	for _, part := range []string{j.Local, j.Domain, j.Resource} {
		if len(part) > MaxJIDPartLength {
			return ErrJIDPartTooLong
		}
	}
	for _, r := range j.Local {
		if unicode.IsSpace(r) || strings.ContainsRune(`"&'/:<>@`, r) {
			return fmt.Errorf("%w: %q", ErrInvalidJIDLocal, r)
		}
	}
	return nil
}

// IsZero reports whether the JID is unset.
func (j JID) IsZero() bool {
	return j.Domain == "" && j.Local == "" && j.Resource == ""
}

// IsFull reports whether the JID carries a resource.
func (j JID) IsFull() bool {
	return j.Resource != ""
}

// Bare returns the JID without its resource.
func (j JID) Bare() JID {
	return JID{Local: j.Local, Domain: j.Domain}
}

// WithResource returns a copy of the JID with the resource replaced.
func (j JID) WithResource(resource string) JID {
	j.Resource = resource
	return j
}

// Equal compares JIDs. The localpart is case-insensitive, the resource is not.
func (j JID) Equal(other JID) bool {
	return strings.EqualFold(j.Local, other.Local) &&
		j.Domain == other.Domain &&
		j.Resource == other.Resource
}

// String formats the JID.
func (j JID) String() string {
	if j.IsZero() {
		return ""
	}
	var b strings.Builder
	if j.Local != "" {
		b.WriteString(j.Local)
		b.WriteByte('@')
	}
	b.WriteString(j.Domain)
	if j.Resource != "" {
		b.WriteByte('/')
		b.WriteString(j.Resource)
	}
	return b.String()
}
