package protocol

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// StreamHeader holds the attributes of a <stream:stream> open tag.
type StreamHeader struct {
	To      string
	From    string
	ID      string
	Version string
	Lang    string
}

// StreamEnd is the closing tag of a stream.
const StreamEnd = "</stream:stream>"

// Reply returns the server's mirrored header for an inbound client header:
// from/to are swapped and the server asserts its own domain.
func (h StreamHeader) Reply(domain, id string) StreamHeader {
	lang := h.Lang
	if lang == "" {
		lang = "en"
	}
	return StreamHeader{
		To:      h.From,
		From:    domain,
		ID:      id,
		Version: StreamVersion,
		Lang:    lang,
	}
}

// VersionMajor returns the major part of the version attribute.
// A missing version means 0.9 per RFC 6120 section 4.7.5.
func (h StreamHeader) VersionMajor() int {
	if h.Version == "" {
		return 0
	}
	major, _, _ := strings.Cut(h.Version, ".")
	n := 0
	for _, c := range major {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Bytes serializes the header including the XML declaration.
func (h StreamHeader) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("<?xml version='1.0'?>")
	buf.WriteString("<stream:stream")
	writeAttr(&buf, "xmlns", NSClient)
	writeAttr(&buf, "xmlns:stream", NSStream)
	if h.From != "" {
		writeAttr(&buf, "from", h.From)
	}
	if h.To != "" {
		writeAttr(&buf, "to", h.To)
	}
	if h.ID != "" {
		writeAttr(&buf, "id", h.ID)
	}
	if h.Version != "" {
		writeAttr(&buf, "version", h.Version)
	}
	if h.Lang != "" {
		writeAttr(&buf, "xml:lang", h.Lang)
	}
	buf.WriteByte('>')
	return buf.Bytes()
}

// String serializes the header.
func (h StreamHeader) String() string {
	return string(h.Bytes())
}

// ParseStreamHeader extracts header fields from a decoded start element.
func ParseStreamHeader(se xml.StartElement) StreamHeader {
	var h StreamHeader
	for _, a := range se.Attr {
		switch {
		case a.Name.Space == "" && a.Name.Local == "to":
			h.To = a.Value
		case a.Name.Space == "" && a.Name.Local == "from":
			h.From = a.Value
		case a.Name.Space == "" && a.Name.Local == "id":
			h.ID = a.Value
		case a.Name.Space == "" && a.Name.Local == "version":
			h.Version = a.Value
		case a.Name.Local == "lang" && (a.Name.Space == NSXML || a.Name.Space == "xml"):
			h.Lang = a.Value
		}
	}
	return h
}

// Features builds an empty <stream:features/> element.
func Features() *Element {
	return NewElement(ElemFeatures, NSStream)
}

// StartTLSFeature builds the starttls feature, optionally marked required.
func StartTLSFeature(required bool) *Element {
	e := NewElement(ElemStartTLS, NSTLS)
	if required {
		e.WithChild(NewElement(ElemRequired, NSTLS))
	}
	return e
}

// MechanismsFeature lists the SASL mechanisms offered.
func MechanismsFeature(names []string) *Element {
	e := NewElement(ElemMechanisms, NSSASL)
	for _, n := range names {
		e.WithChild(NewElement(ElemMechanism, NSSASL).WithText(n))
	}
	return e
}

// BindFeature advertises resource binding.
func BindFeature() *Element {
	return NewElement(ElemBind, NSBind)
}

// SessionFeature advertises session establishment.
func SessionFeature() *Element {
	return NewElement(ElemSession, NSSession)
}

// StreamError builds a <stream:error/> with an optional descriptive text.
func StreamError(condition, text string) *Element {
	e := NewElement(ElemError, NSStream).
		WithChild(NewElement(condition, NSStreams))
	if text != "" {
		e.WithChild(NewElement(ElemText, NSStreams).
			WithNSAttr(NSXML, "lang", "en").
			WithText(text))
	}
	return e
}

// SASLSuccess builds a <success/> element with optional additional data.
func SASLSuccess(data string) *Element {
	return NewElement(ElemSuccess, NSSASL).WithText(data)
}

// SASLChallenge builds a <challenge/> element carrying base64 data.
// An empty challenge is sent as "=" per RFC 6120 section 6.4.2.
func SASLChallenge(data string) *Element {
	if data == "" {
		data = "="
	}
	return NewElement(ElemChallenge, NSSASL).WithText(data)
}

// SASLFailure builds a <failure/> element with a condition and optional text.
func SASLFailure(condition, text string) *Element {
	e := NewElement(ElemFailure, NSSASL).
		WithChild(NewElement(condition, NSSASL))
	if text != "" {
		e.WithChild(NewElement(ElemText, NSSASL).
			WithNSAttr(NSXML, "lang", "en").
			WithText(text))
	}
	return e
}

// TLSProceed builds the <proceed/> answer to starttls.
func TLSProceed() *Element {
	return NewElement(ElemProceed, NSTLS)
}

// TLSFailure builds the <failure/> answer to starttls.
func TLSFailure() *Element {
	return NewElement(ElemFailure, NSTLS)
}

// IQResult builds a result reply addressed back to the request's sender.
func IQResult(req *Element, payload ...*Element) *Element {
	e := NewElement(ElemIQ, NSClient).
		WithAttr("type", IQTypeResult)
	if id := req.Attr("id"); id != "" {
		e.WithAttr("id", id)
	}
	if from := req.Attr("from"); from != "" {
		e.WithAttr("to", from)
	}
	return e.WithChild(payload...)
}

// IQError builds a stanza error reply for an iq request.
func IQError(req *Element, errType, condition string) *Element {
	e := NewElement(ElemIQ, NSClient).
		WithAttr("type", IQTypeError)
	if id := req.Attr("id"); id != "" {
		e.WithAttr("id", id)
	}
	if from := req.Attr("from"); from != "" {
		e.WithAttr("to", from)
	}
	return e.WithChild(NewElement(ElemError, NSClient).
		WithAttr("type", errType).
		WithChild(NewElement(condition, NSStanzas)))
}

// BindResult builds the bind payload carrying the bound full JID.
func BindResult(jid JID) *Element {
	return NewElement(ElemBind, NSBind).
		WithChild(NewElement(ElemJID, NSBind).WithText(jid.String()))
}

// IsStanza reports whether the element is a top-level message, presence or iq.
func IsStanza(e *Element) bool {
	if e == nil || e.XMLName.Space != NSClient {
		return false
	}
	switch e.XMLName.Local {
	case ElemMessage, ElemPresence, ElemIQ:
		return true
	}
	return false
}
