// Package protocol implements the XMPP wire vocabulary used by the server:
// namespaces, error conditions, a small element model and the packet
// builders for stream negotiation. See RFC 6120 for the framing rules.
package protocol

// XML namespaces per RFC 6120.
const (
	NSClient  = "jabber:client"
	NSStream  = "http://etherx.jabber.org/streams"
	NSStreams = "urn:ietf:params:xml:ns:xmpp-streams"
	NSSASL    = "urn:ietf:params:xml:ns:xmpp-sasl"
	NSTLS     = "urn:ietf:params:xml:ns:xmpp-tls"
	NSBind    = "urn:ietf:params:xml:ns:xmpp-bind"
	NSSession = "urn:ietf:params:xml:ns:xmpp-session"
	NSStanzas = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSXML     = "http://www.w3.org/XML/1998/namespace"
)

// StreamPrefix is the prefix bound to NSStream in every stream header.
const StreamPrefix = "stream"

// StreamVersion is the only stream version the server speaks.
const StreamVersion = "1.0"

// Element names the state machine reacts to.
const (
	ElemStream     = "stream"
	ElemFeatures   = "features"
	ElemError      = "error"
	ElemAuth       = "auth"
	ElemResponse   = "response"
	ElemAbort      = "abort"
	ElemChallenge  = "challenge"
	ElemSuccess    = "success"
	ElemFailure    = "failure"
	ElemStartTLS   = "starttls"
	ElemProceed    = "proceed"
	ElemMechanisms = "mechanisms"
	ElemMechanism  = "mechanism"
	ElemBind       = "bind"
	ElemSession    = "session"
	ElemResource   = "resource"
	ElemJID        = "jid"
	ElemRequired   = "required"
	ElemText       = "text"
	ElemIQ         = "iq"
	ElemMessage    = "message"
	ElemPresence   = "presence"
)

// IQ types.
const (
	IQGet        = "get"
	IQSet        = "set"
	IQTypeResult = "result"
	IQTypeError  = "error"
)

// Stream error conditions per RFC 6120 section 4.9.3.
const (
	StreamBadFormat              = "bad-format"
	StreamConflict               = "conflict"
	StreamConnectionTimeout      = "connection-timeout"
	StreamHostUnknown            = "host-unknown"
	StreamInternalServerError    = "internal-server-error"
	StreamInvalidNamespace       = "invalid-namespace"
	StreamInvalidXML             = "invalid-xml"
	StreamNotAuthorized          = "not-authorized"
	StreamPolicyViolation        = "policy-violation"
	StreamSystemShutdown         = "system-shutdown"
	StreamUnsupportedFeature     = "unsupported-feature"
	StreamUnsupportedStanzaType  = "unsupported-stanza-type"
	StreamUnsupportedVersion     = "unsupported-version"
	StreamResourceConstraint     = "resource-constraint"
	StreamUndefinedCondition     = "undefined-condition"
	StreamNotWellFormed          = "not-well-formed"
	StreamImproperAddressing     = "improper-addressing"
	StreamRestrictedXML          = "restricted-xml"
	StreamSeeOtherHost           = "see-other-host"
	StreamRemoteConnectionFailed = "remote-connection-failed"
)

// SASL failure conditions per RFC 6120 section 6.5.
const (
	SASLAborted              = "aborted"
	SASLAccountDisabled      = "account-disabled"
	SASLCredentialsExpired   = "credentials-expired"
	SASLEncryptionRequired   = "encryption-required"
	SASLIncorrectEncoding    = "incorrect-encoding"
	SASLInvalidAuthzid       = "invalid-authzid"
	SASLInvalidMechanism     = "invalid-mechanism"
	SASLMalformedRequest     = "malformed-request"
	SASLMechanismTooWeak     = "mechanism-too-weak"
	SASLNotAuthorized        = "not-authorized"
	SASLTemporaryAuthFailure = "temporary-auth-failure"
)

// Stanza error types and conditions used by bind/session handling.
const (
	ErrorTypeCancel = "cancel"
	ErrorTypeAuth   = "auth"
	ErrorTypeModify = "modify"
	ErrorTypeWait   = "wait"

	StanzaBadRequest            = "bad-request"
	StanzaConflict              = "conflict"
	StanzaNotAllowed            = "not-allowed"
	StanzaNotAuthorized         = "not-authorized"
	StanzaFeatureNotImplemented = "feature-not-implemented"
	StanzaServiceUnavailable    = "service-unavailable"
)

// Default ports per RFC 6120.
const (
	DefaultClientPort = 5222
	DefaultDomain     = "localhost"
)

// JID part limits per RFC 7622.
const (
	MaxJIDPartLength = 1023
)
