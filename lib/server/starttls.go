package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/util"
)

// startTLS upgrades the socket in place. It runs on the parser goroutine,
// which keeps the receive loop parked inside the parser while the
// handshake reads the socket directly.
func (n *negotiator) startTLS() {
	c := n.c
	tlsCfg := c.server.config.TLS
	st := c.State()

	switch {
	case st.Has(StateEncrypted):
		c.Fail(util.NewStreamError(protocol.StreamUnsupportedFeature, "stream already encrypted"))
		return
	case !tlsCfg.Enabled():
		_ = c.SendAsync(protocol.TLSFailure())
		c.Disconnect("", "")
		return
	case st.Has(StateAuthenticated):
		c.Disconnect(protocol.StreamPolicyViolation, "starttls after authentication")
		return
	}

	c.flags.Set(flagSuspendRead)
	defer c.flags.Clear(flagSuspendRead | flagSuspendWrite)

	if err := c.sendBeforeUpgrade(c.Context(), protocol.TLSProceed()); err != nil {
		c.log.WithError(err).Debug("Failed to send proceed")
		return
	}

	if err := c.upgradeTLS(tlsCfg.Config); err != nil {
		c.log.WithError(err).Info("TLS handshake failed")
		c.flags.Set(flagCancelWrite)
		c.disconnect(nil, false)
		return
	}

	c.parser.Reset()
	c.state.Set(StateEncrypted)
	c.log.Debug("Stream encrypted")
}

// upgradeTLS swaps the socket for a server-side TLS connection.
func (c *Connection) upgradeTLS(cfg *tls.Config) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	tc := tls.Server(c.raw, cfg)
	_ = c.raw.SetDeadline(time.Now().Add(c.server.config.Timeouts.Disconnect))
	if err := tc.HandshakeContext(c.Context()); err != nil {
		return err
	}
	_ = c.raw.SetDeadline(time.Time{})
	c.conn = tc
	return nil
}

// LoadTLSConfig builds a server TLS configuration from PEM files.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// SelfSignedTLSConfig generates an ephemeral certificate for domain.
// Intended for development and tests.
func SelfSignedTLSConfig(domain string) (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: domain},
		DNSNames:              []string{domain},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
