package identity

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCredentials is returned for identities or roots that cannot be turned
// into TLS credentials.
var ErrCredentials = errors.New("credentials setup error")

// Credentials is the live TLS material of a process. It is safe for
// concurrent use; [Credentials.Update] swaps identity and root atomically.
// Connections established before an update keep their negotiated identity.
//
// Create Credentials with [NewCredentials]. Until a zero value has been
// updated, every handshake using it fails.
type Credentials struct {
	current atomic.Pointer[material]
}

type material struct {
	certificate tls.Certificate
	pool        *x509.CertPool
}

// NewCredentials creates Credentials from a bootstrap result.
func NewCredentials(r Result) (*Credentials, error) {
	c := &Credentials{}
	if err := c.Update(r); err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces identity and root. On error the previous material is
// kept.
func (c *Credentials) Update(r Result) error {
	certificate, err := r.Identity.TLSCertificate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	pool, err := r.Root.CertPool()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	c.current.Store(&material{certificate: certificate, pool: pool})
	return nil
}

var errNoIdentity = fmt.Errorf("%w: no identity", ErrCredentials)

// NotAfter returns the expiry of the current identity, or the zero time if
// there is none.
func (c *Credentials) NotAfter() time.Time {
	m := c.current.Load()
	if m == nil {
		return time.Time{}
	}
	return m.certificate.Leaf.NotAfter
}

// ServerTLSConfig returns a TLS 1.3 server configuration requiring and
// verifying client certificates. Every handshake uses the identity and root
// current at that moment.
func (c *Credentials) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
			m := c.current.Load()
			if m == nil {
				return nil, errNoIdentity
			}
			return &tls.Config{
				Certificates: []tls.Certificate{m.certificate},
				ClientCAs:    m.pool,
				ClientAuth:   tls.RequireAndVerifyClientCert,
				MinVersion:   tls.VersionTLS13,
				NextProtos:   []string{"h2"},
			}, nil
		},
	}
}

// ClientTLSConfig returns a TLS 1.3 client configuration presenting the
// current identity and verifying the server against the current root.
// An empty serverName verifies against the dialed host.
func (c *Credentials) ClientTLSConfig(serverName string) *tls.Config {
	m := c.current.Load()
	if m == nil {
		// VerifyConnection rejects every server.
		return &tls.Config{
			ServerName:         serverName,
			MinVersion:         tls.VersionTLS13,
			InsecureSkipVerify: true, //nolint:gosec // G402: no server is accepted.
			VerifyConnection: func(tls.ConnectionState) error {
				return errNoIdentity
			},
		}
	}
	return &tls.Config{
		Certificates: []tls.Certificate{m.certificate},
		RootCAs:      m.pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS13,
	}
}
