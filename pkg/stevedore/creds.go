package stevedore

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/juliaogris/stevedore/pkg/cert"
)

// clientTLSConfig creates a TLS configuration for a client with mTLS
// authentication from PEM files, used in [NewClientFromFiles]. An empty
// rootFile falls back to the system's root certificates. It enforces TLS
// version 1.3.
func clientTLSConfig(certFile, keyFile, rootFile string) (*tls.Config, error) {
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: client cert file %q, key file %q: %w", ErrCertLoad, certFile, keyFile, err)
	}
	rootCAs, err := newCertPool(rootFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		RootCAs:      rootCAs,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// newCertPool creates a pool trusting the root of trust in rootFile, or the
// system's root certificates if rootFile is empty.
func newCertPool(rootFile string) (*x509.CertPool, error) {
	if rootFile == "" {
		certPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot get system cert pool: %w", ErrCASetup, err)
		}
		return certPool, nil
	}
	b, err := os.ReadFile(rootFile) //nolint:gosec // G304: Potential file inclusion via variable
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %q: %w", ErrCASetup, rootFile, err)
	}
	certPool, err := cert.Root{Certificate: b}.CertPool()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrCASetup, rootFile, err)
	}
	return certPool, nil
}
