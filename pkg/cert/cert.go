// Package cert holds the locally persisted TLS material of a stevedore
// process: the root of trust, the leaf certificate and its private key.
//
// An [Identity] is a PEM leaf certificate plus its PEM private key. Its
// expiry is always derived from the certificate, never stored on its own.
// A [Root] is the PEM certificate of the authority all peers are verified
// against.
//
// A [Store] persists both. [FileStore] keeps them as PEM files at fixed
// paths and replaces files atomically; [MemStore] keeps them in memory.
package cert

import (
	"bytes"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// Sentinel Errors returned by the cert package.
var (
	ErrNotFound   = errors.New("certificate material not found")
	ErrCorrupt    = errors.New("corrupt certificate material")
	ErrFilesystem = errors.New("filesystem failure")
)

// PEM block types.
const (
	CertificateBlock = "CERTIFICATE"
	PrivateKeyBlock  = "PRIVATE KEY"
	CSRBlock         = "CERTIFICATE REQUEST"
)

// Identity is a private key and the certificate vouching for its public key.
type Identity struct {
	Certificate []byte // PEM encoded leaf certificate
	PrivateKey  []byte // PEM encoded PKCS #8 private key
}

// Leaf parses the leaf certificate.
func (id Identity) Leaf() (*x509.Certificate, error) {
	return ParseCertificate(id.Certificate)
}

// NotAfter returns the expiry of the leaf certificate.
func (id Identity) NotAfter() (time.Time, error) {
	leaf, err := id.Leaf()
	if err != nil {
		return time.Time{}, err
	}
	return leaf.NotAfter, nil
}

// Validate checks that both parts parse and that the certificate's public
// key belongs to the private key.
func (id Identity) Validate() error {
	if _, err := id.TLSCertificate(); err != nil {
		return err
	}
	return nil
}

// TLSCertificate returns the identity as a tls.Certificate with Leaf set.
// tls.X509KeyPair rejects a key that does not match the certificate.
func (id Identity) TLSCertificate() (tls.Certificate, error) {
	tlsCert, err := tls.X509KeyPair(id.Certificate, id.PrivateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: identity key pair: %w", ErrCorrupt, err)
	}
	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: identity leaf: %w", ErrCorrupt, err)
	}
	tlsCert.Leaf = leaf
	return tlsCert, nil
}

// ValidAt reports whether the leaf certificate is still valid at t, with
// margin left before its expiry. Validity requires NotAfter to be strictly
// after t+margin.
func (id Identity) ValidAt(t time.Time, margin time.Duration) bool {
	notAfter, err := id.NotAfter()
	if err != nil {
		return false
	}
	return notAfter.After(t.Add(margin))
}

// SignedBy checks that the leaf certificate was issued and signed by root.
// Validity periods are not checked; see [Identity.ValidAt].
func (id Identity) SignedBy(root Root) error {
	leaf, err := id.Leaf()
	if err != nil {
		return err
	}
	rootCert, err := root.Parse()
	if err != nil {
		return err
	}
	if err := leaf.CheckSignatureFrom(rootCert); err != nil {
		return fmt.Errorf("leaf %q not signed by root %q: %w", leaf.Subject.CommonName, rootCert.Subject.CommonName, err)
	}
	return nil
}

// Root is the root of trust: the certificate authority's certificate.
type Root struct {
	Certificate []byte // PEM encoded CA certificate
}

// Parse parses the root certificate and checks it is a CA certificate.
func (r Root) Parse() (*x509.Certificate, error) {
	c, err := ParseCertificate(r.Certificate)
	if err != nil {
		return nil, err
	}
	if !c.IsCA {
		return nil, fmt.Errorf("%w: root %q is not a CA certificate", ErrCorrupt, c.Subject.CommonName)
	}
	return c, nil
}

// CertPool returns a pool containing only the root certificate.
func (r Root) CertPool() (*x509.CertPool, error) {
	c, err := r.Parse()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(c)
	return pool, nil
}

// Equal reports whether r and other hold the same certificate. PEM framing
// differences are ignored.
func (r Root) Equal(other Root) bool {
	a, errA := decodePEM(r.Certificate, CertificateBlock)
	b, errB := decodePEM(other.Certificate, CertificateBlock)
	if errA != nil || errB != nil {
		return bytes.Equal(r.Certificate, other.Certificate)
	}
	return bytes.Equal(a, b)
}

// ParseCertificate parses the first PEM CERTIFICATE block of b.
func ParseCertificate(b []byte) (*x509.Certificate, error) {
	der, err := decodePEM(b, CertificateBlock)
	if err != nil {
		return nil, err
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return c, nil
}

// EncodeCertificate PEM encodes a DER certificate.
func EncodeCertificate(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: CertificateBlock, Bytes: der})
}

// EncodePrivateKey PEM encodes key in PKCS #8 form.
func EncodePrivateKey(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: PrivateKeyBlock, Bytes: der}), nil
}

// ParsePrivateKey parses a PEM PKCS #8 private key.
func ParsePrivateKey(b []byte) (crypto.Signer, error) {
	der, err := decodePEM(b, PrivateKeyBlock)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: private key of type %T cannot sign", ErrCorrupt, key)
	}
	return signer, nil
}

func decodePEM(b []byte, blockType string) ([]byte, error) {
	for len(b) > 0 {
		block, rest := pem.Decode(b)
		if block == nil {
			break
		}
		if block.Type == blockType {
			return block.Bytes, nil
		}
		b = rest
	}
	return nil, fmt.Errorf("%w: no PEM %s block", ErrCorrupt, blockType)
}
