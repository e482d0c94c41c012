package ca

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/juliaogris/stevedore/pkg/pb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrSigningRequest is returned by [Authority.Sign] for unusable signing
// requests.
var ErrSigningRequest = errors.New("invalid certificate signing request")

// Authority is a single-root certificate authority implementing the
// certificate_authority gRPC service. It is meant for development and
// tests: it signs every well-formed request.
type Authority struct {
	pb.UnimplementedCertificateAuthorityServer

	root     *x509.Certificate
	rootPEM  []byte
	key      crypto.Signer
	validity time.Duration
	keyType  KeyType
	now      func() time.Time
}

// AuthorityOption is a functional option for the Authority.
type AuthorityOption func(*Authority)

// WithValidity sets the validity period of issued leaf certificates.
func WithValidity(d time.Duration) AuthorityOption {
	return func(a *Authority) {
		a.validity = d
	}
}

// WithRootKeyType sets the key type of a root generated by [NewAuthority].
func WithRootKeyType(k KeyType) AuthorityOption {
	return func(a *Authority) {
		a.keyType = k
	}
}

// WithClock sets the time source used for certificate validity periods.
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) {
		a.now = now
	}
}

func newAuthority(opts ...AuthorityOption) *Authority {
	a := &Authority{
		validity: 24 * time.Hour,
		keyType:  KeyRSA4096,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewAuthority creates an Authority with a freshly generated, self-signed
// root certificate valid for 365 days.
func NewAuthority(opts ...AuthorityOption) (*Authority, error) {
	a := newAuthority(opts...)
	key, err := a.keyType.generate()
	if err != nil {
		return nil, err
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}
	name := DefaultSubject
	now := a.now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		Issuer:                name,
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(0, 0, 365),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("cannot create root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("cannot parse root certificate: %w", err)
	}
	a.root = root
	a.rootPEM = cert.EncodeCertificate(der)
	a.key = key
	return a, nil
}

// LoadAuthority creates an Authority from a PEM root certificate and its
// PEM PKCS #8 private key.
func LoadAuthority(certPEM, keyPEM []byte, opts ...AuthorityOption) (*Authority, error) {
	a := newAuthority(opts...)
	root, err := cert.Root{Certificate: certPEM}.Parse()
	if err != nil {
		return nil, err
	}
	key, err := cert.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	if _, err := (cert.Identity{Certificate: certPEM, PrivateKey: keyPEM}).TLSCertificate(); err != nil {
		return nil, err
	}
	a.root = root
	a.rootPEM = certPEM
	a.key = key
	return a, nil
}

// Root returns the root of trust.
func (a *Authority) Root() cert.Root {
	return cert.Root{Certificate: a.rootPEM}
}

// KeyPEM returns the root's PEM encoded private key.
func (a *Authority) KeyPEM() ([]byte, error) {
	return cert.EncodePrivateKey(a.key)
}

// GetRootCertificate returns the root certificate, or an empty response if
// the caller already holds it.
func (a *Authority) GetRootCertificate(_ context.Context, req *pb.GetRootCertificateRequest) (*pb.GetRootCertificateResponse, error) {
	cached := req.GetCertificate()
	if len(cached) > 0 && a.Root().Equal(cert.Root{Certificate: cached}) {
		return &pb.GetRootCertificateResponse{}, nil
	}
	return &pb.GetRootCertificateResponse{Certificate: a.rootPEM}, nil
}

// SignCertificate signs the request's CSR.
func (a *Authority) SignCertificate(_ context.Context, req *pb.SignCertificateRequest) (*pb.SignCertificateResponse, error) {
	certificate, err := a.Sign(req.GetCsr())
	if err != nil {
		if errors.Is(err, ErrSigningRequest) {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return &pb.SignCertificateResponse{Certificate: certificate}, nil
}

// Sign issues a PEM leaf certificate for a PEM certificate signing request.
// The certificate is valid for server and client authentication and
// carries the request's subject and subject alternative names.
func (a *Authority) Sign(csrPEM []byte) ([]byte, error) {
	csr, err := parseCSR(csrPEM)
	if err != nil {
		return nil, err
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}
	now := a.now()
	keyUsage := x509.KeyUsageDigitalSignature
	if _, ok := csr.PublicKey.(*rsa.PublicKey); ok {
		keyUsage |= x509.KeyUsageKeyEncipherment
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      csr.Subject,
		DNSNames:     csr.DNSNames,
		IPAddresses:  csr.IPAddresses,
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(a.validity),
		KeyUsage:     keyUsage,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.root, csr.PublicKey, a.key)
	if err != nil {
		return nil, fmt.Errorf("cannot sign certificate for %q: %w", csr.Subject.CommonName, err)
	}
	slog.Info("signed certificate", "subject", csr.Subject.CommonName, "serial", serial.Text(16), "notAfter", template.NotAfter)
	return cert.EncodeCertificate(der), nil
}

func parseCSR(csrPEM []byte) (*x509.CertificateRequest, error) {
	if len(csrPEM) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrSigningRequest)
	}
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != cert.CSRBlock {
		return nil, fmt.Errorf("%w: no PEM %s block", ErrSigningRequest, cert.CSRBlock)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningRequest, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningRequest, err)
	}
	return csr, nil
}

// serialNumber returns a random 159-bit serial number, keeping the encoded
// serial within 20 octets.
func serialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 159)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("cannot generate serial number: %w", err)
	}
	return n, nil
}
