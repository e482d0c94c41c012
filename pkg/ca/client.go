// Package ca talks to a certificate authority over the
// certificate_authority gRPC service.
//
// The [Client] fetches the root of trust and exchanges freshly generated
// certificate signing requests for signed leaf certificates. Every call to
// [Client.SignNewIdentity] generates a new key pair; keys are never reused
// across renewals.
//
// Errors wrap one of [ErrTransport], [ErrAuthorityRejected] or
// [ErrKeyGeneration] so callers can tell a retryable transport problem from
// a refusal.
//
// The package also provides [Authority], a single-root certificate
// authority used for development and tests.
package ca

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/juliaogris/stevedore/pkg/pb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Sentinel Errors returned by the ca package. Filesystem failures are
// reported by the cert package as [cert.ErrFilesystem].
var (
	ErrTransport         = errors.New("certificate authority unreachable")
	ErrAuthorityRejected = errors.New("certificate authority rejected request")
	ErrKeyGeneration     = errors.New("key generation error")
)

// DefaultSubject is the subject name requested for new identities.
var DefaultSubject = pkix.Name{ //nolint:gochecknoglobals
	Country:      []string{"US"},
	Province:     []string{"California"},
	Locality:     []string{"Los Angeles"},
	Organization: []string{"Stevedore"},
	CommonName:   "Stevedore",
}

// Client is a certificate authority client.
type Client struct {
	conn   *grpc.ClientConn
	client pb.CertificateAuthorityClient

	subject  pkix.Name
	dnsNames []string
	ips      []net.IP
	keyType  KeyType
	timeout  time.Duration
	creds    credentials.TransportCredentials
}

// Option is a functional option for the Client.
type Option func(*Client)

// WithSubject sets the subject name of signing requests.
func WithSubject(subject pkix.Name) Option {
	return func(c *Client) {
		c.subject = subject
	}
}

// WithCommonName sets the common name of signing requests, keeping the rest
// of the subject.
func WithCommonName(cn string) Option {
	return func(c *Client) {
		c.subject.CommonName = cn
	}
}

// WithDNSNames adds DNS subject alternative names to signing requests.
func WithDNSNames(names ...string) Option {
	return func(c *Client) {
		c.dnsNames = append(c.dnsNames, names...)
	}
}

// WithIPAddresses adds IP subject alternative names to signing requests.
func WithIPAddresses(ips ...net.IP) Option {
	return func(c *Client) {
		c.ips = append(c.ips, ips...)
	}
}

// WithKeyType sets the type of generated key pairs.
func WithKeyType(k KeyType) Option {
	return func(c *Client) {
		c.keyType = k
	}
}

// WithTimeout bounds each RPC to the authority.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTransportCredentials sets the credentials [Dial] uses for the
// connection to the authority. Without it the connection is plaintext: the
// first contact happens before any root of trust is known.
func WithTransportCredentials(creds credentials.TransportCredentials) Option {
	return func(c *Client) {
		c.creds = creds
	}
}

// Dial creates a Client for the authority at address. The connection is
// established lazily; an unreachable authority is reported by the first
// call as [ErrTransport].
func Dial(address string, opts ...Option) (*Client, error) {
	c := newClient(opts...)
	creds := c.creds
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(creds), pb.DialOption())
	if err != nil {
		return nil, fmt.Errorf("%w: address %q: %w", ErrTransport, address, err)
	}
	c.conn = conn
	c.client = pb.NewCertificateAuthorityClient(conn)
	return c, nil
}

// NewClient creates a Client on an existing connection, which must use
// [pb.DialOption]. Close does not close conn.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	c := newClient(opts...)
	c.client = pb.NewCertificateAuthorityClient(conn)
	return c
}

func newClient(opts ...Option) *Client {
	c := &Client{
		subject: DefaultSubject,
		keyType: KeyRSA4096,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the connection created by [Dial].
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("cannot close certificate authority connection: %w", err)
	}
	return nil
}

// FetchRoot asks the authority for its root certificate, sending the cached
// root if there is one. It returns nil and no error if the cached root is
// still current. A returned root always parses as a CA certificate.
func (c *Client) FetchRoot(ctx context.Context, cached *cert.Root) (*cert.Root, error) {
	req := &pb.GetRootCertificateRequest{}
	if cached != nil {
		req.Certificate = cached.Certificate
	}
	ctx, cancel := c.context(ctx)
	defer cancel()
	resp, err := c.client.GetRootCertificate(ctx, req)
	if err != nil {
		return nil, rpcError("GetRootCertificate", err)
	}
	if len(resp.GetCertificate()) == 0 {
		return nil, nil //nolint:nilnil // unchanged root.
	}
	root := &cert.Root{Certificate: resp.GetCertificate()}
	if _, err := root.Parse(); err != nil {
		return nil, fmt.Errorf("%w: invalid root certificate: %w", ErrAuthorityRejected, err)
	}
	return root, nil
}

// SignNewIdentity generates a new key pair, has the authority sign a
// certificate for it and returns both as an Identity. If root is not nil the
// signed certificate must chain to it. Nothing is persisted.
func (c *Client) SignNewIdentity(ctx context.Context, root *cert.Root) (cert.Identity, error) {
	key, err := c.keyType.generate()
	if err != nil {
		return cert.Identity{}, err
	}
	template := &x509.CertificateRequest{
		Subject:     c.subject,
		DNSNames:    c.dnsNames,
		IPAddresses: c.ips,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return cert.Identity{}, fmt.Errorf("%w: cannot create signing request: %w", ErrKeyGeneration, err)
	}
	csr := pem.EncodeToMemory(&pem.Block{Type: cert.CSRBlock, Bytes: der})
	keyPEM, err := cert.EncodePrivateKey(key)
	if err != nil {
		return cert.Identity{}, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}

	ctx, cancel := c.context(ctx)
	defer cancel()
	resp, err := c.client.SignCertificate(ctx, &pb.SignCertificateRequest{Csr: csr})
	if err != nil {
		return cert.Identity{}, rpcError("SignCertificate", err)
	}
	id := cert.Identity{Certificate: resp.GetCertificate(), PrivateKey: keyPEM}
	if err := id.Validate(); err != nil {
		return cert.Identity{}, fmt.Errorf("%w: unusable signed certificate: %w", ErrAuthorityRejected, err)
	}
	if root != nil {
		if err := id.SignedBy(*root); err != nil {
			return cert.Identity{}, fmt.Errorf("%w: %w", ErrAuthorityRejected, err)
		}
	}
	return id, nil
}

func (c *Client) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// rpcError classifies a failed RPC as a transport failure or a rejection by
// the authority.
func rpcError(method string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s: %w", ErrTransport, method, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrAuthorityRejected, method, err)
	}
}
