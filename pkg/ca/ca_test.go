package ca_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/juliaogris/stevedore/pkg/ca"
	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/juliaogris/stevedore/pkg/pb"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestFetchRoot(t *testing.T) {
	t.Parallel()
	authority := newAuthority(t)
	client := newTestClient(t, authority)
	ctx := context.Background()

	root, err := client.FetchRoot(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, root)
	require.True(t, authority.Root().Equal(*root))

	unchanged, err := client.FetchRoot(ctx, root)
	require.NoError(t, err)
	require.Nil(t, unchanged)

	stale := newAuthority(t).Root()
	rotated, err := client.FetchRoot(ctx, &stale)
	require.NoError(t, err)
	require.NotNil(t, rotated)
	require.True(t, authority.Root().Equal(*rotated))
}

func TestSignNewIdentity(t *testing.T) {
	t.Parallel()
	authority := newAuthority(t)
	client := newTestClient(t, authority, ca.WithCommonName("worker-7"), ca.WithDNSNames("localhost"), ca.WithIPAddresses(net.IPv4(127, 0, 0, 1)))
	ctx := context.Background()
	root := authority.Root()

	id1, err := client.SignNewIdentity(ctx, &root)
	require.NoError(t, err)
	id2, err := client.SignNewIdentity(ctx, &root)
	require.NoError(t, err)
	require.NotEqual(t, id1.PrivateKey, id2.PrivateKey)

	leaf, err := id1.Leaf()
	require.NoError(t, err)
	require.Equal(t, "worker-7", leaf.Subject.CommonName)
	require.Equal(t, []string{"Stevedore"}, leaf.Subject.Organization)
	require.Equal(t, []string{"localhost"}, leaf.DNSNames)
	require.True(t, leaf.IPAddresses[0].Equal(net.IPv4(127, 0, 0, 1)))
	require.Contains(t, leaf.ExtKeyUsage, x509.ExtKeyUsageClientAuth)
	require.Contains(t, leaf.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
	require.IsType(t, &ecdsa.PublicKey{}, leaf.PublicKey)
	require.Equal(t, elliptic.P384(), leaf.PublicKey.(*ecdsa.PublicKey).Curve) //nolint:forcetypeassert
	require.NoError(t, id1.SignedBy(root))
	require.True(t, id1.ValidAt(time.Now(), time.Hour))
}

func TestSignNewIdentityRSADefault(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("RSA 4096 key generation is slow")
	}
	authority := newAuthority(t)
	client := newTestClient(t, authority, ca.WithKeyType(ca.KeyRSA4096))
	id, err := client.SignNewIdentity(context.Background(), nil)
	require.NoError(t, err)
	leaf, err := id.Leaf()
	require.NoError(t, err)
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	require.True(t, ok)
	require.Equal(t, 4096, pub.N.BitLen())
}

func TestSignNewIdentityWrongRoot(t *testing.T) {
	t.Parallel()
	authority := newAuthority(t)
	client := newTestClient(t, authority)
	other := newAuthority(t).Root()
	_, err := client.SignNewIdentity(context.Background(), &other)
	require.ErrorIs(t, err, ca.ErrAuthorityRejected)
}

func TestClientErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rejecting := &stubAuthority{err: status.Error(codes.PermissionDenied, "not today")}
	client := newTestClient(t, rejecting)
	_, err := client.FetchRoot(ctx, nil)
	require.ErrorIs(t, err, ca.ErrAuthorityRejected)
	_, err = client.SignNewIdentity(ctx, nil)
	require.ErrorIs(t, err, ca.ErrAuthorityRejected)

	garbage := &stubAuthority{root: []byte("not a certificate"), signed: []byte("neither")}
	client = newTestClient(t, garbage)
	_, err = client.FetchRoot(ctx, nil)
	require.ErrorIs(t, err, ca.ErrAuthorityRejected)
	_, err = client.SignNewIdentity(ctx, nil)
	require.ErrorIs(t, err, ca.ErrAuthorityRejected)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := lis.Addr().String()
	require.NoError(t, lis.Close())
	unreachable, err := ca.Dial(address, ca.WithTimeout(time.Second), ca.WithKeyType(ca.KeyECDSAP384))
	require.NoError(t, err)
	defer unreachable.Close() //nolint:errcheck
	_, err = unreachable.FetchRoot(ctx, nil)
	require.ErrorIs(t, err, ca.ErrTransport)
	_, err = unreachable.SignNewIdentity(ctx, nil)
	require.ErrorIs(t, err, ca.ErrTransport)
}

func TestAuthoritySign(t *testing.T) {
	t.Parallel()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	authority, err := ca.NewAuthority(ca.WithRootKeyType(ca.KeyECDSAP384), ca.WithValidity(time.Hour), ca.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = authority.Sign(nil)
	require.ErrorIs(t, err, ca.ErrSigningRequest)
	_, err = authority.Sign([]byte("-----BEGIN CERTIFICATE REQUEST-----\nAAAA\n-----END CERTIFICATE REQUEST-----\n"))
	require.ErrorIs(t, err, ca.ErrSigningRequest)

	_, err = authority.SignCertificate(context.Background(), &pb.SignCertificateRequest{Csr: []byte("junk")})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	client := newTestClient(t, authority)
	id, err := client.SignNewIdentity(context.Background(), nil)
	require.NoError(t, err)
	notAfter, err := id.NotAfter()
	require.NoError(t, err)
	require.True(t, now.Add(time.Hour).Equal(notAfter))
}

func TestLoadAuthority(t *testing.T) {
	t.Parallel()
	authority := newAuthority(t)
	keyPEM, err := authority.KeyPEM()
	require.NoError(t, err)

	loaded, err := ca.LoadAuthority(authority.Root().Certificate, keyPEM)
	require.NoError(t, err)
	require.True(t, authority.Root().Equal(loaded.Root()))

	other, err := newAuthority(t).KeyPEM()
	require.NoError(t, err)
	_, err = ca.LoadAuthority(authority.Root().Certificate, other)
	require.ErrorIs(t, err, cert.ErrCorrupt)
}

func TestParseKeyType(t *testing.T) {
	t.Parallel()
	for _, k := range []ca.KeyType{ca.KeyRSA4096, ca.KeyECDSAP384} {
		got, err := ca.ParseKeyType(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	_, err := ca.ParseKeyType("rsa1024")
	require.ErrorIs(t, err, ca.ErrKeyGeneration)
}

type stubAuthority struct {
	pb.UnimplementedCertificateAuthorityServer
	root   []byte
	signed []byte
	err    error
}

func (s *stubAuthority) GetRootCertificate(context.Context, *pb.GetRootCertificateRequest) (*pb.GetRootCertificateResponse, error) {
	return &pb.GetRootCertificateResponse{Certificate: s.root}, s.err
}

func (s *stubAuthority) SignCertificate(context.Context, *pb.SignCertificateRequest) (*pb.SignCertificateResponse, error) {
	return &pb.SignCertificateResponse{Certificate: s.signed}, s.err
}

func newAuthority(t *testing.T) *ca.Authority {
	t.Helper()
	authority, err := ca.NewAuthority(ca.WithRootKeyType(ca.KeyECDSAP384))
	require.NoError(t, err)
	return authority
}

func newTestClient(t *testing.T, srv pb.CertificateAuthorityServer, opts ...ca.Option) *ca.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(pb.ServerOption())
	pb.RegisterCertificateAuthorityServer(server, srv)
	go server.Serve(lis) //nolint:errcheck
	t.Cleanup(server.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		pb.DialOption(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	opts = append([]ca.Option{ca.WithKeyType(ca.KeyECDSAP384)}, opts...)
	return ca.NewClient(conn, opts...)
}
