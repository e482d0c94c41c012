package identity_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juliaogris/stevedore/pkg/ca"
	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/juliaogris/stevedore/pkg/identity"
	"github.com/juliaogris/stevedore/pkg/pb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

var errUnreachable = errors.New("unreachable")

func TestBootstrapFirstRun(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.bootstrap()

	result, err := b.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.RootChanged)
	require.True(t, result.Renewed)
	require.True(t, env.authority.Root().Equal(result.Root))
	require.NoError(t, result.Identity.SignedBy(result.Root))
	require.Equal(t, int32(1), env.counting.fetches.Load())
	require.Equal(t, int32(1), env.counting.signs.Load())

	stored, err := env.store.Load()
	require.NoError(t, err)
	require.Equal(t, result.Identity, stored)
	storedRoot, err := env.store.LoadRoot()
	require.NoError(t, err)
	require.Equal(t, result.Root, storedRoot)
}

func TestBootstrapIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.bootstrap()

	first, err := b.Run(context.Background())
	require.NoError(t, err)
	signs := env.counting.signs.Load()

	for range 3 {
		result, err := b.Run(context.Background())
		require.NoError(t, err)
		require.False(t, result.RootChanged)
		require.False(t, result.Renewed)
		require.Equal(t, first.Identity, result.Identity)
	}
	require.Equal(t, signs, env.counting.signs.Load())
}

func TestBootstrapRenewsExpired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.bootstrap()

	first, err := b.Run(context.Background())
	require.NoError(t, err)
	env.clock.advance(2 * time.Hour) // leaf validity is 1h

	result, err := b.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Renewed)
	require.False(t, result.RootChanged)
	require.NotEqual(t, first.Identity.PrivateKey, result.Identity.PrivateKey)
	require.True(t, result.Identity.ValidAt(env.clock.now(), 0))
	require.Equal(t, int32(2), env.counting.signs.Load())

	stored, err := env.store.Load()
	require.NoError(t, err)
	require.Equal(t, result.Identity, stored)
}

func TestBootstrapRenewBefore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.bootstrap()
	b.RenewBefore = 10 * time.Minute

	_, err := b.Run(context.Background())
	require.NoError(t, err)
	env.clock.advance(45 * time.Minute)
	result, err := b.Run(context.Background())
	require.NoError(t, err)
	require.False(t, result.Renewed)

	env.clock.advance(10 * time.Minute)
	result, err = b.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Renewed)
}

func TestBootstrapRootFallback(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.bootstrap()
	first, err := b.Run(context.Background())
	require.NoError(t, err)

	env.counting.fetchErr = errUnreachable
	result, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Root, result.Root)
	require.Equal(t, first.Identity, result.Identity)
	require.False(t, result.RootChanged)
}

func TestBootstrapNoTrust(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.counting.fetchErr = errUnreachable
	_, err := env.bootstrap().Run(context.Background())
	require.ErrorIs(t, err, identity.ErrNoTrust)
	require.ErrorIs(t, err, errUnreachable)
	require.Equal(t, int32(0), env.counting.signs.Load())

	_, err = env.store.LoadRoot()
	require.ErrorIs(t, err, cert.ErrNotFound)
	_, err = env.store.Load()
	require.ErrorIs(t, err, cert.ErrNotFound)
}

func TestBootstrapRootRotation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.bootstrap().Run(context.Background())
	require.NoError(t, err)

	rotated := newTestEnv(t)
	rotated.store = env.store
	result, err := rotated.bootstrap().Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.RootChanged)
	require.True(t, result.Renewed)
	require.True(t, rotated.authority.Root().Equal(result.Root))
	require.NoError(t, result.Identity.SignedBy(result.Root))
}

func TestBootstrapSignFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.counting.signErr = errUnreachable
	_, err := env.bootstrap().Run(context.Background())
	require.ErrorIs(t, err, errUnreachable)
	_, err = env.store.Load()
	require.ErrorIs(t, err, cert.ErrNotFound)
}

func TestBootstrapSignFailureKeepsValidIdentity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.bootstrap()
	b.RenewBefore = 30 * time.Minute
	first, err := b.Run(context.Background())
	require.NoError(t, err)

	env.clock.advance(45 * time.Minute)
	env.counting.signErr = errUnreachable
	result, err := b.Run(context.Background())
	require.NoError(t, err)
	require.False(t, result.Renewed)
	require.Equal(t, first.Identity, result.Identity)

	stored, err := env.store.Load()
	require.NoError(t, err)
	require.Equal(t, first.Identity, stored)

	env.clock.advance(time.Hour)
	_, err = b.Run(context.Background())
	require.ErrorIs(t, err, errUnreachable)
}

func TestBootstrapFailedSaveKeepsPersistedIdentity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	files, ok := env.store.(*cert.FileStore)
	require.True(t, ok)
	b := env.bootstrap()
	b.RenewBefore = 30 * time.Minute
	first, err := b.Run(context.Background())
	require.NoError(t, err)

	// renewed certificates cannot be renamed over a non-empty directory
	blocked := filepath.Join(filepath.Dir(files.CertFile), "blocked")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "sub"), 0o750))
	b.Store = &saveElsewhereStore{Store: files, save: &cert.FileStore{RootFile: files.RootFile, CertFile: blocked, KeyFile: files.KeyFile}}
	env.clock.advance(45 * time.Minute)
	result, err := b.Run(context.Background())
	require.NoError(t, err)
	require.False(t, result.Renewed)
	require.Equal(t, first.Identity, result.Identity)
	require.Equal(t, int32(2), env.counting.signs.Load())

	// a restart with the authority unreachable still finds a valid identity
	env.counting.fetchErr = errUnreachable
	restarted, err := env.bootstrap().Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Identity, restarted.Identity)
}

func TestBootstrapRootResent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.counting.resendRoot = true
	files, ok := env.store.(*cert.FileStore)
	require.True(t, ok)
	reg := prometheus.NewPedanticRegistry()
	b := env.bootstrap()
	b.Metrics = identity.NewMetrics(reg)

	first, err := b.Run(context.Background())
	require.NoError(t, err)
	require.True(t, first.RootChanged)
	info, err := os.Stat(files.RootFile)
	require.NoError(t, err)

	for range 3 {
		result, err := b.Run(context.Background())
		require.NoError(t, err)
		require.False(t, result.RootChanged)
		require.False(t, result.Renewed)
	}
	want := `
# HELP identity_root_changes_total Total number of root of trust changes
# TYPE identity_root_changes_total counter
identity_root_changes_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "identity_root_changes_total"))
	// the root file is not rewritten
	again, err := os.Stat(files.RootFile)
	require.NoError(t, err)
	require.True(t, os.SameFile(info, again))
}

func TestBootstrapMetrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	reg := prometheus.NewPedanticRegistry()
	b := env.bootstrap()
	b.Metrics = identity.NewMetrics(reg)

	result, err := b.Run(context.Background())
	require.NoError(t, err)
	_, err = b.Run(context.Background())
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "identity_root_changes_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	notAfter, err := result.Identity.NotAfter()
	require.NoError(t, err)
	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetName() {
			case "identity_renewals_total":
				got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			case "identity_root_changes_total":
				got["root"] = m.GetCounter().GetValue()
			case "identity_certificate_expiry_timestamp_seconds":
				got["expiry"] = m.GetGauge().GetValue()
			}
		}
	}
	want := map[string]float64{
		"renewed": 1,
		"reused":  1,
		"root":    1,
		"expiry":  float64(notAfter.Unix()),
	}
	require.Equal(t, want, got)
}

func TestCredentialsHandshake(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.bootstrap()
	result, err := b.Run(context.Background())
	require.NoError(t, err)
	creds, err := identity.NewCredentials(result)
	require.NoError(t, err)
	notAfter, err := result.Identity.NotAfter()
	require.NoError(t, err)
	require.Equal(t, notAfter, creds.NotAfter())

	first := handshake(t, creds)
	require.Equal(t, "localhost", first.Subject.CommonName)

	b.RenewBefore = 2 * time.Hour // longer than the leaf validity
	renewed, err := b.Run(context.Background())
	require.NoError(t, err)
	require.True(t, renewed.Renewed)
	require.NoError(t, creds.Update(renewed))

	second := handshake(t, creds)
	require.NotEqual(t, first.SerialNumber, second.SerialNumber)
	require.Equal(t, renewed.Identity.Certificate, cert.EncodeCertificate(second.Raw))
}

func TestCredentialsUpdateRejectsCorrupt(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	result, err := env.bootstrap().Run(context.Background())
	require.NoError(t, err)
	creds, err := identity.NewCredentials(result)
	require.NoError(t, err)
	before := creds.NotAfter()

	bad := result
	bad.Root = cert.Root{Certificate: result.Identity.Certificate}
	require.ErrorIs(t, creds.Update(bad), identity.ErrCredentials)
	require.Equal(t, before, creds.NotAfter())
}

func TestCredentialsZeroValue(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	result, err := env.bootstrap().Run(context.Background())
	require.NoError(t, err)
	valid, err := identity.NewCredentials(result)
	require.NoError(t, err)
	zero := &identity.Credentials{}
	require.True(t, zero.NotAfter().IsZero())

	serverConn, clientConn := net.Pipe()
	go func() {
		client := tls.Client(clientConn, valid.ClientTLSConfig("localhost"))
		_ = client.Handshake()
		client.Close() //nolint:errcheck
	}()
	err = tls.Server(serverConn, zero.ServerTLSConfig()).Handshake()
	require.ErrorIs(t, err, identity.ErrCredentials)
	serverConn.Close() //nolint:errcheck

	serverConn, clientConn = net.Pipe()
	go func() {
		server := tls.Server(serverConn, valid.ServerTLSConfig())
		_ = server.Handshake()
		server.Close() //nolint:errcheck
	}()
	err = tls.Client(clientConn, zero.ClientTLSConfig("localhost")).Handshake()
	require.ErrorIs(t, err, identity.ErrCredentials)
	clientConn.Close() //nolint:errcheck
}

func TestRenewer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.bootstrap()
	result, err := b.Run(context.Background())
	require.NoError(t, err)
	creds, err := identity.NewCredentials(result)
	require.NoError(t, err)
	before := creds.NotAfter()

	env.clock.advance(2 * time.Hour)
	renewer := &identity.Renewer{Bootstrap: b, Credentials: creds, Interval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- renewer.Run(ctx) }()
	require.Eventually(t, func() bool { return creds.NotAfter().After(before) }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
}

// handshake connects a client and a server both using creds and returns
// the server certificate seen by the client.
func handshake(t *testing.T, creds *identity.Credentials) *x509.Certificate {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close() //nolint:errcheck
	errc := make(chan error, 1)
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			errc <- err
			return
		}
		server := tls.Server(conn, creds.ServerTLSConfig())
		errc <- server.Handshake()
		server.Close() //nolint:errcheck
	}()
	client, err := tls.Dial("tcp", lis.Addr().String(), creds.ClientTLSConfig("localhost"))
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck
	require.NoError(t, <-errc)
	return client.ConnectionState().PeerCertificates[0]
}

type testEnv struct {
	clock     *fakeClock
	authority *ca.Authority
	counting  *countingAuthority
	store     cert.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Now()}
	authority, err := ca.NewAuthority(ca.WithRootKeyType(ca.KeyECDSAP384), ca.WithValidity(time.Hour), ca.WithClock(clock.now))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(pb.ServerOption())
	pb.RegisterCertificateAuthorityServer(server, authority)
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
	client := ca.NewClient(conn, ca.WithKeyType(ca.KeyECDSAP384), ca.WithCommonName("localhost"), ca.WithDNSNames("localhost"))

	return &testEnv{
		clock:     clock,
		authority: authority,
		counting:  &countingAuthority{Authority: client},
		store:     cert.NewFileStore(t.TempDir()),
	}
}

func (e *testEnv) bootstrap() *identity.Bootstrap {
	return &identity.Bootstrap{
		Store:     e.store,
		Authority: e.counting,
		Now:       e.clock.now,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type countingAuthority struct {
	identity.Authority
	fetches  atomic.Int32
	signs    atomic.Int32
	fetchErr error
	signErr  error

	resendRoot bool // answer as if nothing was cached
}

func (c *countingAuthority) FetchRoot(ctx context.Context, cached *cert.Root) (*cert.Root, error) {
	c.fetches.Add(1)
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	if c.resendRoot {
		cached = nil
	}
	return c.Authority.FetchRoot(ctx, cached)
}

// saveElsewhereStore loads from the embedded Store but saves to another.
type saveElsewhereStore struct {
	cert.Store
	save cert.Store
}

func (s *saveElsewhereStore) Save(id cert.Identity) error {
	return s.save.Save(id) //nolint:wrapcheck
}

func (c *countingAuthority) SignNewIdentity(ctx context.Context, root *cert.Root) (cert.Identity, error) {
	c.signs.Add(1)
	if c.signErr != nil {
		return cert.Identity{}, c.signErr
	}
	return c.Authority.SignNewIdentity(ctx, root)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
