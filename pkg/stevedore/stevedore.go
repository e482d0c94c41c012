package stevedore

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/juliaogris/stevedore/pkg/identity"
	"github.com/juliaogris/stevedore/pkg/pb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Sentinel Errors returned by the stevedore package.
var (
	ErrCredentials = errors.New("credentials setup error")
	ErrCertLoad    = errors.New("certificate load error")
	ErrCASetup     = errors.New("CA setup error")
	ErrCommonName  = errors.New("failed to extract Common Name")
	ErrClientConn  = errors.New("client connection error")
	ErrListen      = errors.New("listen error")
)

// DefaultGracePeriod is how long [Server.Shutdown] lets calls in flight
// finish before closing their connections.
const DefaultGracePeriod = 2 * time.Second

// Client is a wrapper around the gRPC runner client. It establishes and
// closes the mTLS connection to the server.
type Client struct {
	pb.RunnerClient
	conn *grpc.ClientConn
}

// Server is the gRPC server of the runner service. Every connection is
// authenticated with mutual TLS using the identity and root of trust held by
// the [identity.Credentials] at handshake time.
type Server struct {
	*grpc.Server
	listener net.Listener
	worker   Worker
	logger   *slog.Logger
	metrics  *Metrics
}

// ServerOption is a functional option for the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for RPC and job events.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics the server records to.
func WithMetrics(metrics *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// NewClient creates a new client and connects it to the server at address
// using tlsConfig, typically from [identity.Credentials.ClientTLSConfig].
func NewClient(address string, tlsConfig *tls.Config) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		pb.DialOption(),
	}
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: address %q: %w", address, err)
	}
	return &Client{
		RunnerClient: pb.NewRunnerClient(conn),
		conn:         conn,
	}, nil
}

// NewClientFromFiles creates a new client authenticating with the PEM
// certificate and key files and verifying the server against the PEM root
// file. An empty rootFile uses the system's root certificates.
func NewClientFromFiles(address, certFile, keyFile, rootFile string) (*Client, error) {
	tlsConfig, err := clientTLSConfig(certFile, keyFile, rootFile)
	if err != nil {
		return nil, fmt.Errorf("NewClientFromFiles: %w: %w", ErrCredentials, err)
	}
	return NewClient(address, tlsConfig)
}

// Close closes the client's connection to the server.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("%w: cannot close: %w", ErrClientConn, err)
	}
	return nil
}

// NewServer creates a server listening on address that runs jobs with
// worker.
func NewServer(address string, creds *identity.Credentials, worker Worker, opts ...ServerOption) (*Server, error) {
	s := &Server{
		worker: worker,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("NewServer: %w: %w", ErrListen, err)
	}
	i := &interceptors{logger: s.logger, metrics: s.metrics}
	grpcOpts := []grpc.ServerOption{
		grpc.Creds(credentials.NewTLS(creds.ServerTLSConfig())),
		grpc.ChainUnaryInterceptor(i.unary),
		grpc.ChainStreamInterceptor(i.stream),
		pb.ServerOption(),
	}
	s.Server = grpc.NewServer(grpcOpts...)
	s.listener = lis
	service := &Service{Worker: worker, Metrics: s.metrics, Logger: s.logger}
	pb.RegisterRunnerServer(s.Server, service)
	return s, nil
}

// Address returns the address the server listens on.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until the server is stopped.
func (s *Server) Serve() error {
	s.logger.Info("serving", "address", s.Address())
	if err := s.Server.Serve(s.listener); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop stops the server ungracefully and shuts down the worker if it can be
// shut down. Useful for tests, especially within a defer statement.
func (s *Server) Stop() {
	s.stopWorker()
	s.Server.Stop()
}

// Shutdown shuts down the worker, then stops the server gracefully, closing
// connections still open after grace.
func (s *Server) Shutdown(grace time.Duration) {
	s.logger.Info("stopping server")
	s.stopWorker()
	done := make(chan struct{})
	go func() {
		s.Server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.Server.Stop()
	}
}

// StopOnSignals shuts the server down with [DefaultGracePeriod] when one of
// the given signals is received. If no signals are provided, this function
// does nothing.
func (s *Server) StopOnSignals(sig ...os.Signal) {
	if len(sig) == 0 {
		return
	}
	go s.handleSignals(sig...)
}

func (s *Server) handleSignals(sig ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig...)
	<-ch
	s.Shutdown(DefaultGracePeriod)
}

// stopWorker stops all jobs of workers that support it.
func (s *Server) stopWorker() {
	stopper, ok := s.worker.(interface{ StopAll() error })
	if !ok {
		return
	}
	if err := stopper.StopAll(); err != nil {
		s.logger.Error("failed to stop worker", "err", err)
	}
}
