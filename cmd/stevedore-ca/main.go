// Stevedore-ca is a development certificate authority for stevedore servers
// and clients.
//
// It serves the certificate authority gRPC service without transport
// security: callers have no root of trust yet and learn it from the first
// response. The root certificate and key are generated on first start and
// reused afterwards.
//
// The authority can be configured with the following options:
//
//   - `--address`: The address to listen on.
//   - `--cert-file`: The root certificate file.
//   - `--key-file`: The root private key file.
//   - `--key-type`: The key algorithm of a generated root, rsa4096 or ecdsa-p384.
//   - `--validity`: The validity of issued certificates.
//
// The authority can also be configured using environment variables:
//
//   - STEVEDORE_CA_ADDRESS: The address to listen on.
//   - STEVEDORE_CA_CERT_FILE: The root certificate file.
//   - STEVEDORE_CA_KEY_FILE: The root private key file.
//
// Sample usage:
//
//	stevedore-ca --address :9443 --validity 1h
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/juliaogris/stevedore/pkg/ca"
	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/juliaogris/stevedore/pkg/pb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const description = "Stevedore-ca is a development certificate authority for stevedore servers and clients."

type app struct {
	Address  string        `required:"" short:"A" help:"Address to listen on." env:"STEVEDORE_CA_ADDRESS"`
	CertFile string        `default:"ca_cert.pem" type:"path" help:"Root certificate file, created if missing." env:"STEVEDORE_CA_CERT_FILE"`
	KeyFile  string        `default:"ca_key.pem" type:"path" help:"Root private key file, created if missing." env:"STEVEDORE_CA_KEY_FILE"`
	KeyType  string        `default:"rsa4096" enum:"rsa4096,ecdsa-p384" help:"Key algorithm of a generated root (${enum})." env:"STEVEDORE_CA_KEY_TYPE"`
	Validity time.Duration `default:"24h" help:"Validity of issued certificates." env:"STEVEDORE_CA_VALIDITY"`

	onServe func(net.Addr) // called once listening, for tests
}

func main() {
	opts := []kong.Option{kong.Description(description)}
	kctx := kong.Parse(&app{}, opts...)
	kctx.FatalIfErrorf(kctx.Run())
}

// Run is called by [kong] after flags have been validated and parsed.
func (a *app) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

func (a *app) run(ctx context.Context) error {
	authority, err := a.authority()
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", a.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	server := grpc.NewServer(pb.ServerOption(), grpc.ChainUnaryInterceptor(logRPC))
	pb.RegisterCertificateAuthorityServer(server, authority)
	stopped := context.AfterFunc(ctx, server.GracefulStop)
	defer stopped()

	slog.Info("serving certificate authority", "address", lis.Addr().String())
	if a.onServe != nil {
		a.onServe(lis.Addr())
	}
	if err := server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// authority loads the root from the certificate and key files, generating
// and saving a new one if they do not exist.
func (a *app) authority() (*ca.Authority, error) {
	opts := []ca.AuthorityOption{ca.WithValidity(a.Validity)}
	store := &cert.FileStore{CertFile: a.CertFile, KeyFile: a.KeyFile}
	rootPair, err := store.Load()
	if err == nil {
		authority, err := ca.LoadAuthority(rootPair.Certificate, rootPair.PrivateKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load root: %w", err)
		}
		slog.Info("loaded root", "cert", a.CertFile)
		return authority, nil
	}
	if !errors.Is(err, cert.ErrNotFound) {
		return nil, fmt.Errorf("failed to load root: %w", err)
	}

	keyType, err := ca.ParseKeyType(a.KeyType)
	if err != nil {
		return nil, err
	}
	authority, err := ca.NewAuthority(append(opts, ca.WithRootKeyType(keyType))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create root: %w", err)
	}
	keyPEM, err := authority.KeyPEM()
	if err != nil {
		return nil, err
	}
	if err := store.Save(cert.Identity{Certificate: authority.Root().Certificate, PrivateKey: keyPEM}); err != nil {
		return nil, fmt.Errorf("failed to save root: %w", err)
	}
	slog.Info("created root", "cert", a.CertFile, "keyType", keyType)
	return authority, nil
}

func logRPC(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	code := status.Code(err)
	slog.Info("rpc", "method", path.Base(info.FullMethod), "code", code.String(), "err", err)
	return resp, err
}
