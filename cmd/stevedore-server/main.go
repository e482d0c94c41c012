// Stevedore-server is a gRPC gateway that runs and manages jobs for
// authenticated clients.
//
// On startup it obtains its mTLS identity from a certificate authority:
// the root of trust is fetched (or reused from the state directory if the
// authority cannot be reached), and a new certificate is requested only if
// the cached one is missing or about to expire. While serving, the identity
// is renewed in the background and new connections pick up the renewed
// certificate without a restart.
//
// The server can be configured with the following options:
//
//   - `--address`: The address to listen on.
//   - `--ca-address`: The address of the certificate authority.
//   - `--state-dir`: The directory holding root, certificate and key.
//   - `--common-name`, `--dns-name`, `--ip-address`: The requested identity.
//   - `--key-type`: The key algorithm, rsa4096 or ecdsa-p384.
//   - `--renew-before`: How long before expiry the identity is renewed.
//   - `--renew-interval`: How often the identity is checked.
//   - `--metrics-address`: Optional address to serve Prometheus metrics on.
//
// The server can also be configured using environment variables:
//
//   - STEVEDORE_ADDRESS: The address to listen on.
//   - STEVEDORE_CA_ADDRESS: The address of the certificate authority.
//   - STEVEDORE_STATE_DIR: The directory holding root, certificate and key.
//   - STEVEDORE_METRICS_ADDRESS: The address to serve metrics on.
//
// Sample usage after environment setup:
//
//	stevedore-server --dns-name localhost --ip-address 127.0.0.1
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-playground/validator/v10"
	"github.com/juliaogris/stevedore/pkg/ca"
	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/juliaogris/stevedore/pkg/identity"
	"github.com/juliaogris/stevedore/pkg/job"
	"github.com/juliaogris/stevedore/pkg/stevedore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const description = "Stevedore-server is a gRPC gateway that runs and manages jobs for authenticated clients."

type app struct {
	Address        string        `required:"" short:"A" help:"Address to listen on." env:"STEVEDORE_ADDRESS" validate:"required"`
	CAAddress      string        `required:"" name:"ca-address" help:"Certificate authority address." env:"STEVEDORE_CA_ADDRESS" validate:"required,hostname_port"`
	StateDir       string        `required:"" type:"path" help:"Directory holding root, certificate and key." env:"STEVEDORE_STATE_DIR" validate:"required"`
	CommonName     string        `default:"stevedore-server" help:"Common name of the requested certificate." env:"STEVEDORE_COMMON_NAME" validate:"required"`
	DNSNames       []string      `name:"dns-name" help:"DNS names of the requested certificate." env:"STEVEDORE_DNS_NAMES" validate:"dive,hostname_rfc1123"`
	IPAddresses    []string      `name:"ip-address" help:"IP addresses of the requested certificate." env:"STEVEDORE_IP_ADDRESSES" validate:"dive,ip"`
	KeyType        string        `default:"rsa4096" enum:"rsa4096,ecdsa-p384" help:"Key algorithm (${enum})." env:"STEVEDORE_KEY_TYPE"`
	RenewBefore    time.Duration `default:"10m" help:"Renew the certificate this long before it expires." env:"STEVEDORE_RENEW_BEFORE" validate:"gte=0"`
	RenewInterval  time.Duration `default:"1m" help:"How often to check whether the certificate needs renewal." env:"STEVEDORE_RENEW_INTERVAL" validate:"gt=0"`
	MetricsAddress string        `help:"Address to serve Prometheus metrics on, disabled if empty." env:"STEVEDORE_METRICS_ADDRESS" validate:"omitempty,hostname_port"`

	onServe func(*stevedore.Server) // called once serving, for tests
}

func main() {
	opts := []kong.Option{kong.Description(description)}
	kctx := kong.Parse(&app{}, opts...)
	kctx.FatalIfErrorf(kctx.Run())
}

// Validate is called by [kong] after flags have been parsed.
func (a *app) Validate() error {
	if err := validator.New().Struct(a); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Run is called by [kong] after flags have been validated and parsed.
func (a *app) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

func (a *app) run(ctx context.Context) error {
	logger := slog.Default()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	caClient, err := a.caClient()
	if err != nil {
		return err
	}
	defer caClient.Close() //nolint:errcheck

	bootstrap := &identity.Bootstrap{
		Store:       cert.NewFileStore(a.StateDir),
		Authority:   caClient,
		RenewBefore: a.RenewBefore,
		Logger:      logger,
		Metrics:     identity.NewMetrics(reg),
	}
	result, err := bootstrap.Run(ctx)
	if errors.Is(err, identity.ErrNoTrust) {
		return fmt.Errorf("cannot establish trust, giving up: %w", err)
	}
	if err != nil {
		return fmt.Errorf("cannot obtain identity: %w", err)
	}
	creds, err := identity.NewCredentials(result)
	if err != nil {
		return err
	}
	logger.Info("identity ready", "renewed", result.Renewed, "rootChanged", result.RootChanged, "notAfter", creds.NotAfter())

	worker := job.NewController(job.WithLogger(logger))
	server, err := stevedore.NewServer(a.Address, creds, worker,
		stevedore.WithLogger(logger),
		stevedore.WithMetrics(stevedore.NewMetrics(reg)),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	renewer := &identity.Renewer{Bootstrap: bootstrap, Credentials: creds, Interval: a.RenewInterval}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Serve)
	g.Go(func() error {
		<-ctx.Done()
		server.Shutdown(stevedore.DefaultGracePeriod)
		return nil
	})
	g.Go(func() error { return renewer.Run(ctx) })
	if a.MetricsAddress != "" {
		a.serveMetrics(ctx, g, reg)
	}
	if a.onServe != nil {
		a.onServe(server)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (a *app) caClient() (*ca.Client, error) {
	keyType, err := ca.ParseKeyType(a.KeyType)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(a.IPAddresses))
	for _, s := range a.IPAddresses {
		ips = append(ips, net.ParseIP(s))
	}
	client, err := ca.Dial(a.CAAddress,
		ca.WithCommonName(a.CommonName),
		ca.WithDNSNames(a.DNSNames...),
		ca.WithIPAddresses(ips...),
		ca.WithKeyType(keyType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate authority client: %w", err)
	}
	return client, nil
}

func (a *app) serveMetrics(ctx context.Context, g *errgroup.Group, reg *prometheus.Registry) {
	srv := &http.Server{
		Addr:              a.MetricsAddress,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("serving metrics", "address", a.MetricsAddress)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})
}
