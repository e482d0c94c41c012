// Stevedore is the client CLI to run jobs remotely on a stevedore server.
//
// It communicates with a stevedore server over gRPC using mutual TLS. The CLI
// supports the following commands:
//
//   - enroll: obtains a client certificate from the certificate authority.
//   - start: starts a new job and prints its ID and owner ID.
//   - stop: stops a running job.
//   - query: retrieves the status of a job.
//   - logs: streams the output of a job.
//
// Every job command requires the address of the stevedore server and the
// client's certificate and key. They are taken from the state directory
// written by enroll unless given explicitly. Every command except start
// requires the owner ID printed by start.
//
// The CLI optionally uses environment variables for its configuration:
//
//   - STEVEDORE_ADDRESS: the address of the stevedore server.
//   - STEVEDORE_CA_ADDRESS: the address of the certificate authority.
//   - STEVEDORE_STATE_DIR: the directory holding root, certificate and key.
//   - STEVEDORE_CLIENT_CERT: the path to the client's certificate file.
//   - STEVEDORE_CLIENT_KEY: the path to the client's key file.
//   - STEVEDORE_SERVER_CA_CERT: the path to the server's root certificate.
//   - STEVEDORE_OWNER: the owner ID of the job.
//
// Example usage after environment setup:
//
//	stevedore enroll --common-name alice
//	stevedore start sleep 100
//	stevedore stop <job_id> --owner <owner_id>
//	stevedore query <job_id> --owner <owner_id>
//	stevedore logs <job_id> --owner <owner_id>
//	stevedore [COMMAND] --help
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/juliaogris/stevedore/pkg/ca"
	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/juliaogris/stevedore/pkg/identity"
	"github.com/juliaogris/stevedore/pkg/pb"
	"github.com/juliaogris/stevedore/pkg/stevedore"
)

const description = "Stevedore is a client CLI to run jobs remotely on a stevedore server."

type app struct {
	Enroll enrollCmd `cmd:"" help:"Obtain a client certificate from the certificate authority."`
	Start  startCmd  `cmd:"" help:"Start a new job, print its ID and owner ID."`
	Stop   stopCmd   `cmd:"" help:"Stop the job with given ID."`
	Query  queryCmd  `cmd:"" help:"Query the status of the job with given ID."`
	Logs   logsCmd   `cmd:"" help:"Print output of the job with given ID. Continuously stream additional output."`
}

func main() {
	var writer io.Writer = os.Stdout
	opts := []kong.Option{
		kong.Bind(&writer),
		kong.Description(description),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	}
	kctx := kong.Parse(&app{}, opts...)
	kctx.FatalIfErrorf(kctx.Run())
}

type enrollCmd struct {
	CAAddress   string        `required:"" name:"ca-address" help:"Certificate authority address." env:"STEVEDORE_CA_ADDRESS"`
	StateDir    string        `required:"" type:"path" help:"Directory to store root, certificate and key in." env:"STEVEDORE_STATE_DIR"`
	CommonName  string        `required:"" help:"Common name of the requested certificate." env:"STEVEDORE_COMMON_NAME"`
	KeyType     string        `default:"rsa4096" enum:"rsa4096,ecdsa-p384" help:"Key algorithm (${enum})." env:"STEVEDORE_KEY_TYPE"`
	RenewBefore time.Duration `default:"10m" help:"Renew the certificate if it expires within this duration." env:"STEVEDORE_RENEW_BEFORE"`
}

type startCmd struct {
	cmd
	Command string   `arg:"" required:"" help:"Command."`
	Args    []string `arg:"" optional:"" help:"Command arguments."`
}

type stopCmd struct {
	jobCmd
	Graceful bool `short:"g" help:"Send SIGTERM instead of SIGKILL."`
}

type queryCmd struct {
	jobCmd
}

type logsCmd struct {
	jobCmd
}

type jobCmd struct {
	cmd
	ID    string `arg:"" required:"" help:"Job ID."`
	Owner string `required:"" short:"o" help:"Owner ID printed by start." env:"STEVEDORE_OWNER"`
}

type cmd struct {
	Address      string `required:"" short:"A" help:"Server address." env:"STEVEDORE_ADDRESS"`
	StateDir     string `type:"path" help:"Directory written by enroll, default for certificate, key and root." env:"STEVEDORE_STATE_DIR"`
	ClientCert   string `help:"Client Certificate file." env:"STEVEDORE_CLIENT_CERT"`
	ClientKey    string `help:"Client Private Key file." env:"STEVEDORE_CLIENT_KEY"`
	ServerCACert string `help:"Server root certificate file." env:"STEVEDORE_SERVER_CA_CERT"`

	client *stevedore.Client
	w      io.Writer // can be overridden for testing
}

// Run is called by [kong] when the CLI arguments contain the `enroll`
// command. It is safe to run repeatedly: a valid certificate is kept.
func (c *enrollCmd) Run(w *io.Writer) error {
	keyType, err := ca.ParseKeyType(c.KeyType)
	if err != nil {
		return err
	}
	client, err := ca.Dial(c.CAAddress, ca.WithCommonName(c.CommonName), ca.WithKeyType(keyType))
	if err != nil {
		return fmt.Errorf("failed to create certificate authority client: %w", err)
	}
	defer client.Close() //nolint:errcheck
	store := cert.NewFileStore(c.StateDir)
	b := &identity.Bootstrap{Store: store, Authority: client, RenewBefore: c.RenewBefore}
	result, err := b.Run(context.Background())
	if err != nil {
		return fmt.Errorf("failed to enroll: %w", err)
	}
	notAfter, err := result.Identity.NotAfter()
	if err != nil {
		return err
	}
	state := "reused"
	if result.Renewed {
		state = "issued"
	}
	_, err = fmt.Fprintf(cmp.Or(*w, io.Writer(os.Stdout)), "certificate %s %s, expires %s\n", store.CertFile, state, notAfter.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write enrollment result: %w", err)
	}
	return nil
}

// Run is called by [kong] when the CLI arguments contain the `start` command.
func (c *startCmd) Run() error {
	req := &pb.StartJobRequest{
		Name: c.Command,
		Args: c.Args,
	}
	resp, err := c.client.StartJob(context.Background(), req)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	_, err = fmt.Fprintln(c.w, resp.GetJobId(), resp.GetOwnerId())
	if err != nil {
		return fmt.Errorf("failed to write job ID %q: %w", resp.GetJobId(), err)
	}
	return nil
}

// Run is called by [kong] when the CLI arguments contain the `stop` command.
func (c *stopCmd) Run() error {
	req := &pb.StopJobRequest{JobId: c.ID, OwnerId: c.Owner, Gracefully: c.Graceful}
	if _, err := c.client.StopJob(context.Background(), req); err != nil {
		return fmt.Errorf("failed to stop job: %w", err)
	}
	return nil
}

// Run is called by [kong] when the CLI arguments contain the `query` command.
func (c *queryCmd) Run() error {
	req := &pb.QueryJobRequest{JobId: c.ID, OwnerId: c.Owner}
	resp, err := c.client.QueryJob(context.Background(), req)
	if err != nil {
		return fmt.Errorf("failed to query job: %w", err)
	}
	return printJobStatus(c.w, c.ID, resp)
}

// Run is called by [kong] when the CLI arguments contain the `logs` command.
func (c *logsCmd) Run() error {
	req := &pb.StreamJobRequest{JobId: c.ID, OwnerId: c.Owner}
	stream, err := c.client.StreamJob(context.Background(), req)
	if err != nil {
		return fmt.Errorf("cannot open job output stream: %w", err)
	}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil // stream closed
		}
		if err != nil {
			return fmt.Errorf("failed to get job output from stream: %w", err)
		}
		if _, err := c.w.Write(resp.GetOutput()); err != nil {
			return fmt.Errorf("failed to print output: %w", err)
		}
	}
}

// AfterApply is called by [kong] immediately after flag validation and
// assignment and _before_ a command's Run method. It is useful for setting up
// common resources like gRPC connections.
//
// The pointer to the io.Writer is required to keep the io.Writer type when
// passing through an `any` parameter on the [kong.Bind] function.
func (c *cmd) AfterApply(w *io.Writer) error {
	c.w = cmp.Or(*w, io.Writer(os.Stdout))
	if c.StateDir != "" {
		store := cert.NewFileStore(c.StateDir)
		c.ClientCert = cmp.Or(c.ClientCert, store.CertFile)
		c.ClientKey = cmp.Or(c.ClientKey, store.KeyFile)
		c.ServerCACert = cmp.Or(c.ServerCACert, store.RootFile)
	}
	if c.ClientCert == "" || c.ClientKey == "" {
		return errors.New("client certificate and key required, use --state-dir or --client-cert and --client-key")
	}
	client, err := stevedore.NewClientFromFiles(c.Address, c.ClientCert, c.ClientKey, c.ServerCACert)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	c.client = client
	return nil
}

// AfterRun is called by [kong] immediately after a command's Run method
// completes. It is useful for cleaning up common resources like gRPC
// connections.
func (c *cmd) AfterRun() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("after run: %w", err)
	}
	return nil
}

// printJobStatus writes the job status to the provided writer in a tabular
// format.
func printJobStatus(w io.Writer, id string, resp *pb.QueryJobResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, err := fmt.Fprintln(tw, "ID\tSTATUS\tPID\tEXIT")
	if err != nil {
		return fmt.Errorf("cannot write job status header: %w", err)
	}
	_, err = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, resp.GetStatus(), optionalString(resp.Pid), optionalString(resp.ExitCode))
	if err != nil {
		return fmt.Errorf("cannot write job status content: %w", err)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("cannot flush job status tab writer: %w", err)
	}
	return nil
}

// optionalString formats an optional wire integer, empty if absent.
func optionalString(i *int32) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(int64(*i), 10)
}
