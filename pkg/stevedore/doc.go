// Package stevedore provides the gRPC runner service for controlling jobs.
//
// It allows clients to start, stop, query and stream the output of jobs
// executed by a [Worker]. The communication between the client and server is
// secured using mutual TLS (mTLS) authentication.
//
// ## Ownership
//
// StartJob generates a new owner UUID and returns it together with the job
// UUID. Every other call must present both; the Worker rejects calls whose
// owner does not match and the service reports them as PermissionDenied.
// Identifiers that are not well-formed UUIDs are rejected with
// InvalidArgument before the Worker is called.
//
// ## Client
//
// The [Client] created with [NewClient] or [NewClientFromFiles] provides a
// convenient way to interact with the server. It establishes and closes
// secure connections using mTLS.
//
// ## Server
//
// The [Server] created with [NewServer] manages the gRPC server and the
// Worker. Its TLS configuration is taken from [identity.Credentials] at every
// handshake, so a renewed identity is used for new connections without a
// restart.
//
// ## Security
//
// The package enforces mTLS authentication for all communication between the
// client and server. It uses TLS version 1.3 and requires valid certificates
// for both the client and server, signed by the current root of trust.
//
// ## Service
//
// The [Service] implements the gRPC interface pb.RunnerServer. It is a lower
// integration point than the [Server] type for custom security setup or
// testing.
//
// # Example Usage
//
// Client:
//
//	client, err := NewClientFromFiles("localhost:8443", "cert.pem", "key.pem", "ca_cert.pem")
//	if err != nil {
//		// handle error
//	}
//	defer client.Close()
//
//	// start a new job
//	resp, err := client.StartJob(context.Background(), &pb.StartJobRequest{
//		Name: "echo",
//		Args: []string{"hello"},
//	})
//	if err != nil {
//		// handle error
//	}
//	jobID, ownerID := resp.GetJobId(), resp.GetOwnerId()
//
// Server:
//
//	server, err := NewServer("localhost:8443", creds, job.NewController())
//	if err != nil {
//		// handle error
//	}
//	server.StopOnSignals(os.Interrupt)
//
//	// start the server
//	if err := server.Serve(); err != nil {
//		// handle error
//	}
package stevedore
