package stevedore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/juliaogris/stevedore/pkg/job"
	"github.com/juliaogris/stevedore/pkg/pb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ChunkSize is the maximum number of output bytes in a StreamJob message.
const ChunkSize = 4096

// Worker executes jobs on behalf of the Service. Every operation on an
// existing job is checked against the owner the job was started with; a
// mismatch is reported as [job.ErrUnauthorized] and an unknown job as
// [job.ErrNotFound]. [job.Controller] implements Worker.
type Worker interface {
	Start(command job.Command, owner uuid.UUID) (uuid.UUID, error)
	Stop(id, owner uuid.UUID, graceful bool) error
	Query(id, owner uuid.UUID) (job.Info, error)
	Stream(ctx context.Context, id, owner uuid.UUID) (io.ReadCloser, error)
}

// Service implements the gRPC interface pb.RunnerServer on top of a
// [Worker].
//
// Job and owner identifiers are validated before the Worker is called.
// The owner of a new job is generated for every StartJob call and returned
// to the caller, who has to present it for every later call on that job.
// It is a lower integration point than the Server type for custom security
// setup or testing.
type Service struct {
	Worker  Worker
	Metrics *Metrics
	Logger  *slog.Logger
}

var _ pb.RunnerServer = (*Service)(nil)

// StartJob starts a new job for a freshly generated owner.
func (s *Service) StartJob(ctx context.Context, req *pb.StartJobRequest) (*pb.StartJobResponse, error) {
	if len(req.GetName()) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "empty command")
	}
	owner := uuid.New()
	command := job.Command{Name: req.GetName(), Args: req.GetArgs()}
	id, err := s.Worker.Start(command, owner)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	principal, _ := PrincipalFromContext(ctx)
	s.logger().Info("job started", "id", id, "owner", owner, "principal", principal, "command", command.Name)
	return &pb.StartJobResponse{JobId: id.String(), OwnerId: owner.String()}, nil
}

// StopJob stops a job, gracefully if requested.
func (s *Service) StopJob(_ context.Context, req *pb.StopJobRequest) (*pb.StopJobResponse, error) {
	id, owner, err := parseJobRef(req.GetJobId(), req.GetOwnerId())
	if err != nil {
		return nil, err
	}
	if err := s.Worker.Stop(id, owner, req.GetGracefully()); err != nil {
		return nil, statusError(err, id)
	}
	return &pb.StopJobResponse{}, nil
}

// QueryJob returns the status of a job. Pid and exit code are only set when
// known.
func (s *Service) QueryJob(_ context.Context, req *pb.QueryJobRequest) (*pb.QueryJobResponse, error) {
	id, owner, err := parseJobRef(req.GetJobId(), req.GetOwnerId())
	if err != nil {
		return nil, err
	}
	info, err := s.Worker.Query(id, owner)
	if err != nil {
		return nil, statusError(err, id)
	}
	return pbQueryJobResponse(info), nil
}

// StreamJob sends the job's output in chunks of at most [ChunkSize] bytes
// until the Worker's reader is exhausted. A read error ends the stream with
// codes.Aborted. The stream is not resumable.
func (s *Service) StreamJob(req *pb.StreamJobRequest, stream pb.Runner_StreamJobServer) error {
	id, owner, err := parseJobRef(req.GetJobId(), req.GetOwnerId())
	if err != nil {
		return err
	}
	ctx := stream.Context()
	r, err := s.Worker.Stream(ctx, id, owner)
	if err != nil {
		return statusError(err, id)
	}
	closeReader := sync.OnceFunc(func() {
		if err := r.Close(); err != nil {
			s.logger().Error("cannot close job output", "id", id, "err", err)
		}
	})
	defer closeReader()
	// Unblocks readers that do not watch ctx themselves.
	stop := context.AfterFunc(ctx, closeReader)
	defer stop()

	for chunk, err := range Chunks(r, ChunkSize) {
		if err != nil {
			if ctx.Err() != nil {
				return status.FromContextError(ctx.Err()).Err()
			}
			s.logger().Error("stream read failure", "id", id, "err", err)
			return status.Errorf(codes.Aborted, "stream read failure: %v", err)
		}
		if err := stream.Send(&pb.StreamJobResponse{Output: chunk}); err != nil {
			return err
		}
		s.Metrics.streamed(len(chunk))
	}
	return nil
}

func pbQueryJobResponse(info job.Info) *pb.QueryJobResponse {
	resp := &pb.QueryJobResponse{Status: info.Status.String()}
	if info.PID != nil {
		pid := int32(*info.PID) //nolint:gosec // pids fit into int32.
		resp.Pid = &pid
	}
	if info.ExitCode != nil {
		code := int32(*info.ExitCode) //nolint:gosec // exit codes fit into int32.
		resp.ExitCode = &code
	}
	return resp
}

// parseJobRef parses the textual job and owner UUIDs of a request.
func parseJobRef(jobID, ownerID string) (uuid.UUID, uuid.UUID, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return uuid.Nil, uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid job_id %q: %v", jobID, err)
	}
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return uuid.Nil, uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid owner_id %q: %v", ownerID, err)
	}
	return id, owner, nil
}

// statusError converts a Worker error to a gRPC status error keeping the
// Worker's message.
func statusError(err error, id uuid.UUID) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, job.ErrNotFound) {
		return status.Errorf(codes.NotFound, "job %s: %v", id, err)
	}
	if errors.Is(err, job.ErrUnauthorized) {
		return status.Errorf(codes.PermissionDenied, "job %s: %v", id, err)
	}
	return status.Errorf(codes.Internal, "job %s: %v", id, err)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
