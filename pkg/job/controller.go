// Package job provides a local process Worker for the stevedore service.
//
// It provides methods to manage jobs:
//   - Start: Creates and starts a new job for an owner.
//   - Stop: Terminates a running job, gracefully or immediately.
//   - Query: Returns a snapshot of a job.
//   - Stream: Returns a reader over the combined output of a job.
//
// ## Job Access:
// Started jobs may only be accessed by presenting their owner.
//
// ## Output:
// Standard output and standard error are captured together. Every stream
// reads the output from its beginning and follows it until the job exits.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// The Controller manages the jobs of a stevedore service.
type Controller struct {
	mutex    sync.Mutex
	wg       sync.WaitGroup
	jobs     map[uuid.UUID]*job
	shutDown bool
	logger   *slog.Logger
}

// NewController creates a new Controller with the given options.
func NewController(opts ...Option) *Controller {
	controller := &Controller{
		jobs:   make(map[uuid.UUID]*job),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(controller)
	}
	return controller
}

// Option is a functional option for the Controller.
type Option func(*Controller)

// WithLogger sets the logger for job lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Start starts a new job running command for the given owner. It returns the
// ID of the newly started job.
func (c *Controller) Start(command Command, owner uuid.UUID) (uuid.UUID, error) {
	if len(command.Name) == 0 {
		return uuid.Nil, fmt.Errorf("%w: empty command", ErrCommand)
	}
	if c.isShutDown() {
		return uuid.Nil, fmt.Errorf("cannot start command: %w", ErrShutdown)
	}
	id := uuid.New()
	job, err := newJob(id, owner, command, c.logger)
	if err != nil {
		return uuid.Nil, err
	}

	c.add(job) // synchronized with c.mutex

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		job.wait()
	}()
	c.logger.Info("job started", "id", id, "command", command.Name, "pid", job.pid())
	return id, nil
}

// Stop terminates the job's process group: with SIGTERM if graceful is set,
// with SIGKILL otherwise. Stopping a job that is no longer running is a
// no-op.
func (c *Controller) Stop(id, owner uuid.UUID, graceful bool) error {
	job, err := c.get(id, owner)
	if err != nil {
		return err
	}
	return job.stop(graceful)
}

// Query returns a snapshot of the job. If the job does not exist or the
// owner does not match, an error is returned.
func (c *Controller) Query(id, owner uuid.UUID) (Info, error) {
	job, err := c.get(id, owner)
	if err != nil {
		return Info{}, err
	}
	return job.getInfo(), nil
}

// Stream returns a reader over the job's combined output, from the first
// byte. Read blocks until more output is available and returns io.EOF once
// the job has exited and all output has been read. Closing the reader or
// cancelling ctx unblocks a pending Read.
func (c *Controller) Stream(ctx context.Context, id, owner uuid.UUID) (io.ReadCloser, error) {
	job, err := c.get(id, owner)
	if err != nil {
		return nil, err
	}
	return job.output.newReader(ctx), nil
}

// StopAll kills all running jobs and waits for them to be reaped.
//
// This method should be called only during shutdown. It holds the
// controller's lock for the duration of the process.
func (c *Controller) StopAll() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.shutDown {
		c.logger.Info("already shut down")
		return nil
	}
	c.shutDown = true

	errs := []error{}
	for _, job := range c.jobs {
		if job.isRunning() {
			if err := job.stop(false); err != nil {
				errs = append(errs, err)
			}
		}
	}
	c.wg.Wait() // wait for all jobs to terminate.
	return errors.Join(errs...)
}

// add adds a job to the controller's job map.
func (c *Controller) add(job *job) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.jobs[job.info.ID] = job
}

// get retrieves a job and verifies that owner has access to it.
func (c *Controller) get(id, owner uuid.UUID) (*job, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if job.info.Owner != owner {
		return nil, fmt.Errorf("%w: owner %s does not have access to job %s", ErrUnauthorized, owner, id)
	}
	return job, nil
}

func (c *Controller) isShutDown() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.shutDown
}
