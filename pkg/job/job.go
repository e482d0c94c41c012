package job

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// waitDelay bounds how long output of left-over child processes is
// collected after the job's own process has exited.
const waitDelay = time.Second

// job is a process with an owner in any execution state. Its ID and owner
// never change after creation.
type job struct {
	mutex sync.Mutex // protects info
	info  Info

	cmd    *exec.Cmd
	output *output
	logger *slog.Logger
}

// newJob starts command in its own process group with stdout and stderr
// captured together.
func newJob(id, owner uuid.UUID, command Command, logger *slog.Logger) (*job, error) {
	out := newOutput()
	cmd := exec.Command(command.Name, command.Args...) //nolint:gosec // G204: running commands is the point.
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: cannot start command %q: %w", ErrCommand, command.Name, err)
	}
	pid := cmd.Process.Pid
	return &job{
		info: Info{
			ID:      id,
			Owner:   owner,
			Command: Command{Name: command.Name, Args: append([]string(nil), command.Args...)},
			Status:  Running,
			PID:     &pid,
			Started: time.Now(),
		},
		cmd:    cmd,
		output: out,
		logger: logger.With("id", id),
	}, nil
}

func (j *job) isRunning() bool {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.info.Status == Running
}

func (j *job) pid() int {
	return j.cmd.Process.Pid
}

// getInfo returns a copy of the job's info that shares no memory with the
// job.
func (j *job) getInfo() Info {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	info := j.info
	info.Command.Args = append([]string(nil), info.Command.Args...)
	info.PID = copyInt(info.PID)
	info.ExitCode = copyInt(info.ExitCode)
	return info
}

// stop signals the job's process group.
func (j *job) stop(graceful bool) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	if j.info.Status != Running {
		j.logger.Info("job already stopped")
		return nil
	}
	sig := syscall.SIGKILL
	if graceful {
		sig = syscall.SIGTERM
	}
	// The process group may be gone already if the job exited concurrently
	// and is about to be reaped.
	if err := syscall.Kill(-j.pid(), sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("%w: cannot signal %s: %w", ErrStop, j.info.ID, err)
	}
	j.logger.Info("job signalled", "signal", sig)
	return nil
}

// wait waits for the job to finish, closes its output and records how it
// ended. It must only be called once per job.
func (j *job) wait() {
	waitErr := j.cmd.Wait()
	// remaining children of the process group
	if err := syscall.Kill(-j.pid(), syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		j.logger.Error("cannot kill process group", "err", err)
	}
	j.output.close()

	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.info.PID = nil
	j.info.Stopped = time.Now()
	state := j.cmd.ProcessState
	if state == nil {
		j.info.Status = Unknown
		j.logger.Error("cannot wait for job", "err", waitErr)
		return
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		j.info.Status = Signaled
		j.logger.Info("job signaled", "signal", ws.Signal())
		return
	}
	code := state.ExitCode()
	j.info.Status = Exited
	j.info.ExitCode = &code
	j.logger.Info("job exited", "exitCode", code)
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
