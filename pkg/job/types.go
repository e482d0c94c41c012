package job

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel Errors returned by the job package.
var (
	ErrCommand      = errors.New("command error")
	ErrNotFound     = errors.New("job not found")
	ErrStop         = errors.New("job stop error")
	ErrShutdown     = errors.New("already shut down")
	ErrUnauthorized = errors.New("unauthorized")
)

// Status is the execution state of a job.
type Status int

// Job states. A job is Running from a successful start until it is reaped,
// then either Exited or Signaled.
const (
	Unknown Status = iota
	Running
	Exited
	Signaled
)

// String returns the lower case name of the status as used on the wire.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	default:
		return "unknown"
	}
}

// Command is an executable name and its arguments.
type Command struct {
	Name string
	Args []string
}

// Info is a point-in-time snapshot of a job.
//
// PID is nil once the process has been reaped. ExitCode is only set for
// Exited jobs.
type Info struct {
	ID       uuid.UUID
	Owner    uuid.UUID
	Command  Command
	Status   Status
	PID      *int
	ExitCode *int
	Started  time.Time
	Stopped  time.Time
}
