package pb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// StartJobRequest asks the runner to start the command Name with Args.
type StartJobRequest struct {
	Name string
	Args []string
}

// GetName returns the command name.
func (m *StartJobRequest) GetName() string {
	if m == nil {
		return ""
	}
	return m.Name
}

// GetArgs returns the command arguments.
func (m *StartJobRequest) GetArgs() []string {
	if m == nil {
		return nil
	}
	return m.Args
}

// Marshal implements [Message].
func (m *StartJobRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.GetName())
	for _, arg := range m.GetArgs() {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, arg)
	}
	return b, nil
}

// Unmarshal implements [Message].
func (m *StartJobRequest) Unmarshal(b []byte) error {
	*m = StartJobRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return skipField
		}
		switch num {
		case 1:
			v, n := consumeString(b)
			m.Name = v
			return n
		case 2:
			v, n := consumeString(b)
			if n >= 0 {
				m.Args = append(m.Args, v)
			}
			return n
		}
		return skipField
	})
}

// StartJobResponse carries the identifiers of a started job. OwnerId must be
// presented on every later request for the job.
type StartJobResponse struct {
	JobId   string
	OwnerId string
}

// GetJobId returns the job ID.
func (m *StartJobResponse) GetJobId() string {
	if m == nil {
		return ""
	}
	return m.JobId
}

// GetOwnerId returns the owner ID.
func (m *StartJobResponse) GetOwnerId() string {
	if m == nil {
		return ""
	}
	return m.OwnerId
}

// Marshal implements [Message].
func (m *StartJobResponse) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.GetJobId())
	return appendString(b, 2, m.GetOwnerId()), nil
}

// Unmarshal implements [Message].
func (m *StartJobResponse) Unmarshal(b []byte) error {
	*m = StartJobResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		return consumeJobRef(num, typ, b, &m.JobId, &m.OwnerId)
	})
}

// StopJobRequest asks the runner to stop a job. Gracefully requests
// cooperative termination, otherwise the job is killed.
type StopJobRequest struct {
	JobId      string
	OwnerId    string
	Gracefully bool
}

// GetJobId returns the job ID.
func (m *StopJobRequest) GetJobId() string {
	if m == nil {
		return ""
	}
	return m.JobId
}

// GetOwnerId returns the owner ID.
func (m *StopJobRequest) GetOwnerId() string {
	if m == nil {
		return ""
	}
	return m.OwnerId
}

// GetGracefully reports whether a graceful stop is requested.
func (m *StopJobRequest) GetGracefully() bool {
	if m == nil {
		return false
	}
	return m.Gracefully
}

// Marshal implements [Message].
func (m *StopJobRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.GetJobId())
	b = appendString(b, 2, m.GetOwnerId())
	return appendBool(b, 3, m.GetGracefully()), nil
}

// Unmarshal implements [Message].
func (m *StopJobRequest) Unmarshal(b []byte) error {
	*m = StopJobRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 3 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.Gracefully = protowire.DecodeBool(v)
			return n
		}
		return consumeJobRef(num, typ, b, &m.JobId, &m.OwnerId)
	})
}

// StopJobResponse is empty.
type StopJobResponse struct{}

// Marshal implements [Message].
func (m *StopJobResponse) Marshal() ([]byte, error) {
	return nil, nil
}

// Unmarshal implements [Message].
func (m *StopJobResponse) Unmarshal(b []byte) error {
	return consumeFields(b, func(protowire.Number, protowire.Type, []byte) int { return skipField })
}

// QueryJobRequest asks for a point-in-time view of a job.
type QueryJobRequest struct {
	JobId   string
	OwnerId string
}

// GetJobId returns the job ID.
func (m *QueryJobRequest) GetJobId() string {
	if m == nil {
		return ""
	}
	return m.JobId
}

// GetOwnerId returns the owner ID.
func (m *QueryJobRequest) GetOwnerId() string {
	if m == nil {
		return ""
	}
	return m.OwnerId
}

// Marshal implements [Message].
func (m *QueryJobRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.GetJobId())
	return appendString(b, 2, m.GetOwnerId()), nil
}

// Unmarshal implements [Message].
func (m *QueryJobRequest) Unmarshal(b []byte) error {
	*m = QueryJobRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		return consumeJobRef(num, typ, b, &m.JobId, &m.OwnerId)
	})
}

// QueryJobResponse reports a job's status. Pid and ExitCode are nil when
// they carry no meaning for the current status.
type QueryJobResponse struct {
	Status   string
	Pid      *int32
	ExitCode *int32
}

// GetStatus returns the status string.
func (m *QueryJobResponse) GetStatus() string {
	if m == nil {
		return ""
	}
	return m.Status
}

// GetPid returns the process ID, or 0 if absent.
func (m *QueryJobResponse) GetPid() int32 {
	if m == nil || m.Pid == nil {
		return 0
	}
	return *m.Pid
}

// GetExitCode returns the exit code, or 0 if absent.
func (m *QueryJobResponse) GetExitCode() int32 {
	if m == nil || m.ExitCode == nil {
		return 0
	}
	return *m.ExitCode
}

// Marshal implements [Message].
func (m *QueryJobResponse) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.GetStatus())
	if m == nil {
		return b, nil
	}
	b = appendOptionalInt32(b, 2, m.Pid)
	return appendOptionalInt32(b, 3, m.ExitCode), nil
}

// Unmarshal implements [Message].
func (m *QueryJobResponse) Unmarshal(b []byte) error {
	*m = QueryJobResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := consumeString(b)
			m.Status = v
			return n
		case num == 2 && typ == protowire.VarintType:
			v, n := consumeInt32(b)
			m.Pid = v
			return n
		case num == 3 && typ == protowire.VarintType:
			v, n := consumeInt32(b)
			m.ExitCode = v
			return n
		}
		return skipField
	})
}

// StreamJobRequest opens a job's output stream.
type StreamJobRequest struct {
	JobId   string
	OwnerId string
}

// GetJobId returns the job ID.
func (m *StreamJobRequest) GetJobId() string {
	if m == nil {
		return ""
	}
	return m.JobId
}

// GetOwnerId returns the owner ID.
func (m *StreamJobRequest) GetOwnerId() string {
	if m == nil {
		return ""
	}
	return m.OwnerId
}

// Marshal implements [Message].
func (m *StreamJobRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.GetJobId())
	return appendString(b, 2, m.GetOwnerId()), nil
}

// Unmarshal implements [Message].
func (m *StreamJobRequest) Unmarshal(b []byte) error {
	*m = StreamJobRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		return consumeJobRef(num, typ, b, &m.JobId, &m.OwnerId)
	})
}

// StreamJobResponse carries one chunk of job output.
type StreamJobResponse struct {
	Output []byte
}

// GetOutput returns the output chunk.
func (m *StreamJobResponse) GetOutput() []byte {
	if m == nil {
		return nil
	}
	return m.Output
}

// Marshal implements [Message].
func (m *StreamJobResponse) Marshal() ([]byte, error) {
	return appendBytes(nil, 1, m.GetOutput()), nil
}

// Unmarshal implements [Message].
func (m *StreamJobResponse) Unmarshal(b []byte) error {
	*m = StreamJobResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := consumeBytes(b)
			m.Output = v
			return n
		}
		return skipField
	})
}

// consumeJobRef decodes the job_id=1 and owner_id=2 fields shared by most
// runner messages.
func consumeJobRef(num protowire.Number, typ protowire.Type, b []byte, jobID, ownerID *string) int {
	if typ != protowire.BytesType {
		return skipField
	}
	switch num {
	case 1:
		v, n := consumeString(b)
		*jobID = v
		return n
	case 2:
		v, n := consumeString(b)
		*ownerID = v
		return n
	}
	return skipField
}
