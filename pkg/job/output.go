package job

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// output holds the combined output of a job. The job's process writes to
// it; any number of readers follow it, each at its own offset. Nothing
// runs in the background: readers wait on a channel that is closed and
// replaced whenever output is appended or the output is closed.
type output struct {
	mutex   sync.Mutex
	buf     []byte
	closed  bool
	changed chan struct{}
}

func newOutput() *output {
	return &output{changed: make(chan struct{})}
}

// Write appends a copy of b. Writing to a closed output fails with
// io.ErrClosedPipe.
func (o *output) Write(b []byte) (int, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.closed {
		return 0, io.ErrClosedPipe
	}
	o.buf = append(o.buf, b...)
	o.notify()
	return len(b), nil
}

// close marks the end of the output. Readers receive io.EOF once they have
// read everything. Closing twice is a no-op.
func (o *output) close() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.notify()
}

// notify wakes all waiting readers. o.mutex must be held.
func (o *output) notify() {
	close(o.changed)
	o.changed = make(chan struct{})
}

// readAt copies output starting at offset into p. If there is nothing to
// copy, it reports whether the output is closed and returns the channel to
// wait on for a change.
func (o *output) readAt(p []byte, offset int) (int, bool, <-chan struct{}) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if offset < len(o.buf) {
		return copy(p, o.buf[offset:]), false, nil
	}
	return 0, o.closed, o.changed
}

// newReader creates an independent reader starting at the first byte of
// output. Cancelling ctx or closing the reader makes pending and subsequent
// reads fail.
func (o *output) newReader(ctx context.Context) io.ReadCloser {
	ctx, cancel := context.WithCancel(ctx)
	return &outputReader{output: o, ctx: ctx, cancel: cancel}
}

type outputReader struct {
	output *output
	offset int
	ctx    context.Context //nolint:containedctx // The context is used to cancel Read.
	cancel context.CancelFunc
}

// Read returns the output following the reader's offset, waiting for more
// if it has read everything so far. It returns io.EOF at the end of the
// output of an exited job.
func (r *outputReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, fmt.Errorf("output reader done: %w", err)
		}
		n, closed, changed := r.output.readAt(p, r.offset)
		if n > 0 {
			r.offset += n
			return n, nil
		}
		if closed {
			return 0, io.EOF
		}
		select {
		case <-r.ctx.Done():
		case <-changed:
		}
	}
}

// Close releases the reader. Reads after Close fail.
func (r *outputReader) Close() error {
	r.cancel()
	return nil
}
