package job

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOutputSimple(t *testing.T) {
	t.Parallel()
	out := newOutput()
	_, err := out.Write([]byte("hello"))
	require.NoError(t, err)
	out.close()

	r := out.newReader(context.Background())
	b := make([]byte, 10)
	n, err := r.Read(b)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b[:n]))
	_, err = r.Read(b)
	require.ErrorIs(t, err, io.EOF)
	_, err = r.Read(b)
	require.ErrorIs(t, err, io.EOF)
}

func TestOutputEmpty(t *testing.T) {
	t.Parallel()
	out := newOutput()
	out.close()
	out.close()
	r := out.newReader(context.Background())
	n, err := r.Read(make([]byte, 10))
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 0, n)

	n, err = r.Read(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestOutputWriteCopies(t *testing.T) {
	t.Parallel()
	out := newOutput()
	b := []byte("abc")
	_, err := out.Write(b)
	require.NoError(t, err)
	copy(b, "xyz")
	out.close()
	requireRead(t, out.newReader(context.Background()), 10, "abc")

	_, err = out.Write([]byte("late"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestOutputFollow(t *testing.T) {
	t.Parallel()
	out := newOutput()
	r := out.newReader(context.Background())
	got := make(chan string, 1)
	go func() {
		b, err := io.ReadAll(r)
		if err != nil {
			t.Errorf("TestOutputFollow: %v", err)
		}
		got <- string(b)
	}()

	for _, s := range []string{"a", "b", "c"} {
		_, err := out.Write([]byte(s))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	out.close()
	select {
	case s := <-got:
		require.Equal(t, "abc", s)
	case <-time.After(time.Second):
		t.Fatal("reader did not see the end of output")
	}
}

func TestOutputWithManyReaders(t *testing.T) {
	t.Parallel()
	const readerCount = 100
	const text = "Hello slow, slow world!"

	out := newOutput()
	go writeSlowly(out, text, 10*time.Millisecond)
	wg := &sync.WaitGroup{}
	wg.Add(readerCount)
	for range readerCount {
		r := out.newReader(context.Background())
		go func() {
			sr := &slowReader{r: r, delay: time.Millisecond * 10}
			requireRead(t, sr, 20, text)
			wg.Done()
		}()
	}
	waitWithTimeout(t, wg, time.Second*100)
}

type slowReader struct {
	r     io.Reader
	delay time.Duration
}

func (sr *slowReader) Read(b []byte) (int, error) {
	if sr.delay > 0 {
		randDelay := time.Duration(rand.Int63n(int64(sr.delay)))
		time.Sleep(randDelay)
	}
	return sr.r.Read(b) //nolint:wrapcheck
}

func TestOutputWithCancel(t *testing.T) {
	t.Parallel()
	out := newOutput()
	ctx, cancel := context.WithCancel(context.Background())

	r := out.newReader(ctx)
	errc := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 1))
		errc <- err
	}()
	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("read not unblocked by cancel")
	}

	// other readers still see all output
	_, err := out.Write([]byte("hi"))
	require.NoError(t, err)
	out.close()
	requireRead(t, out.newReader(context.Background()), 1, "hi")
}

func TestOutputClose(t *testing.T) {
	t.Parallel()
	out := newOutput()
	r := out.newReader(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 1))
		errc <- err
	}()
	require.NoError(t, r.Close())
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("read not unblocked by Close")
	}
	_, err := r.Read(make([]byte, 1))
	require.ErrorIs(t, err, context.Canceled)

	go func() {
		_, _ = out.Write([]byte("still here"))
		out.close()
	}()
	requireRead(t, out.newReader(context.Background()), 4, "still here")
}

type delayedTestCase struct {
	name        string
	input       string
	inputDelay  time.Duration
	outputDelay time.Duration
}

func TestOutputWithDelay(t *testing.T) {
	t.Parallel()
	input := "hello"
	delay := time.Millisecond * 20
	longerInput := strings.Repeat(input, 100)
	shortDelay := time.Millisecond
	testCases := []delayedTestCase{
		{"no delay", input, 0, 0},
		{"no input", "", 0, 0},
		{"input delay", input, delay, 0},
		{"output delay", input, 0, delay},
		{"input and output delay", input, delay, delay},
		{"long input", longerInput, shortDelay, shortDelay},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := newOutput()
			go writeSlowly(out, tc.input, tc.inputDelay)
			r := out.newReader(context.Background())
			rs := &slowReader{r: r, delay: tc.outputDelay}
			requireRead(t, rs, 10, tc.input)
		})
	}
}

// writeSlowly writes s one byte at a time and closes out.
func writeSlowly(out *output, s string, delay time.Duration) {
	b := []byte(s)
	for i := range b {
		_, _ = out.Write(b[i : i+1])
		if delay > 0 {
			randDelay := time.Duration(rand.Int63n(int64(delay)))
			time.Sleep(randDelay)
		}
	}
	out.close()
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	c := make(chan struct{})
	go func() {
		wg.Wait()
		close(c)
	}()
	select {
	case <-c:
		return
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for wait group")
	}
}

func requireRead(t *testing.T, r io.Reader, size int, want string) {
	t.Helper()
	b := make([]byte, size)
	got := &strings.Builder{}
	for {
		n, err := r.Read(b)
		if errors.Is(err, io.EOF) {
			if want != got.String() {
				t.Errorf("requireRead: want != got: \nwant: %v\ngot:  %v", want, got) // go-routine safe
			}
			return
		} else if err != nil {
			t.Errorf("requireRead: error: %v", err) // go-routine safe
			return
		}
		got.Write(b[:n])
	}
}
