package stevedore

import (
	"errors"
	"io"
	"iter"
)

// Chunks returns a sequence of the data read from r in chunks of at most
// size bytes. It ends after io.EOF, or after yielding the first other read
// error paired with a nil chunk. Every chunk is a new slice.
//
// The sequence pulls from r only when the consumer asks for the next chunk.
func Chunks(r io.Reader, size int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			buf := make([]byte, size)
			n, err := r.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}
