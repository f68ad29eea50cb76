// Package pipe provides a wrapper to create a pipe and
// collect at most max bytes from the reader side
package pipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Buffer is a pipe whose read end is drained into memory. At most Max+1
// bytes are kept so that truncation can be detected; the rest is discarded
// so the writer never blocks.
type Buffer struct {
	W   *os.File // write end, close it in this process once it is handed out
	Max int64

	buf  bytes.Buffer
	done chan struct{}
	err  error
}

// NewPipe create a pipe with a goroutine to copy at most n bytes of its
// read end to writer and discard the rest
// returns the write end and signal for finish, caller need to close w
func NewPipe(writer io.Writer, n int64) (<-chan error, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("pipe: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		defer r.Close()
		_, err := io.CopyN(writer, r, n)
		if err == io.EOF {
			done <- nil
			return
		}
		if err != nil {
			done <- err
			return
		}
		// ensure no blocking / SIGPIPE on the other end
		_, err = io.Copy(io.Discard, r)
		done <- err
	}()
	return done, w, nil
}

// NewBuffer creates a os pipe collected into memory
// Notice: Wait only returns after every copy of W is closed, including the
// one held by the caller
func NewBuffer(max int64) (*Buffer, error) {
	b := &Buffer{
		Max:  max,
		done: make(chan struct{}),
	}
	errCh, w, err := NewPipe(&b.buf, max+1)
	if err != nil {
		return nil, err
	}
	b.W = w
	go func() {
		b.err = <-errCh
		close(b.done)
	}()
	return b, nil
}

// Done is closed once the read end reached end of file
func (b *Buffer) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the read end reached end of file and returns at most
// Max collected bytes
func (b *Buffer) Wait() ([]byte, error) {
	<-b.done
	out := b.buf.Bytes()
	if int64(len(out)) > b.Max {
		out = out[:b.Max]
	}
	return out, b.err
}

// Truncated reports whether more than Max bytes were written, valid after
// Done is closed
func (b *Buffer) Truncated() bool {
	return int64(b.buf.Len()) > b.Max
}

func (b *Buffer) String() string {
	select {
	case <-b.done:
		return fmt.Sprintf("Buffer[%d/%d]", b.buf.Len(), b.Max)
	default:
		return fmt.Sprintf("Buffer[pending/%d]", b.Max)
	}
}
