// Package stub implements a helper program that children of the daemon may
// exec. It reads control frames on its standard input and relays the
// signals it receives on its standard output.
//
// A frame is <opcode><decimal length> <payload>:
//
//	d4 /tmp    change working directory to /tmp
//	t5 vim .   set the process name to "vim ."
//
// The space may be left out when the payload does not start with a digit,
// so the zero padded form t0005hello is read as well.
//
// Every received signal is written as its number followed by a newline.
package stub

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Opcodes
const (
	OpChdir    = 'd'
	OpSetTitle = 't'
)

const (
	// TitleMax is the longest process name the kernel keeps
	TitleMax = 15
	// PayloadMax bounds the length of a frame payload
	PayloadMax = 1 << 16

	maxLengthDigits = 5
)

// Frame is a single control operation
type Frame struct {
	Op      byte
	Payload string
}

// FrameError is a malformed frame, the stream cannot be resynchronized
type FrameError struct {
	Msg string
}

func (e *FrameError) Error() string {
	return "stub: malformed frame: " + e.Msg
}

// ReadFrame reads one frame. io.EOF is returned only at a frame boundary.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	if op != OpChdir && op != OpSetTitle {
		return Frame{}, &FrameError{Msg: fmt.Sprintf("unknown opcode %q", op)}
	}

	var digits []byte
	for {
		c, err := r.ReadByte()
		if err == io.EOF {
			return Frame{}, &FrameError{Msg: "truncated length"}
		}
		if err != nil {
			return Frame{}, err
		}
		if c == ' ' {
			break
		}
		if c < '0' || c > '9' {
			if len(digits) == 0 {
				return Frame{}, &FrameError{Msg: fmt.Sprintf("bad length byte %q", c)}
			}
			// no separator, c starts the payload
			r.UnreadByte()
			break
		}
		if len(digits) == maxLengthDigits {
			return Frame{}, &FrameError{Msg: fmt.Sprintf("bad length byte %q", c)}
		}
		digits = append(digits, c)
	}
	if len(digits) == 0 {
		return Frame{}, &FrameError{Msg: "missing length"}
	}
	n, _ := strconv.Atoi(string(digits))
	if n > PayloadMax {
		return Frame{}, &FrameError{Msg: fmt.Sprintf("payload length %d exceeds %d", n, PayloadMax)}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return Frame{}, &FrameError{Msg: fmt.Sprintf("truncated payload, want %d bytes", n)}
		}
		return Frame{}, err
	}
	return Frame{Op: op, Payload: string(payload)}, nil
}

// Handlers perform the frame operations
type Handlers struct {
	Chdir    func(dir string) error
	SetTitle func(title string) error
}

// DefaultHandlers act on the current process. SetTitle changes the name of
// the calling thread, so the caller should run on the main thread.
func DefaultHandlers() Handlers {
	return Handlers{
		Chdir:    os.Chdir,
		SetTitle: setTitle,
	}
}

func setTitle(title string) error {
	name, err := unix.BytePtrFromString(title)
	if err != nil {
		return err
	}
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(name)), 0, 0, 0)
}

// Serve handles frames read from r until end of stream. Failed operations
// are logged; a malformed frame ends Serve with a *FrameError.
func Serve(r io.Reader, h Handlers, logger *slog.Logger) error {
	br := bufio.NewReader(r)
	for {
		f, err := ReadFrame(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch f.Op {
		case OpChdir:
			err = h.Chdir(f.Payload)
		case OpSetTitle:
			title := f.Payload
			if len(title) > TitleMax {
				title = title[:TitleMax]
			}
			err = h.SetTitle(title)
		}
		if err != nil {
			logger.Warn("operation failed", "op", string(f.Op), "payload", f.Payload, "err", err)
		}
	}
}

// Relay writes the number of every signal from ch to w until ch is closed.
// SIGURG is skipped, the go runtime uses it for preemption.
func Relay(w io.Writer, ch <-chan os.Signal) error {
	for s := range ch {
		sig, ok := s.(unix.Signal)
		if !ok || sig == unix.SIGURG {
			continue
		}
		if _, err := io.WriteString(w, strconv.Itoa(int(sig))+"\n"); err != nil {
			return fmt.Errorf("relay signal %d: %w", int(sig), err)
		}
	}
	return nil
}
