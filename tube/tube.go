// Package tube provides the dual channel transport between a controller and
// the daemon: a text channel carrying newline delimited messages and a
// descriptor channel carrying one file descriptor per message.
package tube

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/criyle/go-das/pkg/unixsocket"
)

// Tube is the pair of channels owned by one end of the connection
type Tube struct {
	text *os.File
	r    *bufio.Reader
	w    *bufio.Writer
	fd   *unixsocket.Socket
}

// New wraps the already connected textFd and descriptorFd. Both are marked
// close_on_exec. Once the fd numbers are accepted, both belong to the
// returned Tube or are closed on failure.
func New(textFd, descriptorFd int) (*Tube, error) {
	if textFd < 0 || descriptorFd < 0 {
		return nil, fmt.Errorf("tube: invalid fds text=%d descriptor=%d", textFd, descriptorFd)
	}
	if textFd == descriptorFd {
		return nil, fmt.Errorf("tube: text and descriptor channel share fd %d", textFd)
	}

	sock, err := unixsocket.NewSocket(descriptorFd)
	if err != nil {
		unix.Close(textFd)
		return nil, fmt.Errorf("tube: descriptor channel: %w", err)
	}
	return wrap(textFd, sock)
}

// wrap owns textFd and sock from here on
func wrap(textFd int, sock *unixsocket.Socket) (*Tube, error) {
	// nonblocking so that reads go through the runtime poller
	if err := unix.SetNonblock(textFd, true); err != nil {
		unix.Close(textFd)
		sock.Close()
		return nil, fmt.Errorf("tube: text channel fd %d: %w", textFd, err)
	}
	unix.CloseOnExec(textFd)

	text := os.NewFile(uintptr(textFd), "tube-text")
	return &Tube{
		text: text,
		r:    bufio.NewReader(text),
		w:    bufio.NewWriter(text),
		fd:   sock,
	}, nil
}

// NewPair creates two connected Tubes backed by socketpairs
func NewPair() (*Tube, *Tube, error) {
	text, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("tube: socketpair: %w", err)
	}
	da, db, err := unixsocket.NewSocketPair(unix.SOCK_STREAM)
	if err != nil {
		unix.Close(text[0])
		unix.Close(text[1])
		return nil, nil, fmt.Errorf("tube: %w", err)
	}
	a, err := wrap(text[0], da)
	if err != nil {
		unix.Close(text[1])
		db.Close()
		return nil, nil, err
	}
	b, err := wrap(text[1], db)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

// ReadLine returns the next line of the text channel without its newline.
// A final line without newline is returned as is and io.EOF is returned by
// the following call. io.EOF is only returned when no byte was read.
func (t *Tube) ReadLine() ([]byte, error) {
	line, err := t.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	return bytes.TrimSuffix(line, []byte{'\n'}), nil
}

// WriteLine writes b followed by a newline and flushes immediately
func (t *Tube) WriteLine(b []byte) error {
	if _, err := t.w.Write(b); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

// ReceiveDescriptor blocks until one descriptor arrives on the descriptor
// channel. A message without exactly one descriptor yields a
// *unixsocket.ControlError; any other error means the channel is broken.
func (t *Tube) ReceiveDescriptor() (int, error) {
	return t.fd.RecvFd()
}

// SendDescriptor sends fd on the descriptor channel. The caller keeps
// ownership of fd.
func (t *Tube) SendDescriptor(fd int) error {
	return t.fd.SendFd(fd)
}

// Close closes both channels
func (t *Tube) Close() error {
	err1 := t.text.Close()
	err2 := t.fd.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
