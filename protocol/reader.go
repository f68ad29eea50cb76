package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/criyle/go-das/pkg/unixsocket"
)

// LineReader reads the text channel
type LineReader interface {
	ReadLine() ([]byte, error)
}

// DescriptorReceiver reads the descriptor channel
type DescriptorReceiver interface {
	ReceiveDescriptor() (int, error)
}

// Transport is the daemon end of a tube
type Transport interface {
	LineReader
	DescriptorReceiver
}

// Resolve receives one descriptor for every SourceReceive redir of cmd, in
// redir order. On failure the descriptors received so far are released. A
// malformed control message is a *DecodeError, other errors come from the
// descriptor channel itself.
func Resolve(cmd *Command, r DescriptorReceiver) error {
	for i := range cmd.Redirs {
		rd := &cmd.Redirs[i]
		if rd.Source != SourceReceive {
			continue
		}
		fd, err := r.ReceiveDescriptor()
		if err != nil {
			cmd.Release()
			var ce *unixsocket.ControlError
			if errors.As(err, &ce) {
				return &DecodeError{Msg: fmt.Sprintf("descriptor: redirs[%d]: %v", i, err)}
			}
			return fmt.Errorf("receive descriptor: %w", err)
		}
		rd.fd = fd
		rd.received = true
	}
	return nil
}

// Reader reads requests from the daemon end of a tube
type Reader struct {
	t Transport
}

// NewReader creates a Reader over t
func NewReader(t Transport) *Reader {
	return &Reader{t: t}
}

// Next reads the next request and resolves its descriptors. End of stream
// yields Exit. A *DecodeError leaves the reader usable; any other error
// means the tube is broken.
func (r *Reader) Next() (Request, error) {
	line, err := r.t.ReadLine()
	if err == io.EOF {
		return Exit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	req, err := Decode(line)
	if err != nil {
		return nil, err
	}
	if cmd, ok := req.(*Command); ok {
		if err := Resolve(cmd, r.t); err != nil {
			return nil, err
		}
	}
	return req, nil
}
