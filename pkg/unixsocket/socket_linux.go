// Package unixsocket provides wrapper for Linux unix socket to send and recv oob messages
// carrying file descriptors.
package unixsocket

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// oob size default to page size
const oobSize = 4 << 10 // 4kb

// Socket wrappers a unix socket connection
type Socket struct {
	*net.UnixConn
	sendBuff []byte
	recvBuff []byte
}

// Msg is the oob msg with the message
type Msg struct {
	Fds []int // unix rights
}

// ControlError reports a control message that did not carry exactly one
// descriptor. The socket stays usable after it.
type ControlError struct {
	Reason string
	Len    int // length of the received control data
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("RecvFd: %s (control length %d, want %d)", e.Reason, e.Len, unix.CmsgSpace(4))
}

func newSocket(conn *net.UnixConn) *Socket {
	return &Socket{
		UnixConn: conn,
		sendBuff: make([]byte, oobSize),
		recvBuff: make([]byte, oobSize),
	}
}

// NewSocket creates Socket conn struct using existing unix socket fd
// creates by socketpair or net.DialUnix and mark it as close_on_exec (avoid fd leak)
// A non negative fd is owned by NewSocket: it belongs to the returned Socket
// or is closed on failure.
func NewSocket(fd int) (*Socket, error) {
	if fd < 0 {
		return nil, fmt.Errorf("NewSocket: %d is not a valid fd", fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("NewSocket: set nonblock on %d: %w", fd, err)
	}
	unix.CloseOnExec(fd)

	// FileConn dups the fd
	file := os.NewFile(uintptr(fd), "unix-socket")
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("NewSocket: %w", err)
	}

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("NewSocket: %d is not a valid unix socket connection", fd)
	}
	return newSocket(unixConn), nil
}

// NewSocketPair creates connected unix socketpair of the given type
// (unix.SOCK_STREAM or unix.SOCK_SEQPACKET)
func NewSocketPair(typ int) (*Socket, *Socket, error) {
	fd, err := unix.Socketpair(unix.AF_UNIX, typ|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("NewSocketPair: failed to call socketpair %w", err)
	}

	ins, err := NewSocket(fd[0])
	if err != nil {
		unix.Close(fd[1])
		return nil, nil, fmt.Errorf("NewSocketPair: failed to call NewSocket on sender %w", err)
	}

	outs, err := NewSocket(fd[1])
	if err != nil {
		ins.Close()
		return nil, nil, fmt.Errorf("NewSocketPair: failed to call NewSocket receiver %w", err)
	}

	return ins, outs, nil
}

// SendMsg sendmsg to unix socket and encode possible unix rights
func (s *Socket) SendMsg(b []byte, m Msg) error {
	oob := bytes.NewBuffer(s.sendBuff[:0])
	if len(m.Fds) > 0 {
		oob.Write(unix.UnixRights(m.Fds...))
	}

	_, _, err := s.WriteMsgUnix(b, oob.Bytes(), nil)
	if err != nil {
		return err
	}
	return nil
}

// SendFd sends a single data byte carrying fd as its only unix right
func (s *Socket) SendFd(fd int) error {
	if err := s.SendMsg([]byte{0}, Msg{Fds: []int{fd}}); err != nil {
		return fmt.Errorf("SendFd: %w", err)
	}
	return nil
}

// RecvFd receives one data byte with control space for exactly one fd.
// Control data that is absent, truncated or carries any other number of fds
// is reported as *ControlError and every fd that did arrive is closed.
// io.EOF is returned when the peer has closed the connection.
func (s *Socket) RecvFd() (int, error) {
	var b [1]byte
	oob := s.recvBuff[:unix.CmsgSpace(4)]
	n, oobn, flags, _, err := s.ReadMsgUnix(b[:], oob)
	if errors.Is(err, io.EOF) {
		return -1, io.EOF
	}
	if err != nil {
		return -1, err
	}
	if n == 0 && oobn == 0 {
		return -1, io.EOF
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, &ControlError{Reason: "malformed control message: " + err.Error(), Len: oobn}
	}
	msg, err := parseMsg(msgs)
	if err != nil {
		return -1, &ControlError{Reason: "malformed unix rights: " + err.Error(), Len: oobn}
	}
	for _, fd := range msg.Fds {
		unix.CloseOnExec(fd)
	}

	switch {
	case flags&unix.MSG_CTRUNC != 0:
		closeFds(msg.Fds)
		return -1, &ControlError{Reason: "control message truncated", Len: oobn}

	case len(msgs) != 1 || len(msg.Fds) != 1:
		closeFds(msg.Fds)
		return -1, &ControlError{Reason: fmt.Sprintf("got %d fds in %d control messages", len(msg.Fds), len(msgs)), Len: oobn}
	}
	return msg.Fds[0], nil
}

func parseMsg(msgs []unix.SocketControlMessage) (msg Msg, err error) {
	defer func() {
		if err != nil {
			closeFds(msg.Fds)
			msg.Fds = nil
		}
	}()
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			return msg, err
		}
		msg.Fds = append(msg.Fds, fds...)
	}
	return msg, nil
}

func closeFds(fds []int) {
	for _, f := range fds {
		unix.Close(f)
	}
}
