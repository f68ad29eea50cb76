// Package client is the controller side of the das protocol. It sends
// commands with their descriptors to a daemon and reads back the reported
// process states.
package client

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/criyle/go-das/pkg/pipe"
	"github.com/criyle/go-das/protocol"
	"github.com/criyle/go-das/tube"
)

// RequestError is a request rejected by the daemon
type RequestError struct {
	Msg string
}

func (e *RequestError) Error() string {
	return "bad request: " + e.Msg
}

// Client sends one command at a time over a tube
type Client struct {
	tube *tube.Tube
}

// New creates a Client using the controller end of t
func New(t *tube.Tube) *Client {
	return &Client{tube: t}
}

// Attach creates a Client from the text and descriptor channel numbers
// passed by the daemon as the first two arguments
func Attach(args []string) (*Client, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("attach: want <text-fd> <descriptor-fd>, got %d arguments", len(args))
	}
	textFd, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("attach: text fd: %w", err)
	}
	descriptorFd, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("attach: descriptor fd: %w", err)
	}
	t, err := tube.New(textFd, descriptorFd)
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	return New(t), nil
}

// Start sends cmd followed by files, one for each receive redir in order,
// and returns the pid of the spawned process. The caller keeps ownership of
// files and may close them once Start returns.
func (c *Client) Start(cmd *protocol.Command, files ...*os.File) (int, error) {
	n := 0
	for _, r := range cmd.Redirs {
		if r.Source == protocol.SourceReceive {
			n++
		}
	}
	if n != len(files) {
		return 0, fmt.Errorf("start: %d receive redirs but %d files", n, len(files))
	}

	line, err := protocol.EncodeRequest(cmd)
	if err != nil {
		return 0, fmt.Errorf("start: %w", err)
	}
	// files sent along a line the daemon rejects would stay queued and be
	// taken by the next command
	if _, err := protocol.Decode(line); err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			return 0, &RequestError{Msg: de.Msg}
		}
		return 0, fmt.Errorf("start: %w", err)
	}
	if err := c.tube.WriteLine(line); err != nil {
		return 0, fmt.Errorf("start: send request: %w", err)
	}
	for i, f := range files {
		if err := c.tube.SendDescriptor(int(f.Fd())); err != nil {
			return 0, fmt.Errorf("start: send file %d: %w", i, err)
		}
	}

	res, err := c.Next()
	if err != nil {
		return 0, fmt.Errorf("start: %w", err)
	}
	switch r := res.(type) {
	case protocol.Spawned:
		return r.Pid, nil
	case protocol.BadRequest:
		return 0, &RequestError{Msg: r.Err}
	default:
		return 0, fmt.Errorf("start: unexpected response %#v", res)
	}
}

// Next reads the next response from the daemon
func (c *Client) Next() (protocol.Response, error) {
	line, err := c.tube.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	res, err := protocol.DecodeResponse(line)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return res, nil
}

// Wait reads process states of pid until it exited or was signaled. fn, if
// not nil, is called with every stopped and continued state.
func (c *Client) Wait(pid int, fn func(protocol.ProcessState)) (protocol.ProcessState, error) {
	for {
		res, err := c.Next()
		if err != nil {
			return protocol.ProcessState{}, fmt.Errorf("wait %d: %w", pid, err)
		}
		s, ok := res.(protocol.ProcessState)
		if !ok || s.Pid != pid {
			return protocol.ProcessState{}, fmt.Errorf("wait %d: unexpected response %#v", pid, res)
		}
		if s.Terminal() {
			return s, nil
		}
		if fn != nil {
			fn(s)
		}
	}
}

// Run starts cmd and waits for it to finish
func (c *Client) Run(cmd *protocol.Command, files ...*os.File) (protocol.ProcessState, error) {
	pid, err := c.Start(cmd, files...)
	if err != nil {
		return protocol.ProcessState{}, err
	}
	return c.Wait(pid, nil)
}

// Output runs cmd with its standard output redirected to a pipe and returns
// at most max bytes of what it wrote
func (c *Client) Output(cmd *protocol.Command, max int64, files ...*os.File) ([]byte, protocol.ProcessState, error) {
	buf, err := pipe.NewBuffer(max)
	if err != nil {
		return nil, protocol.ProcessState{}, err
	}

	out := *cmd
	out.Redirs = append(append([]protocol.Redir{}, cmd.Redirs...), protocol.Redir{Target: 1, Source: protocol.SourceReceive})
	state, err := c.Run(&out, append(append([]*os.File{}, files...), buf.W)...)
	buf.W.Close()
	if err != nil {
		return nil, state, err
	}

	b, err := buf.Wait()
	if err != nil {
		return nil, state, fmt.Errorf("output: %w", err)
	}
	return b, state, nil
}

// Exit asks the daemon to shut down
func (c *Client) Exit() error {
	line, err := protocol.EncodeRequest(protocol.Exit{})
	if err != nil {
		return err
	}
	return c.tube.WriteLine(line)
}

// Close closes the tube
func (c *Client) Close() error {
	return c.tube.Close()
}
