// Package daemon serves spawn requests from a single controller over a
// tube. Each command is forked, executed and waited on before the next
// request is read.
package daemon

/*
Controller / Daemon Communication Protocol (single thread):

- command (spawn a program):
  - send: one JSON line, then one descriptor per receive redir in redir order
  - reply:
    - success: {"pid"}, then one process state per wait4 status until the
      process is gone (stopped / continued are not terminal)
    - failed: {"err"} (malformed line or descriptor message)
- exit (shut down), also implied by end of stream:
  - send: {} / {"exit":{}}
  - reply:

A program that cannot be executed is reported as an exit with status 127
(not found) or 126. Any text channel error, descriptor socket error, fork
or wait failure causes Serve to return.
*/

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/criyle/go-das/protocol"
)

// Tube is the daemon end of the transport
type Tube interface {
	protocol.Transport
	WriteLine([]byte) error
}

// Daemon serves requests read from its tube
type Daemon struct {
	tube   Tube
	reader *protocol.Reader
	logger *slog.Logger
}

// Option configures a Daemon
type Option func(*Daemon)

// WithLogger sets the logger, it is tagged with the daemon pid
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) {
		d.logger = l
	}
}

// New creates a Daemon serving t
func New(t Tube, opts ...Option) *Daemon {
	d := &Daemon{
		tube:   t,
		reader: protocol.NewReader(t),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With("root_pid", os.Getpid())
	return d
}

// Serve handles requests until Exit or end of stream, which return nil.
// Malformed requests are answered with BadRequest.
func (d *Daemon) Serve() error {
	d.logger.Info("serving")
	for {
		req, err := d.reader.Next()
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			d.logger.Warn("bad request", "err", de.Msg)
			if err := d.send(protocol.BadRequest{Err: de.Msg}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}

		switch r := req.(type) {
		case protocol.Exit:
			d.logger.Info("exit requested")
			return nil

		case *protocol.Command:
			if err := d.run(r); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

		default:
			return fmt.Errorf("serve: unknown request %T", req)
		}
	}
}

// run spawns cmd and supervises it until it is reclaimed
func (d *Daemon) run(cmd *protocol.Command) error {
	defer cmd.Release()

	pid, err := d.spawn(cmd)
	if err != nil {
		return err
	}
	return d.supervise(pid, cmd.Path)
}

func (d *Daemon) send(res protocol.Response) error {
	b, err := protocol.Encode(res)
	if err != nil {
		return err
	}
	if err := d.tube.WriteLine(b); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}
