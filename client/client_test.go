package client

import (
	"errors"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/criyle/go-das/daemon"
	"github.com/criyle/go-das/protocol"
	"github.com/criyle/go-das/tube"
)

func newClient(t *testing.T) (*Client, <-chan error) {
	t.Helper()
	d, c, err := tube.NewPair()
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		err := daemon.New(d).Serve()
		d.Close()
		done <- err
	}()
	cl := New(c)
	t.Cleanup(func() { cl.Close() })
	return cl, done
}

func shutdown(t *testing.T, c *Client, done <-chan error) {
	t.Helper()
	if err := c.Exit(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for daemon")
	}
}

func TestRun(t *testing.T) {
	t.Parallel()
	c, done := newClient(t)

	s, err := c.Run(&protocol.Command{Path: "/bin/sh", Argv: []string{"sh", "-c", "exit 7"}})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Exited || s.ExitStatus != 7 {
		t.Fatalf("unexpected state %#v", s)
	}
	shutdown(t, c, done)
}

func TestOutput(t *testing.T) {
	t.Parallel()
	c, done := newClient(t)

	out, s, err := c.Output(&protocol.Command{
		Path: "/bin/sh",
		Argv: []string{"sh", "-c", "echo $A-$B"},
		Env:  map[string]string{"A": "x", "B": "y"},
	}, 64)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Exited || s.ExitStatus != 0 {
		t.Fatalf("unexpected state %#v", s)
	}
	if string(out) != "x-y\n" {
		t.Fatalf("got %q", out)
	}
	shutdown(t, c, done)
}

func TestOutput_WithStdin(t *testing.T) {
	t.Parallel()
	c, done := newClient(t)

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("from file\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}

	out, _, err := c.Output(&protocol.Command{
		Path:   "/bin/cat",
		Argv:   []string{"cat"},
		Redirs: []protocol.Redir{{Target: 0, Source: protocol.SourceReceive}},
	}, 64, f)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "from file\n" {
		t.Fatalf("got %q", out)
	}
	shutdown(t, c, done)
}

func TestWait_StopContinue(t *testing.T) {
	t.Parallel()
	c, done := newClient(t)

	pid, err := c.Start(&protocol.Command{Path: "/bin/sh", Argv: []string{"sh", "-c", "kill -STOP $$"}})
	if err != nil {
		t.Fatal(err)
	}
	var seen []protocol.ProcessState
	s, err := c.Wait(pid, func(s protocol.ProcessState) {
		seen = append(seen, s)
		if s.Stopped {
			unix.Kill(pid, unix.SIGCONT)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) == 0 || !seen[0].Stopped || seen[0].StopSig != int(unix.SIGSTOP) {
		t.Fatalf("expected stopped state first, got %#v", seen)
	}
	if !s.Exited {
		t.Fatalf("unexpected final state %#v", s)
	}
	shutdown(t, c, done)
}

func TestStart_BadRequest(t *testing.T) {
	t.Parallel()
	c, done := newClient(t)

	_, err := c.Start(&protocol.Command{
		Path:   "/bin/true",
		Env:    map[string]string{"A=B": "x"},
		Redirs: []protocol.Redir{},
	})
	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RequestError, got %v", err)
	}
	shutdown(t, c, done)
}

func TestStart_RejectedKeepsFiles(t *testing.T) {
	t.Parallel()
	c, done := newClient(t)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	_, err = c.Start(&protocol.Command{
		Path:   "/bin/true",
		Argv:   []string{"true"},
		Redirs: []protocol.Redir{{Target: -1, Source: protocol.SourceReceive}},
	}, w)
	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RequestError, got %v", err)
	}

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, _, err := c.Output(&protocol.Command{Path: "/bin/echo", Argv: []string{"echo", "hi"}}, 100)
		ch <- result{out, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatal(res.err)
		}
		if string(res.out) != "hi\n" {
			t.Fatalf("got %q", res.out)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for output")
	}
	shutdown(t, c, done)
}

func TestStart_FileCount(t *testing.T) {
	t.Parallel()
	c, done := newClient(t)

	_, err := c.Start(&protocol.Command{
		Path:   "/bin/true",
		Redirs: []protocol.Redir{{Target: 0, Source: protocol.SourceReceive}},
	})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	shutdown(t, c, done)
}

func TestAttach_Invalid(t *testing.T) {
	t.Parallel()
	for _, args := range [][]string{nil, {"3"}, {"x", "4"}, {"3", "y"}} {
		if _, err := Attach(args); err == nil {
			t.Errorf("Attach(%q): expected error", args)
		}
	}
}
