package stub

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"syscall"
	"testing"
)

func TestReadFrame(t *testing.T) {
	t.Parallel()
	r := bufio.NewReader(strings.NewReader("d4 /tmpt0 t11 hello worldt0005hellod0004/tmp"))
	want := []Frame{
		{Op: OpChdir, Payload: "/tmp"},
		{Op: OpSetTitle, Payload: ""},
		{Op: OpSetTitle, Payload: "hello world"},
		{Op: OpSetTitle, Payload: "hello"},
		{Op: OpChdir, Payload: "/tmp"},
	}
	for _, w := range want {
		f, err := ReadFrame(r)
		if err != nil {
			t.Fatal(err)
		}
		if f != w {
			t.Errorf("got %#v, want %#v", f, w)
		}
	}
	if _, err := ReadFrame(r); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadFrame_Malformed(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"x1 a",
		"d",
		"d4",
		"d /tmp",
		"dx /tmp",
		"d-1 a",
		"d123456 a",
		"d99999 a",
		"d10 short",
	} {
		_, err := ReadFrame(bufio.NewReader(strings.NewReader(in)))
		var fe *FrameError
		if !errors.As(err, &fe) {
			t.Errorf("ReadFrame(%q): expected *FrameError, got %v", in, err)
		}
	}
}

type recorder struct {
	calls []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		Chdir: func(dir string) error {
			r.calls = append(r.calls, "chdir "+dir)
			if dir == "/missing" {
				return os.ErrNotExist
			}
			return nil
		},
		SetTitle: func(title string) error {
			r.calls = append(r.calls, "title "+title)
			return nil
		},
	}
}

func TestServe(t *testing.T) {
	t.Parallel()
	var rec recorder
	in := "d8 /missingd1 /t20 a very long title xx"
	if err := Serve(strings.NewReader(in), rec.handlers(), slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatal(err)
	}
	want := []string{"chdir /missing", "chdir /", "title a very long tit"}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("got %q, want %q", rec.calls, want)
	}
}

func TestServe_Malformed(t *testing.T) {
	t.Parallel()
	var rec recorder
	err := Serve(strings.NewReader("d1 /q"), rec.handlers(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("frames before the malformed one should be handled, got %q", rec.calls)
	}
}

func TestRelay(t *testing.T) {
	t.Parallel()
	ch := make(chan os.Signal, 4)
	ch <- syscall.SIGINT
	ch <- syscall.SIGURG
	ch <- syscall.SIGWINCH
	close(ch)

	var out bytes.Buffer
	if err := Relay(&out, ch); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "2\n28\n" {
		t.Fatalf("got %q", got)
	}
}
