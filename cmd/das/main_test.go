package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/criyle/go-das/protocol"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "pid", 1)
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected output %q", out)
	}

	for _, tc := range [][2]string{{"loud", "text"}, {"info", "xml"}} {
		if _, err := newLogger(&buf, tc[0], tc[1]); err == nil {
			t.Errorf("newLogger(%q, %q): expected error", tc[0], tc[1])
		}
	}
}

func TestControllerPath(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for arg, want := range map[string]string{
		"":             filepath.Join(wd, "dasc"),
		"bin/ctl":      filepath.Join(wd, "bin/ctl"),
		"/usr/bin/ctl": "/usr/bin/ctl",
	} {
		got, err := controllerPath(arg)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("controllerPath(%q) = %q, want %q", arg, got, want)
		}
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{
		{"--no-such-flag"},
		{"--log-level=loud"},
		{"--log-format=xml"},
		{"a", "b", "c"},
		{"3", "x"},
		{"-1", "4"},
	} {
		err := run(args)
		var ue *usageError
		if !errors.As(err, &ue) {
			t.Errorf("run(%q): expected usage error, got %v", args, err)
		}
	}
}

func TestRun_Bootstrap(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "responses")
	req, err := protocol.EncodeRequest(&protocol.Command{Path: "/bin/true", Argv: []string{"true"}})
	if err != nil {
		t.Fatal(err)
	}

	script := "#!/bin/sh\n" +
		"[ \"$1\" = 3 ] && [ \"$2\" = 4 ] || exit 9\n" +
		"echo '" + string(req) + "' >&3\n" +
		"read -r spawned <&3\n" +
		"read -r state <&3\n" +
		"printf '%s\\n%s\\n' \"$spawned\" \"$state\" > " + out + "\n" +
		"echo '{}' >&3\n"
	ctl := filepath.Join(dir, "ctl")
	if err := os.WriteFile(ctl, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	if err := run([]string{"--log-level=error", ctl}); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected responses %q", b)
	}
	spawned, err := protocol.DecodeResponse([]byte(lines[0]))
	if err != nil {
		t.Fatal(err)
	}
	s, ok := spawned.(protocol.Spawned)
	if !ok {
		t.Fatalf("expected spawned, got %#v", spawned)
	}
	state, err := protocol.DecodeResponse([]byte(lines[1]))
	if err != nil {
		t.Fatal(err)
	}
	if state != (protocol.ProcessState{Pid: s.Pid, Exited: true}) {
		t.Fatalf("unexpected state %#v", state)
	}
}
