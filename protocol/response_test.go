package protocol

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestEncode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		res  Response
		want string
	}{
		{Spawned{Pid: 42}, `{"pid":42}`},
		{
			ProcessState{Pid: 42, Exited: true},
			`{"pid":42,"exited":true,"exitStatus":0,"signaled":false,"coreDump":false,"stopped":false,"continued":false}`,
		},
		{
			ProcessState{Pid: 7, Signaled: true, TermSig: 9, CoreDump: true},
			`{"pid":7,"exited":false,"signaled":true,"termSig":9,"coreDump":true,"stopped":false,"continued":false}`,
		},
		{
			ProcessState{Pid: 7, Stopped: true, StopSig: 19},
			`{"pid":7,"exited":false,"signaled":false,"coreDump":false,"stopped":true,"stopSig":19,"continued":false}`,
		},
		{
			ProcessState{Pid: 7, Continued: true},
			`{"pid":7,"exited":false,"signaled":false,"coreDump":false,"stopped":false,"continued":true}`,
		},
		{BadRequest{Err: `schema: env."A": not a string`}, `{"err":"schema: env.\"A\": not a string"}`},
	}
	for _, tc := range tests {
		got, err := Encode(tc.res)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != tc.want {
			t.Errorf("Encode(%#v) = %s, want %s", tc.res, got, tc.want)
		}
		back, err := DecodeResponse(got)
		if err != nil {
			t.Fatalf("DecodeResponse(%s): %v", got, err)
		}
		if back != tc.res {
			t.Errorf("DecodeResponse(%s) = %#v, want %#v", got, back, tc.res)
		}
	}
}

func TestProcessStateFromWaitStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ws   unix.WaitStatus
		want ProcessState
	}{
		{"exit 0", 0, ProcessState{Pid: 1, Exited: true}},
		{"exit 3", 3 << 8, ProcessState{Pid: 1, Exited: true, ExitStatus: 3}},
		{"killed", unix.WaitStatus(unix.SIGKILL), ProcessState{Pid: 1, Signaled: true, TermSig: int(unix.SIGKILL)}},
		{"core", unix.WaitStatus(unix.SIGSEGV) | 0x80, ProcessState{Pid: 1, Signaled: true, TermSig: int(unix.SIGSEGV), CoreDump: true}},
		{"stopped", 0x7f | unix.WaitStatus(unix.SIGTSTP)<<8, ProcessState{Pid: 1, Stopped: true, StopSig: int(unix.SIGTSTP)}},
		{"continued", 0xffff, ProcessState{Pid: 1, Continued: true}},
	}
	for _, tc := range tests {
		got := ProcessStateFromWaitStatus(1, tc.ws)
		if got != tc.want {
			t.Errorf("%s: got %#v, want %#v", tc.name, got, tc.want)
		}
		if got.Terminal() != (tc.want.Exited || tc.want.Signaled) {
			t.Errorf("%s: Terminal() = %v", tc.name, got.Terminal())
		}
	}
}

func TestDecodeResponse_Invalid(t *testing.T) {
	t.Parallel()
	for _, line := range []string{
		``,
		`[]`,
		`{}`,
		`{"err":1}`,
		`{"err":"x","pid":1}`,
		`{"pid":"1"}`,
		`{"pid":1,"exited":true,"signaled":false,"coreDump":false,"stopped":false,"continued":false}`,
		`{"pid":1,"exited":false,"exitStatus":0,"signaled":false,"coreDump":false,"stopped":false,"continued":false}`,
		`{"pid":1,"exited":true,"exitStatus":0,"signaled":false,"coreDump":false,"stopped":false}`,
		`{"pid":1,"exited":true,"exitStatus":0,"signaled":false,"coreDump":false,"stopped":false,"continued":false,"extra":1}`,
		`{"pid":1,"exited":1,"exitStatus":0,"signaled":false,"coreDump":false,"stopped":false,"continued":false}`,
	} {
		res, err := DecodeResponse([]byte(line))
		var de *DecodeError
		if res != nil || !errors.As(err, &de) {
			t.Errorf("DecodeResponse(%s) = %#v, %v", line, res, err)
		}
	}
}
