package protocol

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sys/unix"
)

// Response is a message sent by the daemon, one of Spawned, ProcessState or
// BadRequest
type Response interface {
	isResponse()
}

// Spawned reports the pid of a newly forked command
type Spawned struct {
	Pid int
}

// ProcessState reports one state change of a spawned command. Only the
// fields of the kind whose flag is set are meaningful, the others are zero.
type ProcessState struct {
	Pid        int
	Exited     bool
	ExitStatus int
	Signaled   bool
	TermSig    int
	CoreDump   bool
	Stopped    bool
	StopSig    int
	Continued  bool
}

// BadRequest reports a malformed request
type BadRequest struct {
	Err string
}

func (Spawned) isResponse()      {}
func (ProcessState) isResponse() {}
func (BadRequest) isResponse()   {}

// Terminal reports whether s is the last state of the process
func (s ProcessState) Terminal() bool {
	return s.Exited || s.Signaled
}

// ProcessStateFromWaitStatus converts a status returned by wait4
func ProcessStateFromWaitStatus(pid int, ws unix.WaitStatus) ProcessState {
	s := ProcessState{Pid: pid}
	switch {
	case ws.Exited():
		s.Exited = true
		s.ExitStatus = ws.ExitStatus()
	case ws.Signaled():
		s.Signaled = true
		s.TermSig = int(ws.Signal())
		s.CoreDump = ws.CoreDump()
	case ws.Stopped():
		s.Stopped = true
		s.StopSig = int(ws.StopSignal())
	case ws.Continued():
		s.Continued = true
	}
	return s
}

// encoder builds a JSON object with keys in insertion order
type encoder struct {
	b   []byte
	err error
}

func newEncoder() *encoder {
	return &encoder{b: []byte("{}")}
}

func (e *encoder) set(path string, v interface{}) {
	if e.err != nil {
		return
	}
	e.b, e.err = sjson.SetBytes(e.b, path, v)
}

func (e *encoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", e.err)
	}
	return e.b, nil
}

// Encode formats res as one line of the text channel, without the trailing
// newline
func Encode(res Response) ([]byte, error) {
	e := newEncoder()
	switch r := res.(type) {
	case Spawned:
		e.set("pid", r.Pid)
	case ProcessState:
		e.set("pid", r.Pid)
		e.set("exited", r.Exited)
		if r.Exited {
			e.set("exitStatus", r.ExitStatus)
		}
		e.set("signaled", r.Signaled)
		if r.Signaled {
			e.set("termSig", r.TermSig)
		}
		e.set("coreDump", r.CoreDump)
		e.set("stopped", r.Stopped)
		if r.Stopped {
			e.set("stopSig", r.StopSig)
		}
		e.set("continued", r.Continued)
	case BadRequest:
		e.set("err", r.Err)
	default:
		return nil, fmt.Errorf("protocol: unknown response %T", res)
	}
	return e.bytes()
}

// DecodeResponse parses one line sent by the daemon
func DecodeResponse(line []byte) (Response, error) {
	if !gjson.ValidBytes(line) {
		return nil, &DecodeError{Msg: "json: invalid document"}
	}
	fields, err := objectFields("", gjson.ParseBytes(line))
	if err != nil {
		return nil, err
	}

	if v, ok := fields["err"]; ok {
		if len(fields) != 1 {
			return nil, schemaError("", "err must be the only key")
		}
		s, err := stringValue("err", v)
		if err != nil {
			return nil, err
		}
		return BadRequest{Err: s}, nil
	}

	v, ok := fields["pid"]
	if !ok {
		return nil, schemaError("", "missing key %q", "pid")
	}
	pid, err := intValue("pid", v)
	if err != nil {
		return nil, err
	}
	if len(fields) == 1 {
		return Spawned{Pid: pid}, nil
	}
	state, err := decodeProcessState(pid, fields)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func decodeProcessState(pid int, fields map[string]gjson.Result) (ProcessState, error) {
	s := ProcessState{Pid: pid}
	flags := []struct {
		key  string
		dst  *bool
		opt  string
		optV *int
	}{
		{"exited", &s.Exited, "exitStatus", &s.ExitStatus},
		{"signaled", &s.Signaled, "termSig", &s.TermSig},
		{"coreDump", &s.CoreDump, "", nil},
		{"stopped", &s.Stopped, "stopSig", &s.StopSig},
		{"continued", &s.Continued, "", nil},
	}
	known := 1
	for _, f := range flags {
		v, ok := fields[f.key]
		if !ok {
			return s, schemaError("", "missing key %q", f.key)
		}
		if !v.IsBool() {
			return s, schemaError(f.key, "not a bool")
		}
		*f.dst = v.Bool()
		known++
		if f.opt == "" {
			continue
		}
		ov, present := fields[f.opt]
		if present != *f.dst {
			return s, schemaError(f.opt, "present must equal %s", f.key)
		}
		if present {
			n, err := intValue(f.opt, ov)
			if err != nil {
				return s, err
			}
			*f.optV = n
			known++
		}
	}
	if known != len(fields) {
		return s, schemaError("", "unknown key in process state")
	}
	return s, nil
}
