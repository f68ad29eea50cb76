package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sys/unix"
)

// Request is a message sent by the controller, either *Command or Exit
type Request interface {
	isRequest()
}

// Command asks the daemon to spawn a program and report its state changes.
// Descriptors received for its redirs are owned by the Command until Release.
type Command struct {
	Path   string
	Argv   []string
	Env    map[string]string
	Redirs []Redir
}

// Exit asks the daemon to shut down
type Exit struct{}

func (*Command) isRequest() {}
func (Exit) isRequest()     {}

// Environ renders Env as sorted KEY=VALUE entries
func (c *Command) Environ() []string {
	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Release closes every received descriptor still owned by c. It is safe to
// call more than once.
func (c *Command) Release() {
	for i := range c.Redirs {
		r := &c.Redirs[i]
		if r.received {
			unix.Close(r.fd)
			r.fd = 0
			r.received = false
		}
	}
}

// DecodeError is a malformed request. The daemon reports it to the
// controller and keeps serving.
type DecodeError struct {
	Msg string
}

func (e *DecodeError) Error() string {
	return e.Msg
}

func schemaError(path, format string, args ...interface{}) *DecodeError {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	return &DecodeError{Msg: "schema: " + msg}
}

var commandKeys = []string{"path", "argv", "env", "redirs"}

// Decode parses one line of the text channel into a Request. The whole
// request is rejected on any deviation from the schema. Descriptors of
// SourceReceive redirs are not resolved yet.
func Decode(line []byte) (Request, error) {
	if !gjson.ValidBytes(line) {
		return nil, &DecodeError{Msg: "json: invalid document"}
	}
	fields, err := objectFields("", gjson.ParseBytes(line))
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return Exit{}, nil
	}
	if v, ok := fields["exit"]; ok {
		if len(fields) != 1 {
			return nil, schemaError("", "exit must be the only key")
		}
		payload, err := objectFields("exit", v)
		if err != nil {
			return nil, err
		}
		if len(payload) != 0 {
			return nil, schemaError("exit", "must be empty")
		}
		return Exit{}, nil
	}
	cmd, err := decodeCommand(fields)
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeCommand(fields map[string]gjson.Result) (*Command, error) {
	for k := range fields {
		if !isCommandKey(k) {
			return nil, schemaError("", "unknown key %q", k)
		}
	}
	for _, k := range commandKeys {
		if _, ok := fields[k]; !ok {
			return nil, schemaError("", "missing key %q", k)
		}
	}

	var (
		c   Command
		err error
	)
	if c.Path, err = stringValue("path", fields["path"]); err != nil {
		return nil, err
	}
	if c.Argv, err = decodeArgv(fields["argv"]); err != nil {
		return nil, err
	}
	if c.Env, err = decodeEnv(fields["env"]); err != nil {
		return nil, err
	}
	if c.Redirs, err = decodeRedirs(fields["redirs"]); err != nil {
		return nil, err
	}
	return &c, nil
}

func isCommandKey(k string) bool {
	for _, c := range commandKeys {
		if k == c {
			return true
		}
	}
	return false
}

func decodeArgv(v gjson.Result) ([]string, error) {
	if !v.IsArray() {
		return nil, schemaError("argv", "not an array")
	}
	elems := v.Array()
	argv := make([]string, len(elems))
	for i, e := range elems {
		s, err := stringValue("argv["+strconv.Itoa(i)+"]", e)
		if err != nil {
			return nil, err
		}
		argv[i] = s
	}
	return argv, nil
}

func decodeEnv(v gjson.Result) (map[string]string, error) {
	fields, err := objectFields("env", v)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(fields))
	for k, val := range fields {
		p := "env." + strconv.Quote(k)
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return nil, schemaError(p, "invalid variable name")
		}
		s, err := stringValue(p, val)
		if err != nil {
			return nil, err
		}
		env[k] = s
	}
	return env, nil
}

func decodeRedirs(v gjson.Result) ([]Redir, error) {
	if !v.IsArray() {
		return nil, schemaError("redirs", "not an array")
	}
	elems := v.Array()
	redirs := make([]Redir, len(elems))
	for i, e := range elems {
		p := "redirs[" + strconv.Itoa(i) + "]"
		if !e.IsArray() {
			return nil, schemaError(p, "not an array")
		}
		pair := e.Array()
		if len(pair) != 2 {
			return nil, schemaError(p, "want 2 elements, got %d", len(pair))
		}
		target, err := intValue(p+"[0]", pair[0])
		if err != nil {
			return nil, err
		}
		if target < 0 {
			return nil, schemaError(p+"[0]", "negative target %d", target)
		}
		src, err := intValue(p+"[1]", pair[1])
		if err != nil {
			return nil, err
		}
		source, err := parseSource(src)
		if err != nil {
			return nil, schemaError(p+"[1]", "%v", err)
		}
		redirs[i] = Redir{Target: target, Source: source}
	}
	return redirs, nil
}

// objectFields returns the members of object v, rejecting duplicate keys
func objectFields(path string, v gjson.Result) (map[string]gjson.Result, error) {
	if !v.IsObject() {
		if path == "" {
			return nil, schemaError(path, "request is not an object")
		}
		return nil, schemaError(path, "not an object")
	}
	var err error
	fields := make(map[string]gjson.Result)
	v.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if _, ok := fields[k]; ok {
			err = schemaError(path, "duplicate key %q", k)
			return false
		}
		fields[k] = value
		return true
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func stringValue(path string, v gjson.Result) (string, error) {
	if v.Type != gjson.String {
		return "", schemaError(path, "not a string")
	}
	s := v.String()
	if strings.IndexByte(s, 0) >= 0 {
		return "", schemaError(path, "contains NUL byte")
	}
	return s, nil
}

// intValue accepts integer literals in the range of a descriptor number
func intValue(path string, v gjson.Result) (int, error) {
	if v.Type != gjson.Number {
		return 0, schemaError(path, "not a number")
	}
	n, err := strconv.ParseInt(v.Raw, 10, 32)
	if err != nil {
		return 0, schemaError(path, "not an integer: %s", v.Raw)
	}
	return int(n), nil
}

// EncodeRequest formats req as one line of the text channel, without the
// trailing newline
func EncodeRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case Exit:
		return []byte(`{"exit":{}}`), nil
	case *Command:
		return encodeCommand(r)
	default:
		return nil, fmt.Errorf("protocol: unknown request %T", req)
	}
}

func encodeCommand(c *Command) ([]byte, error) {
	argv := c.Argv
	if argv == nil {
		argv = []string{}
	}
	env := c.Env
	if env == nil {
		env = map[string]string{}
	}
	redirs := make([][2]int, len(c.Redirs))
	for i, r := range c.Redirs {
		redirs[i] = [2]int{r.Target, int(r.Source)}
	}

	e := newEncoder()
	e.set("path", c.Path)
	e.set("argv", argv)
	e.set("env", env)
	e.set("redirs", redirs)
	return e.bytes()
}
