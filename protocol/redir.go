package protocol

import (
	"fmt"
	"strconv"
)

// Source is where the target descriptor of a Redir comes from. Its value is
// the wire encoding: a non-negative number is a literal descriptor.
type Source int

// Reserved sources
const (
	SourceClose   Source = -1
	SourceReceive Source = -2
)

// Literal returns the source naming descriptor fd already open in the child
func Literal(fd int) Source {
	if fd < 0 {
		panic("protocol: negative literal descriptor " + strconv.Itoa(fd))
	}
	return Source(fd)
}

// IsLiteral reports whether s is a literal descriptor number
func (s Source) IsLiteral() bool {
	return s >= 0
}

func (s Source) String() string {
	switch {
	case s == SourceClose:
		return "close"
	case s == SourceReceive:
		return "receive"
	case s >= 0:
		return "fd " + strconv.Itoa(int(s))
	default:
		return "invalid(" + strconv.Itoa(int(s)) + ")"
	}
}

func parseSource(v int) (Source, error) {
	s := Source(v)
	if s == SourceClose || s == SourceReceive || s >= 0 {
		return s, nil
	}
	return 0, fmt.Errorf("unknown source %d", v)
}

// Redir rearranges one descriptor of the child before exec
type Redir struct {
	Target int
	Source Source

	// descriptor received for a SourceReceive source, owned by the Command
	fd       int
	received bool
}

// Received returns the descriptor resolved for a SourceReceive redir
func (r Redir) Received() (int, bool) {
	return r.fd, r.received
}
