package forkexec

import (
	"fmt"
	"syscall"
)

// prepareExec prepares execve parameters
func prepareExec(path string, args, env []string) (*byte, []*byte, []*byte, error) {
	// make exec path
	argv0, err := syscall.BytePtrFromString(path)
	if err != nil {
		return nil, nil, nil, err
	}
	// make exec args
	argv, err := syscall.SlicePtrFromStrings(args)
	if err != nil {
		return nil, nil, nil, err
	}
	// make env
	envv, err := syscall.SlicePtrFromStrings(env)
	if err != nil {
		return nil, nil, nil, err
	}
	return argv0, argv, envv, nil
}

// redirTable is the flattened redir list used by the child, which must not
// allocate or call into the go runtime
type redirTable struct {
	op     []RedirOp
	target []int
	source []int
	nextfd int // first fd number above every referenced fd
}

// prepareRedirs validates redirs and flattens them into a redirTable
func prepareRedirs(redirs []Redir) (*redirTable, error) {
	t := &redirTable{
		op:     make([]RedirOp, len(redirs)),
		target: make([]int, len(redirs)),
		source: make([]int, len(redirs)),
		nextfd: 3,
	}
	for i, r := range redirs {
		if r.Target < 0 {
			return nil, fmt.Errorf("redir %d: invalid target fd %d", i, r.Target)
		}
		switch r.Op {
		case RedirKeep, RedirClose:
		case RedirDup:
			if r.Source < 0 {
				return nil, fmt.Errorf("redir %d: invalid source fd %d", i, r.Source)
			}
		default:
			return nil, fmt.Errorf("redir %d: unknown op %d", i, r.Op)
		}
		t.op[i] = r.Op
		t.target[i] = r.Target
		t.source[i] = r.Source
		if t.nextfd <= r.Target {
			t.nextfd = r.Target + 1
		}
		if r.Op == RedirDup && t.nextfd <= r.Source {
			t.nextfd = r.Source + 1
		}
	}
	return t, nil
}
