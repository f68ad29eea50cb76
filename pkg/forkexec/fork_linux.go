package forkexec

import (
	"fmt"
	"syscall"
	_ "unsafe" // required for go:linkname.
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// Start will fork, rearrange file descriptors and execve
// Return pid of the child and potential error
// A nil error only means the child was created, whether it became the
// requested program is reported by its exit status
func (r *Runner) Start() (int, error) {
	argv0, argv, env, err := prepareExec(r.Path, r.Args, r.Env)
	if err != nil {
		return 0, fmt.Errorf("forkexec: %w", err)
	}

	redirs, err := prepareRedirs(r.Redirs)
	if err != nil {
		return 0, fmt.Errorf("forkexec: %w", err)
	}

	// fork in child
	pid, err1 := forkAndExecInChild(argv0, argv, env, redirs)

	// restore all signals
	afterFork()
	syscall.ForkLock.Unlock()

	// clone syscall failed
	if err1 != 0 {
		return 0, fmt.Errorf("forkexec: clone: %w", syscall.Errno(err1))
	}
	return int(pid), nil
}
