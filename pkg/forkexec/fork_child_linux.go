package forkexec

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Reference to src/syscall/exec_linux.go
//
//go:norace
func forkAndExecInChild(argv0 *byte, argv, env []*byte, t *redirTable) (r1 uintptr, err1 syscall.Errno) {
	var (
		op     = t.op
		target = t.target
		source = t.source
		nextfd = t.nextfd
	)

	// Acquire the fork lock so that no other threads
	// create new fds that are not yet close-on-exec
	// before we fork.
	syscall.ForkLock.Lock()

	// About to call fork.
	// No more allocation or calls of non-assembly functions.
	beforeFork()

	r1, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if err1 != 0 || r1 != 0 {
		// in parent process, immediate return
		return
	}

	// In child process
	afterForkInChild()
	// Notice: cannot call any GO functions beyond this point

	// Pass 1: move every dup source above all referenced fd numbers so that
	// writing a target never clobbers a source used by a later redir.
	// The copies are close_on_exec and vanish at execve
	for i := 0; i < len(op); i++ {
		if op[i] != RedirDup {
			continue
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, uintptr(source[i]), uintptr(nextfd), unix.O_CLOEXEC)
		if err1 != 0 {
			childExit(ExitCannotExecute)
		}
		source[i] = nextfd
		nextfd++
	}

	// Pass 2: apply redirs in order
	for i := 0; i < len(op); i++ {
		switch op[i] {
		case RedirClose:
			// closing an fd that is not open is not an error
			syscall.RawSyscall(unix.SYS_CLOSE, uintptr(target[i]), 0, 0)
		case RedirDup:
			// dup3 clears close_on_exec on the target
			_, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, uintptr(source[i]), uintptr(target[i]), 0)
			if err1 != 0 {
				childExit(ExitCannotExecute)
			}
		}
	}

	_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(argv0)),
		uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&env[0])))
	// Fix potential ETXTBSY but with caution (max 50 attempt)
	// The ETXTBSY happens when the executable was just written and another
	// goroutine forked while still holding its fd
	for range [50]struct{}{} {
		if err1 != syscall.ETXTBSY {
			break
		}
		// wait instead of busy wait
		syscall.RawSyscall(unix.SYS_NANOSLEEP, uintptr(unsafe.Pointer(&etxtbsyRetryInterval)), 0, 0)
		_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(argv0)),
			uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&env[0])))
	}
	if err1 == syscall.ENOENT || err1 == syscall.ENOTDIR {
		childExit(ExitNotFound)
	}
	childExit(ExitCannotExecute)
	return
}

//go:nosplit
func childExit(code uintptr) {
	for {
		syscall.RawSyscall(unix.SYS_EXIT_GROUP, code, 0, 0)
	}
}
