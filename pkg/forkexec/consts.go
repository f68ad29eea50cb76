package forkexec

import (
	"golang.org/x/sys/unix"
)

// Exit status of the child when it cannot become the requested program,
// following the shell conventions
const (
	ExitCannotExecute = 126
	ExitNotFound      = 127
)

var (
	// wait between execve attempts that failed with ETXTBSY
	etxtbsyRetryInterval = unix.Timespec{
		Nsec: 1 * 1000 * 1000, // 1ms
	}
)
