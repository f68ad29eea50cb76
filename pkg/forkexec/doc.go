// Package forkexec provides interface to fork a child process, rearrange its
// file descriptors and execve a program image.
//
// Unlike syscall.ForkExec, failures after fork (redirection or execve) are
// not reported back to the parent: the child exits with ExitNotFound or
// ExitCannotExecute and the parent observes it through wait4 like any other
// exit. Start only fails when the child could not be created at all.
//
// dup3 requires kernel >= 2.6.27
package forkexec
