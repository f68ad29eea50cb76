package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/criyle/go-das/daemon"
	"github.com/criyle/go-das/pkg/forkexec"
	"github.com/criyle/go-das/tube"
)

// descriptor numbers of the tube in the controller
const (
	controllerTextFd       = 3
	controllerDescriptorFd = 4
)

// controllerPath resolves arg (default dasc) against the working directory
func controllerPath(arg string) (string, error) {
	if arg == "" {
		arg = defaultController
	}
	if filepath.IsAbs(arg) {
		return arg, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("controller path: %w", err)
	}
	return filepath.Join(wd, arg), nil
}

// bootstrap creates the tube, launches the controller on one end and serves
// the other, then waits for the controller to terminate
func bootstrap(logger *slog.Logger, path string) error {
	var text, desc [2]int
	var err error
	if text, err = unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0); err != nil {
		return fmt.Errorf("bootstrap: socketpair: %w", err)
	}
	if desc, err = unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0); err != nil {
		unix.Close(text[0])
		unix.Close(text[1])
		return fmt.Errorf("bootstrap: socketpair: %w", err)
	}

	pid, err := launchController(path, text[0], desc[0])
	// the controller owns its ends now
	unix.Close(text[0])
	unix.Close(desc[0])
	if err != nil {
		unix.Close(text[1])
		unix.Close(desc[1])
		return err
	}
	logger.Info("controller launched", "pid", pid, "path", path)

	t, err := tube.New(text[1], desc[1])
	if err != nil {
		return err
	}
	serveErr := daemon.New(t, daemon.WithLogger(logger)).Serve()
	t.Close()
	if serveErr != nil {
		logger.Error("daemon failed", "err", serveErr)
		return serveErr
	}

	ws, err := waitTerminated(pid)
	if err != nil {
		return fmt.Errorf("bootstrap: wait controller: %w", err)
	}
	if ws.Exited() {
		logger.Info("controller exited", "pid", pid, "status", ws.ExitStatus())
	} else {
		logger.Info("controller signaled", "pid", pid, "signal", unix.SignalName(ws.Signal()))
	}
	return nil
}

func launchController(path string, textFd, descriptorFd int) (int, error) {
	r := forkexec.Runner{
		Path: path,
		Args: []string{path, "3", "4"},
		Env:  os.Environ(),
		Redirs: []forkexec.Redir{
			{Op: forkexec.RedirDup, Target: controllerTextFd, Source: textFd},
			{Op: forkexec.RedirDup, Target: controllerDescriptorFd, Source: descriptorFd},
		},
	}
	pid, err := r.Start()
	if err != nil {
		return 0, fmt.Errorf("bootstrap: launch controller: %w", err)
	}
	return pid, nil
}

// waitTerminated waits until pid exited or was signaled
func waitTerminated(pid int) (unix.WaitStatus, error) {
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ws, err
		}
		if ws.Exited() || ws.Signaled() {
			return ws, nil
		}
	}
}
