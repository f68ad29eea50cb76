package daemon

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/criyle/go-das/protocol"
)

// supervise reports every state change of pid until it has been reclaimed.
// A stopped process that is never continued blocks here.
func (d *Daemon) supervise(pid int, path string) error {
	if err := d.send(protocol.Spawned{Pid: pid}); err != nil {
		return err
	}
	logger := d.logger.With("pid", pid, "path", path)

	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(pid, &ws, unix.WUNTRACED|unix.WCONTINUED, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			logger.Debug("reclaimed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("wait4 %d: %w", pid, err)
		}

		state := protocol.ProcessStateFromWaitStatus(pid, ws)
		switch {
		case state.Exited:
			logger.Info("exited", "status", state.ExitStatus)
		case state.Signaled:
			logger.Info("signaled", "signal", unix.SignalName(unix.Signal(state.TermSig)), "core_dump", state.CoreDump)
		case state.Stopped:
			logger.Info("stopped", "signal", unix.SignalName(unix.Signal(state.StopSig)))
		case state.Continued:
			logger.Info("continued")
		}
		if err := d.send(state); err != nil {
			return err
		}
	}
}
