package daemon

import (
	"fmt"

	"github.com/criyle/go-das/pkg/forkexec"
	"github.com/criyle/go-das/protocol"
)

// spawn forks cmd and releases the parent's copy of its received descriptors
func (d *Daemon) spawn(cmd *protocol.Command) (int, error) {
	redirs, err := runnerRedirs(cmd.Redirs)
	if err != nil {
		return 0, fmt.Errorf("spawn %s: %w", cmd.Path, err)
	}
	r := forkexec.Runner{
		Path:   cmd.Path,
		Args:   cmd.Argv,
		Env:    cmd.Environ(),
		Redirs: redirs,
	}
	pid, err := r.Start()
	cmd.Release()
	if err != nil {
		return 0, fmt.Errorf("spawn %s: %w", cmd.Path, err)
	}
	d.logger.Info("spawned", "pid", pid, "path", cmd.Path, "argv", cmd.Argv)
	return pid, nil
}

func runnerRedirs(rs []protocol.Redir) ([]forkexec.Redir, error) {
	redirs := make([]forkexec.Redir, 0, len(rs))
	for i, r := range rs {
		switch {
		case r.Source == protocol.SourceClose:
			redirs = append(redirs, forkexec.Redir{Op: forkexec.RedirClose, Target: r.Target})

		case r.Source == protocol.SourceReceive:
			fd, ok := r.Received()
			if !ok {
				return nil, fmt.Errorf("redirs[%d]: descriptor not received", i)
			}
			redirs = append(redirs, forkexec.Redir{Op: forkexec.RedirDup, Target: r.Target, Source: fd})

		case r.Source.IsLiteral():
			redirs = append(redirs, forkexec.Redir{Op: forkexec.RedirKeep, Target: r.Target})

		default:
			return nil, fmt.Errorf("redirs[%d]: invalid source %v", i, r.Source)
		}
	}
	return redirs, nil
}
