// Command das is the descriptor-aware spawn daemon.
//
//	das [flags] <text-fd> <descriptor-fd>
//	das [flags] [controller-path]
//
// With two descriptor numbers it serves a controller already connected to
// them. Otherwise it creates the tube, launches the controller (dasc in the
// working directory by default) with its ends at fds 3 and 4 and waits for it
// after the controller asked it to exit.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/criyle/go-das/daemon"
	"github.com/criyle/go-das/tube"
)

var version = "dev"

const defaultController = "dasc"

// usageError exits with status 2
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func usagef(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "das: %v\n", err)
		var ue *usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		logLevel    string
		logFormat   string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("das", pflag.ContinueOnError)
	flagSet.StringVar(&logLevel, "log-level", envOr("DAS_LOG_LEVEL", "info"), "log level: debug, info, warn or error (env DAS_LOG_LEVEL)")
	flagSet.StringVar(&logFormat, "log-format", envOr("DAS_LOG_FORMAT", "text"), "log format: text or json (env DAS_LOG_FORMAT)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  das [flags] <text-fd> <descriptor-fd>\n  das [flags] [controller-path]\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return &usageError{err: err}
	}

	if showVersion {
		fmt.Printf("das %s\n", version)
		return nil
	}

	logger, err := newLogger(os.Stderr, logLevel, logFormat)
	if err != nil {
		return &usageError{err: err}
	}

	rest := flagSet.Args()
	switch len(rest) {
	case 2:
		textFd, err := parseFd(rest[0])
		if err != nil {
			return err
		}
		descriptorFd, err := parseFd(rest[1])
		if err != nil {
			return err
		}
		return attach(logger, textFd, descriptorFd)

	case 0, 1:
		arg := ""
		if len(rest) == 1 {
			arg = rest[0]
		}
		path, err := controllerPath(arg)
		if err != nil {
			return err
		}
		return bootstrap(logger, path)

	default:
		return usagef("too many arguments: %d", len(rest))
	}
}

func parseFd(s string) (int, error) {
	fd, err := strconv.Atoi(s)
	if err != nil || fd < 0 {
		return 0, usagef("invalid descriptor number %q", s)
	}
	return fd, nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// attach serves a tube whose descriptors were inherited
func attach(logger *slog.Logger, textFd, descriptorFd int) error {
	t, err := tube.New(textFd, descriptorFd)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := daemon.New(t, daemon.WithLogger(logger)).Serve(); err != nil {
		logger.Error("daemon failed", "err", err)
		return err
	}
	return nil
}
