// Command das-stub is a helper that children of das may exec. It prints
// "ok" once ready, then serves d (chdir) and t (process name) frames read
// from standard input and writes every signal it receives to standard
// output.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/criyle/go-das/stub"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "das-stub: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	sigs := make(chan os.Signal, 32)
	signal.Notify(sigs)

	if _, err := os.Stdout.WriteString("ok\n"); err != nil {
		return err
	}

	go func() {
		if err := stub.Relay(os.Stdout, sigs); err != nil {
			fmt.Fprintf(os.Stderr, "das-stub: %v\n", err)
			os.Exit(1)
		}
	}()

	// frames are served on the main thread so that t renames the process
	return stub.Serve(os.Stdin, stub.DefaultHandlers(), logger)
}
