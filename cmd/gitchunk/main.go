package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bashhack/gitchunk/internal/config"
)

// Version information - injected at build time
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownGrace is how long a signalled run may take to reach a stopping point.
const shutdownGrace = 30 * time.Second

func main() {
	app := NewDefaultApp(config.VersionInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	})

	if err := app.LoadConfig(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintf(app.Stderr, "❌ Error: %v\n", err)
		_, _ = fmt.Fprintf(app.Stderr, "Run '%s --help' for usage.\n", os.Args[0])
		app.exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			_, _ = fmt.Fprintf(app.Stderr, "\nReceived signal %v, stopping after the current step...\n", sig)
			cancel()
		case <-done:
			return
		}

		// A push in flight is killed with the context; give the run time to
		// record it and release the lock before forcing the exit.
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			app.CleanupOnSignal()
			app.exit(1)
		}
	}()

	err := app.Run(ctx)
	close(done)
	app.exit(app.ReportError(err))
}
