// Package shutdown turns process signals into context cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
)

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM. A
// SIGPIPE dumps goroutine stacks before cancelling. The cancel func stops
// watching.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)
	go func() {
		defer signal.Stop(sigc)
		select {
		case s := <-sigc:
			if s == syscall.SIGPIPE {
				buf := make([]byte, 1<<20)
				n := runtime.Stack(buf, true)
				logger.Info("goroutine_stack_dump", "signal", s.String(), "dump", string(buf[:n]))
			}
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
