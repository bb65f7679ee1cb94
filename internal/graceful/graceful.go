package graceful

import (
	"context"
	"os/signal"
	"syscall"
)

// Context is cancelled on SIGINT or SIGTERM. Calling stop restores default
// signal handling.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
