package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CreateGracefulShutdownChannel returns a channel notified on SIGINT and SIGTERM.
func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	return gracefulShutdown
}

// ListenForShutdown blocks until a signal arrives on sig or done is closed. On a signal
// it runs onShutdown and waits up to timeout for done before returning.
func ListenForShutdown(sig chan os.Signal, done chan bool, onShutdown func(), timeout time.Duration, l *zap.Logger) {
	select {
	case s := <-sig:
		l.Sugar().Infow("Received signal, shutting down", zap.String("signal", s.String()))
		onShutdown()
		select {
		case <-done:
		case <-time.After(timeout):
			l.Sugar().Warnw("Timed out waiting for shutdown", zap.Duration("timeout", timeout))
		}
	case <-done:
	}
}
