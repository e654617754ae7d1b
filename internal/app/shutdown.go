package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracker-stats/internal/observability"
)

// GracefulShutdown отменяет context по SIGINT/SIGTERM. timeout > 0 дополнительно
// ограничивает всю команду по времени.
func GracefulShutdown(parent context.Context, logger *observability.Logger, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		parentCancel := cancel
		cancel = func() {
			cancelTimeout()
			parentCancel()
		}
	}

	// Канал для сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel() // Отменяем context при получении сигнала
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
