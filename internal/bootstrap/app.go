package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"market_maker/internal/core"
)

// App represents the application context and holds core dependencies.
type App struct {
	Cfg    *Config
	Logger core.ILogger

	// Closers are resources (sqlite-backed stores, telemetry exporters,
	// ...) the caller registers after construction for Shutdown to
	// release. Stores that don't need releasing (the in-memory ones)
	// are simply never added.
	Closers []io.Closer
}

// NewApp loads the configuration and builds the logger; the caller
// wires the remaining broker/engine/store dependencies itself since
// their shape depends on config fields App has no business knowing
// about.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := InitLogger(cfg)

	return &App{
		Cfg:    cfg,
		Logger: logger,
	}, nil
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// Run orchestrates the application lifecycle, including signal handling.
func (a *App) Run(runners ...Runner) error {
	// Create a context that is canceled when a termination signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application")

	// Start all runners in the error group
	for _, runner := range runners {
		r := runner // capture loop variable
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	// Wait for all runners to finish or for a signal to be received
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			// The error was not caused by a signal (context cancellation)
			a.Logger.Error("application stopped with error", "error", err)
			return err
		}
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}

// Shutdown closes every registered Closer, giving up after timeout.
func (a *App) Shutdown(timeout time.Duration) {
	a.Logger.Info("cleaning up resources", "timeout", timeout, "closers", len(a.Closers))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, c := range a.Closers {
			if err := c.Close(); err != nil {
				a.Logger.Error("cleanup: close failed", "error", err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		a.Logger.Warn("cleanup timed out", "timeout", timeout)
	}
}
