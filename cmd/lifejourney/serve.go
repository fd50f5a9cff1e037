package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lifejourney/internal/app"
)

var serveStopTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, sweep, reminders and ops endpoint",
	Long: `Starts the long-running service. The config file is watched and valid
changes are applied without a restart; storage and gateway credentials
still need one.

SIGINT and SIGTERM stop the service gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveStopTimeout, "stop-timeout", 15*time.Second, "Upper bound for graceful shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), serveStopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), serveStopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
