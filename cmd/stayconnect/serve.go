package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stayconnect/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	Long: `Run the job queue, the control API and the alert pipeline in the foreground.

The queue only ticks when queue.enabled (or QUEUE_ENABLED) is true; jobs can
still be triggered through the control API otherwise. SIGINT and SIGTERM stop
the daemon, letting running jobs finish within the grace period.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		grace, _ := cmd.Flags().GetDuration("grace")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
			defer stopCancel()
			_ = a.Stop(stopCtx, app.StopFatalError)
			return err
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
		defer stopCancel()
		if err := a.Stop(stopCtx, reason); err != nil {
			return err
		}
		return a.Err()
	},
}

func init() {
	serveCmd.Flags().Duration("grace", 20*time.Second, "shutdown grace period for running jobs")
}
