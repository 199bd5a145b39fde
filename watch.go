package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/enveloppeapp/enveloppe-go/internal/config"
)

// newWatchCmd runs the engine as a long-lived process: connectivity-driven
// and periodic drains, plus config hot reload, until SIGINT/SIGTERM.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the sync engine until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			svc, err := buildService(logger)
			if err != nil {
				return err
			}
			defer svc.Store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc.Start(ctx)

			go func() {
				if err := config.Watch(ctx, holder, logger); err != nil &&
					!errors.Is(err, context.Canceled) {
					logger.Warn("config watcher exited",
						slog.String("error", err.Error()),
					)
				}
			}()

			<-ctx.Done()
			svc.Stop()

			return nil
		},
	}
}
