package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newWipeCmd deletes all local data. The wipe runs in a signal-cancellable
// context, so Ctrl-C aborts between tables.
func newWipeCmd() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete all local data (requires --yes)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errors.New("refusing to wipe without --yes")
			}

			logger := buildLogger()

			svc, err := buildService(logger)
			if err != nil {
				return err
			}
			defer svc.Store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := svc.Store.Wipe(ctx); err != nil {
				return err
			}

			fmt.Println("local data wiped")

			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm deletion of all local data")

	return cmd
}
