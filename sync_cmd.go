package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSyncCmd runs one synchronous drain pass and reports the outcome.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the pending sync queue once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			svc, err := buildService(logger)
			if err != nil {
				return err
			}
			defer svc.Store.Close()

			stats, err := svc.Worker.DrainOnce(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("done %d, failed %d, rejected %d, skipped %d\n",
				stats.Done, stats.Failed, stats.Rejected, stats.Skipped)

			if stats.Rejected > 0 {
				fmt.Println("rejected jobs stay pending; run 'enveloppe-go status' for details")
			}

			return nil
		},
	}
}
