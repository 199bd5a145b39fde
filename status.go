package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// statusReport is the machine-readable shape for --json output.
type statusReport struct {
	Pending       int            `json:"pending"`
	PendingByKind map[string]int `json:"pending_by_kind,omitempty"`
	OldestPending string         `json:"oldest_pending,omitempty"`
}

// newStatusCmd reports the state of the sync queue. A pending job much
// older than the retry cadence usually means the remote keeps rejecting it.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending sync queue state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			svc, err := buildService(logger)
			if err != nil {
				return err
			}
			defer svc.Store.Close()

			ctx := cmd.Context()
			queue := svc.Store.Queue()

			pending, err := queue.CountPending(ctx)
			if err != nil {
				return err
			}

			byKind, err := queue.CountPendingByKind(ctx)
			if err != nil {
				return err
			}

			oldest, err := queue.OldestPendingAge(ctx)
			if err != nil {
				return err
			}

			report := statusReport{Pending: pending}

			if len(byKind) > 0 {
				report.PendingByKind = make(map[string]int, len(byKind))
				for kind, n := range byKind {
					report.PendingByKind[kind.String()] = n
				}
			}

			if oldest > 0 {
				report.OldestPending = oldest.Round(time.Second).String()
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			fmt.Printf("pending jobs: %d\n", report.Pending)

			for kind, n := range report.PendingByKind {
				fmt.Printf("  %-12s %d\n", kind, n)
			}

			if report.OldestPending != "" {
				fmt.Printf("oldest pending: %s\n", report.OldestPending)
			}

			return nil
		},
	}
}
