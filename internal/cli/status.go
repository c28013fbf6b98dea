package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the current or most recent run's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *flags)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.svc.GetRunStatus(ctx, sessionID)
			if err != nil {
				return err
			}
			fmt.Printf("run_id: %s\n", status.RunID)
			fmt.Printf("status: %s\n", status.Status)
			fmt.Printf("phase: %s\n", status.Phase)
			fmt.Printf("running: %t\n", status.Running)
			fmt.Printf("progress: %d/%d (%.0f%%)\n", status.Progress.Completed, status.Progress.Total, status.Progress.Pct)
			fmt.Printf("sources: %d  words: %d  failed_tasks: %d\n", status.Counts.Sources, status.Counts.Words, status.Counts.FailedTasks)
			if status.CancelRequestedAt != nil {
				fmt.Printf("cancel_requested_at: %s\n", status.CancelRequestedAt.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: most recent)")
	return cmd
}
