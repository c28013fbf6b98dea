package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

func newResetCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear stuck \"running\" sessions left behind by a crashed process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *flags)
			if err != nil {
				return err
			}
			defer a.Close()

			stuck, err := a.store.ListRunningSessions(ctx)
			if err != nil {
				return err
			}
			if len(stuck) == 0 {
				fmt.Println("no running sessions to reset")
				return nil
			}
			if !force {
				fmt.Printf("%d running session(s) would be reset; re-run with --force to apply:\n", len(stuck))
				for _, sess := range stuck {
					fmt.Printf("  %s  %q\n", sess.ID, sess.Query)
				}
				return nil
			}

			for _, sess := range stuck {
				if _, err := a.store.ReleaseInProgress(ctx, sess.ID); err != nil {
					return fmt.Errorf("releasing in-progress tasks for %s: %w", sess.ID, err)
				}
				if err := a.store.MarkCancelRequested(ctx, sess.ID, time.Now().UTC()); err != nil {
					return fmt.Errorf("marking cancel requested for %s: %w", sess.ID, err)
				}
				if err := a.store.FinalizeSession(ctx, sess.ID, models.SessionCancelled, "", "", "", "", ""); err != nil {
					return fmt.Errorf("finalizing %s: %w", sess.ID, err)
				}
				fmt.Printf("reset %s\n", sess.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "actually apply the reset instead of a dry run")
	return cmd
}
