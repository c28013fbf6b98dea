package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/deepcite/internal/service"
)

func newResearchCmd(flags *globalFlags) *cobra.Command {
	var (
		resume    bool
		mode      string
		overrides []string
	)

	cmd := &cobra.Command{
		Use:   "research [query]",
		Short: "Run the research pipeline for a query, or resume an interrupted run",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if query == "" && !resume {
				return fmt.Errorf("a query is required unless --resume is set")
			}

			overrideMap, err := parseOverrides(overrides)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, *flags)
			if err != nil {
				return err
			}
			defer a.Close()

			start, err := a.svc.StartRun(ctx, service.StartOptions{
				Query: query, Mode: mode, Overrides: overrideMap, Resume: resume,
			})
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %s\n", start.RunID, start.Status)

			return watchUntilDone(ctx, a, start.RunID)
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "resume the most recent interrupted session")
	cmd.Flags().StringVar(&mode, "mode", "", "preset bundle: quick|standard|deep|exhaustive")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "dotted-key config override, e.g. research.max_total_tasks=50")
	return cmd
}

// watchUntilDone polls run status until the session is no longer running,
// printing progress, and requests cancellation on SIGINT/SIGTERM —
// Ctrl-C exits 0 with progress already saved, per spec §6.
func watchUntilDone(ctx context.Context, a *app, runID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, _ = a.svc.CancelRun(cancelCtx, runID)
			cancel()
			// Keep polling (without the now-cancelled ctx) until the
			// background run actually finishes and finalizes.
			for {
				status, err := a.svc.GetRunStatus(context.Background(), runID)
				if err != nil || !status.Running {
					fmt.Println("cancelled; partial report saved")
					return nil
				}
				time.Sleep(2 * time.Second)
			}
		case <-ticker.C:
			status, err := a.svc.GetRunStatus(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Printf("[%s] phase=%s %d/%d tasks (%.0f%%)\n",
				status.Status, status.Phase, status.Progress.Completed, status.Progress.Total, status.Progress.Pct)
			if !status.Running {
				result, err := a.svc.GetRunResult(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Printf("done: %s\nmarkdown: %s\nhtml: %s\n", result.Status, result.Artifacts.MarkdownPath, result.Artifacts.HTMLPath)
				if result.Status == "failed" {
					return fmt.Errorf("research run failed")
				}
				return nil
			}
		}
	}
}

func parseOverrides(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
