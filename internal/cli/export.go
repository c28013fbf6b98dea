package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		format    string
		outputDir string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a completed run's report artifacts to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "all", "markdown", "html", "pdf":
			default:
				return fmt.Errorf("invalid --format %q: expected all|markdown|html|pdf", format)
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, *flags)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.svc.GetRunResult(ctx, sessionID)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			want := func(kind string) bool { return format == "all" || format == kind }
			copied := 0
			for kind, path := range map[string]string{
				"markdown": result.Artifacts.MarkdownPath,
				"html":     result.Artifacts.HTMLPath,
				"pdf":      result.Artifacts.PDFPath,
			} {
				if !want(kind) || path == "" {
					continue
				}
				if err := copyFile(path, filepath.Join(outputDir, filepath.Base(path))); err != nil {
					return fmt.Errorf("exporting %s: %w", kind, err)
				}
				copied++
			}
			if copied == 0 {
				return fmt.Errorf("no matching artifacts found for run %s (format=%s)", result.RunID, format)
			}
			fmt.Printf("exported %d artifact(s) to %s\n", copied, outputDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "all", "all|markdown|html|pdf")
	cmd.Flags().StringVar(&outputDir, "output", "./export", "destination directory")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: most recent)")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
