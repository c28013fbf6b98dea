package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/llmclient"
)

func newModelSmokeCmd(flags *globalFlags) *cobra.Command {
	var (
		models           string
		skipToolCalling  bool
	)

	cmd := &cobra.Command{
		Use:   "model-smoke",
		Short: "Issue a minimal completion against one or more models to confirm reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(config.LoadOptions{Path: flags.configPath})
			if err != nil {
				return err
			}

			list := []string{cfg.LLM.Model}
			if models != "" {
				list = strings.Split(models, ",")
			}

			var failed []string
			for _, model := range list {
				model = strings.TrimSpace(model)
				if model == "" {
					continue
				}
				runCfg := cfg.LLM
				runCfg.Model = model
				runCfg.PreferToolCalling = runCfg.PreferToolCalling && !skipToolCalling
				if err := llmclient.Smoke(ctx, runCfg, nil); err != nil {
					fmt.Printf("%s: FAIL (%v)\n", model, err)
					failed = append(failed, model)
					continue
				}
				fmt.Printf("%s: ok\n", model)
			}
			if len(failed) > 0 {
				return fmt.Errorf("model-smoke failed for: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&models, "models", "", "comma-separated model names (default: configured model)")
	cmd.Flags().BoolVar(&skipToolCalling, "skip-tool-calling", false, "don't exercise native tool calling")
	return cmd
}
