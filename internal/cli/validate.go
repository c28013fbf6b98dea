package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/prompts"
)

func newValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check configuration, prompt sets, and required credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: flags.configPath})
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			fmt.Println("config: ok")

			if _, err := prompts.Load(flags.promptsPath); err != nil {
				return fmt.Errorf("prompts: %w", err)
			}
			fmt.Println("prompts: ok")

			if cfg.LLM.APIKey == "" && (cfg.LLM.OAuthURL == "" || cfg.LLM.ClientID == "" || cfg.LLM.ClientSecret == "") {
				return fmt.Errorf("llm auth: need OPENAI_API_KEY, or OAUTH_URL+CLIENT_ID+CLIENT_SECRET")
			}
			fmt.Println("llm auth: ok")

			if cfg.Search.APIKey == "" {
				return fmt.Errorf("search auth: need TAVILY_API_KEY (or equivalent)")
			}
			fmt.Println("search auth: ok")

			return nil
		},
	}
}
