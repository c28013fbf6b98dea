// Package cli is the cobra command tree implementing spec §6's CLI
// surface: research, status, reset, export, validate, model-smoke, serve.
// Commands that run, watch, or export a research session are thin wrappers
// around internal/service.Service and never touch the Scheduler or Phase
// Runner directly; reset works on the Store itself, and validate and
// model-smoke only load configuration.
//
// Grounded on alanmeadows-otto's internal/cli (a root cobra.Command with
// PersistentFlags for global config, one file per subcommand) and
// greg-hellings-devdashboard's root-command construction; tarsy itself has
// no CLI subcommand tree (cmd/tarsy/main.go is a single flag.Parse
// server entrypoint), so this shape is adopted from the sibling examples,
// per Process step 4's "enrich from the rest of the pack" allowance.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/events"
	"github.com/codeready-toolchain/deepcite/internal/ledger"
	"github.com/codeready-toolchain/deepcite/internal/llmclient"
	"github.com/codeready-toolchain/deepcite/internal/logging"
	"github.com/codeready-toolchain/deepcite/internal/prompts"
	"github.com/codeready-toolchain/deepcite/internal/ratelimit"
	"github.com/codeready-toolchain/deepcite/internal/searchclient"
	"github.com/codeready-toolchain/deepcite/internal/service"
	"github.com/codeready-toolchain/deepcite/internal/store"
	"github.com/codeready-toolchain/deepcite/internal/synthesis"
)

// globalFlags holds the persistent flags every subcommand reads from.
type globalFlags struct {
	configPath  string
	promptsPath string
}

// app bundles a built Service plus the Store it owns, so commands that run
// to completion can close the store cleanly on exit.
type app struct {
	cfg   config.Config
	store *store.Store
	svc   *service.Service
}

// buildApp loads configuration and wires every collaborator into a
// service.Service — the CLI commands and the serve command's HTTP server
// share this one bootstrap routine rather than duplicating wiring.
func buildApp(ctx context.Context, flags globalFlags) (*app, error) {
	// Best-effort .env load so OPENAI_API_KEY/TAVILY_API_KEY/etc. (spec §6)
	// can live in a local file; a missing .env is not an error, since the
	// credentials may already be set in the process environment.
	_ = godotenv.Load()

	cfg, err := config.Load(config.LoadOptions{Path: flags.configPath})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logging.Setup(cfg.Logging)
	log := slog.Default()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	promptStore, err := prompts.Load(flags.promptsPath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	limiters := ratelimit.New(cfg)
	led := ledger.New(st)
	recorder := events.NewRecorder(st)
	llmClient := llmclient.New(cfg.LLM, log)
	searchClient := searchclient.New(cfg.Search, limiters)
	scraper := searchclient.NewScraper(cfg.Scraping, limiters)
	synth := synthesis.New(synthesis.Dependencies{
		LLM: llmClient, Store: st, Ledger: led, Prompts: promptStore, Config: cfg.Synthesis, Log: log,
	})

	svc := service.New(service.Dependencies{
		Store: st, Ledger: led, Events: recorder, Prompts: promptStore,
		LLM: llmClient, Search: searchClient, Scraper: scraper, Synth: synth,
		Config: cfg, Log: log,
	})

	return &app{cfg: cfg, store: st, svc: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// Execute builds the root cobra command and runs it against os.Args.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "deepcite",
		Short: "Automated long-running research agent",
		Long: "deepcite drives an LLM and a web search/extraction API through a " +
			"7-phase pipeline, producing a book-length, numbered-citation report from a free-text query.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flags.promptsPath, "prompts", "", "path to prompt-set override YAML")

	root.AddCommand(
		newResearchCmd(&flags),
		newStatusCmd(&flags),
		newResetCmd(&flags),
		newExportCmd(&flags),
		newValidateCmd(&flags),
		newModelSmokeCmd(&flags),
		newServeCmd(&flags),
	)
	return root
}
