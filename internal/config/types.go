// Package config defines the typed, nested configuration record for the
// orchestration core, its YAML loading, environment-variable expansion,
// preset bundles, and dotted-key override application.
package config

import "time"

// Config is the umbrella configuration object loaded from YAML and env.
type Config struct {
	Database        DatabaseConfig        `yaml:"database"`
	Research        ResearchConfig        `yaml:"research"`
	LLM             LLMConfig             `yaml:"llm"`
	Search          SearchConfig          `yaml:"search"`
	Scraping        ScrapingConfig        `yaml:"scraping"`
	Synthesis       SynthesisConfig       `yaml:"synthesis"`
	GapAnalysis     GapAnalysisConfig     `yaml:"gap_analysis"`
	Quality         QualityConfig         `yaml:"quality"`
	Output          OutputConfig          `yaml:"output"`
	QueryRefinement QueryRefinementConfig `yaml:"query_refinement"`
	Logging         LoggingConfig         `yaml:"logging"`
}

// DatabaseConfig configures the state store.
type DatabaseConfig struct {
	Path    string `yaml:"path"`
	WALMode bool   `yaml:"wal_mode"`
}

// ResearchConfig configures the scheduler and phase runner.
type ResearchConfig struct {
	MinInitialTasks       int           `yaml:"min_initial_tasks"`
	TasksPerSection       int           `yaml:"tasks_per_section"`
	MaxTotalTasks         int           `yaml:"max_total_tasks"`
	MaxConcurrentTasks    int           `yaml:"max_concurrent_tasks"`
	MaxLoops              int           `yaml:"max_loops"`
	MaxRuntimeHours        float64       `yaml:"max_runtime_hours"`
	MaxRetries            int           `yaml:"max_retries"`
	MaxConsecutiveFailures int          `yaml:"max_consecutive_failures"`
	QueriesPerTask        int           `yaml:"queries_per_task"`
	ResultsPerQuery       int           `yaml:"results_per_query"`
	GapFillQueries        int           `yaml:"gap_fill_queries"`
	BlocklistDomains      []string      `yaml:"blocklist_domains"`
	BlocklistExtensions   []string      `yaml:"blocklist_extensions"`
	SchedulerIdleWait     time.Duration `yaml:"scheduler_idle_wait"`
}

// LLMConfig configures the remote chat/function-calling collaborator.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // "openai" | "oauth"
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	OAuthURL          string        `yaml:"oauth_url"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	AzureBaseURL      string        `yaml:"azure_base_url"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	PreferToolCalling bool          `yaml:"prefer_tool_calling"`
}

// SearchConfig configures the web search collaborator.
type SearchConfig struct {
	Provider         string        `yaml:"provider"` // "tavily"
	APIKey           string        `yaml:"api_key"`
	BaseURL          string        `yaml:"base_url"`
	CallsPerMinute   int           `yaml:"calls_per_minute"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MinTavilyScore   float64       `yaml:"min_tavily_score"`
	MaxRetries       int           `yaml:"max_retries"`
}

// ScrapingConfig configures page extraction.
type ScrapingConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	MaxRetries        int           `yaml:"max_retries"`
}

// SynthesisConfig configures section/summary/conclusion generation.
type SynthesisConfig struct {
	MinWordsPerSection     int  `yaml:"min_words_per_section"`
	MaxWordsPerSection     int  `yaml:"max_words_per_section"`
	MinCitationsPerSection int  `yaml:"min_citations_per_section"`
	StyleProfile           string `yaml:"style_profile"` // confident | balanced | cautious
	ChainedContext         bool `yaml:"chained_context"`
	SynthesisPoolSize      int  `yaml:"synthesis_pool_size"`
}

// GapAnalysisConfig configures phase 5.
type GapAnalysisConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxGapFillTasks  int  `yaml:"max_gap_fill_tasks"`
	MaxNewSections   int  `yaml:"max_new_sections"`
}

// QualityConfig configures source acceptance thresholds.
type QualityConfig struct {
	MinSourceQuality float64 `yaml:"min_source_quality"`
}

// OutputConfig configures artifact paths.
type OutputConfig struct {
	Directory  string `yaml:"directory"`
	EnablePDF  bool   `yaml:"enable_pdf"`
}

// QueryRefinementConfig configures the pre-phase-1 clarification step.
type QueryRefinementConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	JSON  bool   `yaml:"json"`
}
