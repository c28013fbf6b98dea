package config

import "time"

// Defaults returns the built-in default configuration. Every preset and
// dotted-key override is applied on top of this record.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Path:    "./data/research.db",
			WALMode: true,
		},
		Research: ResearchConfig{
			MinInitialTasks:        4,
			TasksPerSection:        3,
			MaxTotalTasks:          40,
			MaxConcurrentTasks:     1,
			MaxLoops:               200,
			MaxRuntimeHours:        4,
			MaxRetries:             2,
			MaxConsecutiveFailures: 3,
			QueriesPerTask:         4,
			ResultsPerQuery:        3,
			GapFillQueries:         2,
			BlocklistDomains:       []string{"pinterest.com", "quora.com"},
			BlocklistExtensions:    []string{`\.zip$`, `\.tar\.gz$`, `\.exe$`, `\.dmg$`},
			SchedulerIdleWait:      2 * time.Second,
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			RequestTimeout:    60 * time.Second,
			MaxRetries:        3,
			PreferToolCalling: true,
		},
		Search: SearchConfig{
			Provider:       "tavily",
			CallsPerMinute: 60,
			RequestTimeout: 20 * time.Second,
			MinTavilyScore: 0.2,
			MaxRetries:     3,
		},
		Scraping: ScrapingConfig{
			RequestsPerMinute: 60,
			Timeout:           15 * time.Second,
			MaxConcurrent:     4,
			MaxRetries:        3,
		},
		Synthesis: SynthesisConfig{
			MinWordsPerSection:     600,
			MaxWordsPerSection:     1500,
			MinCitationsPerSection: 3,
			StyleProfile:           "balanced",
			ChainedContext:         false,
			SynthesisPoolSize:      4,
		},
		GapAnalysis: GapAnalysisConfig{
			Enabled:         true,
			MaxGapFillTasks: 10,
			MaxNewSections:  2,
		},
		Quality: QualityConfig{
			MinSourceQuality: 0.3,
		},
		Output: OutputConfig{
			Directory: "./output",
			EnablePDF: false,
		},
		QueryRefinement: QueryRefinementConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Preset is a named override bundle applied after Defaults() and before any
// explicit dotted-key overrides.
type Preset struct {
	Name        string
	Description string
	Overrides   map[string]string
}

// Presets returns the built-in preset bundles: quick, standard, deep,
// exhaustive.
func Presets() map[string]Preset {
	return map[string]Preset{
		"quick": {
			Name:        "quick",
			Description: "Fast, shallow research — a handful of sections and one research pass.",
			Overrides: map[string]string{
				"research.min_initial_tasks": "2",
				"research.tasks_per_section": "2",
				"research.max_total_tasks":   "10",
				"gap_analysis.enabled":       "false",
			},
		},
		"standard": {
			Name:        "standard",
			Description: "Default balance of depth and runtime.",
			Overrides:   map[string]string{},
		},
		"deep": {
			Name:        "deep",
			Description: "More sections, more tasks, gap analysis enabled.",
			Overrides: map[string]string{
				"research.min_initial_tasks": "8",
				"research.tasks_per_section": "4",
				"research.max_total_tasks":   "80",
				"gap_analysis.enabled":       "true",
				"gap_analysis.max_gap_fill_tasks": "20",
			},
		},
		"exhaustive": {
			Name:        "exhaustive",
			Description: "Maximum coverage; long-running, many sections, aggressive gap-fill.",
			Overrides: map[string]string{
				"research.min_initial_tasks": "12",
				"research.tasks_per_section": "5",
				"research.max_total_tasks":   "150",
				"research.max_runtime_hours": "12",
				"gap_analysis.enabled":       "true",
				"gap_analysis.max_gap_fill_tasks": "40",
				"gap_analysis.max_new_sections":   "4",
			},
		},
	}
}
