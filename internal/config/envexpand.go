package config

import "os"

// ExpandEnv expands environment variables in YAML content using Go's
// standard library, supporting both ${VAR} and $VAR syntax. Missing
// variables expand to the empty string; validation catches required fields
// left empty by an unset variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// ApplyEnvCredentials fills credential fields spec §6 names as process
// environment variables — OPENAI_API_KEY (preferred), or the OAUTH_URL +
// CLIENT_ID + CLIENT_SECRET client-credentials triple, TAVILY_API_KEY, and
// optional AZURE_BASE_URL — but only where the YAML config and any preset/
// override layer left the field empty, so an explicit config value always
// wins over ambient environment state.
func ApplyEnvCredentials(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.OAuthURL == "" {
		cfg.LLM.OAuthURL = os.Getenv("OAUTH_URL")
	}
	if cfg.LLM.ClientID == "" {
		cfg.LLM.ClientID = os.Getenv("CLIENT_ID")
	}
	if cfg.LLM.ClientSecret == "" {
		cfg.LLM.ClientSecret = os.Getenv("CLIENT_SECRET")
	}
	if cfg.LLM.AzureBaseURL == "" {
		cfg.LLM.AzureBaseURL = os.Getenv("AZURE_BASE_URL")
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("TAVILY_API_KEY")
	}
}
