package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/config"
)

// TestApplyOverridesCoercesByDeclaredType exercises spec §6's dotted-key
// override contract: each value is coerced according to the addressed
// field's own type (int, float, bool, string slice), not the defaults'
// type of the override string itself.
func TestApplyOverridesCoercesByDeclaredType(t *testing.T) {
	cfg := config.Defaults()

	err := config.ApplyOverrides(&cfg, map[string]string{
		"research.max_total_tasks":   "50",
		"quality.min_source_quality": "0.75",
		"gap_analysis.enabled":       "true",
		"research.blocklist_domains": "spam.com, junk.net",
	})
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Research.MaxTotalTasks)
	assert.Equal(t, 0.75, cfg.Quality.MinSourceQuality)
	assert.True(t, cfg.GapAnalysis.Enabled)
	assert.Equal(t, []string{"spam.com", "junk.net"}, cfg.Research.BlocklistDomains)
}

// TestApplyOverridesRejectsUnknownPath guards the "invalid override paths
// are errors" half of the contract.
func TestApplyOverridesRejectsUnknownPath(t *testing.T) {
	cfg := config.Defaults()
	err := config.ApplyOverrides(&cfg, map[string]string{"research.not_a_real_field": "1"})
	assert.Error(t, err)
}

// TestApplyOverridesRejectsTypeMismatch guards coercion failures (a
// non-numeric string against an int field) surfacing as errors rather than
// silently leaving the default in place.
func TestApplyOverridesRejectsTypeMismatch(t *testing.T) {
	cfg := config.Defaults()
	err := config.ApplyOverrides(&cfg, map[string]string{"research.max_total_tasks": "not-a-number"})
	assert.Error(t, err)
}

// TestApplyPresetLayersBeforeExplicitOverrides guards the layering order
// spec §6 and DESIGN.md describe: defaults < preset < explicit overrides,
// so an explicit override always wins over whatever the preset set.
func TestApplyPresetLayersBeforeExplicitOverrides(t *testing.T) {
	cfg := config.Defaults()
	presets := config.Presets()
	_, ok := presets["quick"]
	require.True(t, ok, "quick preset must exist")

	err := config.ApplyPreset(&cfg, "quick", map[string]string{"research.max_total_tasks": "99"})
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Research.MaxTotalTasks)
}

func TestApplyPresetRejectsUnknownName(t *testing.T) {
	cfg := config.Defaults()
	err := config.ApplyPreset(&cfg, "nonexistent", nil)
	assert.Error(t, err)
}
