package prompts_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/prompts"
)

func TestLoadValidatesEmbeddedBundle(t *testing.T) {
	store, err := prompts.Load("")
	require.NoError(t, err)

	set, err := store.Get("research_topic", "generate_queries")
	require.NoError(t, err)
	assert.NotEmpty(t, set.System)
	assert.Contains(t, set.User, "json")
	assert.Contains(t, set.User, "text")
	require.NotNil(t, set.Tool)
	assert.Equal(t, "propose_queries", set.Tool.Name)
}

func TestGetReturnsErrorForUnknownSet(t *testing.T) {
	store, err := prompts.Load("")
	require.NoError(t, err)

	_, err = store.Get("nonexistent", "call")
	assert.Error(t, err)
}

func TestUserVariantReturnsSoleVariantWhenUnnamed(t *testing.T) {
	store, err := prompts.Load("")
	require.NoError(t, err)

	set, err := store.Get("synthesis", "section")
	require.NoError(t, err)
	text, err := set.UserVariant("")
	require.NoError(t, err)
	assert.Contains(t, text, "Section:")
}

func TestLoadOverlaysUserFileOntoBuiltin(t *testing.T) {
	dir := t.TempDir()
	overridePath := filepath.Join(dir, "override.yaml")
	override := `
prompts:
  synthesis:
    section:
      system: "overridden system prompt"
      user:
        text: "overridden user template"
`
	require.NoError(t, os.WriteFile(overridePath, []byte(override), 0o644))

	store, err := prompts.Load(overridePath)
	require.NoError(t, err)

	set, err := store.Get("synthesis", "section")
	require.NoError(t, err)
	assert.Equal(t, "overridden system prompt", set.System)

	// Unrelated sets from the builtin bundle still load.
	_, err = store.Get("research_topic", "generate_queries")
	require.NoError(t, err)
}

func TestLoadRejectsOverrideMissingSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	overridePath := filepath.Join(dir, "bad.yaml")
	bad := `
prompts:
  synthesis:
    section:
      user:
        text: "no system prompt here"
`
	require.NoError(t, os.WriteFile(overridePath, []byte(bad), 0o644))

	_, err := prompts.Load(overridePath)
	assert.Error(t, err)
}

func TestRenderSubstitutesFields(t *testing.T) {
	out, err := prompts.Render("Topic: {{.Topic}}, N={{.N}}", map[string]any{"Topic": "foo", "N": 3})
	require.NoError(t, err)
	assert.Equal(t, "Topic: foo, N=3", out)
}
