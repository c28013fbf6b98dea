package compiler_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/compiler"
	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/ledger"
	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(context.Background(), config.DatabaseConfig{Path: dbPath, WALMode: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestCompileRemapsCitationsGlobally reproduces spec §8 scenario 6: section
// A cites local [1] (source X), section B cites local [1] (source X) and
// local [2] (source Y). The compiled report must renumber every marker to
// its global first-appearance order and list each distinct source exactly
// once in the final Sources section.
func TestCompileRemapsCitationsGlobally(t *testing.T) {
	s := openTestStore(t)
	led := ledger.New(s)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "citation remap test")
	require.NoError(t, err)

	sections := []*models.Section{
		{Title: "Section A", Description: "first", Position: 0, Status: models.SectionComplete},
		{Title: "Section B", Description: "second", Position: 1, Status: models.SectionComplete},
	}
	require.NoError(t, s.AddSections(ctx, sess.ID, sections))
	secA, secB := sections[0], sections[1]

	taskA := &models.Task{SectionID: &secA.ID, Topic: "task a", FilePath: "a.md"}
	taskB := &models.Task{SectionID: &secB.ID, Topic: "task b", FilePath: "b.md"}
	_, err = s.AddTasks(ctx, sess.ID, []*models.Task{taskA, taskB}, 10)
	require.NoError(t, err)

	tasksForA, err := s.ListTasksForSection(ctx, secA.ID)
	require.NoError(t, err)
	tasksForB, err := s.ListTasksForSection(ctx, secB.ID)
	require.NoError(t, err)
	require.Len(t, tasksForA, 1)
	require.Len(t, tasksForB, 1)

	sourceX := &models.Source{URL: "https://example.com/x", Title: "Source X", Domain: "example.com"}
	sourceY := &models.Source{URL: "https://example.com/y", Title: "Source Y", Domain: "example.com"}

	_, err = led.AddSource(ctx, sourceX, tasksForA[0].ID, 0)
	require.NoError(t, err)
	_, err = led.AddSource(ctx, sourceX, tasksForB[0].ID, 0)
	require.NoError(t, err)
	_, err = led.AddSource(ctx, sourceY, tasksForB[0].ID, 1)
	require.NoError(t, err)

	secA.Content = "Intro text citing [1] here."
	secB.Content = "More text citing [1] and then [2] for a second claim."

	outDir := t.TempDir()
	result, err := compiler.Compile(ctx, sess, []*models.Section{secA, secB}, nil, led, config.OutputConfig{Directory: outDir})
	require.NoError(t, err)

	md, err := os.ReadFile(result.MarkdownPath)
	require.NoError(t, err)
	content := string(md)

	assert.Contains(t, content, "Intro text citing [1] here.")
	assert.Contains(t, content, "More text citing [1] and then [2] for a second claim.")
	assert.Equal(t, 2, result.SourceCount)

	sourcesIdx := indexOf(content, "## Sources")
	require.GreaterOrEqual(t, sourcesIdx, 0)
	sourcesSection := content[sourcesIdx:]
	assert.Contains(t, sourcesSection, "1. [Source X]")
	assert.Contains(t, sourcesSection, "2. [Source Y]")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
