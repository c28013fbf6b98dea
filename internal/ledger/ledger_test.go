package ledger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// TestSourcesForTaskPopulatesSourceID guards the Source Ledger's extraction
// cache: RecordExtraction keys on (task_id, source_id), so every source
// SourcesForTask hands back must carry its real row id, not the zero value.
func TestSourcesForTaskPopulatesSourceID(t *testing.T) {
	s := openTestStore(t)
	led := ledger.New(s)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "ledger test")
	require.NoError(t, err)
	task := &models.Task{Topic: "topic", FilePath: "t.md"}
	_, err = s.AddTasks(ctx, sess.ID, []*models.Task{task}, 10)
	require.NoError(t, err)

	src := &models.Source{URL: "https://example.com/a", Title: "A", Domain: "example.com"}
	saved, err := led.AddSource(ctx, src, task.ID, 0)
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	sources, edges, err := led.SourcesForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Len(t, edges, 1)
	assert.Equal(t, saved.ID, sources[0].ID)
	assert.Equal(t, saved.ID, edges[0].SourceID)

	require.NoError(t, led.RecordExtraction(ctx, task.ID, sources[0].ID, "distilled notes"))

	_, edgesAfter, err := led.SourcesForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, edgesAfter, 1)
	assert.Equal(t, "distilled notes", edgesAfter[0].ExtractedContent)
}

// TestSourcesForSectionDedupesAcrossTasks mirrors spec §4.2's
// section/session-level dedup rule: the same source cited by two different
// tasks in a section appears exactly once, in first-encounter order.
func TestSourcesForSectionDedupesAcrossTasks(t *testing.T) {
	s := openTestStore(t)
	led := ledger.New(s)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "dedup test")
	require.NoError(t, err)
	sections := []*models.Section{{Title: "Only Section", Position: 0}}
	require.NoError(t, s.AddSections(ctx, sess.ID, sections))
	sec := sections[0]

	taskA := &models.Task{SectionID: &sec.ID, Topic: "task a", FilePath: "a.md"}
	taskB := &models.Task{SectionID: &sec.ID, Topic: "task b", FilePath: "b.md"}
	_, err = s.AddTasks(ctx, sess.ID, []*models.Task{taskA, taskB}, 10)
	require.NoError(t, err)

	shared := &models.Source{URL: "https://example.com/shared", Title: "Shared", Domain: "example.com"}
	only := &models.Source{URL: "https://example.com/only-b", Title: "Only B", Domain: "example.com"}

	_, err = led.AddSource(ctx, shared, taskA.ID, 0)
	require.NoError(t, err)
	_, err = led.AddSource(ctx, shared, taskB.ID, 0)
	require.NoError(t, err)
	_, err = led.AddSource(ctx, only, taskB.ID, 1)
	require.NoError(t, err)

	sources, err := led.SourcesForSection(ctx, sec.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "Shared", sources[0].Title)
	assert.Equal(t, "Only B", sources[1].Title)
}

// TestAddGapFillSourceOffsetsPosition guards the GapFillOffset contract
// (spec §4.2): a gap-fill source's stored position sorts after every
// initial-pass position within the same task.
func TestAddGapFillSourceOffsetsPosition(t *testing.T) {
	s := openTestStore(t)
	led := ledger.New(s)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "gap fill test")
	require.NoError(t, err)
	task := &models.Task{Topic: "topic", FilePath: "t.md"}
	_, err = s.AddTasks(ctx, sess.ID, []*models.Task{task}, 10)
	require.NoError(t, err)

	initial := &models.Source{URL: "https://example.com/initial", Title: "Initial", Domain: "example.com"}
	_, err = led.AddSource(ctx, initial, task.ID, 0)
	require.NoError(t, err)

	gapFill := &models.Source{URL: "https://example.com/gapfill", Title: "Gap Fill", Domain: "example.com"}
	_, err = led.AddGapFillSource(ctx, gapFill, task.ID, 0)
	require.NoError(t, err)

	sources, _, err := led.SourcesForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "Initial", sources[0].Title)
	assert.Equal(t, "Gap Fill", sources[1].Title)
}
