package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/config"
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

// TestClaimNextIsLinearizable exercises the exact race the scheduler
// depends on: many goroutines hammering ClaimNext over a fixed pool of
// pending tasks must never see the same row claimed twice, and together
// must claim every row exactly once.
func TestClaimNextIsLinearizable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "claim race")
	require.NoError(t, err)

	const taskCount = 50
	for i := 0; i < taskCount; i++ {
		require.NoError(t, s.AddTask(ctx, &models.Task{SessionID: sess.ID, Topic: fmt.Sprintf("topic-%d", i)}))
	}

	seen := make(map[int64]int)
	var mu sync.Mutex
	var claimedTotal int32

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.ClaimNext(ctx, sess.ID, 1)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, task := range claimed {
					seen[task.ID]++
				}
				mu.Unlock()
				atomic.AddInt32(&claimedTotal, int32(len(claimed)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(taskCount), claimedTotal)
	assert.Len(t, seen, taskCount)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "task %d claimed %d times", id, count)
	}

	pending, err := s.CountTasks(ctx, sess.ID, models.TaskPending)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

// TestEventsAfterRoundTripsThroughCursor walks a session's full event log
// one short page at a time and checks the concatenation matches a single
// unpaged read, with no row skipped or repeated across the cursor boundary.
func TestEventsAfterRoundTripsThroughCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "events query")
	require.NoError(t, err)

	const eventCount = 23
	for i := 0; i < eventCount; i++ {
		require.NoError(t, s.AddEvent(ctx, &models.RunEvent{
			SessionID: sess.ID,
			EventType: models.EventQuery,
			QueryText: fmt.Sprintf("query %d", i),
		}))
	}

	var paged []*models.RunEvent
	cursor := ""
	for {
		page, next, err := s.EventsAfter(ctx, sess.ID, cursor, 7)
		require.NoError(t, err)
		paged = append(paged, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	all, next, err := s.EventsAfter(ctx, sess.ID, "", 1000)
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, all, eventCount)
	require.Len(t, paged, eventCount)

	for i := range all {
		assert.Equal(t, all[i].ID, paged[i].ID)
		assert.Equal(t, all[i].QueryText, paged[i].QueryText)
	}

	// An empty/garbage cursor token is "from the start", not an error.
	fromStart, _, err := s.EventsAfter(ctx, sess.ID, "not-a-real-cursor", 3)
	require.NoError(t, err)
	require.Len(t, fromStart, 3)
	assert.Equal(t, all[0].ID, fromStart[0].ID)
}

// TestAddSourceUpsertsByURL checks the "insert or update the edge only"
// contract: revisiting the same URL from a second task never duplicates
// the source row, and only touches the task_sources edge.
func TestAddSourceUpsertsByURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "source query")
	require.NoError(t, err)
	require.NoError(t, s.AddTask(ctx, &models.Task{SessionID: sess.ID, Topic: "task-a"}))
	require.NoError(t, s.AddTask(ctx, &models.Task{SessionID: sess.ID, Topic: "task-b"}))
	taskA, err := s.ListTasksForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, taskA, 2)

	first, err := s.AddSource(ctx, &models.Source{URL: "https://example.com/a", Title: "first visit"}, taskA[0].ID, 1)
	require.NoError(t, err)

	second, err := s.AddSource(ctx, &models.Source{URL: "https://example.com/a", Title: "second visit, ignored"}, taskA[1].ID, 2)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first visit", second.Title, "an existing source row is never overwritten by a later visit")

	bySources, _, err := s.SourcesForTask(ctx, taskA[0].ID)
	require.NoError(t, err)
	require.Len(t, bySources, 1)

	fetched, err := s.GetSourceByURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, fetched.ID)

	// Revisiting from task A again at a new position updates only the edge.
	third, err := s.AddSource(ctx, &models.Source{URL: "https://example.com/a"}, taskA[0].ID, 5)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
}

// TestCountDistinctSourcesDedupesAcrossTasks guards the total_sources
// counter the phase runner writes: a source cited by two tasks in the same
// session counts once, not twice.
func TestCountDistinctSourcesDedupesAcrossTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "source count query")
	require.NoError(t, err)
	require.NoError(t, s.AddTask(ctx, &models.Task{SessionID: sess.ID, Topic: "task-a"}))
	require.NoError(t, s.AddTask(ctx, &models.Task{SessionID: sess.ID, Topic: "task-b"}))
	tasks, err := s.ListTasksForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	_, err = s.AddSource(ctx, &models.Source{URL: "https://example.com/shared"}, tasks[0].ID, 0)
	require.NoError(t, err)
	_, err = s.AddSource(ctx, &models.Source{URL: "https://example.com/shared"}, tasks[1].ID, 0)
	require.NoError(t, err)
	_, err = s.AddSource(ctx, &models.Source{URL: "https://example.com/unique"}, tasks[1].ID, 1)
	require.NoError(t, err)

	n, err := s.CountDistinctSources(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
