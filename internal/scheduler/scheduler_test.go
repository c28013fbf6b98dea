package scheduler_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/scheduler"
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

type countingExecutor struct {
	calls     int32
	failFirst int32
	onExecute func(task *models.Task) (scheduler.Result, error)
}

func (e *countingExecutor) Execute(_ context.Context, task *models.Task) (scheduler.Result, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.onExecute != nil {
		return e.onExecute(task)
	}
	return scheduler.Result{WordCount: 10, CitationCount: 1}, nil
}

func TestSchedulerRunsAllPendingTasksToCompletion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "test query")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		task := &models.Task{SessionID: sess.ID, Topic: fmt.Sprintf("topic-%d", i)}
		require.NoError(t, s.AddTask(ctx, task))
	}

	exec := &countingExecutor{}
	sched := scheduler.New(s, exec, config.ResearchConfig{MaxConcurrentTasks: 3, MaxRetries: 2, MaxConsecutiveFailures: 3}, nil)

	outcome, err := sched.Run(ctx, sess.ID, time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, scheduler.TerminationQuiescent, outcome.Reason)
	assert.Equal(t, 5, outcome.TasksCompleted)
	assert.Equal(t, 0, outcome.TasksFailed)

	pending, err := s.CountTasks(ctx, sess.ID, models.TaskPending)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestSchedulerStopsOnConsecutiveFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "test query")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		task := &models.Task{SessionID: sess.ID, Topic: fmt.Sprintf("topic-%d", i)}
		require.NoError(t, s.AddTask(ctx, task))
	}

	exec := &countingExecutor{onExecute: func(task *models.Task) (scheduler.Result, error) {
		return scheduler.Result{}, fmt.Errorf("boom")
	}}
	sched := scheduler.New(s, exec, config.ResearchConfig{MaxConcurrentTasks: 1, MaxRetries: 0, MaxConsecutiveFailures: 3}, nil)

	outcome, err := sched.Run(ctx, sess.ID, time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, scheduler.TerminationConsecutiveFailures, outcome.Reason)
	assert.GreaterOrEqual(t, outcome.TasksFailed, 3)
}

func TestSchedulerRespectsCancelFlag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "test query")
	require.NoError(t, err)
	require.NoError(t, s.AddTask(ctx, &models.Task{SessionID: sess.ID, Topic: "topic"}))

	cancel := &scheduler.CancelFlag{}
	cancel.Request()

	exec := &countingExecutor{}
	sched := scheduler.New(s, exec, config.ResearchConfig{MaxConcurrentTasks: 1}, nil)

	outcome, err := sched.Run(ctx, sess.ID, time.Now(), cancel)
	require.NoError(t, err)
	assert.Equal(t, scheduler.TerminationCancelled, outcome.Reason)
	assert.Equal(t, int32(0), atomic.LoadInt32(&exec.calls))
}

func TestSchedulerPersistsFollowUpTasksAndGlossaryTerms(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "test query")
	require.NoError(t, err)
	require.NoError(t, s.AddTask(ctx, &models.Task{SessionID: sess.ID, Topic: "root"}))

	ran := false
	exec := &countingExecutor{onExecute: func(task *models.Task) (scheduler.Result, error) {
		if ran {
			return scheduler.Result{WordCount: 5}, nil
		}
		ran = true
		return scheduler.Result{
			WordCount: 5,
			NewTasks:  []*models.Task{{Topic: "follow-up"}},
			GlossaryTerms: []*models.GlossaryTerm{
				{Term: "Quantum", Definition: "a thing"},
			},
		}, nil
	}}
	sched := scheduler.New(s, exec, config.ResearchConfig{MaxConcurrentTasks: 1, MaxTotalTasks: 10}, nil)

	_, err = sched.Run(ctx, sess.ID, time.Now(), nil)
	require.NoError(t, err)

	total, err := s.CountTasks(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	terms, err := s.ListGlossaryTerms(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "Quantum", terms[0].Term)
}
