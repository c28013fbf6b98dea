// Package scheduler drives the bounded-parallelism worker pool described in
// spec §4.3: it claims pending tasks from the state store, hands each to a
// Research Stage executor, and folds back new tasks and glossary terms the
// executor discovers, until the session's task backlog is quiescent or a
// termination condition trips.
//
// The pool shape and its claim/retry/termination loop are adapted from
// tarsy's pkg/queue/pool.go and worker.go: the store's atomic ClaimNext
// (see internal/store) stands in for tarsy's ent FOR UPDATE SKIP LOCKED
// transaction, and the single-writer SQLite connection pool serializes
// claims the way Postgres row locking does there.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/store"
)

// idleWait is how long the scheduler blocks between claim attempts when no
// work is available, short enough that a cancellation flag set mid-wait is
// observed promptly (spec §5's "~2s idle wait").
const idleWait = 2 * time.Second

// Result is what a Research Stage execution reports back to the scheduler
// for a single task.
type Result struct {
	WordCount     int
	CitationCount int
	NewTasks      []*models.Task
	GlossaryTerms []*models.GlossaryTerm
}

// Executor runs the Research Stage sub-pipeline for one claimed task.
type Executor interface {
	Execute(ctx context.Context, task *models.Task) (Result, error)
}

// CancelFlag is the shared soft-cancellation signal described in spec §5:
// the Service Facade sets it, and the scheduler (and any worker mid-task)
// checks it at natural boundaries rather than being forcibly killed.
type CancelFlag struct {
	mu          sync.Mutex
	requested   bool
	requestedAt time.Time
}

// Request marks the flag set, recording the first request time only.
func (f *CancelFlag) Request() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.requested {
		f.requested = true
		f.requestedAt = time.Now().UTC()
	}
}

// Requested reports whether cancellation has been requested.
func (f *CancelFlag) Requested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requested
}

// RequestedAt returns the time cancellation was first requested, the zero
// value if never requested.
func (f *CancelFlag) RequestedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requestedAt
}

// TerminationReason explains why Run stopped.
type TerminationReason string

const (
	TerminationQuiescent         TerminationReason = "quiescent"
	TerminationMaxLoops          TerminationReason = "max_loops"
	TerminationMaxRuntime        TerminationReason = "max_runtime"
	TerminationCancelled         TerminationReason = "cancelled"
	TerminationConsecutiveFailures TerminationReason = "consecutive_failures"
)

// Outcome summarizes one Run call.
type Outcome struct {
	Reason          TerminationReason
	Loops           int
	TasksCompleted  int
	TasksFailed     int
}

// Scheduler executes a session's task backlog with bounded parallelism.
type Scheduler struct {
	store    *store.Store
	executor Executor
	cfg      config.ResearchConfig
	log      *slog.Logger
}

// New builds a Scheduler.
func New(s *store.Store, executor Executor, cfg config.ResearchConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: s, executor: executor, cfg: cfg, log: logger}
}

// Run drives the session's backlog until quiescent (no pending or
// in-flight tasks and the retry sweep resets nothing) or a termination
// condition fires. sessionStart anchors the max_runtime_hours check.
func (s *Scheduler) Run(ctx context.Context, sessionID string, sessionStart time.Time, cancel *CancelFlag) (Outcome, error) {
	maxInFlight := s.cfg.MaxConcurrentTasks
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	maxConsecutiveFailures := s.cfg.MaxConsecutiveFailures
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 3
	}

	var (
		wg              sync.WaitGroup
		mu              sync.Mutex
		inFlight        int
		consecutiveFail int
		completed       int
		failed          int
		loops           int
		doneCh          = make(chan struct{}, maxInFlight)
	)

	finish := func(reason TerminationReason) (Outcome, error) {
		wg.Wait()
		return Outcome{Reason: reason, Loops: loops, TasksCompleted: completed, TasksFailed: failed}, nil
	}

	for {
		loops++

		if s.cfg.MaxLoops > 0 && loops > s.cfg.MaxLoops {
			return finish(TerminationMaxLoops)
		}
		if s.cfg.MaxRuntimeHours > 0 {
			if time.Since(sessionStart) > time.Duration(s.cfg.MaxRuntimeHours*float64(time.Hour)) {
				return finish(TerminationMaxRuntime)
			}
		}
		if cancel != nil && cancel.Requested() {
			return finish(TerminationCancelled)
		}
		mu.Lock()
		tooManyFailures := consecutiveFail >= maxConsecutiveFailures
		mu.Unlock()
		if tooManyFailures {
			return finish(TerminationConsecutiveFailures)
		}

		mu.Lock()
		freeSlots := maxInFlight - inFlight
		mu.Unlock()

		claimed := 0
		if freeSlots > 0 {
			tasks, err := s.store.ClaimNext(ctx, sessionID, freeSlots)
			if err != nil {
				return Outcome{Reason: TerminationQuiescent, Loops: loops, TasksCompleted: completed, TasksFailed: failed},
					fmt.Errorf("claiming tasks: %w", err)
			}
			claimed = len(tasks)
			for _, task := range tasks {
				mu.Lock()
				inFlight++
				mu.Unlock()
				wg.Add(1)
				go func(t *models.Task) {
					defer wg.Done()
					defer func() {
						mu.Lock()
						inFlight--
						mu.Unlock()
						select {
						case doneCh <- struct{}{}:
						default:
						}
					}()
					s.runOne(ctx, sessionID, t, &mu, &consecutiveFail, &completed, &failed)
				}(task)
			}
		}

		mu.Lock()
		nowInFlight := inFlight
		mu.Unlock()

		if claimed == 0 && nowInFlight == 0 {
			reset, err := s.store.RetryFailed(ctx, sessionID, s.cfg.MaxRetries)
			if err != nil {
				return Outcome{Reason: TerminationQuiescent, Loops: loops, TasksCompleted: completed, TasksFailed: failed},
					fmt.Errorf("retry sweep: %w", err)
			}
			if reset == 0 {
				return finish(TerminationQuiescent)
			}
			continue
		}

		if nowInFlight > 0 {
			select {
			case <-doneCh:
			case <-time.After(idleWait):
			case <-ctx.Done():
				return finish(TerminationCancelled)
			}
		} else {
			select {
			case <-time.After(idleWait):
			case <-ctx.Done():
				return finish(TerminationCancelled)
			}
		}
	}
}

// runOne executes one task and folds the result (or failure) back into the
// store, updating shared counters under mu.
func (s *Scheduler) runOne(ctx context.Context, sessionID string, task *models.Task, mu *sync.Mutex, consecutiveFail, completed, failed *int) {
	log := s.log.With("task_id", task.ID, "topic", task.Topic)

	result, err := s.executor.Execute(ctx, task)
	if err != nil {
		if markErr := s.store.MarkTaskFailed(ctx, task.ID, err.Error()); markErr != nil {
			log.Error("failed to record task failure", "error", markErr)
		}
		mu.Lock()
		*consecutiveFail++
		*failed++
		mu.Unlock()
		log.Warn("task failed", "error", err)
		return
	}

	if len(result.NewTasks) > 0 {
		if _, addErr := s.store.AddTasks(ctx, sessionID, result.NewTasks, s.cfg.MaxTotalTasks); addErr != nil {
			log.Error("failed to persist follow-up tasks", "error", addErr)
		}
	}
	for _, term := range result.GlossaryTerms {
		term.SessionID = sessionID
		if addErr := s.store.AddGlossaryTerm(ctx, term); addErr != nil {
			log.Error("failed to persist glossary term", "term", term.Term, "error", addErr)
		}
	}

	if err := s.store.MarkTaskCompleted(ctx, task.ID, result.WordCount, result.CitationCount); err != nil {
		log.Error("failed to mark task completed", "error", err)
	}

	mu.Lock()
	*consecutiveFail = 0
	*completed++
	mu.Unlock()
}

// ErrNoWork is a sentinel some callers may want to distinguish from a real
// claim error; the scheduler itself never returns it since an empty claim
// is handled by the retry-sweep/quiescent path, not an error.
var ErrNoWork = errors.New("scheduler: no work available")
